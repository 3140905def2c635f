package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortRead is the panic value used by Decoder's field readers when the
// buffer is exhausted mid-record. Decode loops recover this into a data
// error rather than letting it propagate as a crash (spec.md §7).
var ErrShortRead = errors.New("wire: short read")

// Decoder is a cursor over a single record's payload, built directly on
// the teacher's bufDecoder idiom (perffile/bufdecoder.go): every read
// advances buf and panics on underflow instead of returning an error per
// call, which keeps the handleXxx call sites in internal/parser as terse
// as the original C++ readData<T>() chains.
type Decoder struct {
	buf []byte
}

// NewDecoder wraps buf for sequential field reads.
func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Remaining reports how many bytes are left unconsumed.
func (d *Decoder) Remaining() int { return len(d.buf) }

func (d *Decoder) need(n int) {
	if len(d.buf) < n {
		panic(ErrShortRead)
	}
}

// U8 reads a single byte.
func (d *Decoder) U8() uint8 {
	d.need(1)
	v := d.buf[0]
	d.buf = d.buf[1:]
	return v
}

// Kind reads a record kind byte.
func (d *Decoder) Kind() RecordType { return RecordType(d.U8()) }

// I32 reads a little-endian int32.
func (d *Decoder) I32() int32 { return int32(d.U32()) }

// U32 reads a little-endian uint32.
func (d *Decoder) U32() uint32 {
	d.need(4)
	v := binary.LittleEndian.Uint32(d.buf)
	d.buf = d.buf[4:]
	return v
}

// U64 reads a little-endian uint64.
func (d *Decoder) U64() uint64 {
	d.need(8)
	v := binary.LittleEndian.Uint64(d.buf)
	d.buf = d.buf[8:]
	return v
}

// String reads a u32 length prefix followed by that many raw bytes.
func (d *Decoder) String() string {
	n := d.U32()
	d.need(int(n))
	s := string(d.buf[:n])
	d.buf = d.buf[n:]
	return s
}

// Blob reads a u32 length prefix followed by that many raw bytes.
func (d *Decoder) Blob() []byte {
	n := d.U32()
	d.need(int(n))
	b := append([]byte(nil), d.buf[:n]...)
	d.buf = d.buf[n:]
	return b
}

// Stack reads a blob of u64 instruction pointers and subtracts one from
// each so resolution maps to the call site rather than the return site
// (spec.md §4.E). The subtraction is unconditional: the hook layer sends
// raw PCs, so this reader is the single place it happens.
func (d *Decoder) Stack() []uint64 {
	n := d.U32() / 8
	d.need(int(n) * 8)
	ips := make([]uint64, n)
	for i := range ips {
		ips[i] = binary.LittleEndian.Uint64(d.buf[i*8:]) - 1
	}
	d.buf = d.buf[n*8:]
	return ips
}
