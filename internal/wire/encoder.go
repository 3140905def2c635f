package wire

import "encoding/binary"

// Encoder accumulates one record's bytes before a single packet write.
// Fields are appended in a single pass and Size reports the running
// length; the zero Encoder's Reset lets callers reuse a buffer across
// records instead of allocating one per call, which matters on the hot
// hook path.
type Encoder struct {
	buf []byte
}

// Reset clears the encoder for a new record, keeping the backing array.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Bytes returns the bytes accumulated so far. Valid until the next Reset.
func (e *Encoder) Bytes() []byte { return e.buf }

// Kind writes a record's leading kind byte.
func (e *Encoder) Kind(k RecordType) { e.U8(uint8(k)) }

// U8 appends a single byte.
func (e *Encoder) U8(v uint8) { e.buf = append(e.buf, v) }

// I32 appends a little-endian int32.
func (e *Encoder) I32(v int32) { e.U32(uint32(v)) }

// U32 appends a little-endian uint32.
func (e *Encoder) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// U64 appends a little-endian uint64.
func (e *Encoder) U64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// String appends a u32 length prefix followed by s's bytes. The empty
// string is encoded as a zero length with no following bytes.
func (e *Encoder) String(s string) {
	e.U32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// Blob appends a u32 length prefix followed by b's raw bytes.
func (e *Encoder) Blob(b []byte) {
	e.U32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// Stack appends a blob of the stack's instruction pointers, one u64 each.
func (e *Encoder) Stack(ips []uint64) {
	e.U32(uint32(len(ips)) * 8)
	for _, ip := range ips {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], ip)
		e.buf = append(e.buf, b[:]...)
	}
}

// Size returns the number of bytes accumulated so far.
func (e *Encoder) Size() int { return len(e.buf) }
