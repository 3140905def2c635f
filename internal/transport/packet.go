// Package transport implements the "packet mode" discipline described in
// spec.md §4.D: each wire record is written as exactly one contiguous,
// bounded write, so on a pipe it arrives as a single atomic packet the
// reader can consume with a single matching read. This is what lets the
// parser distinguish record boundaries without a length prefix on the
// transport layer itself (the records are already self-describing once
// decoded, but the *framing* comes from one-write-per-record).
package transport

import (
	"fmt"
	"io"

	"github.com/jhanssen/mtrack-sub000/internal/wire"
)

// PacketWriter emits one underlying Write per record. A record larger
// than wire.MaxPacketSize is a programmer error: spec.md §4.D says this
// aborts the process, so Write panics rather than silently splitting
// the record across two pipe writes (which would break the reader's
// one-read-per-packet assumption).
type PacketWriter struct {
	w io.Writer
}

// NewPacketWriter wraps w (typically the write end of a pipe to the
// parser's child process).
func NewPacketWriter(w io.Writer) *PacketWriter {
	return &PacketWriter{w: w}
}

// Write emits record as a single packet.
func (p *PacketWriter) Write(record []byte) error {
	if len(record) > wire.MaxPacketSize {
		panic(fmt.Sprintf("transport: record of %d bytes exceeds max packet size %d", len(record), wire.MaxPacketSize))
	}
	n, err := p.w.Write(record)
	if err != nil {
		return fmt.Errorf("transport: packet write: %w", err)
	}
	if n != len(record) {
		// A pipe write under PIPE_BUF is guaranteed atomic on Linux; a
		// short write here means something is badly wrong downstream.
		return fmt.Errorf("transport: short packet write: wrote %d of %d bytes", n, len(record))
	}
	return nil
}

// PacketReader reads one underlying Read per record. Short reads are
// treated as framing errors: the reader never tries to stitch together
// a record split across two reads, since packet mode guarantees each
// read returns exactly what one writer-side Write produced.
type PacketReader struct {
	r   io.Reader
	buf [wire.MaxPacketSize]byte
}

// NewPacketReader wraps r (typically the read end of the parser's stdin
// pipe, or a plain file when not running in packet mode).
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: r}
}

// ErrShortPacket is returned when a single underlying Read yields zero
// bytes at EOF mid-stream is handled by the caller via io.EOF instead;
// ErrShortPacket specifically flags a non-EOF, non-error zero-length
// read, which packet mode never expects to see.
var ErrShortPacket = fmt.Errorf("transport: short packet read")

// Next reads the next packet. It returns io.EOF when the underlying
// reader is exhausted between packets.
func (p *PacketReader) Next() ([]byte, error) {
	n, err := p.r.Read(p.buf[:])
	if n == 0 {
		if err == nil {
			return nil, ErrShortPacket
		}
		return nil, err
	}
	// A non-EOF error alongside data is still usable; surface the bytes
	// and let the next Next() call observe the error on a zero-byte read.
	return append([]byte(nil), p.buf[:n]...), nil
}
