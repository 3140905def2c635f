//go:build linux

package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// NewPacketPipe opens a Linux packet-mode pipe (O_DIRECT): each write is
// delivered to the reader as a discrete packet, never coalesced with an
// adjacent write and never split across two reads, even if the reader's
// buffer is large enough to hold several packets. This is exactly the
// property PacketReader.Next/PacketWriter.Write assume, and is how the
// original mtrack preload layer opens its emitter pipe
// (::pipe2(data->emitPipe, O_DIRECT) in preload/Preload.cpp).
func NewPacketPipe() (r, w *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_DIRECT); err != nil {
		return nil, nil, fmt.Errorf("transport: pipe2(O_DIRECT): %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "mtrack-packet-pipe-r"),
		os.NewFile(uintptr(fds[1]), "mtrack-packet-pipe-w"),
		nil
}
