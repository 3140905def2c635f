package main

import (
	"encoding/binary"
	"os"
	"os/exec"
	"strconv"

	"github.com/jhanssen/mtrack-sub000/internal/transport"
	"github.com/jhanssen/mtrack-sub000/internal/wire"
)

// startParserChild forks and execs the mtrack-parser binary with the
// read end of a fresh packet pipe wired to its stdin, mirroring
// Preload.cpp's fork()+execve() of the parser with emitPipe[0] dup2'd
// onto the child's stdin. Go can't fork a multi-threaded process
// safely, so this uses os/exec's own fork+exec instead of a raw
// syscall.ForkExec, handing the pipe's read end to the child as its
// Stdin and keeping the write end for the returned PacketWriter.
func startParserChild() (*transport.PacketWriter, error) {
	parserPath := os.Getenv("MTRACK_PARSER")
	if parserPath == "" {
		parserPath = "mtrack-parser"
	}

	r, w, err := transport.NewPacketPipe()
	if err != nil {
		return nil, err
	}

	args := []string{"--packet-mode"}
	if v := os.Getenv("MTRACK_LOG_FILE"); v != "" {
		args = append(args, "--log-file", v)
	}
	if v := os.Getenv("MTRACK_OUTPUT"); v != "" {
		args = append(args, "--output", v)
	}
	if _, ok := os.LookupEnv("MTRACK_DUMP"); ok {
		args = append(args, "--dump")
	}
	if _, ok := os.LookupEnv("MTRACK_NO_BUNDLE"); ok {
		args = append(args, "--no-bundle")
	}
	if v := os.Getenv("MTRACK_THRESHOLD"); v != "" {
		args = append(args, "--threshold", v)
	}
	args = append(args, "--pid", strconv.Itoa(os.Getpid()))

	cmd := exec.Command(parserPath, args...)
	cmd.Stdin = r
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	r.Close() // the child holds its own copy after Start dup'd it onto stdin

	return transport.NewPacketWriter(w), nil
}

// emitVersion writes the stream's leading FileVersion as a raw packet,
// with no record kind byte, mirroring Hooks.cpp writing
// "mt %x\n"-style version bytes directly through the recorder before any
// RecordType-tagged record follows. It must be the very first thing
// written to pw.
func (s *state) emitVersion() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.pw == nil {
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], wire.FileVersion)
	if err := s.pw.Write(buf[:]); err != nil {
		log.WithError(err).Error("hook: failed to emit file version")
	}
}

// emitStartupRecords writes the Start/Executable/WorkingDirectory
// records the parser needs before it can make sense of anything else,
// mirroring the sequence at the bottom of Preload.cpp's constructor.
func (s *state) emitStartupRecords() {
	s.emit(wire.RecordStart, func(enc *wire.Encoder) {
		enc.U8(s.appID)
		enc.U8(uint8(wire.AppELF))
		enc.U32(0) // reserved
	})

	if exe, err := os.Readlink("/proc/self/exe"); err == nil {
		s.emit(wire.RecordExecutable, func(enc *wire.Encoder) {
			enc.U8(s.appID)
			enc.String(exe)
		})
	}
	if cwd, err := os.Getwd(); err == nil {
		s.emit(wire.RecordWorkingDirectory, func(enc *wire.Encoder) {
			enc.U8(s.appID)
			enc.String(cwd)
		})
	}
}
