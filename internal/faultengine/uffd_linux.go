// Package faultengine implements the userfaultfd(2)-backed page-fault
// subscription engine of spec.md §4.F: it registers a memory range for
// missing-page notification, zero-fills faults as they arrive, and
// reports fault/remap/remove events to a callback. It is a direct port
// of preload/Preload.cpp's hookThread polling loop, translated from a
// blocking poll(2)-plus-quit-pipe loop to the same shape over Go's
// x/sys/unix primitives (golang.org/x/sys/unix does not wrap
// userfaultfd itself, so the ioctl numbers and message layout are
// defined here exactly as hand-declared in the dsmmcken-dh-cli uffd
// wrapper that served as the other grounding example for this file).
package faultengine

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	uffdAPI = 0xAA

	uffdFeatureThreadID = 1 << 8

	uffdEventPagefault = 0x12
	uffdEventFork      = 0x13
	uffdEventRemap     = 0x14
	uffdEventRemove    = 0x15
	uffdEventUnmap     = 0x16

	uffdioRegisterModeMissing = 1 << 0

	pageSize = 4096
)

// ioctl request numbers, computed the same way linux/userfaultfd.h's
// _IOWR macros do: dir|size<<16|type<<8|nr, with UFFDIO's magic 0xAA.
var (
	ioctlUFFDIOAPI      = ioWR(0xAA, 0x3F, unsafe.Sizeof(uffdioAPI{}))
	ioctlUFFDIORegister = ioWR(0xAA, 0x00, unsafe.Sizeof(uffdioRegister{}))
	ioctlUFFDIOZeropage = ioWR(0xAA, 0x04, unsafe.Sizeof(uffdioZeropage{}))
)

func ioWR(magic, nr byte, size uintptr) uintptr {
	const iocRW = 3 << 30
	return iocRW | (size << 16) | (uintptr(magic) << 8) | uintptr(nr)
}

type uffdioAPI struct {
	api      uint64
	features uint64
	ioctls   uint64
}

type uffdioRange struct {
	start uint64
	len   uint64
}

type uffdioRegister struct {
	rng    uffdioRange
	mode   uint64
	ioctls uint64
}

type uffdioZeropage struct {
	rng      uffdioRange
	mode     uint64
	zeropage int64
}

// uffdMsg mirrors struct uffd_msg; only the pagefault/remap/remove arms
// of its union are decoded, matching what hookThread actually consumes.
type uffdMsg struct {
	raw [32]byte
}

func (m *uffdMsg) event() uint8 { return m.raw[0] }

// The pagefault arm is {flags u64, address u64, ptid u32} starting at
// offset 8, so the address sits after the flags word.
func (m *uffdMsg) pagefaultAddress() uint64 {
	return binary.LittleEndian.Uint64(m.raw[16:24])
}

func (m *uffdMsg) pagefaultThreadID() uint32 {
	return binary.LittleEndian.Uint32(m.raw[24:28])
}

func (m *uffdMsg) remapFrom() uint64 { return binary.LittleEndian.Uint64(m.raw[8:16]) }
func (m *uffdMsg) remapTo() uint64   { return binary.LittleEndian.Uint64(m.raw[16:24]) }

func (m *uffdMsg) removeStart() uint64 { return binary.LittleEndian.Uint64(m.raw[8:16]) }
func (m *uffdMsg) removeEnd() uint64   { return binary.LittleEndian.Uint64(m.raw[16:24]) }

// Event is one notification from the fault engine, generalizing the
// three cases hookThread emits directly into wire records.
type Event struct {
	Kind      EventKind
	Address   uint64 // Pagefault
	ThreadID  uint32 // Pagefault
	Stack     []uint64
	From, To  uint64 // Remap
	Len       uint64 // Remap
	Start, End uint64 // Remove/Unmap
}

type EventKind int

const (
	EventPageFault EventKind = iota
	EventPageRemap
	EventPageRemove
)

// StackCapture returns a stack trace for the faulting thread; callers
// wire this to internal/stackwalk.Thread.
type StackCapture func(threadID uint32) []uint64

// Engine owns one userfaultfd file descriptor and the goroutine that
// services it.
type Engine struct {
	fd       int
	quitR    int
	quitW    int
	onEvent  func(Event)
	capture  StackCapture
	onTick   func()
	done     chan struct{}
}

// Open creates and API-negotiates a new userfaultfd, mirroring
// Preload.cpp's setup around SYS_userfaultfd/UFFDIO_API. onTick is
// called once per servicing-loop iteration, before any event is
// handled, so a caller can implement spec.md §4.F step 1 ("if the
// module table was marked dirty, enumerate loaded modules") without
// this package knowing anything about modules itself.
func Open(onEvent func(Event), capture StackCapture, onTick func()) (*Engine, error) {
	fd, _, errno := unix.Syscall(sysUserfaultfd, uintptr(unix.O_NONBLOCK|unix.O_CLOEXEC), 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("faultengine: userfaultfd: %w (try sysctl -w vm.unprivileged_userfaultfd=1)", errno)
	}

	api := uffdioAPI{api: uffdAPI, features: uffdFeatureThreadID}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, ioctlUFFDIOAPI, uintptr(unsafe.Pointer(&api))); errno != 0 {
		unix.Close(int(fd))
		return nil, fmt.Errorf("faultengine: UFFDIO_API: %w", errno)
	}
	if api.api != uffdAPI {
		unix.Close(int(fd))
		return nil, fmt.Errorf("faultengine: kernel uffd API %#x != requested %#x", api.api, uffdAPI)
	}

	var quit [2]int
	if err := unix.Pipe2(quit[:], unix.O_CLOEXEC); err != nil {
		unix.Close(int(fd))
		return nil, fmt.Errorf("faultengine: quit pipe: %w", err)
	}

	return &Engine{
		fd:      int(fd),
		quitR:   quit[0],
		quitW:   quit[1],
		onEvent: onEvent,
		capture: capture,
		onTick:  onTick,
		done:    make(chan struct{}),
	}, nil
}

// Register subscribes [addr, addr+length) for missing-page notification,
// mirroring the UFFDIO_REGISTER/MODE_MISSING calls made whenever the
// preload layer tracks a new mmap.
func (e *Engine) Register(addr, length uint64) error {
	reg := uffdioRegister{
		rng:  uffdioRange{start: addr, len: length},
		mode: uffdioRegisterModeMissing,
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(e.fd), ioctlUFFDIORegister, uintptr(unsafe.Pointer(&reg))); errno != 0 {
		return fmt.Errorf("faultengine: UFFDIO_REGISTER %#x+%#x: %w", addr, length, errno)
	}
	return nil
}

// Run polls the fault fd alongside the quit pipe, exactly as hookThread
// does with its two-element pollfd array and 1-second timeout, until
// Close is called.
func (e *Engine) Run() {
	defer close(e.done)

	fds := []unix.PollFd{
		{Fd: int32(e.fd), Events: unix.POLLIN},
		{Fd: int32(e.quitR), Events: unix.POLLIN},
	}
	for {
		if e.onTick != nil {
			e.onTick()
		}
		n, err := unix.Poll(fds, 1000)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			if !e.handleOne() {
				return
			}
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			return
		}
	}
}

func (e *Engine) handleOne() bool {
	var msg uffdMsg
	n, err := unix.Read(e.fd, msg.raw[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return true
		}
		return false
	}
	if n != len(msg.raw) {
		return false
	}

	switch msg.event() {
	case uffdEventPagefault:
		addr := msg.pagefaultAddress()
		tid := msg.pagefaultThreadID()
		var stack []uint64
		if e.capture != nil {
			stack = e.capture(tid)
		}
		e.onEvent(Event{Kind: EventPageFault, Address: addr, ThreadID: tid, Stack: stack})

		zero := uffdioZeropage{rng: uffdioRange{start: addr &^ (pageSize - 1), len: pageSize}}
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(e.fd), ioctlUFFDIOZeropage, uintptr(unsafe.Pointer(&zero)))
		if errno != 0 && errno != unix.EEXIST {
			return false
		}

	case uffdEventRemap:
		e.onEvent(Event{Kind: EventPageRemap, From: msg.remapFrom(), To: msg.remapTo(), Len: binary.LittleEndian.Uint64(msg.raw[24:32])})

	case uffdEventRemove, uffdEventUnmap:
		e.onEvent(Event{Kind: EventPageRemove, Start: msg.removeStart(), End: msg.removeEnd()})
	}
	return true
}

// Close signals Run to exit (via the quit pipe) and waits for it to
// stop, then releases the file descriptors.
func (e *Engine) Close() error {
	unix.Write(e.quitW, []byte{0})
	<-e.done
	unix.Close(e.quitR)
	unix.Close(e.quitW)
	return unix.Close(e.fd)
}
