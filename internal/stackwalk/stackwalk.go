// Package stackwalk captures the instruction-pointer stack for the
// current goroutine (the allocation-site path, driven by the hook
// library) and for an arbitrary thread (the page-fault path, where the
// faulting thread is not the one handling the fault). This is the
// Go-idiomatic split of preload/Stack.cpp's single constructor, which
// conflated "capture this thread's registers" with "unwind a stack"; Go
// gives the first case a first-class API (runtime.Callers) and the
// second case is reduced, as in the original, to the faulting
// instruction pointer itself rather than a full unwind.
package stackwalk

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// noMmapStacks mirrors Stack::setNoMmap from the original preload/Stack.cpp:
// by default the scratch buffer Self uses to ask runtime.Callers for PCs is
// drawn from an mmap-backed page arena rather than churning the regular
// heap on every allocation/page-fault callback; MTRACK_NO_MMAP_STACKS=1
// falls back to a plain make() per call instead (the hook's state.init in
// hook/hook.go wires the env var, cmd/mtrack-parser has no use for it since it only runs post-hoc
// over an already-captured trace).
var noMmapStacks atomic.Bool

// SetNoMmapStacks toggles whether Self draws its scratch PC buffer from the
// mmap'd arena (false, the default) or allocates one with make() every call.
func SetNoMmapStacks(v bool) { noMmapStacks.Store(v) }

// pcArena pools page-sized mmap'd buffers of uintptr PCs, reused across
// Self calls instead of letting each one hit the Go heap allocator.
var pcArena = sync.Pool{
	New: func() any {
		const pages = 1
		b, err := unix.Mmap(-1, 0, pages*unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			return nil
		}
		return b
	},
}

// Self captures up to depth instruction pointers for the calling
// goroutine's current call stack, skipping the innermost skip frames
// (so callers can exclude their own hook-trampoline frames). The
// returned IPs are raw PCs as runtime.Callers reports them; callers pass
// these straight to the wire encoder unchanged, and the parser's
// wire.Decoder.Stack subtracts one from each so resolution lands on the
// call instruction rather than the return address.
func Self(skip, depth int) []uint64 {
	var pcs []uintptr
	var arena []byte
	if !noMmapStacks.Load() {
		if b, _ := pcArena.Get().([]byte); b != nil && depth*int(unsafe.Sizeof(uintptr(0))) <= len(b) {
			arena = b
			pcs = unsafe.Slice((*uintptr)(unsafe.Pointer(&b[0])), depth)
		}
	}
	if pcs == nil {
		pcs = make([]uintptr, depth)
	}

	n := runtime.Callers(skip+2, pcs) // +2 skips runtime.Callers and Self itself
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = uint64(pcs[i])
	}

	if arena != nil {
		pcArena.Put(arena)
	}
	return out
}
