package main

import (
	"unsafe"

	"github.com/jhanssen/mtrack-sub000/internal/stackwalk"
)

func main() {}

func stackSelf() []uint64 {
	return stackwalk.Self(1, 32)
}

// bootstrapBuf services allocations made before dlsym has resolved the
// real malloc (dlsym itself can allocate on the first call on some
// libcs, which would otherwise recurse into mtrack_malloc before
// realMalloc is set). This mirrors the original hook library's use of a
// small static buffer for the same bootstrap window.
var (
	bootstrapBuf  [4096]byte
	bootstrapUsed uintptr
)

func bootstrapped() bool {
	return realMalloc != nil
}

func bootstrapAlloc(size uintptr) unsafe.Pointer {
	// 16-byte alignment, matching malloc's usual guarantee.
	aligned := (bootstrapUsed + 15) &^ 15
	if aligned+size > uintptr(len(bootstrapBuf)) {
		// Out of bootstrap space; nothing sane to do but fail the
		// allocation the way malloc would under ENOMEM.
		return nil
	}
	ptr := unsafe.Pointer(&bootstrapBuf[aligned])
	bootstrapUsed = aligned + size
	return ptr
}

func bootstrapOwns(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}
	base := uintptr(unsafe.Pointer(&bootstrapBuf[0]))
	p := uintptr(ptr)
	return p >= base && p < base+uintptr(len(bootstrapBuf))
}
