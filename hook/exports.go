package main

/*
#include <stddef.h>
#include <sys/types.h>
#include <pthread.h>

typedef void* (*mmap_fn)(void*, size_t, int, int, int, long);
typedef void* (*mmap64_fn)(void*, size_t, int, int, int, long long);
typedef int   (*munmap_fn)(void*, size_t);
typedef void* (*mremap_fn)(void*, size_t, size_t, int);
typedef int   (*mprotect_fn)(void*, size_t, int);
typedef int   (*madvise_fn)(void*, size_t, int);
typedef void* (*dlopen_fn)(const char*, int);
typedef int   (*dlclose_fn)(void*);
typedef int   (*pthread_setname_np_fn)(pthread_t, const char*);
typedef void* (*malloc_fn)(size_t);
typedef void  (*free_fn)(void*);
typedef void* (*calloc_fn)(size_t, size_t);
typedef void* (*realloc_fn)(void*, size_t);
typedef void* (*reallocarray_fn)(void*, size_t, size_t);
typedef int   (*posix_memalign_fn)(void**, size_t, size_t);
typedef void* (*aligned_alloc_fn)(size_t, size_t);

static void *call_mmap(void *f, void *addr, size_t length, int prot, int flags, int fd, long offset) {
    return ((mmap_fn)f)(addr, length, prot, flags, fd, offset);
}
static void *call_mmap64(void *f, void *addr, size_t length, int prot, int flags, int fd, long long offset) {
    return ((mmap64_fn)f)(addr, length, prot, flags, fd, offset);
}
static int call_munmap(void *f, void *addr, size_t length) {
    return ((munmap_fn)f)(addr, length);
}
static void *call_mremap(void *f, void *old_address, size_t old_size, size_t new_size, int flags) {
    return ((mremap_fn)f)(old_address, old_size, new_size, flags);
}
static int call_mprotect(void *f, void *addr, size_t length, int prot) {
    return ((mprotect_fn)f)(addr, length, prot);
}
static int call_madvise(void *f, void *addr, size_t length, int advice) {
    return ((madvise_fn)f)(addr, length, advice);
}
static void *call_dlopen(void *f, const char *filename, int flag) {
    return ((dlopen_fn)f)(filename, flag);
}
static int call_dlclose(void *f, void *handle) {
    return ((dlclose_fn)f)(handle);
}
static int call_pthread_setname_np(void *f, pthread_t thread, const char *name) {
    return ((pthread_setname_np_fn)f)(thread, name);
}
static int threads_equal(pthread_t a, pthread_t b) {
    return pthread_equal(a, b);
}
static pthread_t call_pthread_self() {
    return pthread_self();
}
static void *call_malloc(void *f, size_t size) {
    return ((malloc_fn)f)(size);
}
static void call_free(void *f, void *ptr) {
    ((free_fn)f)(ptr);
}
static void *call_calloc(void *f, size_t nmemb, size_t size) {
    return ((calloc_fn)f)(nmemb, size);
}
static void *call_realloc(void *f, void *ptr, size_t size) {
    return ((realloc_fn)f)(ptr, size);
}
static void *call_reallocarray(void *f, void *ptr, size_t nmemb, size_t size) {
    return ((reallocarray_fn)f)(ptr, nmemb, size);
}
static int call_posix_memalign(void *f, void **memptr, size_t alignment, size_t size) {
    return ((posix_memalign_fn)f)(memptr, alignment, size);
}
static void *call_aligned_alloc(void *f, size_t alignment, size_t size) {
    return ((aligned_alloc_fn)f)(alignment, size);
}
*/
import "C"

import (
	"time"
	"unsafe"

	"github.com/jhanssen/mtrack-sub000/internal/wire"
)

func timestampMillis() uint64 { return uint64(time.Now().UnixMilli()) }

// untrackedStack is the sentinel stack id used for tracker entries built
// from hooks that don't (yet) attach a resolved stack of their own.
const untrackedStack = -1

// realMmap etc. are resolved lazily and cached: dlsym itself allocates
// on first call on some libcs, so these are fetched behind the
// re-entrancy guard rather than in an init().
var (
	realMmap           unsafe.Pointer
	realMmap64         unsafe.Pointer
	realMunmap         unsafe.Pointer
	realMremap         unsafe.Pointer
	realMprotect       unsafe.Pointer
	realMadvise        unsafe.Pointer
	realDlopen         unsafe.Pointer
	realDlclose        unsafe.Pointer
	realPthreadSetname unsafe.Pointer
	realMalloc         unsafe.Pointer
	realFree           unsafe.Pointer
	realCalloc         unsafe.Pointer
	realRealloc        unsafe.Pointer
	realReallocarray   unsafe.Pointer
	realPosixMemalign  unsafe.Pointer
	realAlignedAlloc   unsafe.Pointer
)

func ensureResolved() {
	if realMmap == nil {
		realMmap = resolveNext("mmap")
	}
	if realMmap64 == nil {
		realMmap64 = resolveNext("mmap64")
	}
	if realMunmap == nil {
		realMunmap = resolveNext("munmap")
	}
	if realMremap == nil {
		realMremap = resolveNext("mremap")
	}
	if realMprotect == nil {
		realMprotect = resolveNext("mprotect")
	}
	if realMadvise == nil {
		realMadvise = resolveNext("madvise")
	}
	if realDlopen == nil {
		realDlopen = resolveNext("dlopen")
	}
	if realDlclose == nil {
		realDlclose = resolveNext("dlclose")
	}
	if realPthreadSetname == nil {
		realPthreadSetname = resolveNext("pthread_setname_np")
	}
	if realMalloc == nil {
		realMalloc = resolveNext("malloc")
	}
	if realFree == nil {
		realFree = resolveNext("free")
	}
	if realCalloc == nil {
		realCalloc = resolveNext("calloc")
	}
	if realRealloc == nil {
		realRealloc = resolveNext("realloc")
	}
	if realReallocarray == nil {
		realReallocarray = resolveNext("reallocarray")
	}
	if realPosixMemalign == nil {
		realPosixMemalign = resolveNext("posix_memalign")
	}
	if realAlignedAlloc == nil {
		realAlignedAlloc = resolveNext("aligned_alloc")
	}
}

const (
	mapPrivate   = 0x02
	mapAnonymous = 0x20
)

// trackMmap records a new anonymous private mapping in both the
// in-process tracker and the wire stream, registering it with the fault
// engine; shared by mmap and mmap64, which only differ in the width of
// their offset argument.
func (s *state) trackMmap(ret uintptr, length uint64, prot, flags int32) {
	if flags&(mapPrivate|mapAnonymous) != (mapPrivate | mapAnonymous) {
		return
	}
	ip := stackSelf()
	tid := uint32(tid())
	s.trackerMu.Lock()
	s.tracker.Mmap(uint64(ret), length, prot, flags, untrackedStack)
	s.trackerMu.Unlock()
	s.emit(wire.RecordMmapTracked, func(enc *wire.Encoder) {
		enc.U8(s.appID)
		enc.U64(uint64(ret))
		enc.U64(length)
		enc.I32(prot)
		enc.I32(flags)
		enc.U32(tid)
		enc.Stack(ip)
	})
	if s.engine != nil {
		if err := s.engine.Register(uint64(ret), length); err != nil {
			log.WithError(err).Debug("hook: userfaultfd registration failed")
		}
	}
}

//export mtrack_mmap
func mtrack_mmap(addr unsafe.Pointer, length C.size_t, prot, flags, fd C.int, offset C.long) unsafe.Pointer {
	st.init()
	ensureResolved()

	ret := C.call_mmap(realMmap, addr, length, prot, flags, fd, offset)

	if !st.entered() {
		defer st.leave()
		st.trackMmap(uintptr(ret), uint64(length), int32(prot), int32(flags))
	} else {
		st.leave()
	}

	return unsafe.Pointer(ret)
}

//export mtrack_mmap64
func mtrack_mmap64(addr unsafe.Pointer, length C.size_t, prot, flags, fd C.int, offset C.longlong) unsafe.Pointer {
	st.init()
	ensureResolved()

	ret := C.call_mmap64(realMmap64, addr, length, prot, flags, fd, offset)

	if !st.entered() {
		defer st.leave()
		st.trackMmap(uintptr(ret), uint64(length), int32(prot), int32(flags))
	} else {
		st.leave()
	}

	return unsafe.Pointer(ret)
}

//export mtrack_munmap
func mtrack_munmap(addr unsafe.Pointer, length C.size_t) C.int {
	st.init()
	ensureResolved()

	ret := C.call_munmap(realMunmap, addr, length)

	if !st.entered() {
		st.trackerMu.Lock()
		st.tracker.Munmap(uint64(uintptr(addr)), uint64(length))
		st.trackerMu.Unlock()
		st.emit(wire.RecordMunmapTracked, func(enc *wire.Encoder) {
			enc.U8(st.appID)
			enc.U64(uint64(uintptr(addr)))
			enc.U64(uint64(length))
		})
	}
	st.leave()

	return ret
}

//export mtrack_mremap
func mtrack_mremap(oldAddr unsafe.Pointer, oldSize, newSize C.size_t, flags C.int) unsafe.Pointer {
	st.init()
	ensureResolved()

	ret := C.call_mremap(realMremap, oldAddr, oldSize, newSize, flags)

	if !st.entered() {
		defer st.leave()
		// mremap has no wire record of its own (spec.md §6 lists no
		// Mremap kind): it's reported as the same PageRemap record the
		// fault engine emits for a kernel-level UFFD_EVENT_REMAP, since
		// both describe one range's contents moving to another address.
		// The tracker update can't recover the original prot/flags (Munmap
		// doesn't return them), so the moved range is re-registered
		// untracked; a subsequent mprotect/madvise on it still applies
		// correctly, it just starts from a blank slate (known limitation).
		st.trackerMu.Lock()
		st.tracker.Munmap(uint64(uintptr(oldAddr)), uint64(oldSize))
		st.tracker.Mmap(uint64(uintptr(ret)), uint64(newSize), 0, 0, untrackedStack)
		st.trackerMu.Unlock()
		st.emit(wire.RecordPageRemap, func(enc *wire.Encoder) {
			enc.U8(st.appID)
			enc.U64(uint64(uintptr(oldAddr)))
			enc.U64(uint64(uintptr(ret)))
			enc.U64(uint64(newSize))
		})
	} else {
		st.leave()
	}

	return unsafe.Pointer(ret)
}

//export mtrack_mprotect
func mtrack_mprotect(addr unsafe.Pointer, length C.size_t, prot C.int) C.int {
	st.init()
	ensureResolved()

	ret := C.call_mprotect(realMprotect, addr, length, prot)

	if !st.entered() {
		// mprotect has no wire record of its own (spec.md §6): it only
		// updates the in-process tracker's prot, preserving flags and
		// stack for the touched range (T4).
		st.trackerMu.Lock()
		st.tracker.Mprotect(uint64(uintptr(addr)), uint64(length), int32(prot))
		st.trackerMu.Unlock()
	}
	st.leave()

	return ret
}

//export mtrack_madvise
func mtrack_madvise(addr unsafe.Pointer, length C.size_t, advice C.int) C.int {
	st.init()
	ensureResolved()

	ret := C.call_madvise(realMadvise, addr, length, advice)

	if !st.entered() {
		st.trackerMu.Lock()
		st.tracker.Madvise(uint64(uintptr(addr)), uint64(length))
		st.trackerMu.Unlock()
		st.emit(wire.RecordMadviseTracked, func(enc *wire.Encoder) {
			enc.U8(st.appID)
			enc.U64(uint64(uintptr(addr)))
			enc.U64(uint64(length))
			enc.I32(int32(advice))
		})
	}
	st.leave()

	return ret
}

//export mtrack_dlopen
func mtrack_dlopen(filename *C.char, flag C.int) unsafe.Pointer {
	st.init()
	ensureResolved()

	ret := C.call_dlopen(realDlopen, filename, flag)

	if !st.entered() {
		// Module reload (spec.md §4.G): dlopen only flips the flag: the
		// actual /proc/self/maps re-scan happens on the fault engine's
		// next service-loop iteration (hook.go's reenumerateIfDirty).
		st.modulesDirty.Store(true)
	}
	st.leave()

	return unsafe.Pointer(ret)
}

//export mtrack_dlclose
func mtrack_dlclose(handle unsafe.Pointer) C.int {
	st.init()
	ensureResolved()

	ret := C.call_dlclose(realDlclose, handle)

	if !st.entered() {
		st.modulesDirty.Store(true)
	}
	st.leave()

	return ret
}

//export mtrack_pthread_setname_np
func mtrack_pthread_setname_np(thread C.pthread_t, name *C.char) C.int {
	st.init()
	ensureResolved()

	ret := C.call_pthread_setname_np(realPthreadSetname, thread, name)

	if !st.entered() {
		// Thread-name hook (spec.md §4.G): only emit for the calling
		// thread; naming another thread from here is a known limitation,
		// matching spec.md's explicit "skip when the target thread
		// differs from the caller" carve-out.
		if C.threads_equal(thread, C.call_pthread_self()) != 0 {
			st.emit(wire.RecordThreadName, func(enc *wire.Encoder) {
				enc.U8(st.appID)
				enc.U32(uint32(tid()))
				enc.String(C.GoString(name))
			})
		}
	}
	st.leave()

	return ret
}

//export mtrack_malloc
func mtrack_malloc(size C.size_t) unsafe.Pointer {
	if !bootstrapped() {
		return bootstrapAlloc(uintptr(size))
	}
	st.init()
	ensureResolved()

	if st.entered() {
		defer st.leave()
		return C.call_malloc(realMalloc, size)
	}
	defer st.leave()

	ptr := C.call_malloc(realMalloc, size)
	st.emit(wire.RecordMalloc, func(enc *wire.Encoder) {
		enc.U8(st.appID)
		enc.U32(uint32(timestampMillis()))
		enc.U64(uint64(uintptr(ptr)))
		enc.U64(uint64(size))
		enc.U32(uint32(tid()))
		enc.Stack(stackSelf())
	})
	return unsafe.Pointer(ptr)
}

//export mtrack_free
func mtrack_free(ptr unsafe.Pointer) {
	if bootstrapOwns(ptr) {
		return
	}
	st.init()
	ensureResolved()

	entered := st.entered()
	defer st.leave()

	if !entered {
		st.emit(wire.RecordFree, func(enc *wire.Encoder) {
			enc.U8(st.appID)
			enc.U64(uint64(uintptr(ptr)))
		})
	}
	C.call_free(realFree, ptr)
}

//export mtrack_calloc
func mtrack_calloc(nmemb, size C.size_t) unsafe.Pointer {
	if !bootstrapped() {
		return bootstrapAlloc(uintptr(nmemb) * uintptr(size))
	}
	st.init()
	ensureResolved()

	if st.entered() {
		defer st.leave()
		return C.call_calloc(realCalloc, nmemb, size)
	}
	defer st.leave()

	ptr := C.call_calloc(realCalloc, nmemb, size)
	st.emit(wire.RecordMalloc, func(enc *wire.Encoder) {
		enc.U8(st.appID)
		enc.U32(uint32(timestampMillis()))
		enc.U64(uint64(uintptr(ptr)))
		enc.U64(uint64(nmemb) * uint64(size))
		enc.U32(uint32(tid()))
		enc.Stack(stackSelf())
	})
	return unsafe.Pointer(ptr)
}

//export mtrack_realloc
func mtrack_realloc(ptr unsafe.Pointer, size C.size_t) unsafe.Pointer {
	st.init()
	ensureResolved()

	if st.entered() {
		defer st.leave()
		return C.call_realloc(realRealloc, ptr, size)
	}
	defer st.leave()

	newPtr := C.call_realloc(realRealloc, ptr, size)
	if ptr != nil {
		st.emit(wire.RecordFree, func(enc *wire.Encoder) {
			enc.U8(st.appID)
			enc.U64(uint64(uintptr(ptr)))
		})
	}
	st.emit(wire.RecordMalloc, func(enc *wire.Encoder) {
		enc.U8(st.appID)
		enc.U32(uint32(timestampMillis()))
		enc.U64(uint64(uintptr(newPtr)))
		enc.U64(uint64(size))
		enc.U32(uint32(tid()))
		enc.Stack(stackSelf())
	})
	return unsafe.Pointer(newPtr)
}

//export mtrack_reallocarray
func mtrack_reallocarray(ptr unsafe.Pointer, nmemb, size C.size_t) unsafe.Pointer {
	st.init()
	ensureResolved()

	if st.entered() {
		defer st.leave()
		return C.call_reallocarray(realReallocarray, ptr, nmemb, size)
	}
	defer st.leave()

	newPtr := C.call_reallocarray(realReallocarray, ptr, nmemb, size)
	if ptr != nil {
		st.emit(wire.RecordFree, func(enc *wire.Encoder) {
			enc.U8(st.appID)
			enc.U64(uint64(uintptr(ptr)))
		})
	}
	st.emit(wire.RecordMalloc, func(enc *wire.Encoder) {
		enc.U8(st.appID)
		enc.U32(uint32(timestampMillis()))
		enc.U64(uint64(uintptr(newPtr)))
		enc.U64(uint64(nmemb) * uint64(size))
		enc.U32(uint32(tid()))
		enc.Stack(stackSelf())
	})
	return unsafe.Pointer(newPtr)
}

//export mtrack_posix_memalign
func mtrack_posix_memalign(memptr unsafe.Pointer, alignment, size C.size_t) C.int {
	st.init()
	ensureResolved()

	out := (*unsafe.Pointer)(memptr)

	if st.entered() {
		defer st.leave()
		return C.call_posix_memalign(realPosixMemalign, out, alignment, size)
	}
	defer st.leave()

	ret := C.call_posix_memalign(realPosixMemalign, out, alignment, size)
	if ret == 0 {
		st.emit(wire.RecordMalloc, func(enc *wire.Encoder) {
			enc.U8(st.appID)
			enc.U32(uint32(timestampMillis()))
			enc.U64(uint64(uintptr(*out)))
			enc.U64(uint64(size))
			enc.U32(uint32(tid()))
			enc.Stack(stackSelf())
		})
	}
	return ret
}

//export mtrack_aligned_alloc
func mtrack_aligned_alloc(alignment, size C.size_t) unsafe.Pointer {
	st.init()
	ensureResolved()

	if st.entered() {
		defer st.leave()
		return C.call_aligned_alloc(realAlignedAlloc, alignment, size)
	}
	defer st.leave()

	ptr := C.call_aligned_alloc(realAlignedAlloc, alignment, size)
	st.emit(wire.RecordMalloc, func(enc *wire.Encoder) {
		enc.U8(st.appID)
		enc.U32(uint32(timestampMillis()))
		enc.U64(uint64(uintptr(ptr)))
		enc.U64(uint64(size))
		enc.U32(uint32(tid()))
		enc.Stack(stackSelf())
	})
	return unsafe.Pointer(ptr)
}
