// Package hook builds the LD_PRELOAD-able interception shim (spec.md
// §4.G) as a cgo shared object: it exports C-callable replacements for
// the malloc/mmap family (//export, consumed via -buildmode=c-shared),
// forwards each call to the real libc implementation resolved with
// dlsym(RTLD_NEXT, ...), and emits a wire event for every call that
// matters before returning. This is the direct Go analogue of
// preload/Hooks.cpp and preload/Mmap.cpp, which do the same thing in
// C++ behind the same LD_PRELOAD mechanism; cgo callbacks run on
// locked OS threads, which is what makes the thread-local re-entrancy
// guard below (TLSData::hooked in the original) expressible as a
// map keyed by OS thread id instead of an actual __thread variable.
package main

/*
#cgo LDFLAGS: -ldl -lpthread
#include <stdlib.h>
#include <dlfcn.h>

static void *resolve_next(const char *name) {
    return dlsym(RTLD_NEXT, name);
}
*/
import "C"

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jhanssen/mtrack-sub000/internal/faultengine"
	"github.com/jhanssen/mtrack-sub000/internal/stackwalk"
	"github.com/jhanssen/mtrack-sub000/internal/tracker"
	"github.com/jhanssen/mtrack-sub000/internal/transport"
	"github.com/jhanssen/mtrack-sub000/internal/wire"
)

var log = logrus.WithField("component", "hook")

// state holds everything the exported C symbols need, built once on
// first use and never torn down (the process owning this shared object
// is the one being traced; state lives exactly as long as it does).
type state struct {
	once sync.Once

	emitMu sync.Mutex
	enc    *wire.Encoder
	pw     *transport.PacketWriter

	engine *faultengine.Engine

	// trackerMu guards tracker, the in-process mirror of the traced
	// process's mmap/munmap/mprotect/madvise activity (spec.md §5's
	// spinlock-protected interval tracker). It lives only inside this
	// process and is never sent over the wire; the fault engine does not
	// read it (trackMmap registers ranges with the engine directly), and
	// mprotect updates it in place without emitting any record of its own (spec.md §6 has no
	// wire kind for mprotect; only the tracker's prot/flags need it).
	trackerMu sync.Mutex
	tracker   *tracker.Tracker

	// hookDepth is the cgo-callback analogue of TLSData::hooked /
	// TLSData::inMallocFree: cgo pins the calling goroutine to its OS
	// thread for the duration of the call, so tid uniquely identifies
	// the "thread-local" slot the original used a __thread bool for.
	hookDepth sync.Map // tid (int) -> *int32 depth counter

	// appID identifies this traced process on the wire. A single
	// LD_PRELOAD instance only ever traces the one process it's loaded
	// into, so this is always 0; the field exists because every record
	// carries an appId byte (spec.md §6), reserved for a hypothetical
	// multiplexed parser fed by more than one traced process.
	appID uint8

	modulesDirty atomic.Bool
}

var st = &state{}

func (s *state) init() {
	s.once.Do(func() {
		pw, err := startParserChild()
		if err != nil {
			log.WithError(err).Error("hook: could not start parser child, events will be dropped")
			return
		}
		s.pw = pw
		s.enc = &wire.Encoder{}
		s.appID = 0
		s.tracker = tracker.New()
		s.modulesDirty.Store(true)
		stackwalk.SetNoMmapStacks(envFlagSet("MTRACK_NO_MMAP_STACKS"))

		s.emitVersion()
		s.emitStartupRecords()
		s.enumerateModules()

		engine, err := faultengine.Open(s.onFault, s.captureThread, s.reenumerateIfDirty)
		if err != nil {
			log.WithError(err).Warn("hook: userfaultfd unavailable, page-fault tracking disabled")
			return
		}
		s.engine = engine
		go engine.Run()
	})
}

// envFlagSet reports whether the named environment variable is set to
// "true" or "1", the same case-insensitive check Preload.cpp's
// MTRACK_NO_MMAP_STACKS handling performs (strncasecmp(...,"true",4) ||
// strncmp(...,"1",1)) rather than config.envBool's mere presence check,
// since an explicit MTRACK_NO_MMAP_STACKS=0 must not disable the arena.
func envFlagSet(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1"
}

// tid returns a stable identifier for the current OS thread. cgo
// callbacks always run with the calling goroutine locked to its OS
// thread, so this is safe to use as a "thread-local" key.
func tid() int { return unix.Gettid() }

// entered reports whether the current thread is already inside a hook,
// and marks it as entered if not. It is the Go equivalent of
// Data::hooked / TLSData::inMallocFree guarding re-entrant calls (e.g.
// a dlsym() call that itself calls malloc).
func (s *state) entered() bool {
	t := tid()
	v, _ := s.hookDepth.LoadOrStore(t, new(int32))
	depth := v.(*int32)
	return atomic.AddInt32(depth, 1) > 1
}

func (s *state) leave() {
	t := tid()
	if v, ok := s.hookDepth.Load(t); ok {
		atomic.AddInt32(v.(*int32), -1)
	}
}

func (s *state) emit(kind wire.RecordType, build func(enc *wire.Encoder)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.pw == nil {
		return
	}
	s.enc.Reset()
	s.enc.Kind(kind)
	build(s.enc)
	if err := s.pw.Write(s.enc.Bytes()); err != nil {
		log.WithError(err).Debug("hook: failed to emit event")
	}
}

// reenumerateIfDirty is the fault engine's per-iteration onTick hook
// (spec.md §4.F step 1): dlopen/dlclose only flip modulesDirty, the
// actual /proc/self/maps re-scan happens here, on the service thread,
// the next time it comes around its poll loop.
func (s *state) reenumerateIfDirty() {
	if s.modulesDirty.CompareAndSwap(true, false) {
		s.enumerateModules()
	}
}

func (s *state) captureThread(osTid uint32) []uint64 {
	ip, _, err := stackwalk.Thread(int(osTid))
	if err != nil {
		return nil
	}
	return []uint64{ip}
}

func (s *state) onFault(ev faultengine.Event) {
	switch ev.Kind {
	case faultengine.EventPageFault:
		s.emit(wire.RecordPageFault, func(enc *wire.Encoder) {
			enc.U8(s.appID)
			enc.U32(uint32(timestampMillis()))
			enc.U64(ev.Address)
			enc.U32(ev.ThreadID)
			enc.Stack(ev.Stack)
		})
	case faultengine.EventPageRemap:
		s.emit(wire.RecordPageRemap, func(enc *wire.Encoder) {
			enc.U8(s.appID)
			enc.U64(ev.From)
			enc.U64(ev.To)
			enc.U64(ev.Len)
		})
	case faultengine.EventPageRemove:
		s.emit(wire.RecordPageRemove, func(enc *wire.Encoder) {
			enc.U8(s.appID)
			enc.U64(ev.Start)
			enc.U64(ev.End)
		})
	}
}

// resolveNext looks up the real libc implementation of name via
// dlsym(RTLD_NEXT, ...), the same indirection Hooks.cpp performs for
// every intercepted symbol so the hook can forward to it.
func resolveNext(name string) unsafe.Pointer {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return C.resolve_next(cname)
}
