package resolver

import (
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
	"github.com/sirupsen/logrus"
)

// Request is one address awaiting resolution: an instruction pointer
// within a module, tagged with the caller-supplied id it should be
// reported back under (the event's stack-slot index in the original
// ResolverThread.cpp, generalized here to an opaque correlation value).
type Request struct {
	ID     int64
	IP     uint64
	Module *Module
}

// Resolved is the outcome of resolving one Request: the primary frame
// plus, innermost-first, any frames inlined into it.
type Resolved struct {
	ID      int64
	Primary Frame
	Inlined []Frame
}

// Resolver runs address resolution on a background goroutine, taking
// requests one at a time off a bounded channel and invoking onResult
// once per request as each result becomes available. This mirrors ResolverThread's
// dedicated worker thread pulling off a condition-variable-guarded
// queue, translated to Go's channel idiom.
type Resolver struct {
	reqs     chan Request
	onResult func(Resolved)
	log      *logrus.Entry

	wg sync.WaitGroup

	mu    sync.Mutex
	cache map[cacheKey]Resolved
}

type cacheKey struct {
	module *Module
	ip     uint64
}

// New starts a Resolver with the given request-queue depth. onResult is
// invoked from the resolver's own goroutine and must not block for long.
func New(queueDepth int, onResult func(Resolved), log *logrus.Entry) *Resolver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Resolver{
		reqs:     make(chan Request, queueDepth),
		onResult: onResult,
		log:      log,
		cache:    make(map[cacheKey]Resolved),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Submit enqueues a request for resolution. It blocks if the queue is
// full, providing natural backpressure on the fault/event producer.
func (r *Resolver) Submit(req Request) {
	r.reqs <- req
}

// Close stops accepting new requests and waits for the queue to drain.
func (r *Resolver) Close() {
	close(r.reqs)
	r.wg.Wait()
}

func (r *Resolver) run() {
	defer r.wg.Done()
	for req := range r.reqs {
		r.onResult(r.resolveOne(req))
	}
}

// resolveOne is idempotent by construction (T8): the same (module, ip)
// pair always yields the same cached Resolved value, since Module's
// debug state is immutable after construction.
func (r *Resolver) resolveOne(req Request) Resolved {
	key := cacheKey{req.Module, req.IP}

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		cached.ID = req.ID
		return cached
	}
	r.mu.Unlock()

	var primary Frame
	var inlined []Frame
	if req.Module != nil {
		primary, inlined = req.Module.FileLine(req.IP)
	}
	primary.Function = demangleName(primary.Function)
	for i := range inlined {
		inlined[i].Function = demangleName(inlined[i].Function)
	}

	res := Resolved{ID: req.ID, Primary: primary, Inlined: inlined}

	r.mu.Lock()
	r.cache[key] = Resolved{Primary: primary, Inlined: inlined}
	r.mu.Unlock()

	if !primary.valid() {
		r.log.WithField("ip", req.IP).Debug("resolver: address did not resolve to a symbol")
	}
	return res
}

// Demangle applies C++ (Itanium ABI) demangling to name if it looks
// mangled, otherwise returning it unchanged. Exported so callers that
// resolve frames outside the async Resolver (the one-shot parser path,
// which resolves synchronously the way Parser.cpp's writeStacks does)
// can reuse the same demangling behavior.
func Demangle(name string) string { return demangleName(name) }

// demangleName applies C++ (Itanium ABI) demangling to name if it looks
// mangled, leaving unrecognized or already-plain names untouched. Go and
// Rust symbols are left alone; this mirrors ResolverThread.cpp's use of
// the cplus_demangle family ahead of emitting a function name.
func demangleName(name string) string {
	if name == "" || !looksMangled(name) {
		return name
	}
	if out, err := demangle.ToString(name, demangle.NoClones); err == nil {
		return out
	}
	return name
}

func looksMangled(name string) bool {
	return strings.HasPrefix(name, "_Z") || strings.HasPrefix(name, "__Z")
}
