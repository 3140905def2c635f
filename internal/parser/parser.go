// Package parser implements the mtrack trace consumer (spec.md §4.H):
// it reads the wire record stream produced by the hook layer, maintains
// the module registry and stack/string indexers needed to resolve
// addresses, and streams the result out through internal/writer. This
// is a direct generalization of parser/Parser.cpp's single-pass
// readVersion/parse/writeEvents/writeStacks/writeStrings pipeline.
package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jhanssen/mtrack-sub000/internal/indexer"
	"github.com/jhanssen/mtrack-sub000/internal/metrics"
	"github.com/jhanssen/mtrack-sub000/internal/resolver"
	"github.com/jhanssen/mtrack-sub000/internal/tracker"
	"github.com/jhanssen/mtrack-sub000/internal/wire"
	"github.com/jhanssen/mtrack-sub000/internal/writer"
)

// Stats mirrors Parser::Stats: simple running counters surfaced at the
// end of a run (and, in SPEC_FULL.md's ambient-stack expansion, as
// Prometheus counters/gauges — see internal/metrics).
type Stats struct {
	EventCount  int64
	RecordCount int64
}

// Parser consumes one trace stream end to end.
type Parser struct {
	log *logrus.Entry
	w   *writer.Writer

	strings *indexer.Indexer[string]
	stacks  *StackIndexer
	modules *resolver.Registry
	cache   *moduleCache

	// tracker mirrors the hook layer's own interval tracker (spec.md §2's
	// data flow: the parser keeps its own tracker.Tracker in lockstep with
	// every Mmap*/Munmap*/Madvise* record it decodes). Nothing the parser
	// writes is derived from it; events go to the writer as decoded.
	tracker *tracker.Tracker

	exe           string
	cwd           string
	currentModule *resolver.Module
	allModules    []*resolver.Module
	threadNames   map[uint32]string

	stats Stats
	err   error

	progressEvery int64
	progressFn    func(Stats)
}

// New returns a Parser that streams its JSON output to w.
func New(w *writer.Writer, log *logrus.Entry) *Parser {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	strIdx := indexer.New[string]()
	return &Parser{
		log:         log,
		w:           w,
		strings:     strIdx,
		stacks:      NewStackIndexer(),
		modules:     resolver.NewRegistry(strIdx),
		cache:       newModuleCache(),
		tracker:     tracker.New(),
		threadNames: make(map[uint32]string),
	}
}

// ErrVersionMismatch is returned when the stream's leading FileVersion
// does not match what this parser understands, mirroring Parser::parse's
// version check.
type ErrVersionMismatch struct{ Got, Want uint32 }

func (e *ErrVersionMismatch) Error() string {
	return fmt.Sprintf("parser: invalid file version (got %d, want %d)", e.Got, e.Want)
}

// Run consumes a complete trace stream from buf (the caller assembles
// this from either a plain file read or a sequence of transport.PacketReader
// packets concatenated in arrival order; packet-mode framing matters
// for transport integrity, not for decoding, which — like
// Parser::parse's single contiguous mmap'd buffer — just needs the
// bytes in order). It streams events to the writer as they're parsed
// and resolves+writes the stacks/strings tables at the end.
func (p *Parser) Run(buf []byte) error {
	d := wire.NewDecoder(buf)
	if d.Remaining() < 4 {
		return fmt.Errorf("parser: %w", io.ErrUnexpectedEOF)
	}
	version := d.U32()
	if version != wire.FileVersion {
		return &ErrVersionMismatch{Got: version, Want: wire.FileVersion}
	}

	p.w.Open()
	p.w.OpenEvents()

	for d.Remaining() > 0 {
		p.stats.RecordCount++
		if err := p.handle(d); err != nil {
			metrics.MalformedRecordsTotal.Inc()
			p.log.WithError(err).Warn("parser: stopping after malformed record")
			p.err = err
			break
		}
		if p.progressFn != nil && p.stats.RecordCount%p.progressEvery == 0 {
			p.progressFn(p.stats)
		}
	}

	p.w.CloseEvents()
	p.writeStacks()
	p.writeStrings()
	if err := p.w.Close(); err != nil {
		return fmt.Errorf("parser: flushing output: %w", err)
	}
	return p.err
}

// Stats returns the running counters accumulated so far.
func (p *Parser) Stats() Stats { return p.stats }

// SetProgress arranges for fn to be called every records'th decoded
// record, the Go analogue of Parser.cpp logging a progress line every
// 1000 records to stdout; the driver's --dump/--threshold flags are
// what wire this up.
func (p *Parser) SetProgress(records int, fn func(Stats)) {
	if records <= 0 {
		records = 1
	}
	p.progressEvery = int64(records)
	p.progressFn = fn
}

func (p *Parser) handle(d *wire.Decoder) (err error) {
	var kind wire.RecordType
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("short read decoding %s: %v", kind, r)
		}
	}()

	kind = d.Kind()
	metrics.RecordsTotal.WithLabelValues(kind.String()).Inc()
	switch kind {
	case wire.RecordStart:
		_ = d.U8() // appId
		_ = d.U8() // appType
		_ = d.U32() // reserved

	case wire.RecordExecutable:
		_ = d.U8() // appId
		p.exe = d.String()

	case wire.RecordWorkingDirectory:
		_ = d.U8() // appId
		p.cwd = d.String() + "/"

	case wire.RecordThreadName:
		_ = d.U8() // appId
		tid := d.U32()
		p.threadNames[tid] = d.String()

	case wire.RecordLibrary:
		p.handleLibrary(d)

	case wire.RecordLibraryHeader:
		_ = d.U8() // appId
		addr := d.U64()
		size := d.U64()
		if p.currentModule != nil {
			p.currentModule.AddHeader(addr, size)
			p.cache.markDirty()
		}

	case wire.RecordMalloc:
		p.countEvent()
		_ = d.U8() // appId
		_ = d.U32() // ts: consumed for ordering/metrics, not part of the output tuple
		addr := d.U64()
		size := d.U64()
		tid := d.U32()
		stack := p.indexStack(d)
		p.w.Event(int(wire.RecordMalloc), i64(addr), i64(size), int64(tid), int64(stack))

	case wire.RecordFree:
		p.countEvent()
		_ = d.U8() // appId
		addr := d.U64()
		p.w.Event(int(wire.RecordFree), i64(addr))

	case wire.RecordMmapTracked, wire.RecordMmapUntracked:
		p.countEvent()
		_ = d.U8() // appId
		addr, size := d.U64(), d.U64()
		prot, flags := d.I32(), d.I32()
		tid := d.U32()
		stack := p.indexStack(d)
		p.tracker.Mmap(addr, size, prot, flags, stack)
		p.w.Event(int(kind), i64(addr), i64(size), int64(prot), int64(flags), int64(tid), int64(stack))

	case wire.RecordMunmapTracked, wire.RecordMunmapUntracked:
		p.countEvent()
		_ = d.U8() // appId
		addr, size := d.U64(), d.U64()
		p.tracker.Munmap(addr, size)
		p.w.Event(int(kind), i64(addr), i64(size))

	case wire.RecordMadviseTracked, wire.RecordMadviseUntracked:
		p.countEvent()
		_ = d.U8() // appId
		addr, size := d.U64(), d.U64()
		advice := d.I32()
		p.tracker.Madvise(addr, size)
		p.w.Event(int(kind), i64(addr), i64(size), int64(advice))

	case wire.RecordPageFault:
		p.countEvent()
		_ = d.U8() // appId
		_ = d.U32() // ts
		addr := d.U64()
		tid := d.U32()
		stack := p.indexStack(d)
		p.w.Event(int(wire.RecordPageFault), i64(addr), int64(tid), int64(stack))

	case wire.RecordPageRemap:
		p.countEvent()
		_ = d.U8() // appId
		from, to, length := d.U64(), d.U64(), d.U64()
		p.w.Event(int(wire.RecordPageRemap), i64(from), i64(to), i64(length))

	case wire.RecordPageRemove:
		p.countEvent()
		_ = d.U8() // appId
		start, end := d.U64(), d.U64()
		p.w.Event(int(wire.RecordPageRemove), i64(start), i64(end))

	case wire.RecordTime:
		p.countEvent()
		appID := d.U8()
		ts := d.U32()
		p.w.Event(int(wire.RecordTime), int64(appID), int64(ts))

	case wire.RecordCommand:
		_ = d.U8() // appId
		cmdKind := wire.CommandKind(d.U8())
		p.handleCommand(cmdKind)

	default:
		return fmt.Errorf("unhandled record kind %s", kind)
	}
	return nil
}

func (p *Parser) handleLibrary(d *wire.Decoder) {
	_ = d.U8() // appId
	name := d.String()
	start := d.U64()

	if strings.HasPrefix(name, "linux-vdso.so") || strings.HasPrefix(name, "linux-gate.so") {
		return
	}
	if name == "s" {
		name = p.exe
	}
	if name != "" && !filepath.IsAbs(name) {
		if abs, err := filepath.Abs(filepath.Join(p.cwd, name)); err == nil {
			name = abs
		}
	}

	appType := wire.AppELF
	if strings.HasSuffix(name, ".wasm") {
		appType = wire.AppWASM
	}

	mod := p.modules.GetOrCreate(appType, name, start)
	p.currentModule = mod
	p.allModules = append(p.allModules, mod)
}

// handleCommand implements the resolved Command open question: only
// CommandSnapshot does anything (marking the module cache stale, so it
// is rebuilt lazily the next time it is consulted);
// every other kind is accepted and ignored, reserved for future use.
func (p *Parser) handleCommand(kind wire.CommandKind) {
	switch kind {
	case wire.CommandSnapshot:
		p.cache.markDirty()
	default:
		p.log.WithField("kind", kind).Debug("parser: ignoring unrecognized command")
	}
}

func (p *Parser) indexStack(d *wire.Decoder) int32 {
	return p.stacks.Index(d.Stack())
}

func (p *Parser) countEvent() {
	p.stats.EventCount++
	metrics.EventsTotal.Inc()
}

func i64(v uint64) int64 { return int64(v) }
