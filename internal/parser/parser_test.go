package parser

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/jhanssen/mtrack-sub000/internal/wire"
	"github.com/jhanssen/mtrack-sub000/internal/writer"
)

// buildTrace assembles a raw wire stream: a FileVersion header followed
// by each record's bytes, mirroring how the hook writes the version as
// a bare packet before any Kind-tagged record (hook/init.go emitVersion).
func buildTrace(records ...[]byte) []byte {
	var buf bytes.Buffer
	var vbuf [4]byte
	putU32LE(vbuf[:], wire.FileVersion)
	buf.Write(vbuf[:])
	for _, r := range records {
		buf.Write(r)
	}
	return buf.Bytes()
}

func putU32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func record(kind wire.RecordType, build func(e *wire.Encoder)) []byte {
	var e wire.Encoder
	e.Kind(kind)
	build(&e)
	return e.Bytes()
}

// TestEndToEndMallocScenario reproduces spec.md §8's scenario 4: Version,
// WorkingDirectory, Library, LibraryHeader, then one Malloc, should yield
// exactly one output event [Malloc,0x1080,32,3,0] and one stack entry.
func TestEndToEndMallocScenario(t *testing.T) {
	buf := buildTrace(
		record(wire.RecordWorkingDirectory, func(e *wire.Encoder) {
			e.U8(0)
			e.String("/w")
		}),
		record(wire.RecordLibrary, func(e *wire.Encoder) {
			e.U8(0)
			e.String("./a.so")
			e.U64(0x1000)
		}),
		record(wire.RecordLibraryHeader, func(e *wire.Encoder) {
			e.U8(0)
			e.U64(0)
			e.U64(0x1000)
		}),
		record(wire.RecordMalloc, func(e *wire.Encoder) {
			e.U8(0)
			e.U32(1) // ts
			e.U64(0x1080)
			e.U64(32)
			e.U32(3)
			e.Stack([]uint64{0x1100})
		}),
	)

	var out bytes.Buffer
	p := New(writer.New(&out), nil)
	if err := p.Run(buf); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	stats := p.Stats()
	if stats.EventCount != 1 {
		t.Fatalf("EventCount = %d, want 1", stats.EventCount)
	}

	// Every array in the output is null-terminated (spec.md §4.K), so one
	// real event/stack shows up as two raw elements: the value, then the
	// trailing null sentinel.
	var doc struct {
		Events  []json.RawMessage `json:"events"`
		Stacks  []json.RawMessage `json:"stacks"`
		Strings []json.RawMessage `json:"strings"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out.String())
	}
	if len(doc.Events) != 2 {
		t.Fatalf("events = %d, want 1 event + null sentinel", len(doc.Events))
	}

	var event [5]int64
	if err := json.Unmarshal(doc.Events[0], &event); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	want := [5]int64{int64(wire.RecordMalloc), 0x1080, 32, 3, 0}
	if event != want {
		t.Fatalf("event = %v, want %v", event, want)
	}
	if len(doc.Stacks) != 2 {
		t.Fatalf("stacks = %d, want 1 stack + null sentinel", len(doc.Stacks))
	}
}

// TestStartRecordIsHandled guards against the Start record falling into
// the "unhandled record kind" default case: every trace begins with one,
// so a regression here breaks every real trace immediately.
func TestStartRecordIsHandled(t *testing.T) {
	buf := buildTrace(record(wire.RecordStart, func(e *wire.Encoder) {
		e.U8(0)
		e.U8(uint8(wire.AppELF))
		e.U32(0)
	}))

	var out bytes.Buffer
	p := New(writer.New(&out), nil)
	if err := p.Run(buf); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

// TestFreeThenMallocOrdering exercises scenario 6: realloc emits Free
// then Malloc, and the parser must preserve that order in its output.
func TestFreeThenMallocOrdering(t *testing.T) {
	buf := buildTrace(
		record(wire.RecordFree, func(e *wire.Encoder) {
			e.U8(0)
			e.U64(0xA)
		}),
		record(wire.RecordMalloc, func(e *wire.Encoder) {
			e.U8(0)
			e.U32(2)
			e.U64(0xB)
			e.U64(64)
			e.U32(4)
			e.Stack(nil)
		}),
	)

	var out bytes.Buffer
	p := New(writer.New(&out), nil)
	if err := p.Run(buf); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var doc struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out.String())
	}
	if len(doc.Events) != 3 {
		t.Fatalf("events = %d, want 2 events + null sentinel", len(doc.Events))
	}
	var free [2]int64
	if err := json.Unmarshal(doc.Events[0], &free); err != nil {
		t.Fatal(err)
	}
	if free != [2]int64{int64(wire.RecordFree), 0xA} {
		t.Fatalf("free event = %v", free)
	}
	var malloc [5]int64
	if err := json.Unmarshal(doc.Events[1], &malloc); err != nil {
		t.Fatal(err)
	}
	if malloc[0] != int64(wire.RecordMalloc) || malloc[1] != 0xB || malloc[2] != 64 || malloc[3] != 4 {
		t.Fatalf("malloc event = %v", malloc)
	}
}

// TestMadviseUsesOwnKind guards against the Madvise-output-aliased-to-
// Free bug: the output event's kind must be the Madvise record's own
// kind, not Free's.
func TestMadviseUsesOwnKind(t *testing.T) {
	buf := buildTrace(record(wire.RecordMadviseTracked, func(e *wire.Encoder) {
		e.U8(0)
		e.U64(0x2000)
		e.U64(4096)
		e.I32(9) // MADV_DONTNEED-ish placeholder
	}))

	var out bytes.Buffer
	p := New(writer.New(&out), nil)
	if err := p.Run(buf); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var doc struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out.String())
	}
	var ev [4]int64
	if err := json.Unmarshal(doc.Events[0], &ev); err != nil {
		t.Fatal(err)
	}
	if ev[0] != int64(wire.RecordMadviseTracked) {
		t.Fatalf("event kind = %d, want %d (RecordMadviseTracked)", ev[0], wire.RecordMadviseTracked)
	}
}

// TestTrackerMirrorsMmapMunmap confirms the parser replays Mmap/Munmap
// records into its own tracker.Tracker (spec.md §2's data-flow note),
// independent of what gets written to the output stream.
func TestTrackerMirrorsMmapMunmap(t *testing.T) {
	buf := buildTrace(
		record(wire.RecordMmapTracked, func(e *wire.Encoder) {
			e.U8(0)
			e.U64(0x4000)
			e.U64(0x1000)
			e.I32(3) // PROT_READ|PROT_WRITE
			e.I32(0x22)
			e.U32(1)
			e.Stack(nil)
		}),
	)

	var out bytes.Buffer
	p := New(writer.New(&out), nil)
	if err := p.Run(buf); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if got := p.tracker.Len(); got != 1 {
		t.Fatalf("tracker.Len() = %d, want 1 after one Mmap record", got)
	}

	buf2 := buildTrace(
		record(wire.RecordMmapTracked, func(e *wire.Encoder) {
			e.U8(0)
			e.U64(0x4000)
			e.U64(0x1000)
			e.I32(3)
			e.I32(0x22)
			e.U32(1)
			e.Stack(nil)
		}),
		record(wire.RecordMunmapTracked, func(e *wire.Encoder) {
			e.U8(0)
			e.U64(0x4000)
			e.U64(0x1000)
		}),
	)

	var out2 bytes.Buffer
	p2 := New(writer.New(&out2), nil)
	if err := p2.Run(buf2); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := p2.tracker.Len(); got != 0 {
		t.Fatalf("tracker.Len() = %d, want 0 after Mmap+Munmap of the same range", got)
	}
}
