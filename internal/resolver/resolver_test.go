package resolver

import (
	"sync"
	"testing"
)

// fixtureModule builds a Module whose debug info is populated directly
// (bypassing real DWARF byte encoding, which is exercised separately by
// the wasm.go section scanner) so resolution logic can be tested without
// needing a real compiled binary on disk.
func fixtureModule() *Module {
	return &Module{
		File:     "fixture.so",
		LoadAddr: 0x400000,
		debug: &debugInfo{
			funcs: []funcRange{
				{name: "_ZN3Foo3barEv", lowpc: 0x1000, highpc: 0x1100},
				{name: "plainFunc", lowpc: 0x2000, highpc: 0x2050},
			},
			inlines: []inlineRange{
				{name: "_ZN3Foo6helperEv", lowpc: 0x1010, highpc: 0x1020},
			},
		},
		symbols: []elfSymbol{
			{Name: "symOnly", Value: 0x3000, Size: 0x40},
		},
	}
}

func TestFileLineResolvesPrimaryAndInline(t *testing.T) {
	m := fixtureModule()
	primary, inlined := m.FileLine(0x1015)
	if primary.Function != "_ZN3Foo3barEv" {
		t.Fatalf("primary function = %q, want _ZN3Foo3barEv", primary.Function)
	}
	if len(inlined) != 1 || inlined[0].Function != "_ZN3Foo6helperEv" {
		t.Fatalf("inlined = %+v, want one _ZN3Foo6helperEv frame", inlined)
	}
}

func TestFileLineFallsBackToELFSymbol(t *testing.T) {
	m := fixtureModule()
	primary, inlined := m.FileLine(0x3010)
	if primary.Function != "symOnly" {
		t.Fatalf("primary function = %q, want symOnly (ELF fallback)", primary.Function)
	}
	if len(inlined) != 0 {
		t.Fatalf("expected no inlined frames from symbol-table fallback, got %+v", inlined)
	}
}

func TestFileLineUnresolvedIsEmpty(t *testing.T) {
	m := fixtureModule()
	primary, inlined := m.FileLine(0xdeadbeef)
	if primary.valid() {
		t.Fatalf("expected unresolved frame, got %+v", primary)
	}
	if inlined != nil {
		t.Fatalf("expected no inlined frames, got %+v", inlined)
	}
}

// TestResolveIsIdempotent resolves the same (module, ip) pair many times,
// concurrently, and checks every result is byte-identical: the resolver's
// cache must never produce a different answer for a repeated request.
func TestResolveIsIdempotent(t *testing.T) {
	m := fixtureModule()

	var results []Resolved
	var mu sync.Mutex
	r := New(16, func(res Resolved) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			r.Submit(Request{ID: id, IP: 0x1015, Module: m})
		}(int64(i))
	}
	wg.Wait()
	r.Close()

	if len(results) != 20 {
		t.Fatalf("got %d results, want 20", len(results))
	}
	for _, res := range results {
		if res.Primary.Function != "Foo::bar()" {
			t.Fatalf("resolved function = %q, want demangled Foo::bar()", res.Primary.Function)
		}
		if len(res.Inlined) != 1 || res.Inlined[0].Function != "Foo::helper()" {
			t.Fatalf("resolved inlined = %+v, want one Foo::helper() frame", res.Inlined)
		}
	}
}

func TestDemangleLeavesPlainNamesAlone(t *testing.T) {
	if got := demangleName("plainFunc"); got != "plainFunc" {
		t.Fatalf("demangleName(plainFunc) = %q, want unchanged", got)
	}
	if got := demangleName(""); got != "" {
		t.Fatalf("demangleName(\"\") = %q, want empty", got)
	}
}
