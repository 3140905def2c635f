// Package resolver implements the background address-resolution worker
// (spec.md §4.I) and the per-module debug-info registry (§4.J) it
// consults. Symbolization is grounded on perfsession/symbolize.go's
// DWARF function/line table walk, extended with inline-frame support and
// an ELF-symbol-table fallback to mirror libbacktrace's fileline_fn/
// syminfo_fn two-step resolution from the original mtrack ResolverThread.
package resolver

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"

	"github.com/jhanssen/mtrack-sub000/internal/indexer"
	"github.com/jhanssen/mtrack-sub000/internal/wire"
)

// HeaderRange is one PT_LOAD-equivalent segment's absolute address range.
type HeaderRange struct {
	Start, End uint64
}

// Module is a loaded code unit: a file, its load address, its loadable
// segments, and (if construction succeeded) the debug-info state used to
// resolve instruction pointers within it. Construction never fails loudly:
// a Module whose debug info could not be loaded simply resolves every IP
// to the unresolved sentinel, matching spec.md §4.J and §7.
type Module struct {
	File     string
	LoadAddr uint64
	Headers  []HeaderRange

	debug   *debugInfo
	symbols []elfSymbol // sorted by Value, ELF-symtab fallback
}

// Registry deduplicates Modules by filename through a shared string
// indexer, exactly as parser/Module.cpp's Module::create does via its
// sModules side table keyed by indexer id.
type Registry struct {
	strings *indexer.Indexer[string]
	byID    map[int32]*Module
}

// NewRegistry returns an empty module registry backed by strings.
func NewRegistry(strings *indexer.Indexer[string]) *Registry {
	return &Registry{strings: strings, byID: make(map[int32]*Module)}
}

// GetOrCreate returns the Module for filename, constructing it the first
// time it's seen for the given application type and load address.
func (reg *Registry) GetOrCreate(appType wire.ApplicationType, filename string, loadAddr uint64) *Module {
	id, _ := reg.strings.Index(filename)
	if id < 0 {
		// Empty filename: construct an ephemeral, never-cached module.
		return newModule(appType, filename, loadAddr)
	}
	if m, ok := reg.byID[id]; ok {
		return m
	}
	m := newModule(appType, filename, loadAddr)
	reg.byID[id] = m
	return m
}

// ByFile returns the module for filename if it has already been created,
// without constructing one.
func (reg *Registry) ByFile(filename string) (*Module, bool) {
	id, _ := reg.strings.Index(filename)
	m, ok := reg.byID[id]
	return m, ok
}

func newModule(appType wire.ApplicationType, filename string, loadAddr uint64) *Module {
	m := &Module{File: filename, LoadAddr: loadAddr}
	switch appType {
	case wire.AppWASM:
		m.debug, m.symbols = newWASMModule(filename)
	default:
		m.debug, m.symbols = newELFModule(filename)
	}
	return m
}

// AddHeader records one PT_LOAD-equivalent segment, in absolute address
// space (LoadAddr + addr, relative to the module's own addr/size pair as
// recorded on the wire), mirroring Module::addHeader.
func (m *Module) AddHeader(addr, size uint64) {
	m.Headers = append(m.Headers, HeaderRange{m.LoadAddr + addr, m.LoadAddr + addr + size})
}

func newELFModule(filename string) (*debugInfo, []elfSymbol) {
	f, err := elf.Open(filename)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	syms := loadELFSymbols(f)

	if f.Section(".debug_info") == nil {
		return nil, syms
	}
	dwarfData, err := f.DWARF()
	if err != nil {
		return nil, syms
	}
	return buildDebugInfo(dwarfData), syms
}

func loadELFSymbols(f *elf.File) []elfSymbol {
	var out []elfSymbol
	add := func(syms []elf.Symbol) {
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
				continue
			}
			out = append(out, elfSymbol{Name: s.Name, Value: s.Value, Size: s.Size})
		}
	}
	if syms, err := f.Symbols(); err == nil {
		add(syms)
	}
	if len(out) == 0 {
		if syms, err := f.DynamicSymbols(); err == nil {
			add(syms)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

type elfSymbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// findSymbol returns the function symbol containing ip, if any.
func findSymbol(syms []elfSymbol, ip uint64) (string, bool) {
	i := sort.Search(len(syms), func(i int) bool { return syms[i].Value > ip })
	if i == 0 {
		return "", false
	}
	s := syms[i-1]
	if s.Size == 0 || ip < s.Value+s.Size {
		if ip >= s.Value {
			return s.Name, true
		}
	}
	return "", false
}

// Frame is a resolved (function, file, line) triple. A Frame is "valid"
// when Function is non-empty; the empty Frame is the absent-value
// sentinel used throughout resolution and the JSON writer.
type Frame struct {
	Function string
	File     string
	Line     int32
}

func (f Frame) valid() bool { return f.Function != "" }

// FileLine resolves ip to a primary frame plus any inlined frames,
// innermost-first, exactly as ResolverThread.cpp's backtrace_callback
// accumulates: the first callback invocation fills the primary frame,
// subsequent invocations (from inlined call chains) are appended to the
// inlined list.
func (m *Module) FileLine(ip uint64) (primary Frame, inlined []Frame) {
	if m.debug != nil {
		primary, inlined = m.debug.fileLine(ip)
	}
	if !primary.valid() {
		if name, ok := findSymbol(m.symbols, ip); ok {
			primary.Function = name
		}
	}
	return primary, inlined
}

func (m *Module) String() string {
	return fmt.Sprintf("Module{%s@%#x, %d headers}", m.File, m.LoadAddr, len(m.Headers))
}

// debugInfo holds the DWARF-derived function and line tables used to
// resolve IPs within a single module, grounded on
// perfsession/symbolize.go's dwarfFuncTable/dwarfLineTable/findIP, with
// inline-subroutine support added.
type debugInfo struct {
	funcs   []funcRange
	inlines []inlineRange // children of funcs, may nest
	lines   []dwarf.LineEntry
}

type funcRange struct {
	name          string
	lowpc, highpc uint64
}

type inlineRange struct {
	name          string
	lowpc, highpc uint64
}

func buildDebugInfo(d *dwarf.Data) *debugInfo {
	info := &debugInfo{}
	r := d.Reader()
	for {
		ent, err := r.Next()
		if ent == nil || err != nil {
			break
		}
		switch ent.Tag {
		case dwarf.TagSubprogram:
			name, lowpc, highpc, ok := rangeOf(ent)
			if ok {
				info.funcs = append(info.funcs, funcRange{name, lowpc, highpc})
			}
			if ent.Children {
				collectInlines(d, r, &info.inlines)
			}
		case dwarf.TagCompileUnit:
			collectLines(d, ent, &info.lines)
		default:
			r.SkipChildren()
		}
	}
	sort.Slice(info.funcs, func(i, j int) bool { return info.funcs[i].lowpc < info.funcs[j].lowpc })
	sort.Slice(info.inlines, func(i, j int) bool {
		// Innermost (narrowest range) first among overlapping entries;
		// ties broken by lowpc for determinism.
		wi := info.inlines[i].highpc - info.inlines[i].lowpc
		wj := info.inlines[j].highpc - info.inlines[j].lowpc
		if wi != wj {
			return wi < wj
		}
		return info.inlines[i].lowpc < info.inlines[j].lowpc
	})
	sort.Slice(info.lines, func(i, j int) bool { return info.lines[i].Address < info.lines[j].Address })
	return info
}

// collectInlines walks ent's children (the reader is positioned right
// after a TagSubprogram entry with ent.Children) looking for
// TagInlinedSubroutine entries at any depth, recording their resolved
// name and PC range. The reader cursor is left past the subprogram's
// subtree either way.
func collectInlines(d *dwarf.Data, r *dwarf.Reader, out *[]inlineRange) {
	for {
		child, err := r.Next()
		if child == nil || err != nil {
			return
		}
		if child.Tag == 0 {
			// End of this subtree (a null entry closes the children list).
			return
		}
		if child.Tag == dwarf.TagInlinedSubroutine {
			name, lowpc, highpc, ok := rangeOf(child)
			if ok {
				if name == "" {
					name = abstractOriginName(d, child)
				}
				*out = append(*out, inlineRange{name, lowpc, highpc})
			}
		}
		if !child.Children {
			continue
		}
		collectInlines(d, r, out)
	}
}

func abstractOriginName(d *dwarf.Data, ent *dwarf.Entry) string {
	off, ok := ent.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
	if !ok {
		return ""
	}
	r := d.Reader()
	r.Seek(off)
	origin, err := r.Next()
	if err != nil || origin == nil {
		return ""
	}
	name, _ := origin.Val(dwarf.AttrName).(string)
	return name
}

func rangeOf(ent *dwarf.Entry) (name string, lowpc, highpc uint64, ok bool) {
	name, _ = ent.Val(dwarf.AttrName).(string)
	lowpc, lok := ent.Val(dwarf.AttrLowpc).(uint64)
	if !lok {
		return "", 0, 0, false
	}
	switch h := ent.Val(dwarf.AttrHighpc).(type) {
	case uint64:
		highpc = h
	case int64:
		highpc = lowpc + uint64(h)
	default:
		return "", 0, 0, false
	}
	return name, lowpc, highpc, true
}

func collectLines(d *dwarf.Data, cu *dwarf.Entry, out *[]dwarf.LineEntry) {
	lr, err := d.LineReader(cu)
	if err != nil || lr == nil {
		return
	}
	for {
		var lent dwarf.LineEntry
		if err := lr.Next(&lent); err != nil {
			return
		}
		*out = append(*out, lent)
	}
}

func (info *debugInfo) fileLine(ip uint64) (primary Frame, inlined []Frame) {
	i := sort.Search(len(info.funcs), func(i int) bool { return ip < info.funcs[i].highpc })
	if i < len(info.funcs) && info.funcs[i].lowpc <= ip && ip < info.funcs[i].highpc {
		primary.Function = info.funcs[i].name
	}

	li := sort.Search(len(info.lines), func(i int) bool { return ip < info.lines[i].Address })
	if li != 0 && !info.lines[li-1].EndSequence {
		primary.File = info.lines[li-1].File.Name
		primary.Line = int32(info.lines[li-1].Line)
	}

	for _, inl := range info.inlines {
		if inl.lowpc <= ip && ip < inl.highpc {
			inlined = append(inlined, Frame{Function: inl.name, File: primary.File, Line: primary.Line})
		}
	}
	return primary, inlined
}
