package parser

import (
	"github.com/jhanssen/mtrack-sub000/internal/metrics"
	"github.com/jhanssen/mtrack-sub000/internal/resolver"
)

// writeStacks resolves every indexed stack to its frames and streams
// them out, mirroring Parser::writeStacks: for each IP, find its owning
// module via the module cache, then ask the module for its primary and
// inlined frames. Function/file names are interned into the string
// table so the stacks array carries only small integer ids.
func (p *Parser) writeStacks() {
	metrics.StacksIndexed.Set(float64(p.stacks.Len()))

	p.w.OpenStacks()
	for id := 0; id < p.stacks.Len(); id++ {
		stack := p.stacks.Stack(int32(id))
		p.w.StartStack()
		for _, ip := range stack {
			mod := p.cache.find(p.allModules, ip)
			if mod == nil {
				metrics.ResolvedAddressesTotal.WithLabelValues("miss").Inc()
				p.w.Frame(p.intern(""), p.intern(""), 0, nil)
				continue
			}
			primary, inlined := mod.FileLine(ip)
			if primary.Function != "" {
				metrics.ResolvedAddressesTotal.WithLabelValues("hit").Inc()
			} else {
				metrics.ResolvedAddressesTotal.WithLabelValues("miss").Inc()
			}
			funcID := p.intern(demangledOrEmpty(primary.Function))
			fileID := p.intern(primary.File)

			var inlinedTriples [][3]int32
			for _, inl := range inlined {
				inlinedTriples = append(inlinedTriples, [3]int32{
					p.intern(demangledOrEmpty(inl.Function)),
					p.intern(inl.File),
					inl.Line,
				})
			}
			p.w.Frame(funcID, fileID, primary.Line, inlinedTriples)
		}
		p.w.EndStack()
	}
	p.w.CloseStacks()
}

func (p *Parser) writeStrings() {
	metrics.StringsIndexed.Set(float64(p.strings.Len()))

	p.w.OpenStrings()
	for _, s := range p.strings.Values() {
		p.w.String(jsonEscape(s))
	}
	p.w.CloseStrings()
}

func (p *Parser) intern(s string) int32 {
	id, _ := p.strings.Index(s)
	return id
}

func demangledOrEmpty(name string) string { return resolver.Demangle(name) }

func jsonEscape(s string) string {
	var needsEscape bool
	for _, r := range s {
		if r == '"' || r == '\\' || r < 0x20 {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return s
	}
	var b []byte
	for _, r := range s {
		switch r {
		case '"':
			b = append(b, '\\', '"')
		case '\\':
			b = append(b, '\\', '\\')
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\t':
			b = append(b, '\\', 't')
		default:
			if r < 0x20 {
				b = append(b, []byte(` `)...)
			} else {
				b = append(b, []byte(string(r))...)
			}
		}
	}
	return string(b)
}
