package object

import (
	"fmt"
	"io"
)

// NewForTest builds an *Object directly from pre-built sections, for use
// by other packages' tests that need a populated object without parsing
// an ELF file. Symbols are indexed from every section's Symbols slice.
func NewForTest(sections []*Section) *Object {
	obj := &Object{
		sectionsByName: make(map[string]*Section),
		symbolsByName:  make(map[string]*Symbol),
		sections:       sections,
	}
	for _, sec := range sections {
		obj.sectionsByName[sec.Name] = sec
		for _, sym := range sec.Symbols {
			if sym.Name != "" {
				obj.symbolsByName[sym.Name] = sym
			}
		}
	}
	for _, sec := range sections {
		obj.relocations = append(obj.relocations, sec.Relocs...)
	}
	return obj
}

// Dump writes a plain-text listing of sections, symbols and relocations
// to w, mirroring the original translator's Object::dump().
func (o *Object) Dump(w io.Writer) {
	for _, sec := range o.sections {
		fmt.Fprintf(w, "section %s: addr=0x%08x size=%d kind=%s\n", sec.Name, sec.Addr, sec.Size, sec.Kind)
		for _, sym := range sec.Symbols {
			fmt.Fprintf(w, "  symbol %s: addr=0x%08x type=%v\n", sym.Name, sym.Addr, sym.Type)
		}
		for _, rel := range sec.Relocs {
			fmt.Fprintf(w, "  reloc @0x%08x: %s -> %s\n", rel.Offset, rel.Type, rel.Symbol.Name)
		}
	}
}
