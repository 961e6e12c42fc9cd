// Package object loads a 32-bit little-endian RISC-V ELF file and exposes
// its sections, symbols and relocations in address order. Sections,
// symbols and relocations are created once at load time and are never
// mutated afterwards, except for a section's shadow-image offset which is
// assigned later by pkg/sbt/shadow.
package object

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
)

// GuestAddress is the address of an instruction or datum in the guest's
// 32-bit virtual address space. Every map keyed by GuestAddress is kept
// in sorted order by its owner.
type GuestAddress uint32

// SectionKind classifies a Section's storage.
type SectionKind int

const (
	KindOther SectionKind = iota
	KindText
	KindData
	KindBSS
	KindCommon
)

func (k SectionKind) String() string {
	switch k {
	case KindText:
		return "TEXT"
	case KindData:
		return "DATA"
	case KindBSS:
		return "BSS"
	case KindCommon:
		return "COMMON"
	default:
		return "OTHER"
	}
}

// Section is one allocatable (or pseudo, for .common) section of the
// guest object.
type Section struct {
	Name    string
	Addr    GuestAddress
	Size    uint64
	Kind    SectionKind
	Bytes   []byte // zero-filled for BSS/COMMON
	Relocs  []*Relocation
	Symbols []*Symbol // sorted by address, then name

	// ShadowOffset is assigned by pkg/sbt/shadow during image layout; it
	// is the only mutable field on a Section.
	ShadowOffset uint64
}

func (s *Section) isAllocatable() bool {
	return s.Kind == KindText || s.Kind == KindData || s.Kind == KindBSS || s.Kind == KindCommon
}

// Allocatable reports whether s occupies space in the guest's static
// memory image (TEXT, DATA, BSS or COMMON), the set pkg/sbt/shadow lays
// out into the shadow image.
func (s *Section) Allocatable() bool { return s.isAllocatable() }

// SymbolType classifies a Symbol.
type SymbolType int

const (
	SymUnknown SymbolType = iota
	SymData
	SymFunction
	SymFile
	SymOther
	SymDebug
)

// SymbolFlags is a bitset of ELF symbol binding/visibility attributes.
type SymbolFlags uint8

const (
	FlagGlobal SymbolFlags = 1 << iota
	FlagWeak
	FlagUndefined
	FlagCommon
	FlagHidden
)

func (f SymbolFlags) Has(flag SymbolFlags) bool { return f&flag != 0 }

// Symbol is a named location in the guest address space.
type Symbol struct {
	Name    string
	Section *Section // nil for external symbols
	Addr    GuestAddress
	Type    SymbolType
	Flags   SymbolFlags
}

// External reports whether sym has no section and a zero address - the
// definition of an external (undefined) symbol.
func (s *Symbol) External() bool {
	return s.Section == nil && s.Addr == 0
}

// Function reports whether sym denotes a function: it lives in a TEXT
// section and is either explicitly typed FUNCTION or carries the global
// binding flag.
func (s *Symbol) Function() bool {
	if s.Section == nil || s.Section.Kind != KindText {
		return false
	}
	return s.Type == SymFunction || s.Flags.Has(FlagGlobal)
}

// RelocType enumerates the relocation kinds this translator understands.
type RelocType int

const (
	RelUnknown RelocType = iota
	RelHI20PCRel
	RelHI20Abs
	RelLO12PCRelI
	RelLO12AbsI
	RelDataAbs32
)

func (t RelocType) String() string {
	switch t {
	case RelHI20PCRel:
		return "HI20_PCREL"
	case RelHI20Abs:
		return "HI20_ABS"
	case RelLO12PCRelI:
		return "LO12_PCREL_I"
	case RelLO12AbsI:
		return "LO12_ABS_I"
	case RelDataAbs32:
		return "DATA_ABS32"
	default:
		return "UNKNOWN"
	}
}

// IsHI20 reports whether t is one of the two HI20 variants.
func (t RelocType) IsHI20() bool { return t == RelHI20PCRel || t == RelHI20Abs }

// IsLO12 reports whether t is one of the two LO12 variants.
func (t RelocType) IsLO12() bool { return t == RelLO12PCRelI || t == RelLO12AbsI }

// Relocation patches a 32-bit immediate field in an owning Section at a
// given offset from a Symbol.
type Relocation struct {
	Section *Section
	Offset  uint64 // = guest address, for allocated sections
	Type    RelocType
	Symbol  *Symbol
}

// Object is a parsed ELF32LE RISC-V object file.
type Object struct {
	Path string

	sectionsByName map[string]*Section
	sections       []*Section // file order
	relocations    []*Relocation
	symbolsByName  map[string]*Symbol
}

// Load reads and parses path as a 32-bit little-endian RISC-V ELF object.
func Load(path string) (*Object, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, sbterr.FileError(path, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return nil, sbterr.UnsupportedFormat("not a 32-bit ELF object")
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, sbterr.UnsupportedFormat("not a little-endian ELF object")
	}
	if f.Machine != elf.EM_RISCV {
		return nil, sbterr.UnsupportedFormat("not a RISC-V ELF object")
	}

	obj := &Object{
		Path:           path,
		sectionsByName: make(map[string]*Section),
		symbolsByName:  make(map[string]*Symbol),
	}

	for _, s := range f.Sections {
		sec, err := buildSection(f, s)
		if err != nil {
			return nil, err
		}
		if sec == nil {
			continue // section kind we don't model (e.g. .comment, .symtab)
		}
		obj.sectionsByName[sec.Name] = sec
		obj.sections = append(obj.sections, sec)
	}

	if err := obj.readSymbols(f); err != nil {
		return nil, err
	}
	if err := obj.readRelocations(f); err != nil {
		return nil, err
	}
	obj.resolveRelocSymbols()

	obj.relocations = obj.relocations[:0]
	for _, sec := range obj.sections {
		sort.Slice(sec.Symbols, func(i, j int) bool {
			if sec.Symbols[i].Addr != sec.Symbols[j].Addr {
				return sec.Symbols[i].Addr < sec.Symbols[j].Addr
			}
			return sec.Symbols[i].Name < sec.Symbols[j].Name
		})
		sort.Slice(sec.Relocs, func(i, j int) bool {
			return sec.Relocs[i].Offset < sec.Relocs[j].Offset
		})
		obj.relocations = append(obj.relocations, sec.Relocs...)
	}

	return obj, nil
}

func buildSection(f *elf.File, s *elf.Section) (*Section, error) {
	var kind SectionKind
	switch {
	case s.Flags&elf.SHF_EXECINSTR != 0:
		kind = KindText
	case s.Type == elf.SHT_NOBITS:
		kind = KindBSS
	case s.Flags&elf.SHF_ALLOC != 0 && s.Flags&elf.SHF_WRITE != 0:
		kind = KindData
	case s.Flags&elf.SHF_ALLOC != 0:
		kind = KindData
	default:
		kind = KindOther
	}

	sec := &Section{
		Name: s.Name,
		Addr: GuestAddress(s.Addr),
		Size: s.Size,
		Kind: kind,
	}

	if kind == KindBSS {
		sec.Bytes = make([]byte, s.Size)
		return sec, nil
	}
	if !sec.isAllocatable() && s.Flags&elf.SHF_ALLOC == 0 {
		return nil, nil
	}

	data, err := s.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: section %q: %v", sbterr.ErrUnsupportedFormat, s.Name, err)
	}
	sec.Bytes = data
	return sec, nil
}

func (o *Object) readSymbols(f *elf.File) error {
	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return fmt.Errorf("%w: %v", sbterr.ErrUnsupportedFormat, err)
	}

	for _, s := range syms {
		sym := &Symbol{
			Name: s.Name,
			Addr: GuestAddress(s.Value),
			Type:  symbolType(s),
			Flags: symbolFlags(s),
		}

		if int(s.Section) < len(f.Sections) && s.Section != elf.SHN_UNDEF && s.Section != elf.SHN_COMMON {
			if sec, ok := o.sectionsByName[f.Sections[s.Section].Name]; ok {
				sym.Section = sec
			}
		}
		if s.Section == elf.SHN_COMMON {
			sym.Flags |= FlagCommon
		}
		if s.Section == elf.SHN_UNDEF {
			sym.Flags |= FlagUndefined
			sym.Addr = 0
		}

		if sym.Section != nil {
			sym.Section.Symbols = append(sym.Section.Symbols, sym)
		}
		if sym.Name != "" {
			o.symbolsByName[sym.Name] = sym
		}
	}
	return nil
}

// resolveRelocSymbols replaces the placeholder symbols created while
// decoding relocations (which only know a name) with the real *Symbol
// parsed by readSymbols, so relocations referencing an internal symbol
// share its Section/Addr/Flags.
func (o *Object) resolveRelocSymbols() {
	for _, rel := range o.relocations {
		if rel.Symbol == nil || rel.Symbol.Name == "" {
			continue
		}
		if real, ok := o.symbolsByName[rel.Symbol.Name]; ok {
			rel.Symbol = real
		}
		// else: keep the placeholder, an external symbol with no section
		// and zero address - satisfies Symbol.External().
	}
}

func symbolType(s elf.Symbol) SymbolType {
	switch elf.ST_TYPE(s.Info) {
	case elf.STT_FUNC:
		return SymFunction
	case elf.STT_OBJECT:
		return SymData
	case elf.STT_FILE:
		return SymFile
	case elf.STT_SECTION, elf.STT_NOTYPE:
		return SymOther
	default:
		return SymDebug
	}
}

func symbolFlags(s elf.Symbol) SymbolFlags {
	var flags SymbolFlags
	switch elf.ST_BIND(s.Info) {
	case elf.STB_GLOBAL:
		flags |= FlagGlobal
	case elf.STB_WEAK:
		flags |= FlagWeak
	}
	if elf.ST_VISIBILITY(s.Other) == elf.STV_HIDDEN {
		flags |= FlagHidden
	}
	return flags
}

func (o *Object) readRelocations(f *elf.File) error {
	for _, sec := range o.sections {
		elfSec := f.Section(sec.Name)
		if elfSec == nil {
			continue
		}
		relSec := f.Section(".rela" + sec.Name)
		if relSec == nil {
			relSec = f.Section(".rel" + sec.Name)
		}
		if relSec == nil {
			continue
		}

		relocs, err := decodeRelocations(f, relSec, sec)
		if err != nil {
			return err
		}
		sec.Relocs = relocs
		o.relocations = append(o.relocations, relocs...)
	}
	return nil
}

func decodeRelocations(f *elf.File, relSec *elf.Section, owner *Section) ([]*Relocation, error) {
	data, err := relSec.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: relocation section %q: %v", sbterr.ErrUnsupportedFormat, relSec.Name, err)
	}

	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("%w: %v", sbterr.ErrUnsupportedFormat, err)
	}

	const relaEntSize = 12 // Elf32_Rela: r_offset, r_info, r_addend
	var out []*Relocation
	for i := 0; i+relaEntSize <= len(data); i += relaEntSize {
		offset := f.ByteOrder.Uint32(data[i:])
		info := f.ByteOrder.Uint32(data[i+4:])
		symIdx := info >> 8
		relType := info & 0xff

		rt, err := mapRelocType(relType)
		if err != nil {
			return nil, err
		}

		var symName string
		if symIdx > 0 && int(symIdx) <= len(syms) {
			symName = syms[symIdx-1].Name // f.Symbols() omits the null symbol at index 0
		}

		rel := &Relocation{
			Section: owner,
			Offset:  uint64(offset),
			Type:    rt,
			Symbol:  &Symbol{Name: symName}, // patched to the real *Symbol by resolveRelocSymbols
		}
		out = append(out, rel)
	}
	return out, nil
}

// RISC-V relocation type numbers, from the psABI.
const (
	rRiscvHi20       = 26
	rRiscvLo12I      = 27
	rRiscvPcrelHi20  = 23
	rRiscvPcrelLo12I = 24
	rRiscv32         = 1
)

func mapRelocType(t uint32) (RelocType, error) {
	switch t {
	case rRiscvPcrelHi20:
		return RelHI20PCRel, nil
	case rRiscvHi20:
		return RelHI20Abs, nil
	case rRiscvPcrelLo12I:
		return RelLO12PCRelI, nil
	case rRiscvLo12I:
		return RelLO12AbsI, nil
	case rRiscv32:
		return RelDataAbs32, nil
	default:
		return RelUnknown, sbterr.UnknownRelocation(t)
	}
}

// SectionByName returns the section with the given name, or nil.
func (o *Object) SectionByName(name string) *Section {
	return o.sectionsByName[name]
}

// LookupSymbol returns the symbol named name, if any.
func (o *Object) LookupSymbol(name string) (*Symbol, bool) {
	s, ok := o.symbolsByName[name]
	return s, ok
}

// Sections returns every section in file order.
func (o *Object) Sections() []*Section {
	return o.sections
}

// TextSections returns every TEXT section, in file order.
func (o *Object) TextSections() []*Section {
	var out []*Section
	for _, s := range o.sections {
		if s.Kind == KindText {
			out = append(out, s)
		}
	}
	return out
}

// SectionAt returns the section containing guest address addr, or nil.
func (o *Object) SectionAt(addr GuestAddress) *Section {
	for _, s := range o.sections {
		if !s.isAllocatable() {
			continue
		}
		if addr >= s.Addr && uint64(addr-s.Addr) < s.Size {
			return s
		}
	}
	return nil
}

// SymbolAt returns the symbol at exactly addr within section, or nil.
func SymbolAt(section *Section, addr GuestAddress) *Symbol {
	for _, s := range section.Symbols {
		if s.Addr == addr {
			return s
		}
	}
	return nil
}

// Functions returns the symbols in section classified as functions (per
// Symbol.Function), sorted by address then name.
func (o *Object) Functions(section *Section) []*Symbol {
	var out []*Symbol
	for _, s := range section.Symbols {
		if s.Function() {
			out = append(out, s)
		}
	}
	return out
}

// RelocationsIn returns section's relocations sorted by offset.
func (o *Object) RelocationsIn(section *Section) []*Relocation {
	return section.Relocs
}

// Relocations returns every relocation in the object, section order then
// offset order.
func (o *Object) Relocations() []*Relocation {
	return o.relocations
}
