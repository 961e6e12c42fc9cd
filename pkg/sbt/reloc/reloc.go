// Package reloc resolves RISC-V HI20/LO12 relocation pairs against a
// section's relocation list, in step with the decoder cursor, producing
// the i32 value an AUIPC/LUI/load/store/call site should use in place of
// its literal immediate.
package reloc

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
)

// Importer resolves an external symbol name to the host-side address
// that should stand in for it (e.g. a thunk or the symbol's PLT entry).
// Kept as an interface so this package has no import cycle on
// pkg/sbt/translator, which implements it.
type Importer interface {
	Import(name string) (object.GuestAddress, error)
}

// ShadowMemory is the subset of pkg/sbt/shadow.Image the resolver needs:
// the guest_addr -> host_pointer mapping for data references.
type ShadowMemory interface {
	HostPointer(addr object.GuestAddress) (value.Value, bool)
}

// pairState is the {AwaitHi, Paired} state machine driving HI20/LO12
// pairing: an HI20 relocation is remembered so a later LO12_PCREL_I
// relocation (which carries no symbol of its own) can borrow it.
type pairState int

const (
	// AwaitHi: no HI20 has been seen yet in this section.
	AwaitHi pairState = iota
	// Paired: an HI20 relocation has been recorded and is available to
	// a LO12_PCREL_I relocation that follows it.
	Paired
)

// Resolver walks one section's relocations in offset order alongside the
// decoder cursor.
type Resolver struct {
	relocs   []*object.Relocation
	idx      int
	state    pairState
	hiSym    *object.Symbol
	importer Importer
	shadow   ShadowMemory

	lastName string
	lastAddr object.GuestAddress
	hasLast  bool
}

// NewResolver builds a Resolver over relocs, which must already be
// sorted by Offset (pkg/sbt/object.Load guarantees this).
func NewResolver(relocs []*object.Relocation, importer Importer, shadow ShadowMemory) *Resolver {
	return &Resolver{relocs: relocs, importer: importer, shadow: shadow}
}

// Resolve checks whether a relocation exists at guest address pc. If not,
// it returns (nil, false, nil) and the caller should fall back to the
// instruction's literal immediate. If one exists, it is classified,
// computed against the masked symbol address (or, for external symbols,
// the imported host thunk address, or, for data, a GEP into the shadow
// image), and the relocation cursor is advanced past every relocation
// sharing this offset.
func (r *Resolver) Resolve(b *ir.Block, pc object.GuestAddress) (value.Value, bool, error) {
	if r.idx >= len(r.relocs) {
		return nil, false, nil
	}
	rel := r.relocs[r.idx]
	if uint64(pc) != rel.Offset {
		return nil, false, nil
	}

	var mask uint32
	var sym *object.Symbol

	switch {
	case rel.Type.IsHI20():
		mask = 0xFFFFF000
		sym = rel.Symbol
		r.hiSym = sym
		r.state = Paired
	case rel.Type == object.RelLO12PCRelI:
		mask = 0x00000FFF
		sbterr.Assert(r.state == Paired && r.hiSym != nil, "reloc: LO12_PCREL_I at 0x%x has no preceding HI20", pc)
		sym = r.hiSym
	case rel.Type == object.RelLO12AbsI:
		mask = 0x00000FFF
		sym = rel.Symbol
	case rel.Type == object.RelDataAbs32:
		mask = 0xFFFFFFFF
		sym = rel.Symbol
	default:
		return nil, false, sbterr.UnknownRelocation(uint32(rel.Type))
	}

	v, err := r.compute(b, sym, mask)
	if err != nil {
		return nil, false, err
	}

	for r.idx < len(r.relocs) && r.relocs[r.idx].Offset == rel.Offset {
		r.idx++
	}

	r.lastName = sym.Name
	r.lastAddr = sym.Addr
	r.hasLast = true
	return v, true, nil
}

func (r *Resolver) compute(b *ir.Block, sym *object.Symbol, mask uint32) (value.Value, error) {
	switch {
	case sym.External():
		addr, err := r.importer.Import(sym.Name)
		if err != nil {
			return nil, err
		}
		return constant.NewInt(types.I32, int64(uint32(addr)&mask)), nil

	case sym.Function():
		return constant.NewInt(types.I32, int64(uint32(sym.Addr)&mask)), nil

	default:
		ptr, ok := r.shadow.HostPointer(sym.Addr)
		sbterr.Assert(ok, "reloc: no shadow mapping for data symbol %q at 0x%x", sym.Name, sym.Addr)
		asInt := b.NewPtrToInt(ptr, types.I32)
		masked := b.NewAnd(asInt, constant.NewInt(types.I32, int64(mask)))
		return masked, nil
	}
}

// LastSymbol returns the symbol most recently resolved, used by
// AUIPC/LUI handlers to bypass the normal "immediate << 12 + PC"
// arithmetic when the resolved value is already the final field.
func (r *Resolver) LastSymbol() (name string, addr object.GuestAddress, ok bool) {
	return r.lastName, r.lastAddr, r.hasLast
}
