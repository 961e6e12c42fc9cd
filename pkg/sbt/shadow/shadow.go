// Package shadow builds the single host-visible memory that mirrors the
// guest object's statically allocated sections: one immutable global
// per section (a byte array, or a packed struct for a section with
// data-to-data relocations), with those relocations applied to the
// initializer rather than left as raw bytes.
package shadow

import (
	"sort"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
)

// Image is the host-side mirror of every allocatable guest section.
type Image struct {
	m            *ir.Module
	obj          *object.Object
	globals      map[string]*ir.Global
	shadowOffset map[string]uint32
}

// Build runs the layout+emit+relocate algorithm: align and reserve space
// for every allocatable section in file order, emit one global array per
// section, then apply data-to-data relocations. A section whose
// relocations reference a section not yet emitted is deferred to a
// second pass run after every other section's global exists.
func Build(m *ir.Module, obj *object.Object) (*Image, error) {
	img := &Image{
		m:            m,
		obj:          obj,
		globals:      make(map[string]*ir.Global),
		shadowOffset: make(map[string]uint32),
	}

	var cursor uint32
	var deferred []*object.Section

	for _, sec := range obj.Sections() {
		if !sec.Allocatable() {
			continue
		}
		if cursor%4 != 0 {
			cursor += 4 - cursor%4
		}
		img.shadowOffset[sec.Name] = cursor
		sec.ShadowOffset = uint64(cursor)
		cursor += uint32(sec.Size)

		if sec.Kind != object.KindText && len(dataRelocs(sec)) > 0 {
			deferred = append(deferred, sec)
			continue
		}

		img.globals[sec.Name] = img.emitPlain(sec)
	}

	for _, sec := range deferred {
		g, err := img.emitRelocated(sec)
		if err != nil {
			return nil, err
		}
		img.globals[sec.Name] = g
	}

	return img, nil
}

// dataRelocs returns sec's relocations that are not handled by the
// per-instruction relocation resolver (pkg/sbt/reloc): text sections are
// relocated during translation, so only non-text relocations need
// applying here.
func dataRelocs(sec *object.Section) []*object.Relocation {
	if sec.Kind == object.KindText {
		return nil
	}
	return sec.Relocs
}

func (img *Image) emitPlain(sec *object.Section) *ir.Global {
	arrType := types.NewArray(sec.Size, types.I8)
	var init constant.Constant
	if isZero(sec.Bytes) {
		init = constant.NewZeroInitializer(arrType)
	} else {
		init = constant.NewCharArray(sec.Bytes)
	}
	g := img.m.NewGlobalDef("ShadowMemory"+sec.Name, init)
	g.Immutable = true
	return g
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// emitRelocated builds sec's global as a packed struct alternating raw
// byte-array chunks with the i32 host pointer of each relocation's
// target, computed as a constant GEP+ptrtoint into the target section's
// already-emitted global.
func (img *Image) emitRelocated(sec *object.Section) (*ir.Global, error) {
	relocs := append([]*object.Relocation(nil), dataRelocs(sec)...)
	sort.Slice(relocs, func(i, j int) bool { return relocs[i].Offset < relocs[j].Offset })

	var fields []constant.Constant
	var fieldTypes []types.Type
	var prev uint64

	flush := func(end uint64) {
		if end > prev {
			chunk := sec.Bytes[prev:end]
			fields = append(fields, constant.NewCharArray(chunk))
			fieldTypes = append(fieldTypes, types.NewArray(uint64(len(chunk)), types.I8))
		}
	}

	for _, rel := range relocs {
		if rel.Offset < prev || rel.Offset+4 > uint64(len(sec.Bytes)) {
			return nil, sbterr.UnknownRelocation(uint32(rel.Type))
		}
		flush(rel.Offset)

		ptr, err := img.hostPointerConstant(rel.Symbol)
		if err != nil {
			return nil, err
		}
		asInt := constant.NewPtrToInt(ptr, types.I32)
		fields = append(fields, asInt)
		fieldTypes = append(fieldTypes, types.I32)
		prev = rel.Offset + 4
	}
	flush(uint64(len(sec.Bytes)))

	structType := types.NewStruct(fieldTypes...)
	structType.Packed = true
	init := constant.NewStruct(structType, fields...)

	g := img.m.NewGlobalDef("ShadowMemory"+sec.Name, init)
	g.Immutable = true
	return g, nil
}

// hostPointerConstant returns a constant GEP into sym's section global at
// sym's in-section offset - a pointer-typed constant expression, not a
// runtime value, since every shadow slot is fixed at module build time.
func (img *Image) hostPointerConstant(sym *object.Symbol) (constant.Constant, error) {
	sbterr.Assert(sym != nil && sym.Section != nil, "shadow: data relocation target %v has no section", sym)

	target, ok := img.globals[sym.Section.Name]
	sbterr.Assert(ok, "shadow: section %q not yet emitted when relocating into it", sym.Section.Name)

	offset := uint64(sym.Addr - sym.Section.Addr)
	elemType := target.ContentType
	return constant.NewGetElementPtr(elemType, target,
		constant.NewInt(types.I64, 0),
		constant.NewInt(types.I64, int64(offset)),
	), nil
}

// SectionBase returns the global backing name, if it was emitted.
func (img *Image) SectionBase(name string) (value.Value, bool) {
	g, ok := img.globals[name]
	return g, ok
}

// HostPointer returns a constant byte pointer into the shadow image at
// addr, the guest_addr -> host_pointer mapping relocation and caller
// lowering need for data references.
func (img *Image) HostPointer(addr object.GuestAddress) (value.Value, bool) {
	sec := img.obj.SectionAt(addr)
	if sec == nil {
		return nil, false
	}
	g, ok := img.globals[sec.Name]
	if !ok {
		return nil, false
	}
	offset := uint64(addr - sec.Addr)
	return constant.NewGetElementPtr(g.ContentType, g,
		constant.NewInt(types.I64, 0),
		constant.NewInt(types.I64, int64(offset)),
	), true
}

// ShadowOffset returns the cursor position assigned to section name
// during layout (the same value Build stores in Section.ShadowOffset).
func (img *Image) ShadowOffset(name string) (uint32, bool) {
	off, ok := img.shadowOffset[name]
	return off, ok
}
