package shadow

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
)

func newObject(sections ...*object.Section) *object.Object {
	return object.NewForTest(sections)
}

func TestLayoutAlignmentAndNonOverlap(t *testing.T) {
	text := &object.Section{Name: ".text", Addr: 0x1000, Size: 10, Kind: object.KindText, Bytes: make([]byte, 10)}
	data := &object.Section{Name: ".data", Addr: 0x2000, Size: 6, Kind: object.KindData, Bytes: make([]byte, 6)}
	bss := &object.Section{Name: ".bss", Addr: 0x3000, Size: 20, Kind: object.KindBSS, Bytes: make([]byte, 20)}

	obj := newObject(text, data, bss)
	m := ir.NewModule()
	img, err := Build(m, obj)
	require.NoError(t, err)

	textOff, ok := img.ShadowOffset(".text")
	require.True(t, ok)
	assert.Equal(t, uint32(0), textOff)

	dataOff, ok := img.ShadowOffset(".data")
	require.True(t, ok)
	assert.Equal(t, uint32(0), dataOff%4, "every section must start 4-byte aligned")
	assert.GreaterOrEqual(t, dataOff, uint32(10))

	bssOff, ok := img.ShadowOffset(".bss")
	require.True(t, ok)
	assert.Equal(t, uint32(0), bssOff%4)
	assert.GreaterOrEqual(t, bssOff, dataOff+6)

	for _, name := range []string{".text", ".data", ".bss"} {
		_, ok := img.SectionBase(name)
		assert.True(t, ok, "section %s must have an emitted global", name)
	}
}

func TestHostPointerResolvesIntoOwningSection(t *testing.T) {
	data := &object.Section{Name: ".data", Addr: 0x2000, Size: 8, Kind: object.KindData, Bytes: make([]byte, 8)}
	obj := newObject(data)
	m := ir.NewModule()
	img, err := Build(m, obj)
	require.NoError(t, err)

	v, ok := img.HostPointer(0x2004)
	require.True(t, ok)
	assert.NotNil(t, v)

	_, ok = img.HostPointer(0x9999)
	assert.False(t, ok)
}

func TestRelocatedSectionDeferredAndPatched(t *testing.T) {
	target := &object.Section{Name: ".rodata", Addr: 0x100, Size: 4, Kind: object.KindData, Bytes: []byte{1, 2, 3, 4}}
	data := &object.Section{
		Name: ".data", Addr: 0x200, Size: 8, Kind: object.KindData,
		Bytes: make([]byte, 8),
	}
	sym := &object.Symbol{Name: "rostr", Section: target, Addr: target.Addr}
	data.Relocs = []*object.Relocation{
		{Section: data, Offset: 0, Type: object.RelDataAbs32, Symbol: sym},
	}

	obj := newObject(target, data)
	m := ir.NewModule()
	img, err := Build(m, obj)
	require.NoError(t, err)

	g, ok := img.SectionBase(".data")
	require.True(t, ok)
	_, patched := g.(*ir.Global).Init.(*constant.Struct)
	assert.True(t, patched, "a section with a data relocation is emitted as a packed struct carrying the relocated word")
	_, ok = img.SectionBase(".rodata")
	assert.True(t, ok)
}
