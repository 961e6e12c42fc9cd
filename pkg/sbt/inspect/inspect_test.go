package inspect

import (
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
)

// addWord encodes "add x10, x11, x12" as a little-endian byte slice.
func addWord() []byte {
	word := uint32(0)<<25 | uint32(12)<<20 | uint32(11)<<15 | uint32(0)<<12 | uint32(10)<<7 | 0x33
	return []byte{byte(word), byte(word >> 8), byte(word >> 16), byte(word >> 24)}
}

func TestNewRendersFirstSectionOnStartup(t *testing.T) {
	sec := &object.Section{
		Name:  ".text",
		Addr:  0x1000,
		Size:  4,
		Kind:  object.KindText,
		Bytes: addWord(),
		Symbols: []*object.Symbol{
			{Name: "main", Addr: 0x1000, Type: object.SymFunction},
		},
	}
	sec.Symbols[0].Section = sec

	obj := object.NewForTest([]*object.Section{sec})
	obj.Path = "test.o"

	b := New(obj, nil)
	require.NotNil(t, b)

	text := b.view.GetText(true)
	assert.Contains(t, text, "main:")
	assert.Contains(t, text, "0x00001000")
}

func TestRenderTextInterleavesSourceLines(t *testing.T) {
	sec := &object.Section{
		Name:  ".text",
		Addr:  0x2000,
		Size:  4,
		Kind:  object.KindText,
		Bytes: addWord(),
	}
	obj := object.NewForTest([]*object.Section{sec})

	src := map[object.GuestAddress][]string{
		0x2000: {"int add(int a, int b) {", "    return a + b;"},
	}

	b := New(obj, src)
	text := b.view.GetText(true)
	assert.Contains(t, text, "return a + b;")
}

func TestRenderDataSectionListsSymbols(t *testing.T) {
	sec := &object.Section{
		Name:  ".data",
		Addr:  0x3000,
		Size:  4,
		Kind:  object.KindData,
		Bytes: []byte{1, 2, 3, 4},
		Symbols: []*object.Symbol{
			{Name: "counter", Addr: 0x3000, Type: object.SymData},
		},
	}
	obj := object.NewForTest([]*object.Section{sec})

	b := New(obj, nil)
	text := b.view.GetText(true)
	assert.Contains(t, text, "counter")
}

func TestQuitKeyStopsApplication(t *testing.T) {
	sec := &object.Section{Name: ".text", Addr: 0x1000, Size: 4, Kind: object.KindText, Bytes: addWord()}
	obj := object.NewForTest([]*object.Section{sec})

	b := New(obj, nil)
	require.NotNil(t, b.app)

	capture := b.app.GetInputCapture()
	require.NotNil(t, capture)
	assert.Nil(t, capture(tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)), "q must be consumed by the quit handler")
}
