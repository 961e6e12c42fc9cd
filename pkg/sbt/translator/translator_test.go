package translator

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/function"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/reloc"
)

// encodeR assembles an R-type word: funct7|rs2|rs1|funct3|rd|opcode.
func encodeR(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

// encodeI assembles an I-type word: imm[11:0]|rs1|funct3|rd|opcode.
func encodeI(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20&0xFFF00000 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

// encodeB assembles a B-type (branch) word from its signed byte offset.
func encodeB(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	bit12 := (u >> 12) & 1
	bit11 := (u >> 11) & 1
	bits10_5 := (u >> 5) & 0x3F
	bits4_1 := (u >> 1) & 0xF
	return bit12<<31 | bits10_5<<25 | rs2<<20 | rs1<<15 | funct3<<12 | bits4_1<<8 | bit11<<7 | opcode
}

func newTranslator(t *testing.T) (*Translator, *ir.Module) {
	t.Helper()
	m := ir.NewModule()
	obj := &object.Object{Path: "test"}
	tr, err := New(m, obj, Options{RegisterMode: Globals})
	require.NoError(t, err)
	return tr, m
}

func sectionWith(words ...uint32) *object.Section {
	bytes := make([]byte, 4*len(words))
	for i, w := range words {
		bytes[i*4+0] = byte(w)
		bytes[i*4+1] = byte(w >> 8)
		bytes[i*4+2] = byte(w >> 16)
		bytes[i*4+3] = byte(w >> 24)
	}
	return &object.Section{
		Name:  ".text",
		Addr:  0x1000,
		Size:  uint64(len(bytes)),
		Kind:  object.KindText,
		Bytes: bytes,
	}
}

// cursorOverNoReloc builds a cursor over sec with no relocations to pair
// against, enough to drive Translator.Step/runPass directly without
// going through Object loading or TranslateModule's function discovery.
func cursorOverNoReloc(t *testing.T, tr *Translator, fn *ir.Func, sec *object.Section) *TranslationCursor {
	t.Helper()
	builder := function.NewBuilder(fn, sec.Addr)
	return &TranslationCursor{
		Section:  sec,
		Start:    sec.Addr,
		PC:       sec.Addr,
		End:      sec.Addr + object.GuestAddress(sec.Size),
		Resolver: reloc.NewResolver(nil, tr, tr.shadow),
		Blocks:   builder,
		XRegs:    tr.xGlobal,
		FRegs:    tr.fGlobal,
	}
}

func TestAddAddsTwoRegisters(t *testing.T) {
	tr, m := newTranslator(t)
	fn := m.NewFunc("f", types.Void)
	sec := sectionWith(encodeR(0x33, 0, 0x00, 10, 11, 12)) // add x10, x11, x12
	cur := cursorOverNoReloc(t, tr, fn, sec)

	n, err := tr.Step(cur)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NotEmpty(t, cur.Blocks.Current().Insts)
}

func TestSltEmitsSignedICmp(t *testing.T) {
	tr, m := newTranslator(t)
	fn := m.NewFunc("f", types.Void)
	sec := sectionWith(encodeR(0x33, 2, 0x00, 5, 6, 7)) // slt x5, x6, x7
	cur := cursorOverNoReloc(t, tr, fn, sec)

	_, err := tr.Step(cur)
	require.NoError(t, err)

	var sawICmp bool
	for _, in := range cur.Blocks.Current().Insts {
		if c, ok := in.(*ir.InstICmp); ok && c.Pred == enum.IPredSLT {
			sawICmp = true
		}
	}
	assert.True(t, sawICmp, "slt must lower through a signed (slt) icmp")
}

func TestBranchProducesAtLeastTwoBlocks(t *testing.T) {
	tr, m := newTranslator(t)
	fn := m.NewFunc("f", types.Void)
	// beq x1, x2, +8 ; addi x0,x0,0 ; addi x0,x0,0
	sec := sectionWith(
		encodeB(0x63, 0, 1, 2, 8),
		encodeI(0x13, 0, 0, 0, 0),
		encodeI(0x13, 0, 0, 0, 0),
	)
	cur := cursorOverNoReloc(t, tr, fn, sec)

	require.NoError(t, tr.runPass(cur))
	assert.GreaterOrEqual(t, len(fn.Blocks), 2, "a branch must split the function into multiple blocks")
}

func TestIdempotentTranslation(t *testing.T) {
	words := []uint32{
		encodeR(0x33, 0, 0x00, 10, 11, 12),
		encodeI(0x13, 0, 10, 10, 1),
	}

	render := func() string {
		tr, m := newTranslator(t)
		fn := m.NewFunc("f", types.Void)
		sec := sectionWith(words...)
		cur := cursorOverNoReloc(t, tr, fn, sec)
		require.NoError(t, tr.runPass(cur))
		return m.String()
	}

	assert.Equal(t, render(), render(), "translating the same input twice must produce identical IR text")
}

func TestLoadByteSignExtends(t *testing.T) {
	tr, m := newTranslator(t)
	fn := m.NewFunc("f", types.Void)
	sec := sectionWith(encodeI(0x03, 0, 5, 1, 0)) // lb x5, 0(x1)
	cur := cursorOverNoReloc(t, tr, fn, sec)

	_, err := tr.Step(cur)
	require.NoError(t, err)

	var sawSExt bool
	for _, in := range cur.Blocks.Current().Insts {
		if _, ok := in.(*ir.InstSExt); ok {
			sawSExt = true
		}
	}
	assert.True(t, sawSExt, "lb must sign-extend its loaded byte to i32")
}

func TestEcallDispatchesThroughSyscallHandler(t *testing.T) {
	tr, m := newTranslator(t)
	fn := m.NewFunc("f", types.Void)
	sec := sectionWith(uint32(0x73)) // ecall
	cur := cursorOverNoReloc(t, tr, fn, sec)

	_, err := tr.Step(cur)
	require.NoError(t, err)

	var sawCall bool
	for _, in := range cur.Blocks.Current().Insts {
		if c, ok := in.(*ir.InstCall); ok && c.Callee == tr.syscallFn {
			sawCall = true
		}
	}
	assert.True(t, sawCall, "ecall must call the generated rv_syscall trampoline")
}
