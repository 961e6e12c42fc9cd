// Package translator turns one guest function's instruction stream into
// LLVM IR, opcode by opcode, driving pkg/sbt/function's basic-block
// builder and pkg/sbt/reloc's relocation resolver as it walks addresses
// in ascending order.
package translator

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/caller"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/disasm"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/fregister"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/function"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/reloc"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/runtime"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/shadow"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/xregister"
)

// RegisterMode selects how the guest register file is realized.
type RegisterMode int

const (
	Globals RegisterMode = iota
	Locals
)

// Options configures one module translation.
type Options struct {
	RegisterMode RegisterMode
	HardFloat    bool
	SyscallTable runtime.SyscallTable
}

// TranslationCursor is the state threaded through one function's
// instruction walk: the current guest address, the section it lives in,
// the relocation resolver paired with that section, the basic-block
// builder, and the active register banks (global or local, per
// Options.RegisterMode).
type TranslationCursor struct {
	Section  *object.Section
	Start    object.GuestAddress // the owning function's entry address
	PC       object.GuestAddress
	End      object.GuestAddress
	Resolver *reloc.Resolver
	Blocks   *function.Builder
	XRegs    xregister.Bank
	FRegs    fregister.Bank
}

// OwnFunction reports whether addr falls within this cursor's owning
// function, distinguishing a self-recursive tail jump (handled as a
// plain intra-function branch) from a sibling tail call to a different
// function (handled as call-then-return).
func (cur *TranslationCursor) OwnFunction(addr object.GuestAddress) bool {
	return addr >= cur.Start && addr < cur.End
}

// Translator lowers one Object against one LLVM module. It accumulates
// cross-function state (declared external thunks, the internal
// function table for direct/indirect calls) as TranslateModule walks
// every function.
type Translator struct {
	obj    *object.Object
	m      *ir.Module
	shadow *shadow.Image
	opts   Options

	xGlobal *xregister.GlobalBank
	fGlobal *fregister.GlobalBank

	externalFuncs map[string]*ir.Func
	externalAddrs map[string]object.GuestAddress
	nextExtAddr   object.GuestAddress

	funcByAddr map[object.GuestAddress]*ir.Func
	mainAddr   object.GuestAddress
	hasMain    bool

	debugBreak *ir.Func
	cyclesFn   *ir.Func
	timeFn     *ir.Func
	instretFn  *ir.Func
	syscallFn  *ir.Func
	icallerFn  *ir.Func

	// annotations is a sidecar debug-text table keyed by instruction,
	// set by annotate() and read back through Annotation; the CLI driver
	// logs these texts as debug lines and does not write them into the
	// output module. llir/llvm's
	// native per-instruction metadata-attachment API differs across the
	// versions evidenced in the retrieval pack (some expose a
	// Metadata map on the function itself, others an attachment list
	// on each instruction); rather than guess at a specific version's
	// shape for code that is never compiled here, §6's "attach
	// debug-annotation metadata" requirement is satisfied through this
	// side table instead.
	annotations map[ir.Instruction]string
}

// New builds a Translator over obj, emitting every declaration (register
// banks, shadow image, host-library externals) into a fresh module m.
func New(m *ir.Module, obj *object.Object, opts Options) (*Translator, error) {
	img, err := shadow.Build(m, obj)
	if err != nil {
		return nil, err
	}

	t := &Translator{
		obj:           obj,
		m:             m,
		shadow:        img,
		opts:          opts,
		xGlobal:       xregister.NewGlobalBank(m),
		fGlobal:       fregister.NewGlobalBank(m),
		externalFuncs: make(map[string]*ir.Func),
		externalAddrs: make(map[string]object.GuestAddress),
		funcByAddr:    make(map[object.GuestAddress]*ir.Func),
		annotations:   make(map[ir.Instruction]string),
		nextExtAddr:   0xF0000000,
	}

	t.debugBreak = m.NewFunc("rv_debug_break", types.Void)
	t.cyclesFn = m.NewFunc("get_cycles", types.I32)
	t.timeFn = m.NewFunc("get_time", types.I32)
	t.instretFn = m.NewFunc("get_instret", types.I32)

	table := opts.SyscallTable
	if table == nil {
		table = runtime.DefaultSyscallTable()
	}
	t.syscallFn = runtime.GenSyscallHandler(m, t.xGlobal, table)

	return t, nil
}

// Import resolves an external symbol name to a synthetic, stable,
// never-recurring guest address, satisfying pkg/sbt/reloc.Importer. The
// address has no meaning beyond identity: relocations that reference an
// external symbol only ever consume it masked into a HI20 or LO12 field
// destined to become a function-pointer value loaded into a register,
// never dereferenced as a real memory address, so any unique value
// serves.
func (t *Translator) Import(name string) (object.GuestAddress, error) {
	if addr, ok := t.externalAddrs[name]; ok {
		return addr, nil
	}
	t.ensureExternalFunc(name)
	addr := t.nextExtAddr
	t.nextExtAddr += 4
	t.externalAddrs[name] = addr
	return addr, nil
}

func (t *Translator) ensureExternalFunc(name string) *ir.Func {
	if fn, ok := t.externalFuncs[name]; ok {
		return fn
	}
	fn := t.m.NewFunc("rv32_"+name, types.Void, ir.NewParam("", types.I32))
	fn.Sig.Variadic = true
	t.externalFuncs[name] = fn
	return fn
}

// TranslateModule walks every function symbol in obj's text sections, in
// address order, translating each one's instruction stream, then
// generates the indirect-call dispatcher now that every function's
// address is known.
func (t *Translator) TranslateModule() error {
	for _, sec := range t.obj.TextSections() {
		funcs := t.obj.Functions(sec)
		for i, sym := range funcs {
			end := sec.Addr + object.GuestAddress(sec.Size)
			if i+1 < len(funcs) {
				end = funcs[i+1].Addr
			}
			if sym.Name == "main" {
				t.mainAddr = sym.Addr
				t.hasMain = true
			}
			if err := t.translateFunction(sec, sym, end); err != nil {
				return fmt.Errorf("function %q: %w", sym.Name, err)
			}
		}
	}

	t.icallerFn = runtime.GenICaller(t.m, t.xGlobal, t.funcByAddr)
	return nil
}

// EntryPoint returns the guest's main function and true, if the object
// defines one.
func (t *Translator) EntryPoint() (*ir.Func, bool) {
	if !t.hasMain {
		return nil, false
	}
	fn, ok := t.funcByAddr[t.mainAddr]
	return fn, ok
}

// Annotation returns the disassembly-derived debug text recorded for in
// by annotate, if any. The CLI uses this to log one debug line per
// annotated instruction when debug tracing is on.
func (t *Translator) Annotation(in ir.Instruction) (string, bool) {
	s, ok := t.annotations[in]
	return s, ok
}

func (t *Translator) declareFunc(sym *object.Symbol) *ir.Func {
	if fn, ok := t.funcByAddr[sym.Addr]; ok {
		return fn
	}
	fn := t.m.NewFunc(sym.Name, types.Void)
	t.funcByAddr[sym.Addr] = fn
	return fn
}

func (t *Translator) translateFunction(sec *object.Section, sym *object.Symbol, end object.GuestAddress) error {
	fn := t.declareFunc(sym)
	builder := function.NewBuilder(fn, sym.Addr)
	entry := builder.Current()

	var xb xregister.Bank = t.xGlobal
	var fb fregister.Bank = t.fGlobal
	if t.opts.RegisterMode == Locals {
		xl := xregister.NewLocalBank(entry, t.xGlobal)
		fl := fregister.NewLocalBank(entry, t.fGlobal)
		xl.SyncIn(entry)
		fl.SyncIn(entry)
		xb, fb = xl, fl
	}

	cur := &TranslationCursor{
		Section:  sec,
		Start:    sym.Addr,
		PC:       sym.Addr,
		End:      end,
		Resolver: reloc.NewResolver(sec.Relocs, t, t.shadow),
		Blocks:   builder,
		XRegs:    xb,
		FRegs:    fb,
	}

	if err := t.runPass(cur); err != nil {
		return err
	}

	for _, retr := range builder.DrainPending() {
		sub := &TranslationCursor{
			Section:  sec,
			Start:    sym.Addr,
			PC:       retr.From,
			End:      retr.To,
			Resolver: cur.Resolver,
			Blocks:   builder,
			XRegs:    xb,
			FRegs:    fb,
		}
		if err := t.runPass(sub); err != nil {
			return err
		}
	}

	if last := fn.Blocks[len(fn.Blocks)-1]; last.Term == nil {
		t.syncOut(cur, last)
		last.NewRet(nil)
	}
	return nil
}

func (t *Translator) runPass(cur *TranslationCursor) error {
	for cur.PC < cur.End {
		n, err := t.Step(cur)
		if err != nil {
			return err
		}
		cur.PC += object.GuestAddress(n)
	}
	return nil
}

// Step decodes and emits the single instruction at cur.PC, returning its
// size in bytes so the caller can advance the cursor.
func (t *Translator) Step(cur *TranslationCursor) (int, error) {
	cur.Blocks.At(cur.PC)

	word := littleEndianWord(cur.Section.Bytes, cur.Section.Addr, cur.PC)
	in, err := disasm.Decode(cur.PC, word)
	if err != nil {
		return 0, err
	}

	if err := t.emit(cur, in); err != nil {
		return 0, err
	}
	return in.Size, nil
}

func littleEndianWord(bytes []byte, base, pc object.GuestAddress) uint32 {
	off := uint64(pc - base)
	sbterr.Assert(off+4 <= uint64(len(bytes)), "translator: pc 0x%x out of section bounds", pc)
	return uint32(bytes[off]) | uint32(bytes[off+1])<<8 | uint32(bytes[off+2])<<16 | uint32(bytes[off+3])<<24
}

func (t *Translator) emit(cur *TranslationCursor, in disasm.Instruction) error {
	switch in.Op {
	case disasm.ADD, disasm.AND, disasm.OR, disasm.XOR, disasm.SLL, disasm.SLT, disasm.SLTU,
		disasm.SRA, disasm.SRL, disasm.SUB, disasm.MUL, disasm.MULH, disasm.MULHU, disasm.MULHSU,
		disasm.DIV, disasm.DIVU, disasm.REM, disasm.REMU:
		return t.emitALU(cur, in)
	case disasm.ADDI, disasm.ANDI, disasm.ORI, disasm.XORI, disasm.SLTI, disasm.SLTIU,
		disasm.SLLI, disasm.SRLI, disasm.SRAI:
		return t.emitALUImm(cur, in)
	case disasm.AUIPC, disasm.LUI:
		return t.emitUpperImm(cur, in)
	case disasm.BEQ, disasm.BNE, disasm.BGE, disasm.BGEU, disasm.BLT, disasm.BLTU:
		return t.emitBranch(cur, in)
	case disasm.JAL:
		return t.emitJAL(cur, in)
	case disasm.JALR:
		return t.emitJALR(cur, in)
	case disasm.LB, disasm.LBU, disasm.LH, disasm.LHU, disasm.LW:
		return t.emitLoad(cur, in)
	case disasm.SB, disasm.SH, disasm.SW:
		return t.emitStore(cur, in)
	case disasm.ECALL:
		return t.emitECALL(cur, in)
	case disasm.EBREAK:
		return t.emitEBREAK(cur, in)
	case disasm.FENCE:
		return t.emitFENCE(cur, in)
	case disasm.FENCEI:
		return t.emitFENCEI(cur, in)
	case disasm.CSRRW, disasm.CSRRWI, disasm.CSRRS, disasm.CSRRSI, disasm.CSRRC, disasm.CSRRCI:
		return t.emitCSR(cur, in)
	default:
		return sbterr.InvalidInstructionEncoding(uint32(in.Addr), in.Word)
	}
}

func (t *Translator) annotate(cur *TranslationCursor, first ir.Instruction, in disasm.Instruction) {
	cur.Blocks.RecordInstr(cur.PC, first)
	t.annotations[first] = in.String()
}

func (t *Translator) resolveImmOrLiteral(cur *TranslationCursor, in disasm.Instruction) (value.Value, error) {
	b := cur.Blocks.Current()
	v, ok, err := cur.Resolver.Resolve(b, cur.PC)
	if err != nil {
		return nil, err
	}
	if ok {
		return v, nil
	}
	return constant.NewInt(types.I32, int64(in.Imm)), nil
}

func (t *Translator) emitALU(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()
	lhs := cur.XRegs.Load(b, int(in.Rs1))
	rhs := cur.XRegs.Load(b, int(in.Rs2))

	var first, result value.Value
	switch in.Op {
	case disasm.ADD:
		first = b.NewAdd(lhs, rhs)
		result = first
	case disasm.SUB:
		first = b.NewSub(lhs, rhs)
		result = first
	case disasm.AND:
		first = b.NewAnd(lhs, rhs)
		result = first
	case disasm.OR:
		first = b.NewOr(lhs, rhs)
		result = first
	case disasm.XOR:
		first = b.NewXor(lhs, rhs)
		result = first
	case disasm.SLL:
		mask := b.NewAnd(rhs, constant.NewInt(types.I32, 0x1f))
		first = mask
		result = b.NewShl(lhs, mask)
	case disasm.SRL:
		mask := b.NewAnd(rhs, constant.NewInt(types.I32, 0x1f))
		first = mask
		result = b.NewLShr(lhs, mask)
	case disasm.SRA:
		mask := b.NewAnd(rhs, constant.NewInt(types.I32, 0x1f))
		first = mask
		result = b.NewAShr(lhs, mask)
	case disasm.SLT:
		cmp := b.NewICmp(enum.IPredSLT, lhs, rhs)
		first = cmp
		result = b.NewZExt(cmp, types.I32)
	case disasm.SLTU:
		cmp := b.NewICmp(enum.IPredULT, lhs, rhs)
		first = cmp
		result = b.NewZExt(cmp, types.I32)
	case disasm.MUL:
		first = b.NewMul(lhs, rhs)
		result = first
	case disasm.MULH:
		result, first = t.mulHigh(b, lhs, rhs, true, true)
	case disasm.MULHU:
		result, first = t.mulHigh(b, lhs, rhs, false, false)
	case disasm.MULHSU:
		result, first = t.mulHigh(b, lhs, rhs, true, false)
	case disasm.DIV:
		first = b.NewSDiv(lhs, rhs)
		result = first
	case disasm.DIVU:
		first = b.NewUDiv(lhs, rhs)
		result = first
	case disasm.REM:
		first = b.NewSRem(lhs, rhs)
		result = first
	case disasm.REMU:
		first = b.NewURem(lhs, rhs)
		result = first
	}

	cur.XRegs.Store(b, int(in.Rd), result)
	t.annotate(cur, first.(ir.Instruction), in)
	return nil
}

// mulHigh computes the high 32 bits of a widened 64-bit multiply,
// sign/zero-extending each operand per lhsSigned/rhsSigned, and returns
// (result, firstEmittedInstr).
func (t *Translator) mulHigh(b *ir.Block, lhs, rhs value.Value, lhsSigned, rhsSigned bool) (value.Value, value.Value) {
	ext := func(v value.Value, signed bool) value.Value {
		if signed {
			return b.NewSExt(v, types.I64)
		}
		return b.NewZExt(v, types.I64)
	}
	wl := ext(lhs, lhsSigned)
	first := wl
	wr := ext(rhs, rhsSigned)
	prod := b.NewMul(wl, wr)
	shifted := b.NewLShr(prod, constant.NewInt(types.I64, 32))
	trunc := b.NewTrunc(shifted, types.I32)
	return trunc, first
}

func (t *Translator) emitALUImm(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()
	lhs := cur.XRegs.Load(b, int(in.Rs1))

	var first, result value.Value
	switch in.Op {
	case disasm.SLLI:
		imm := constant.NewInt(types.I32, int64(in.Imm))
		first = b.NewShl(lhs, imm)
		result = first
	case disasm.SRLI:
		imm := constant.NewInt(types.I32, int64(in.Imm))
		first = b.NewLShr(lhs, imm)
		result = first
	case disasm.SRAI:
		imm := constant.NewInt(types.I32, int64(in.Imm))
		first = b.NewAShr(lhs, imm)
		result = first
	case disasm.SLTI:
		imm := constant.NewInt(types.I32, int64(in.Imm))
		cmp := b.NewICmp(enum.IPredSLT, lhs, imm)
		first = cmp
		result = b.NewZExt(cmp, types.I32)
	case disasm.SLTIU:
		imm := constant.NewInt(types.I32, int64(in.Imm))
		cmp := b.NewICmp(enum.IPredULT, lhs, imm)
		first = cmp
		result = b.NewZExt(cmp, types.I32)
	default:
		rhs, err := t.resolveImmOrLiteral(cur, in)
		if err != nil {
			return err
		}
		switch in.Op {
		case disasm.ADDI:
			first = b.NewAdd(lhs, rhs)
		case disasm.ANDI:
			first = b.NewAnd(lhs, rhs)
		case disasm.ORI:
			first = b.NewOr(lhs, rhs)
		case disasm.XORI:
			first = b.NewXor(lhs, rhs)
		}
		result = first
	}

	cur.XRegs.Store(b, int(in.Rd), result)
	t.annotate(cur, first.(ir.Instruction), in)
	return nil
}

func (t *Translator) emitUpperImm(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()

	v, ok, err := cur.Resolver.Resolve(b, cur.PC)
	if err != nil {
		return err
	}

	var first ir.Instruction
	var result value.Value
	if ok {
		result = v
		if inst, isInst := v.(ir.Instruction); isInst {
			first = inst
		}
	} else {
		imm := constant.NewInt(types.I32, int64(in.Imm))
		if in.Op == disasm.AUIPC {
			pc := constant.NewInt(types.I32, int64(uint32(cur.PC)))
			add := b.NewAdd(imm, pc)
			first = add
			result = add
		} else {
			result = imm
		}
	}

	cur.XRegs.Store(b, int(in.Rd), result)
	if first != nil {
		t.annotate(cur, first, in)
	} else {
		// constant result (a LUI with no relocation, or a relocation that
		// resolved to a constant): nothing was emitted to attach
		// InstrMap/debug metadata to, so record the block's last
		// instruction (the store, when rd is not x0) for this pc.
		if st, ok := lastStore(b); ok {
			t.annotate(cur, st, in)
		}
	}
	return nil
}

func lastStore(b *ir.Block) (ir.Instruction, bool) {
	if len(b.Insts) == 0 {
		return nil, false
	}
	return b.Insts[len(b.Insts)-1], true
}

func (t *Translator) emitBranch(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()
	lhs := cur.XRegs.Load(b, int(in.Rs1))
	rhs := cur.XRegs.Load(b, int(in.Rs2))

	var pred enum.IPred
	switch in.Op {
	case disasm.BEQ:
		pred = enum.IPredEQ
	case disasm.BNE:
		pred = enum.IPredNE
	case disasm.BLT:
		pred = enum.IPredSLT
	case disasm.BGE:
		pred = enum.IPredSGE
	case disasm.BLTU:
		pred = enum.IPredULT
	case disasm.BGEU:
		pred = enum.IPredUGE
	}
	cmp := b.NewICmp(pred, lhs, rhs)
	t.annotate(cur, cmp, in)

	targetAddr := object.GuestAddress(int64(cur.PC) + int64(in.Imm))
	fallAddr := cur.PC + object.GuestAddress(in.Size)

	targetBB, err := cur.Blocks.Target(cur.PC, targetAddr)
	if err != nil {
		return err
	}
	fallBB, err := cur.Blocks.Target(cur.PC, fallAddr)
	if err != nil {
		return err
	}

	b.NewCondBr(cmp, targetBB, fallBB)
	cur.Blocks.At(fallAddr)
	return nil
}

func (t *Translator) emitJAL(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()
	targetAddr := object.GuestAddress(int64(cur.PC) + int64(in.Imm))
	linkAddr := int64(uint32(cur.PC) + uint32(in.Size))
	isCall := in.Rd == xregister.RA

	if cur.OwnFunction(targetAddr) {
		// plain intra-function jump (or call within a self-recursive
		// loop, which still shares this function's basic-block map).
		if in.Rd != xregister.ZERO {
			cur.XRegs.Store(b, int(in.Rd), constant.NewInt(types.I32, linkAddr))
		}
		blk, err := cur.Blocks.Target(cur.PC, targetAddr)
		if err != nil {
			return err
		}
		br := b.NewBr(blk)
		t.annotate(cur, br, in)
		return nil
	}

	target, internal := t.resolveCallTarget(targetAddr)
	if !internal {
		return sbterr.FunctionNotFound(fmt.Sprintf("0x%x", uint32(targetAddr)))
	}

	// guest-to-guest call (or sibling tail call, rd=zero): both share the
	// caller's register file (module globals, or this function's locals
	// synced against them) rather than marshaling through LLVM call
	// arguments - the callee reads its own operands straight out of the
	// same registers, so this is a bare call with no IR args.
	t.syncOut(cur, b)
	call := b.NewCall(target)
	t.syncIn(cur, b)
	t.annotate(cur, call, in)

	if !isCall {
		// tail call: no return address to save, fall straight through to
		// this function's own epilogue.
		b.NewRet(nil)
		return nil
	}

	cur.XRegs.Store(b, int(in.Rd), constant.NewInt(types.I32, linkAddr))
	fallAddr := cur.PC + object.GuestAddress(in.Size)
	fallBB, err := cur.Blocks.Target(cur.PC, fallAddr)
	if err != nil {
		return err
	}
	b.NewBr(fallBB)
	cur.Blocks.At(fallAddr)
	return nil
}

// resolveCallTarget reports whether addr names a function this module
// defines (already declared, or declarable from the object's symbol
// table), returning its *ir.Func. A bare JAL targeting an undefined
// (external) symbol is not modeled: the relocation types this object
// model supports (HI20/LO12/DATA_ABS32, per spec.md §6) never attach to
// a JAL, only to the AUIPC+JALR "call" pseudo-instruction sequence that
// emitJALR's external branch already covers.
func (t *Translator) resolveCallTarget(addr object.GuestAddress) (*ir.Func, bool) {
	if fn, ok := t.funcByAddr[addr]; ok {
		return fn, true
	}
	sec := t.obj.SectionAt(addr)
	if sec == nil {
		return nil, false
	}
	sym := object.SymbolAt(sec, addr)
	if sym == nil || !sym.Function() {
		return nil, false
	}
	return t.declareFunc(sym), true
}

func (t *Translator) emitJALR(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()

	if in.Rd == xregister.ZERO && in.Rs1 == xregister.RA && in.Imm == 0 {
		// every translated guest function - main included - is declared
		// void-returning: its result, if any, already lives in A0 by the
		// time this ret fires, same as any other ABI register. A host
		// entry point wanting the guest's exit status reads A0 off the
		// global bank after calling rv32_main, exactly as it would after
		// any other guest call.
		t.syncOut(cur, b)
		ret := b.NewRet(nil)
		t.annotate(cur, ret, in)
		return nil
	}

	// a preceding AUIPC may have paired a HI20 relocation with this
	// JALR's LO12 - the "call external" pseudo-instruction sequence.
	v, ok, err := cur.Resolver.Resolve(b, cur.PC)
	if err != nil {
		return err
	}
	if ok {
		if name, _, hasLast := cur.Resolver.LastSymbol(); hasLast {
			if sym, found := t.obj.LookupSymbol(name); found && sym.External() {
				fn := t.ensureExternalFunc(name)
				c := caller.New(fn, cur.XRegs, cur.FRegs, t.opts.HardFloat, t.opts.RegisterMode == Globals)
				first := c.CallExternal(b)
				if in.Rd != xregister.ZERO {
					cur.XRegs.Store(b, int(in.Rd), constant.NewInt(types.I32, int64(uint32(cur.PC)+uint32(in.Size))))
				}
				t.annotate(cur, first.(ir.Instruction), in)
				return nil
			}
		}
		_ = v
	}

	base := cur.XRegs.Load(b, int(in.Rs1))
	imm := constant.NewInt(types.I32, int64(in.Imm))
	addr := b.NewAdd(base, imm)
	cur.XRegs.Store(b, xregister.T1, addr)
	t.syncOut(cur, b)
	b.NewCall(t.icallerFn)
	t.syncIn(cur, b)
	if in.Rd != xregister.ZERO {
		cur.XRegs.Store(b, int(in.Rd), constant.NewInt(types.I32, int64(uint32(cur.PC)+uint32(in.Size))))
	}
	t.annotate(cur, addr.(ir.Instruction), in)
	return nil
}

// syncOut flushes the current function's local register slots back to the
// module globals before a call, a no-op under Globals mode where the
// banks already are the globals.
func (t *Translator) syncOut(cur *TranslationCursor, b *ir.Block) {
	if xl, ok := cur.XRegs.(*xregister.LocalBank); ok {
		xl.SyncOut(b)
	}
	if fl, ok := cur.FRegs.(*fregister.LocalBank); ok {
		fl.SyncOut(b)
	}
}

// syncIn reloads the current function's local register slots from the
// module globals after a call returns, picking up whatever the callee
// wrote.
func (t *Translator) syncIn(cur *TranslationCursor, b *ir.Block) {
	if xl, ok := cur.XRegs.(*xregister.LocalBank); ok {
		xl.SyncIn(b)
	}
	if fl, ok := cur.FRegs.(*fregister.LocalBank); ok {
		fl.SyncIn(b)
	}
}

func (t *Translator) emitLoad(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()
	base := cur.XRegs.Load(b, int(in.Rs1))
	imm, err := t.resolveImmOrLiteral(cur, in)
	if err != nil {
		return err
	}
	addr := b.NewAdd(base, imm)

	width := loadWidth(in.Op)
	ptr := b.NewIntToPtr(addr, types.NewPointer(width))
	loaded := b.NewLoad(width, ptr)

	var result value.Value
	switch in.Op {
	case disasm.LB:
		result = b.NewSExt(loaded, types.I32)
	case disasm.LBU:
		result = b.NewZExt(loaded, types.I32)
	case disasm.LH:
		result = b.NewSExt(loaded, types.I32)
	case disasm.LHU:
		result = b.NewZExt(loaded, types.I32)
	case disasm.LW:
		result = loaded
	}

	cur.XRegs.Store(b, int(in.Rd), result)
	t.annotate(cur, addr.(ir.Instruction), in)
	return nil
}

func loadWidth(op disasm.Opcode) types.Type {
	switch op {
	case disasm.LB, disasm.LBU:
		return types.I8
	case disasm.LH, disasm.LHU:
		return types.I16
	default:
		return types.I32
	}
}

func (t *Translator) emitStore(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()
	base := cur.XRegs.Load(b, int(in.Rs1))
	imm, err := t.resolveImmOrLiteral(cur, in)
	if err != nil {
		return err
	}
	addr := b.NewAdd(base, imm)

	width := storeWidth(in.Op)
	val := cur.XRegs.Load(b, int(in.Rs2))
	trunc := val
	if !width.Equal(types.I32) {
		trunc = b.NewTrunc(val, width)
	}
	ptr := b.NewIntToPtr(addr, types.NewPointer(width))
	b.NewStore(trunc, ptr)

	t.annotate(cur, addr.(ir.Instruction), in)
	return nil
}

func storeWidth(op disasm.Opcode) types.Type {
	switch op {
	case disasm.SB:
		return types.I8
	case disasm.SH:
		return types.I16
	default:
		return types.I32
	}
}

func (t *Translator) emitECALL(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()
	arg := cur.XRegs.Load(b, xregister.A7)
	ret := b.NewCall(t.syscallFn, arg)
	cur.XRegs.Store(b, xregister.A0, ret)
	t.annotate(cur, ret, in)
	return nil
}

func (t *Translator) emitEBREAK(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()
	call := b.NewCall(t.debugBreak)
	t.annotate(cur, call, in)
	return nil
}

func (t *Translator) emitFENCE(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()
	f := b.NewFence(enum.AtomicOrderingAcqRel)
	t.annotate(cur, f, in)
	return nil
}

func (t *Translator) emitFENCEI(cur *TranslationCursor, in disasm.Instruction) error {
	// FENCE.I is a no-op: this translator never reorders or caches guest
	// instructions, so there is nothing to synchronize.
	return nil
}

func (t *Translator) emitCSR(cur *TranslationCursor, in disasm.Instruction) error {
	b := cur.Blocks.Current()

	var fn *ir.Func
	switch in.CSR {
	case disasm.CSRCycle, disasm.CSRCycleH:
		fn = t.cyclesFn
	case disasm.CSRTime, disasm.CSRTimeH:
		fn = t.timeFn
	case disasm.CSRInstret, disasm.CSRInstretH:
		fn = t.instretFn
	default:
		return sbterr.UnsupportedFormat(fmt.Sprintf("unknown CSR address 0x%x", in.CSR))
	}

	isWrite := in.Op == disasm.CSRRW || in.Op == disasm.CSRRWI ||
		((in.Op == disasm.CSRRS || in.Op == disasm.CSRRC) && in.Rs1 != xregister.ZERO) ||
		((in.Op == disasm.CSRRSI || in.Op == disasm.CSRRCI) && in.Imm != 0)
	sbterr.Assert(!isWrite, "translator: CSR writes are not supported (pc=0x%x)", cur.PC)

	ret := b.NewCall(fn)
	cur.XRegs.Store(b, int(in.Rd), ret)
	t.annotate(cur, ret, in)
	return nil
}
