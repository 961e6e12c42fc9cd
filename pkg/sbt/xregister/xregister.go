// Package xregister implements the integer guest register file (x0-x31)
// in its two storage modes: module globals (GLOBALS) and per-function
// stack slots synced against those globals at call boundaries (LOCALS).
package xregister

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
)

// NumRegs is the number of integer guest registers, x0 through x31.
const NumRegs = 32

// RISC-V integer ABI register names, used throughout caller lowering and
// the syscall/icaller generators instead of raw x-numbers.
const (
	ZERO = 0
	RA   = 1
	SP   = 2
	GP   = 3
	TP   = 4
	T0   = 5
	T1   = 6
	T2   = 7
	S0   = 8
	FP   = 8
	S1   = 9
	A0   = 10
	A1   = 11
	A2   = 12
	A3   = 13
	A4   = 14
	A5   = 15
	A6   = 16
	A7   = 17
	S2   = 18
	S3   = 19
	S4   = 20
	S5   = 21
	S6   = 22
	S7   = 23
	S8   = 24
	S9   = 25
	S10  = 26
	S11  = 27
	T3   = 28
	T4   = 29
	T5   = 30
	T6   = 31
)

// Bank abstracts the storage strategy for the integer register file.
// Load emits its IR load into b at the moment it is called (x0 excepted)
// and returns that instruction; loads are not deferred until the value
// is used.
type Bank interface {
	Load(b *ir.Block, idx int) value.Value
	Store(b *ir.Block, idx int, v value.Value)
	Touched(idx int) bool
	Read(idx int) bool
	Written(idx int) bool
}

type usage struct {
	touched, read, written bool
}

func (u *usage) markRead()    { u.touched, u.read = true, true }
func (u *usage) markWritten() { u.touched, u.written = true, true }

// GlobalBank realizes GLOBALS mode: x1..x31 are mutable module globals.
// x0 carries no storage; loads yield the constant zero and stores are
// dropped.
type GlobalBank struct {
	m       *ir.Module
	globals [NumRegs]*ir.Global
	usage   [NumRegs]usage
}

// NewGlobalBank declares x1..x31 as zero-initialized i32 globals in m.
func NewGlobalBank(m *ir.Module) *GlobalBank {
	gb := &GlobalBank{m: m}
	for i := 1; i < NumRegs; i++ {
		gb.globals[i] = m.NewGlobalDef(fmt.Sprintf("x%d", i), constant.NewInt(types.I32, 0))
	}
	return gb
}

func (gb *GlobalBank) Load(b *ir.Block, idx int) value.Value {
	sbterr.Assert(idx >= 0 && idx < NumRegs, "xregister: index %d out of range", idx)
	gb.usage[idx].markRead()
	if idx == 0 {
		return constant.NewInt(types.I32, 0)
	}
	return b.NewLoad(types.I32, gb.globals[idx])
}

func (gb *GlobalBank) Store(b *ir.Block, idx int, v value.Value) {
	sbterr.Assert(idx >= 0 && idx < NumRegs, "xregister: index %d out of range", idx)
	if idx == 0 {
		return
	}
	gb.usage[idx].markWritten()
	b.NewStore(v, gb.globals[idx])
}

func (gb *GlobalBank) Touched(idx int) bool { return gb.usage[idx].touched }
func (gb *GlobalBank) Read(idx int) bool    { return gb.usage[idx].read }
func (gb *GlobalBank) Written(idx int) bool { return gb.usage[idx].written }

// Global returns the module global backing x1..x31. Panics for x0, which
// has no storage.
func (gb *GlobalBank) Global(idx int) *ir.Global {
	sbterr.Assert(idx >= 1 && idx < NumRegs, "xregister: x0 has no global storage")
	return gb.globals[idx]
}

// LocalBank realizes LOCALS mode: a function allocates 31 local i32 slots
// in its entry block (x0 remains storageless) and syncs them against a
// GlobalBank at call boundaries, which lets LLVM's mem2reg collapse the
// slots inside straight-line code.
type LocalBank struct {
	globals *GlobalBank
	locals  [NumRegs]*ir.InstAlloca
	usage   [NumRegs]usage
}

// NewLocalBank allocates x1..x31 local slots in entry.
func NewLocalBank(entry *ir.Block, globals *GlobalBank) *LocalBank {
	lb := &LocalBank{globals: globals}
	for i := 1; i < NumRegs; i++ {
		a := entry.NewAlloca(types.I32)
		a.SetName(fmt.Sprintf("x%d.local", i))
		lb.locals[i] = a
	}
	return lb
}

func (lb *LocalBank) Load(b *ir.Block, idx int) value.Value {
	sbterr.Assert(idx >= 0 && idx < NumRegs, "xregister: index %d out of range", idx)
	lb.usage[idx].markRead()
	if idx == 0 {
		return constant.NewInt(types.I32, 0)
	}
	return b.NewLoad(types.I32, lb.locals[idx])
}

func (lb *LocalBank) Store(b *ir.Block, idx int, v value.Value) {
	sbterr.Assert(idx >= 0 && idx < NumRegs, "xregister: index %d out of range", idx)
	if idx == 0 {
		return
	}
	lb.usage[idx].markWritten()
	b.NewStore(v, lb.locals[idx])
}

func (lb *LocalBank) Touched(idx int) bool { return lb.usage[idx].touched }
func (lb *LocalBank) Read(idx int) bool    { return lb.usage[idx].read }
func (lb *LocalBank) Written(idx int) bool { return lb.usage[idx].written }

// SyncIn loads every global register into its local slot. Run once at
// function entry so guest state flows in across the call boundary.
func (lb *LocalBank) SyncIn(b *ir.Block) {
	for i := 1; i < NumRegs; i++ {
		v := b.NewLoad(types.I32, lb.globals.Global(i))
		b.NewStore(v, lb.locals[i])
	}
}

// SyncOut stores every local slot back to its global. Run before any call
// or return so guest state flows back out across the boundary.
func (lb *LocalBank) SyncOut(b *ir.Block) {
	for i := 1; i < NumRegs; i++ {
		v := b.NewLoad(types.I32, lb.locals[i])
		b.NewStore(v, lb.globals.Global(i))
	}
}
