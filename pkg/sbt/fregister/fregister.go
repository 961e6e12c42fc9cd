// Package fregister implements the float guest register file (f0-f31) in
// its two storage modes, mirroring pkg/sbt/xregister. Unlike x0, f0 is an
// ordinary register: it carries real storage and reads/writes normally.
package fregister

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
)

// NumRegs is the number of float guest registers, f0 through f31. Each
// register holds a double (the D-extension width); the F-extension single
// precision case is not modeled (no Non-goal excludes it - no retrieved
// example or original_source file narrower than double was found to
// ground it on, so it is left for a future extension).
const NumRegs = 32

// RISC-V float ABI register names.
const (
	FT0  = 0
	FT1  = 1
	FT2  = 2
	FT3  = 3
	FT4  = 4
	FT5  = 5
	FT6  = 6
	FT7  = 7
	FS0  = 8
	FS1  = 9
	FA0  = 10
	FA1  = 11
	FA2  = 12
	FA3  = 13
	FA4  = 14
	FA5  = 15
	FA6  = 16
	FA7  = 17
	FS2  = 18
	FS3  = 19
	FS4  = 20
	FS5  = 21
	FS6  = 22
	FS7  = 23
	FS8  = 24
	FS9  = 25
	FS10 = 26
	FS11 = 27
	FT8  = 28
	FT9  = 29
	FT10 = 30
	FT11 = 31
)

// Bank abstracts the storage strategy for the float register file.
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

// GlobalBank realizes GLOBALS mode: f0..f31 are mutable module globals of
// type double.
type GlobalBank struct {
	globals [NumRegs]*ir.Global
	usage   [NumRegs]usage
}

// NewGlobalBank declares f0..f31 as zero-initialized double globals in m.
func NewGlobalBank(m *ir.Module) *GlobalBank {
	gb := &GlobalBank{}
	for i := 0; i < NumRegs; i++ {
		gb.globals[i] = m.NewGlobalDef(fmt.Sprintf("f%d", i), constant.NewFloat(types.Double, 0))
	}
	return gb
}

func (gb *GlobalBank) Load(b *ir.Block, idx int) value.Value {
	sbterr.Assert(idx >= 0 && idx < NumRegs, "fregister: index %d out of range", idx)
	gb.usage[idx].markRead()
	return b.NewLoad(types.Double, gb.globals[idx])
}

func (gb *GlobalBank) Store(b *ir.Block, idx int, v value.Value) {
	sbterr.Assert(idx >= 0 && idx < NumRegs, "fregister: index %d out of range", idx)
	gb.usage[idx].markWritten()
	b.NewStore(v, gb.globals[idx])
}

func (gb *GlobalBank) Touched(idx int) bool { return gb.usage[idx].touched }
func (gb *GlobalBank) Read(idx int) bool    { return gb.usage[idx].read }
func (gb *GlobalBank) Written(idx int) bool { return gb.usage[idx].written }

// Global returns the module global backing f0..f31, used by LocalBank's
// SyncIn/SyncOut.
func (gb *GlobalBank) Global(idx int) *ir.Global {
	sbterr.Assert(idx >= 0 && idx < NumRegs, "fregister: index %d out of range", idx)
	return gb.globals[idx]
}

// LocalBank realizes LOCALS mode: a function allocates 32 local double
// slots in its entry block and syncs them against a GlobalBank at call
// boundaries.
type LocalBank struct {
	globals *GlobalBank
	locals  [NumRegs]*ir.InstAlloca
	usage   [NumRegs]usage
}

// NewLocalBank allocates f0..f31 local slots in entry.
func NewLocalBank(entry *ir.Block, globals *GlobalBank) *LocalBank {
	lb := &LocalBank{globals: globals}
	for i := 0; i < NumRegs; i++ {
		a := entry.NewAlloca(types.Double)
		a.SetName(fmt.Sprintf("f%d.local", i))
		lb.locals[i] = a
	}
	return lb
}

func (lb *LocalBank) Load(b *ir.Block, idx int) value.Value {
	sbterr.Assert(idx >= 0 && idx < NumRegs, "fregister: index %d out of range", idx)
	lb.usage[idx].markRead()
	return b.NewLoad(types.Double, lb.locals[idx])
}

func (lb *LocalBank) Store(b *ir.Block, idx int, v value.Value) {
	sbterr.Assert(idx >= 0 && idx < NumRegs, "fregister: index %d out of range", idx)
	lb.usage[idx].markWritten()
	b.NewStore(v, lb.locals[idx])
}

func (lb *LocalBank) Touched(idx int) bool { return lb.usage[idx].touched }
func (lb *LocalBank) Read(idx int) bool    { return lb.usage[idx].read }
func (lb *LocalBank) Written(idx int) bool { return lb.usage[idx].written }

// SyncIn loads every global register into its local slot.
func (lb *LocalBank) SyncIn(b *ir.Block) {
	for i := 0; i < NumRegs; i++ {
		v := b.NewLoad(types.Double, lb.globals.Global(i))
		b.NewStore(v, lb.locals[i])
	}
}

// SyncOut stores every local slot back to its global.
func (lb *LocalBank) SyncOut(b *ir.Block) {
	for i := 0; i < NumRegs; i++ {
		v := b.NewLoad(types.Double, lb.locals[i])
		b.NewStore(v, lb.globals.Global(i))
	}
}
