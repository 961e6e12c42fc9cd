// Package function builds one IR function per guest function symbol,
// maintaining the guest-address -> basic-block map that the instruction
// translator (pkg/sbt/translator) consults as it walks a function's
// instructions in address order.
package function

import (
	"fmt"
	"sort"

	"github.com/llir/llvm/ir"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
)

// Retranslation records a one-shot re-translation pass scheduled for a
// backward jump whose target fell outside every known basic block.
type Retranslation struct {
	From, To object.GuestAddress
}

// Builder owns one guest function's basic-block map and instruction
// index as it is translated in ascending address order.
type Builder struct {
	F *ir.Func

	BBMap    map[object.GuestAddress]*ir.Block
	keys     []object.GuestAddress // BBMap's keys, always sorted ascending
	InstrMap map[object.GuestAddress]ir.Instruction

	cur     *ir.Block
	pending []Retranslation
}

// NewBuilder creates f's entry block at startAddr and positions the
// builder's insertion point there.
func NewBuilder(f *ir.Func, startAddr object.GuestAddress) *Builder {
	entry := f.NewBlock(fmt.Sprintf("bb%x", startAddr))
	b := &Builder{
		F:        f,
		BBMap:    map[object.GuestAddress]*ir.Block{startAddr: entry},
		keys:     []object.GuestAddress{startAddr},
		InstrMap: make(map[object.GuestAddress]ir.Instruction),
		cur:      entry,
	}
	return b
}

// Current returns the block instructions are currently being appended to.
func (b *Builder) Current() *ir.Block { return b.cur }

// RecordInstr records instr as the first IR instruction emitted for pc,
// used by SplitBB to locate a split point and by metadata annotation.
func (b *Builder) RecordInstr(pc object.GuestAddress, instr ir.Instruction) {
	if _, exists := b.InstrMap[pc]; !exists {
		b.InstrMap[pc] = instr
	}
}

// NextBBAfter returns the smallest known BB address strictly greater than
// pc, the nextBB field of spec.md's TranslationCursor.
func (b *Builder) NextBBAfter(pc object.GuestAddress) (object.GuestAddress, bool) {
	i := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] > pc })
	if i == len(b.keys) {
		return 0, false
	}
	return b.keys[i], true
}

// At checks whether pc crosses into a known basic block boundary. If it
// does, the current block - if it fell off the end without its own
// terminator - is closed with an unconditional branch, and the insertion
// point moves to BBMap[pc].
func (b *Builder) At(pc object.GuestAddress) *ir.Block {
	target, ok := b.BBMap[pc]
	if !ok {
		return b.cur
	}
	if target == b.cur {
		return b.cur
	}
	if b.cur.Term == nil {
		b.cur.NewBr(target)
	}
	b.cur = target
	return b.cur
}

// Target resolves a branch/jump target, materializing a basic block for
// it if one doesn't already exist: a forward jump gets a fresh block
// ordered before the next-greater known block; a backward jump either
// splits the existing block containing it, or - if it falls outside any
// known block - allocates a new one and schedules a re-translation pass.
func (b *Builder) Target(pc, target object.GuestAddress) (*ir.Block, error) {
	if existing, ok := b.BBMap[target]; ok {
		return existing, nil
	}

	if target > pc {
		blk := b.F.NewBlock(fmt.Sprintf("bb%x", target))
		if next, ok := b.NextBBAfter(target); ok {
			if nextBlk, ok := b.BBMap[next]; ok {
				b.insertBlockBefore(nextBlk, blk)
			}
		}
		b.insertKey(target, blk)
		return blk, nil
	}

	// backward jump: does an existing block's range contain target?
	if owner, ok := b.blockContaining(target); ok {
		return b.SplitBB(owner, target)
	}

	blk := b.F.NewBlock(fmt.Sprintf("bb%x", target))
	b.insertKey(target, blk)
	predStart, _ := b.previousKey(pc)
	b.pending = append(b.pending, Retranslation{From: target, To: predStart})
	return blk, nil
}

// blockContaining returns the BB whose [start,end) range contains addr,
// if any.
func (b *Builder) blockContaining(addr object.GuestAddress) (*ir.Block, bool) {
	i := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] > addr })
	if i == 0 {
		return nil, false
	}
	start := b.keys[i-1]
	blk := b.BBMap[start]
	if _, hasInstr := b.InstrMap[addr]; !hasInstr {
		return nil, false
	}
	return blk, true
}

func (b *Builder) previousKey(pc object.GuestAddress) (object.GuestAddress, bool) {
	i := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] > pc })
	if i == 0 {
		return 0, false
	}
	return b.keys[i-1], true
}

// SplitBB splits bb at target, whose instruction must already have been
// recorded in InstrMap. If bb has no terminator yet (translation still
// in-flight for it), a dummy ret is inserted before splitting and removed
// from the new tail block afterwards, so the split has a well-formed
// block to operate on.
func (b *Builder) SplitBB(bb *ir.Block, target object.GuestAddress) (*ir.Block, error) {
	instr, ok := b.InstrMap[target]
	sbterr.Assert(ok, "function: split target 0x%x has no recorded instruction", target)

	idx := -1
	for i, in := range bb.Insts {
		if in == instr {
			idx = i
			break
		}
	}
	sbterr.Assert(idx >= 0, "function: split target 0x%x instruction not found in its owning block", target)

	dummied := bb.Term == nil
	if dummied {
		bb.Term = ir.NewRet(nil)
	}

	newBB := b.F.NewBlock(fmt.Sprintf("bb%x", target))
	b.insertBlockAfter(bb, newBB)

	newBB.Insts = append([]ir.Instruction(nil), bb.Insts[idx:]...)
	bb.Insts = bb.Insts[:idx]
	newBB.Term = bb.Term
	bb.Term = bb.NewBr(newBB)

	if dummied {
		newBB.Term = nil
	}

	b.insertKey(target, newBB)

	if b.cur == bb && dummied {
		b.cur = newBB
	}
	return newBB, nil
}

// ScheduleRetranslation records a one-shot re-translation pass for the
// range [from, to), drained by the module driver after the primary pass
// over a function.
func (b *Builder) ScheduleRetranslation(from, to object.GuestAddress) {
	b.pending = append(b.pending, Retranslation{From: from, To: to})
}

// DrainPending returns and clears the scheduled re-translation passes.
func (b *Builder) DrainPending() []Retranslation {
	out := b.pending
	b.pending = nil
	return out
}

func (b *Builder) insertKey(addr object.GuestAddress, blk *ir.Block) {
	b.BBMap[addr] = blk
	i := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= addr })
	if i < len(b.keys) && b.keys[i] == addr {
		return
	}
	b.keys = append(b.keys, 0)
	copy(b.keys[i+1:], b.keys[i:])
	b.keys[i] = addr
}

// removeBlock drops blk from F.Blocks. blk was just appended there by
// F.NewBlock; insertBlockBefore/insertBlockAfter call this first so
// splicing it into its real position doesn't leave a duplicate copy at
// the tail.
func (b *Builder) removeBlock(blk *ir.Block) {
	for i, bb := range b.F.Blocks {
		if bb == blk {
			b.F.Blocks = append(b.F.Blocks[:i], b.F.Blocks[i+1:]...)
			return
		}
	}
}

func (b *Builder) insertBlockBefore(existing, blk *ir.Block) {
	b.removeBlock(blk)
	for i, bb := range b.F.Blocks {
		if bb == existing {
			b.F.Blocks = append(b.F.Blocks, nil)
			copy(b.F.Blocks[i+1:], b.F.Blocks[i:])
			b.F.Blocks[i] = blk
			return
		}
	}
	b.F.Blocks = append(b.F.Blocks, blk)
}

func (b *Builder) insertBlockAfter(existing, blk *ir.Block) {
	b.removeBlock(blk)
	for i, bb := range b.F.Blocks {
		if bb == existing {
			b.F.Blocks = append(b.F.Blocks, nil)
			copy(b.F.Blocks[i+2:], b.F.Blocks[i+1:])
			b.F.Blocks[i+1] = blk
			return
		}
	}
	b.F.Blocks = append(b.F.Blocks, blk)
}
