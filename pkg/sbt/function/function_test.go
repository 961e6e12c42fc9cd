package function

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
)

func newTestFunc(name string) *ir.Func {
	m := ir.NewModule()
	return m.NewFunc(name, types.Void)
}

func TestAddressMonotonicity(t *testing.T) {
	f := newTestFunc("f")
	b := NewBuilder(f, 0x1000)

	_, err := b.Target(0x1000, 0x1020)
	require.NoError(t, err)
	_, err = b.Target(0x1000, 0x1010)
	require.NoError(t, err)

	assert.True(t, isSorted(b.keys))

	next, ok := b.NextBBAfter(0x1000)
	require.True(t, ok)
	assert.Equal(t, object.GuestAddress(0x1010), next)

	next, ok = b.NextBBAfter(0x1010)
	require.True(t, ok)
	assert.Equal(t, object.GuestAddress(0x1020), next)

	_, ok = b.NextBBAfter(0x1020)
	assert.False(t, ok)
}

func isSorted(keys []object.GuestAddress) bool {
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			return false
		}
	}
	return true
}

func TestBBCoverage(t *testing.T) {
	f := newTestFunc("f")
	b := NewBuilder(f, 0x1000)

	blk, err := b.Target(0x1000, 0x1008)
	require.NoError(t, err)
	require.NotNil(t, blk)

	b.Current().NewBr(blk)
	b.At(0x1008)
	b.Current().NewRet(nil)

	for addr, bb := range b.BBMap {
		assert.NotNilf(t, bb.Term, "block at 0x%x must end in a terminator", addr)
		if len(bb.Insts) > 0 {
			first, ok := b.InstrMap[addr]
			if ok {
				assert.Same(t, first, bb.Insts[0])
			}
		}
	}
}

func TestSplitBB(t *testing.T) {
	f := newTestFunc("f")
	b := NewBuilder(f, 0x1000)
	entry := b.Current()

	i1 := entry.NewAlloca(types.I32)
	b.RecordInstr(0x1000, i1)
	i2 := entry.NewAlloca(types.I32)
	b.RecordInstr(0x1004, i2)
	i3 := entry.NewAlloca(types.I32)
	b.RecordInstr(0x1008, i3)

	require.Nil(t, entry.Term, "entry must still be in-flight (no terminator) before the split")

	newBB, err := b.SplitBB(entry, 0x1004)
	require.NoError(t, err)

	assert.Len(t, entry.Insts, 1)
	assert.Same(t, i1, entry.Insts[0])
	assert.Len(t, newBB.Insts, 2)
	assert.Same(t, i2, newBB.Insts[0])
	assert.Same(t, i3, newBB.Insts[1])

	require.NotNil(t, entry.Term, "the original block must gain a branch to the split-off tail")
	assert.Nil(t, newBB.Term, "the dummy terminator must be removed from the in-flight tail")
	assert.Same(t, newBB, b.Current(), "translation continues in the tail block")
}

func TestSplitBBOfAlreadyTerminatedBlock(t *testing.T) {
	f := newTestFunc("f")
	b := NewBuilder(f, 0x1000)
	entry := b.Current()

	i1 := entry.NewAlloca(types.I32)
	b.RecordInstr(0x1000, i1)
	i2 := entry.NewAlloca(types.I32)
	b.RecordInstr(0x1004, i2)
	entry.NewRet(nil)

	newBB, err := b.SplitBB(entry, 0x1004)
	require.NoError(t, err)
	require.NotNil(t, newBB.Term, "a historically-finished block's terminator must move to the tail")
	assert.Len(t, entry.Insts, 1)
}

func assertNoDuplicateBlocks(t *testing.T, f *ir.Func) {
	t.Helper()
	seen := make(map[*ir.Block]bool, len(f.Blocks))
	for _, bb := range f.Blocks {
		assert.Falsef(t, seen[bb], "block %p appears more than once in F.Blocks", bb)
		seen[bb] = true
	}
}

// TestTargetDoesNotDuplicateBlocks covers a conditional branch's two
// Target calls - one for the taken edge, one for the fall-through -
// which is exactly the shape a `beq` emits. Each call to Target
// allocates its block via F.NewBlock, which already appends it to
// F.Blocks; insertBlockBefore must not leave a second copy behind when
// it splices that same block into position.
func TestTargetDoesNotDuplicateBlocks(t *testing.T) {
	f := newTestFunc("f")
	b := NewBuilder(f, 0x1000)

	target, err := b.Target(0x1000, 0x1010)
	require.NoError(t, err)
	fall, err := b.Target(0x1000, 0x1008)
	require.NoError(t, err)

	assertNoDuplicateBlocks(t, f)
	assert.Len(t, f.Blocks, 3, "entry, fall-through and target blocks only - no duplicates")
	assert.NotSame(t, target, fall)
}

// TestSplitBBDoesNotDuplicateBlocks covers SplitBB's use of
// insertBlockAfter, the same duplication hazard as Target's
// insertBlockBefore.
func TestSplitBBDoesNotDuplicateBlocks(t *testing.T) {
	f := newTestFunc("f")
	b := NewBuilder(f, 0x1000)
	entry := b.Current()

	i1 := entry.NewAlloca(types.I32)
	b.RecordInstr(0x1000, i1)
	i2 := entry.NewAlloca(types.I32)
	b.RecordInstr(0x1004, i2)

	_, err := b.SplitBB(entry, 0x1004)
	require.NoError(t, err)

	assertNoDuplicateBlocks(t, f)
	assert.Len(t, f.Blocks, 2)
}

func TestBackwardJumpOutsideKnownBlockSchedulesRetranslation(t *testing.T) {
	f := newTestFunc("f")
	b := NewBuilder(f, 0x2000)

	blk, err := b.Target(0x2010, 0x1000)
	require.NoError(t, err)
	require.NotNil(t, blk)

	pending := b.DrainPending()
	require.Len(t, pending, 1)
	assert.Equal(t, object.GuestAddress(0x1000), pending[0].From)
}
