package xregister

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFunc(m *ir.Module, name string) (*ir.Func, *ir.Block) {
	f := m.NewFunc(name, nil)
	b := f.NewBlock("entry")
	return f, b
}

func TestX0ReadIsZeroWriteIsNoop(t *testing.T) {
	m := ir.NewModule()
	gb := NewGlobalBank(m)
	_, b := newFunc(m, "f")

	before := len(b.Insts)
	v := gb.Load(b, 0)
	c, ok := v.(*constant.Int)
	require.True(t, ok)
	assert.Equal(t, int64(0), c.X.Int64())
	assert.Equal(t, before, len(b.Insts), "x0 load must not emit an instruction")

	gb.Store(b, 0, constant.NewInt(c.Typ, 42))
	assert.Equal(t, before, len(b.Insts), "x0 store must be dropped")
	assert.False(t, gb.Written(0))
}

func TestGlobalBankLoadStoreTracksUsage(t *testing.T) {
	m := ir.NewModule()
	gb := NewGlobalBank(m)
	_, b := newFunc(m, "f")

	assert.False(t, gb.Touched(5))
	v := gb.Load(b, 5)
	require.NotNil(t, v)
	assert.True(t, gb.Touched(5))
	assert.True(t, gb.Read(5))
	assert.False(t, gb.Written(5))

	gb.Store(b, 5, v)
	assert.True(t, gb.Written(5))
	assert.Len(t, b.Insts, 2) // one load, one store
}

func TestLocalBankSyncInOut(t *testing.T) {
	m := ir.NewModule()
	gb := NewGlobalBank(m)
	_, b := newFunc(m, "f")
	lb := NewLocalBank(b, gb)

	before := len(b.Insts) // NewLocalBank's allocas
	lb.SyncIn(b)
	assert.Len(t, b.Insts, before+(NumRegs-1)*2) // load global + store local, per non-zero reg

	before = len(b.Insts)
	lb.SyncOut(b)
	assert.Len(t, b.Insts, before+(NumRegs-1)*2)
}

func TestLocalBankX0StillStorageless(t *testing.T) {
	m := ir.NewModule()
	gb := NewGlobalBank(m)
	_, b := newFunc(m, "f")
	lb := NewLocalBank(b, gb)

	v := lb.Load(b, 0)
	_, ok := v.(*constant.Int)
	assert.True(t, ok)
}
