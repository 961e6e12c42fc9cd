package fregister

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFunc(m *ir.Module, name string) (*ir.Func, *ir.Block) {
	f := m.NewFunc(name, nil)
	b := f.NewBlock("entry")
	return f, b
}

func TestF0HasRealStorage(t *testing.T) {
	m := ir.NewModule()
	gb := NewGlobalBank(m)
	_, b := newFunc(m, "f")

	before := len(b.Insts)
	v := gb.Load(b, 0)
	require.NotNil(t, v)
	assert.Greater(t, len(b.Insts), before, "f0 load must emit a real load, unlike x0")
	assert.True(t, gb.Read(0))
}

func TestGlobalBankUsageTracking(t *testing.T) {
	m := ir.NewModule()
	gb := NewGlobalBank(m)
	_, b := newFunc(m, "f")

	assert.False(t, gb.Touched(10))
	v := gb.Load(b, 10)
	gb.Store(b, 10, v)
	assert.True(t, gb.Touched(10))
	assert.True(t, gb.Read(10))
	assert.True(t, gb.Written(10))
}

func TestLocalBankSyncInOut(t *testing.T) {
	m := ir.NewModule()
	gb := NewGlobalBank(m)
	_, b := newFunc(m, "f")
	lb := NewLocalBank(b, gb)

	before := len(b.Insts) // NewLocalBank's allocas
	lb.SyncIn(b)
	assert.Len(t, b.Insts, before+NumRegs*2)

	before = len(b.Insts)
	lb.SyncOut(b)
	assert.Len(t, b.Insts, before+NumRegs*2)
}
