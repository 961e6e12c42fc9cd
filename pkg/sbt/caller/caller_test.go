package caller

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/fregister"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/xregister"
)

func newTestFunc(name string, params []*ir.Param, ret types.Type, variadic bool) *ir.Func {
	m := ir.NewModule()
	f := m.NewFunc(name, ret, params...)
	f.Sig.Variadic = variadic
	return f
}

func TestNewComputesFixedAndTotalArgs(t *testing.T) {
	p0 := ir.NewParam("", types.I32)
	p1 := ir.NewParam("", types.I32)
	f := newTestFunc("f", []*ir.Param{p0, p1}, types.Void, false)

	c := New(f, nil, nil, false, false)
	assert.Equal(t, 2, c.fixedArgs)
	assert.False(t, c.isVarArg)
	assert.Equal(t, 2, c.totalArgs)
}

func TestNewCapsVariadicTotalArgsAtMaxArgs(t *testing.T) {
	params := make([]*ir.Param, 6)
	for i := range params {
		params[i] = ir.NewParam("", types.I32)
	}
	f := newTestFunc("f", params, types.Void, true)

	c := New(f, nil, nil, false, false)
	require.True(t, c.isVarArg)
	assert.Equal(t, MAX_ARGS, c.totalArgs, "6 fixed + 4 vararg slots exceeds MAX_ARGS, so it must be capped")
}

func TestI32x2ToFP64RoundTripsThroughFP64ToI32x2(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.Void)
	b := f.NewBlock("entry")

	lo := b.NewLoad(types.I32, m.NewGlobalDef("lo", nil))
	hi := b.NewLoad(types.I32, m.NewGlobalDef("hi", nil))

	d := I32x2ToFP64(b, lo, hi)
	require.NotNil(t, d)
	assert.True(t, d.Type().Equal(types.Double))

	gotLo, gotHi := FP64ToI32x2(b, d)
	assert.True(t, gotLo.Type().Equal(types.I32))
	assert.True(t, gotHi.Type().Equal(types.I32))
}

func TestRefToFP128AndBack(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.Void)
	b := f.NewBlock("entry")

	ref := b.NewLoad(types.I32, m.NewGlobalDef("ref", nil))
	v := RefToFP128(b, ref)
	assert.True(t, v.Type().Equal(types.FP128))

	FP128ToRef(b, v, ref)
}

func TestSetArgsOverridesRegisterSourcing(t *testing.T) {
	p0 := ir.NewParam("", types.I32)
	f := newTestFunc("f", []*ir.Param{p0}, types.Void, false)
	c := New(f, nil, nil, false, false)

	m := ir.NewModule()
	caller := m.NewFunc("caller", types.Void)
	b := caller.NewBlock("entry")

	arg := b.NewLoad(types.I32, m.NewGlobalDef("x", nil))
	c.SetArgs([]value.Value{arg})

	got := c.NextArg(b, 0)
	assert.Same(t, arg, got)
}

func TestSetArgsExhaustionFallsBackToZero(t *testing.T) {
	f := newTestFunc("f", nil, types.Void, false)
	c := New(f, nil, nil, false, false)
	c.SetArgs(nil)

	m := ir.NewModule()
	caller := m.NewFunc("caller", types.Void)
	b := caller.NewBlock("entry")

	got := c.NextArg(b, 0)
	require.NotNil(t, got)
	assert.True(t, got.Type().Equal(types.I32))
}

func TestNextArgSelectsFloatClassUnderHardFloat(t *testing.T) {
	p0 := ir.NewParam("", types.Double)
	f := newTestFunc("f", []*ir.Param{p0}, types.Void, false)

	m := ir.NewModule()
	xg := xregister.NewGlobalBank(m)
	caller := m.NewFunc("caller", types.Void)
	entry := caller.NewBlock("entry")
	xl := xregister.NewLocalBank(entry, xg)

	fg := fregister.NewGlobalBank(m)
	fl := fregister.NewLocalBank(entry, fg)

	c := New(f, xl, fl, true, false)
	c.NextArg(entry, 0)

	assert.True(t, fl.Read(fregister.FA0), "a double param under hard-float must be sourced from FA0")
	assert.False(t, xl.Read(xregister.A0), "the x bank must not be touched for a float-class argument")
}

func TestCallExternalStoresIntegerReturnInA0(t *testing.T) {
	m := ir.NewModule()
	target := m.NewFunc("target", types.I32, ir.NewParam("", types.I32))

	xg := xregister.NewGlobalBank(m)
	caller := m.NewFunc("caller", types.Void)
	entry := caller.NewBlock("entry")
	xl := xregister.NewLocalBank(entry, xg)
	fg := fregister.NewGlobalBank(m)
	fl := fregister.NewLocalBank(entry, fg)

	c := New(target, xl, fl, false, false)
	c.CallExternal(entry)

	assert.True(t, xl.Written(xregister.A0))
}
