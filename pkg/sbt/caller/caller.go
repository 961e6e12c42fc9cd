// Package caller lowers a guest function call - arguments and return
// value living in registers - into a native LLVM call through the
// already-declared target *ir.Func, handling the hard-float/soft-float
// ABI split, FP128-by-reference and variadic calls.
package caller

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/fregister"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/xregister"
)

// MAX_ARGS bounds the number of registers read for any one call,
// including the 4 extra slots read for a variadic tail. A module-global
// constant, matching the original's class-static (not a per-call-site
// setting).
const MAX_ARGS = 8

// XBank and FBank are the subset of the register-bank interfaces Caller
// needs: lazy loads for argument fetch, stores for return placement.
type XBank interface {
	Load(b *ir.Block, idx int) value.Value
	Store(b *ir.Block, idx int, v value.Value)
}

type FBank interface {
	Load(b *ir.Block, idx int) value.Value
	Store(b *ir.Block, idx int, v value.Value)
}

// Caller drives one call site's argument lowering and return handling.
type Caller struct {
	xbank XBank
	fbank FBank

	hardFloat bool
	retInGlobal bool

	target    *ir.Func
	fixedArgs int
	isVarArg  bool
	totalArgs int

	xreg int
	freg int

	passZero bool
	retRef   value.Value

	// explicit args override register-sourced args (used by internal,
	// not external, calls where operands are already IR values).
	args    []value.Value
	argIdx  int
}

// New builds a Caller for a call to target from the current function's
// register banks. hardFloat selects the ABI variant; retInGlobal selects
// whether return placement targets the module's global register bank or
// the current function's local one (xbank/fbank passed in already
// reflect that choice for argument sourcing).
func New(target *ir.Func, xbank XBank, fbank FBank, hardFloat, retInGlobal bool) *Caller {
	c := &Caller{
		xbank:       xbank,
		fbank:       fbank,
		hardFloat:   hardFloat,
		retInGlobal: retInGlobal,
		target:      target,
		xreg:        xregister.A0,
		freg:        fregister.FA0,
	}

	c.fixedArgs = len(target.Params)
	c.isVarArg = target.Sig.Variadic
	if c.isVarArg {
		c.totalArgs = min(c.fixedArgs+4, MAX_ARGS)
	} else {
		c.totalArgs = c.fixedArgs
	}
	return c
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SetArgs overrides register-sourced arguments with explicit IR values,
// for internal calls whose operands are already materialized (as opposed
// to an external call, which always sources arguments from registers).
func (c *Caller) SetArgs(args []value.Value) {
	if args == nil {
		args = []value.Value{}
	}
	c.args = args
	c.argIdx = 0
}

// NextArg fetches the next argument, either from the explicit override
// list or from the next register in sequence, advancing x_reg or f_reg
// per spec.md §4.8's hard-float/soft-float class-selection rule.
func (c *Caller) NextArg(b *ir.Block, paramIdx int) value.Value {
	if c.passZero {
		return constant.NewInt(types.I32, 0)
	}
	if c.args != nil {
		if c.argIdx >= len(c.args) {
			c.passZero = true
			return constant.NewInt(types.I32, 0)
		}
		v := c.args[c.argIdx]
		c.argIdx++
		return v
	}

	var ty types.Type = types.I32
	useFloatClass := false
	if c.hardFloat && paramIdx < c.fixedArgs {
		ty = c.target.Params[paramIdx].Typ
		useFloatClass = isFloatOrDouble(ty)
	}

	var v value.Value
	if useFloatClass {
		v = c.fbank.Load(b, c.freg)
		c.freg++
	} else {
		v = c.xbank.Load(b, c.xreg)
		c.xreg++
	}
	return v
}

func isFloatOrDouble(ty types.Type) bool {
	return ty.Equal(types.Float) || ty.Equal(types.Double)
}

// CastArg casts v, already loaded for param position paramIdx, to ty:
// the i32-pair merge for double under soft-float, the FP128-by-reference
// load, or a plain bitcast.
func (c *Caller) CastArg(b *ir.Block, v value.Value, ty types.Type, paramIdx int) value.Value {
	if c.hardFloat {
		if c.isVarArg {
			if ty.Equal(types.I32) {
				return v
			}
		} else if ty.Equal(types.I32) || isFloatOrDouble(ty) {
			return v
		}
	} else if ty.Equal(types.I32) {
		return v
	}

	if ty.Equal(types.Double) {
		hi := c.NextArg(b, paramIdx+1)
		return I32x2ToFP64(b, v, hi)
	}
	if ty.Equal(types.FP128) {
		return RefToFP128(b, v)
	}
	return b.NewBitCast(v, ty)
}

// CallExternal lowers a full call: consumes an FP128 return-by-ref slot
// first if needed, loads+casts every argument, emits the call, and
// handles the return.
func (c *Caller) CallExternal(b *ir.Block) value.Value {
	retType := c.target.Sig.RetType
	if retType.Equal(types.FP128) {
		c.retRef = c.NextArg(b, -1)
	}

	var args []value.Value
	for i := 0; i < c.totalArgs; i++ {
		v := c.NextArg(b, i)
		var ty types.Type = types.I32
		if i < c.fixedArgs {
			ty = c.target.Params[i].Typ
		}
		args = append(args, c.CastArg(b, v, ty, i))
	}

	ret := b.NewCall(c.target, args...)
	c.HandleReturn(b, ret)
	return ret
}

// HandleReturn stores ret into the appropriate register(s) per its type:
// void is dropped, float/double under hard-float goes to FA0, double
// under soft-float splits across A0/A1, FP128 writes through the
// caller-supplied return slot, anything else is bitcast to i32 and
// stored to A0.
func (c *Caller) HandleReturn(b *ir.Block, ret value.Value) {
	retType := ret.Type()
	if retType.Equal(types.Void) {
		return
	}

	switch {
	case c.hardFloat && retType.Equal(types.Float):
		c.fbank.Store(b, fregister.FA0, b.NewFPExt(ret, types.Double))
	case retType.Equal(types.Double):
		if c.hardFloat {
			c.fbank.Store(b, fregister.FA0, ret)
		} else {
			lo, hi := FP64ToI32x2(b, ret)
			c.xbank.Store(b, xregister.A0, lo)
			c.xbank.Store(b, xregister.A1, hi)
		}
	case retType.Equal(types.FP128):
		sbterr.Assert(c.retRef != nil, "caller: FP128 return with no return-by-reference slot")
		FP128ToRef(b, ret, c.retRef)
	default:
		v := ret
		if !retType.Equal(types.I32) {
			v = b.NewBitCast(ret, types.I32)
		}
		c.xbank.Store(b, xregister.A0, v)
	}
}

// I32x2ToFP64 merges two i32 registers (lo, hi) into a double, the
// soft-float argument-assembly step: (hi<<32 | lo) bitcast to double.
func I32x2ToFP64(b *ir.Block, lo, hi value.Value) value.Value {
	vlo := b.NewZExt(lo, types.I64)
	vhi := b.NewZExt(hi, types.I64)
	vhi = b.NewShl(vhi, constant.NewInt(types.I64, 32))
	merged := b.NewOr(vhi, vlo)
	return b.NewBitCast(merged, types.Double)
}

// FP64ToI32x2 splits a double into its (lo, hi) i32 halves for the
// soft-float return path.
func FP64ToI32x2(b *ir.Block, f value.Value) (lo, hi value.Value) {
	v := b.NewBitCast(f, types.I64)
	lo = b.NewTrunc(v, types.I32)
	shifted := b.NewLShr(v, constant.NewInt(types.I64, 32))
	hi = b.NewTrunc(shifted, types.I32)
	return lo, hi
}

// RefToFP128 loads an FP128 value through a pointer argument. ref is an
// i32 register holding the pointer's address, so converting it needs
// inttoptr, not bitcast - a bitcast between an integer and a pointer is
// invalid LLVM IR.
func RefToFP128(b *ir.Block, ref value.Value) value.Value {
	ptr := b.NewIntToPtr(ref, types.NewPointer(types.FP128))
	return b.NewLoad(types.FP128, ptr)
}

// FP128ToRef stores f through a pointer return slot. See RefToFP128 on
// why this is inttoptr rather than bitcast.
func FP128ToRef(b *ir.Block, f, ref value.Value) {
	ptr := b.NewIntToPtr(ref, types.NewPointer(types.FP128))
	b.NewStore(f, ptr)
}
