// Package runtime builds the two generated helper functions every
// translated module needs regardless of which guest functions it
// contains: the syscall trampoline (rv_syscall) and the indirect-call
// dispatcher (rv32_icaller).
package runtime

import (
	"fmt"
	"sort"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/xregister"
)

// SyscallEntry describes one guest syscall: how many integer arguments
// it takes (beyond the syscall number itself) and which host syscall
// number it maps to.
type SyscallEntry struct {
	Args       int
	HostNumber int
}

// SyscallTable maps a guest (RISC-V) syscall number to its host
// equivalent. Extensible at runtime - a config.Settings.SyscallProfile
// YAML document widens the built-in default table without recompiling.
type SyscallTable map[int]SyscallEntry

// MaxSyscallArgs bounds the second switch's case count: no entry in any
// table this translator ships or accepts may take more arguments than
// this.
const MaxSyscallArgs = 4

// DefaultSyscallTable covers exit(2) and write(2), the two syscalls
// every libc-free guest program needs at minimum to report a result and
// exit cleanly.
func DefaultSyscallTable() SyscallTable {
	return SyscallTable{
		93: {Args: 1, HostNumber: hostSysExit},
		64: {Args: 3, HostNumber: hostSysWrite},
	}
}

// GenSyscallHandler builds rv_syscall(i32 sc) -> i32: a two-level
// switch exactly mirroring the original's entry/sw1/sw2/exit structure.
// sw1 switches on the guest syscall number to pick an argument count
// and host syscall number; sw2 switches on that argument count to
// assemble the right arity of host syscall() call.
func GenSyscallHandler(m *ir.Module, rf xregister.Bank, table SyscallTable) *ir.Func {
	i32 := types.I32

	hostSyscall := make([]*ir.Func, MaxSyscallArgs+1)
	argTypes := []types.Type{i32}
	for i := 0; i <= MaxSyscallArgs; i++ {
		hostSyscall[i] = m.NewFunc(fmt.Sprintf("syscall%d", i), i32, paramsOf(argTypes)...)
		argTypes = append(argTypes, i32)
	}

	f := m.NewFunc("rv_syscall", i32, ir.NewParam("sc", i32))
	sc := f.Params[0]

	bbEntry := f.NewBlock("bb_rvsc_entry")
	bbExit := f.NewBlock("bb_rvsc_exit")
	bbSW1Dfl := f.NewBlock("bb_rvsc_sw1_default")
	bbSW2 := f.NewBlock("bb_rvsc_sw2")

	bbExit.NewRet(rf.Load(bbExit, xregister.A0))

	// default: unknown syscall, emulate exit(99).
	bbSW1Dfl.NewStore(constant.NewInt(i32, 1), mustGlobal(rf, xregister.T0))
	bbSW1Dfl.NewStore(constant.NewInt(i32, int64(hostSysExit)), mustGlobal(rf, xregister.A7))
	bbSW1Dfl.NewStore(constant.NewInt(i32, 99), mustGlobal(rf, xregister.A0))
	bbSW1Dfl.NewBr(bbSW2)

	sw1 := bbEntry.NewSwitch(sc, bbSW1Dfl)

	for _, gn := range sortedKeys(table) {
		e := table[gn]
		bb := f.NewBlock(fmt.Sprintf("bb_rvsc_sw1_case_%d", gn))
		bb.NewStore(constant.NewInt(i32, int64(e.Args)), mustGlobal(rf, xregister.T0))
		bb.NewStore(constant.NewInt(i32, int64(e.HostNumber)), mustGlobal(rf, xregister.A7))
		bb.NewBr(bbSW2)
		sw1.Cases = append(sw1.Cases, ir.NewCase(constant.NewInt(i32, int64(gn)), bb))
	}

	// sw2: switch on arg count, build and issue the host syscall.
	sw2Cases := make([]*ir.Block, MaxSyscallArgs+1)
	for n := 0; n <= MaxSyscallArgs; n++ {
		bb := f.NewBlock(fmt.Sprintf("bb_rvsc_sw2_case_%d", n))
		callArgs := []value.Value{rf.Load(bb, xregister.A7)}
		for i := 0; i < n; i++ {
			callArgs = append(callArgs, rf.Load(bb, xregister.A0+i))
		}
		v := bb.NewCall(hostSyscall[n], callArgs...)
		bb.NewStore(v, mustGlobal(rf, xregister.A0))
		bb.NewBr(bbExit)
		sw2Cases[n] = bb
	}

	t0 := rf.Load(bbSW2, xregister.T0)
	sw2 := bbSW2.NewSwitch(t0, sw2Cases[0])
	for n := 1; n <= MaxSyscallArgs; n++ {
		sw2.Cases = append(sw2.Cases, ir.NewCase(constant.NewInt(i32, int64(n)), sw2Cases[n]))
	}

	return f
}

// GenICaller builds rv32_icaller(), the indirect-call dispatcher for
// JALR instructions whose target could not be resolved statically: a
// begin/default/end/case-per-target switch reading the would-be target
// address out of T1, matching it to one of the translated functions
// whose address is known, and calling it.
func GenICaller(m *ir.Module, rf xregister.Bank, targets map[object.GuestAddress]*ir.Func) *ir.Func {
	i32 := types.I32
	f := m.NewFunc("rv32_icaller", types.Void)

	bbBegin := f.NewBlock("begin")
	bbDefault := f.NewBlock("default")
	bbEnd := f.NewBlock("end")

	bbDefault.NewStore(constant.NewInt(i32, 0), mustGlobal(rf, xregister.T1))
	bbDefault.NewBr(bbEnd)

	t1 := rf.Load(bbEnd, xregister.T1)
	voidFuncPtr := types.NewPointer(types.NewFunc(types.Void))
	target := bbEnd.NewIntToPtr(t1, voidFuncPtr)
	bbEnd.NewCall(target)
	bbEnd.NewRet(nil)

	t1Switch := rf.Load(bbBegin, xregister.T1)
	sw := bbBegin.NewSwitch(t1Switch, bbDefault)

	for _, addr := range sortedAddrs(targets) {
		fn := targets[addr]
		bb := f.NewBlock("case_" + fn.Name())
		sym := bb.NewPtrToInt(fn, i32)
		bb.NewStore(sym, mustGlobal(rf, xregister.T1))
		bb.NewBr(bbEnd)
		sw.Cases = append(sw.Cases, ir.NewCase(constant.NewInt(i32, int64(addr)), bb))
	}

	return f
}

func paramsOf(typs []types.Type) []*ir.Param {
	ps := make([]*ir.Param, len(typs))
	for i, t := range typs {
		ps[i] = ir.NewParam("", t)
	}
	return ps
}

func sortedKeys(t SyscallTable) []int {
	keys := make([]int, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func sortedAddrs(m map[object.GuestAddress]*ir.Func) []object.GuestAddress {
	keys := make([]object.GuestAddress, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// mustGlobal retrieves the *ir.Global backing index idx in rf. The
// syscall/icaller handlers always run against the module-global bank
// regardless of the active register mode, since they are called across
// function boundaries where only globals are guaranteed synced.
func mustGlobal(rf xregister.Bank, idx int) *ir.Global {
	gb, ok := rf.(*xregister.GlobalBank)
	if !ok {
		panic("runtime: syscall/icaller generation requires a *xregister.GlobalBank")
	}
	return gb.Global(idx)
}
