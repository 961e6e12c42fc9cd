package runtime

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/xregister"
)

func TestSyscallDispatcherShape(t *testing.T) {
	m := ir.NewModule()
	rf := xregister.NewGlobalBank(m)

	f := GenSyscallHandler(m, rf, DefaultSyscallTable())
	require.NotNil(t, f)

	var entry, exit, sw1Dfl, sw2 *ir.Block
	sw1Cases := 0
	sw2Cases := 0
	for _, bb := range f.Blocks {
		switch bb.Name() {
		case "bb_rvsc_entry":
			entry = bb
		case "bb_rvsc_exit":
			exit = bb
		case "bb_rvsc_sw1_default":
			sw1Dfl = bb
		case "bb_rvsc_sw2":
			sw2 = bb
		}
	}
	require.NotNil(t, entry)
	require.NotNil(t, exit)
	require.NotNil(t, sw1Dfl)
	require.NotNil(t, sw2)

	sw1, ok := entry.Term.(*ir.TermSwitch)
	require.True(t, ok, "entry must end in a switch on the guest syscall number")
	sw1Cases = len(sw1.Cases)
	assert.Equal(t, len(DefaultSyscallTable()), sw1Cases)

	sw2Term, ok := sw2.Term.(*ir.TermSwitch)
	require.True(t, ok, "bb_rvsc_sw2 must end in a switch on the argument count")
	sw2Cases = len(sw2Term.Cases)
	assert.Equal(t, MaxSyscallArgs, sw2Cases, "cases 1..MaxSyscallArgs, case 0 is the switch's default")

	_, ok = exit.Term.(*ir.TermRet)
	assert.True(t, ok, "bb_rvsc_exit must return A0's value")
}

func TestICallerSwitchesOnEveryTarget(t *testing.T) {
	m := ir.NewModule()
	rf := xregister.NewGlobalBank(m)

	fn1 := m.NewFunc("guest_fn_1000", types.Void)
	fn2 := m.NewFunc("guest_fn_2000", types.Void)
	targets := map[object.GuestAddress]*ir.Func{
		0x1000: fn1,
		0x2000: fn2,
	}

	icaller := GenICaller(m, rf, targets)
	require.NotNil(t, icaller)

	var begin *ir.Block
	for _, bb := range icaller.Blocks {
		if bb.Name() == "begin" {
			begin = bb
		}
	}
	require.NotNil(t, begin)

	sw, ok := begin.Term.(*ir.TermSwitch)
	require.True(t, ok)
	assert.Len(t, sw.Cases, len(targets))
}
