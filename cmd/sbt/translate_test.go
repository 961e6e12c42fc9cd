package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteModuleWritesTextualIRForNonBitcodeOutput(t *testing.T) {
	m := ir.NewModule()
	m.NewFunc("rv32_main", types.Void)

	out := filepath.Join(t.TempDir(), "out.ll")
	require.NoError(t, writeModule(m, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rv32_main")
}

func TestWriteModuleRequiresLlvmAsForBitcodeOutput(t *testing.T) {
	t.Setenv("PATH", "")

	m := ir.NewModule()
	out := filepath.Join(t.TempDir(), "out.bc")
	err := writeModule(m, out)
	assert.Error(t, err, "without llvm-as on PATH, a .bc request must fail rather than silently write text")
}
