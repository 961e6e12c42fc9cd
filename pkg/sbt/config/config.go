// Package config collects the translator's tunable settings - register
// allocation mode, syscall table widening, float ABI, debug tracing - and
// the viper/YAML plumbing that fills them in from flags, environment
// variables and an optional profile file, mirroring the layered
// flags > env > YAML precedence the CLI's own initConfig uses.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/runtime"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/translator"
)

// Settings holds one translation run's configuration, after flags, env
// vars and any YAML profile have all been layered together.
type Settings struct {
	// RegisterMode picks between one global cell per guest register
	// (GLOBALS) and per-function locals synced at call boundaries
	// (LOCALS).
	RegisterMode translator.RegisterMode
	// HardFloatABI selects the hard-float calling convention in
	// pkg/sbt/caller instead of the soft-float fallback.
	HardFloatABI bool
	// Debug enables per-section/per-symbol/per-instruction trace
	// logging during translation.
	Debug bool
	// SyscallProfile is an optional path to a YAML document widening
	// the built-in syscall table. Empty means the default table only.
	SyscallProfile string
	// A2SFile is an optional path to an address-to-source annotation
	// file.
	A2SFile string
	// Output holds the "output" key as viper reads it; sbt translate
	// takes its output path from its own -o flag and does not read this
	// field.
	Output string
}

// registerModeFromString parses the --register-mode flag value.
func registerModeFromString(s string) (translator.RegisterMode, error) {
	switch s {
	case "", "globals":
		return translator.Globals, nil
	case "locals":
		return translator.Locals, nil
	default:
		return 0, fmt.Errorf("register mode must be %q or %q, got %q", "globals", "locals", s)
	}
}

// Load reads Settings out of v, which the caller has already populated
// from cobra flags, SBT_* environment variables and an optional
// ~/.sbtrc.yaml, in that order of precedence (viper's own layering).
func Load(v *viper.Viper) (Settings, error) {
	mode, err := registerModeFromString(v.GetString("register-mode"))
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		RegisterMode:   mode,
		HardFloatABI:   v.GetBool("hard-float-abi"),
		Debug:          v.GetBool("debug"),
		SyscallProfile: v.GetString("syscall-profile"),
		A2SFile:        v.GetString("a2s"),
		Output:         v.GetString("output"),
	}, nil
}

// syscallProfile is the YAML shape a --syscall-profile file is expected
// to follow: a flat list of guest syscalls widening the built-in table.
type syscallProfile struct {
	Syscalls []struct {
		Guest int `yaml:"guest"`
		Args  int `yaml:"args"`
		Host  int `yaml:"host"`
	} `yaml:"syscalls"`
}

// SyscallTable builds the effective syscall table for s: the built-in
// default, widened by s.SyscallProfile's entries if one was given. A
// profile entry overrides a default entry with the same guest number.
func (s Settings) SyscallTable() (runtime.SyscallTable, error) {
	table := runtime.DefaultSyscallTable()
	if s.SyscallProfile == "" {
		return table, nil
	}

	raw, err := os.ReadFile(s.SyscallProfile)
	if err != nil {
		return nil, sbterr.FileError(s.SyscallProfile, err)
	}

	var profile syscallProfile
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return nil, sbterr.FileError(s.SyscallProfile, err)
	}

	for _, e := range profile.Syscalls {
		if e.Args < 0 || e.Args > runtime.MaxSyscallArgs {
			return nil, sbterr.FileError(s.SyscallProfile,
				fmt.Errorf("guest syscall %d takes %d arguments, limit is %d", e.Guest, e.Args, runtime.MaxSyscallArgs))
		}
		table[e.Guest] = runtime.SyscallEntry{Args: e.Args, HostNumber: e.Host}
	}
	return table, nil
}
