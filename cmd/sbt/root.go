package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sbt",
	Short: "Static binary translator for 32-bit RISC-V ELF objects",
	Long: `sbt lowers statically linked 32-bit RISC-V ELF objects into LLVM IR,
opcode by opcode, onto an x86-32 host register and calling convention.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree. It is the sole entry point main calls;
// everything below it, including the top-level Internal recover, lives
// here rather than in main so tests can call it directly.
func Execute() {
	defer recoverInternal()

	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "sbt: %v\n", err)
		os.Exit(1)
	}
}

// recoverInternal turns the one kind of panic sbt raises on purpose -
// sbterr.Internal, a violated invariant - into a diagnostic and exit
// code 2. Any other panic was not anticipated and is left to propagate.
func recoverInternal() {
	r := recover()
	if r == nil {
		return
	}
	if internal, ok := r.(sbterr.Internal); ok {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "sbt: internal error: %s\n", internal.Error())
		os.Exit(2)
	}
	panic(r)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.sbtrc.yaml)")
	rootCmd.PersistentFlags().String("register-mode", "globals", "register allocation mode: globals or locals")
	rootCmd.PersistentFlags().String("syscall-profile", "", "YAML file widening the built-in syscall table")
	rootCmd.PersistentFlags().String("a2s", "", "address-to-source annotation file")
	rootCmd.PersistentFlags().Bool("hard-float-abi", false, "use the hard-float calling convention for external calls")
	rootCmd.PersistentFlags().Bool("debug", false, "enable per-section/per-symbol/per-instruction debug tracing")
	rootCmd.PersistentFlags().Bool("log-json", false, "also emit structured logs as JSON")

	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

// initConfig layers flags over SBT_* environment variables over an
// optional ~/.sbtrc.yaml, in that order of precedence, then wires up
// slog's default logger from the result.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sbtrc")
	}

	viper.SetEnvPrefix("SBT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && viper.ConfigFileUsed() != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	setupLogging(viper.GetBool("debug"), viper.GetBool("log-json"))
}

// setupLogging builds the default slog.Logger as a fan-out over a
// human-readable stderr handler and, when requested, a JSON handler
// alongside it - the way a slog-multi handler tree composes rather than
// swapping one handler for another.
func setupLogging(debug, logJSON bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, opts)}
	if logJSON {
		handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
	}

	slog.SetDefault(slog.New(slogmulti.Fanout(handlers...)))
}
