package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/a2s"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/config"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/inspect"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
)

var inspectDump bool

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Browse a parsed object's sections, symbols and disassembly",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectDump, "dump", false, "print a plain-text listing instead of opening the TUI")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	obj, err := object.Load(args[0])
	if err != nil {
		return err
	}

	if inspectDump {
		obj.Dump(os.Stdout)
		return nil
	}

	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	src, err := a2s.Parse(settings.A2SFile)
	if err != nil {
		return err
	}

	return inspect.New(obj, src).Run()
}
