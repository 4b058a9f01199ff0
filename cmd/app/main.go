package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

type rootFlags struct {
	configPath string
	dev        bool
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "app",
		Short:         "NovaCV subscription and entitlement service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "config.yaml", "path to YAML config file")
	root.PersistentFlags().BoolVar(&f.dev, "dev", false, "development mode (console logs, noop provider allowed)")

	root.AddCommand(
		newServeCmd(f),
		newMigrateCmd(f),
		newSweepCmd(f),
		newTokenCmd(f),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
