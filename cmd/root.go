// Package cmd implements the memkit command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memkit/internal/config"
	"github.com/nextlevelbuilder/memkit/internal/memkit"
)

// Version is stamped at build time.
var Version = "dev"

var cfgPath string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "memkit",
		Short:   "Local file-backed memory for autonomous agents",
		Version: Version,
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default $MEMKIT_CONFIG or <home>/config.json5)")

	cmd.AddCommand(contextCmd())
	cmd.AddCommand(nodeCmd())
	cmd.AddCommand(runCmd())
	cmd.AddCommand(recallCmd())
	cmd.AddCommand(reindexCmd())
	cmd.AddCommand(statsCmd())
	cmd.AddCommand(serveCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("Error loading config: %v", err)
	}
	return cfg
}

func openEngine() *memkit.Engine {
	e, err := memkit.Open(loadConfig())
	if err != nil {
		fatalf("Error opening memkit: %v", err)
	}
	return e
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
