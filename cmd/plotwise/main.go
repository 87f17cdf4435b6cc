// Command plotwise turns tabular datasets and plain-language requests into
// charts. It runs the HTTP API, an MCP tool server, or one-off profiling
// and visualization from the command line.
//
// Configuration is read from config.yaml, .env and PLOTWISE_* environment
// variables; see pkg/config.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("plotwise failed", "error", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "plotwise",
		Short:         "Agent-routed, sandboxed chart generation for CSV and XLSX data",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to config.yaml (default: discovered)")

	root.AddCommand(
		newServeCmd(g),
		newProfileCmd(),
		newVisualizeCmd(g),
		newMCPCmd(g),
	)
	return root
}
