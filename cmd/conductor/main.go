// Package main provides the CLI entry point for conductor, the
// orchestration core binding a provider manager, a multi-agent
// collaboration orchestrator, and a branching workflow engine behind
// one command surface.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	commit     = "none"
	configPath string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "conductor",
		Short:        "Provider routing, multi-agent collaboration, and workflow orchestration",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "path to conductor config YAML")

	root.AddCommand(
		buildProvidersCmd(),
		buildWorkflowCmd(),
		buildCollabCmd(),
	)
	return root
}
