// Command restflow is a development harness for exercising the agent
// execution engine end to end, with a file-backed checkpoint store and a
// scripted LLM client — not a production surface (§1: HTTP/Tauri/CLI
// dispatch for the full platform live outside this module).
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "restflow",
		Short:        "RestFlow agent execution engine — development harness",
		Long:         `A thin CLI around the executor loop, for driving a scripted or mock invocation end to end and inspecting checkpoints. Not the platform's production surface (§1).`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd(), buildResumeCmd())
	return rootCmd
}
