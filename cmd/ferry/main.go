// Package main provides the CLI entry point for ferry, an LM-orchestrated
// tool-use engine.
//
// # Basic Usage
//
// Start the server:
//
//	ferry serve --config ferry.yaml
//
// # Environment Variables
//
//   - FERRY_CONFIG: path to the YAML configuration file (default: ferry.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for the primary LM transport
//   - AWS credentials (standard chain, or AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY
//     / AWS_SESSION_TOKEN / AWS_REGION): Bedrock fallback transport
//   - DATABASE_URL, HOST, PORT, LOG_LEVEL, DEFAULT_ORG: see internal/config
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ferry",
		Short:        "ferry - an LM-orchestrated tool-use engine",
		Long:         `ferry accepts a user message, lets an LM call tools through a sandboxed execute_code loop, and returns its final response.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
