// Package main is the entry point for the mailpilot server, the agentic
// email-assistant backend.
//
// # Basic Usage
//
// Start the server:
//
//	mailpilot serve --config mailpilot.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailpilot",
		Short: "Email assistant backend",
		Long:  "mailpilot runs the agentic email-assistant server: an LLM tool-calling loop with streaming responses, web search, and mailbox search.",
	}

	cmd.AddCommand(buildServeCmd())
	cmd.AddCommand(buildVersionCmd())

	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mailpilot %s (%s)\n", version, commit)
		},
	}
}
