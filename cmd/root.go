// Package cmd implements the refdesk command-line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/refdesk/refdesk/internal/app"
	"github.com/refdesk/refdesk/internal/config"
	"github.com/refdesk/refdesk/internal/log"
)

var debugLogging bool

var rootCmd = &cobra.Command{
	Use:   "refdesk",
	Short: "Grounded Q&A over the payments platform documentation",
	Long: `refdesk answers questions about the payments platform using only the
indexed documentation, with inline citations back to the source documents.

Running refdesk without a subcommand starts an interactive session.`,
	SilenceUsage: true,
	RunE:         runChat,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "enable debug logging")
}

// setup initializes logging, loads configuration, and wires the
// application. Callers own the returned App and must Close it.
func setup(ctx context.Context) (*app.App, error) {
	level := slog.LevelInfo
	if debugLogging || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	// stdout carries answers; logs go to stderr.
	logger := log.NewWithWriter(os.Stderr, log.Config{Level: level})
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if err := checkProviderEnv(cfg); err != nil {
		return nil, err
	}

	return app.Setup(ctx, cfg, logger)
}

// checkProviderEnv verifies the API key the selected provider needs.
// Ollama runs locally and needs none.
func checkProviderEnv(cfg *config.Config) error {
	switch cfg.Provider {
	case config.ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "To set your API key:")
			fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
			return fmt.Errorf("GEMINI_API_KEY not set")
		}
	case config.ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			fmt.Fprintln(os.Stderr, "Error: OPENAI_API_KEY environment variable not set")
			return fmt.Errorf("OPENAI_API_KEY not set")
		}
	}
	return nil
}
