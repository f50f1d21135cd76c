// Package commands implements the indexer CLI.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/textbook-index/internal/app"
	"github.com/markdave123-py/textbook-index/internal/config"
	"github.com/markdave123-py/textbook-index/pkg/logger"
)

var (
	outputFormat string
	configFile   string
	quiet        bool
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexer",
		Short: "Index and search textbook documents",
		Long: `indexer drives the document pipeline from the command line.

It scans the configured storage buckets, extracts and chunks new or changed
files, embeds them and writes them to the index. The same index can be
searched directly, with the vector path or the lexical fallback.

Examples:
  indexer scan
  indexer process --force
  indexer retry
  indexer search --grade 4 "how plants make food"
  indexer status --state failed --format json
  indexer similar --exclude-same-file <chunk-id>
  indexer stats
  indexer warm`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table or json")
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Optional YAML config file (overrides CONFIG_FILE)")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print results")

	cmd.AddCommand(
		NewScanCmd(),
		NewProcessCmd(),
		NewRetryCmd(),
		NewSearchCmd(),
		NewStatusCmd(),
		NewSimilarCmd(),
		NewStatsCmd(),
		NewWarmCmd(),
	)
	return cmd
}

// Execute runs the CLI with interrupt handling.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// withApp loads config, wires the application and runs fn. Logs go to stderr
// so table and JSON output stay clean on stdout.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if err := validateFormat(outputFormat); err != nil {
		return err
	}
	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return err
		}
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	level := cfg.LogLevel
	if quiet {
		level = "error"
	}
	logger.InitWithWriter(cmd.ErrOrStderr(), level, "text")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}
