package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/textbook-index/internal/app"
)

// NewRetryCmd reprocesses documents left in the retry state.
func NewRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reprocess documents marked for retry",
		Long: `Retry picks up every document whose last run failed with a retryable
error and processes it again.

Examples:
  indexer retry
  indexer retry --format json`,
		Args: cobra.NoArgs,
		RunE: runRetry,
	}
}

func runRetry(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		sum, err := a.Orchestrator.RetryFailed(ctx)
		if err != nil {
			return fmt.Errorf("retrying documents: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), sum)
		}
		if len(sum.Results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to retry.")
			return nil
		}
		printSummary(cmd.OutOrStdout(), sum)
		return failedErr(sum)
	})
}
