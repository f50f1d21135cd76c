package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/textbook-index/internal/app"
	"github.com/markdave123-py/textbook-index/internal/models"
)

var processForce bool

// NewProcessCmd scans and processes every pending document in the foreground.
func NewProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Scan the buckets and index everything that changed",
		Long: `Process runs a full scan and indexes the resulting jobs in batches,
waiting for the run to finish. With --force every file is re-indexed even
when its content has not changed.

Examples:
  indexer process
  indexer process --force`,
		Args: cobra.NoArgs,
		RunE: runProcess,
	}
	cmd.Flags().BoolVar(&processForce, "force", false, "Re-index files that are already up to date")
	return cmd
}

func runProcess(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		scan, sum := a.Orchestrator.ProcessAll(ctx, processForce)
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), struct {
				Scan    models.ScanResult   `json:"scan"`
				Summary models.BatchSummary `json:"summary"`
			}{scan, sum})
		}
		printScan(cmd.OutOrStdout(), scan)
		fmt.Fprintln(cmd.OutOrStdout())
		printSummary(cmd.OutOrStdout(), sum)
		return failedErr(sum)
	})
}

// failedErr turns failed jobs into a non-zero exit.
func failedErr(sum models.BatchSummary) error {
	if sum.Failed > 0 {
		return fmt.Errorf("%d document(s) failed", sum.Failed)
	}
	return nil
}
