package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/textbook-index/internal/app"
)

var scanForce bool

// NewScanCmd lists the jobs a processing run would pick up.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List new or changed documents in the configured buckets",
		Long: `Scan walks every configured bucket and reports the files that need
processing, without processing them.

Examples:
  indexer scan
  indexer scan --force --format json`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	cmd.Flags().BoolVar(&scanForce, "force", false, "Include files that are already indexed")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		res := a.Orchestrator.Scan(ctx, scanForce)
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printScan(cmd.OutOrStdout(), res)
		return nil
	})
}
