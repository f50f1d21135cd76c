package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/textbook-index/internal/app"
)

// NewStatsCmd prints chunk counts for the index.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long: `Stats counts the indexed chunks per grade and document type and shows when
each grade last received new chunks.

Examples:
  indexer stats
  indexer stats --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Search.Stats(ctx)
				if err != nil {
					return fmt.Errorf("reading stats: %w", err)
				}
				if outputFormat == "json" {
					return printJSON(cmd.OutOrStdout(), st)
				}
				printStats(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}
