package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/textbook-index/internal/app"
	"github.com/markdave123-py/textbook-index/internal/models"
)

var (
	statusState string
	statusLimit int
)

// NewStatusCmd shows processing state for one document or a filtered list.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [file-path]",
		Short: "Show document processing status",
		Long: `Status prints the processing record of a single document, or lists the
most recently updated records, optionally filtered by state.

Examples:
  indexer status "grade 4/plants.pdf"
  indexer status --state failed
  indexer status --state retry --limit 20 --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStatus,
	}
	cmd.Flags().StringVarP(&statusState, "state", "s", "", "Filter by state (pending, processing, completed, failed, retry)")
	cmd.Flags().IntVarP(&statusLimit, "limit", "n", 50, "Maximum number of records")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		var rows []models.ProcessingStatus
		if len(args) == 1 {
			st, err := a.Documents.Status(ctx, args[0])
			if err != nil {
				return fmt.Errorf("reading status: %w", err)
			}
			rows = []models.ProcessingStatus{*st}
		} else {
			var err error
			rows, err = a.Documents.ListStatuses(ctx, models.Status(statusState), statusLimit)
			if err != nil {
				return fmt.Errorf("listing statuses: %w", err)
			}
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No documents found.")
			return nil
		}
		printStatuses(cmd.OutOrStdout(), rows)
		return nil
	})
}
