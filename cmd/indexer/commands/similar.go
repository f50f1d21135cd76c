package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/textbook-index/internal/app"
)

var (
	similarLimit       int
	similarExcludeFile bool
)

// NewSimilarCmd lists chunks close to an indexed chunk.
func NewSimilarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar <chunk-id>",
		Short: "Find content related to an indexed chunk",
		Long: `Similar searches the same grade for chunks whose embeddings are close to
the given chunk. It needs the vector index.

Examples:
  indexer similar 5f0c2a9e-4b1d-4c55-9a57-2d5f1b0f7c31
  indexer similar --exclude-same-file -n 5 5f0c2a9e-4b1d-4c55-9a57-2d5f1b0f7c31`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				resp, err := a.Search.Similar(ctx, args[0], similarLimit, similarExcludeFile)
				if err != nil {
					return fmt.Errorf("similar: %w", err)
				}
				if outputFormat == "json" {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				printResults(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&similarLimit, "limit", "n", 5, "Maximum number of results")
	cmd.Flags().BoolVar(&similarExcludeFile, "exclude-same-file", false, "Skip chunks from the same document")
	return cmd
}
