package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/textbook-index/internal/app"
	"github.com/markdave123-py/textbook-index/internal/models"
	"github.com/markdave123-py/textbook-index/internal/search"
)

var (
	searchGrade     int
	searchTypes     []string
	searchBuckets   []string
	searchLimit     int
	searchMinScore  float64
	searchNoCache   bool
	searchAsContext bool
)

// NewSearchCmd queries the index.
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed content",
		Long: `Search embeds the query and returns the closest chunks. When vector
search is unavailable it falls back to full-text, metadata and substring
matching.

Examples:
  indexer search "photosynthesis"
  indexer search --grade 5 --type textbook "states of matter"
  indexer search --context "the water cycle"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSearch,
	}
	cmd.Flags().IntVarP(&searchGrade, "grade", "g", -1, "Only return content for this grade level")
	cmd.Flags().StringSliceVarP(&searchTypes, "type", "t", nil, "Document types to include (textbook, curriculum, lesson_plan)")
	cmd.Flags().StringSliceVar(&searchBuckets, "bucket", nil, "Buckets to include")
	cmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results")
	cmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "Minimum similarity")
	cmd.Flags().BoolVar(&searchNoCache, "no-cache", false, "Bypass the result cache")
	cmd.Flags().BoolVar(&searchAsContext, "context", false, "Print the results as prompt context")
	return cmd
}

func searchParams(args []string) models.SearchParams {
	p := models.SearchParams{
		Query:         strings.Join(args, " "),
		BucketNames:   searchBuckets,
		MaxResults:    searchLimit,
		MinSimilarity: searchMinScore,
		SkipCache:     searchNoCache,
	}
	if searchGrade >= 0 {
		g := searchGrade
		p.GradeLevel = &g
	}
	for _, t := range searchTypes {
		p.DocumentTypes = append(p.DocumentTypes, models.DocumentType(t))
	}
	return p
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		resp, err := a.Search.Search(ctx, searchParams(args))
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		out := cmd.OutOrStdout()
		switch {
		case searchAsContext:
			fmt.Fprintln(out, search.FormatForPrompt(resp.Results, a.PromptOptions()))
		case outputFormat == "json":
			return printJSON(out, resp)
		default:
			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			printResults(out, resp)
		}
		return nil
	})
}
