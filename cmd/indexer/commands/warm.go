package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/textbook-index/internal/app"
	"github.com/markdave123-py/textbook-index/internal/search"
)

var warmFile string

// NewWarmCmd pre-embeds common queries into the cache.
func NewWarmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warm [query...]",
		Short: "Pre-compute query embeddings",
		Long: `Warm embeds queries ahead of time and stores the vectors in the embedding
cache, so the first search for each of them skips the embedding provider.
Without arguments or --file it warms a built-in list of common topics.

Examples:
  indexer warm
  indexer warm "volcanoes lava" "food chains"
  indexer warm --file topics.txt`,
		RunE: runWarm,
	}
	cmd.Flags().StringVarP(&warmFile, "file", "f", "", "File with one query per line")
	return cmd
}

func runWarm(cmd *cobra.Command, args []string) error {
	queries, err := warmQueries(args, warmFile)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		res, err := a.Search.Warm(ctx, queries)
		if err != nil {
			return fmt.Errorf("warming cache: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), res)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d warmed, %d failed\n", res.Warmed, res.Failed)
		for _, e := range res.Errors {
			fmt.Fprintf(out, "error: %s\n", e)
		}
		return nil
	})
}

// warmQueries collects queries from args and path; '#' starts a comment line.
func warmQueries(args []string, path string) ([]string, error) {
	queries := append([]string(nil), args...)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening query file: %w", err)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			queries = append(queries, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("reading query file: %w", err)
		}
	}
	if len(queries) == 0 {
		return search.DefaultWarmQueries, nil
	}
	return queries, nil
}
