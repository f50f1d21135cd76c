package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/markdave123-py/textbook-index/internal/models"
	"github.com/markdave123-py/textbook-index/internal/search"
)

func validateFormat(f string) error {
	switch f {
	case "table", "json":
		return nil
	}
	return fmt.Errorf("unknown format %q, want table or json", f)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// preview flattens whitespace and shortens s for a table cell.
func preview(s string, n int) string {
	return search.Truncate(strings.Join(strings.Fields(s), " "), n)
}

func printScan(w io.Writer, res models.ScanResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "BUCKET\tFILE\tGRADE\tTYPE\tPRIORITY\n")
	for _, j := range res.ProcessingJobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", j.BucketName, preview(j.FilePath, 50), j.GradeLevel, j.DocumentType, j.Priority)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d file(s) seen, %d new, %d updated\n", res.TotalFiles, res.NewFiles, res.UpdatedFiles)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
}

func printSummary(w io.Writer, sum models.BatchSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "FILE\tRESULT\tCHUNKS\tTOKENS\tMETHOD\tERROR\n")
	for _, r := range sum.Results {
		result := "ok"
		switch {
		case r.Skipped:
			result = "skipped"
		case !r.Success:
			result = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			preview(r.FilePath, 50), result, r.ChunksCreated, r.TotalTokens, r.ExtractionMethod, preview(r.Error, 60))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d succeeded, %d failed, %d skipped, %d chunks, %d tokens in %dms\n",
		sum.Succeeded, sum.Failed, sum.Skipped, sum.TotalChunks, sum.TotalTokens, sum.TotalDurationMs)
}

func printResults(w io.Writer, resp models.SearchResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SCORE\tSOURCE\tFILE\tGRADE\tPREVIEW\n")
	for _, r := range resp.Results {
		fmt.Fprintf(tw, "%.3f\t%s\t%s\t%d\t%s\n", r.Similarity, r.Source, preview(r.SourceFile, 30), r.GradeLevel, preview(r.Content, 60))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d result(s) via %s in %dms", len(resp.Results), resp.Path, resp.SearchTimeMs)
	if resp.Cached {
		fmt.Fprint(w, " (cached)")
	}
	fmt.Fprintln(w)
	if resp.DegradedReason != "" {
		fmt.Fprintf(w, "degraded: %s\n", resp.DegradedReason)
	}
}

func printStatuses(w io.Writer, rows []models.ProcessingStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "FILE\tSTATUS\tCHUNKS\tRETRIES\tUPDATED\tERROR\n")
	for _, st := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			preview(st.FilePath, 50), st.Status, st.ChunksCreated, st.RetryCount,
			st.UpdatedAt.Format("2006-01-02 15:04"), preview(st.ErrorMessage, 60))
	}
	tw.Flush()
}

func printStats(w io.Writer, st models.IndexStats) {
	grades := make([]int, 0, len(st.ByGrade))
	for g := range st.ByGrade {
		grades = append(grades, g)
	}
	sort.Ints(grades)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "GRADE\tCHUNKS\tLAST PROCESSED\n")
	for _, g := range grades {
		last := "-"
		if ts, ok := st.LastProcessed[g]; ok && !ts.IsZero() {
			last = ts.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\n", g, st.ByGrade[g], last)
	}
	tw.Flush()

	types := make([]string, 0, len(st.ByType))
	for t, n := range st.ByType {
		types = append(types, fmt.Sprintf("%s=%d", t, n))
	}
	sort.Strings(types)
	fmt.Fprintf(w, "\n%d chunk(s) in %d file(s)", st.TotalChunks, st.Files)
	if len(types) > 0 {
		fmt.Fprintf(w, ": %s", strings.Join(types, ", "))
	}
	fmt.Fprintln(w)
}
