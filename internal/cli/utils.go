// Package cli formats search results, indexing reports and statistics for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// ParseOutputFormat maps a flag value to a format. Anything but "json" is text.
func ParseOutputFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes a search response to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %s in %dms\n", len(response.Results), response.Collection, response.QueryTime)
	if len(response.SubQueries) > 1 {
		fmt.Fprintf(w, "Sub-queries: %s\n", strings.Join(response.SubQueries, " | "))
	}
	if len(response.Degraded) > 0 {
		fmt.Fprintf(w, "Degraded: %s unavailable\n", strings.Join(response.Degraded, ", "))
	}
	fmt.Fprintln(w)
	for i, result := range response.Results {
		writeOneResult(w, i+1, result)
	}
	return nil
}

func writeOneResult(w io.Writer, rank int, result *models.SearchResult) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "#%d | Score: %.4f | Method: %s", rank, result.Score, result.ContributingMethod)
	if result.VectorRank > 0 {
		fmt.Fprintf(w, " | Vector rank: %d", result.VectorRank)
	}
	if result.LexicalRank > 0 {
		fmt.Fprintf(w, " | Lexical rank: %d", result.LexicalRank)
	}
	fmt.Fprintln(w)
	if result.SourceURI != "" {
		fmt.Fprintf(w, "Source: %s\n", result.SourceURI)
	}
	if result.SubQuery != "" {
		fmt.Fprintf(w, "Sub-query: %s\n", result.SubQuery)
	}
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(result.Snippet, 200))
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteReport writes an indexing report. Per-document failures are listed in text mode.
func WriteReport(w io.Writer, report *models.IndexingReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Run %s", report.RunID)
	if report.Collection != "" {
		fmt.Fprintf(w, " on %s", report.Collection)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  processed: %d  skipped: %d  failed: %d\n",
		report.DocumentsProcessed, report.DocumentsSkipped, report.DocumentsFailed)
	fmt.Fprintf(w, "  chunks indexed: %d  chunks removed: %d\n", report.ChunksIndexed, report.ChunksRemoved)
	if !report.StartedAt.IsZero() && !report.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  took: %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	}
	if report.Cancelled {
		fmt.Fprintln(w, "  cancelled before completion")
	}
	for _, e := range report.Errors {
		if reason, ok := strings.CutPrefix(e.Reason, models.WarningPrefix); ok {
			fmt.Fprintf(w, "  warning: %s: %s\n", e.SourceURI, strings.TrimSpace(reason))
			continue
		}
		fmt.Fprintf(w, "  error: %s: %s\n", e.SourceURI, e.Reason)
	}
	return nil
}

// WriteCollectionStats writes one collection's stats.
func WriteCollectionStats(w io.Writer, stats models.CollectionStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	writeStatsText(w, &stats)
	return nil
}

func writeStatsText(w io.Writer, stats *models.CollectionStats) {
	fmt.Fprintf(w, "%s [%s]\n", stats.Name, stats.Status)
	fmt.Fprintf(w, "  documents: %d  chunks: %d\n", stats.DocumentCount, stats.ChunkCount)
	if stats.BackendID != "" {
		fmt.Fprintf(w, "  backend: %s (%d dims)\n", stats.BackendID, stats.Dimensions)
	}
	if stats.UniqueTerms > 0 {
		fmt.Fprintf(w, "  unique terms: %d  avg chunk length: %.1f\n", stats.UniqueTerms, stats.AvgChunkLength)
	}
	if !stats.LastIndexedAt.IsZero() {
		fmt.Fprintf(w, "  last indexed: %s\n", stats.LastIndexedAt.Format("2006-01-02 15:04:05"))
	}
}

// WriteStatistics writes statistics for every collection.
func WriteStatistics(w io.Writer, st models.KBStatistics, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "%d collections, %d documents, %d chunks, %s on disk\n",
		st.TotalCollections, st.TotalDocuments, st.TotalChunks, FormatBytes(st.StorageBytes))
	for _, cs := range st.Collections {
		fmt.Fprintln(w, rule)
		writeStatsText(w, cs)
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
