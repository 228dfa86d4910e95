package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kbsearch/internal/models"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Collection: "support_faq",
		Query:      "refunds and shipping",
		SubQueries: []string{"refunds", "shipping"},
		QueryTime:  42,
		Results: []*models.SearchResult{
			{
				ChunkID:            "c1",
				DocumentID:         "d1",
				SourceURI:          "refunds.txt",
				Score:              0.0162,
				Snippet:            "Refunds are processed within five days.",
				ContributingMethod: models.MethodBoth,
				SubQuery:           "refunds",
				VectorRank:         1,
				LexicalRank:        1,
			},
			{
				ChunkID:            "c2",
				DocumentID:         "d2",
				SourceURI:          "shipping.txt",
				Score:              0.0115,
				Snippet:            "Shipping takes two weeks overseas.",
				ContributingMethod: models.MethodVector,
				SubQuery:           "shipping",
				VectorRank:         2,
			},
		},
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	response := sampleResponse()
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded models.SearchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query || decoded.QueryTime != response.QueryTime {
		t.Errorf("decoded query=%q query_time=%d, want query=%q query_time=%d",
			decoded.Query, decoded.QueryTime, response.Query, response.QueryTime)
	}
	if len(decoded.Results) != 2 || decoded.Results[0].ContributingMethod != models.MethodBoth {
		t.Errorf("decoded results: got %+v", decoded.Results)
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Found 2 results in support_faq in 42ms",
		"Sub-queries: refunds | shipping",
		"#1 | Score: 0.0162 | Method: both | Vector rank: 1 | Lexical rank: 1",
		"#2 | Score: 0.0115 | Method: vector | Vector rank: 2\n",
		"Source: shipping.txt",
		"Refunds are processed within five days.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Degraded") {
		t.Errorf("non-degraded response should not mention degradation:\n%s", out)
	}
}

func TestWriteSearchResults_degraded(t *testing.T) {
	response := &models.SearchResponse{Collection: "bot_kb", Query: "q", SubQueries: []string{"q"}, Degraded: []string{"vector"}}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Degraded: vector unavailable") {
		t.Errorf("expected degradation notice, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "Sub-queries") {
		t.Errorf("single sub-query should not be listed, got %q", buf.String())
	}
}

func TestWriteSearchResults_truncatesSnippet(t *testing.T) {
	response := &models.SearchResponse{
		Results: []*models.SearchResult{{Snippet: strings.Repeat("a", 300), ContributingMethod: models.MethodLexical}},
	}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), strings.Repeat("a", 200)+"...") {
		t.Errorf("expected snippet truncated to 200 chars")
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in   string
		want OutputFormat
	}{
		{"json", OutputJSON},
		{" JSON ", OutputJSON},
		{"text", OutputText},
		{"", OutputText},
		{"yaml", OutputText},
	}
	for _, tt := range tests {
		if got := ParseOutputFormat(tt.in); got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteReport(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	report := &models.IndexingReport{
		RunID:              "run-1",
		Collection:         "bot_kb",
		DocumentsProcessed: 3,
		DocumentsSkipped:   1,
		ChunksIndexed:      7,
		StartedAt:          start,
		FinishedAt:         start.Add(1500 * time.Millisecond),
	}
	report.AddError("broken.pdf", errors.New("extraction failure"))
	report.AddWarning("slow.txt", errors.New("persist: disk full"))

	var buf bytes.Buffer
	if err := WriteReport(&buf, report, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Run run-1 on bot_kb",
		"processed: 3  skipped: 1  failed: 1",
		"chunks indexed: 7  chunks removed: 0",
		"took: 1.5s",
		"error: broken.pdf: extraction failure",
		"warning: slow.txt: persist: disk full",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteReport(&buf, report, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.IndexingReport
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.DocumentsFailed != 1 || len(decoded.Errors) != 2 {
		t.Errorf("decoded report: got %+v", decoded)
	}
}

func TestWriteStatistics(t *testing.T) {
	st := models.KBStatistics{
		TotalCollections: 1,
		TotalDocuments:   2,
		TotalChunks:      5,
		StorageBytes:     2048,
		Collections: []*models.CollectionStats{{
			Name:          "bot_kb",
			Status:        models.StatusReady,
			DocumentCount: 2,
			ChunkCount:    5,
			BackendID:     "fallback-hash-384",
			Dimensions:    384,
		}},
	}
	var buf bytes.Buffer
	if err := WriteStatistics(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"1 collections, 2 documents, 5 chunks, 2.0 KiB on disk",
		"bot_kb [ready]",
		"backend: fallback-hash-384 (384 dims)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("statistics output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteCollectionStats_notExists(t *testing.T) {
	var buf bytes.Buffer
	stats := models.CollectionStats{Name: "bot_kb", Status: models.StatusNotExists}
	if err := WriteCollectionStats(&buf, stats, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "bot_kb [not_exists]") || strings.Contains(out, "backend") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestPrintSearchResults(t *testing.T) {
	response := &models.SearchResponse{Collection: "bot_kb", Query: "print test", QueryTime: 1}
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() {
		os.Stdout = oldStdout
		_ = w.Close()
	}()
	PrintSearchResults(response)
	_ = w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	if !strings.Contains(buf.String(), "Found 0 results") {
		t.Errorf("PrintSearchResults should write to stdout; got %q", buf.String())
	}
}
