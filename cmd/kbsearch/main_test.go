package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/models"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"refund policy", "-top-k", "5"},
			expected: []string{"-top-k", "5", "refund policy"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-bot", "support", "refund policy"},
			expected: []string{"-bot", "support", "refund policy"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"refund policy"},
			expected: []string{"refund policy"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "--kb", "faq"},
			expected: []string{"--kb", "faq", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"refunds"}, "refunds"},
		{"multiple words", []string{"refund", "policy"}, "refund policy"},
		{"single quoted phrase", []string{"refund policy"}, "refund policy"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestOptionalFloat(t *testing.T) {
	var o optionalFloat
	if o.value != nil || o.String() != "" {
		t.Fatalf("unset flag should be nil, got %v", o.value)
	}
	if err := o.Set("0.25"); err != nil {
		t.Fatal(err)
	}
	if o.value == nil || *o.value != 0.25 || o.String() != "0.25" {
		t.Errorf("after Set: got %v", o.String())
	}
	if err := o.Set("abc"); err == nil {
		t.Error("expected error for non-numeric value")
	}
}

func TestCollectionPath(t *testing.T) {
	got := collectionPath("http://localhost:8080", "support bot", "faq/en")
	want := "http://localhost:8080/api/v1/collections/support%20bot/faq%2Fen"
	if got != want {
		t.Errorf("collectionPath() = %q, want %q", got, want)
	}
}

func TestAPICall(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			var in map[string]string
			_ = json.NewDecoder(r.Body).Decode(&in)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["value"]})
		default:
			w.WriteHeader(http.StatusLocked)
			_, _ = w.Write([]byte(`{"error":"collection bot_kb is reindexing"}`))
		}
	}))
	defer ts.Close()

	var out map[string]string
	if err := apiCall(http.MethodPost, ts.URL+"/ok", map[string]string{"value": "x"}, http.StatusCreated, &out); err != nil {
		t.Fatal(err)
	}
	if out["echo"] != "x" {
		t.Errorf("decoded: got %v", out)
	}
	err := apiCall(http.MethodGet, ts.URL+"/busy", nil, http.StatusOK, nil)
	if err == nil || !strings.Contains(err.Error(), "423") || !strings.Contains(err.Error(), "reindexing") {
		t.Errorf("expected 423 error with body, got %v", err)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestInitializeComponents_restoresCollections(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
chunk_size: 50
chunk_overlap: 10
embedding_backend_priority: [fallback]
embedding:
  fallback:
    dimensions: 32
storage:
  database_path: "kb.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	report := first.Coordinator.IngestText(ctx, "support", "faq", "refunds.txt", "", "Refunds are processed within five days.")
	if report.DocumentsFailed != 0 {
		t.Fatalf("ingest failed: %+v", report.Errors)
	}
	first.Close()

	second, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	stats := second.Coordinator.GetCollectionStats("support", "faq")
	if stats.Status != models.StatusReady || stats.DocumentCount != 1 {
		t.Fatalf("restored stats: got %+v", stats)
	}
	resp, err := second.Engine.Search(ctx, &models.SearchRequest{BotID: "support", KBName: "faq", Query: "refunds"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].SourceURI != "refunds.txt" {
		t.Errorf("search after restore: got %+v", resp.Results)
	}
}
