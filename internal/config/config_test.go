package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
chunk_size: 6
chunk_overlap: 2
embedding_backend_priority: [fallback]
bm25:
  k1: 1.5
hybrid:
  alpha: 1
  beta: 1
  decompose_queries: true
embedding:
  retry_base_delay: 50ms
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.ChunkSize != 6 || cfg.ChunkOverlap != 2 {
		t.Errorf("chunking: got size=%d overlap=%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.BM25.K1 != 1.5 || cfg.BM25.B != 0.75 {
		t.Errorf("bm25: got %+v", cfg.BM25)
	}
	if !cfg.Hybrid.DecomposeQueries || cfg.Hybrid.RRFK != 60 {
		t.Errorf("hybrid: got %+v", cfg.Hybrid)
	}
	if cfg.Embedding.RetryBaseDelay != 50*time.Millisecond {
		t.Errorf("retry_base_delay: got %v", cfg.Embedding.RetryBaseDelay)
	}
	if len(cfg.EmbeddingBackendPriority) != 1 || cfg.EmbeddingBackendPriority[0] != BackendFallback {
		t.Errorf("priority: got %v", cfg.EmbeddingBackendPriority)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
chunk_size = 100
chunk_overlap = 10

[hybrid]
alpha = 0.5
beta = 0.5
candidates_per_method = 7

[storage]
database_path = "./kb.db"

[[watch.roots]]
path = "./docs"
bot = "helpdesk"
kb = "manuals"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChunkSize != 100 || cfg.Hybrid.CandidatesPerMethod != 7 {
		t.Errorf("unexpected values: size=%d candidates=%d", cfg.ChunkSize, cfg.Hybrid.CandidatesPerMethod)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "kb.db") {
		t.Errorf("database_path = %s", cfg.Storage.DatabasePath)
	}
	if len(cfg.Watch.Roots) != 1 || cfg.Watch.Roots[0].Path != filepath.Join(dir, "docs") || cfg.Watch.Roots[0].Bot != "helpdesk" {
		t.Errorf("watch roots: %+v", cfg.Watch.Roots)
	}
}

func TestLoad_invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
chunk_size: 10
chunk_overlap: 10
embedding_backend_priority: [local, gpu]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "chunk_overlap") || !strings.Contains(err.Error(), "gpu") {
		t.Errorf("error should name both problems: %v", err)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/db/kb.db"
watch:
  roots:
    - path: "./dev/sample"
      bot: "b"
      kb: "k"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "kb.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	wantWatch := filepath.Join(dir, "dev", "sample")
	if cfg.Watch.Roots[0].Path != wantWatch {
		t.Errorf("watch root = %s, want %s", cfg.Watch.Roots[0].Path, wantWatch)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.ChunkSize != 512 || cfg.ChunkOverlap != 64 {
		t.Errorf("chunking defaults: %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.BM25.K1 != 1.2 || cfg.BM25.B != 0.75 {
		t.Errorf("bm25 defaults: %+v", cfg.BM25)
	}
	if cfg.Hybrid.Alpha != 0.7 || cfg.Hybrid.Beta != 0.3 {
		t.Errorf("hybrid weights: %v/%v", cfg.Hybrid.Alpha, cfg.Hybrid.Beta)
	}
	if len(cfg.EmbeddingBackendPriority) != 3 || cfg.EmbeddingBackendPriority[2] != BackendFallback {
		t.Errorf("priority: %v", cfg.EmbeddingBackendPriority)
	}
	if cfg.Embedding.MaxRetries != 3 || cfg.Embedding.Fallback.Dimensions != 384 {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Embedding.Local.Dimensions != 384 || cfg.Embedding.Remote.Dimensions != 1536 {
		t.Errorf("model dimensions: local=%d remote=%d", cfg.Embedding.Local.Dimensions, cfg.Embedding.Remote.Dimensions)
	}
	if !cfg.BM25.StopWordsOrDefault() {
		t.Error("stop words should default to on")
	}
	if !strings.Contains(strings.Join(cfg.Watch.Extensions, " "), ".pptx") {
		t.Errorf("watch extensions should include .pptx: %v", cfg.Watch.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_smallChunkKeepsOverlapBelowSize(t *testing.T) {
	cfg := &Config{ChunkSize: 8}
	ApplyDefaults(cfg)
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		t.Errorf("overlap %d should be below size %d", cfg.ChunkOverlap, cfg.ChunkSize)
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	ApplyDefaults(cfg)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Embedding.CallTimeout != 30*time.Second {
		t.Errorf("call_timeout round trip: got %v", loaded.Embedding.CallTimeout)
	}
}

func TestApplyDefaults_unknownModelLeavesDimensionsUnset(t *testing.T) {
	cfg := &Config{Embedding: EmbeddingConfig{Local: LocalEmbeddingConfig{Model: "in-house-v2"}}}
	ApplyDefaults(cfg)
	if cfg.Embedding.Local.Dimensions != 0 {
		t.Errorf("local dimensions = %d, want 0", cfg.Embedding.Local.Dimensions)
	}
	cfg.Embedding.Local.Dimensions = -1
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "dimensions") {
		t.Errorf("expected dimensions error, got %v", err)
	}
}
