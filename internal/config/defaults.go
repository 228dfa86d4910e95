package config

import (
	"os"
	"time"
)

// Backend names accepted in embedding_backend_priority.
const (
	BackendLocal    = "local"
	BackendRemote   = "remote"
	BackendFallback = "fallback"
)

// modelDimensions holds the output length of well-known embedding models.
var modelDimensions = map[string]int{
	"sentence-transformers/all-MiniLM-L6-v2":  384,
	"sentence-transformers/all-mpnet-base-v2": 768,
	"BAAI/bge-small-en-v1.5":                  384,
	"BAAI/bge-base-en-v1.5":                   768,
	"text-embedding-3-small":                  1536,
	"text-embedding-3-large":                  3072,
	"text-embedding-ada-002":                  1536,
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 64
		if cfg.ChunkOverlap >= cfg.ChunkSize {
			cfg.ChunkOverlap = cfg.ChunkSize / 4
		}
	}
	if len(cfg.EmbeddingBackendPriority) == 0 {
		cfg.EmbeddingBackendPriority = []string{BackendLocal, BackendRemote, BackendFallback}
	}
	if cfg.BM25.K1 == 0 {
		cfg.BM25.K1 = 1.2
	}
	if cfg.BM25.B == 0 {
		cfg.BM25.B = 0.75
	}
	if cfg.Hybrid.Alpha == 0 && cfg.Hybrid.Beta == 0 {
		cfg.Hybrid.Alpha = 0.7
		cfg.Hybrid.Beta = 0.3
	}
	if cfg.Hybrid.CandidatesPerMethod == 0 {
		cfg.Hybrid.CandidatesPerMethod = 30
	}
	if cfg.Hybrid.MaxSubQueries == 0 {
		cfg.Hybrid.MaxSubQueries = 4
	}
	if cfg.Hybrid.RRFK == 0 {
		cfg.Hybrid.RRFK = 60
	}
	if cfg.Hybrid.DefaultTopK == 0 {
		cfg.Hybrid.DefaultTopK = 10
	}
	if cfg.Hybrid.MaxTopK == 0 {
		cfg.Hybrid.MaxTopK = 100
	}
	if cfg.Embedding.Local.Model == "" {
		cfg.Embedding.Local.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Embedding.Remote.Model == "" {
		cfg.Embedding.Remote.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Local.Dimensions == 0 {
		cfg.Embedding.Local.Dimensions = modelDimensions[cfg.Embedding.Local.Model]
	}
	if cfg.Embedding.Remote.Dimensions == 0 {
		cfg.Embedding.Remote.Dimensions = modelDimensions[cfg.Embedding.Remote.Model]
	}
	if cfg.Embedding.Remote.APIKey == "" {
		cfg.Embedding.Remote.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Embedding.Remote.RequestsPerSecond == 0 {
		cfg.Embedding.Remote.RequestsPerSecond = 5
	}
	if cfg.Embedding.Remote.Burst == 0 {
		cfg.Embedding.Remote.Burst = 10
	}
	if cfg.Embedding.Fallback.Dimensions == 0 {
		cfg.Embedding.Fallback.Dimensions = 384
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.RetryBaseDelay == 0 {
		cfg.Embedding.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.Embedding.CallTimeout == 0 {
		cfg.Embedding.CallTimeout = 30 * time.Second
	}
	if cfg.Embedding.MaxInputTokens == 0 {
		cfg.Embedding.MaxInputTokens = 512
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kbsearch/data/kb.db"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".pptx", ".html", ".htm", ".csv", ".json"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Roots) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
