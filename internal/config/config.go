// Package config provides configuration loading and structs for the kbsearch server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool   `yaml:"debug" toml:"debug"`
	LogFile string `yaml:"log_file" toml:"log_file"`

	ChunkSize                int      `yaml:"chunk_size" toml:"chunk_size"`
	ChunkOverlap             int      `yaml:"chunk_overlap" toml:"chunk_overlap"`
	EmbeddingBackendPriority []string `yaml:"embedding_backend_priority" toml:"embedding_backend_priority"`

	BM25      BM25Config      `yaml:"bm25" toml:"bm25"`
	Hybrid    HybridConfig    `yaml:"hybrid" toml:"hybrid"`
	Embedding EmbeddingConfig `yaml:"embedding" toml:"embedding"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Watch     WatchConfig     `yaml:"watch" toml:"watch"`
}

// BM25Config tunes lexical scoring.
type BM25Config struct {
	K1        float64 `yaml:"k1" toml:"k1"`
	B         float64 `yaml:"b" toml:"b"`
	StopWords *bool   `yaml:"stop_words" toml:"stop_words"`
}

// StopWordsOrDefault returns whether English stop words are dropped; defaults to true when unset.
func (c *BM25Config) StopWordsOrDefault() bool {
	if c.StopWords != nil {
		return *c.StopWords
	}
	return true
}

// HybridConfig tunes rank fusion. Alpha weights the vector list, Beta the lexical list.
type HybridConfig struct {
	Alpha               float64 `yaml:"alpha" toml:"alpha"`
	Beta                float64 `yaml:"beta" toml:"beta"`
	CandidatesPerMethod int     `yaml:"candidates_per_method" toml:"candidates_per_method"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" toml:"similarity_threshold"`
	DecomposeQueries    bool    `yaml:"decompose_queries" toml:"decompose_queries"`
	MaxSubQueries       int     `yaml:"max_sub_queries" toml:"max_sub_queries"`
	RRFK                int     `yaml:"rrf_k" toml:"rrf_k"`
	NormalizeScores     bool    `yaml:"normalize_scores" toml:"normalize_scores"`
	DecomposerModel     string  `yaml:"decomposer_model" toml:"decomposer_model"`
	DefaultTopK         int     `yaml:"default_top_k" toml:"default_top_k"`
	MaxTopK             int     `yaml:"max_top_k" toml:"max_top_k"`
}

// EmbeddingConfig holds settings for every embedding tier.
type EmbeddingConfig struct {
	Local          LocalEmbeddingConfig    `yaml:"local" toml:"local"`
	Remote         RemoteEmbeddingConfig   `yaml:"remote" toml:"remote"`
	Fallback       FallbackEmbeddingConfig `yaml:"fallback" toml:"fallback"`
	MaxRetries     int                     `yaml:"max_retries" toml:"max_retries"`
	RetryBaseDelay time.Duration           `yaml:"retry_base_delay" toml:"retry_base_delay"`
	CallTimeout    time.Duration           `yaml:"call_timeout" toml:"call_timeout"`
	MaxInputTokens int                     `yaml:"max_input_tokens" toml:"max_input_tokens"`
	CacheSize      int                     `yaml:"cache_size" toml:"cache_size"`
	Redis          RedisConfig             `yaml:"redis" toml:"redis"`
}

// LocalEmbeddingConfig points at an HTTP embedding service on the local network.
type LocalEmbeddingConfig struct {
	URL        string `yaml:"url" toml:"url"`
	Model      string `yaml:"model" toml:"model"`
	Dimensions int    `yaml:"dimensions" toml:"dimensions"`
}

// RemoteEmbeddingConfig configures an OpenAI-compatible embedding API.
type RemoteEmbeddingConfig struct {
	APIKey            string  `yaml:"api_key" toml:"api_key"`
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	Model             string  `yaml:"model" toml:"model"`
	Dimensions        int     `yaml:"dimensions" toml:"dimensions"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// FallbackEmbeddingConfig sizes the deterministic hash embedding.
type FallbackEmbeddingConfig struct {
	Dimensions int `yaml:"dimensions" toml:"dimensions"`
}

// RedisConfig enables a shared embedding cache when Addrs is non-empty.
type RedisConfig struct {
	Addrs    []string `yaml:"addrs" toml:"addrs"`
	Username string   `yaml:"username" toml:"username"`
	Password string   `yaml:"password" toml:"password"`
	DB       int      `yaml:"db" toml:"db"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// StorageConfig holds the metadata database path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" toml:"database_path"`
}

// WatchRoot binds a watched folder to one bot's knowledge base.
type WatchRoot struct {
	Path string `yaml:"path" toml:"path"`
	Bot  string `yaml:"bot" toml:"bot"`
	KB   string `yaml:"kb" toml:"kb"`
}

// WatchConfig holds folder watch settings.
type WatchConfig struct {
	Roots      []WatchRoot `yaml:"roots" toml:"roots"`
	Extensions []string    `yaml:"extensions" toml:"extensions"`
	Recursive  *bool       `yaml:"recursive" toml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, expands paths, and validates.
// Files ending in .toml are parsed as TOML; everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.LogFile != "" {
		cfg.LogFile = expandPath(cfg.LogFile, configDir)
	}
	for i := range cfg.Watch.Roots {
		cfg.Watch.Roots[i].Path = expandPath(cfg.Watch.Roots[i].Path, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
