// Package config provides configuration loading and structs for abio.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/abio/internal/history"
)

// Embedding providers.
const (
	ProviderMock   = "mock"
	ProviderONNX   = "onnx"
	ProviderOllama = "ollama"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Context   ContextConfig   `yaml:"context"`
	Recall    RecallConfig    `yaml:"recall"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Watch reloads the context and recall sections when the config file changes.
	Watch bool `yaml:"watch"`
}

// StorageConfig holds paths for the session database and the similarity index.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	// IndexPath is the save prefix; payloads go to IndexPath + ".payloads.json".
	IndexPath string `yaml:"index_path"`
}

// EmbeddingConfig selects and configures the text encoder.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	ModelPath  string        `yaml:"model_path"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ContextConfig bounds the conversation history and seeds it.
type ContextConfig struct {
	MessageLimit    int            `yaml:"message_limit"`
	ContextMessages []history.Turn `yaml:"context_messages"`
}

// RecallConfig holds retrieval and chunking settings.
type RecallConfig struct {
	DefaultLimit   int     `yaml:"default_limit"`
	MaxLimit       int     `yaml:"max_limit"`
	TopKCandidates int     `yaml:"top_k_candidates"`
	ChunkSize      int     `yaml:"chunk_size"`
	ChunkOverlap   int     `yaml:"chunk_overlap"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	Fuzzy          bool    `yaml:"fuzzy"`
	Fuzziness      int     `yaml:"fuzziness"`
}

// MetricsConfig toggles Prometheus instrumentation.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the config file at path, applies defaults, expands paths and validates.
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the config to path.
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

// Validate checks settings that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case ProviderMock, ProviderONNX, ProviderOllama:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Context.MessageLimit < 0 {
		return fmt.Errorf("context.message_limit must not be negative, got %d", c.Context.MessageLimit)
	}
	for i, t := range c.Context.ContextMessages {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("context.context_messages[%d]: %w", i, err)
		}
	}
	if c.Recall.ChunkOverlap >= c.Recall.ChunkSize {
		return fmt.Errorf("recall.chunk_overlap (%d) must be smaller than chunk_size (%d)", c.Recall.ChunkOverlap, c.Recall.ChunkSize)
	}
	if c.Recall.KeywordWeight < 0 || c.Recall.SemanticWeight < 0 {
		return fmt.Errorf("recall weights must not be negative")
	}
	if c.Recall.MaxLimit < c.Recall.DefaultLimit {
		return fmt.Errorf("recall.max_limit (%d) is below default_limit (%d)", c.Recall.MaxLimit, c.Recall.DefaultLimit)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
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
