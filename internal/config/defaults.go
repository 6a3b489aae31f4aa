package config

import "time"

// DefaultMessageLimit is used when context.message_limit is unset.
const DefaultMessageLimit = 10

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/abio/data/db/sessions.db"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/abio/data/indices/memory.idx"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderONNX
	}
	if cfg.Embedding.Provider == ProviderONNX && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/abio/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 60 * time.Second
	}
	if cfg.Context.MessageLimit == 0 {
		cfg.Context.MessageLimit = DefaultMessageLimit
	}
	if cfg.Recall.DefaultLimit == 0 {
		cfg.Recall.DefaultLimit = 5
	}
	if cfg.Recall.MaxLimit == 0 {
		cfg.Recall.MaxLimit = 100
	}
	if cfg.Recall.TopKCandidates == 0 {
		cfg.Recall.TopKCandidates = 50
	}
	if cfg.Recall.ChunkSize == 0 {
		cfg.Recall.ChunkSize = 128
	}
	if cfg.Recall.ChunkOverlap == 0 {
		cfg.Recall.ChunkOverlap = 16
	}
	if cfg.Recall.KeywordWeight == 0 && cfg.Recall.SemanticWeight == 0 {
		cfg.Recall.KeywordWeight = 0.3
		cfg.Recall.SemanticWeight = 0.7
	}
	if cfg.Recall.Fuzziness == 0 {
		cfg.Recall.Fuzziness = 2
	}
}
