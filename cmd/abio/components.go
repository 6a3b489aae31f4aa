package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hyperjump/abio/internal/config"
	"github.com/hyperjump/abio/internal/embedding"
	"github.com/hyperjump/abio/internal/keyword"
	"github.com/hyperjump/abio/internal/metrics"
	"github.com/hyperjump/abio/internal/models"
	"github.com/hyperjump/abio/internal/recall"
	"github.com/hyperjump/abio/internal/storage"
	"github.com/hyperjump/abio/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Config       *config.Config
	Storage      storage.Storage
	Embedder     embedding.Embedder
	KeywordIndex keyword.KeywordIndex
	Engine       *recall.Engine
	Registry     *prometheus.Registry
	logger       *zap.Logger
}

type componentOptions struct {
	// loadIndex loads the saved similarity index. Commands that rebuild it skip this
	// so the index takes the embedder's dimension.
	loadIndex bool
	metrics   bool
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	_ = c.logger.Sync()
}

// SaveIndex persists the similarity index to the configured path.
func (c *Components) SaveIndex() error {
	if err := c.Engine.Save(c.Config.Storage.IndexPath); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	return nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts componentOptions) (*Components, error) {
	c := &Components{Config: cfg, logger: logger}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	embedder, err := newEmbedder(&cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Embedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)

	var (
		indexOpts  = []vector.Option{vector.WithLogger(logger)}
		engineOpts = []recall.EngineOption{recall.WithLogger(logger)}
	)
	if opts.metrics || cfg.Metrics.Enabled {
		c.Registry = prometheus.NewRegistry()
		collector := metrics.NewCollector(c.Registry)
		collector.SetDimension(cfg.Embedding.Dimensions)
		indexOpts = append(indexOpts, vector.WithObserver(collector))
		engineOpts = append(engineOpts, recall.WithRecorder(collector))
	}

	vectorIndex, err := vector.New[models.Memory](cfg.Embedding.Dimensions, indexOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	keywordIndex, err := keyword.NewBleveIndex()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = keywordIndex
	c.Engine = recall.NewEngine(c.Embedder, vectorIndex, keywordIndex, &cfg.Recall, engineOpts...)

	if opts.loadIndex {
		err := c.Engine.Load(ctx, cfg.Storage.IndexPath)
		switch {
		case err == nil:
		case errors.Is(err, vector.ErrNotFound):
			logger.Debug("no saved index, starting empty", zap.String("path", cfg.Storage.IndexPath))
		default:
			logger.Warn("index load skipped (run abio reindex)", zap.String("path", cfg.Storage.IndexPath), zap.Error(err))
		}
	}
	return c, nil
}

func newEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderMock:
		return embedding.NewMockEmbedder(cfg.Dimensions), nil
	case config.ProviderONNX:
		e, err := embedding.NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX embedder: %w", err)
		}
		return e, nil
	case config.ProviderOllama:
		e, err := embedding.NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions, cfg.Timeout,
			embedding.WithOllamaLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama embedder: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
