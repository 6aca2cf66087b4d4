// Package app wires configuration into a running chat service.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/storai/internal/chat"
	"github.com/antoniostano/storai/internal/cipher"
	"github.com/antoniostano/storai/internal/compaction"
	"github.com/antoniostano/storai/internal/config"
	"github.com/antoniostano/storai/internal/generation"
	"github.com/antoniostano/storai/internal/httpapi"
	"github.com/antoniostano/storai/internal/logging"
	"github.com/antoniostano/storai/internal/memory"
	"github.com/antoniostano/storai/internal/observability"
	"github.com/antoniostano/storai/internal/retrieval"
)

const (
	retryBase = 250 * time.Millisecond
	retryCap  = 2 * time.Second
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Pipeline *chat.Pipeline
	Index    *retrieval.ChromemIndex
	Embedder *retrieval.CachedEmbedder
	Metrics  *observability.Metrics

	// Cleanup waits for background compactions, then releases the embedding
	// cache and the database pool.
	Cleanup func(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	c, err := cipher.NewFromBase64(cfg.ChatKey)
	if err != nil {
		return nil, goerr.Wrap(err, "chat key")
	}

	repo, err := memory.NewRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "memory store init failed", goerr.V("store", storeKind(cfg.DatabaseURL)))
	}
	store := memory.NewStore(repo, c, metrics)

	embedder, err := NewEmbedder(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	index, err := retrieval.NewChromemIndex(cfg.VectorDBPath, embedder)
	if err != nil {
		embedder.Close()
		_ = store.Close()
		return nil, goerr.Wrap(err, "vector index init failed", goerr.V("path", cfg.VectorDBPath))
	}

	gen, err := generation.New(generation.Config{
		Mode:            cfg.GenerationProvider,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		OpenAIModel:     cfg.OpenAIModel,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicModel:  cfg.AnthropicModel,
		MaxRetries:      cfg.GenerationRetries,
		RetryBase:       retryBase,
		RetryCap:        retryCap,
		Metrics:         metrics,
	})
	if err != nil {
		embedder.Close()
		_ = store.Close()
		return nil, goerr.Wrap(err, "generation init failed", goerr.V("provider", cfg.GenerationProvider))
	}

	pipeline := chat.NewPipeline(chat.Deps{
		Memory: store,
		Context: retrieval.NewBuilder(index,
			retrieval.WithTopK(cfg.RetrievalTopK),
			retrieval.WithTimeout(cfg.RetrievalTimeout),
			retrieval.WithMaxChars(cfg.PassageMaxChars),
			retrieval.WithMetrics(metrics),
		),
		Generator: gen,
		Compactor: compaction.New(gen, cfg.SummaryMaxTokens),
		Metrics:   metrics,
	}, chat.Config{
		Limits: chat.Limits{
			MaxWords: cfg.MaxMessageWords,
			MaxChars: cfg.MaxMessageChars,
		},
		MaxTokens:         cfg.GenerationMaxTokens,
		GenerationTimeout: cfg.GenerationTimeout,
		CompactionTimeout: cfg.CompactionTimeout,
	})

	logging.From(ctx).Info("chat service assembled",
		"config", cfg,
		"memory_store", storeKind(cfg.DatabaseURL),
		"generation", cfg.GenerationProvider,
	)

	return &BuildResult{
		Config:   cfg,
		API:      httpapi.New(cfg, pipeline, metrics),
		Pipeline: pipeline,
		Index:    index,
		Embedder: embedder,
		Metrics:  metrics,
		Cleanup: func(ctx context.Context) error {
			err := pipeline.Close(ctx)
			embedder.Close()
			return errors.Join(err, store.Close())
		},
	}, nil
}

// NewEmbedder returns the cached OpenAI embedder when a key is configured and
// the local hashing embedder otherwise. The indexer and the server must use
// the same choice for a given vector database.
func NewEmbedder(cfg config.Config) (*retrieval.CachedEmbedder, error) {
	var base retrieval.Embedder
	if cfg.OpenAIAPIKey != "" {
		base = retrieval.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
	} else {
		base = retrieval.NewHashEmbedder(0)
	}
	cached, err := retrieval.NewCachedEmbedder(base, int64(cfg.EmbeddingCacheEntries))
	if err != nil {
		return nil, goerr.Wrap(err, "embedding cache init failed")
	}
	return cached, nil
}

func storeKind(databaseURL string) string {
	if databaseURL == "" {
		return "in-memory"
	}
	return "postgres"
}
