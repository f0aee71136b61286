// Package app wires docchat's components from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bull/docchat/internal/chain"
	"github.com/bull/docchat/internal/chunker"
	"github.com/bull/docchat/internal/config"
	"github.com/bull/docchat/internal/docstore"
	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/indexer"
	"github.com/bull/docchat/internal/knowledge"
	"github.com/bull/docchat/internal/llm"
	"github.com/bull/docchat/internal/memory"
	"github.com/bull/docchat/internal/parser"
	"github.com/bull/docchat/internal/tokens"
	"github.com/bull/docchat/internal/vectorindex"
)

// App holds the long-lived components shared by the CLI and the server.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Embedder  embedding.Gateway
	Knowledge *knowledge.Base
	Pipeline  *indexer.Pipeline
	Memory    *memory.Memory
	Counter   tokens.Counter

	openai *embedding.Client
	chain  *chain.Chain
}

// New opens the stores under cfg.DataDir and builds the ingestion pipeline.
// The answering chain is built on first use by Chain since it needs a
// chat model.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	if cfg.OpenAI.APIKey != "" {
		client, err := embedding.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
		if err != nil {
			return nil, err
		}
		a.openai = client
	}

	embedder, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	a.Embedder = embedding.NewChecked(embedder, cfg.Embedding.Timeout)

	index, err := a.newIndex(ctx, a.Embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	store, err := docstore.OpenSQLite(cfg.DocumentsPath())
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("opening document store: %w", err)
	}
	a.Knowledge = knowledge.New(index, store, logger)

	ch, counter, err := a.newChunker()
	if err != nil {
		a.Knowledge.Close()
		return nil, err
	}
	a.Counter = counter
	a.Pipeline = indexer.NewPipeline(ch, parser.DefaultRegistry(), a.Embedder, a.Knowledge,
		indexer.WithBatchSize(cfg.Embedding.BatchSize),
		indexer.WithLogger(logger))

	log, err := memory.OpenSQLiteLog(cfg.MemoryPath())
	if err != nil {
		a.Knowledge.Close()
		return nil, fmt.Errorf("opening conversation log: %w", err)
	}
	a.Memory = memory.New(log, memory.Config{
		MaxHistory: cfg.Memory.MaxHistory,
		Embedder:   a.Embedder,
		Logger:     logger,
	})

	logger.Debug("Initialized components",
		"data_dir", cfg.DataDir,
		"embedding", cfg.Embedding.Provider,
		"index", cfg.Index.Backend,
		"dimensions", a.Embedder.Dimensions())
	return a, nil
}

func (a *App) newEmbedder() (embedding.Gateway, error) {
	cfg := a.Config.Embedding
	switch cfg.Provider {
	case "hash":
		return embedding.NewHash(cfg.Dimensions), nil
	default:
		if a.openai == nil {
			return nil, errors.New("OpenAI API key not set (OPENAI_API_KEY); set embedding.provider to hash for offline use")
		}
		return embedding.NewOpenAI(a.openai, embedding.OpenAIConfig{
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	}
}

func (a *App) newIndex(ctx context.Context, dims int) (vectorindex.Index, error) {
	cfg := a.Config.Index
	name := cfg.Metric
	if name == "" {
		name = string(vectorindex.Cosine)
	}
	metric, err := vectorindex.ParseMetric(name)
	if err != nil {
		return nil, err
	}

	if cfg.Backend == "qdrant" {
		return vectorindex.NewQdrant(ctx, vectorindex.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.Collection,
			Dimensions: dims,
			Metric:     metric,
		})
	}
	return vectorindex.OpenFlat(a.Config.IndexPath(), dims, metric)
}

func (a *App) newChunker() (*chunker.Chunker, tokens.Counter, error) {
	cfg := a.Config.Chunking
	if cfg.Unit != "tokens" {
		c, err := chunker.New(cfg.Size, cfg.Overlap)
		return c, tokens.Estimate{}, err
	}

	codec, err := tokens.NewTiktoken(cfg.Encoding)
	if err != nil {
		return nil, nil, err
	}
	c, err := chunker.New(cfg.Size, cfg.Overlap, chunker.WithTokens(codec))
	return c, codec, err
}

// Chain returns the answering chain, creating it on first call.
func (a *App) Chain() (*chain.Chain, error) {
	if a.chain != nil {
		return a.chain, nil
	}
	if a.openai == nil {
		return nil, errors.New("OpenAI API key not set (OPENAI_API_KEY); it is required to answer questions")
	}
	return a.NewChain(a.newGenerator())
}

// NewChain builds the answering chain around generator.
func (a *App) NewChain(generator llm.Generator, opts ...chain.Option) (*chain.Chain, error) {
	cfg := a.Config
	opts = append([]chain.Option{chain.WithLogger(a.Logger), chain.WithCounter(a.Counter)}, opts...)
	c, err := chain.New(a.Knowledge, a.Embedder, a.Memory, generator, chain.Config{
		TopK:              cfg.Retrieval.TopK,
		Threshold:         cfg.Retrieval.Threshold,
		RecallK:           cfg.Retrieval.RecallK,
		MaxTokens:         cfg.Generation.MaxTokens,
		Temperature:       cfg.Generation.Temperature,
		RewriteQuery:      cfg.Generation.RewriteQuery,
		GenerationTimeout: cfg.Generation.Timeout,
		StreamBuffer:      cfg.Generation.StreamBuffer,
	}, opts...)
	if err != nil {
		return nil, err
	}
	a.chain = c
	return c, nil
}

func (a *App) newGenerator() *llm.OpenAI {
	cfg := a.Config.Generation
	window := 0
	if cfg.InputBudget > 0 {
		window = cfg.InputBudget + cfg.MaxTokens
	}
	return llm.NewOpenAI(a.openai.Client(), llm.OpenAIConfig{
		Model:         cfg.Model,
		MaxTokens:     cfg.MaxTokens,
		ContextWindow: window,
	})
}

// Close releases the stores.
func (a *App) Close() error {
	return errors.Join(a.Knowledge.Close(), a.Memory.Close())
}
