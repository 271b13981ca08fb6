package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/deptbot/internal/logger"
	"github.com/xhad/deptbot/internal/types"
	"github.com/xhad/deptbot/pkg/config"
	"github.com/xhad/deptbot/pkg/docstore"
	"github.com/xhad/deptbot/pkg/ingest"
	"github.com/xhad/deptbot/pkg/llm"
	"github.com/xhad/deptbot/pkg/partition"
	"github.com/xhad/deptbot/pkg/rag"
	"github.com/xhad/deptbot/pkg/retriever"
	"github.com/xhad/deptbot/pkg/scraper"
	"github.com/xhad/deptbot/pkg/store"
	"github.com/xhad/deptbot/pkg/summarizer"
)

// runtime holds every component a command may need, wired from config.
type runtime struct {
	config     *config.Config
	model      llms.Model
	vectors    types.VectorStore
	docstore   *docstore.Store
	retriever  *retriever.MultiVector
	chain      *rag.Chain
	prober     *rag.Prober
	summarizer *summarizer.Summarizer
	pipeline   *ingest.Pipeline
	logger     *slog.Logger
}

func newRuntime(ctx context.Context, cfg *config.Config, onProgress func(ingest.Progress)) (*runtime, error) {
	rt := &runtime{config: cfg, logger: logger.Component("cli")}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	chatModel, err := llm.NewModel(llm.ModelConfig{
		Provider: cfg.LLM.Provider,
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
	})
	if err != nil {
		return nil, err
	}
	rt.model = llm.NewGuard(chatModel, llm.GuardConfig{
		Name:              cfg.LLM.Model,
		RequestsPerMinute: cfg.LLM.RateLimit,
		OpenTimeout:       time.Minute,
		Logger:            rt.logger,
	})

	summaryModel := rt.model
	if cfg.Summary.Model != cfg.LLM.Model {
		m, err := llm.NewModel(llm.ModelConfig{
			Provider: cfg.LLM.Provider,
			BaseURL:  cfg.LLM.BaseURL,
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.Summary.Model,
		})
		if err != nil {
			return nil, err
		}
		summaryModel = llm.NewGuard(m, llm.GuardConfig{
			Name:              cfg.Summary.Model,
			RequestsPerMinute: cfg.LLM.RateLimit,
			Logger:            rt.logger,
		})
	}

	embedder, err := llm.NewEmbedder(llm.EmbedderConfig{
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	rt.vectors, err = store.New(ctx, store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		Dir:        cfg.Database.VectorDir,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Database.VectorDim,
		BatchSize:  cfg.Database.BatchSize,
	}, embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	rt.docstore, err = docstore.Open(cfg.Docstore.Dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open docstore: %w", err)
	}

	rt.retriever = retriever.NewMultiVector(rt.vectors, rt.docstore)
	rt.retriever.SearchType = cfg.Retriever.SearchType
	rt.retriever.K = cfg.Retriever.K
	rt.retriever.ScoreThreshold = cfg.Retriever.ScoreThreshold

	engine, err := llm.NewWithConfig(rt.model, llm.ChatConfig{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Profile:     cfg.LLM.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}
	if rt.chain, err = rag.NewChain(rt.retriever, engine); err != nil {
		return nil, err
	}
	if rt.prober, err = rag.NewProber(rt.retriever, rt.model); err != nil {
		return nil, err
	}

	rt.summarizer, err = summarizer.New(summaryModel,
		summarizer.WithConcurrency(cfg.Summary.MaxConcurrency),
		summarizer.WithLogger(rt.logger),
	)
	if err != nil {
		return nil, err
	}

	partCfg := partition.Config{
		URL:                cfg.Partition.URL,
		APIKey:             cfg.Partition.APIKey,
		Strategy:           cfg.Partition.Strategy,
		InferTables:        cfg.Partition.InferTables,
		MaxCharacters:      cfg.Partition.MaxCharacters,
		NewAfterNChars:     cfg.Partition.NewAfterNChars,
		CombineUnderNChars: cfg.Partition.CombineUnderNChars,
		RemoveStopwords:    cfg.Partition.RemoveStopwords,
		CustomStopwords:    cfg.Partition.CustomStopwords,
	}
	if partCfg.APIKey == "" {
		rt.logger.Warn("no partition API key, using local PDF text extraction without table detection")
	}

	rt.pipeline, err = ingest.New(ingest.Config{
		UploadDir: cfg.Ingest.UploadDir,
		Scraper: scraper.ScraperConfig{
			MaxDepth:       cfg.Scraper.MaxDepth,
			RateLimit:      cfg.Scraper.RateLimit,
			IgnorePatterns: cfg.Scraper.IgnorePatterns,
			Chunking:       partCfg.ProcessorConfig(),
		},
		OnProgress: onProgress,
	}, partition.New(partCfg), rt.summarizer, rt.docstore, rt.vectors)
	if err != nil {
		return nil, err
	}

	ok = true
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.summarizer != nil {
		rt.summarizer.Release()
	}
	if rt.docstore != nil {
		if err := rt.docstore.Close(); err != nil {
			rt.logger.Warn("failed to close docstore", "error", err)
		}
	}
	if rt.vectors != nil {
		rt.vectors.Close()
	}
}
