// Package app wires configuration, storage, AI providers and the HTTP
// server into a runnable service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/globalbrain-ai/globalbrain/internal/config"
	db "github.com/globalbrain-ai/globalbrain/internal/core/database"
	gemini "github.com/globalbrain-ai/globalbrain/internal/core/llm"
	"github.com/globalbrain-ai/globalbrain/internal/core/objectstore"
	"github.com/globalbrain-ai/globalbrain/internal/core/vectorindex"
	"github.com/globalbrain-ai/globalbrain/internal/extract"
	"github.com/globalbrain-ai/globalbrain/internal/ingest"
	"github.com/globalbrain-ai/globalbrain/internal/log"
	"github.com/globalbrain-ai/globalbrain/internal/retrieval"
	"github.com/globalbrain-ai/globalbrain/internal/study"
)

type App struct {
	DB           *db.DatabaseClient
	Object       *objectstore.S3Client
	Embedder     *gemini.GeminiEmbedder
	LLM          *gemini.GeminiLLM
	Orchestrator *ingest.Orchestrator
	Server       *Server
	Logger       log.Logger
}

// NewApp builds the full dependency graph and starts the ingestion
// workers. The HTTP server is constructed but not yet listening.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	initCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	logger.Info("database ready")

	objClient, err := objectstore.NewS3Client(initCtx, cfg, logger)
	if err != nil {
		dbClient.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}

	embedder, err := gemini.NewGeminiEmbedder(initCtx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
	if err != nil {
		dbClient.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}

	llmProvider, err := gemini.NewGeminiLLM(initCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		embedder.Close()
		dbClient.Close()
		return nil, fmt.Errorf("llm: %w", err)
	}

	index := vectorindex.NewPgVectorIndex(dbClient.DB(), logger)
	extractor := extract.NewDocconvExtractor(logger)

	orch := ingest.NewOrchestrator(dbClient, objClient, extractor, embedder, index, ingest.Config{
		Bucket:           cfg.BucketName,
		TargetTokens:     cfg.TargetTokens,
		OverlapTokens:    cfg.OverlapTokens,
		MinChunkChars:    cfg.MinChunkChars,
		EmbedConcurrency: cfg.EmbedConcurrency,
		EmbedMaxRetries:  cfg.EmbedMaxRetries,
		EmbedRPS:         cfg.EmbedRPS,
	}, logger)

	generator := study.NewGenerator(dbClient, llmProvider, logger)
	orch.SetArtifactHook(generator.OnDocumentProcessed)
	orch.Start(ctx, cfg.IngestWorkers)

	retriever := retrieval.NewRetriever(dbClient, embedder, index, retrieval.RetrieverConfig{
		TopK:     cfg.TopK,
		MinScore: float32(cfg.MinScore),
	}, logger)
	composer := retrieval.NewComposer(llmProvider, logger)

	server := NewServer(cfg, dbClient, objClient, index, orch, retriever, composer, generator, logger)

	return &App{
		DB:           dbClient,
		Object:       objClient,
		Embedder:     embedder,
		LLM:          llmProvider,
		Orchestrator: orch,
		Server:       server,
		Logger:       logger,
	}, nil
}

func (a *App) Close() {
	if a.LLM != nil {
		_ = a.LLM.Close()
	}
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
