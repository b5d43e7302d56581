package bootstrap

import (
	"context"
	"fmt"

	"github.com/learnloop/tutor-core/internal/config"
	"github.com/learnloop/tutor-core/internal/core/ports"
	"github.com/learnloop/tutor-core/internal/core/safety"
	"github.com/learnloop/tutor-core/internal/core/usecase"
	"github.com/learnloop/tutor-core/internal/infrastructure/chunking"
	"github.com/learnloop/tutor-core/internal/infrastructure/extractor"
	neo4jgraph "github.com/learnloop/tutor-core/internal/infrastructure/graph/neo4j"
	"github.com/learnloop/tutor-core/internal/infrastructure/llm/ollama"
	"github.com/learnloop/tutor-core/internal/infrastructure/queue/nats"
	"github.com/learnloop/tutor-core/internal/infrastructure/rerank"
	"github.com/learnloop/tutor-core/internal/infrastructure/repository/postgres"
	"github.com/learnloop/tutor-core/internal/infrastructure/resilience"
	"github.com/learnloop/tutor-core/internal/infrastructure/storage/localfs"
	"github.com/learnloop/tutor-core/internal/infrastructure/vector/qdrant"
)

// App wires the adapters behind the inbound ports. Both binaries build one;
// the api process serves the HTTP surface, the worker consumes the queue.
type App struct {
	Config config.Config

	Queue     ports.MessageQueue
	Documents ports.DocumentRepository
	Safety    ports.SafetyValidator
	Answers   ports.AnswerService
	Reviewer  ports.QuestionReviewer
	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	executor := resilience.NewExecutor(resilience.DefaultConfig())

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	documents := postgres.NewDocumentRepository(db)
	if err := documents.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure document schema: %w", err)
	}
	sessions := postgres.NewSessionStore(db)
	if err := sessions.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure session schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(
		cfg.OllamaURL,
		cfg.OllamaGenModel,
		cfg.OllamaEmbedModel,
		ollama.WithExecutor(executor),
	)
	generator := ollama.NewGenerator(ollamaClient)
	embedder := ollama.NewEmbedder(ollamaClient)

	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	keywords := qdrant.NewKeywordClient(cfg.QdrantURL, cfg.QdrantCollection)
	reranker := rerank.New(cfg.RerankURL)

	var graph ports.KnowledgeGraph
	var graphClose func()
	if cfg.Neo4jURI != "" {
		g, graphErr := neo4jgraph.New(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
		if graphErr != nil {
			return nil, fmt.Errorf("init knowledge graph: %w", graphErr)
		}
		graph = g
		graphClose = func() { _ = g.Close(context.Background()) }
	}

	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	extractors := extractor.NewDispatcher(storage)

	retriever := usecase.NewHybridRetriever(
		vectors,
		keywords,
		reranker,
		usecase.WithRRFK(cfg.RAGFusionRRFK),
		usecase.WithRelevanceThreshold(cfg.RAGRelevanceThreshold),
	)
	reviewer := usecase.NewQuestionValidator(
		embedder,
		sessions,
		usecase.WithSimilarityThreshold(cfg.ValidatorSimilarityThreshold),
		usecase.WithConceptWindow(cfg.ValidatorConceptWindow),
		usecase.WithPatternCap(cfg.ValidatorPatternCap),
	)
	answers := usecase.NewAnswerEngine(
		generator,
		embedder,
		retriever,
		vectors,
		graph,
		sessions,
		reviewer,
		usecase.WithTopK(cfg.RAGTopK),
		usecase.WithGradingCutoff(cfg.RAGGradingCutoff),
		usecase.WithMaxRewrites(cfg.RAGMaxRewrites),
	)
	safetyPipeline := usecase.NewSafetyPipeline(
		safety.NewRedactor(),
		safety.NewInjectionDetector(generator, safety.WithSemanticGate(cfg.SafetySemanticGate)),
		safety.NewModerator(),
		generator,
		usecase.WithOutputMaxRetries(cfg.SafetyOutputMaxRetries),
	)

	ingestUC := usecase.NewIngestDocumentUseCase(documents, storage, queue)
	processUC := usecase.NewProcessDocumentUseCase(documents, extractors, generator, chunker, embedder, vectors)

	return &App{
		Config: cfg,

		Queue:     queue,
		Documents: documents,
		Safety:    safetyPipeline,
		Answers:   answers,
		Reviewer:  reviewer,
		IngestUC:  ingestUC,
		ProcessUC: processUC,

		closeFn: func() {
			queue.Close()
			if graphClose != nil {
				graphClose()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
