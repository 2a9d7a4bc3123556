package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/sirawit-k/pmqa-graphrag/internal/config"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/usecase"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/chunking"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/extractor"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/graph/neo4j"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/llm/cache"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/llm/ollama"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/llm/openaiapi"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/llm/ratelimit"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/queue/nats"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/repository/postgres"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/resilience"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/storage/localfs"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/taxonomy"
	"github.com/sirawit-k/pmqa-graphrag/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config   config.Config
	Taxonomy *domain.Taxonomy

	Queue     ports.MessageQueue
	Repo      ports.DocumentRepository
	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor
	SearchUC  *usecase.SearchUseCase
	AnswerUC  ports.AnswerService
	RepairUC  ports.ChunkRepairer

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	tax, err := taxonomy.LoadFile(cfg.TaxonomyPath)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	graph, err := neo4j.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
	if err != nil {
		return nil, fmt.Errorf("open neo4j: %w", err)
	}
	if err := graph.EnsureTaxonomy(ctx, tax); err != nil {
		return nil, fmt.Errorf("ensure taxonomy graph: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	embedder, classifier, generator, err := buildProvider(cfg, tax, executor)
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	if cfg.LLMRequestsPerSecond > 0 {
		embedder = ratelimit.NewEmbedder(embedder, cfg.LLMRequestsPerSecond, cfg.LLMBurst)
		classifier = ratelimit.NewClassifier(classifier, cfg.LLMRequestsPerSecond, cfg.LLMBurst)
	}
	embedder = cache.NewEmbedder(embedder, time.Duration(cfg.EmbedCacheTTLSeconds)*time.Second)

	vectorDB := qdrant.New(cfg.QdrantURL)
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	extract := extractor.NewDispatcher(storage)

	ingestUC := usecase.NewIngestDocumentUseCase(repo, graph, vectorDB, storage, queue)
	processUC := usecase.NewProcessDocumentUseCase(tax, repo, storage, extract, chunker, classifier, embedder, graph, vectorDB)
	searchUC := usecase.NewSearchUseCase(tax, embedder, classifier, vectorDB, graph, repo, usecase.SearchConfig{
		Alpha:               cfg.SearchAlpha,
		Beta:                cfg.SearchBeta,
		DefaultLimit:        cfg.SearchDefaultLimit,
		MaxLimit:            cfg.SearchMaxLimit,
		SideTimeout:         time.Duration(cfg.SearchSideTimeoutSeconds) * time.Second,
		CandidateMultiplier: cfg.SearchCandidateMultiplier,
		MaxQueryNodes:       cfg.SearchMaxQueryNodes,
	})
	answerUC := usecase.NewAnswerUseCase(searchUC, generator)
	repairUC := usecase.NewRepairUseCase(tax, repo, embedder, graph, vectorDB)

	return &App{
		Config:   cfg,
		Taxonomy: tax,
		Queue:    queue,
		Repo:     repo,

		IngestUC:  ingestUC,
		ProcessUC: processUC,
		SearchUC:  searchUC,
		AnswerUC:  answerUC,
		RepairUC:  repairUC,

		closeFn: func() {
			queue.Close()
			_ = graph.Close(context.Background())
			_ = db.Close()
		},
	}, nil
}

func buildProvider(
	cfg config.Config,
	tax *domain.Taxonomy,
	executor *resilience.Executor,
) (ports.Embedder, ports.Classifier, ports.AnswerGenerator, error) {
	switch cfg.LLMProvider {
	case "openai":
		provider, err := openaiapi.New(openaiapi.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			ChatModel:  cfg.OpenAIChatModel,
			EmbedModel: cfg.OpenAIEmbedModel,
		}, tax)
		if err != nil {
			return nil, nil, nil, err
		}
		return provider, provider, provider, nil
	case "ollama", "":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel).WithExecutor(executor)
		return ollama.NewEmbedder(client), ollama.NewClassifier(client, tax), ollama.NewGenerator(client), nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
