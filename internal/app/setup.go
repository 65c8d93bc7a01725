package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/kosmos-bio/kosmos/db"
	"github.com/kosmos-bio/kosmos/internal/api"
	"github.com/kosmos-bio/kosmos/internal/chat"
	"github.com/kosmos-bio/kosmos/internal/config"
	"github.com/kosmos-bio/kosmos/internal/entity"
	"github.com/kosmos-bio/kosmos/internal/gemini"
	"github.com/kosmos-bio/kosmos/internal/limit"
	"github.com/kosmos-bio/kosmos/internal/rag"
	"github.com/kosmos-bio/kosmos/internal/session"
	"github.com/kosmos-bio/kosmos/internal/vector"
)

// Setup builds the full service. It runs migrations, connects to
// PostgreSQL, initializes Genkit and probes the entity extraction
// strategy, so it needs network access and a reachable database.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	pool, err := providePool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.onClose(pool.Close)

	g, err := provideGenkit(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	limiter := limit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateWaitTimeout)

	embedClient := gemini.NewEmbeddingClient(
		googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel),
		limiter, logger.With("component", "embedder"),
		gemini.WithTimeout(cfg.EmbedTimeout),
	)
	a.Embedder = embedClient
	genClient := gemini.NewGenerationClient(
		g, cfg.FullModelName(), float64(cfg.Temperature), cfg.MaxTokens,
		limiter, logger.With("component", "generator"),
		gemini.WithTimeout(cfg.GenerateTimeout),
	)

	a.Store = vector.New(pool, logger.With("component", "vector"))
	a.Sessions = session.NewStore(pool, logger.With("component", "session"))

	retriever := rag.NewRetriever(embedClient, a.Store, cfg.MinScore,
		logger.With("component", "retriever"),
		rag.WithQueryTimeout(cfg.QueryTimeout),
		rag.WithDefaultTopK(cfg.TopK))

	retryCfg := chat.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}
	a.Chat = chat.NewOrchestrator(genClient, nil, retryCfg,
		cfg.HistoryBudgetTokens, logger.With("component", "chat"))

	extractor := entity.Detect(ctx, genClient, logger.With("component", "entity"))

	a.Pipeline = rag.NewPipeline(retriever,
		rag.NewAssembler(cfg.ContextBudgetTokens),
		a.Chat, extractor, logger.With("component", "pipeline"))

	a.Server = api.NewServer(api.Config{
		// rate_burst_ip is requests per minute per client IP.
		RateLimitRPS:    float64(cfg.RateBurstIP) / 60.0,
		RateLimitBurst:  cfg.RateBurstIP,
		TrustProxy:      cfg.TrustProxy,
		CORSOrigins:     cfg.CORSOrigins,
		RequestDeadline: cfg.RequestDeadline,
	}, a.Pipeline, retriever, a.Sessions, extractor, a.Store, a.Chat,
		logger.With("component", "api"))

	logger.Info("application assembled",
		"model", cfg.FullModelName(),
		"embedder", cfg.EmbedderModel,
		"top_k", cfg.TopK)
	return a, nil
}

// providePool runs migrations, then opens a pgx pool with pgvector types
// registered on every connection.
func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the Google AI plugin. The plugin
// reads GEMINI_API_KEY from the environment.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, fmt.Errorf("initializing genkit")
	}
	return g, nil
}

// compile-time checks that the concrete types satisfy the HTTP server's
// dependency interfaces.
var (
	_ api.Answerer        = (*rag.Pipeline)(nil)
	_ api.Retriever       = (*rag.Retriever)(nil)
	_ api.SessionStore    = (*session.Store)(nil)
	_ api.CorpusChecker   = (*vector.Store)(nil)
	_ api.BreakerReporter = (*chat.Orchestrator)(nil)
)
