package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opsdesk-ai/opsdesk/db"
	"github.com/opsdesk-ai/opsdesk/internal/config"
	"github.com/opsdesk-ai/opsdesk/internal/conversation"
	"github.com/opsdesk-ai/opsdesk/internal/httpapi"
	"github.com/opsdesk-ai/opsdesk/internal/intent"
	"github.com/opsdesk-ai/opsdesk/internal/orchestrate"
	"github.com/opsdesk-ai/opsdesk/internal/prompt"
	"github.com/opsdesk-ai/opsdesk/internal/qa"
	"github.com/opsdesk-ai/opsdesk/internal/search"
	"github.com/opsdesk-ai/opsdesk/internal/ticket"
	"github.com/opsdesk-ai/opsdesk/internal/tools"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	prompts, err := prompt.Load(cfg.PromptDir)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	store, err := search.NewStore(pool, embedder, search.Options{
		TopK:            cfg.Search.TopK,
		UseTextSearch:   cfg.Search.UseTextSearch,
		UseVectorSearch: cfg.Search.UseVectorSearch,
		UseReranker:     cfg.Search.UseReranker,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating search store: %w", err)
	}

	tickets, err := ticket.New(cfg.Ticket.Endpoint, cfg.Ticket.APIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("creating ticket client: %w", err)
	}

	handler, err := tools.NewHandler(tools.Config{
		Store:            store,
		Tickets:          tickets,
		MinSearchScore:   cfg.Search.MinSearchScore,
		MinRerankerScore: cfg.Search.MinRerankerScore,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tool handler: %w", err)
	}
	registered, err := tools.Register(g, handler)
	if err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	classifier, err := intent.NewClassifier(intent.Config{
		Genkit:       g,
		Logger:       logger,
		ModelName:    cfg.FullModelName(),
		SystemPrompt: prompts.Intent,
	})
	if err != nil {
		return nil, fmt.Errorf("creating classifier: %w", err)
	}

	session, err := conversation.New(conversation.Config{
		Genkit:       g,
		Logger:       logger,
		Tools:        registered,
		ModelName:    cfg.FullModelName(),
		MaxTurns:     cfg.MaxTurns,
		SystemPrompt: prompts.TicketWithCategories(cfg.Ticket.Categories),
		Temperature:  cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversation session: %w", err)
	}

	answerer, err := qa.New(qa.Config{
		Genkit:           g,
		Store:            store,
		Logger:           logger,
		ModelName:        cfg.FullModelName(),
		SystemPrompt:     prompts.QA,
		Temperature:      cfg.Temperature,
		MinSearchScore:   cfg.Search.MinSearchScore,
		MinRerankerScore: cfg.Search.MinRerankerScore,
	})
	if err != nil {
		return nil, fmt.Errorf("creating answer path: %w", err)
	}

	orch, err := orchestrate.New(orchestrate.Config{
		Classifier: classifier,
		Ticket:     session,
		Answer:     answerer,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orch

	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Logger:      logger,
		Router:      orch,
		Pool:        pool,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateBurst:   cfg.Server.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating http server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit
// initialization. Must run before provideGenkit so the TracerProvider is
// ready. Returns a no-op cleanup when tracing is disabled.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	// Set OTEL env vars for Genkit's TracerProvider to pick up.
	// SAFETY: os.Setenv is not concurrent-safe, but this function is
	// called exactly once during startup, before goroutines are spawned.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("OTLP tracing enabled",
		"endpoint", cfg.OTLPEndpoint,
		"service", cfg.ServiceName,
	)

	shutdown := tracing.TracerProvider().Shutdown

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default) and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit
	switch provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // "gemini"
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}
	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider
// plugin. Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	switch provider {
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // "gemini"
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideDBPool creates a PostgreSQL connection pool and runs
// migrations. Pool is configured with sensible defaults for connection
// management.
func provideDBPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}
