// Package kansoku is the public API for embedding the kansoku scenario
// analysis server.
//
//	app, err := kansoku.New(
//	    kansoku.WithVersion(version),
//	    kansoku.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*; internal/* never imports the root.
package kansoku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kansoku/api"
	"github.com/ashita-ai/kansoku/internal/agents"
	"github.com/ashita-ai/kansoku/internal/auth"
	"github.com/ashita-ai/kansoku/internal/cache"
	"github.com/ashita-ai/kansoku/internal/config"
	"github.com/ashita-ai/kansoku/internal/mcp"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/ratelimit"
	"github.com/ashita-ai/kansoku/internal/scenario"
	"github.com/ashita-ai/kansoku/internal/server"
	"github.com/ashita-ai/kansoku/internal/storage"
	"github.com/ashita-ai/kansoku/internal/telemetry"
	"github.com/ashita-ai/kansoku/migrations"
)

// mcpRequestsPerMinute bounds /mcp calls per user.
const mcpRequestsPerMinute = 60

// App is the kansoku server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        storage.QueryStore
	srv          *server.Server
	limiter      ratelimit.Limiter
	mcpLimiter   ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, opens the query store, wires the agent
// dispatcher, orchestrator and transports, and returns a ready-to-run App.
// It does NOT accept connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kansoku starting", "version", version, "port", cfg.Port, "query_store", cfg.QueryStore)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	if err != nil {
		_ = store.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("auth: %w", err)
	}

	agentCache := cache.New[model.AgentResult]("agent", cfg.AgentCacheTTL, cfg.AgentCacheSize)
	dispatcher := agents.New(agents.Config{
		SQLURL:         cfg.SQLAgentURL,
		ToolURL:        cfg.ToolAgentURL,
		SQLTimeout:     cfg.SQLAgentTimeout,
		ToolTimeout:    cfg.ToolAgentTimeout,
		MaxRetries:     cfg.AgentMaxRetries,
		RetryDelay:     cfg.AgentRetryDelay,
		MaxConcurrency: cfg.AgentMaxConcurrency,
		CacheTTL:       cfg.AgentCacheTTL,
		CacheSize:      cfg.AgentCacheSize,
	}, logger, agents.WithCache(agentCache))

	runCache := cache.New[map[string]model.AgentResult]("scenario", cfg.ScenarioCacheTTL, cfg.ScenarioCacheSize)
	svc := scenario.NewService(scenario.Config{UseCache: cfg.ScenarioUseCache}, dispatcher, store, runCache, logger)

	caches := []server.CacheReporter{agentCache}
	statters := []mcp.CacheStatter{agentCache}
	if svc.RunCache() != nil {
		caches = append(caches, runCache)
		statters = append(statters, runCache)
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	var mcpLimiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewSlidingWindowLimiter(cfg.RateLimitPerMinute, time.Minute)
		mcpLimiter = ratelimit.NewSlidingWindowLimiter(mcpRequestsPerMinute, time.Minute)
		logger.Info("rate limiting enabled", "per_minute", cfg.RateLimitPerMinute)
	} else {
		logger.Info("rate limiting disabled")
	}

	srvCfg := server.ServerConfig{
		JWTMgr:          jwtMgr,
		Scenario:        svc,
		Logger:          logger,
		Limiter:         limiter,
		MCPLimiter:      mcpLimiter,
		Caches:          caches,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		Version:         version,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
		PingInterval:    cfg.WSPingInterval,
		PongWait:        cfg.WSPongWait,
		HealthInterval:  cfg.HealthInterval,
		AllowedOrigins:  cfg.AllowedOrigins,
		ProtocolSpec:    api.ProtocolSpec,
	}
	if p, ok := store.(server.Pinger); ok {
		srvCfg.Store = p
	}
	if cfg.MCPEnabled {
		srvCfg.MCPServer = mcp.New(mcp.Deps{
			Runner:       svc,
			Caches:       statters,
			ProtocolSpec: api.ProtocolSpec,
			Version:      version,
			Logger:       logger,
		}).MCPServer()
	}

	return &App{
		cfg:          cfg,
		store:        store,
		srv:          server.New(srvCfg),
		limiter:      limiter,
		mcpLimiter:   mcpLimiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// openStore selects the retry query store backend.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.QueryStore, error) {
	switch cfg.QueryStore {
	case config.StoreSQLite:
		s, err := storage.NewSQLiteStore(cfg.SQLitePath, cfg.QueryStoreTTL, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return s, nil
	case config.StorePostgres:
		s, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.QueryStoreTTL, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := s.RunMigrations(ctx, migrations.FS); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return s, nil
	default:
		return storage.NewMemoryStore(cfg.QueryStoreTTL, cfg.QueryStoreSize), nil
	}
}

// Handler returns the root HTTP handler. Tests drive it through httptest.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.release()
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting connections, closes open sockets and releases the
// query store, limiters and OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kansoku shutting down")

	httpCtx, cancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	defer cancel()
	shutdownErr := a.srv.Shutdown(httpCtx)
	if shutdownErr != nil {
		a.logger.Error("http shutdown error", "error", shutdownErr)
	}

	a.release()
	a.logger.Info("kansoku stopped")
	return shutdownErr
}

func (a *App) release() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("query store close failed", "error", err)
	}
	_ = a.limiter.Close()
	_ = a.mcpLimiter.Close()
	_ = a.otelShutdown(context.Background())
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
