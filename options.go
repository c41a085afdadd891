package kansoku

import (
	"log/slog"
	"strings"

	"github.com/ashita-ai/kansoku/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds overrides applied on top of the environment config.
// Unexported: callers use the With* functions.
type resolvedOptions struct {
	port         int
	databaseURL  string
	queryStore   string
	sqlAgentURL  string
	toolAgentURL string
	logger       *slog.Logger
	version      string
}

func (o resolvedOptions) apply(cfg *config.Config) {
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.queryStore != "" {
		cfg.QueryStore = strings.ToLower(o.queryStore)
	}
	if o.sqlAgentURL != "" {
		cfg.SQLAgentURL = o.sqlAgentURL
	}
	if o.toolAgentURL != "" {
		cfg.ToolAgentURL = o.toolAgentURL
	}
}

// WithPort overrides the TCP port from config (KANSOKU_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string (DATABASE_URL env var).
// It only takes effect with the postgres query store.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithQueryStore selects the retry store backend: "memory", "sqlite" or
// "postgres" (KANSOKU_QUERY_STORE env var).
func WithQueryStore(kind string) Option {
	return func(o *resolvedOptions) { o.queryStore = kind }
}

// WithAgentURLs overrides the SQL and tool agent endpoints. Empty values keep
// the configured endpoint.
func WithAgentURLs(sqlURL, toolURL string) Option {
	return func(o *resolvedOptions) {
		o.sqlAgentURL = sqlURL
		o.toolAgentURL = toolURL
	}
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported by the health endpoints and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}
