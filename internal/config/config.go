// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Query store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration // 0 waits for in-flight work indefinitely.

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTAccessTTL      time.Duration
	JWTRefreshTTL     time.Duration

	// Backend agents.
	SQLAgentURL         string
	ToolAgentURL        string
	SQLAgentTimeout     time.Duration
	ToolAgentTimeout    time.Duration
	AgentMaxRetries     int
	AgentRetryDelay     time.Duration
	AgentMaxConcurrency int // 0 = unbounded fan-out.
	AgentCacheTTL       time.Duration
	AgentCacheSize      int

	// Run-level result cache.
	ScenarioUseCache  bool
	ScenarioCacheTTL  time.Duration
	ScenarioCacheSize int

	// Retry store.
	QueryStore     string // "memory", "sqlite" or "postgres"
	QueryStoreTTL  time.Duration
	QueryStoreSize int
	SQLitePath     string
	DatabaseURL    string

	// Websocket settings.
	RateLimitEnabled   bool
	RateLimitPerMinute int
	WSMaxMessageBytes  int64
	WSPingInterval     time.Duration
	WSPongWait         time.Duration
	HealthInterval     time.Duration
	AllowedOrigins     []string // Empty allows every origin.

	MCPEnabled bool

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// loader accumulates parse errors so Load can report every bad variable at once.
type loader struct {
	errs []error
}

func (l *loader) str(key, def string) string { return envStr(key, def) }

func (l *loader) int(key string, def int) int {
	v, err := envInt(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) bool(key string, def bool) bool {
	v, err := envBool(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v, err := envDuration(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	l := &loader{}
	cfg := Config{
		Port:                l.int("KANSOKU_PORT", 8080),
		ReadTimeout:         l.duration("KANSOKU_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        l.duration("KANSOKU_WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout:     l.duration("KANSOKU_SHUTDOWN_TIMEOUT", 15*time.Second),
		JWTPrivateKeyPath:   l.str("KANSOKU_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    l.str("KANSOKU_JWT_PUBLIC_KEY", ""),
		JWTAccessTTL:        l.duration("KANSOKU_JWT_ACCESS_TTL", 30*time.Minute),
		JWTRefreshTTL:       l.duration("KANSOKU_JWT_REFRESH_TTL", 7*24*time.Hour),
		SQLAgentURL:         l.str("KANSOKU_SQL_AGENT_URL", "http://localhost:8001/sql/ask"),
		ToolAgentURL:        l.str("KANSOKU_TOOL_AGENT_URL", "http://localhost:8001/agent/ask"),
		SQLAgentTimeout:     l.duration("KANSOKU_SQL_AGENT_TIMEOUT", 30*time.Second),
		ToolAgentTimeout:    l.duration("KANSOKU_TOOL_AGENT_TIMEOUT", 60*time.Second),
		AgentMaxRetries:     l.int("KANSOKU_AGENT_MAX_RETRIES", 3),
		AgentRetryDelay:     l.duration("KANSOKU_AGENT_RETRY_DELAY", time.Second),
		AgentMaxConcurrency: l.int("KANSOKU_AGENT_MAX_CONCURRENCY", 0),
		AgentCacheTTL:       l.duration("KANSOKU_AGENT_CACHE_TTL", 5*time.Minute),
		AgentCacheSize:      l.int("KANSOKU_AGENT_CACHE_SIZE", 100),
		ScenarioUseCache:    l.bool("KANSOKU_SCENARIO_USE_CACHE", true),
		ScenarioCacheTTL:    l.duration("KANSOKU_SCENARIO_CACHE_TTL", 5*time.Minute),
		ScenarioCacheSize:   l.int("KANSOKU_SCENARIO_CACHE_SIZE", 100),
		QueryStore:          strings.ToLower(l.str("KANSOKU_QUERY_STORE", StoreMemory)),
		QueryStoreTTL:       l.duration("KANSOKU_QUERY_STORE_TTL", time.Hour),
		QueryStoreSize:      l.int("KANSOKU_QUERY_STORE_SIZE", 10000),
		SQLitePath:          l.str("KANSOKU_SQLITE_PATH", "kansoku.db"),
		DatabaseURL:         l.str("DATABASE_URL", ""),
		RateLimitEnabled:    l.bool("KANSOKU_RATE_LIMIT_ENABLED", true),
		RateLimitPerMinute:  l.int("KANSOKU_RATE_LIMIT_PER_MINUTE", 10),
		WSMaxMessageBytes:   int64(l.int("KANSOKU_WS_MAX_MESSAGE_BYTES", 64*1024)),
		WSPingInterval:      l.duration("KANSOKU_WS_PING_INTERVAL", 30*time.Second),
		WSPongWait:          l.duration("KANSOKU_WS_PONG_WAIT", 60*time.Second),
		HealthInterval:      l.duration("KANSOKU_HEALTH_INTERVAL", 10*time.Second),
		AllowedOrigins:      envList("KANSOKU_ALLOWED_ORIGINS"),
		MCPEnabled:          l.bool("KANSOKU_MCP_ENABLED", true),
		OTELEndpoint:        l.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        l.bool("KANSOKU_OTEL_INSECURE", false),
		ServiceName:         l.str("OTEL_SERVICE_NAME", "kansoku"),
		LogLevel:            l.str("KANSOKU_LOG_LEVEL", "info"),
	}

	if len(l.errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(l.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Port > 0 && c.Port < 65536, "KANSOKU_PORT must be between 1 and 65535")
	check(c.ShutdownTimeout >= 0, "KANSOKU_SHUTDOWN_TIMEOUT must not be negative")
	check(c.SQLAgentURL != "", "KANSOKU_SQL_AGENT_URL is required")
	check(c.ToolAgentURL != "", "KANSOKU_TOOL_AGENT_URL is required")
	check(c.SQLAgentTimeout > 0, "KANSOKU_SQL_AGENT_TIMEOUT must be positive")
	check(c.ToolAgentTimeout > 0, "KANSOKU_TOOL_AGENT_TIMEOUT must be positive")
	check(c.AgentMaxRetries >= 1, "KANSOKU_AGENT_MAX_RETRIES must be at least 1")
	check(c.AgentRetryDelay > 0, "KANSOKU_AGENT_RETRY_DELAY must be positive")
	check(c.AgentMaxConcurrency >= 0, "KANSOKU_AGENT_MAX_CONCURRENCY must not be negative")
	check(c.AgentCacheTTL > 0, "KANSOKU_AGENT_CACHE_TTL must be positive")
	check(c.AgentCacheSize > 0, "KANSOKU_AGENT_CACHE_SIZE must be positive")
	check(c.ScenarioCacheTTL > 0, "KANSOKU_SCENARIO_CACHE_TTL must be positive")
	check(c.ScenarioCacheSize > 0, "KANSOKU_SCENARIO_CACHE_SIZE must be positive")
	check(c.QueryStoreTTL > 0, "KANSOKU_QUERY_STORE_TTL must be positive")
	check(c.QueryStoreSize > 0, "KANSOKU_QUERY_STORE_SIZE must be positive")
	check(c.RateLimitPerMinute > 0, "KANSOKU_RATE_LIMIT_PER_MINUTE must be positive")
	check(c.WSMaxMessageBytes > 0, "KANSOKU_WS_MAX_MESSAGE_BYTES must be positive")
	check(c.WSPingInterval > 0 && c.WSPingInterval < c.WSPongWait,
		"KANSOKU_WS_PING_INTERVAL must be positive and shorter than KANSOKU_WS_PONG_WAIT")
	check(c.HealthInterval > 0, "KANSOKU_HEALTH_INTERVAL must be positive")

	switch c.QueryStore {
	case StoreMemory:
	case StoreSQLite:
		check(c.SQLitePath != "", "KANSOKU_SQLITE_PATH is required for the sqlite query store")
	case StorePostgres:
		check(c.DatabaseURL != "", "DATABASE_URL is required for the postgres query store")
	default:
		errs = append(errs, fmt.Errorf("KANSOKU_QUERY_STORE=%q must be memory, sqlite or postgres", c.QueryStore))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envList splits a comma-separated variable, dropping blanks.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
