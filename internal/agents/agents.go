// Package agents calls the backend SQL and tool agents on behalf of the
// scenario orchestrator.
//
// Every sub-query resolves to a model.AgentResult: transport failures,
// timeouts, non-200 responses, unknown agent kinds and panics are all folded
// into an error result for that sub-query and never abort the fan-out.
// Timeouts and connection failures are retried with exponential backoff;
// everything else returns after the first attempt.
package agents

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kansoku/internal/cache"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/telemetry"
)

// Config controls endpoints, timeouts and the retry policy.
type Config struct {
	SQLURL      string
	ToolURL     string
	SQLTimeout  time.Duration // default 30s
	ToolTimeout time.Duration // default 60s

	MaxRetries int           // attempts per sub-query, default 3
	RetryDelay time.Duration // backoff base, default 1s

	// MaxConcurrency bounds in-flight calls per fan-out. 0 means unbounded.
	MaxConcurrency int

	CacheTTL  time.Duration
	CacheSize int
}

func (c *Config) applyDefaults() {
	if c.SQLTimeout <= 0 {
		c.SQLTimeout = 30 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the pooled, instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithSleep replaces the backoff sleeper. Tests use it to observe delays.
func WithSleep(fn SleepFunc) Option {
	return func(d *Dispatcher) { d.sleep = fn }
}

// WithCache supplies the per-kind result cache.
func WithCache(c *cache.TTL[model.AgentResult]) Option {
	return func(d *Dispatcher) { d.cache = c }
}

// Dispatcher executes sub-queries against the agents.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	cache  *cache.TTL[model.AgentResult]
	sleep  SleepFunc
	logger *slog.Logger
	calls  singleflight.Group
	tracer trace.Tracer

	callCounter  metric.Int64Counter
	retryCounter metric.Int64Counter
	durationHist metric.Float64Histogram
}

// New creates a Dispatcher.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	cfg.applyDefaults()
	d := &Dispatcher{
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
		tracer: telemetry.Tracer("kansoku/agents"),
	}
	for _, fn := range opts {
		fn(d)
	}
	if d.client == nil {
		d.client = newHTTPClient()
	}
	if d.cache == nil {
		d.cache = cache.New[model.AgentResult]("agent", cfg.CacheTTL, cfg.CacheSize)
	}

	meter := telemetry.Meter("kansoku/agents")
	d.callCounter, _ = meter.Int64Counter("kansoku.agent.calls",
		metric.WithDescription("Agent calls by kind and outcome"))
	d.retryCounter, _ = meter.Int64Counter("kansoku.agent.retries",
		metric.WithDescription("Backoff retries of agent calls"))
	d.durationHist, _ = meter.Float64Histogram("kansoku.agent.duration",
		metric.WithDescription("Agent call latency including retries"),
		metric.WithUnit("ms"))
	return d
}

// Cache exposes the per-kind cache for health reporting and administration.
func (d *Dispatcher) Cache() *cache.TTL[model.AgentResult] {
	return d.cache
}

// newHTTPClient returns a pooled client whose requests carry trace context.
// Per-call deadlines come from the request context.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     30 * time.Second,
	}
	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}

func (d *Dispatcher) endpoint(kind model.AgentKind) (string, time.Duration) {
	if kind == model.AgentTool {
		return d.cfg.ToolURL, d.cfg.ToolTimeout
	}
	return d.cfg.SQLURL, d.cfg.SQLTimeout
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
