// Package server implements the HTTP surface of kansoku: the scenario
// websocket, the health socket, health and protocol endpoints, and the
// bearer-authenticated MCP transport.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kansoku/internal/auth"
	"github.com/ashita-ai/kansoku/internal/ctxutil"
	"github.com/ashita-ai/kansoku/internal/ratelimit"
)

// Socket defaults used when ServerConfig leaves them zero.
const (
	DefaultMaxMessageBytes = 64 << 10
	DefaultPingInterval    = 30 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultHealthInterval  = 10 * time.Second
)

// Server is the kansoku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	conns      *connRegistry
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, MCPLimiter, Caches, Store, MCPServer,
// ProtocolSpec.
type ServerConfig struct {
	// Required dependencies.
	JWTMgr   *auth.JWTManager
	Scenario ScenarioRunner
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter    ratelimit.Limiter // per-user socket message limiter
	MCPLimiter ratelimit.Limiter // per-user /mcp request limiter
	Caches     []CacheReporter
	Store      Pinger
	MCPServer  *mcpserver.MCPServer

	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string

	// Socket settings.
	MaxMessageBytes int64
	PingInterval    time.Duration
	PongWait        time.Duration
	HealthInterval  time.Duration
	AllowedOrigins  []string

	// Embedded protocol description.
	ProtocolSpec []byte
}

func (c *ServerConfig) applyDefaults() {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	cfg.applyDefaults()

	h := NewHandlers(HandlersDeps{
		Caches:       cfg.Caches,
		Store:        cfg.Store,
		Logger:       cfg.Logger,
		Version:      cfg.Version,
		ProtocolSpec: cfg.ProtocolSpec,
	})

	conns := newConnRegistry()
	upgrader := newUpgrader(cfg.AllowedOrigins)

	scenarioWS := newScenarioSocket(cfg.Scenario, cfg.JWTMgr, cfg.Limiter, upgrader, socketConfig{
		maxMessageBytes: cfg.MaxMessageBytes,
		pingInterval:    cfg.PingInterval,
		pongWait:        cfg.PongWait,
	}, conns, cfg.Logger)
	healthWS := &healthSocket{
		version:  cfg.Version,
		interval: cfg.HealthInterval,
		upgrader: upgrader,
		conns:    conns,
		now:      time.Now,
		logger:   cfg.Logger,
	}

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	authed := func(next http.Handler) http.Handler { return bearerAuth(cfg.JWTMgr, next) }

	mux := http.NewServeMux()

	// Websockets authenticate themselves through query parameters.
	mux.Handle("GET /ws/scenario", scenarioWS)
	mux.Handle("GET /ws/health", healthWS)

	// Cache administration (access token required).
	mux.Handle("DELETE /v1/caches", authed(http.HandlerFunc(h.HandleClearCaches)))

	// MCP StreamableHTTP transport (access token required, rate limited per user).
	if cfg.MCPServer != nil {
		mcpRL := ratelimit.Middleware(cfg.MCPLimiter, userKeyFunc, time.Minute, reqIDFunc, cfg.Logger)
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", authed(mcpRL(mcpHTTP)))
	}

	// Protocol description (no auth).
	mux.HandleFunc("GET /protocol.yaml", h.HandleProtocolSpec)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		conns:    conns,
		logger:   cfg.Logger,
	}
}

// userKeyFunc keys rate limits by the authenticated user.
func userKeyFunc(r *http.Request) string {
	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	return "mcp:" + claims.Subject
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and closes open sockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down", "open_sockets", s.conns.len())
	err := s.httpServer.Shutdown(ctx)
	s.conns.closeAll()
	return err
}
