package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kansoku/internal/ctxutil"
	"github.com/ashita-ai/kansoku/internal/model"
)

// CacheReporter is a result cache that can be inspected and emptied.
type CacheReporter interface {
	Name() string
	Stats() model.CacheStats
	Clear()
}

// Pinger is a query store backend that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	caches       []CacheReporter
	store        Pinger
	logger       *slog.Logger
	startedAt    time.Time
	version      string
	protocolSpec []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Caches, Store, ProtocolSpec.
type HandlersDeps struct {
	Caches       []CacheReporter
	Store        Pinger
	Logger       *slog.Logger
	Version      string
	ProtocolSpec []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		caches:       d.Caches,
		store:        d.Store,
		logger:       d.Logger,
		startedAt:    time.Now(),
		version:      d.Version,
		protocolSpec: d.ProtocolSpec,
	}
}

// HandleHealth reports version, uptime and cache occupancy.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}
	httpStatus := http.StatusOK

	if h.store != nil {
		resp.QueryStore = "connected"
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn("health: query store unreachable", "error", err)
			resp.QueryStore = "disconnected"
			resp.Status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	if len(h.caches) > 0 {
		resp.Caches = make(map[string]model.CacheStats, len(h.caches))
		for _, c := range h.caches {
			resp.Caches[c.Name()] = c.Stats()
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// HandleClearCaches empties every result cache.
func (h *Handlers) HandleClearCaches(w http.ResponseWriter, r *http.Request) {
	cleared := make([]string, 0, len(h.caches))
	for _, c := range h.caches {
		c.Clear()
		cleared = append(cleared, c.Name())
	}
	h.logger.Info("caches cleared", "caches", cleared, "user_id", ctxutil.UserIDFromContext(r.Context()))
	writeJSON(w, r, http.StatusOK, map[string]any{"cleared": cleared})
}

// HandleProtocolSpec serves the embedded socket protocol description.
func (h *Handlers) HandleProtocolSpec(w http.ResponseWriter, r *http.Request) {
	if len(h.protocolSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.protocolSpec)
}
