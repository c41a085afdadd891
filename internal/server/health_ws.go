package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashita-ai/kansoku/internal/model"
)

// healthSocket streams heartbeats on /ws/health. No authentication.
type healthSocket struct {
	version  string
	interval time.Duration
	upgrader websocket.Upgrader
	conns    *connRegistry
	now      func() time.Time
	logger   *slog.Logger
}

func (h *healthSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: health upgrade failed", "error", err)
		return
	}
	h.conns.add(conn)
	defer func() {
		h.conns.remove(conn)
		_ = conn.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends data; reading only surfaces its close frame.
	_ = conn.SetReadDeadline(time.Time{})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := h.beat(conn); err != nil {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.beat(conn); err != nil {
				h.logger.Debug("ws: health socket closed", "error", err)
				return
			}
		}
	}
}

func (h *healthSocket) beat(conn *websocket.Conn) error {
	now := h.now()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(model.HealthBeat{
		Status:    "ok",
		Version:   h.version,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	})
}
