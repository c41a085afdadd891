package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kansoku/internal/auth"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/ratelimit"
	"github.com/ashita-ai/kansoku/internal/scenario"
	"github.com/ashita-ai/kansoku/internal/telemetry"
)

const (
	writeWait = 10 * time.Second

	// maxPendingMessages bounds accepted messages waiting for the
	// connection's worker.
	maxPendingMessages = 16

	msgBusy = "Too many pending requests on this connection"

	logQueryPreviewRunes = 50
)

// ScenarioRunner is the slice of *scenario.Service the socket drives.
type ScenarioRunner interface {
	ProcessScenario(ctx context.Context, query, sessionID string, sender scenario.Sender, userID string) (string, error)
	RetrySingle(ctx context.Context, messageID, subID string, agentType model.AgentKind, sessionID string, sender scenario.Sender, userID string) error
}

type socketConfig struct {
	maxMessageBytes int64
	pingInterval    time.Duration
	pongWait        time.Duration
}

// scenarioSocket terminates /ws/scenario connections. Each connection gets a
// reader goroutine that validates and rate-limits inbound messages, and a
// single worker that runs accepted messages in arrival order.
type scenarioSocket struct {
	runner   ScenarioRunner
	jwtMgr   *auth.JWTManager
	limiter  ratelimit.Limiter
	upgrader websocket.Upgrader
	cfg      socketConfig
	conns    *connRegistry
	logger   *slog.Logger

	rejections metric.Int64Counter
}

func newScenarioSocket(runner ScenarioRunner, jwtMgr *auth.JWTManager, limiter ratelimit.Limiter, upgrader websocket.Upgrader, cfg socketConfig, conns *connRegistry, logger *slog.Logger) *scenarioSocket {
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	s := &scenarioSocket{
		runner:   runner,
		jwtMgr:   jwtMgr,
		limiter:  limiter,
		upgrader: upgrader,
		cfg:      cfg,
		conns:    conns,
		logger:   logger,
	}
	s.rejections, _ = telemetry.Meter("kansoku/server").Int64Counter("kansoku.ratelimit.rejections",
		metric.WithDescription("Inbound socket messages rejected by the per-user limiter"))
	return s
}

func (s *scenarioSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	token := q.Get("token")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Warn("ws: upgrade failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		return
	}

	if _, err := uuid.Parse(sessionID); err != nil {
		s.logger.Warn("ws: connection rejected: invalid session id", "session_id", sessionID)
		closeWith(conn, websocket.ClosePolicyViolation, model.MsgInvalidSessionID)
		return
	}
	claims, err := s.jwtMgr.ValidateToken(token, auth.TokenAccess)
	if err != nil {
		s.logger.Warn("ws: connection rejected: invalid token", "session_id", sessionID, "error", err)
		closeWith(conn, websocket.ClosePolicyViolation, model.MsgInvalidToken)
		return
	}

	sess := &session{conn: conn, id: sessionID, userID: claims.Subject}
	s.conns.add(conn)
	defer s.conns.remove(conn)

	s.logger.Info("ws: scenario socket connected", "user_id", sess.userID, "session_id", sessionID)
	s.serve(r.Context(), sess)
	s.logger.Info("ws: scenario socket disconnected", "user_id", sess.userID, "session_id", sessionID)
}

// serve runs one authenticated connection until the client goes away or the
// worker aborts it.
func (s *scenarioSocket) serve(parent context.Context, sess *session) {
	ctx, cancel := context.WithCancel(parent)
	jobs := make(chan model.Inbound, maxPendingMessages)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.work(ctx, sess, jobs)
	}()
	go func() {
		defer wg.Done()
		s.keepalive(ctx, sess)
	}()

	s.read(ctx, sess, jobs)
	close(jobs)
	cancel()
	wg.Wait()
	_ = sess.conn.Close()
}

func (s *scenarioSocket) read(ctx context.Context, sess *session, jobs chan<- model.Inbound) {
	defer func() {
		if p := recover(); p != nil {
			s.abort(sess, p)
		}
	}()

	conn := sess.conn
	conn.SetReadLimit(s.cfg.maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("ws: read error", "session_id", sess.id, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.pongWait))
		s.accept(ctx, sess, data, jobs)
	}
}

// accept validates one frame and queues it for the worker. Validation and
// rate-limit failures are answered inline and never reach the orchestrator.
func (s *scenarioSocket) accept(ctx context.Context, sess *session, data []byte, jobs chan<- model.Inbound) {
	msg, err := model.DecodeInbound(data)
	if err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			_ = sess.Send(ctx, model.NewErrorMessage(ve.Error(), ve.MessageID))
		} else {
			_ = sess.Send(ctx, model.NewErrorMessage(model.MsgInvalidFormat, ""))
		}
		s.logger.Debug("ws: invalid message", "session_id", sess.id, "error", err)
		return
	}

	allowed, err := s.limiter.Allow(ctx, "user:"+sess.userID)
	if err != nil {
		s.logger.Warn("ws: limiter error, allowing message", "user_id", sess.userID, "error", err)
		allowed = true
	}
	if !allowed {
		s.rejections.Add(ctx, 1)
		s.logger.Warn("ws: rate limit exceeded", "user_id", sess.userID, "session_id", sess.id)
		_ = sess.Send(ctx, model.NewErrorMessage(model.MsgRateLimited, msg.ID()))
		return
	}

	select {
	case jobs <- msg:
	default:
		_ = sess.Send(ctx, model.NewErrorMessage(msgBusy, msg.ID()))
	}
}

func (s *scenarioSocket) work(ctx context.Context, sess *session, jobs <-chan model.Inbound) {
	defer func() {
		if p := recover(); p != nil {
			s.abort(sess, p)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-jobs:
			if !ok {
				return
			}
			s.handle(ctx, sess, msg)
		}
	}
}

func (s *scenarioSocket) handle(ctx context.Context, sess *session, msg model.Inbound) {
	switch m := msg.(type) {
	case *model.QueryMessage:
		s.logger.Info("ws: processing scenario query",
			"user_id", sess.userID,
			"session_id", sess.id,
			"query", preview(m.Query),
		)
		if _, err := s.runner.ProcessScenario(ctx, m.Query, sess.id, sess, sess.userID); err != nil {
			s.logger.Debug("ws: client gone during run", "session_id", sess.id, "error", err)
		}
	case *model.RetryMessage:
		s.logger.Info("ws: processing retry", "user_id", sess.userID, "session_id", sess.id, "sub_id", m.SubID)
		if err := s.runner.RetrySingle(ctx, m.MessageID, m.SubID, m.AgentType, sess.id, sess, sess.userID); err != nil {
			s.logger.Debug("ws: client gone during retry", "session_id", sess.id, "error", err)
		}
	}
}

// abort reports an internal error to the client and closes with 1011.
func (s *scenarioSocket) abort(sess *session, p any) {
	s.logger.Error("ws: session panic",
		"user_id", sess.userID,
		"session_id", sess.id,
		"panic", fmt.Sprint(p),
		"stack", string(debug.Stack()),
	)
	_ = sess.Send(context.Background(), model.ErrorMessage{Type: model.TypeError, Error: model.MsgInternal})
	closeWith(sess.conn, websocket.CloseInternalServerErr, model.MsgInternal)
}

func (s *scenarioSocket) keepalive(ctx context.Context, sess *session) {
	ticker := time.NewTicker(s.cfg.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// session is one authenticated connection. It implements scenario.Sender.
type session struct {
	conn   *websocket.Conn
	id     string
	userID string

	mu sync.Mutex
}

var _ scenario.Sender = (*session)(nil)

// Send writes msg as one JSON text frame. Safe for concurrent use.
func (c *session) Send(ctx context.Context, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws: encode message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// closeWith sends a close frame and drops the connection.
func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = conn.Close()
}

// connRegistry tracks hijacked connections so shutdown can close them;
// http.Server.Shutdown does not.
type connRegistry struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[*websocket.Conn]struct{})}
}

func (r *connRegistry) add(c *websocket.Conn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

func (r *connRegistry) remove(c *websocket.Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

func (r *connRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// closeAll sends every tracked connection a going-away close frame.
func (r *connRegistry) closeAll() {
	r.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		closeWith(c, websocket.CloseGoingAway, "server shutting down")
	}
}

// newUpgrader builds the upgrader shared by both sockets. An empty allow
// list accepts any origin.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return allowed[strings.ToLower(origin)]
		},
	}
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= logQueryPreviewRunes {
		return s
	}
	return string(r[:logQueryPreviewRunes]) + "..."
}
