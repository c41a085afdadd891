package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kansoku/internal/agents"
	"github.com/ashita-ai/kansoku/internal/cache"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/storage"
	"github.com/ashita-ai/kansoku/internal/telemetry"
)

// cacheThreshold is the minimum success ratio for a run to be cached.
const cacheThreshold = 0.8

// Run stages, recorded as span events.
const (
	stageReceived   = "RECEIVED"
	stageAnalyzed   = "ANALYZED"
	stageGenerated  = "RECOMMENDATIONS_GENERATED"
	stageSent       = "RECOMMENDATIONS_SENT"
	stageDispatched = "DISPATCHED"
	stageStreaming  = "STREAMING_RESULTS"
	stageDone       = "DONE"
	stageError      = "ERROR"
)

const (
	unknownAgent         = "unknown"
	logQueryPreviewRunes = 50
)

// Sender delivers one outbound message to the client. Implementations must be
// safe for concurrent use: results are sent from dispatcher goroutines.
type Sender interface {
	Send(ctx context.Context, msg any) error
}

// Dispatcher is the slice of *agents.Dispatcher the orchestrator uses.
type Dispatcher interface {
	Stream(ctx context.Context, queries []model.SubQuery, sessionID string, onResult agents.ResultFunc) map[string]model.AgentResult
	Call(ctx context.Context, kind model.AgentKind, query, sessionID string) model.AgentResult
}

// RunCache holds complete result maps keyed by (query, domain).
type RunCache = cache.TTL[map[string]model.AgentResult]

// Config toggles orchestrator behavior.
type Config struct {
	UseCache bool
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithMessageIDs replaces the run identifier generator.
func WithMessageIDs(fn func() string) ServiceOption {
	return func(s *Service) { s.newMessageID = fn }
}

// Service drives scenario runs and single sub-query retries.
type Service struct {
	cfg          Config
	dispatcher   Dispatcher
	store        storage.QueryStore
	runs         *RunCache
	logger       *slog.Logger
	tracer       trace.Tracer
	runCounter   metric.Int64Counter
	newMessageID func() string
}

// NewService wires the orchestrator. runs may be nil when caching is disabled.
func NewService(cfg Config, dispatcher Dispatcher, store storage.QueryStore, runs *RunCache, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:          cfg,
		dispatcher:   dispatcher,
		store:        store,
		runs:         runs,
		logger:       logger,
		tracer:       telemetry.Tracer("kansoku/scenario"),
		newMessageID: NewMessageID,
	}
	if s.runs == nil {
		s.cfg.UseCache = false
	}
	for _, o := range opts {
		o(s)
	}
	s.runCounter, _ = telemetry.Meter("kansoku/scenario").Int64Counter("kansoku.scenario.runs",
		metric.WithDescription("Scenario runs by outcome"))
	return s
}

// NewMessageID returns a fresh run identifier.
func NewMessageID() string {
	return "scenario-" + uuid.NewString()
}

// RunCache exposes the run-level cache, or nil when disabled.
func (s *Service) RunCache() *RunCache {
	if !s.cfg.UseCache {
		return nil
	}
	return s.runs
}

// Plan analyzes a query and generates its sub-queries without dispatching.
func Plan(query string) (model.AnalysisResult, []model.SubQuery) {
	analysis := Analyze(query)
	return analysis, Generate(query, analysis)
}

// ProcessScenario runs one query end to end: it announces the sub-queries,
// then sends exactly one ScenarioResult per sub-query. Failures before the
// result stream are reported as a single error message instead. The returned
// error is non-nil only when the sender itself failed.
func (s *Service) ProcessScenario(ctx context.Context, query, sessionID string, sender Sender, userID string) (messageID string, err error) {
	messageID = s.newMessageID()
	log := s.logger.With("session_id", sessionID, "message_id", messageID, "user_id", userID)

	ctx, span := s.tracer.Start(ctx, "scenario.process", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("message_id", messageID),
	))
	defer span.End()
	span.AddEvent(stageReceived)

	outcome, runErr, sendErr := s.process(ctx, span, log, query, sessionID, messageID, sender)
	if runErr != nil {
		outcome = "error"
		span.AddEvent(stageError)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		log.Error("scenario: run failed", "error", runErr)
		if sendErr == nil {
			sendErr = sender.Send(ctx, model.ErrorMessage{
				Type:      model.TypeError,
				SessionID: sessionID,
				MessageID: messageID,
				Error:     runErr.Error(),
			})
		}
	} else {
		span.AddEvent(stageDone)
	}
	if sendErr != nil && outcome == "" {
		outcome = "disconnected"
	}
	s.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return messageID, sendErr
}

// process runs the stages. runErr aborts the run; sendErr means the client is gone.
func (s *Service) process(ctx context.Context, span trace.Span, log *slog.Logger, query, sessionID, messageID string, sender Sender) (outcome string, runErr, sendErr error) {
	defer func() {
		if p := recover(); p != nil {
			runErr = fmt.Errorf("%v", p)
		}
	}()

	analysis := Analyze(query)
	span.AddEvent(stageAnalyzed, trace.WithAttributes(attribute.String("domain", string(analysis.Domain))))
	log.Info("scenario: query analyzed",
		"query", truncateRunes(query, logQueryPreviewRunes),
		"domain", analysis.Domain,
		"analysis_type", analysis.AnalysisType,
		"assets", analysis.Assets,
	)

	var cached map[string]model.AgentResult
	if s.cfg.UseCache {
		if hit, ok := s.runs.Get(query, string(analysis.Domain)); ok {
			cached = hit
		}
	}

	recs := Generate(query, analysis)
	if cached != nil && !covers(cached, recs) {
		cached = nil
	}
	span.AddEvent(stageGenerated)

	if err := s.store.Put(ctx, messageID, recs); err != nil {
		return "", fmt.Errorf("store sub-queries: %w", err), nil
	}

	if err := sender.Send(ctx, FormatRecommendation(sessionID, messageID, query, recs)); err != nil {
		return "", nil, err
	}
	span.AddEvent(stageSent)

	if cached != nil {
		log.Info("scenario: cache hit", "query", truncateRunes(query, logQueryPreviewRunes))
		span.AddEvent(stageStreaming, trace.WithAttributes(attribute.Bool("cached", true)))
		for _, rec := range recs {
			msg := formatAgentResult(sessionID, messageID, rec.SubID, string(rec.AgentType), cached[rec.SubID])
			if err := sender.Send(ctx, msg); err != nil {
				return "", nil, err
			}
		}
		return "cached", nil, nil
	}

	span.AddEvent(stageDispatched)
	var (
		mu      sync.Mutex
		lostErr error
	)
	results := s.dispatcher.Stream(ctx, recs, sessionID, func(q model.SubQuery, r model.AgentResult) {
		mu.Lock()
		defer mu.Unlock()
		if lostErr != nil {
			return
		}
		msg := formatAgentResult(sessionID, messageID, q.SubID, agentLabel(recs, q.SubID), r)
		if err := sender.Send(ctx, msg); err != nil {
			lostErr = err
		}
	})
	span.AddEvent(stageStreaming, trace.WithAttributes(attribute.Bool("cached", false)))

	ratio := model.SuccessRatio(results)
	if s.cfg.UseCache && ratio >= cacheThreshold {
		s.runs.Set(query, string(analysis.Domain), results)
		log.Info("scenario: cached results", "success_ratio", ratio)
	}
	if lostErr != nil {
		return "", nil, lostErr
	}
	return "dispatched", nil, nil
}

// RetrySingle re-dispatches one sub-query of an earlier run and sends exactly
// one ScenarioResult. Retries bypass the run-level cache. The returned error
// is non-nil only when the sender failed.
func (s *Service) RetrySingle(ctx context.Context, messageID, subID string, agentType model.AgentKind, sessionID string, sender Sender, userID string) error {
	log := s.logger.With("session_id", sessionID, "message_id", messageID, "sub_id", subID, "user_id", userID)
	ctx, span := s.tracer.Start(ctx, "scenario.retry", trace.WithAttributes(
		attribute.String("message_id", messageID),
		attribute.String("sub_id", subID),
		attribute.String("agent", string(agentType)),
	))
	defer span.End()

	result, err := s.retry(ctx, log, messageID, subID, agentType, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		text := model.MsgRetryNotFound
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("scenario: original query not found for retry")
		} else {
			text = "Retry failed: " + err.Error()
			log.Error("scenario: retry failed", "error", err)
		}
		return sender.Send(ctx, FormatResult(sessionID, messageID, subID, string(agentType), "", true, &text))
	}
	return sender.Send(ctx, formatAgentResult(sessionID, messageID, subID, string(agentType), result))
}

func (s *Service) retry(ctx context.Context, log *slog.Logger, messageID, subID string, agentType model.AgentKind, sessionID string) (r model.AgentResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%v", p)
		}
	}()

	text, err := s.store.Lookup(ctx, messageID, subID)
	if err != nil {
		return model.AgentResult{}, err
	}
	log.Info("scenario: retrying sub-query", "agent", agentType)
	return s.dispatcher.Call(ctx, agentType, text, sessionID), nil
}

// covers reports whether a cached run answers every generated sub-query.
func covers(results map[string]model.AgentResult, recs []model.SubQuery) bool {
	for _, r := range recs {
		if _, ok := results[r.SubID]; !ok {
			return false
		}
	}
	return true
}

func agentLabel(recs []model.SubQuery, subID string) string {
	for _, r := range recs {
		if r.SubID == subID {
			return string(r.AgentType)
		}
	}
	return unknownAgent
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
