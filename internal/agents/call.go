package agents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kansoku/internal/model"
)

// maxBodyBytes caps how much of an agent response is kept.
const maxBodyBytes = 8 << 20

// FailureKind classifies why a single attempt failed.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTimeout
	FailureConnect
	FailureProtocol
	FailureUnknownAgent
	FailureInternal
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureConnect:
		return "connect"
	case FailureProtocol:
		return "protocol"
	case FailureUnknownAgent:
		return "unknown_agent"
	default:
		return "internal"
	}
}

// Retryable reports whether another attempt may succeed.
func (k FailureKind) Retryable() bool {
	return k == FailureTimeout || k == FailureConnect
}

// attempt is the outcome of one HTTP round trip.
type attempt struct {
	result  model.AgentResult
	failure FailureKind
}

// Call runs one sub-query against the given agent kind with the full retry
// policy. Unknown kinds resolve to an error result without network I/O.
func (d *Dispatcher) Call(ctx context.Context, kind model.AgentKind, query, sessionID string) model.AgentResult {
	if !kind.Valid() {
		d.recordCall(ctx, kind, FailureUnknownAgent, 0)
		return model.ErrorResult(fmt.Sprintf("Unknown agent type: %s", kind))
	}

	ctx, span := d.tracer.Start(ctx, "agents.call", trace.WithAttributes(
		attribute.String("kansoku.agent", string(kind)),
		attribute.String("kansoku.session_id", sessionID),
	))
	defer span.End()

	start := time.Now()
	res, failure := d.callWithRetry(ctx, kind, query, sessionID)
	d.recordCall(ctx, kind, failure, time.Since(start))
	if !res.OK() {
		span.SetStatus(codes.Error, *res.ErrorText())
	}
	return res
}

func (d *Dispatcher) callWithRetry(ctx context.Context, kind model.AgentKind, query, sessionID string) (model.AgentResult, FailureKind) {
	var last attempt
	for n := range d.cfg.MaxRetries {
		last = d.callOnce(ctx, kind, query, sessionID)
		if last.failure == FailureNone || !last.failure.Retryable() || n == d.cfg.MaxRetries-1 {
			return last.result, last.failure
		}

		delay := d.cfg.RetryDelay << n
		d.logger.Warn("agents: retrying call",
			"agent", kind,
			"attempt", n+1,
			"max_attempts", d.cfg.MaxRetries,
			"delay_ms", delay.Milliseconds(),
			"error", *last.result.ErrorText(),
		)
		if d.retryCounter != nil {
			d.retryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", string(kind))))
		}
		trace.SpanFromContext(ctx).AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", n+1),
			attribute.Int64("delay_ms", delay.Milliseconds()),
		))
		if err := d.sleep(ctx, delay); err != nil {
			return model.ErrorResult(fmt.Sprintf("Retry aborted: %v", err)), FailureInternal
		}
	}
	return last.result, last.failure
}

// callOnce performs a single cache-checked attempt. Identical concurrent
// attempts share one HTTP round trip.
func (d *Dispatcher) callOnce(ctx context.Context, kind model.AgentKind, query, sessionID string) attempt {
	scope := kind.CacheScope()
	if cached, ok := d.cache.Get(query, scope); ok {
		d.logger.Debug("agents: cache hit", "agent", kind, "query", truncate(query, 50))
		return attempt{result: cached}
	}

	key := scope + "\x00" + sessionID + "\x00" + query
	v, _, _ := d.calls.Do(key, func() (any, error) {
		return d.roundTrip(ctx, kind, query, sessionID), nil
	})
	a := v.(attempt)
	if a.failure == FailureNone {
		d.cache.Set(query, scope, a.result)
	}
	return a
}

func (d *Dispatcher) roundTrip(ctx context.Context, kind model.AgentKind, query, sessionID string) (a attempt) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("agents: call panicked", "agent", kind, "panic", r)
			a = attempt{result: model.ErrorResult(fmt.Sprintf("internal error: %v", r)), failure: FailureInternal}
		}
	}()

	base, timeout := d.endpoint(kind)
	// Shared by singleflight waiters, so detach from the first caller's
	// cancellation and bound by the per-kind timeout only.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	u, err := url.Parse(base)
	if err != nil {
		return attempt{result: model.ErrorResult(fmt.Sprintf("invalid %s URL: %v", kind.Label(), err)), failure: FailureInternal}
	}
	params := u.Query()
	params.Set("q_id", sessionID)
	params.Set("question", query)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		d.logger.Error("agents: build request", "agent", kind, "error", err)
		return attempt{result: model.ErrorResult("Request to " + kind.Label() + " failed"), failure: FailureInternal}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	d.logger.Debug("agents: calling", "agent", kind, "url", base, "session_id", sessionID, "query", truncate(query, 50))

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("agents: request failed", "agent", kind, "error", err)
		return classifyError(kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		d.logger.Warn("agents: non-200 response", "agent", kind, "status", resp.StatusCode)
		return attempt{
			result:  model.ErrorResult(fmt.Sprintf("Agent returned status %d", resp.StatusCode)),
			failure: FailureProtocol,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		d.logger.Warn("agents: read response", "agent", kind, "error", err)
		return classifyError(kind, err)
	}
	return attempt{result: model.SuccessResult(string(body))}
}

// classifyError maps a transport error onto a FailureKind and the error text
// shown to clients.
func classifyError(kind model.AgentKind, err error) attempt {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return attempt{result: model.ErrorResult("Request timed out"), failure: FailureTimeout}
	case isConnectError(err):
		return attempt{result: model.ErrorResult("Failed to connect to " + kind.Label()), failure: FailureConnect}
	default:
		return attempt{result: model.ErrorResult("Request to " + kind.Label() + " failed"), failure: FailureInternal}
	}
}

// isConnectError reports refused, reset or dropped connections and failed
// dials. A server closing the socket before answering surfaces as EOF.
func isConnectError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func (d *Dispatcher) recordCall(ctx context.Context, kind model.AgentKind, failure FailureKind, elapsed time.Duration) {
	outcome := "success"
	if failure != FailureNone {
		outcome = failure.String()
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", string(kind)),
		attribute.String("outcome", outcome),
	)
	if d.callCounter != nil {
		d.callCounter.Add(ctx, 1, attrs)
	}
	if d.durationHist != nil && elapsed > 0 {
		d.durationHist.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
