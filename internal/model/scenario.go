// Package model defines the scenario pipeline's domain types and wire messages.
package model

import (
	"errors"
	"fmt"
)

// AgentKind identifies a backend agent. The string value is the wire form
// used in retry messages, recommendation endpoints, and result messages.
type AgentKind string

const (
	AgentSQL  AgentKind = "sqlagent"
	AgentTool AgentKind = "toolagent"
)

// ErrUnknownAgent is returned when an agent kind is neither sqlagent nor toolagent.
var ErrUnknownAgent = errors.New("unknown agent type")

// ParseAgentKind validates a wire agent type.
func ParseAgentKind(s string) (AgentKind, error) {
	switch AgentKind(s) {
	case AgentSQL, AgentTool:
		return AgentKind(s), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAgent, s)
	}
}

// Valid reports whether k is a known agent kind.
func (k AgentKind) Valid() bool {
	return k == AgentSQL || k == AgentTool
}

// CacheScope is the per-kind cache namespace for agent results.
func (k AgentKind) CacheScope() string {
	switch k {
	case AgentSQL:
		return "sql_agent"
	case AgentTool:
		return "tool_agent"
	default:
		return string(k)
	}
}

// Label is the human-readable agent name used in error text.
func (k AgentKind) Label() string {
	switch k {
	case AgentSQL:
		return "SQL agent"
	case AgentTool:
		return "tool agent"
	default:
		return string(k)
	}
}

// Domain is the subject area a query was classified into.
type Domain string

const (
	DomainProcessPerformance    Domain = "process_performance"
	DomainOperations            Domain = "operations"
	DomainTroubleshooting       Domain = "troubleshooting"
	DomainPerformanceComparison Domain = "performance_comparison"
	DomainMaintenance           Domain = "maintenance"
	DomainGeneral               Domain = "general"
)

// AnalysisType is the kind of analysis a query asks for.
type AnalysisType string

const (
	AnalysisRootCause  AnalysisType = "root_cause"
	AnalysisComparison AnalysisType = "comparison"
	AnalysisTrend      AnalysisType = "trend_analysis"
	AnalysisOptimize   AnalysisType = "optimization"
	AnalysisGeneral    AnalysisType = "general_analysis"
)

// TimePeriod is the time bucket a query refers to.
type TimePeriod string

const (
	PeriodToday        TimePeriod = "today"
	PeriodYesterday    TimePeriod = "yesterday"
	PeriodThisWeek     TimePeriod = "this_week"
	PeriodLastWeek     TimePeriod = "last_week"
	PeriodThisMonth    TimePeriod = "this_month"
	PeriodLastMonth    TimePeriod = "last_month"
	PeriodLastTwoWeeks TimePeriod = "last_two_weeks"
	PeriodCurrent      TimePeriod = "current"
)

// AnalysisResult is the classification of one free-text query.
// Keywords keep vocabulary order followed by asset identifiers.
type AnalysisResult struct {
	Keywords     []string     `json:"keywords"`
	Domain       Domain       `json:"domain"`
	AnalysisType AnalysisType `json:"analysis_type"`
	Assets       []string     `json:"assets"`
	TimePeriod   TimePeriod   `json:"time_period"`
}

// SubQuery is one of the five recommended questions produced per scenario run.
type SubQuery struct {
	SubID     string    `json:"sub_id"`
	AgentType AgentKind `json:"agent_type"`
	QueryText string    `json:"query"`
}

// ResultStatus is the outcome of one agent call.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
)

// AgentResult is the resolved outcome of a sub-query. Result is set on
// success, Error on failure.
type AgentResult struct {
	Status ResultStatus `json:"status"`
	Result *string      `json:"result"`
	Error  *string      `json:"error"`
}

// SuccessResult builds a successful AgentResult.
func SuccessResult(body string) AgentResult {
	return AgentResult{Status: StatusSuccess, Result: &body}
}

// ErrorResult builds a failed AgentResult.
func ErrorResult(msg string) AgentResult {
	return AgentResult{Status: StatusError, Error: &msg}
}

// OK reports whether the call succeeded.
func (r AgentResult) OK() bool { return r.Status == StatusSuccess }

// Content returns the result body, or "" when there is none.
func (r AgentResult) Content() string {
	if r.Result == nil {
		return ""
	}
	return *r.Result
}

// ErrorText returns the error message for failed results and nil otherwise.
func (r AgentResult) ErrorText() *string {
	if r.Status != StatusError {
		return nil
	}
	if r.Error == nil {
		msg := "unknown error"
		return &msg
	}
	return r.Error
}

// SuccessRatio returns the fraction of successful results, 0 for an empty map.
func SuccessRatio(results map[string]AgentResult) float64 {
	if len(results) == 0 {
		return 0
	}
	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	return float64(ok) / float64(len(results))
}
