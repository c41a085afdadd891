package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Wire message type tags.
const (
	TypeQuery          = "query"
	TypeRetry          = "retry"
	TypeRecommendation = "scenario_recommendation"
	TypeResult         = "scenario_result"
	TypeError          = "error"
)

// Inbound field limits.
const (
	MaxQueryLen     = 1000
	MaxMessageIDLen = 100
)

// Connection-scoped error texts.
const (
	MsgInvalidFormat    = "Invalid message format"
	MsgRateLimited      = "Rate limit exceeded. Please wait before sending more requests."
	MsgInternal         = "Internal server error"
	MsgRetryNotFound    = "Original query not found for retry"
	MsgInvalidSessionID = "Invalid session ID format"
	MsgInvalidToken     = "Invalid authentication token"
)

// Recommendation is one entry of a ScenarioRecommendation.
type Recommendation struct {
	SubID    string    `json:"sub_id"`
	Question string    `json:"question"`
	Endpoint AgentKind `json:"endpoint"`
}

// ScenarioRecommendation announces the five sub-queries of a run before any
// agent has answered. SubID is always null on the wire.
type ScenarioRecommendation struct {
	SessionID       string           `json:"session_id"`
	MessageID       string           `json:"message_id"`
	SubID           *string          `json:"sub_id"`
	Type            string           `json:"type"`
	Query           string           `json:"query"`
	Recommendations []Recommendation `json:"recommendations"`
}

// ScenarioResult is the terminal message for one sub-query.
type ScenarioResult struct {
	SessionID  string  `json:"session_id"`
	MessageID  string  `json:"message_id"`
	SubID      string  `json:"sub_id"`
	Type       string  `json:"type"`
	Agent      string  `json:"agent"`
	Content    string  `json:"content"`
	IsComplete bool    `json:"is_complete"`
	Error      *string `json:"error"`
}

// ErrorMessage reports validation, rate-limit, orchestration and internal
// failures on the connection.
type ErrorMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error"`
}

// NewErrorMessage builds an error message with an optional message_id.
func NewErrorMessage(msg, messageID string) ErrorMessage {
	return ErrorMessage{Type: TypeError, MessageID: messageID, Error: msg}
}

// HealthBeat is sent periodically on the health socket.
type HealthBeat struct {
	Status    string  `json:"status"`
	Version   string  `json:"version"`
	Timestamp float64 `json:"timestamp"`
}

// Inbound is a decoded client message: *QueryMessage or *RetryMessage.
type Inbound interface {
	// ID returns the client-supplied message_id.
	ID() string
	inbound()
}

// QueryMessage asks for a new scenario run.
type QueryMessage struct {
	Query     string
	MessageID string
}

func (m *QueryMessage) ID() string { return m.MessageID }
func (*QueryMessage) inbound()      {}

// RetryMessage asks to re-dispatch a single sub-query of an earlier run.
type RetryMessage struct {
	MessageID string
	SubID     string
	AgentType AgentKind
}

func (m *RetryMessage) ID() string { return m.MessageID }
func (*RetryMessage) inbound()      {}

// ValidationError is a schema violation in an inbound message. The connection
// stays open; the error is reported inline.
type ValidationError struct {
	Msg       string
	MessageID string
}

func (e *ValidationError) Error() string { return "Invalid message: " + e.Msg }

// errMalformed marks input that is not a JSON object at all.
var errMalformed = errors.New(MsgInvalidFormat)

// IsMalformed reports whether err came from undecodable input.
func IsMalformed(err error) bool { return errors.Is(err, errMalformed) }

var (
	messageIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	dangerousPatterns = []string{
		"<script", "javascript:", "onerror=", "onclick=",
		"onload=", "eval(", "expression(", "vbscript:",
	}
)

type rawInbound struct {
	Type      *string `json:"type"`
	Query     *string `json:"query"`
	MessageID *string `json:"message_id"`
	SubID     *string `json:"sub_id"`
	AgentType *string `json:"agent_type"`
}

// DecodeInbound decodes and validates one client frame. It returns either an
// Inbound value or an error that is a *ValidationError or satisfies IsMalformed.
// A missing type defaults to "query".
func DecodeInbound(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, &ValidationError{
				Msg:       fmt.Sprintf("%s must be a string", typeErr.Field),
				MessageID: looseMessageID(data),
			}
		}
		return nil, errMalformed
	}

	msgType := TypeQuery
	if raw.Type != nil {
		msgType = *raw.Type
	}
	msgID := deref(raw.MessageID)

	switch msgType {
	case TypeQuery:
		q, err := validateQuery(raw.Query)
		if err != nil {
			return nil, &ValidationError{Msg: err.Error(), MessageID: msgID}
		}
		if err := validateMessageID(raw.MessageID); err != nil {
			return nil, &ValidationError{Msg: err.Error(), MessageID: msgID}
		}
		return &QueryMessage{Query: q, MessageID: msgID}, nil

	case TypeRetry:
		if raw.MessageID == nil || *raw.MessageID == "" {
			return nil, &ValidationError{Msg: "message_id is required"}
		}
		if raw.SubID == nil || *raw.SubID == "" {
			return nil, &ValidationError{Msg: "sub_id is required", MessageID: msgID}
		}
		if raw.AgentType == nil {
			return nil, &ValidationError{Msg: "agent_type is required", MessageID: msgID}
		}
		kind, err := ParseAgentKind(*raw.AgentType)
		if err != nil {
			return nil, &ValidationError{Msg: "Agent type must be 'sqlagent' or 'toolagent'", MessageID: msgID}
		}
		return &RetryMessage{MessageID: msgID, SubID: *raw.SubID, AgentType: kind}, nil

	default:
		return nil, &ValidationError{Msg: "Unknown message type: " + msgType, MessageID: msgID}
	}
}

// ValidateQuery applies the inbound query rules to text arriving outside the
// socket protocol and returns the trimmed query.
func ValidateQuery(q string) (string, error) {
	return validateQuery(&q)
}

func validateQuery(q *string) (string, error) {
	if q == nil {
		return "", errors.New("query is required")
	}
	if n := utf8.RuneCountInString(*q); n < 1 || n > MaxQueryLen {
		return "", fmt.Errorf("query must be between 1 and %d characters", MaxQueryLen)
	}
	v := strings.TrimSpace(*q)
	if v == "" {
		return "", errors.New("Query cannot be empty") //nolint:staticcheck // user-facing text
	}
	lower := strings.ToLower(v)
	for _, p := range dangerousPatterns {
		if strings.Contains(lower, p) {
			return "", fmt.Errorf("Query contains potentially dangerous content: %s", p) //nolint:staticcheck // user-facing text
		}
	}
	return v, nil
}

func validateMessageID(id *string) error {
	if id == nil {
		return errors.New("message_id is required")
	}
	if n := utf8.RuneCountInString(*id); n < 1 || n > MaxMessageIDLen {
		return fmt.Errorf("message_id must be between 1 and %d characters", MaxMessageIDLen)
	}
	if !messageIDPattern.MatchString(*id) {
		return errors.New("Invalid message_id format") //nolint:staticcheck // user-facing text
	}
	return nil
}

// looseMessageID pulls message_id out of a frame whose other fields failed to
// decode, so the error can still be correlated.
func looseMessageID(data []byte) string {
	var probe map[string]any
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	if s, ok := probe["message_id"].(string); ok {
		return s
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
