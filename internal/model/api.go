package model

import "time"

// APIResponse is the standard envelope for successful HTTP responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard envelope for HTTP error responses.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// CacheStats describes one result cache.
type CacheStats struct {
	Size       int     `json:"size"`
	MaxSize    int     `json:"max_size"`
	TotalHits  int64   `json:"total_hits"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string                `json:"status"`
	Version    string                `json:"version"`
	Uptime     int64                 `json:"uptime_seconds"`
	QueryStore string                `json:"query_store,omitempty"`
	Caches     map[string]CacheStats `json:"caches,omitempty"`
}
