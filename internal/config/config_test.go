package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("KANSOKU_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid KANSOKU_PORT")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !contains(got, "KANSOKU_PORT") || !contains(got, "abc") {
		t.Fatalf("error should mention KANSOKU_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("KANSOKU_PORT", "abc")
	t.Setenv("KANSOKU_SQL_AGENT_TIMEOUT", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "KANSOKU_PORT") {
		t.Fatalf("error should mention KANSOKU_PORT, got: %s", got)
	}
	if !contains(got, "KANSOKU_SQL_AGENT_TIMEOUT") {
		t.Fatalf("error should mention KANSOKU_SQL_AGENT_TIMEOUT, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.SQLAgentTimeout != 30*time.Second || cfg.ToolAgentTimeout != 60*time.Second {
		t.Fatalf("unexpected agent timeouts: %s / %s", cfg.SQLAgentTimeout, cfg.ToolAgentTimeout)
	}
	if cfg.AgentMaxRetries != 3 || cfg.AgentRetryDelay != time.Second {
		t.Fatalf("unexpected retry policy: %d / %s", cfg.AgentMaxRetries, cfg.AgentRetryDelay)
	}
	if cfg.RateLimitPerMinute != 10 || !cfg.RateLimitEnabled {
		t.Fatalf("unexpected rate limit: %d enabled=%v", cfg.RateLimitPerMinute, cfg.RateLimitEnabled)
	}
	if cfg.QueryStore != StoreMemory {
		t.Fatalf("expected memory query store, got %s", cfg.QueryStore)
	}
}

func TestLoadPostgresStoreRequiresDSN(t *testing.T) {
	t.Setenv("KANSOKU_QUERY_STORE", "postgres")
	_, err := Load()
	if err == nil || !contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got: %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/kansoku")
	if _, err := Load(); err != nil {
		t.Fatalf("expected Load() to succeed with DATABASE_URL, got: %v", err)
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("KANSOKU_QUERY_STORE", "redis")
	_, err := Load()
	if err == nil || !contains(err.Error(), "KANSOKU_QUERY_STORE") {
		t.Fatalf("expected KANSOKU_QUERY_STORE error, got: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.AgentMaxRetries = 0
	cfg.WSPingInterval = 2 * time.Minute
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected Validate() to fail")
	}
	if !contains(err.Error(), "KANSOKU_AGENT_MAX_RETRIES") || !contains(err.Error(), "KANSOKU_WS_PING_INTERVAL") {
		t.Fatalf("error should mention both variables, got: %s", err)
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " https://a.example , ,https://b.example")
	got := envList("TEST_LIST")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list: %q", got)
	}
	if envList("TEST_LIST_MISSING") != nil {
		t.Fatal("expected nil for unset list")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestValidateRejectsZeroRetryDelay(t *testing.T) {
	t.Setenv("KANSOKU_AGENT_RETRY_DELAY", "0s")
	_, err := Load()
	if err == nil || !contains(err.Error(), "KANSOKU_AGENT_RETRY_DELAY must be positive") {
		t.Fatalf("expected KANSOKU_AGENT_RETRY_DELAY error, got: %v", err)
	}
}
