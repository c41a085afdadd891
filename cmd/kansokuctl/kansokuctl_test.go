package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku/internal/auth"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/scenario"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenkeyAndToken(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "genkey", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "jwt_private.pem"))

	_, err = execute(t, "genkey", "--dir", dir)
	require.Error(t, err, "existing keys must not be overwritten")

	userID := uuid.New()
	out, err = execute(t, "token",
		"--key", filepath.Join(dir, "jwt_private.pem"),
		"--user", userID.String(),
		"--email", "ops@example.com",
		"--ttl", "5m",
	)
	require.NoError(t, err)

	mgr, err := auth.NewJWTManager(filepath.Join(dir, "jwt_private.pem"), filepath.Join(dir, "jwt_public.pem"), time.Minute, time.Hour)
	require.NoError(t, err)
	claims, err := mgr.ValidateToken(strings.TrimSpace(out), auth.TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, "ops@example.com", claims.Email)
}

func TestTokenRejectsBadFlags(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "genkey", "--dir", dir)
	require.NoError(t, err)
	key := filepath.Join(dir, "jwt_private.pem")

	tests := []struct {
		name string
		args []string
	}{
		{"missing user", []string{"token", "--key", key}},
		{"bad user", []string{"token", "--key", key, "--user", "nope"}},
		{"bad org", []string{"token", "--key", key, "--user", uuid.NewString(), "--org", "nope"}},
		{"bad type", []string{"token", "--key", key, "--user", uuid.NewString(), "--type", "admin"}},
		{"missing key", []string{"token", "--key", filepath.Join(dir, "absent.pem"), "--user", uuid.NewString()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

// scripted replays canned frames, then a close error.
type scripted struct {
	frames [][]byte
}

func (s *scripted) ReadMessage() (int, []byte, error) {
	if len(s.frames) == 0 {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseGoingAway, Text: "bye"}
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return websocket.TextMessage, f, nil
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCollectRun(t *testing.T) {
	_, recs := scenario.Plan("Analyze distillation column DC-101 efficiency")
	require.Len(t, recs, 5)

	frames := [][]byte{frame(t, scenario.FormatRecommendation("s", "scenario-1", "q", recs))}
	for i := len(recs) - 1; i >= 0; i-- {
		frames = append(frames, frame(t, scenario.FormatResult("s", "scenario-1", recs[i].SubID, string(recs[i].AgentType), "ok", true, nil)))
	}
	// Anything after the last result must not be read.
	frames = append(frames, []byte("not json"))
	conn := &scripted{frames: frames}

	var out bytes.Buffer
	require.NoError(t, collectRun(conn, &out))
	assert.Len(t, conn.frames, 1)
	assert.Equal(t, 6, strings.Count(out.String(), `"session_id"`))
}

func TestCollectRun_ServerError(t *testing.T) {
	conn := &scripted{frames: [][]byte{frame(t, model.NewErrorMessage(model.MsgRateLimited, "cli-1"))}}
	err := collectRun(conn, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), model.MsgRateLimited)
}

func TestCollectRun_ClosedEarly(t *testing.T) {
	err := collectRun(&scripted{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1001")
}

func TestCollectRetry(t *testing.T) {
	errText := "Request timed out"
	conn := &scripted{frames: [][]byte{
		frame(t, scenario.FormatResult("s", "scenario-1", "rec-2", "sqlagent", "", true, &errText)),
	}}
	var out bytes.Buffer
	require.NoError(t, collectRetry(conn, &out))
	assert.Contains(t, out.String(), errText)
}

func TestRetryRejectsUnknownAgent(t *testing.T) {
	_, err := execute(t, "retry", "--token", "t", "--message-id", "m", "--sub-id", "rec-1", "--agent", "llm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--agent")
}
