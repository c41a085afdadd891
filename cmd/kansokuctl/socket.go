package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/kansoku/internal/model"
)

const handshakeTimeout = 10 * time.Second

type socketFlags struct {
	url       string
	token     string
	sessionID string
	timeout   time.Duration
}

func (f *socketFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "ws://localhost:8080/ws/scenario", "Scenario socket URL")
	cmd.Flags().StringVar(&f.token, "token", "", "Access token")
	cmd.Flags().StringVar(&f.sessionID, "session", "", "Session UUID (generated if empty)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Minute, "Give up after this long")
	_ = cmd.MarkFlagRequired("token")
}

func newQueryCmd() *cobra.Command {
	var f socketFlags
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a scenario analysis and print every message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()
			conn, err := dialScenario(ctx, f)
			if err != nil {
				return err
			}
			defer conn.Close()
			watchContext(ctx, conn)

			msg := map[string]string{
				"type":       model.TypeQuery,
				"query":      strings.Join(args, " "),
				"message_id": "cli-" + uuid.NewString(),
			}
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("send query: %w", err)
			}
			return collectRun(conn, cmd.OutOrStdout())
		},
	}
	f.register(cmd)
	return cmd
}

func newRetryCmd() *cobra.Command {
	var (
		f         socketFlags
		messageID string
		subID     string
		agentType string
	)
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry one sub-query of an earlier run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := model.ParseAgentKind(agentType); err != nil {
				return fmt.Errorf("--agent must be sqlagent or toolagent")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()
			conn, err := dialScenario(ctx, f)
			if err != nil {
				return err
			}
			defer conn.Close()
			watchContext(ctx, conn)

			msg := map[string]string{
				"type":       model.TypeRetry,
				"message_id": messageID,
				"sub_id":     subID,
				"agent_type": agentType,
			}
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("send retry: %w", err)
			}
			return collectRetry(conn, cmd.OutOrStdout())
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&messageID, "message-id", "", "message_id of the original recommendation")
	cmd.Flags().StringVar(&subID, "sub-id", "", "Sub-query to retry, e.g. rec-3")
	cmd.Flags().StringVar(&agentType, "agent", string(model.AgentSQL), "Agent to retry with: sqlagent or toolagent")
	_ = cmd.MarkFlagRequired("message-id")
	_ = cmd.MarkFlagRequired("sub-id")
	return cmd
}

func newHealthCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print one heartbeat from the health socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), handshakeTimeout)
			defer cancel()
			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
			if err != nil {
				return dialError(err, resp)
			}
			defer conn.Close()
			_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

			var beat model.HealthBeat
			if err := conn.ReadJSON(&beat); err != nil {
				return fmt.Errorf("read heartbeat: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), beat)
		},
	}
	cmd.Flags().StringVar(&target, "url", "ws://localhost:8080/ws/health", "Health socket URL")
	return cmd
}

func dialScenario(ctx context.Context, f socketFlags) (*websocket.Conn, error) {
	sessionID := f.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, fmt.Errorf("--url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("token", f.token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, dialError(err, resp)
	}
	return conn, nil
}

func dialError(err error, resp *http.Response) error {
	if resp != nil {
		return fmt.Errorf("dial: %w (HTTP %d)", err, resp.StatusCode)
	}
	return fmt.Errorf("dial: %w", err)
}

// watchContext closes conn once ctx is done so blocked reads return.
func watchContext(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
}

// envelope holds the fields needed to track progress of a run.
type envelope struct {
	Type            string                 `json:"type"`
	SubID           *string                `json:"sub_id"`
	Error           *string                `json:"error"`
	Recommendations []model.Recommendation `json:"recommendations"`
}

// frameReader is the read half of *websocket.Conn.
type frameReader interface {
	ReadMessage() (int, []byte, error)
}

// collectRun prints messages until every recommended sub_id has a result, or
// an error message ends the run.
func collectRun(conn frameReader, out io.Writer) error {
	var pending map[string]bool
	for {
		env, raw, err := next(conn)
		if err != nil {
			return err
		}
		if err := printRaw(out, raw); err != nil {
			return err
		}
		switch env.Type {
		case model.TypeRecommendation:
			pending = make(map[string]bool, len(env.Recommendations))
			for _, r := range env.Recommendations {
				pending[r.SubID] = true
			}
		case model.TypeResult:
			if env.SubID != nil {
				delete(pending, *env.SubID)
			}
			if pending != nil && len(pending) == 0 {
				return nil
			}
		case model.TypeError:
			return serverError(env)
		}
	}
}

// collectRetry prints the single result of a retry.
func collectRetry(conn frameReader, out io.Writer) error {
	for {
		env, raw, err := next(conn)
		if err != nil {
			return err
		}
		if err := printRaw(out, raw); err != nil {
			return err
		}
		switch env.Type {
		case model.TypeResult:
			return nil
		case model.TypeError:
			return serverError(env)
		}
	}
}

func next(conn frameReader) (envelope, []byte, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return envelope{}, nil, fmt.Errorf("server closed the connection: %d %s", ce.Code, ce.Text)
		}
		return envelope{}, nil, fmt.Errorf("read: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, nil, fmt.Errorf("decode server message: %w", err)
	}
	return env, raw, nil
}

func serverError(env envelope) error {
	if env.Error == nil {
		return errors.New("server error")
	}
	return fmt.Errorf("server error: %s", *env.Error)
}

func printRaw(out io.Writer, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return printJSON(out, v)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
