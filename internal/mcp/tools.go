package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kansoku/internal/ctxutil"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/scenario"
)

func (s *Server) registerTools() {
	// scenario_analyze: classify a query and preview its sub-queries.
	s.mcpServer.AddTool(
		mcplib.NewTool("scenario_analyze",
			mcplib.WithDescription(`Classify an operations question and preview the five sub-queries a scenario run would dispatch.

WHEN TO USE: Before scenario_run, to check how a question is understood
(domain, analysis type, assets, time period) without calling any agent.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("The question to analyze, 1-1000 characters"),
				mcplib.Required(),
			),
		),
		s.handleAnalyze,
	)

	// scenario_run: full orchestrated run.
	s.mcpServer.AddTool(
		mcplib.NewTool("scenario_run",
			mcplib.WithDescription(`Run a scenario analysis end to end.

The question is split into five sub-queries that are answered in parallel by
the SQL agent and the tool agent. Returns the recommendation message followed
by one result per sub-query, in completion order. A failed sub-query carries
an error field and can be retried with scenario_retry.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("query",
				mcplib.Description("The question to analyze, 1-1000 characters"),
				mcplib.Required(),
			),
			mcplib.WithString("session_id",
				mcplib.Description("Optional session UUID forwarded to the agents. A fresh one is generated if omitted."),
			),
		),
		s.handleRun,
	)

	// scenario_retry: re-dispatch one sub-query of an earlier run.
	s.mcpServer.AddTool(
		mcplib.NewTool("scenario_retry",
			mcplib.WithDescription(`Retry a single sub-query from an earlier scenario_run.

Use the message_id and sub_id from the run's output. agent_type selects which
agent answers the retry.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("message_id",
				mcplib.Description("message_id of the original run"),
				mcplib.Required(),
			),
			mcplib.WithString("sub_id",
				mcplib.Description("Sub-query to retry, rec-1 through rec-5"),
				mcplib.Required(),
			),
			mcplib.WithString("agent_type",
				mcplib.Description("Agent to send the retry to"),
				mcplib.Required(),
				mcplib.Enum(string(model.AgentSQL), string(model.AgentTool)),
			),
			mcplib.WithString("session_id",
				mcplib.Description("Optional session UUID forwarded to the agent"),
			),
		),
		s.handleRetry,
	)
}

type analyzeResponse struct {
	Analysis        model.AnalysisResult   `json:"analysis"`
	Recommendations []model.Recommendation `json:"recommendations"`
}

type runResponse struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
	Messages  []any  `json:"messages"`
}

func (s *Server) handleAnalyze(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query, err := model.ValidateQuery(request.GetString("query", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	analysis, recs := scenario.Plan(query)
	return jsonResult(analyzeResponse{
		Analysis:        analysis,
		Recommendations: scenario.FormatRecommendation("", "", query, recs).Recommendations,
	})
}

func (s *Server) handleRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query, err := model.ValidateQuery(request.GetString("query", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	sessionID, err := sessionIDArg(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	userID := callerID(ctx)
	s.logger.Info("mcp: scenario run", "user_id", userID, "session_id", sessionID)

	out := &collector{}
	messageID, err := s.runner.ProcessScenario(ctx, query, sessionID, out, userID)
	if err != nil {
		return errorResult(fmt.Sprintf("scenario run failed: %v", err)), nil
	}
	return jsonResult(runResponse{MessageID: messageID, SessionID: sessionID, Messages: out.messages()})
}

func (s *Server) handleRetry(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	messageID := request.GetString("message_id", "")
	subID := request.GetString("sub_id", "")
	if messageID == "" || subID == "" {
		return errorResult("message_id and sub_id are required"), nil
	}
	kind, err := model.ParseAgentKind(request.GetString("agent_type", ""))
	if err != nil {
		return errorResult("agent_type must be 'sqlagent' or 'toolagent'"), nil
	}
	sessionID, err := sessionIDArg(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	userID := callerID(ctx)
	s.logger.Info("mcp: scenario retry", "user_id", userID, "message_id", messageID, "sub_id", subID)

	out := &collector{}
	if err := s.runner.RetrySingle(ctx, messageID, subID, kind, sessionID, out, userID); err != nil {
		return errorResult(fmt.Sprintf("retry failed: %v", err)), nil
	}
	msgs := out.messages()
	if len(msgs) != 1 {
		return errorResult(fmt.Sprintf("retry produced %d messages", len(msgs))), nil
	}
	return jsonResult(msgs[0])
}

func sessionIDArg(request mcplib.CallToolRequest) (string, error) {
	raw := request.GetString("session_id", "")
	if raw == "" {
		return uuid.NewString(), nil
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", errors.New(model.MsgInvalidSessionID)
	}
	return raw, nil
}

// callerID returns the authenticated subject, or "" when the transport
// did not attach claims.
func callerID(ctx context.Context) string {
	if claims := ctxutil.ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
