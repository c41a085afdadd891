package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// scenario-analysis: walks an agent through analyze, run, retry.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("scenario-analysis",
			mcplib.WithPromptDescription("Investigate an operations question with a scenario analysis run"),
			mcplib.WithArgument("question",
				mcplib.ArgumentDescription("The operations question to investigate (e.g., why did DC-101 efficiency drop last week)"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleScenarioAnalysisPrompt,
	)
}

func (s *Server) handleScenarioAnalysisPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	question := request.Params.Arguments["question"]
	if question == "" {
		return nil, fmt.Errorf("question argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: "Scenario analysis workflow",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Investigate this question: %q

1. CALL scenario_analyze with the question. Check the detected domain,
   assets and time period. If an asset or period is missing, rephrase the
   question to include it before running.

2. CALL scenario_run with the final question. The response lists five
   sub-queries (rec-1 to rec-5) and one result for each.

3. For every result whose error field is set, CALL scenario_retry with the
   run's message_id, the sub_id, and agent_type sqlagent for data questions
   or toolagent for analysis questions.

4. SUMMARIZE the answers by sub-query. Say which sub-queries still failed.`, question),
				},
			},
		},
	}, nil
}
