package scenario

import "github.com/ashita-ai/kansoku/internal/model"

// FormatRecommendation builds the announcement of a run's sub-queries.
func FormatRecommendation(sessionID, messageID, query string, recs []model.SubQuery) model.ScenarioRecommendation {
	out := make([]model.Recommendation, 0, len(recs))
	for _, r := range recs {
		out = append(out, model.Recommendation{SubID: r.SubID, Question: r.QueryText, Endpoint: r.AgentType})
	}
	return model.ScenarioRecommendation{
		SessionID:       sessionID,
		MessageID:       messageID,
		Type:            model.TypeRecommendation,
		Query:           query,
		Recommendations: out,
	}
}

// FormatResult builds the terminal message for one sub-query.
func FormatResult(sessionID, messageID, subID, agent, content string, isComplete bool, errText *string) model.ScenarioResult {
	return model.ScenarioResult{
		SessionID:  sessionID,
		MessageID:  messageID,
		SubID:      subID,
		Type:       model.TypeResult,
		Agent:      agent,
		Content:    content,
		IsComplete: isComplete,
		Error:      errText,
	}
}

// formatAgentResult maps an AgentResult onto a completed ScenarioResult.
func formatAgentResult(sessionID, messageID, subID, agent string, r model.AgentResult) model.ScenarioResult {
	return FormatResult(sessionID, messageID, subID, agent, r.Content(), true, r.ErrorText())
}
