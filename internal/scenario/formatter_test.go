package scenario

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku/internal/model"
)

func TestFormatRecommendationWireShape(t *testing.T) {
	recs := []model.SubQuery{
		{SubID: "rec-1", AgentType: model.AgentSQL, QueryText: "q1"},
		{SubID: "rec-2", AgentType: model.AgentTool, QueryText: "q2"},
	}
	msg := FormatRecommendation("sess", "scenario-1", "original", recs)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "scenario_recommendation", got["type"])
	assert.Contains(t, got, "sub_id")
	assert.Nil(t, got["sub_id"])
	assert.Equal(t, "original", got["query"])

	list := got["recommendations"].([]any)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, "rec-1", first["sub_id"])
	assert.Equal(t, "q1", first["question"])
	assert.Equal(t, "sqlagent", first["endpoint"])
}

func TestFormatAgentResult(t *testing.T) {
	ok := formatAgentResult("s", "m", "rec-1", "sqlagent", model.SuccessResult("42"))
	assert.Equal(t, model.TypeResult, ok.Type)
	assert.Equal(t, "42", ok.Content)
	assert.True(t, ok.IsComplete)
	assert.Nil(t, ok.Error)

	failed := formatAgentResult("s", "m", "rec-2", "toolagent", model.ErrorResult("Request timed out"))
	assert.Empty(t, failed.Content)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "Request timed out", *failed.Error)

	raw, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"error":null`)
}
