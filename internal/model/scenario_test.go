package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku/internal/model"
)

func TestParseAgentKind(t *testing.T) {
	k, err := model.ParseAgentKind("sqlagent")
	require.NoError(t, err)
	assert.Equal(t, model.AgentSQL, k)
	assert.Equal(t, "sql_agent", k.CacheScope())

	_, err = model.ParseAgentKind("sql_agent")
	require.ErrorIs(t, err, model.ErrUnknownAgent)
}

func TestSuccessRatio(t *testing.T) {
	assert.Zero(t, model.SuccessRatio(nil))

	results := map[string]model.AgentResult{
		"rec-1": model.SuccessResult("a"),
		"rec-2": model.SuccessResult("b"),
		"rec-3": model.SuccessResult("c"),
		"rec-4": model.SuccessResult("d"),
		"rec-5": model.ErrorResult("boom"),
	}
	assert.InDelta(t, 0.8, model.SuccessRatio(results), 1e-9)
}

func TestAgentResultAccessors(t *testing.T) {
	ok := model.SuccessResult("rows")
	assert.True(t, ok.OK())
	assert.Equal(t, "rows", ok.Content())
	assert.Nil(t, ok.ErrorText())

	bad := model.ErrorResult("Agent returned status 404")
	assert.False(t, bad.OK())
	assert.Equal(t, "", bad.Content())
	require.NotNil(t, bad.ErrorText())
	assert.Equal(t, "Agent returned status 404", *bad.ErrorText())
}
