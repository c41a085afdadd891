package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku/internal/model"
)

func TestGenerateAlwaysFiveUniqueSubIDs(t *testing.T) {
	queries := []string{
		"Analyze the performance of distillation column DC-101",
		"Why is there pressure fluctuation in tank TK-201 last week?",
		"Compare efficiency between reactors R-100 and R-200 this month",
		"Show tank levels",
		"Schedule maintenance for the cooling system",
		"hello",
		"",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			recs := Generate(q, Analyze(q))
			require.Len(t, recs, RecommendationCount)
			for i, r := range recs {
				assert.Equal(t, SubID(i+1), r.SubID)
				assert.True(t, r.AgentType.Valid())
				assert.NotEmpty(t, r.QueryText)
				assert.NotContains(t, r.QueryText, "{")
			}
		})
	}
}

func TestGenerateTroubleshootingFillsPlaceholders(t *testing.T) {
	q := "Why is there pressure fluctuation in tank TK-201 last week?"
	recs := Generate(q, Analyze(q))

	want := []model.SubQuery{
		{SubID: "rec-1", AgentType: model.AgentSQL, QueryText: "Retrieve historical data for pressure when issues occurred"},
		{SubID: "rec-2", AgentType: model.AgentSQL, QueryText: "List all alarms and events related to TK-201 in last week"},
		{SubID: "rec-3", AgentType: model.AgentSQL, QueryText: "Get correlated parameter values during incident times"},
		{SubID: "rec-4", AgentType: model.AgentTool, QueryText: "Analyze pressure patterns to identify root cause"},
		{SubID: "rec-5", AgentType: model.AgentTool, QueryText: "Check for correlations between different process variables"},
	}
	assert.Equal(t, want, recs)
}

func TestGeneratePlaceholderDefaults(t *testing.T) {
	analysis := model.AnalysisResult{Domain: model.DomainTroubleshooting}
	recs := Generate("", analysis)
	assert.Equal(t, "Retrieve historical data for key parameters when issues occurred", recs[0].QueryText)
	assert.Equal(t, "List all alarms and events related to the specified asset in current", recs[1].QueryText)
}

func TestGenerateFallbackTemplates(t *testing.T) {
	recs := Generate("hello", Analyze("hello"))
	assert.Equal(t, "Get current values and status for relevant parameters", recs[0].QueryText)
	assert.Equal(t, model.AgentTool, recs[4].AgentType)
}

func TestGeneratePadsShortTables(t *testing.T) {
	short := []templateBucket{{model.AgentTool, []string{"only one"}}}
	recs := generateFrom(short, model.AnalysisResult{})
	require.Len(t, recs, RecommendationCount)
	assert.Equal(t, "only one", recs[0].QueryText)
	assert.Equal(t, model.AgentSQL, recs[1].AgentType)
	assert.Equal(t, model.AgentSQL, recs[2].AgentType)
	assert.Equal(t, model.AgentTool, recs[3].AgentType)
	assert.Equal(t, "Perform additional analysis #5 for comprehensive insights", recs[4].QueryText)
}
