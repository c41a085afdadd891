package scenario

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/kansoku/internal/model"
)

// RecommendationCount is the number of sub-queries produced per run.
const RecommendationCount = 5

type templateBucket struct {
	agent     model.AgentKind
	templates []string
}

// templateTables hold per-domain question templates. Buckets are consumed in
// order until RecommendationCount questions exist.
var templateTables = map[model.Domain][]templateBucket{
	model.DomainProcessPerformance: {
		{model.AgentSQL, []string{
			"Get average temperature and pressure values for {asset} over {time_period}",
			"Show min/max temperature readings with timestamps for {asset}",
			"Calculate efficiency metrics and production rates for {time_period}",
		}},
		{model.AgentTool, []string{
			"Analyze temperature and pressure trends to identify anomalies for {asset}",
			"Generate performance report with key metrics visualization",
		}},
	},
	model.DomainTroubleshooting: {
		{model.AgentSQL, []string{
			"Retrieve historical data for {parameter} when issues occurred",
			"List all alarms and events related to {asset} in {time_period}",
			"Get correlated parameter values during incident times",
		}},
		{model.AgentTool, []string{
			"Analyze {parameter} patterns to identify root cause",
			"Check for correlations between different process variables",
		}},
	},
	model.DomainPerformanceComparison: {
		{model.AgentSQL, []string{
			"Get {parameter} data for all units to compare performance",
			"Calculate average efficiency metrics per unit for {time_period}",
			"Retrieve benchmark values and actual performance data",
		}},
		{model.AgentTool, []string{
			"Generate comparison charts for unit performance",
			"Identify best and worst performing units with reasons",
		}},
	},
}

var fallbackTemplates = []templateBucket{
	{model.AgentSQL, []string{
		"Get current values and status for relevant parameters",
		"Retrieve historical data for the specified time period",
		"Show statistical summary of key metrics",
	}},
	{model.AgentTool, []string{
		"Analyze trends and patterns in the data",
		"Generate visualization of key parameters",
	}},
}

var parameterVocabulary = map[string]bool{
	"temperature": true, "pressure": true, "flow": true, "level": true,
}

// Generate produces exactly RecommendationCount sub-queries for an analyzed
// query, with sub_ids rec-1..rec-5 in generation order.
func Generate(_ string, analysis model.AnalysisResult) []model.SubQuery {
	return generateFrom(templatesFor(analysis.Domain), analysis)
}

func generateFrom(buckets []templateBucket, analysis model.AnalysisResult) []model.SubQuery {
	out := make([]model.SubQuery, 0, RecommendationCount)
	for _, b := range buckets {
		for _, tmpl := range b.templates {
			if len(out) == RecommendationCount {
				return out
			}
			out = append(out, model.SubQuery{
				SubID:     SubID(len(out) + 1),
				AgentType: b.agent,
				QueryText: fillTemplate(tmpl, analysis),
			})
		}
	}
	for len(out) < RecommendationCount {
		out = append(out, defaultRecommendation(len(out)+1))
	}
	return out
}

// SubID formats the stable identifier of the n-th (1-indexed) sub-query.
func SubID(n int) string {
	return fmt.Sprintf("rec-%d", n)
}

func templatesFor(domain model.Domain) []templateBucket {
	if t, ok := templateTables[domain]; ok {
		return t
	}
	return fallbackTemplates
}

func fillTemplate(tmpl string, analysis model.AnalysisResult) string {
	parameter := "key parameters"
	for _, kw := range analysis.Keywords {
		if parameterVocabulary[kw] {
			parameter = kw
			break
		}
	}

	asset := "the specified asset"
	for _, kw := range analysis.Keywords {
		if strings.Contains(kw, "-") && kw == strings.ToUpper(kw) {
			asset = kw
			break
		}
	}

	period := analysis.TimePeriod
	if period == "" {
		period = model.PeriodCurrent
	}

	return strings.NewReplacer(
		"{parameter}", parameter,
		"{asset}", asset,
		"{time_period}", strings.ReplaceAll(string(period), "_", " "),
	).Replace(tmpl)
}

// defaultRecommendation pads short template tables: sql for slots 1-3,
// tool afterwards.
func defaultRecommendation(n int) model.SubQuery {
	agent := model.AgentTool
	if n <= 3 {
		agent = model.AgentSQL
	}
	return model.SubQuery{
		SubID:     SubID(n),
		AgentType: agent,
		QueryText: fmt.Sprintf("Perform additional analysis #%d for comprehensive insights", n),
	}
}
