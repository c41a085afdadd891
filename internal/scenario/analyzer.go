package scenario

import (
	"regexp"
	"strings"

	"github.com/ashita-ai/kansoku/internal/model"
)

type domainKeywords struct {
	domain   model.Domain
	keywords []string
}

// domainTable is checked in order after performance_comparison.
var domainTable = []domainKeywords{
	{model.DomainProcessPerformance, []string{"performance", "efficiency", "output", "yield"}},
	{model.DomainOperations, []string{"operations", "parameters", "critical", "operating"}},
	{model.DomainTroubleshooting, []string{"investigate", "root cause", "problem", "issue", "fluctuation"}},
	{model.DomainMaintenance, []string{"maintenance", "repair", "failure", "breakdown"}},
}

var comparisonKeywords = []string{"compare", "comparison", "across", "between"}

var processKeywords = []string{
	"distillation", "tank", "reactor", "pump", "column",
	"pressure", "temperature", "flow", "level", "efficiency",
	"production", "cooling", "heating", "process",
}

type periodPattern struct {
	period model.TimePeriod
	re     *regexp.Regexp
}

var periodPatterns = []periodPattern{
	{model.PeriodToday, regexp.MustCompile(`\btoday\b`)},
	{model.PeriodYesterday, regexp.MustCompile(`\byesterday\b`)},
	{model.PeriodThisWeek, regexp.MustCompile(`\bthis week\b`)},
	{model.PeriodLastWeek, regexp.MustCompile(`\blast week\b`)},
	{model.PeriodThisMonth, regexp.MustCompile(`\bthis month\b`)},
	{model.PeriodLastMonth, regexp.MustCompile(`\blast month\b`)},
	{model.PeriodLastTwoWeeks, regexp.MustCompile(`\blast two weeks\b`)},
}

var (
	// assetPattern runs on the caller's original casing.
	assetPattern = regexp.MustCompile(`\b([A-Z]{1,3}-\d{3,})\b`)
	// keywordAssetPattern runs on the upper-cased query when collecting keywords.
	keywordAssetPattern = regexp.MustCompile(`\b[A-Z]{2,}-\d{3,}\b`)
)

// Analyze classifies a free-text query. It never fails: unmatched fields
// default to general / general_analysis / current.
func Analyze(query string) model.AnalysisResult {
	lower := strings.ToLower(query)
	return model.AnalysisResult{
		Keywords:     extractKeywords(lower),
		Domain:       classifyDomain(lower),
		AnalysisType: classifyAnalysisType(lower),
		Assets:       extractAssets(query),
		TimePeriod:   extractTimePeriod(lower),
	}
}

func extractKeywords(lower string) []string {
	keywords := make([]string, 0, 4)
	for _, kw := range processKeywords {
		if strings.Contains(lower, kw) {
			keywords = append(keywords, kw)
		}
	}
	return append(keywords, keywordAssetPattern.FindAllString(strings.ToUpper(lower), -1)...)
}

func classifyDomain(lower string) model.Domain {
	// Comparison language outranks the generic domains.
	if containsAny(lower, comparisonKeywords) {
		return model.DomainPerformanceComparison
	}
	for _, d := range domainTable {
		if containsAny(lower, d.keywords) {
			return d.domain
		}
	}
	switch {
	case strings.Contains(lower, "tank"):
		return model.DomainOperations
	case containsAny(lower, []string{"analyze", "analysis"}):
		return model.DomainProcessPerformance
	}
	return model.DomainGeneral
}

func classifyAnalysisType(lower string) model.AnalysisType {
	switch {
	case strings.Contains(lower, "root cause"):
		return model.AnalysisRootCause
	case strings.Contains(lower, "compare"), strings.Contains(lower, "comparison"):
		return model.AnalysisComparison
	case strings.Contains(lower, "trend"):
		return model.AnalysisTrend
	case strings.Contains(lower, "optimize"), strings.Contains(lower, "optimal"):
		return model.AnalysisOptimize
	}
	return model.AnalysisGeneral
}

func extractAssets(query string) []string {
	matches := assetPattern.FindAllStringSubmatch(query, -1)
	assets := make([]string, 0, len(matches))
	for _, m := range matches {
		assets = append(assets, m[1])
	}
	return assets
}

func extractTimePeriod(lower string) model.TimePeriod {
	for _, p := range periodPatterns {
		if p.re.MatchString(lower) {
			return p.period
		}
	}
	switch {
	case strings.Contains(lower, "two weeks"):
		return model.PeriodLastTwoWeeks
	case strings.Contains(lower, "month"):
		return model.PeriodLastMonth
	case strings.Contains(lower, "week"):
		return model.PeriodThisWeek
	}
	return model.PeriodCurrent
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
