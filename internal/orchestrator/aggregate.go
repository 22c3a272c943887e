// File: internal/orchestrator/aggregate.go
package orchestrator

import (
	"sort"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
)

// Aggregate derives the consolidated report from a coordinator result:
// findings are ordered by severity descending then category ascending,
// cross-referenced insights are deduplicated by exact match, and the overall
// risk score is clamped into [0,100] and bucketed into its band. Risks,
// action items and sub-agent summaries pass through unchanged.
func Aggregate(runID string, co schemas.CoordinatorResult) schemas.AggregatedResult {
	score := clampScore(co.OverallRiskScore)
	band := schemas.BandForScore(score)

	recommendation := co.Recommendation
	if recommendation == "" {
		recommendation = recommendationFor(band)
	}

	return schemas.AggregatedResult{
		RunID:                   runID,
		OverallRiskScore:        score,
		RiskBand:                band,
		Recommendation:          recommendation,
		ExecutiveSummary:        co.ExecutiveSummary,
		KeyFindings:             sortFindings(co.KeyFindings),
		CrossReferencedInsights: dedupe(co.CrossReferencedInsights),
		PrioritizedRisks:        orEmpty(co.PrioritizedRisks),
		ActionItems:             orEmpty(co.ActionItems),
		SubAgentSummaries:       orEmpty(co.SubAgentSummaries),
	}
}

// emptyAggregated is the renderable empty state for a failed coordinator
// call. Every collection is present but empty so callers never branch on
// nil.
func emptyAggregated(runID string, errMsg string) schemas.AggregatedResult {
	return schemas.AggregatedResult{
		RunID:                   runID,
		RiskBand:                schemas.RiskLow,
		KeyFindings:             []schemas.KeyFinding{},
		CrossReferencedInsights: []string{},
		PrioritizedRisks:        []schemas.PrioritizedRisk{},
		ActionItems:             []string{},
		SubAgentSummaries:       []schemas.SubAgentSummary{},
		Error:                   errMsg,
	}
}

// sortFindings orders by severity descending, then category ascending. The
// sort is stable so findings sharing severity and category keep the
// coordinator's original order.
func sortFindings(in []schemas.KeyFinding) []schemas.KeyFinding {
	out := make([]schemas.KeyFinding, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// dedupe removes exact duplicates, keeping first occurrence order.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func recommendationFor(band schemas.RiskBand) string {
	switch band {
	case schemas.RiskHigh:
		return schemas.RecommendDoNot
	case schemas.RiskCaution:
		return schemas.RecommendWithCaution
	}
	return schemas.RecommendProceed
}

func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
