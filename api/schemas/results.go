package schemas

// -- Result Schemas --

// Severity is the closed, ordered risk level of a finding. The uppercase wire
// values match what the remote agents emit.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Rank maps a severity onto a sortable weight, highest first. Unknown values
// rank below LOW so malformed data never floats to the top of a report.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Valid reports whether the severity is one of the three closed enum values.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Citation references a source document backing a finding or an answer.
// Source is the document identifier used for cross-referencing in the audit
// trail and is the only mandatory field.
type Citation struct {
	Source    string `json:"source"`
	Page      int    `json:"page,omitempty"`
	Paragraph string `json:"paragraph,omitempty"`
}

// KeyFinding is a single categorized observation reported by an agent.
type KeyFinding struct {
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Finding     string   `json:"finding"`
	SourceAgent string   `json:"source_agent"`
}

// PrioritizedRisk pairs a risk with its assessed impact, likelihood and a
// suggested mitigation.
type PrioritizedRisk struct {
	Risk       string   `json:"risk"`
	Impact     Severity `json:"impact"`
	Likelihood Severity `json:"likelihood"`
	Mitigation string   `json:"mitigation"`
}

// SubAgentSummary is the coordinator's one-paragraph digest of a specialist
// agent's contribution.
type SubAgentSummary struct {
	AgentName string `json:"agent_name"`
	Status    string `json:"status"`
	Summary   string `json:"summary"`
}

// DocumentQAResult is the payload shape of the document Q&A agent.
// ConfidenceScore is an integer percentage in [0,100]; anything else is a
// contract violation by the remote agent and is rejected at normalization.
type DocumentQAResult struct {
	Answer          string     `json:"answer"`
	Citations       []Citation `json:"citations"`
	ConfidenceScore int        `json:"confidence_score"`
	RelatedTopics   []string   `json:"related_topics,omitempty"`
}

// AnalystResult is the shared payload shape of the specialized analysis
// agents (liquidity risk, operational efficiency, sustainability, external
// auditor lens).
type AnalystResult struct {
	Summary         string   `json:"summary"`
	RiskScore       int      `json:"risk_score"`
	KeyFindings     []string `json:"key_findings"`
	ConfidenceScore int      `json:"confidence_score"`
}

// CoordinatorResult is the payload shape of the diligence coordinator agent.
type CoordinatorResult struct {
	OverallRiskScore        int               `json:"overall_risk_score"`
	Recommendation          string            `json:"recommendation"`
	ExecutiveSummary        string            `json:"executive_summary"`
	KeyFindings             []KeyFinding      `json:"key_findings"`
	CrossReferencedInsights []string          `json:"cross_referenced_insights"`
	PrioritizedRisks        []PrioritizedRisk `json:"prioritized_risks"`
	ActionItems             []string          `json:"action_items"`
	SubAgentSummaries       []SubAgentSummary `json:"sub_agent_summaries"`
}

// StructuredResult is the tagged union over the per-kind payload shapes.
// Exactly one variant pointer is non-nil, selected by Kind. Transport and
// presentation layers treat it as opaque; only the normalizer constructs it.
type StructuredResult struct {
	Kind        AgentKind          `json:"kind"`
	DocumentQA  *DocumentQAResult  `json:"document_qa,omitempty"`
	Analyst     *AnalystResult     `json:"analyst,omitempty"`
	Coordinator *CoordinatorResult `json:"coordinator,omitempty"`
}

// RiskBand buckets an overall risk score into the three-band label used for
// the recommendation badge.
type RiskBand string

const (
	RiskLow     RiskBand = "low"     // score < 40
	RiskCaution RiskBand = "caution" // 40 <= score < 70
	RiskHigh    RiskBand = "high"    // score >= 70
)

// BandForScore maps a clamped risk score onto its band.
func BandForScore(score int) RiskBand {
	switch {
	case score >= 70:
		return RiskHigh
	case score >= 40:
		return RiskCaution
	}
	return RiskLow
}

// Recommendation values derived from the risk band when the coordinator does
// not state one explicitly.
const (
	RecommendProceed     = "PROCEED"
	RecommendWithCaution = "PROCEED_WITH_CAUTION"
	RecommendDoNot       = "DO_NOT_PROCEED"
)

// AggregatedResult is the consolidated report derived from a coordinated
// analysis. On failure Error carries the renderable message and every list
// field is present but empty, so callers render an empty state without
// special-casing nil.
type AggregatedResult struct {
	RunID                   string            `json:"run_id"`
	OverallRiskScore        int               `json:"overall_risk_score"`
	RiskBand                RiskBand          `json:"risk_band"`
	Recommendation          string            `json:"recommendation"`
	ExecutiveSummary        string            `json:"executive_summary"`
	KeyFindings             []KeyFinding      `json:"key_findings"`
	CrossReferencedInsights []string          `json:"cross_referenced_insights"`
	PrioritizedRisks        []PrioritizedRisk `json:"prioritized_risks"`
	ActionItems             []string          `json:"action_items"`
	SubAgentSummaries       []SubAgentSummary `json:"sub_agent_summaries"`
	Error                   string            `json:"error,omitempty"`
}
