package triage

import "slices"

// ITIL is the ITIL classification assigned by an analysis.
type ITIL string

const (
	ITILIncident ITIL = "Incident"
	ITILProblem  ITIL = "Problem"
	ITILChange   ITIL = "Change"
	ITILRequest  ITIL = "Request"
	ITILSecurity ITIL = "Security"
)

// ITILClasses lists every classification in display order.
var ITILClasses = []ITIL{ITILIncident, ITILProblem, ITILChange, ITILRequest, ITILSecurity}

// Valid reports whether c is one of the five classifications.
func (c ITIL) Valid() bool { return slices.Contains(ITILClasses, c) }

// Origin records which path produced an analysis.
type Origin string

const (
	// OriginLive is a validated response from the generative AI service
	OriginLive Origin = "live"
	// OriginMock is the canned payload served when no credential is configured
	OriginMock Origin = "mock"
	// OriginFallback is the deterministic result of any failure
	OriginFallback Origin = "fallback"
)

// Analysis is the triage result for one signal. It is created fresh per
// selection and never cached.
type Analysis struct {
	Summary             string   `json:"summary"`
	RootCauseHypothesis string   `json:"root_cause_hypothesis"`
	RecommendedActions  []string `json:"recommended_actions"`
	ITILClassification  ITIL     `json:"itil_classification"`
	ConfidenceScore     float64  `json:"confidence_score"`
	Origin              Origin   `json:"origin"`
}

// Clone returns a copy that shares no slices with a.
func (a *Analysis) Clone() Analysis {
	cp := *a
	cp.RecommendedActions = slices.Clone(a.RecommendedActions)
	return cp
}

// Fallback text, exactly as shown to operators when analysis fails.
const (
	FallbackSummary   = "AI Analysis currently unavailable. Please review manually."
	FallbackRootCause = "Unknown"
)

// FallbackActions are the two recommended actions of the fallback analysis.
var FallbackActions = []string{"Review raw logs", "Escalate to Tier 2 if needed"}

// Fallback returns the analysis every failure resolves to.
func Fallback() Analysis {
	return Analysis{
		Summary:             FallbackSummary,
		RootCauseHypothesis: FallbackRootCause,
		RecommendedActions:  slices.Clone(FallbackActions),
		ITILClassification:  ITILIncident,
		ConfidenceScore:     0,
		Origin:              OriginFallback,
	}
}

// MockAnalysis returns the sample payload served on the no-credential path.
func MockAnalysis() Analysis {
	return Analysis{
		Summary:             "High CPU utilization on production database server indicating potential resource exhaustion or runaway query.",
		RootCauseHypothesis: "Likely caused by unoptimized query introduced in recent deployment or backup process stuck in loop.",
		RecommendedActions: []string{
			"Check active queries on DB-PROD-01 using pg_stat_activity or equivalent.",
			"Verify if any backup jobs are currently running outside maintenance window.",
			"Scale up read replicas if load is read-heavy (Auto-remediation available).",
		},
		ITILClassification: ITILIncident,
		ConfidenceScore:    0.92,
		Origin:             OriginMock,
	}
}
