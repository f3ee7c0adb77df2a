package models

// Risk levels returned by the policy decision service.
const (
	RiskCritical      = "Critical"
	RiskHigh          = "High"
	RiskMedium        = "Medium"
	RiskLow           = "Low"
	RiskInformational = "Informational"
)

// PolicyVerdict is a non-compliant decision from the policy service.
type PolicyVerdict struct {
	RiskLevel string `json:"risk_level"`
	Reason    string `json:"reason"`
}

// DecisionOutcome classifies a policy decision.
type DecisionOutcome int

const (
	// DecisionCompliant means the policy returned no verdict.
	DecisionCompliant DecisionOutcome = iota
	// DecisionNonCompliant means Verdict is populated.
	DecisionNonCompliant
	// DecisionSuppressed means the policy asked for the resource not to be
	// reported. No finding is emitted, as with DecisionCompliant.
	DecisionSuppressed
)

func (o DecisionOutcome) String() string {
	switch o {
	case DecisionNonCompliant:
		return "non_compliant"
	case DecisionSuppressed:
		return "suppressed"
	default:
		return "compliant"
	}
}

// Decision is the parsed result of one policy evaluation.
type Decision struct {
	Outcome DecisionOutcome `json:"outcome"`
	Verdict *PolicyVerdict  `json:"verdict,omitempty"`
}

// Reportable reports whether the decision should produce a finding.
func (d Decision) Reportable() bool {
	return d.Outcome == DecisionNonCompliant && d.Verdict != nil
}
