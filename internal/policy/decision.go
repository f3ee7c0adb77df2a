package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// Verdict normalization constants.
const (
	defaultReason     = "No reason provided."
	publicSentinel    = "Public"
	unrecognizedToken = "Unrecognized"
)

// Input builds the query input for a snapshot of kind:
// {"resource_type": "s3"|"kms", "bucket_config"|"kms_config": snapshot}.
func Input(kind models.ResourceKind, snapshot any) map[string]any {
	return map[string]any{
		"resource_type":          kind.PolicyInputType(),
		kind.PolicyConfigField(): snapshot,
	}
}

// ParseResult interprets the value of a decision document's "result" field.
//
// An absent, null, empty object or empty list result means compliant. An
// object is the verdict itself; for a list the first element is used. A
// risk level containing "Unrecognized" is escalated to Critical. When
// allowSuppress is set a "Public" risk level suppresses the finding.
func ParseResult(raw json.RawMessage, allowSuppress bool) (models.Decision, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.Decision{Outcome: models.DecisionCompliant}, nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return models.Decision{}, fmt.Errorf("%w: decode result: %v", ErrEvaluation, err)
	}

	var details any
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 {
			return models.Decision{Outcome: models.DecisionCompliant}, nil
		}
		details = v
	case []any:
		if len(v) == 0 {
			return models.Decision{Outcome: models.DecisionCompliant}, nil
		}
		details = v[0]
	case bool:
		// A boolean rule: true means deny.
		if !v {
			return models.Decision{Outcome: models.DecisionCompliant}, nil
		}
		details = map[string]any{}
	default:
		return models.Decision{}, fmt.Errorf("%w: unexpected result type %T", ErrEvaluation, value)
	}

	verdict := normalizeVerdict(details)
	if allowSuppress && verdict.RiskLevel == publicSentinel {
		return models.Decision{Outcome: models.DecisionSuppressed}, nil
	}
	return models.Decision{Outcome: models.DecisionNonCompliant, Verdict: &verdict}, nil
}

// normalizeVerdict applies the risk and reason defaults. A bare string
// element, as produced by a "deny[msg]" rule, is taken as the reason.
func normalizeVerdict(details any) models.PolicyVerdict {
	v := models.PolicyVerdict{RiskLevel: models.RiskHigh, Reason: defaultReason}
	switch d := details.(type) {
	case map[string]any:
		if s, ok := d["risk_level"].(string); ok && s != "" {
			v.RiskLevel = s
		}
		if s, ok := d["reason"].(string); ok && s != "" {
			v.Reason = s
		}
	case string:
		if d != "" {
			v.Reason = d
		}
	}
	if strings.Contains(v.RiskLevel, unrecognizedToken) {
		v.RiskLevel = models.RiskCritical
	}
	return v
}
