package findings

import (
	"strings"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// NormalizeSeverity maps a policy risk level to the finding severity label
// and its normalized 0-100 score. Unknown and empty risk levels map to HIGH.
func NormalizeSeverity(risk string) models.FindingSeverity {
	switch strings.ToLower(strings.TrimSpace(risk)) {
	case "critical":
		return models.FindingSeverity{Label: models.SeverityCritical, Normalized: 90}
	case "medium":
		return models.FindingSeverity{Label: models.SeverityMedium, Normalized: 50}
	case "low":
		return models.FindingSeverity{Label: models.SeverityLow, Normalized: 30}
	case "informational":
		return models.FindingSeverity{Label: models.SeverityInformational, Normalized: 10}
	default:
		return models.FindingSeverity{Label: models.SeverityHigh, Normalized: 70}
	}
}

// severityRank orders severities for threshold checks and sorting
// (higher = more severe).
var severityRank = map[models.Severity]int{
	models.SeverityCritical:      5,
	models.SeverityHigh:          4,
	models.SeverityMedium:        3,
	models.SeverityLow:           2,
	models.SeverityInformational: 1,
}

// SeverityRank returns the rank of s, or 0 for unknown labels.
func SeverityRank(s models.Severity) int {
	return severityRank[s]
}

// ParseSeverity accepts a severity label in any case ("high", "HIGH").
// INFO is accepted as shorthand for INFORMATIONAL.
func ParseSeverity(s string) (models.Severity, bool) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if upper == "INFO" {
		upper = string(models.SeverityInformational)
	}
	sev := models.Severity(upper)
	_, ok := severityRank[sev]
	return sev, ok
}
