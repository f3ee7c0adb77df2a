package findings

import "github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"

// ShouldFail reports whether any finding has a severity at or above
// threshold (case-insensitive, e.g. "high").
//
// It returns false when threshold is empty or unrecognised, or when
// findings is empty.
func ShouldFail(findings []models.Finding, threshold string) bool {
	if threshold == "" {
		return false
	}
	sev, ok := ParseSeverity(threshold)
	if !ok {
		return false
	}
	floor := severityRank[sev]
	for _, f := range findings {
		if severityRank[f.Severity.Label] >= floor {
			return true
		}
	}
	return false
}
