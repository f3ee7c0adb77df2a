package rules

import "fmt"

// KMSActiveGrantsRule reports how many grants are active on a key. Grants
// delegate key use outside the key policy, so any grant is worth surfacing.
type KMSActiveGrantsRule struct{}

func (r KMSActiveGrantsRule) ID() string   { return "KMS_ACTIVE_GRANTS" }
func (r KMSActiveGrantsRule) Name() string { return "KMS Key Has Active Grants" }

func (r KMSActiveGrantsRule) Evaluate(ctx RuleContext) (string, bool) {
	if ctx.Key == nil || len(ctx.Key.Grants) == 0 {
		return "", false
	}
	return fmt.Sprintf("%d active grants", len(ctx.Key.Grants)), true
}
