package rules

import "fmt"

// KMSKeyStateRule flags keys that are not in the Enabled state, such as
// keys pending deletion or import.
type KMSKeyStateRule struct{}

func (r KMSKeyStateRule) ID() string   { return "KMS_KEY_STATE" }
func (r KMSKeyStateRule) Name() string { return "KMS Key Not Enabled" }

func (r KMSKeyStateRule) Evaluate(ctx RuleContext) (string, bool) {
	if ctx.Key == nil || ctx.Key.KeyState == "Enabled" {
		return "", false
	}
	return fmt.Sprintf("Key state: %s", ctx.Key.KeyState), true
}
