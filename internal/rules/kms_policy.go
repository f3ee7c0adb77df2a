package rules

// KMSNoKeyPolicyRule flags keys whose key policy could not be read.
type KMSNoKeyPolicyRule struct{}

func (r KMSNoKeyPolicyRule) ID() string   { return "KMS_NO_KEY_POLICY" }
func (r KMSNoKeyPolicyRule) Name() string { return "KMS Key Without Policy" }

func (r KMSNoKeyPolicyRule) Evaluate(ctx RuleContext) (string, bool) {
	if ctx.Key == nil {
		return "", false
	}
	if doc := string(ctx.Key.KeyPolicy); doc != "" && doc != "null" {
		return "", false
	}
	return "No key policy", true
}
