package rules

import "fmt"

// KMSExternalKeyMaterialRule flags keys whose material was not generated by
// KMS (EXTERNAL, AWS_CLOUDHSM, EXTERNAL_KEY_STORE).
type KMSExternalKeyMaterialRule struct{}

func (r KMSExternalKeyMaterialRule) ID() string   { return "KMS_EXTERNAL_KEY_MATERIAL" }
func (r KMSExternalKeyMaterialRule) Name() string { return "KMS Key Uses External Key Material" }

func (r KMSExternalKeyMaterialRule) Evaluate(ctx RuleContext) (string, bool) {
	if ctx.Key == nil || ctx.Key.Origin == "AWS_KMS" {
		return "", false
	}
	return fmt.Sprintf("External key material: %s", ctx.Key.Origin), true
}
