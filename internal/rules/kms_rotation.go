package rules

// KMSRotationDisabledRule flags keys without automatic rotation. Keys whose
// rotation status could not be read are reported as disabled.
type KMSRotationDisabledRule struct{}

func (r KMSRotationDisabledRule) ID() string   { return "KMS_ROTATION_DISABLED" }
func (r KMSRotationDisabledRule) Name() string { return "KMS Key Rotation Disabled" }

func (r KMSRotationDisabledRule) Evaluate(ctx RuleContext) (string, bool) {
	if ctx.Key == nil || ctx.Key.KeyRotationEnabled {
		return "", false
	}
	return "Key rotation disabled", true
}
