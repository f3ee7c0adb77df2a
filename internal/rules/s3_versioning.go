package rules

// S3VersioningDisabledRule flags buckets without enabled versioning.
// Suspended versioning is reported too.
type S3VersioningDisabledRule struct{}

func (r S3VersioningDisabledRule) ID() string   { return "S3_VERSIONING_DISABLED" }
func (r S3VersioningDisabledRule) Name() string { return "S3 Bucket Versioning Disabled" }

func (r S3VersioningDisabledRule) Evaluate(ctx RuleContext) (string, bool) {
	if ctx.Bucket == nil || ctx.Bucket.Versioning.Status == "enabled" {
		return "", false
	}
	return "Versioning disabled", true
}
