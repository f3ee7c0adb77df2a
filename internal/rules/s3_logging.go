package rules

// S3AccessLoggingDisabledRule flags buckets without server access logging.
type S3AccessLoggingDisabledRule struct{}

func (r S3AccessLoggingDisabledRule) ID() string   { return "S3_ACCESS_LOGGING_DISABLED" }
func (r S3AccessLoggingDisabledRule) Name() string { return "S3 Bucket Access Logging Disabled" }

func (r S3AccessLoggingDisabledRule) Evaluate(ctx RuleContext) (string, bool) {
	if ctx.Bucket == nil || ctx.Bucket.Logging.Status == "enabled" {
		return "", false
	}
	return "Access logging disabled", true
}
