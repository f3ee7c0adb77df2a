package rules

// S3PublicACLsRule flags buckets whose public access block does not block
// public ACLs. An absent public access block counts as not blocking.
type S3PublicACLsRule struct{}

func (r S3PublicACLsRule) ID() string   { return "S3_PUBLIC_ACLS" }
func (r S3PublicACLsRule) Name() string { return "S3 Bucket Allows Public ACLs" }

func (r S3PublicACLsRule) Evaluate(ctx RuleContext) (string, bool) {
	if ctx.Bucket == nil || ctx.Bucket.PublicAccessBlock.BlockPublicACLs {
		return "", false
	}
	return "Public ACLs allowed", true
}
