package rules

import "github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"

// S3EncryptionRule describes a bucket's default encryption weakness.
// Key-managed encryption is only reported when the linker found the key
// insecure; a secure or unaudited key contributes no phrase.
type S3EncryptionRule struct{}

func (r S3EncryptionRule) ID() string   { return "S3_ENCRYPTION" }
func (r S3EncryptionRule) Name() string { return "S3 Bucket Default Encryption" }

func (r S3EncryptionRule) Evaluate(ctx RuleContext) (string, bool) {
	if ctx.Bucket == nil {
		return "", false
	}
	enc := ctx.Bucket.Encryption
	switch enc.Mode() {
	case models.EncryptionNone:
		return "No encryption", true
	case models.EncryptionAlgorithmOnly:
		return "SSE-S3 encryption only", true
	}
	if enc.KMSSecurityStatus == models.KMSStatusInsecure {
		return "Insecure KMS key encryption", true
	}
	return "", false
}
