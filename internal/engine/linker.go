package engine

import (
	"context"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// linkKey audits the customer key protecting a key-managed bucket and folds
// the result into cfg before the bucket is evaluated. The nested audit
// persists its own finding. It returns nil when the bucket has no concrete
// key.
func (a *Auditor) linkKey(ctx context.Context, cfg *models.BucketConfiguration, accountID string) *AuditResult {
	ref := cfg.Encryption.LinkedKeyID()
	if ref == "" {
		return nil
	}

	child := a.AuditKey(ctx, ref, cfg.Region, accountID)
	cfg.Encryption.KMSSecurityStatus = keyStatus(child)
	if child.Outcome.NonCompliant() && child.Finding != nil {
		cfg.Encryption.LinkedKMSFindingID = child.Finding.FindingID
	}

	a.logger.Debug("linked key audited",
		"bucket", cfg.BucketName,
		"key", child.ResourceKey,
		"kms_security_status", cfg.Encryption.KMSSecurityStatus,
	)
	return &child
}

// keyStatus maps a nested key audit to the status recorded on the bucket.
// A finding that could not be persisted still marks the key insecure.
func keyStatus(child AuditResult) string {
	switch {
	case child.Outcome.NonCompliant():
		return models.KMSStatusInsecure
	case child.Outcome.Failed():
		return models.KMSStatusAuditFailed
	default:
		return models.KMSStatusSecure
	}
}
