package findings

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	bucketpack "github.com/pankaj-dahiya-devops/cspm-auditor/internal/rulepacks/bucket"
	keypack "github.com/pankaj-dahiya-devops/cspm-auditor/internal/rulepacks/key"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/rules"
)

const (
	findingType       = "Software and Configuration Checks/AWS Security Best Practices"
	standardID        = "aws-foundational-security-standard"
	partition         = "aws"
	bucketGeneratorID = "cspm-s3-security-audit"
	keyGeneratorID    = "cspm-kms-security-audit"
	bucketTitle       = "S3 Bucket Security Configuration Issues Detected"
	keyTitle          = "KMS Key Security Configuration Issues Detected"
)

// Synthesizer turns a non-compliant policy decision plus the snapshot it was
// made on into a normalized finding. It is pure apart from the clock.
type Synthesizer struct {
	bucketRules rules.RuleRegistry
	keyRules    rules.RuleRegistry
	now         func() time.Time
}

// NewSynthesizer returns a Synthesizer using the default bucket and key
// rule packs and the wall clock.
func NewSynthesizer() *Synthesizer {
	return NewSynthesizerWith(
		rules.NewRegistryFrom(bucketpack.New()),
		rules.NewRegistryFrom(keypack.New()),
		time.Now,
	)
}

// NewSynthesizerWith returns a Synthesizer with explicit registries and
// clock, allowing tests to pin timestamps.
func NewSynthesizerWith(bucketRules, keyRules rules.RuleRegistry, now func() time.Time) *Synthesizer {
	if now == nil {
		now = time.Now
	}
	return &Synthesizer{bucketRules: bucketRules, keyRules: keyRules, now: now}
}

// SynthesizeBucket returns the finding for a bucket, or nil when the
// decision is not reportable.
func (s *Synthesizer) SynthesizeBucket(d models.Decision, cfg *models.BucketConfiguration, id models.ResourceIdentity) *models.Finding {
	if !d.Reportable() || cfg == nil {
		return nil
	}
	issues := s.bucketRules.EvaluateAll(rules.RuleContext{Bucket: cfg})
	arn := "arn:aws:s3:::" + id.Name

	f := s.base(d, id, models.ResourceBucket)
	f.ID = arn + "/" + models.OperationBucketAudit
	f.GeneratorID = bucketGeneratorID
	f.Title = bucketTitle
	f.Description = describe(fmt.Sprintf("S3 bucket '%s'", id.Name), issues, d.Verdict.Reason)
	f.Issues = issues
	f.Resources = []models.FindingResource{{
		Type:      "AwsS3Bucket",
		ID:        arn,
		Partition: partition,
		Region:    id.Region,
		Details:   map[string]any{"AwsS3Bucket": bucketDetails(cfg)},
	}}
	f.UserDefinedFields["S3Configuration"] = snapshotString(cfg)
	if linked := cfg.Encryption.LinkedKMSFindingID; linked != "" {
		f.UserDefinedFields["LinkedKMSFindingId"] = linked
		f.UserDefinedFields["KMSSecurityStatus"] = cfg.Encryption.KMSSecurityStatus
	}
	return f
}

// SynthesizeKey returns the finding for a key, or nil when the decision is
// not reportable.
func (s *Synthesizer) SynthesizeKey(d models.Decision, cfg *models.KeyConfiguration, id models.ResourceIdentity) *models.Finding {
	if !d.Reportable() || cfg == nil {
		return nil
	}
	issues := s.keyRules.EvaluateAll(rules.RuleContext{Key: cfg})
	arn := cfg.ARN
	if arn == "" {
		arn = fmt.Sprintf("arn:aws:kms:%s:%s:key/%s", id.Region, id.AccountID, id.Name)
	}

	f := s.base(d, id, models.ResourceKey)
	f.ID = fmt.Sprintf("arn:aws:kms:%s:%s:key/%s/%s", id.Region, id.AccountID, id.Name, models.OperationKeyAudit)
	f.GeneratorID = keyGeneratorID
	f.Title = keyTitle
	f.Description = describe(fmt.Sprintf("KMS key '%s'", id.Name), issues, d.Verdict.Reason)
	f.Issues = issues
	f.Resources = []models.FindingResource{{
		Type:      "AwsKmsKey",
		ID:        arn,
		Partition: partition,
		Region:    id.Region,
		Details:   map[string]any{"AwsKmsKey": keyDetails(cfg)},
	}}
	f.UserDefinedFields["KMSConfiguration"] = snapshotString(cfg)
	return f
}

// base fills the fields shared by bucket and key findings.
func (s *Synthesizer) base(d models.Decision, id models.ResourceIdentity, kind models.ResourceKind) *models.Finding {
	now := s.now().UTC().Truncate(time.Second)
	findingID := FindingID(id.AccountID, id.Region, id.Name, kind.Operation())
	return &models.Finding{
		SchemaVersion: models.FindingSchemaVersion,
		FindingID:     findingID,
		ProductARN:    fmt.Sprintf("arn:aws:securityhub:%s::%s:product/%s/default", id.Region, id.AccountID, id.AccountID),
		AccountID:     id.AccountID,
		Types:         []string{findingType},
		CreatedAt:     now,
		UpdatedAt:     now,
		Severity:      NormalizeSeverity(d.Verdict.RiskLevel),
		RecordState:   models.RecordStateActive,
		WorkflowState: models.WorkflowStateNew,
		Compliance: models.FindingCompliance{
			Status:              models.ComplianceFailed,
			SecurityControlID:   kind.SecurityControlID(),
			AssociatedStandards: []models.AssociatedStandard{{StandardsID: standardID}},
		},
		UserDefinedFields: map[string]string{"FindingId": findingID},
	}
}

// describe renders "<subject> has security configuration issues. Issues
// found: a, b. Policy evaluation reason: r". The issues sentence is omitted
// when no rule fired.
func describe(subject string, issues []string, reason string) string {
	var b strings.Builder
	b.WriteString(subject)
	b.WriteString(" has security configuration issues. ")
	if len(issues) > 0 {
		b.WriteString("Issues found: ")
		b.WriteString(strings.Join(issues, ", "))
		b.WriteString(". ")
	}
	b.WriteString("Policy evaluation reason: ")
	b.WriteString(reason)
	return b.String()
}

func snapshotString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func bucketDetails(cfg *models.BucketConfiguration) map[string]any {
	var sseRules []map[string]any
	if cfg.Encryption.Mode() != models.EncryptionNone {
		sseRules = append(sseRules, map[string]any{
			"ApplyServerSideEncryptionByDefault": map[string]any{
				"SSEAlgorithm":      cfg.Encryption.SSEAlgorithm,
				"KMSMasterKeyID":    cfg.Encryption.KMSMasterKeyID,
				"KMSSecurityStatus": cfg.Encryption.KMSSecurityStatus,
			},
		})
	}
	return map[string]any{
		"Name":                              cfg.BucketName,
		"OwnerId":                           cfg.Ownership.OwnerID,
		"OwnerName":                         cfg.Ownership.OwnerName,
		"ServerSideEncryptionConfiguration": map[string]any{"Rules": sseRules},
		"PublicAccessBlockConfiguration": map[string]any{
			"BlockPublicAcls":       cfg.PublicAccessBlock.BlockPublicACLs,
			"IgnorePublicAcls":      cfg.PublicAccessBlock.IgnorePublicACLs,
			"BlockPublicPolicy":     cfg.PublicAccessBlock.BlockPublicPolicy,
			"RestrictPublicBuckets": cfg.PublicAccessBlock.RestrictPublicBuckets,
		},
		"BucketVersioningConfiguration": map[string]any{
			"Status":    cfg.Versioning.Status,
			"MfaDelete": cfg.Versioning.MFADelete,
		},
		"BucketLoggingConfiguration": map[string]any{
			"Status":       cfg.Logging.Status,
			"TargetBucket": cfg.Logging.TargetBucket,
			"TargetPrefix": cfg.Logging.TargetPrefix,
		},
		"BucketNotificationConfiguration": map[string]any{
			"Status":         cfg.Notification.Status,
			"Configurations": len(cfg.Notification.Configurations),
		},
	}
}

func keyDetails(cfg *models.KeyConfiguration) map[string]any {
	aliases := make([]string, 0, len(cfg.Aliases))
	for _, a := range cfg.Aliases {
		aliases = append(aliases, a.Name)
	}
	return map[string]any{
		"KeyId":              cfg.KeyID,
		"KeyState":           cfg.KeyState,
		"KeyUsage":           cfg.KeyUsage,
		"KeySpec":            cfg.KeySpec,
		"Origin":             cfg.Origin,
		"KeyManager":         cfg.KeyManager,
		"KeyRotationEnabled": cfg.KeyRotationEnabled,
		"MultiRegion":        cfg.MultiRegion,
		"Aliases":            aliases,
		"GrantsCount":        len(cfg.Grants),
		"TagsCount":          len(cfg.Tags),
	}
}
