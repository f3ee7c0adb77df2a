package models

import (
	"encoding/json"
	"strings"
)

// EncryptionMode classifies a bucket's default server-side encryption.
type EncryptionMode string

const (
	EncryptionNone          EncryptionMode = "none"
	EncryptionAlgorithmOnly EncryptionMode = "algorithm-only"
	EncryptionKeyManaged    EncryptionMode = "key-managed"
)

// KMS security status values folded into a bucket snapshot by the linker.
const (
	KMSStatusSecure      = "secure kms key"
	KMSStatusInsecure    = "insecure kms key"
	KMSStatusAuditFailed = "kms audit failed"
)

// BucketConfiguration is the security-relevant configuration snapshot of one
// S3 bucket. It is sent verbatim to the policy service and embedded in
// findings, so JSON field names are part of the wire contract.
//
// Every sub-setting carries a Configured flag (never serialised). It is true
// only when the provider returned a value; a false flag with default field
// values means the setting is absent rather than explicitly disabled.
type BucketConfiguration struct {
	BucketName        string             `json:"bucket_name"`
	Region            string             `json:"region,omitempty"`
	Encryption        BucketEncryption   `json:"encryption"`
	Ownership         BucketOwnership    `json:"ownership"`
	ACLsEnabled       bool               `json:"acls_enabled"`
	PublicAccessBlock PublicAccessBlock  `json:"public_access_block"`
	Versioning        BucketVersioning   `json:"versioning"`
	Policy            json.RawMessage    `json:"bucket_policy"`
	PolicyConfigured  bool               `json:"-"`
	Logging           BucketLogging      `json:"logging"`
	Notification      BucketNotification `json:"notification"`
	TagSet            []Tag              `json:"tagset"`
	TagsConfigured    bool               `json:"-"`
}

// BucketEncryption is the default encryption rule of a bucket plus the
// linked key status recorded by the cross-resource linker.
type BucketEncryption struct {
	SSEAlgorithm       string `json:"sse_algorithm,omitempty"`
	KMSMasterKeyID     string `json:"kms_master_key_id,omitempty"`
	BucketKeyEnabled   bool   `json:"bucket_key_enabled"`
	Status             string `json:"status"`
	KMSSecurityStatus  string `json:"kms_security_status,omitempty"`
	LinkedKMSFindingID string `json:"linked_kms_finding_id,omitempty"`
	Configured         bool   `json:"-"`
}

// Mode classifies the encryption as none, algorithm-only (SSE-S3) or
// key-managed (SSE-KMS / DSSE-KMS).
func (e BucketEncryption) Mode() EncryptionMode {
	switch {
	case e.SSEAlgorithm == "":
		return EncryptionNone
	case strings.HasPrefix(e.SSEAlgorithm, "aws:kms"):
		return EncryptionKeyManaged
	default:
		return EncryptionAlgorithmOnly
	}
}

// LinkedKeyID returns the customer key identifier when the bucket uses
// key-managed encryption with a concrete key, or "" otherwise.
func (e BucketEncryption) LinkedKeyID() string {
	if e.Mode() != EncryptionKeyManaged {
		return ""
	}
	return e.KMSMasterKeyID
}

// BucketOwnership is the object ownership control of a bucket.
type BucketOwnership struct {
	ObjectOwnership string `json:"object_ownership"`
	OwnerID         string `json:"owner_id,omitempty"`
	OwnerName       string `json:"owner_display_name,omitempty"`
	Configured      bool   `json:"-"`
}

// PublicAccessBlock holds the four bucket-level public access block flags.
// Status is "blocked" only when all four flags are true.
type PublicAccessBlock struct {
	BlockPublicACLs       bool   `json:"block_public_acls"`
	IgnorePublicACLs      bool   `json:"ignore_public_acls"`
	BlockPublicPolicy     bool   `json:"block_public_policy"`
	RestrictPublicBuckets bool   `json:"restrict_public_buckets"`
	Status                string `json:"status"`
	Configured            bool   `json:"-"`
}

// AllBlocked reports whether every public access block flag is set.
func (p PublicAccessBlock) AllBlocked() bool {
	return p.BlockPublicACLs && p.IgnorePublicACLs && p.BlockPublicPolicy && p.RestrictPublicBuckets
}

// BucketVersioning holds lower-cased versioning and MFA-delete states.
type BucketVersioning struct {
	Status     string `json:"status"`
	MFADelete  string `json:"mfa_delete"`
	Configured bool   `json:"-"`
}

// BucketLogging is the server access logging target of a bucket.
type BucketLogging struct {
	Status       string `json:"status"`
	TargetBucket string `json:"target_bucket,omitempty"`
	TargetPrefix string `json:"target_prefix,omitempty"`
	Configured   bool   `json:"-"`
}

// BucketNotification lists the event notification targets of a bucket.
type BucketNotification struct {
	Status         string               `json:"status"`
	Configurations []NotificationTarget `json:"configurations"`
	Configured     bool                 `json:"-"`
}

// NotificationTarget is one topic, queue or Lambda notification.
type NotificationTarget struct {
	Type   string   `json:"type"`
	ID     string   `json:"id,omitempty"`
	ARN    string   `json:"arn"`
	Events []string `json:"events"`
}

// DefaultBucketConfiguration returns the documented all-defaults snapshot
// for name. Collectors start from it and overwrite each sub-setting only
// when the provider returns a value.
func DefaultBucketConfiguration(name, region string) BucketConfiguration {
	return BucketConfiguration{
		BucketName: name,
		Region:     region,
		Encryption: BucketEncryption{Status: "none"},
		Ownership:  BucketOwnership{ObjectOwnership: "unknown"},
		PublicAccessBlock: PublicAccessBlock{
			Status: "enabled",
		},
		Versioning:   BucketVersioning{Status: "disabled", MFADelete: "disabled"},
		Logging:      BucketLogging{Status: "disabled"},
		Notification: BucketNotification{Status: "disabled", Configurations: []NotificationTarget{}},
		TagSet:       []Tag{},
	}
}
