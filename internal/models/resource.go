package models

// ResourceKind identifies the kind of cloud resource being audited.
// Only S3 buckets and KMS keys are supported.
type ResourceKind string

const (
	ResourceBucket ResourceKind = "bucket"
	ResourceKey    ResourceKind = "key"
)

// Operation kinds are part of the finding identity hash and of the
// Security Hub style finding id.
const (
	OperationBucketAudit = "S3BucketSecurityAudit"
	OperationKeyAudit    = "KMSKeySecurityAudit"
)

// Valid reports whether k is a known resource kind.
func (k ResourceKind) Valid() bool {
	return k == ResourceBucket || k == ResourceKey
}

// Operation returns the audit operation name used for finding identity.
func (k ResourceKind) Operation() string {
	if k == ResourceKey {
		return OperationKeyAudit
	}
	return OperationBucketAudit
}

// PolicyInputType is the resource_type value sent to the policy service.
func (k ResourceKind) PolicyInputType() string {
	if k == ResourceKey {
		return "kms"
	}
	return "s3"
}

// PolicyConfigField is the input field that carries the snapshot in a
// policy query.
func (k ResourceKind) PolicyConfigField() string {
	if k == ResourceKey {
		return "kms_config"
	}
	return "bucket_config"
}

// Service is the dashboard-facing service label ("S3" or "KMS").
func (k ResourceKind) Service() string {
	if k == ResourceKey {
		return "KMS"
	}
	return "S3"
}

// SecurityControlID is the compliance control attached to findings of k.
func (k ResourceKind) SecurityControlID() string {
	if k == ResourceKey {
		return "KMS.1"
	}
	return "S3.1"
}

// KindForService maps a dashboard service label back to a ResourceKind.
// The second return value is false for unknown labels.
func KindForService(service string) (ResourceKind, bool) {
	switch service {
	case "S3", "s3":
		return ResourceBucket, true
	case "KMS", "kms":
		return ResourceKey, true
	}
	return "", false
}

// ResourceIdentity carries the attribution of one audited resource.
type ResourceIdentity struct {
	Kind      ResourceKind `json:"kind"`
	Name      string       `json:"name"`
	AccountID string       `json:"account_id"`
	Region    string       `json:"region"`
}

// Tag is a key/value pair attached to a bucket or key.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
