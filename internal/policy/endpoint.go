package policy

import (
	"strings"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// Default decision paths, relative to the data API root.
const (
	DefaultBucketSSEPath = "aws/s3_creation/deny"
	DefaultBucketKMSPath = "aws/s3_kms_audit/deny"
	DefaultKeyPath       = "aws/kms_key/deny"
)

// Endpoints names the decision path used for each kind of query.
type Endpoints struct {
	// BucketSSE is used for buckets without key-managed encryption.
	BucketSSE string `yaml:"bucket_sse" json:"bucket_sse"`

	// BucketKMS is used for buckets encrypted with a concrete customer key.
	BucketKMS string `yaml:"bucket_kms" json:"bucket_kms"`

	// Key is used for KMS keys.
	Key string `yaml:"key" json:"key"`
}

// DefaultEndpoints returns the standard decision paths.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		BucketSSE: DefaultBucketSSEPath,
		BucketKMS: DefaultBucketKMSPath,
		Key:       DefaultKeyPath,
	}
}

// WithDefaults fills empty paths from DefaultEndpoints and strips leading
// and trailing slashes.
func (e Endpoints) WithDefaults() Endpoints {
	d := DefaultEndpoints()
	pick := func(v, def string) string {
		v = strings.Trim(strings.TrimSpace(v), "/")
		if v == "" {
			return def
		}
		return v
	}
	return Endpoints{
		BucketSSE: pick(e.BucketSSE, d.BucketSSE),
		BucketKMS: pick(e.BucketKMS, d.BucketKMS),
		Key:       pick(e.Key, d.Key),
	}
}

// ForBucket routes a bucket snapshot: key-managed encryption with a concrete
// key id goes to the KMS audit path, everything else to the SSE path.
func (e Endpoints) ForBucket(cfg *models.BucketConfiguration) string {
	if cfg != nil && cfg.Encryption.LinkedKeyID() != "" {
		return e.BucketKMS
	}
	return e.BucketSSE
}

// EndpointFor returns the decision path for a snapshot of kind. bucket may
// be nil for keys.
func (e Endpoints) EndpointFor(kind models.ResourceKind, bucket *models.BucketConfiguration) string {
	if kind == models.ResourceKey {
		return e.Key
	}
	return e.ForBucket(bucket)
}

// suppressible reports whether the "Public" sentinel may suppress a finding
// for kind. Only bucket decisions honour it.
func suppressible(kind models.ResourceKind) bool {
	return kind == models.ResourceBucket
}
