// Package bucket provides the S3 bucket issue rule pack.
//
// Convention: every rule pack lives in internal/rulepacks/<kind>/pack.go
// and exposes a single New() func returning []rules.Rule. The slice order is
// the order of the phrases in a finding description.
package bucket

import "github.com/pankaj-dahiya-devops/cspm-auditor/internal/rules"

// New returns the bucket rule pack.
func New() []rules.Rule {
	return []rules.Rule{
		rules.S3EncryptionRule{},            // No encryption | SSE-S3 only | insecure KMS key
		rules.S3PublicACLsRule{},            // Public ACLs allowed
		rules.S3VersioningDisabledRule{},    // Versioning disabled
		rules.S3AccessLoggingDisabledRule{}, // Access logging disabled
	}
}
