// Package key provides the KMS key issue rule pack.
package key

import "github.com/pankaj-dahiya-devops/cspm-auditor/internal/rules"

// New returns the key rule pack in description order.
func New() []rules.Rule {
	return []rules.Rule{
		rules.KMSRotationDisabledRule{},
		rules.KMSKeyStateRule{},
		rules.KMSExternalKeyMaterialRule{},
		rules.KMSNoKeyPolicyRule{},
		rules.KMSActiveGrantsRule{},
	}
}
