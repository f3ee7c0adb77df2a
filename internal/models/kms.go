package models

import (
	"encoding/json"
	"time"
)

// KeyConfiguration is the security-relevant configuration snapshot of one
// KMS key. Like BucketConfiguration it is sent to the policy service and
// embedded in findings.
type KeyConfiguration struct {
	KeyID              string          `json:"key_id"`
	ARN                string          `json:"arn"`
	AccountID          string          `json:"account_id"`
	Region             string          `json:"region"`
	Description        string          `json:"description"`
	KeyState           string          `json:"key_state"`
	Enabled            bool            `json:"enabled"`
	KeyUsage           string          `json:"key_usage"`
	KeySpec            string          `json:"key_spec"`
	Origin             string          `json:"origin"`
	KeyManager         string          `json:"key_manager"`
	CreationDate       *time.Time      `json:"creation_date,omitempty"`
	DeletionDate       *time.Time      `json:"deletion_date,omitempty"`
	KeyRotationEnabled bool            `json:"key_rotation_enabled"`
	RotationKnown      bool            `json:"-"`
	MultiRegion        bool            `json:"multi_region"`
	Aliases            []KeyAlias      `json:"aliases"`
	Grants             []KeyGrant      `json:"grants"`
	Tags               []Tag           `json:"tags"`
	Replicas           []KeyReplica    `json:"replicas,omitempty"`
	KeyPolicy          json.RawMessage `json:"key_policy"`
}

// KeyAlias is one alias pointing at the key.
type KeyAlias struct {
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

// KeyGrant is one active grant on the key.
type KeyGrant struct {
	GrantID          string   `json:"grant_id"`
	Name             string   `json:"name,omitempty"`
	GranteePrincipal string   `json:"grantee_principal"`
	Operations       []string `json:"operations"`
}

// KeyReplica is one replica of a multi-Region key.
type KeyReplica struct {
	ARN    string `json:"arn"`
	Region string `json:"region"`
}

// DefaultKeyConfiguration returns the snapshot for a key whose identity call
// succeeded but whose sub-settings are all absent.
func DefaultKeyConfiguration(keyID, region string) KeyConfiguration {
	return KeyConfiguration{
		KeyID:   keyID,
		Region:  region,
		Aliases: []KeyAlias{},
		Grants:  []KeyGrant{},
		Tags:    []Tag{},
	}
}
