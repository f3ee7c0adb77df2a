// Package engine runs the audit pipeline for one resource: collect the
// configuration snapshot, link dependent keys, evaluate policy, synthesize a
// finding and persist it.
package engine

import (
	"context"
	"encoding/json"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// Outcome classifies how a single resource audit ended.
type Outcome string

const (
	// OutcomeCompliant means the policy returned no verdict. No finding is
	// written and any previous finding is left untouched.
	OutcomeCompliant Outcome = "compliant"
	// OutcomeSuppressed means the policy asked for the resource not to be
	// reported.
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeFindingStored means a finding was synthesized and persisted.
	OutcomeFindingStored Outcome = "finding_stored"
	// OutcomeFindingNotPersisted means a finding was synthesized but the
	// store write failed.
	OutcomeFindingNotPersisted Outcome = "finding_not_persisted"
	// OutcomeCollectionFailed means the identity call failed and the audit
	// was aborted with no store mutation.
	OutcomeCollectionFailed Outcome = "collection_failed"
	// OutcomeEvaluationFailed means the policy service failed and the audit
	// was aborted with no store mutation.
	OutcomeEvaluationFailed Outcome = "evaluation_failed"
)

// Failed reports whether the outcome is an error outcome.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeFindingNotPersisted, OutcomeCollectionFailed, OutcomeEvaluationFailed:
		return true
	}
	return false
}

// NonCompliant reports whether the audit produced a finding, persisted or
// not.
func (o Outcome) NonCompliant() bool {
	return o == OutcomeFindingStored || o == OutcomeFindingNotPersisted
}

// AuditResult is the result of auditing one resource.
type AuditResult struct {
	Kind        models.ResourceKind `json:"kind"`
	ResourceKey string              `json:"resource_key"`
	Region      string              `json:"region,omitempty"`
	AccountID   string              `json:"account_id,omitempty"`
	Outcome     Outcome             `json:"outcome"`

	// Finding is the finding surfaced to the caller. For a compliant bucket
	// whose linked key is not, this is the key's finding.
	Finding *models.Finding `json:"finding,omitempty"`
	// StoredID is the store id of the resource's own finding.
	StoredID string `json:"stored_id,omitempty"`
	// Linked is the nested audit of the bucket's encryption key, if any.
	Linked *AuditResult `json:"linked,omitempty"`

	Step string `json:"step,omitempty"`
	Err  error  `json:"-"`
}

// MarshalJSON adds the error message, which error values do not carry
// through encoding/json.
func (r AuditResult) MarshalJSON() ([]byte, error) {
	type plain AuditResult
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Evaluator is the policy decision surface the auditor needs.
// *policy.Client satisfies it.
type Evaluator interface {
	EvaluateBucket(ctx context.Context, cfg *models.BucketConfiguration) (models.Decision, error)
	EvaluateKey(ctx context.Context, cfg *models.KeyConfiguration) (models.Decision, error)
}

// AccountSource supplies the account id when an audit request does not
// carry one. *common.AccountResolver satisfies it.
type AccountSource interface {
	AccountID(ctx context.Context) (string, error)
}
