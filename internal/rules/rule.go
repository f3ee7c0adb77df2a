package rules

import "github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"

// RuleContext carries the configuration snapshot of the resource whose
// finding is being described. Exactly one of Bucket and Key is set.
// Rules must never make network calls or read external state.
type RuleContext struct {
	// Bucket is the snapshot for bucket findings, after linking.
	Bucket *models.BucketConfiguration

	// Key is the snapshot for key findings.
	Key *models.KeyConfiguration
}

// Rule is a single deterministic configuration check that contributes one
// issue phrase to a finding description.
// Rules must be stateless and safe to call concurrently.
type Rule interface {
	// ID returns the unique, stable identifier for this rule (e.g. "S3_VERSIONING_DISABLED").
	ID() string

	// Name returns a short human-readable rule name.
	Name() string

	// Evaluate inspects ctx and returns the issue phrase, or ok == false when
	// the check passes or does not apply to the resource in ctx.
	Evaluate(ctx RuleContext) (issue string, ok bool)
}

// RuleRegistry manages the set of active rules and drives evaluation.
type RuleRegistry interface {
	// Register adds a rule to the registry. Panics on duplicate ID.
	Register(rule Rule)

	// All returns all registered rules in registration order.
	All() []Rule

	// EvaluateAll runs every registered rule against ctx and returns the
	// issue phrases in registration order.
	EvaluateAll(ctx RuleContext) []string
}
