package rules

import "fmt"

// DefaultRuleRegistry is a simple, ordered, in-memory registry.
// Rules are evaluated in registration order, which is also the order of the
// phrases in a finding description.
// Register panics on duplicate rule IDs to catch wiring mistakes at startup.
type DefaultRuleRegistry struct {
	rules []Rule
	index map[string]struct{}
}

// NewDefaultRuleRegistry returns an empty registry ready for rule registration.
func NewDefaultRuleRegistry() *DefaultRuleRegistry {
	return &DefaultRuleRegistry{
		index: make(map[string]struct{}),
	}
}

// NewRegistryFrom returns a registry holding pack in order.
func NewRegistryFrom(pack []Rule) *DefaultRuleRegistry {
	r := NewDefaultRuleRegistry()
	for _, rule := range pack {
		r.Register(rule)
	}
	return r
}

// Register adds rule to the registry. Panics if the same ID is registered twice.
func (r *DefaultRuleRegistry) Register(rule Rule) {
	if _, exists := r.index[rule.ID()]; exists {
		panic(fmt.Sprintf("duplicate rule ID: %q", rule.ID()))
	}
	r.rules = append(r.rules, rule)
	r.index[rule.ID()] = struct{}{}
}

// All returns all registered rules in registration order.
func (r *DefaultRuleRegistry) All() []Rule {
	return r.rules
}

// EvaluateAll runs every registered rule against ctx and returns the
// phrases of the rules that fired. The result is never nil.
func (r *DefaultRuleRegistry) EvaluateAll(ctx RuleContext) []string {
	issues := []string{}
	for _, rule := range r.rules {
		if issue, ok := rule.Evaluate(ctx); ok {
			issues = append(issues, issue)
		}
	}
	return issues
}
