package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/rego"
)

// RegoDecider evaluates decision paths in-process against a fixed set of
// Rego modules. Prepared queries are cached per path.
type RegoDecider struct {
	options []func(*rego.Rego)

	mu       sync.Mutex
	prepared map[string]rego.PreparedEvalQuery
}

// NewRegoDecider loads every .rego file under dir.
func NewRegoDecider(dir string) *RegoDecider {
	return &RegoDecider{
		options:  []func(*rego.Rego){rego.Load([]string{dir}, nil)},
		prepared: make(map[string]rego.PreparedEvalQuery),
	}
}

// NewRegoDeciderFromModules compiles the given modules, keyed by file name.
func NewRegoDeciderFromModules(modules map[string]string) *RegoDecider {
	opts := make([]func(*rego.Rego), 0, len(modules))
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}
	return &RegoDecider{options: opts, prepared: make(map[string]rego.PreparedEvalQuery)}
}

// Query implements Decider. path "aws/s3_creation/deny" is evaluated as
// the query "data.aws.s3_creation.deny"; an undefined result is returned
// as nil.
func (d *RegoDecider) Query(ctx context.Context, path string, input any) (json.RawMessage, error) {
	pq, err := d.prepare(ctx, path)
	if err != nil {
		return nil, err
	}

	// Round-trip through JSON so the input matches what the HTTP API sees.
	var doc any
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: encode input: %v", ErrEvaluation, err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: encode input: %v", ErrEvaluation, err)
	}

	rs, err := pq.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: eval %s: %v", ErrEvaluation, path, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}
	out, err := json.Marshal(rs[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode result of %s: %v", ErrEvaluation, path, err)
	}
	return out, nil
}

func (d *RegoDecider) prepare(ctx context.Context, path string) (rego.PreparedEvalQuery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pq, ok := d.prepared[path]; ok {
		return pq, nil
	}
	query := "data." + strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
	opts := append([]func(*rego.Rego){rego.Query(query)}, d.options...)
	pq, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("%w: prepare %s: %v", ErrEvaluation, query, err)
	}
	d.prepared[path] = pq
	return pq, nil
}
