package policy

import "errors"

// ErrEvaluation marks a policy query that produced no usable decision:
// transport failure, non-2xx status, timeout or malformed response. It is
// distinct from a compliant result.
var ErrEvaluation = errors.New("policy evaluation failed")
