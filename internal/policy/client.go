package policy

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// Decider evaluates one decision path against an input document and returns
// the raw value of the decision's result. A nil result means the decision
// is undefined.
type Decider interface {
	Query(ctx context.Context, path string, input any) (json.RawMessage, error)
}

// Client turns configuration snapshots into policy decisions.
type Client struct {
	decider   Decider
	endpoints Endpoints
	logger    *slog.Logger
}

// NewClient returns a Client querying decider at endpoints. Empty
// endpoint paths use the defaults.
func NewClient(decider Decider, endpoints Endpoints, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{decider: decider, endpoints: endpoints.WithDefaults(), logger: logger}
}

// Endpoints returns the effective decision paths.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// Evaluate queries endpoint with snapshot as the kind-specific input field.
// Errors wrap ErrEvaluation and never mean compliant.
func (c *Client) Evaluate(ctx context.Context, endpoint string, kind models.ResourceKind, snapshot any) (models.Decision, error) {
	raw, err := c.decider.Query(ctx, endpoint, Input(kind, snapshot))
	if err != nil {
		return models.Decision{}, err
	}
	d, err := ParseResult(raw, suppressible(kind))
	if err != nil {
		return models.Decision{}, err
	}
	c.logger.Debug("policy decision", "endpoint", endpoint, "kind", kind, "outcome", d.Outcome.String())
	return d, nil
}

// EvaluateBucket routes cfg to the bucket endpoint matching its encryption.
func (c *Client) EvaluateBucket(ctx context.Context, cfg *models.BucketConfiguration) (models.Decision, error) {
	return c.Evaluate(ctx, c.endpoints.ForBucket(cfg), models.ResourceBucket, cfg)
}

// EvaluateKey queries the key endpoint.
func (c *Client) EvaluateKey(ctx context.Context, cfg *models.KeyConfiguration) (models.Decision, error) {
	return c.Evaluate(ctx, c.endpoints.Key, models.ResourceKey, cfg)
}
