package awssecurity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// DefaultCallTimeout bounds each individual provider call.
const DefaultCallTimeout = 10 * time.Second

// DefaultConfigCollector is the production ConfigCollector. It issues a
// fixed set of independent read calls per resource against region-scoped
// S3 and KMS clients, which are created lazily and cached per region.
type DefaultConfigCollector struct {
	base        aws.Config
	factory     secClientFactory
	logger      *slog.Logger
	callTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*secClients
}

// NewDefaultConfigCollector returns a DefaultConfigCollector wired to
// production AWS SDK clients built from cfg.
func NewDefaultConfigCollector(cfg aws.Config, logger *slog.Logger) *DefaultConfigCollector {
	return NewDefaultConfigCollectorWithFactory(cfg, logger, newDefaultSecClients)
}

// NewDefaultConfigCollectorWithFactory returns a DefaultConfigCollector that
// uses the supplied factory, allowing tests to inject fake clients.
func NewDefaultConfigCollectorWithFactory(cfg aws.Config, logger *slog.Logger, f secClientFactory) *DefaultConfigCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultConfigCollector{
		base:        cfg,
		factory:     f,
		logger:      logger,
		callTimeout: DefaultCallTimeout,
		clients:     make(map[string]*secClients),
	}
}

// SetCallTimeout overrides the per-call timeout. Non-positive values keep
// the current setting.
func (c *DefaultConfigCollector) SetCallTimeout(d time.Duration) {
	if d > 0 {
		c.callTimeout = d
	}
}

// HomeRegion is the region of the base configuration.
func (c *DefaultConfigCollector) HomeRegion() string {
	return c.base.Region
}

// clientsFor returns the cached clients for region, creating them on first
// use. An empty region resolves to the home region.
func (c *DefaultConfigCollector) clientsFor(region string) (*secClients, string) {
	if region == "" {
		region = c.base.Region
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[region]; ok {
		return cl, region
	}
	cfg := c.base
	cfg.Region = region
	cl := c.factory(cfg)
	c.clients[region] = cl
	return cl, region
}

// callCtx derives a context bounded by the per-call timeout.
func (c *DefaultConfigCollector) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// subSettingFailed records a sub-setting fetch failure. Not-configured
// errors are expected and stay silent; anything else is logged as a
// warning and the default is kept.
func (c *DefaultConfigCollector) subSettingFailed(kind, resource, step string, err error) {
	if isNotConfigured(err) {
		return
	}
	c.logger.Warn("sub-setting fetch failed; keeping default",
		"kind", kind,
		"resource", resource,
		"step", step,
		"error", err,
	)
}
