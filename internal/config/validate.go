package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate checks cfg for semantic correctness and returns all validation
// errors found. An empty slice means the config is valid.
//
// Connection strings are not required here: commands that need the store
// fail when they connect.
func (c *Config) Validate() []error {
	var errs []error

	switch c.Policy.Mode {
	case PolicyModeHTTP:
		if u, err := url.Parse(c.Policy.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("policy.url: invalid value %q; want scheme://host[:port]", c.Policy.URL))
		}
	case PolicyModeEmbedded:
		if c.Policy.BundleDir == "" {
			errs = append(errs, fmt.Errorf("policy.bundle_dir: required in embedded mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("policy.mode: invalid value %q; valid values: http, embedded", c.Policy.Mode))
	}
	if c.Policy.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("policy.timeout: must be positive"))
	}

	switch c.Store.Backend {
	case StoreBackendMongo, StoreBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend: invalid value %q; valid values: mongo, memory", c.Store.Backend))
	}
	if c.Store.OpTimeout <= 0 {
		errs = append(errs, fmt.Errorf("store.op_timeout: must be positive"))
	}

	switch c.Audit.WriteMode {
	case "upsert", "append":
	default:
		errs = append(errs, fmt.Errorf("audit.write_mode: invalid value %q; valid values: upsert, append", c.Audit.WriteMode))
	}
	if c.Audit.SweepConcurrency < 0 {
		errs = append(errs, fmt.Errorf("audit.sweep_concurrency: must not be negative"))
	}
	if c.Events.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("events.concurrency: must not be negative"))
	}
	if c.Jobs.ReconcileInterval < 0 || c.Jobs.DedupInterval < 0 {
		errs = append(errs, fmt.Errorf("jobs: intervals must not be negative"))
	}
	if c.Simulation.Lifetime <= 0 {
		errs = append(errs, fmt.Errorf("simulation.lifetime: must be positive"))
	}

	if _, ok := validLogLevels[strings.ToLower(c.Log.Level)]; !ok {
		errs = append(errs, fmt.Errorf("log.level: invalid value %q; valid values: debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: invalid value %q; valid values: text, json", c.Log.Format))
	}
	return errs
}
