// Package config loads the auditor configuration from a YAML file, an
// optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"time"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/policy"
)

// Config is the top-level application configuration.
// It is loaded from ~/.config/cspm-auditor/config.yaml and must never be
// committed with real secrets.
type Config struct {
	AWS        AWSConfig        `yaml:"aws"        json:"aws"`
	Policy     PolicyConfig     `yaml:"policy"     json:"policy"`
	Store      StoreConfig      `yaml:"store"      json:"store"`
	Audit      AuditConfig      `yaml:"audit"      json:"audit"`
	Events     EventsConfig     `yaml:"events"     json:"events"`
	Jobs       JobsConfig       `yaml:"jobs"       json:"jobs"`
	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`
	API        APIConfig        `yaml:"api"        json:"api"`
	Metrics    MetricsConfig    `yaml:"metrics"    json:"metrics"`
	Log        LogConfig        `yaml:"log"        json:"log"`
}

// AWSConfig holds AWS-specific defaults used when flags are not provided.
type AWSConfig struct {
	// DefaultRegion is used when no region flag or profile region is set.
	DefaultRegion string `yaml:"default_region" json:"default_region"`

	// DefaultProfile is used when no --profile flag is provided.
	DefaultProfile string `yaml:"default_profile" json:"default_profile"`

	// AccountID skips the STS lookup when set.
	AccountID string `yaml:"account_id" json:"account_id"`

	// CallTimeout bounds each provider call.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
}

// Policy engine modes.
const (
	PolicyModeHTTP     = "http"
	PolicyModeEmbedded = "embedded"
)

// PolicyConfig selects and configures the policy engine.
type PolicyConfig struct {
	// Mode is "http" (remote OPA server) or "embedded" (Rego modules
	// evaluated in process).
	Mode string `yaml:"mode" json:"mode"`

	// URL is the OPA server base URL in http mode.
	URL string `yaml:"url" json:"url"`

	// BundleDir holds .rego modules in embedded mode.
	BundleDir string `yaml:"bundle_dir" json:"bundle_dir"`

	Timeout   time.Duration    `yaml:"timeout"   json:"timeout"`
	Endpoints policy.Endpoints `yaml:"endpoints" json:"endpoints"`
}

// Store backends.
const (
	StoreBackendMongo  = "mongo"
	StoreBackendMemory = "memory"
)

// StoreConfig configures the findings store and task queue.
type StoreConfig struct {
	Backend         string        `yaml:"backend"          json:"backend"`
	URI             string        `yaml:"uri"              json:"-"`
	Database        string        `yaml:"database"         json:"database"`
	Collection      string        `yaml:"collection"       json:"collection"`
	TasksCollection string        `yaml:"tasks_collection" json:"tasks_collection"`
	ConnectAttempts int           `yaml:"connect_attempts" json:"connect_attempts"`
	OpTimeout       time.Duration `yaml:"op_timeout"       json:"op_timeout"`
}

// AuditConfig tunes the audit pipeline.
type AuditConfig struct {
	// WriteMode is "upsert" (one entry per resource and finding id) or
	// "append" (one entry per audit).
	WriteMode string `yaml:"write_mode" json:"write_mode"`

	DisableKeyLinking bool `yaml:"disable_key_linking" json:"disable_key_linking"`
	SweepConcurrency  int  `yaml:"sweep_concurrency"   json:"sweep_concurrency"`
}

// EventsConfig configures event ingestion.
type EventsConfig struct {
	// QueueURL is an SQS queue URL or name.
	QueueURL    string `yaml:"queue_url"   json:"queue_url"`
	Concurrency int    `yaml:"concurrency" json:"concurrency"`
}

// JobsConfig schedules the maintenance jobs run by the worker. A zero
// interval disables the job.
type JobsConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval" json:"reconcile_interval"`
	DedupInterval     time.Duration `yaml:"dedup_interval"     json:"dedup_interval"`
}

// SimulationConfig configures demo buckets.
type SimulationConfig struct {
	// Lifetime is how long a demo bucket lives before cleanup is due.
	Lifetime     time.Duration `yaml:"lifetime"      json:"lifetime"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"  json:"max_attempts"`
	Region       string        `yaml:"region"        json:"region"`
}

// APIConfig configures the read API.
type APIConfig struct {
	Addr        string   `yaml:"addr"         json:"addr"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// MetricsConfig configures job metric publication.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"   json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level"`

	// Format is text or json.
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		AWS: AWSConfig{
			DefaultRegion: "us-east-1",
			CallTimeout:   10 * time.Second,
		},
		Policy: PolicyConfig{
			Mode:      PolicyModeHTTP,
			URL:       "http://localhost:8181",
			Timeout:   10 * time.Second,
			Endpoints: policy.DefaultEndpoints(),
		},
		Store: StoreConfig{
			Backend:         StoreBackendMongo,
			Database:        "csmp_findings",
			Collection:      "s3_audit_findings",
			TasksCollection: "scheduled_tasks",
			ConnectAttempts: 3,
			OpTimeout:       10 * time.Second,
		},
		Audit: AuditConfig{
			WriteMode:        "upsert",
			SweepConcurrency: 4,
		},
		Events: EventsConfig{Concurrency: 8},
		Jobs: JobsConfig{
			ReconcileInterval: time.Hour,
			DedupInterval:     6 * time.Hour,
		},
		Simulation: SimulationConfig{
			Lifetime:     900 * time.Second,
			PollInterval: 30 * time.Second,
			MaxAttempts:  5,
		},
		API: APIConfig{
			Addr:        ":5000",
			CORSOrigins: []string{"*"},
		},
		Metrics: MetricsConfig{Namespace: "CSPM/Auditor"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Loader is the interface for reading Config from disk.
// Default implementation reads from ~/.config/cspm-auditor/config.yaml.
type Loader interface {
	// Load reads, parses, and validates the configuration file.
	Load() (*Config, error)

	// ConfigPath returns the absolute path to the configuration file.
	ConfigPath() string
}
