package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// ── Load ──────────────────────────────────────────────────────────────────────

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	l := FileLoader{Path: filepath.Join(t.TempDir(), "absent.yaml"), Getenv: envMap(nil)}

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Simulation.Lifetime != 900*time.Second {
		t.Errorf("lifetime = %v; want 15m", cfg.Simulation.Lifetime)
	}
	if cfg.Policy.Endpoints.Key != "aws/kms_key/deny" {
		t.Errorf("key endpoint = %q", cfg.Policy.Endpoints.Key)
	}
}

func TestLoad_FileValues(t *testing.T) {
	path := writeFile(t, "config.yaml", `
policy:
  url: http://opa.internal:8181
  timeout: 3s
store:
  database: audit
audit:
  write_mode: append
jobs:
  reconcile_interval: 30m
log:
  level: debug
  format: json
`)
	cfg, err := FileLoader{Path: path, Getenv: envMap(nil)}.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Policy.URL != "http://opa.internal:8181" || cfg.Policy.Timeout != 3*time.Second {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if cfg.Store.Database != "audit" || cfg.Store.Collection != "s3_audit_findings" {
		t.Errorf("store = %+v; file values must merge over defaults", cfg.Store)
	}
	if cfg.Audit.WriteMode != "append" {
		t.Errorf("write mode = %q", cfg.Audit.WriteMode)
	}
	if cfg.Jobs.ReconcileInterval != 30*time.Minute {
		t.Errorf("reconcile interval = %v", cfg.Jobs.ReconcileInterval)
	}
}

func TestLoad_ParseError(t *testing.T) {
	path := writeFile(t, "config.yaml", "policy: [unclosed")
	if _, err := (FileLoader{Path: path, Getenv: envMap(nil)}).Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_InvalidReportsAllErrors(t *testing.T) {
	path := writeFile(t, "config.yaml", `
policy:
  mode: grpc
audit:
  write_mode: replace
log:
  level: verbose
`)
	_, err := FileLoader{Path: path, Getenv: envMap(nil)}.Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, field := range []string{"policy.mode", "audit.write_mode", "log.level"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestLoad_DotEnv(t *testing.T) {
	env := writeFile(t, ".env", "CSPM_TEST_QUEUE=from-dotenv\n")
	t.Setenv("CSPM_TEST_QUEUE", "")
	os.Unsetenv("CSPM_TEST_QUEUE")

	l := FileLoader{
		Path:       filepath.Join(t.TempDir(), "absent.yaml"),
		DotEnvPath: env,
		Getenv: func(k string) string {
			if k == "CSPM_QUEUE_URL" {
				return os.Getenv("CSPM_TEST_QUEUE")
			}
			return ""
		},
	}
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Events.QueueURL != "from-dotenv" {
		t.Errorf("queue url = %q; want value from .env", cfg.Events.QueueURL)
	}
}

func TestLoadDotEnv_MissingIsIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// ── ApplyEnv ──────────────────────────────────────────────────────────────────

func TestApplyEnv_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantURI string
		wantOPA string
	}{
		{
			name:    "connection string wins",
			env:     map[string]string{"MONGODB_CONNECTION_STRING": "mongodb://a", "MONGO_URI": "mongodb://b"},
			wantURI: "mongodb://a",
			wantOPA: "http://localhost:8181",
		},
		{
			name:    "mongo uri fallback",
			env:     map[string]string{"MONGO_URI": "mongodb://b"},
			wantURI: "mongodb://b",
			wantOPA: "http://localhost:8181",
		},
		{
			name:    "opa ip and port",
			env:     map[string]string{"OPA_SERVER_IP": "10.0.0.5", "OPA_PORT": "9000"},
			wantOPA: "http://10.0.0.5:9000",
		},
		{
			name:    "opa ip default port",
			env:     map[string]string{"OPA_SERVER_IP": "10.0.0.5"},
			wantOPA: "http://10.0.0.5:8181",
		},
		{
			name:    "opa url wins",
			env:     map[string]string{"OPA_URL": "http://opa:8181/", "OPA_SERVER_IP": "10.0.0.5"},
			wantOPA: "http://opa:8181",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			ApplyEnv(cfg, envMap(tt.env))
			if cfg.Store.URI != tt.wantURI {
				t.Errorf("uri = %q; want %q", cfg.Store.URI, tt.wantURI)
			}
			if cfg.Policy.URL != tt.wantOPA {
				t.Errorf("opa = %q; want %q", cfg.Policy.URL, tt.wantOPA)
			}
		})
	}
}

func TestApplyEnv_Simple(t *testing.T) {
	cfg := Default()
	ApplyEnv(cfg, envMap(map[string]string{
		"MONGO_DB_NAME":  "db2",
		"AWS_REGION":     "eu-west-1",
		"CSPM_LOG_LEVEL": "debug",
		"CSPM_QUEUE_URL": "cspm-events",
	}))
	if cfg.Store.Database != "db2" || cfg.AWS.DefaultRegion != "eu-west-1" || cfg.Log.Level != "debug" || cfg.Events.QueueURL != "cspm-events" {
		t.Errorf("cfg = %+v", cfg)
	}
}

// ── Validate ──────────────────────────────────────────────────────────────────

func TestValidate_Default(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("default config invalid: %v", errs)
	}
}

func TestValidate_EmbeddedNeedsBundle(t *testing.T) {
	cfg := Default()
	cfg.Policy.Mode = PolicyModeEmbedded
	errs := cfg.Validate()
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "policy.bundle_dir") {
		t.Errorf("errs = %v", errs)
	}
}
