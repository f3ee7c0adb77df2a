package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/config"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/providers/aws/common"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/simulation"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

// ── AWS mock ──────────────────────────────────────────────────────────────────

type mockAWSProvider struct {
	profileResult *common.ProfileConfig
	profileErr    error
	regionsResult []string
	regionsErr    error
	lastProfile   string // records the profile name passed to LoadProfile
	lastRegion    string
}

func (m *mockAWSProvider) LoadProfile(_ context.Context, profile, region string) (*common.ProfileConfig, error) {
	m.lastProfile = profile
	m.lastRegion = region
	return m.profileResult, m.profileErr
}

func (m *mockAWSProvider) GetActiveRegions(_ context.Context, _ *common.ProfileConfig) ([]string, error) {
	return m.regionsResult, m.regionsErr
}

func (m *mockAWSProvider) ConfigForRegion(_ *common.ProfileConfig, region string) aws.Config {
	return aws.Config{Region: region}
}

func goodMockAWS() *mockAWSProvider {
	return &mockAWSProvider{
		profileResult: &common.ProfileConfig{
			ProfileName: "default",
			AccountID:   "123456789012",
			Region:      "us-east-1",
			Config:      aws.Config{Region: "us-east-1"},
			Clients:     &common.ClientSet{},
		},
		regionsResult: []string{"us-east-1", "eu-west-1"},
	}
}

// ── runtime ───────────────────────────────────────────────────────────────────

// testRuntime returns a runtime whose store is repo (reconnected per
// command) and whose AWS provider is awsP.
func testRuntime(awsP common.AWSClientProvider, repo *store.MemoryRepository) *runtime {
	tasks := store.NewMemoryTaskQueue()
	return &runtime{
		aws: awsP,
		openStore: func(ctx context.Context, _ config.StoreConfig, _ *slog.Logger) (store.Repository, store.TaskQueue, error) {
			if repo == nil {
				return nil, nil, errors.New("connection refused")
			}
			if err := repo.Connect(ctx); err != nil {
				return nil, nil, err
			}
			return repo, tasks, nil
		},
		newS3:     func(*common.ProfileConfig, string) simulation.S3API { return nil },
		getenv:    func(string) string { return "" },
		logOutput: &bytes.Buffer{},
	}
}

// policyServer answers every decision query with an empty deny set.
func policyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": []}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeConfig writes a memory-backed config pointing at policyURL and
// returns root options that load it.
func writeConfig(t *testing.T, policyURL string) *rootOptions {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "store:\n  backend: memory\npolicy:\n  url: " + policyURL + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return &rootOptions{configPath: path, envFile: filepath.Join(dir, ".env"), output: formatTable}
}

// runCLI executes the command tree with args and returns the captured
// output.
func runCLI(t *testing.T, rt *runtime, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := newRootCmdWith(rt)
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// configArgs returns the flags that load opts' config file.
func configArgs(opts *rootOptions) []string {
	return []string{"--config", opts.configPath, "--env-file", opts.envFile}
}
