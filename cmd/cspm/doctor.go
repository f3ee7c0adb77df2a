package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/config"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/logging"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/policy"
)

// DoctorResult is the structured output of cspm doctor. It can be serialised
// to JSON via --output=json or rendered as a human-readable table (default).
type DoctorResult struct {
	Config struct {
		Path    string `json:"path"`
		Present bool   `json:"present"`
		Valid   bool   `json:"valid"`
		Error   string `json:"error,omitempty"`
	} `json:"config"`

	AWS struct {
		Profile     string `json:"profile,omitempty"`
		Credentials bool   `json:"credentials_ok"`
		AccountID   string `json:"account_id,omitempty"`
		RegionsOK   bool   `json:"regions_ok"`
		Error       string `json:"error,omitempty"`
	} `json:"aws"`

	Store struct {
		Backend   string `json:"backend"`
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	} `json:"store"`

	Policy struct {
		Mode      string `json:"mode"`
		Target    string `json:"target"`
		Reachable bool   `json:"reachable"`
		Error     string `json:"error,omitempty"`
	} `json:"policy"`

	OverallHealthy bool `json:"overall_healthy"`
}

func newDoctorCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run environment diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runDoctor(cmd.Context(), rt, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if !result.OverallHealthy {
				return errUnhealthy
			}
			return nil
		},
	}
}

// runDoctor collects all diagnostic results, renders them to w in the
// requested format, and returns the result.
// The returned error covers only rendering failures (e.g. JSON encode error).
// Callers must inspect result.OverallHealthy to determine whether the
// environment is healthy.
func runDoctor(ctx context.Context, rt *runtime, opts *rootOptions, w io.Writer) (DoctorResult, error) {
	result := collectDoctorResult(ctx, rt, opts)

	switch opts.output {
	case formatJSON:
		if err := json.NewEncoder(w).Encode(result); err != nil {
			return result, fmt.Errorf("encode doctor result: %w", err)
		}
	default:
		renderDoctorTable(result, w)
	}
	return result, nil
}

// collectDoctorResult runs all environment checks and populates a DoctorResult.
// It performs no rendering; callers decide how to present the result.
func collectDoctorResult(ctx context.Context, rt *runtime, opts *rootOptions) DoctorResult {
	var result DoctorResult

	// Config: stat → load → validate. A missing file means defaults.
	loader := config.FileLoader{Path: opts.configPath, DotEnvPath: opts.envFile, Getenv: rt.getenv}
	result.Config.Path = loader.ConfigPath()
	if _, err := os.Stat(result.Config.Path); err == nil {
		result.Config.Present = true
	}
	cfg, err := loader.Load()
	if err != nil {
		result.Config.Error = err.Error()
		return result
	}
	result.Config.Valid = true
	if opts.profile != "" {
		cfg.AWS.DefaultProfile = opts.profile
	}
	region := opts.region
	if region == "" {
		region = cfg.AWS.DefaultRegion
	}
	logger := logging.New(io.Discard, cfg.Log.Level, cfg.Log.Format)

	// AWS: credentials → STS account ID → region discovery.
	result.AWS.Profile = cfg.AWS.DefaultProfile
	profileCfg, err := rt.aws.LoadProfile(ctx, cfg.AWS.DefaultProfile, region)
	if err != nil {
		result.AWS.Error = err.Error()
	} else {
		result.AWS.Credentials = true
		result.AWS.AccountID = profileCfg.AccountID
		if _, err := rt.aws.GetActiveRegions(ctx, profileCfg); err != nil {
			result.AWS.Error = err.Error()
		} else {
			result.AWS.RegionsOK = true
		}
	}

	// Store: connect → close.
	result.Store.Backend = cfg.Store.Backend
	repo, _, err := rt.openStore(ctx, cfg.Store, logger)
	if err != nil {
		result.Store.Error = err.Error()
	} else {
		result.Store.Connected = true
		_ = repo.Close(ctx)
	}

	// Policy: one probe query against the key decision path.
	result.Policy.Mode = cfg.Policy.Mode
	var decider policy.Decider
	if cfg.Policy.Mode == config.PolicyModeEmbedded {
		result.Policy.Target = cfg.Policy.BundleDir
		decider = policy.NewRegoDecider(cfg.Policy.BundleDir)
	} else {
		result.Policy.Target = cfg.Policy.URL
		decider = policy.NewHTTPDecider(cfg.Policy.URL, nil, cfg.Policy.Timeout)
	}
	if _, err := decider.Query(ctx, cfg.Policy.Endpoints.WithDefaults().Key, map[string]any{}); err != nil {
		result.Policy.Error = err.Error()
	} else {
		result.Policy.Reachable = true
	}

	result.OverallHealthy = result.Config.Valid &&
		result.AWS.Credentials &&
		result.AWS.RegionsOK &&
		result.Store.Connected &&
		result.Policy.Reachable

	return result
}

// renderDoctorTable writes the human-readable diagnostic output from result to w.
func renderDoctorTable(result DoctorResult, w io.Writer) {
	fmt.Fprintln(w, "Environment Diagnostics")

	fmt.Fprintln(w, "\nConfig:")
	if result.Config.Present {
		doctorPrint(w, "File", "YES", result.Config.Path)
	} else {
		doctorPrint(w, "File", "Not found (defaults)", result.Config.Path)
	}
	if !result.Config.Valid {
		doctorPrint(w, "Valid", "FAIL", result.Config.Error)
		return
	}
	doctorPrint(w, "Valid", "OK", "")

	if result.AWS.Profile != "" {
		fmt.Fprintf(w, "\nAWS (profile: %s):\n", result.AWS.Profile)
	} else {
		fmt.Fprintln(w, "\nAWS:")
	}
	if !result.AWS.Credentials {
		doctorPrint(w, "Credentials", "FAIL", result.AWS.Error)
		doctorPrint(w, "STS Identity", "FAIL", "skipped")
		doctorPrint(w, "Regions API", "FAIL", "skipped")
	} else {
		doctorPrint(w, "Credentials", "OK", "")
		doctorPrint(w, "STS Identity", "OK", "Account: "+result.AWS.AccountID)
		if result.AWS.RegionsOK {
			doctorPrint(w, "Regions API", "OK", "")
		} else {
			doctorPrint(w, "Regions API", "FAIL", result.AWS.Error)
		}
	}

	fmt.Fprintf(w, "\nStore (%s):\n", result.Store.Backend)
	if result.Store.Connected {
		doctorPrint(w, "Connected", "OK", "")
	} else {
		doctorPrint(w, "Connected", "FAIL", result.Store.Error)
	}

	fmt.Fprintf(w, "\nPolicy (%s):\n", result.Policy.Mode)
	if result.Policy.Reachable {
		doctorPrint(w, "Decision API", "OK", result.Policy.Target)
	} else {
		doctorPrint(w, "Decision API", "FAIL", result.Policy.Error)
	}
}

// doctorPrint writes a single diagnostic check line to w.
// When detail is non-empty it is appended in parentheses.
func doctorPrint(w io.Writer, label, status, detail string) {
	if detail != "" {
		fmt.Fprintf(w, "  %s: %s (%s)\n", label, status, detail)
	} else {
		fmt.Fprintf(w, "  %s: %s\n", label, status)
	}
}
