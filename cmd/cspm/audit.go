package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/engine"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/findings"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/output"
)

func newAuditCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit S3 buckets and KMS keys against the policy engine",
	}
	cmd.AddCommand(
		newAuditResourceCmd(rt, opts, models.ResourceBucket),
		newAuditResourceCmd(rt, opts, models.ResourceKey),
		newSweepCmd(rt, opts),
	)
	return cmd
}

func newAuditResourceCmd(rt *runtime, opts *rootOptions, kind models.ResourceKind) *cobra.Command {
	use, short := "bucket <name>", "Audit one S3 bucket"
	if kind == models.ResourceKey {
		use, short = "key <key-id-or-arn>", "Audit one KMS key"
	}
	var failOn string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, rt, opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.close(ctx)
			if err := a.loadAWS(ctx); err != nil {
				return err
			}

			res := a.auditor.Audit(ctx, kind, args[0], opts.region, "")
			if a.jsonOutput() {
				if err := output.WriteJSON(a.out, res); err != nil {
					return err
				}
			} else {
				output.RenderAuditResult(a.out, res, opts.color)
			}
			if res.Outcome.Failed() {
				return fmt.Errorf("audit %s %s: %s", kind, args[0], res.Outcome)
			}
			return enforce(failOn, res)
		},
	}
	addFailOnFlag(cmd, &failOn)
	return cmd
}

func newSweepCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	var kind, failOn string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Audit every bucket and key in the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := parseKinds(kind)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, rt, opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.close(ctx)
			if err := a.loadAWS(ctx); err != nil {
				return err
			}

			sweeps := make(map[models.ResourceKind]engine.SweepSummary, len(kinds))
			var all []engine.AuditResult
			failed := 0
			for _, k := range kinds {
				sum, err := a.auditor.AuditInventory(ctx, k, a.inventory(k), a.cfg.Audit.SweepConcurrency)
				if err != nil {
					return err
				}
				sweeps[k] = sum
				all = append(all, sum.Results...)
				for outcome, n := range sum.ByOutcome {
					if outcome.Failed() {
						failed += n
					}
				}
			}

			if a.jsonOutput() {
				if err := output.WriteJSON(a.out, sweeps); err != nil {
					return err
				}
			} else {
				for _, k := range kinds {
					printSweep(cmd, k, sweeps[k])
				}
			}
			if failed > 0 {
				return fmt.Errorf("sweep: %d audits failed: %w", failed, errUnhealthy)
			}
			return enforce(failOn, all...)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "all", "Resource kind: bucket, key or all")
	addFailOnFlag(cmd, &failOn)
	return cmd
}

func addFailOnFlag(cmd *cobra.Command, failOn *string) {
	cmd.Flags().StringVar(failOn, "fail-on", "", "Exit non-zero when a finding is at or above this severity (critical, high, medium, low)")
}

// enforce fails when any finding in results, linked key findings included,
// reaches the threshold.
func enforce(threshold string, results ...engine.AuditResult) error {
	if threshold == "" {
		return nil
	}
	if _, ok := findings.ParseSeverity(threshold); !ok {
		return fmt.Errorf("invalid --fail-on %q", threshold)
	}
	if findings.ShouldFail(collectFindings(results), threshold) {
		return fmt.Errorf("findings at or above %s severity", threshold)
	}
	return nil
}

// collectFindings flattens the findings carried by results and their
// linked audits.
func collectFindings(results []engine.AuditResult) []models.Finding {
	var out []models.Finding
	for _, r := range results {
		if r.Finding != nil {
			out = append(out, *r.Finding)
		}
		if r.Linked != nil {
			out = append(out, collectFindings([]engine.AuditResult{*r.Linked})...)
		}
	}
	return out
}

// printSweep writes one line per outcome, sorted by outcome name.
func printSweep(cmd *cobra.Command, kind models.ResourceKind, sum engine.SweepSummary) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %d audited\n", kind, sum.Total)
	outcomes := make([]string, 0, len(sum.ByOutcome))
	for o := range sum.ByOutcome {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(w, "  %-22s %d\n", o, sum.ByOutcome[engine.Outcome(o)])
	}
	for _, r := range sum.Results {
		if r.Outcome.Failed() {
			fmt.Fprintf(w, "  failed: %s (%s: %v)\n", r.ResourceKey, r.Step, r.Err)
		}
	}
}
