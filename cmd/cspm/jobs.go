package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/output"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/reconcile"
)

func newReconcileCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Delete findings for resources that no longer exist",
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

			results := make(map[models.ResourceKind]reconcile.ReconcileResult, len(kinds))
			failed := 0
			for _, k := range kinds {
				job := reconcile.ReconcileJob(reconcile.NewReconciler(a.repo, k, a.inventory(k), a.logger), a.publisher, a.logger)
				sum, err := job.Run(ctx)
				if err != nil {
					return err
				}
				res := sum.(reconcile.ReconcileResult)
				results[k] = res
				if !a.jsonOutput() {
					fmt.Fprintf(a.out, "%s: %d live, %d stored, %d stale, %d findings removed\n",
						k, res.LiveKeys, res.StoredKeys, len(res.StaleKeys), res.Removed)
				}
				failed += len(res.FailedKeys)
			}
			if a.jsonOutput() {
				if err := output.WriteJSON(a.out, results); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("reconcile: %d keys failed: %w", failed, errUnhealthy)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "all", "Resource kind: bucket, key or all")
	return cmd
}

func newDedupeCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Keep only the newest finding per resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k := models.ResourceKind(kind)
			if kind != "" && !k.Valid() {
				return fmt.Errorf("invalid --kind %q: want bucket or key", kind)
			}
			a, err := newApp(cmd, rt, opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.openStore(ctx); err != nil {
				return err
			}
			defer a.close(ctx)

			job := reconcile.DedupJob(reconcile.NewDeduplicator(a.repo, k, a.logger), a.publisher, a.logger)
			sum, err := job.Run(ctx)
			if err != nil {
				return err
			}
			res := sum.(reconcile.DedupResult)
			if a.jsonOutput() {
				return output.WriteJSON(a.out, res)
			}
			fmt.Fprintf(a.out, "%d resources scanned, %d with duplicates, %d findings removed\n",
				res.Keys, res.Duplicated, res.Removed)
			if len(res.FailedKeys) > 0 {
				fmt.Fprintf(a.out, "failed: %v\n", res.FailedKeys)
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Restrict to one resource kind: bucket or key")
	return cmd
}
