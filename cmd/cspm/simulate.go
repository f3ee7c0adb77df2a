package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/output"
)

func newSimulateCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Create and remove deliberately misconfigured demo buckets",
	}
	cmd.AddCommand(newSimulateCreateCmd(rt, opts), newSimulateCleanupCmd(rt, opts))
	return cmd
}

func newSimulateCreateCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a public demo bucket, audit it and schedule its cleanup",
		Args:  cobra.NoArgs,
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

			sim, err := a.simulator().CreateVulnerableBucket(ctx)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return output.WriteJSON(a.out, sim)
			}
			fmt.Fprintln(a.out, sim.Message)
			fmt.Fprintf(a.out, "bucket: %s (%s)\ncleanup at: %s (task %s)\n",
				sim.ResourceID, sim.Region, sim.CleanupAt.Format("2006-01-02 15:04:05 MST"), sim.TaskID)
			if sim.Audit != nil {
				output.RenderAuditResult(a.out, *sim.Audit, opts.color)
			}
			return nil
		},
	}
}

func newSimulateCleanupCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "cleanup [bucket]",
		Short: "Remove a demo bucket and its findings, or every demo bucket with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("pass a bucket name or --all, not both")
			}
			if !all && len(args) != 1 {
				return errors.New("requires a bucket name or --all")
			}
			return nil
		},
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
			s := a.simulator()

			if all {
				results, cerr := s.CleanupAll(ctx)
				if a.jsonOutput() {
					if err := output.WriteJSON(a.out, results); err != nil {
						return err
					}
				} else {
					for _, r := range results {
						fmt.Fprintf(a.out, "removed %s (%d objects, %d findings)\n", r.ResourceID, r.ObjectsDeleted, r.FindingsDeleted)
					}
					fmt.Fprintf(a.out, "%d demo buckets removed\n", len(results))
				}
				return cerr
			}

			res, err := s.Cleanup(ctx, args[0])
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return output.WriteJSON(a.out, res)
			}
			fmt.Fprintf(a.out, "removed %s (%d objects, %d findings)\n", res.ResourceID, res.ObjectsDeleted, res.FindingsDeleted)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Remove every demo bucket")
	return cmd
}
