package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/output"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/render"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

func newFindingsCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "findings",
		Short: "Query and triage stored findings",
	}
	cmd.AddCommand(
		newFindingsListCmd(rt, opts),
		newFindingsGetCmd(rt, opts),
		newFindingsStatusCmd(rt, opts),
	)
	return cmd
}

func newFindingsListCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	var (
		filter store.Filter
		kind   string
		page   store.Page
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored findings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, rt, opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.openStore(ctx); err != nil {
				return err
			}
			defer a.close(ctx)

			filter.Kind = models.ResourceKind(kind)
			page = page.Normalize()
			items, total, err := a.repo.List(ctx, filter, page)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return output.WriteJSON(a.out, map[string]any{
					"findings": items,
					"total":    total,
					"page":     page.Page,
					"limit":    page.Limit,
				})
			}
			output.RenderTable(a.out, items, output.TableOptions{
				Colored:        opts.color,
				IncludeStatus:  true,
				IncludeAccount: true,
			})
			fmt.Fprintf(a.out, "\nShowing %d of %d (page %d)\n", len(items), total, page.Page)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.Severity, "severity", "", "Filter by severity label")
	f.StringVar(&filter.Service, "service", "", "Filter by service (S3 or KMS)")
	f.StringVar(&filter.Status, "status", "", "Filter by workflow status")
	f.StringVar(&kind, "kind", "", "Filter by resource kind: bucket or key")
	f.StringVar(&filter.ResourceKey, "resource", "", "Filter by resource key")
	f.StringVar(&filter.Search, "search", "", "Case-insensitive text search")
	f.IntVar(&page.Page, "page", 1, "Page number")
	f.IntVar(&page.Limit, "limit", store.DefaultPageLimit, "Page size")
	return cmd
}

func newFindingsGetCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Explain one finding by store id or finding id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, rt, opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.openStore(ctx); err != nil {
				return err
			}
			defer a.close(ctx)

			sf, err := a.repo.FindByID(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				if a.jsonOutput() {
					if werr := render.WriteExplainJSON(a.out, nil, nil, args[0]); werr != nil {
						return werr
					}
				}
				return fmt.Errorf("finding %s: %w", args[0], err)
			}
			if err != nil {
				return err
			}

			var linked *models.StoredFinding
			if id := render.LinkedKeyFindingID(*sf); id != "" {
				linked, err = a.repo.FindByID(ctx, id)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}
			if a.jsonOutput() {
				return render.WriteExplainJSON(a.out, sf, linked, args[0])
			}
			render.RenderFindingExplanation(a.out, *sf, linked)
			return nil
		},
	}
}

func newFindingsStatusCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <Open|In Progress|Resolved>",
		Short: "Set the workflow status of a finding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.FindingStatus(args[1])
			if !status.Valid() {
				return fmt.Errorf("invalid status %q: want %q, %q or %q",
					args[1], models.StatusOpen, models.StatusInProgress, models.StatusResolved)
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

			if err := a.repo.UpdateStatus(ctx, args[0], status); err != nil {
				return fmt.Errorf("update finding %s: %w", args[0], err)
			}
			if a.jsonOutput() {
				return output.WriteJSON(a.out, map[string]any{"id": args[0], "status": status})
			}
			fmt.Fprintf(a.out, "Finding %s marked %s\n", args[0], status)
			return nil
		},
	}
}
