package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	awssecurity "github.com/pankaj-dahiya-devops/cspm-auditor/internal/providers/aws/security"
)

// DefaultSweepConcurrency bounds parallel audits in AuditInventory.
const DefaultSweepConcurrency = 4

// SweepSummary counts the outcomes of an inventory sweep.
type SweepSummary struct {
	Total     int             `json:"total"`
	ByOutcome map[Outcome]int `json:"by_outcome"`
	Results   []AuditResult   `json:"results"`
}

// AuditInventory audits every resource lister returns. Resources are
// audited independently; one failure never stops the sweep. A listing
// failure returns an error and audits nothing.
func (a *Auditor) AuditInventory(ctx context.Context, kind models.ResourceKind, lister awssecurity.InventoryLister, concurrency int) (SweepSummary, error) {
	names, err := lister.ListResourceKeys(ctx)
	if err != nil {
		return SweepSummary{}, fmt.Errorf("list %s inventory: %w", kind, err)
	}
	if concurrency <= 0 {
		concurrency = DefaultSweepConcurrency
	}

	results := make([]AuditResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, name := range names {
		g.Go(func() error {
			results[i] = a.Audit(gctx, kind, name, "", "")
			return nil
		})
	}
	_ = g.Wait()

	sum := SweepSummary{Total: len(results), ByOutcome: make(map[Outcome]int), Results: results}
	for _, r := range results {
		sum.ByOutcome[r.Outcome]++
	}
	return sum, nil
}
