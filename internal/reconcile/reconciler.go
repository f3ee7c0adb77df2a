// Package reconcile keeps the findings store consistent with the live
// inventory. Reconciler removes findings for resources that no longer
// exist; Deduplicator collapses each resource key to its newest finding.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/metrics"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	awssecurity "github.com/pankaj-dahiya-devops/cspm-auditor/internal/providers/aws/security"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Kind       models.ResourceKind `json:"kind"`
	StoredKeys int                 `json:"stored_keys"`
	LiveKeys   int                 `json:"live_keys"`
	StaleKeys  []string            `json:"stale_keys"`
	Removed    int64               `json:"removed"`
	FailedKeys []string            `json:"failed_keys"`
}

// LogValue implements slog.LogValuer.
func (r ReconcileResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(r.Kind)),
		slog.Int("stored_keys", r.StoredKeys),
		slog.Int("live_keys", r.LiveKeys),
		slog.Int("stale_keys", len(r.StaleKeys)),
		slog.Int64("removed", r.Removed),
		slog.Int("failed_keys", len(r.FailedKeys)),
	)
}

// Metrics implements Summary.
func (r ReconcileResult) Metrics() []metrics.Datum {
	dims := map[string]string{"Kind": string(r.Kind)}
	return []metrics.Datum{
		metrics.Count(metrics.ReconcileStaleKeys, len(r.StaleKeys), dims),
		metrics.Count(metrics.ReconcileRemoved, int(r.Removed), dims),
		metrics.Count(metrics.ReconcileFailedKeys, len(r.FailedKeys), dims),
	}
}

// Reconciler removes findings whose resource is absent from the live
// inventory of one resource kind.
type Reconciler struct {
	repo   store.Repository
	kind   models.ResourceKind
	lister awssecurity.InventoryLister
	logger *slog.Logger
}

// NewReconciler returns a Reconciler for kind.
func NewReconciler(repo store.Repository, kind models.ResourceKind, lister awssecurity.InventoryLister, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, kind: kind, lister: lister, logger: logger}
}

// Reconcile deletes findings for every stored resource key that the live
// listing does not return. A failed listing aborts the pass before any
// deletion. An empty listing that succeeded makes every stored key stale.
// A failed delete for one key is logged and counted, not fatal.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	res := ReconcileResult{Kind: r.kind, StaleKeys: []string{}, FailedKeys: []string{}}

	live, err := r.lister.ListResourceKeys(ctx)
	if err != nil {
		return res, fmt.Errorf("list live %s inventory: %w", r.kind, err)
	}
	stored, err := r.repo.DistinctResourceKeys(ctx, r.kind)
	if err != nil {
		return res, fmt.Errorf("list stored %s keys: %w", r.kind, err)
	}
	res.LiveKeys = len(live)
	res.StoredKeys = len(stored)

	liveSet := make(map[string]struct{}, len(live))
	for _, k := range live {
		liveSet[k] = struct{}{}
	}

	for _, key := range stored {
		if _, ok := liveSet[key]; ok || key == "" {
			continue
		}
		res.StaleKeys = append(res.StaleKeys, key)

		n, err := r.repo.DeleteByResourceKey(ctx, key)
		if err != nil {
			res.FailedKeys = append(res.FailedKeys, key)
			r.logger.Warn("delete stale findings failed", "kind", r.kind, "resource", key, "error", err)
			continue
		}
		res.Removed += n
		r.logger.Info("stale findings removed", "kind", r.kind, "resource", key, "removed", n)
	}
	return res, nil
}
