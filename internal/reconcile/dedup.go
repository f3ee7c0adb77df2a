package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/metrics"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

// DedupResult summarizes one deduplication pass.
type DedupResult struct {
	Kind       models.ResourceKind `json:"kind,omitempty"`
	Keys       int                 `json:"keys"`
	Duplicated int                 `json:"duplicated_keys"`
	Removed    int64               `json:"removed"`
	FailedKeys []string            `json:"failed_keys"`
}

// LogValue implements slog.LogValuer.
func (r DedupResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(r.Kind)),
		slog.Int("keys", r.Keys),
		slog.Int("duplicated_keys", r.Duplicated),
		slog.Int64("removed", r.Removed),
		slog.Int("failed_keys", len(r.FailedKeys)),
	)
}

// Metrics implements Summary.
func (r DedupResult) Metrics() []metrics.Datum {
	kind := string(r.Kind)
	if kind == "" {
		kind = "all"
	}
	dims := map[string]string{"Kind": kind}
	return []metrics.Datum{
		metrics.Count(metrics.DedupRemoved, int(r.Removed), dims),
		metrics.Count(metrics.DedupFailedKeys, len(r.FailedKeys), dims),
	}
}

// Deduplicator keeps only the newest finding per resource key.
type Deduplicator struct {
	repo   store.Repository
	kind   models.ResourceKind
	logger *slog.Logger
}

// NewDeduplicator returns a Deduplicator over kind; an empty kind covers
// every stored key.
func NewDeduplicator(repo store.Repository, kind models.ResourceKind, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{repo: repo, kind: kind, logger: logger}
}

// Deduplicate processes each resource key independently: the newest
// finding (timestamp, then id) is kept and the rest are deleted by id.
// Per-key failures are logged and counted; only failing to list the keys
// is an error.
func (d *Deduplicator) Deduplicate(ctx context.Context) (DedupResult, error) {
	res := DedupResult{Kind: d.kind, FailedKeys: []string{}}

	keys, err := d.repo.DistinctResourceKeys(ctx, d.kind)
	if err != nil {
		return res, fmt.Errorf("list resource keys: %w", err)
	}
	res.Keys = len(keys)

	for _, key := range keys {
		n, err := d.collapse(ctx, key)
		if err != nil {
			res.FailedKeys = append(res.FailedKeys, key)
			d.logger.Warn("deduplicate failed", "resource", key, "error", err)
			continue
		}
		if n > 0 {
			res.Duplicated++
			res.Removed += n
			d.logger.Info("duplicates removed", "resource", key, "removed", n)
		}
	}
	return res, nil
}

// collapse deletes every finding for key except the newest.
func (d *Deduplicator) collapse(ctx context.Context, key string) (int64, error) {
	docs, err := d.repo.FindByResourceKey(ctx, key, 0)
	if err != nil {
		return 0, fmt.Errorf("find findings: %w", err)
	}
	if len(docs) <= 1 {
		return 0, nil
	}
	ids := make([]string, 0, len(docs)-1)
	for _, sf := range docs[1:] {
		ids = append(ids, sf.ID)
	}
	n, err := d.repo.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("delete %d duplicates: %w", len(ids), err)
	}
	return n, nil
}
