package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

type fakeLister struct {
	keys []string
	err  error
}

func (f fakeLister) ListResourceKeys(context.Context) ([]string, error) { return f.keys, f.err }

func TestAuditInventory_IndependentUnits(t *testing.T) {
	c := &fakeCollector{buckets: map[string]models.BucketConfiguration{
		"a": plainBucket("a"),
		"b": plainBucket("b"),
	}}
	h := newHarness(t, c, &fakePolicy{bucket: deny("High")})

	sum, err := h.auditor.AuditInventory(context.Background(), models.ResourceBucket, fakeLister{keys: []string{"a", "gone", "b"}}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Total != 3 {
		t.Errorf("total = %d; want 3", sum.Total)
	}
	if sum.ByOutcome[OutcomeFindingStored] != 2 || sum.ByOutcome[OutcomeCollectionFailed] != 1 {
		t.Errorf("outcomes = %v", sum.ByOutcome)
	}
	if sum.Results[1].ResourceKey != "gone" {
		t.Errorf("results must keep listing order; got %q at 1", sum.Results[1].ResourceKey)
	}
}

func TestAuditInventory_ListingFailure(t *testing.T) {
	h := newHarness(t, &fakeCollector{}, &fakePolicy{})

	_, err := h.auditor.AuditInventory(context.Background(), models.ResourceBucket, fakeLister{err: errors.New("throttled")}, 0)
	if err == nil {
		t.Fatal("expected listing error")
	}
	if h.repo.Len() != 0 {
		t.Error("listing failure must not write")
	}
}
