package store

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

func TestFilterDocument_Empty(t *testing.T) {
	if got := filterDocument(Filter{}); len(got) != 0 {
		t.Errorf("filter = %v; want empty", got)
	}
}

func TestFilterDocument_AllFields(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := filterDocument(Filter{
		Severity:    "HIGH",
		Service:     "S3",
		Status:      "Open",
		Kind:        models.ResourceBucket,
		ResourceKey: "b",
		Search:      "a.b",
		Since:       since,
	})

	for field, want := range map[string]string{
		"severity":      "HIGH",
		"service":       "S3",
		"status":        "Open",
		"resource_kind": "bucket",
		"resource_key":  "b",
	} {
		if got[field] != want {
			t.Errorf("%s = %v; want %q", field, got[field], want)
		}
	}
	ts, ok := got["timestamp"].(bson.M)
	if !ok || ts["$gte"] != since {
		t.Errorf("timestamp = %v", got["timestamp"])
	}
	or, ok := got["$or"].(bson.A)
	if !ok || len(or) != 3 {
		t.Fatalf("$or = %v", got["$or"])
	}
	re := or[0].(bson.M)["title"].(primitive.Regex)
	if re.Pattern != `a\.b` || re.Options != "i" {
		t.Errorf("regex = %+v; want escaped, case-insensitive", re)
	}
}

func TestUpsertUpdate_PreservesInsertOnlyFields(t *testing.T) {
	doc := newFindingDocument(models.NewStoredFinding(bucketFinding("f1", "b", models.SeverityHigh), "b", time.Now()))
	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	u := upsertUpdate(doc, now)

	set := u["$set"].(bson.M)
	onInsert := u["$setOnInsert"].(bson.M)
	for _, k := range []string{"status", "first_seen", "source"} {
		if _, ok := set[k]; ok {
			t.Errorf("%s must not be overwritten on update", k)
		}
		if _, ok := onInsert[k]; !ok {
			t.Errorf("%s missing from $setOnInsert", k)
		}
	}
	if set["timestamp"] != now || set["severity"] != doc.Severity {
		t.Errorf("$set = %v", set)
	}
}

func TestCountByPipeline(t *testing.T) {
	if _, err := countByPipeline("title", Filter{}); err == nil {
		t.Error("expected error for unsupported field")
	}
	p, err := countByPipeline("severity", Filter{Service: "S3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p) != 3 {
		t.Errorf("stages = %d; want 3", len(p))
	}
	group := p[1][0].Value.(bson.M)
	if group["_id"] != "$severity" {
		t.Errorf("group _id = %v; want $severity", group["_id"])
	}
}

func TestNewestFirstSort(t *testing.T) {
	want := bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}
	if len(newestFirst) != len(want) {
		t.Fatalf("sort = %v; want %v", newestFirst, want)
	}
	for i := range want {
		if newestFirst[i].Key != want[i].Key || newestFirst[i].Value != want[i].Value {
			t.Errorf("sort[%d] = %v; want %v", i, newestFirst[i], want[i])
		}
	}
}

func TestIDFilter(t *testing.T) {
	oid := primitive.NewObjectID()
	if got := idFilter(oid.Hex()); got["_id"] != oid {
		t.Errorf("hex id filter = %v", got)
	}
	if got := idFilter("d41d8cd98f00b204e9800998ecf8427e"); got["finding_id"] != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("hash id filter = %v", got)
	}
}

func TestClaimFilter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := claimFilter(now, time.Minute)
	branches := f["$or"].(bson.A)
	if len(branches) != 2 {
		t.Fatalf("branches = %v", branches)
	}
	stale := branches[1].(bson.M)["claimed_at"].(bson.M)["$lte"].(time.Time)
	if !stale.Equal(now.Add(-time.Minute)) {
		t.Errorf("lease cutoff = %v", stale)
	}
}
