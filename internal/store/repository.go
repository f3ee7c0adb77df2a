// Package store persists findings and scheduled tasks. MongoRepository is
// the production backend; MemoryRepository backs tests and offline runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

var (
	// ErrNotInitialized is returned by every operation on a repository whose
	// Connect has not succeeded.
	ErrNotInitialized = errors.New("findings store not initialized")

	// ErrNotFound is returned when a lookup by id matches nothing.
	ErrNotFound = errors.New("finding not found")
)

// Write modes for findings.
const (
	WriteModeUpsert = "upsert"
	WriteModeAppend = "append"
)

// Default list page size and the largest accepted one.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 200
)

// Filter narrows list and count queries. Zero fields match everything.
type Filter struct {
	Severity    string
	Service     string
	Status      string
	Kind        models.ResourceKind
	ResourceKey string
	// Search is a case-insensitive substring match on title, description
	// and resource id.
	Search string
	// Since keeps findings ingested at or after the given time.
	Since time.Time
}

// Page selects one page of a listing, 1-based.
type Page struct {
	Page  int
	Limit int
}

// Normalize clamps p to valid bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Skip is the number of items before the page.
func (p Page) Skip() int64 {
	p = p.Normalize()
	return int64((p.Page - 1) * p.Limit)
}

// GroupCount is one bucket of a CountBy aggregation.
type GroupCount struct {
	Value string `json:"_id"`
	Count int64  `json:"count"`
}

// TimelinePoint is the per-day finding count by severity.
type TimelinePoint struct {
	Date     string `json:"date"`
	Total    int64  `json:"total"`
	Critical int64  `json:"critical"`
	High     int64  `json:"high"`
	Medium   int64  `json:"medium"`
	Low      int64  `json:"low"`
}

// groupableFields are the projection fields CountBy accepts.
var groupableFields = map[string]struct{}{
	"severity":      {},
	"service":       {},
	"status":        {},
	"resource_kind": {},
	"region":        {},
}

// Repository is the findings store.
type Repository interface {
	// Connect establishes the backend connection. It must succeed before
	// any other operation.
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Upsert writes f keyed by (resourceKey, finding id). An existing entry
	// keeps its id, first-seen time and dashboard status.
	Upsert(ctx context.Context, f models.Finding, resourceKey string) (string, error)
	// Insert appends f as a new entry.
	Insert(ctx context.Context, f models.Finding, resourceKey string) (string, error)

	// FindByResourceKey returns findings for key, newest first (timestamp,
	// then id). limit <= 0 means no limit.
	FindByResourceKey(ctx context.Context, key string, limit int) ([]models.StoredFinding, error)
	FindRecent(ctx context.Context, limit int) ([]models.StoredFinding, error)
	FindByID(ctx context.Context, id string) (*models.StoredFinding, error)
	List(ctx context.Context, f Filter, p Page) ([]models.StoredFinding, int64, error)

	DeleteByResourceKey(ctx context.Context, key string) (int64, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)

	DistinctResourceKeys(ctx context.Context, kind models.ResourceKind) ([]string, error)
	CountMatching(ctx context.Context, f Filter) (int64, error)
	CountBy(ctx context.Context, field string, f Filter) ([]GroupCount, error)
	Timeline(ctx context.Context, since time.Time) ([]TimelinePoint, error)

	UpdateStatus(ctx context.Context, id string, status models.FindingStatus) error
}

// Write stores f using mode: WriteModeAppend inserts, anything else upserts.
func Write(ctx context.Context, r Repository, mode string, f models.Finding, resourceKey string) (string, error) {
	if mode == WriteModeAppend {
		return r.Insert(ctx, f, resourceKey)
	}
	return r.Upsert(ctx, f, resourceKey)
}
