package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// MemoryRepository is an in-process Repository with the same semantics as
// MongoRepository. Ids are ObjectID hex strings.
type MemoryRepository struct {
	mu        sync.Mutex
	connected bool
	items     map[string]models.StoredFinding
	now       func() time.Time
}

// NewMemoryRepository returns an unconnected in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]models.StoredFinding), now: time.Now}
}

// SetClock overrides the ingestion clock.
func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Connect implements Repository.
func (m *MemoryRepository) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close implements Repository. Stored data survives a reconnect.
func (m *MemoryRepository) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// Put stores sf as-is, assigning an id when empty. It bypasses the
// connection check so tests can seed state, including duplicates.
func (m *MemoryRepository) Put(sf models.StoredFinding) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sf.ID == "" {
		sf.ID = primitive.NewObjectID().Hex()
	}
	m.items[sf.ID] = sf
	return sf.ID
}

// Len returns the number of stored findings.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryRepository) ready() error {
	if !m.connected {
		return ErrNotInitialized
	}
	return nil
}

// Upsert implements Repository.
func (m *MemoryRepository) Upsert(_ context.Context, f models.Finding, resourceKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return "", err
	}
	now := m.now().UTC()
	next := models.NewStoredFinding(f, resourceKey, now)
	for id, cur := range m.items {
		if cur.ResourceKey != resourceKey || cur.FindingID != f.FindingID {
			continue
		}
		next.ID = id
		next.Source = cur.Source
		next.Status = cur.Status
		next.FirstSeen = cur.FirstSeen
		m.items[id] = next
		return id, nil
	}
	next.ID = primitive.NewObjectID().Hex()
	m.items[next.ID] = next
	return next.ID, nil
}

// Insert implements Repository.
func (m *MemoryRepository) Insert(_ context.Context, f models.Finding, resourceKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return "", err
	}
	sf := models.NewStoredFinding(f, resourceKey, m.now().UTC())
	sf.ID = primitive.NewObjectID().Hex()
	m.items[sf.ID] = sf
	return sf.ID, nil
}

// selectLocked returns matching findings newest first. Callers hold mu.
func (m *MemoryRepository) selectLocked(match func(models.StoredFinding) bool) []models.StoredFinding {
	var out []models.StoredFinding
	for _, sf := range m.items {
		if match(sf) {
			out = append(out, sf)
		}
	}
	sortNewestFirst(out)
	return out
}

// sortNewestFirst orders by timestamp then id, both descending.
func sortNewestFirst(items []models.StoredFinding) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].ID > items[j].ID
	})
}

func limited(items []models.StoredFinding, limit int) []models.StoredFinding {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	if items == nil {
		return []models.StoredFinding{}
	}
	return items
}

// FindByResourceKey implements Repository.
func (m *MemoryRepository) FindByResourceKey(_ context.Context, key string, limit int) ([]models.StoredFinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	return limited(m.selectLocked(func(sf models.StoredFinding) bool { return sf.ResourceKey == key }), limit), nil
}

// FindRecent implements Repository.
func (m *MemoryRepository) FindRecent(_ context.Context, limit int) ([]models.StoredFinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	return limited(m.selectLocked(func(models.StoredFinding) bool { return true }), limit), nil
}

// FindByID implements Repository.
func (m *MemoryRepository) FindByID(_ context.Context, id string) (*models.StoredFinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	if sf, ok := m.items[id]; ok {
		return &sf, nil
	}
	matches := m.selectLocked(func(sf models.StoredFinding) bool { return sf.FindingID == id })
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return &matches[0], nil
}

// List implements Repository.
func (m *MemoryRepository) List(_ context.Context, f Filter, p Page) ([]models.StoredFinding, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, 0, err
	}
	all := m.selectLocked(f.matches)
	p = p.Normalize()
	start := int(p.Skip())
	if start > len(all) {
		start = len(all)
	}
	end := start + p.Limit
	if end > len(all) {
		end = len(all)
	}
	page := append([]models.StoredFinding{}, all[start:end]...)
	return page, int64(len(all)), nil
}

// DeleteByResourceKey implements Repository.
func (m *MemoryRepository) DeleteByResourceKey(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return 0, err
	}
	var n int64
	for id, sf := range m.items {
		if sf.ResourceKey == key {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

// DeleteByIDs implements Repository.
func (m *MemoryRepository) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return 0, err
	}
	if _, err := objectIDs(ids); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		if _, ok := m.items[id]; ok {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

// DistinctResourceKeys implements Repository.
func (m *MemoryRepository) DistinctResourceKeys(_ context.Context, kind models.ResourceKind) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	keys := []string{}
	for _, sf := range m.items {
		if kind != "" && sf.ResourceKind != kind {
			continue
		}
		if _, dup := seen[sf.ResourceKey]; dup || sf.ResourceKey == "" {
			continue
		}
		seen[sf.ResourceKey] = struct{}{}
		keys = append(keys, sf.ResourceKey)
	}
	sort.Strings(keys)
	return keys, nil
}

// CountMatching implements Repository.
func (m *MemoryRepository) CountMatching(_ context.Context, f Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return 0, err
	}
	var n int64
	for _, sf := range m.items {
		if f.matches(sf) {
			n++
		}
	}
	return n, nil
}

// CountBy implements Repository.
func (m *MemoryRepository) CountBy(_ context.Context, field string, f Filter) ([]GroupCount, error) {
	if _, ok := groupableFields[field]; !ok {
		return nil, fmt.Errorf("count by %q: unsupported field", field)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, sf := range m.items {
		if f.matches(sf) {
			counts[fieldValue(sf, field)]++
		}
	}
	out := make([]GroupCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, GroupCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

// Timeline implements Repository.
func (m *MemoryRepository) Timeline(_ context.Context, since time.Time) ([]TimelinePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	days := make(map[string]*TimelinePoint)
	for _, sf := range m.items {
		if sf.Timestamp.Before(since) {
			continue
		}
		date := sf.Timestamp.UTC().Format("2006-01-02")
		p, ok := days[date]
		if !ok {
			p = &TimelinePoint{Date: date}
			days[date] = p
		}
		p.Total++
		switch sf.Severity {
		case models.SeverityCritical:
			p.Critical++
		case models.SeverityHigh:
			p.High++
		case models.SeverityMedium:
			p.Medium++
		case models.SeverityLow:
			p.Low++
		}
	}
	out := make([]TimelinePoint, 0, len(days))
	for _, p := range days {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// UpdateStatus implements Repository.
func (m *MemoryRepository) UpdateStatus(_ context.Context, id string, status models.FindingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update status: invalid status %q", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}
	now := m.now().UTC()
	matched := false
	for key, sf := range m.items {
		if key == id || sf.FindingID == id {
			sf.Status = status
			sf.UpdatedAt = now
			m.items[key] = sf
			matched = true
		}
	}
	if !matched {
		return ErrNotFound
	}
	return nil
}

// matches reports whether sf satisfies f.
func (f Filter) matches(sf models.StoredFinding) bool {
	if f.Severity != "" && string(sf.Severity) != f.Severity {
		return false
	}
	if f.Service != "" && sf.Service != f.Service {
		return false
	}
	if f.Status != "" && string(sf.Status) != f.Status {
		return false
	}
	if f.Kind != "" && sf.ResourceKind != f.Kind {
		return false
	}
	if f.ResourceKey != "" && sf.ResourceKey != f.ResourceKey {
		return false
	}
	if !f.Since.IsZero() && sf.Timestamp.Before(f.Since) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(sf.Title), needle) &&
			!strings.Contains(strings.ToLower(sf.Description), needle) &&
			!strings.Contains(strings.ToLower(sf.ResourceID), needle) {
			return false
		}
	}
	return true
}

func fieldValue(sf models.StoredFinding, field string) string {
	switch field {
	case "severity":
		return string(sf.Severity)
	case "service":
		return sf.Service
	case "status":
		return string(sf.Status)
	case "resource_kind":
		return string(sf.ResourceKind)
	case "region":
		return sf.Region
	}
	return ""
}
