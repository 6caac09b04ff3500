package resource

import (
	"cmp"
	"context"
	"slices"
	"time"
)

// DefaultPerPage is the page size used when a query does not set one.
const DefaultPerPage = 50

// ListQuery filters and paginates List.
type ListQuery struct {
	// Category keeps only exact matches when non-empty.
	Category string
	// MaxSize keeps only resources no larger than this when positive.
	MaxSize int64
	// Page is 1-based; values below 1 mean 1.
	Page int
	// PerPage values below 1 mean DefaultPerPage.
	PerPage int
}

// Summary describes one resource in a listing.
type Summary struct {
	ID           string    `json:"resource_id"`
	Size         int64     `json:"size"`
	Category     string    `json:"category"`
	Priority     int       `json:"priority"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
	Version      int       `json:"version"`
}

// VersionInfo is the version metadata of one resource.
type VersionInfo struct {
	ID           string    `json:"resource_id"`
	Version      int       `json:"version"`
	Hash         string    `json:"hash"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	Priority     int       `json:"priority"`
}

// List returns one page of resources, most recently accessed first.
// Pages past the end are empty.
func (m *Manager) List(ctx context.Context, q ListQuery) ([]Summary, error) {
	page := max(q.Page, 1)
	perPage := q.PerPage
	if perPage < 1 {
		perPage = DefaultPerPage
	}

	m.mu.RLock()
	records := m.ledger.Snapshot()
	m.mu.RUnlock()

	summaries := make([]Summary, 0, len(records))
	for id, rec := range records {
		if q.Category != "" && rec.Category != q.Category {
			continue
		}
		if q.MaxSize > 0 && rec.Size > q.MaxSize {
			continue
		}
		summaries = append(summaries, Summary{
			ID:           id,
			Size:         rec.Size,
			Category:     rec.Category,
			Priority:     rec.Priority,
			Created:      rec.Created,
			LastAccessed: rec.LastAccessed,
			AccessCount:  rec.AccessCount,
			Version:      rec.Version,
		})
	}

	slices.SortFunc(summaries, compareRecency)

	// Count pages first so the offset below cannot overflow.
	pages := len(summaries) / perPage
	if len(summaries)%perPage != 0 {
		pages++
	}
	if page-1 >= pages {
		return []Summary{}, nil
	}
	start := (page - 1) * perPage
	end := start + min(perPage, len(summaries)-start)
	return summaries[start:end], nil
}

// compareRecency orders by last access descending with unset times last,
// then by id.
func compareRecency(a, b Summary) int {
	switch {
	case a.LastAccessed.IsZero() && !b.LastAccessed.IsZero():
		return 1
	case !a.LastAccessed.IsZero() && b.LastAccessed.IsZero():
		return -1
	}
	if c := b.LastAccessed.Compare(a.LastAccessed); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Version returns version metadata for id.
func (m *Manager) Version(ctx context.Context, id string) (VersionInfo, error) {
	m.mu.RLock()
	rec, ok := m.ledger.Get(id)
	m.mu.RUnlock()

	if !ok {
		return VersionInfo{}, newError(KindNotFound, "version", id, nil)
	}
	return VersionInfo{
		ID:           id,
		Version:      rec.Version,
		Hash:         rec.Hash,
		Size:         rec.Size,
		LastModified: rec.Created,
		Priority:     rec.Priority,
	}, nil
}

// Count returns the number of resources in the ledger.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Len()
}
