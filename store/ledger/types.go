// Package ledger holds the resource metadata ledger and its persisters.
package ledger

import (
	"fmt"
	"time"
)

const (
	// DocumentVersion is the schema version written into every ledger document.
	DocumentVersion = "1.0.0"

	// DefaultCategory is applied when a resource is stored without one.
	DefaultCategory = "general"

	// PriorityCritical marks resources protected from eviction under moderate overage.
	PriorityCritical = 1

	// PriorityLow marks resources evicted first.
	PriorityLow = 4
)

// Record is the metadata kept for one stored resource.
type Record struct {
	Size         int64     `json:"size"`
	Hash         string    `json:"hash"`
	Category     string    `json:"category"`
	Priority     int       `json:"priority"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
	Version      int       `json:"version"`
}

// Validate reports whether the record is usable for scoring.
func (r Record) Validate() error {
	if r.Priority < PriorityCritical || r.Priority > PriorityLow {
		return fmt.Errorf("priority %d outside %d..%d", r.Priority, PriorityCritical, PriorityLow)
	}
	if r.Size < 0 {
		return fmt.Errorf("negative size %d", r.Size)
	}
	if r.AccessCount < 0 {
		return fmt.Errorf("negative access count %d", r.AccessCount)
	}
	return nil
}

// Document is the persisted form of the ledger.
type Document struct {
	Resources   map[string]Record `json:"resources"`
	Version     string            `json:"version"`
	Created     time.Time         `json:"created"`
	LastUpdated time.Time         `json:"last_updated"`
}

func newDocument(now time.Time) *Document {
	return &Document{
		Resources:   make(map[string]Record),
		Version:     DocumentVersion,
		Created:     now,
		LastUpdated: now,
	}
}
