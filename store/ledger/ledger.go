package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// Ledger is the in-memory mapping from resource id to Record, mirrored to a
// Persister on every Commit.
//
// A Ledger is not safe for concurrent use; its owner serialises access.
type Ledger struct {
	doc       *Document
	persister Persister
	logger    *slog.Logger
	now       func() time.Time
	recovered bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger for the ledger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Open loads the ledger from p. A missing document yields an empty ledger.
// An unreadable document also yields an empty ledger; the failure is logged
// and reported by Recovered, but never returned.
func Open(ctx context.Context, p Persister, opts ...Option) *Ledger {
	l := &Ledger{
		persister: p,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	doc, err := p.Load(ctx)
	switch {
	case err == nil:
		if doc.Resources == nil {
			doc.Resources = make(map[string]Record)
		}
		l.doc = doc
		l.logger.Debug("loaded ledger", "resources", len(doc.Resources))
	case errors.Is(err, ErrNotExist):
		l.doc = newDocument(l.now())
		l.logger.Debug("initialised empty ledger")
	default:
		l.doc = newDocument(l.now())
		l.recovered = true
		l.logger.Warn("ledger unreadable, starting empty", "error", err)
	}
	return l
}

// Recovered reports whether Open discarded an unreadable document.
func (l *Ledger) Recovered() bool {
	return l.recovered
}

// Get returns the record for id.
func (l *Ledger) Get(id string) (Record, bool) {
	r, ok := l.doc.Resources[id]
	return r, ok
}

// Put installs rec for id, replacing any existing record.
func (l *Ledger) Put(id string, rec Record) {
	l.doc.Resources[id] = rec
}

// Remove deletes the record for id and reports whether one existed.
func (l *Ledger) Remove(id string) bool {
	if _, ok := l.doc.Resources[id]; !ok {
		return false
	}
	delete(l.doc.Resources, id)
	return true
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.doc.Resources)
}

// IDs returns every resource id in sorted order.
func (l *Ledger) IDs() []string {
	return slices.Sorted(maps.Keys(l.doc.Resources))
}

// Snapshot returns a copy of every record keyed by id.
func (l *Ledger) Snapshot() map[string]Record {
	return maps.Clone(l.doc.Resources)
}

// TotalSize returns the sum of all record sizes.
func (l *Ledger) TotalSize() int64 {
	var total int64
	for _, r := range l.doc.Resources {
		total += r.Size
	}
	return total
}

// Created returns when the ledger document was first created.
func (l *Ledger) Created() time.Time {
	return l.doc.Created
}

// LastUpdated returns the time of the last successful commit.
func (l *Ledger) LastUpdated() time.Time {
	return l.doc.LastUpdated
}

// Commit writes the whole document to the persister.
func (l *Ledger) Commit(ctx context.Context) error {
	prev := l.doc.LastUpdated
	l.doc.LastUpdated = l.now()
	if err := l.persister.Save(ctx, l.doc); err != nil {
		l.doc.LastUpdated = prev
		return fmt.Errorf("committing ledger: %w", err)
	}
	return nil
}

// Close releases the persister.
func (l *Ledger) Close() error {
	return l.persister.Close()
}
