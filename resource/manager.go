// Package resource implements the resource manager: it keeps payloads and the
// metadata ledger consistent and owns the eviction algorithm.
package resource

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	resourcestore "github.com/wolfeidau/resource-store"
	"github.com/wolfeidau/resource-store/accesslog"
	"github.com/wolfeidau/resource-store/backend"
	"github.com/wolfeidau/resource-store/store"
	"github.com/wolfeidau/resource-store/store/ledger"
	"github.com/wolfeidau/resource-store/telemetry"
)

// UsageReporter reports the capacity of the storage volume.
type UsageReporter interface {
	Usage(ctx context.Context) (backend.Usage, error)
}

// StoreOptions are the optional attributes of a stored resource.
type StoreOptions struct {
	// Category defaults to "general".
	Category string
	// Priority is 1 (critical) to 4 (low); zero means 1.
	Priority int
}

// Manager composes the content store, the ledger and the access log.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	content store.Store
	ledger  *ledger.Ledger
	access  *accesslog.Log
	usage   UsageReporter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithAccessLog records every successful read to log.
func WithAccessLog(log *accesslog.Log) Option {
	return func(m *Manager) {
		m.access = log
	}
}

// WithUsage sets the source of disk usage for Stats.
func WithUsage(u UsageReporter) Option {
	return func(m *Manager) {
		m.usage = u
	}
}

// New creates a Manager over content and l.
func New(content store.Store, l *ledger.Ledger, opts ...Option) *Manager {
	m := &Manager{
		content: content,
		ledger:  l,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "resource")

	if l.Recovered() {
		m.logger.Warn("ledger was unreadable and has been reinitialised", "kind", KindCorruptState)
	}
	return m
}

// Store writes content under id and installs a fresh record, replacing any
// existing one. Access statistics reset and version is always 1.
func (m *Manager) Store(ctx context.Context, id string, content []byte, opts StoreOptions) (err error) {
	start := time.Now()
	defer func() { telemetry.RecordResourceOp(ctx, "store", outcome(err), time.Since(start)) }()

	if id == "" {
		return invalid("store", id, "empty resource id")
	}
	category := opts.Category
	if category == "" {
		category = ledger.DefaultCategory
	}
	priority := opts.Priority
	if priority == 0 {
		priority = ledger.PriorityCritical
	}
	if priority < ledger.PriorityCritical || priority > ledger.PriorityLow {
		return invalid("store", id, "priority %d outside %d..%d", priority, ledger.PriorityCritical, ledger.PriorityLow)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.content.Write(ctx, id, content)
	if err != nil {
		m.logger.Error("failed to store resource", "id", id, "error", err)
		return newError(KindStorageFailure, "store", id, err)
	}

	_, overwrite := m.ledger.Get(id)
	now := m.now()
	m.ledger.Put(id, ledger.Record{
		Size:         res.Size,
		Hash:         res.Hash.String(),
		Category:     category,
		Priority:     priority,
		Created:      now,
		LastAccessed: now,
		Version:      1,
	})
	if err := m.commit(ctx); err != nil {
		m.logger.Error("failed to persist ledger after store", "id", id, "error", err)
		return newError(KindStorageFailure, "store", id, err)
	}

	telemetry.RecordPayloadWrite(ctx, category, res.Size, overwrite)
	m.logger.Info("stored resource",
		"id", id,
		"size", res.Size,
		"category", category,
		"priority", priority,
		"overwrite", overwrite,
	)
	return nil
}

// Get returns the payload for id and records the access.
// A record whose payload is missing is purged and reported as KindAbsent.
// If the access cannot be persisted the record is left unchanged.
func (m *Manager) Get(ctx context.Context, id string) (data []byte, err error) {
	start := time.Now()
	defer func() { telemetry.RecordResourceOp(ctx, "get", outcome(err), time.Since(start)) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.ledger.Get(id)
	if !ok {
		return nil, newError(KindNotFound, "get", id, nil)
	}

	data, err = m.content.Read(ctx, id)
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			m.logger.Error("failed to read resource", "id", id, "error", err)
			return nil, newError(KindStorageFailure, "get", id, err)
		}

		m.logger.Warn("payload missing for resource, removing stale record", "id", id)
		m.ledger.Remove(id)
		if cerr := m.commit(ctx); cerr != nil {
			m.logger.Error("failed to persist ledger after purge", "id", id, "error", cerr)
		}
		return nil, newError(KindAbsent, "get", id, err)
	}

	if want, err := resourcestore.ParseHash(rec.Hash); err == nil && !want.Matches(data) {
		m.logger.Warn("payload does not match recorded hash", "id", id, "hash", rec.Hash)
	}

	bumped := rec
	bumped.AccessCount++
	bumped.LastAccessed = m.now()
	m.ledger.Put(id, bumped)
	if err := m.commit(ctx); err != nil {
		m.ledger.Put(id, rec)
		m.logger.Error("failed to persist ledger after access", "id", id, "error", err)
		return nil, newError(KindStorageFailure, "get", id, err)
	}

	if m.access != nil {
		if err := m.access.Record(id, OriginFrom(ctx)); err != nil {
			m.logger.Error("failed to log access", "id", id, "error", err)
		}
	}
	telemetry.RecordResourceAccess(ctx, rec.Category, rec.Priority)

	return data, nil
}

// Delete removes the payload and record for id. Once the payload is removed
// the delete succeeds; a failed ledger commit is only logged.
func (m *Manager) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { telemetry.RecordResourceOp(ctx, "delete", outcome(err), time.Since(start)) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	_, err = m.deleteLocked(ctx, "delete", id)
	return err
}

// deleteLocked removes one resource. The caller holds the write lock.
func (m *Manager) deleteLocked(ctx context.Context, op, id string) (ledger.Record, error) {
	rec, ok := m.ledger.Get(id)
	if !ok {
		return ledger.Record{}, newError(KindNotFound, op, id, nil)
	}

	if err := m.content.Remove(ctx, id); err != nil {
		m.logger.Error("failed to remove payload", "id", id, "error", err)
		return ledger.Record{}, newError(KindStorageFailure, op, id, err)
	}

	// The payload is gone, so the resource counts as deleted even when the
	// ledger cannot be persisted; the next successful commit records it.
	m.ledger.Remove(id)
	if err := m.commit(ctx); err != nil {
		m.logger.Error("failed to persist ledger after delete", "id", id, "error", err)
	}

	m.logger.Info("deleted resource", "id", id, "size", rec.Size)
	return rec, nil
}

// commit persists the ledger. The caller holds the write lock.
func (m *Manager) commit(ctx context.Context) error {
	err := m.ledger.Commit(ctx)
	result := "success"
	if err != nil {
		result = "error"
	}
	telemetry.RecordLedgerCommit(ctx, result, m.ledger.Len(), m.ledger.TotalSize())
	return err
}

// Close releases the ledger and the access log.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.ledger.Close()
	if m.access != nil {
		err = errors.Join(err, m.access.Close())
	}
	return err
}
