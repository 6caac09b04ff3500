package resource

import (
	"context"
	"time"

	"github.com/wolfeidau/resource-store/telemetry"
)

// ReconcileResult lists what Reconcile repaired.
type ReconcileResult struct {
	// StaleRecords had no payload and were removed from the ledger.
	StaleRecords []string `json:"stale_records"`
	// OrphanPayloads had no record and were deleted.
	OrphanPayloads []string `json:"orphan_payloads"`
}

// Reconcile makes the ledger and the stored payloads agree: records without
// a payload are purged and payloads without a record are deleted. The ledger
// is committed once.
func (m *Manager) Reconcile(ctx context.Context) (result ReconcileResult, err error) {
	start := time.Now()
	defer func() { telemetry.RecordResourceOp(ctx, "reconcile", outcome(err), time.Since(start)) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	ids, err := m.content.IDs(ctx)
	if err != nil {
		m.logger.Error("failed to list payloads", "error", err)
		return result, newError(KindStorageFailure, "reconcile", "", err)
	}

	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}

	for _, id := range m.ledger.IDs() {
		if _, ok := present[id]; ok {
			continue
		}
		m.ledger.Remove(id)
		result.StaleRecords = append(result.StaleRecords, id)
		m.logger.Warn("removed record with missing payload", "id", id)
	}

	for _, id := range ids {
		if _, ok := m.ledger.Get(id); ok {
			continue
		}
		if err := m.content.Remove(ctx, id); err != nil {
			m.logger.Error("failed to remove orphan payload", "id", id, "error", err)
			continue
		}
		result.OrphanPayloads = append(result.OrphanPayloads, id)
		m.logger.Warn("removed payload with no record", "id", id)
	}

	if len(result.StaleRecords) > 0 {
		if err := m.commit(ctx); err != nil {
			m.logger.Error("failed to persist ledger after reconcile", "error", err)
			return result, newError(KindStorageFailure, "reconcile", "", err)
		}
	}

	return result, nil
}
