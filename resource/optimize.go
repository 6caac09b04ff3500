package resource

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/wolfeidau/resource-store/store/ledger"
	"github.com/wolfeidau/resource-store/telemetry"
)

// Report actions.
const (
	ActionNotNeeded = "no_optimization_needed"
	ActionCompleted = "optimization_completed"
	ActionFailed    = "optimization_failed"
)

// DefaultMaxTotalSize is the budget used when Optimize is given none.
const DefaultMaxTotalSize int64 = 100 * mib

// criticalOverageRatio is the remaining/budget ratio at which critical
// resources stop being skipped.
const criticalOverageRatio = 1.5

// Evicted describes one resource deleted by Optimize.
type Evicted struct {
	ID       string `json:"resource_id"`
	Size     int64  `json:"size"`
	Priority int    `json:"priority"`
	Score    int64  `json:"score"`
}

// Report is the outcome of an Optimize run.
type Report struct {
	Action string

	// Set for ActionNotNeeded; CurrentSize is also set for the other actions.
	CurrentSize int64
	MaxSize     int64

	// Set for ActionCompleted. Deleted is also set, possibly partially, for
	// ActionFailed.
	DeletedCount   int
	FreedBytes     int64
	FreedMB        float64
	FinalSizeBytes int64
	Deleted        []Evicted

	// Set for ActionFailed.
	Error string
}

// MarshalJSON emits only the fields that belong to the report's action.
func (r *Report) MarshalJSON() ([]byte, error) {
	switch r.Action {
	case ActionNotNeeded:
		return json.Marshal(struct {
			Action      string `json:"action"`
			CurrentSize int64  `json:"current_size"`
			MaxSize     int64  `json:"max_size"`
		}{r.Action, r.CurrentSize, r.MaxSize})
	case ActionFailed:
		return json.Marshal(struct {
			Action  string    `json:"action"`
			Error   string    `json:"error"`
			Deleted []Evicted `json:"deleted_resources,omitempty"`
		}{r.Action, r.Error, r.Deleted})
	default:
		deleted := r.Deleted
		if deleted == nil {
			deleted = []Evicted{}
		}
		return json.Marshal(struct {
			Action         string    `json:"action"`
			DeletedCount   int       `json:"deleted_count"`
			FreedBytes     int64     `json:"freed_space_bytes"`
			FreedMB        float64   `json:"freed_space_mb"`
			FinalSizeBytes int64     `json:"final_size_bytes"`
			Deleted        []Evicted `json:"deleted_resources"`
		}{r.Action, r.DeletedCount, r.FreedBytes, r.FreedMB, r.FinalSizeBytes, deleted})
	}
}

type candidate struct {
	id       string
	size     int64
	priority int
	score    int64
}

// Optimize deletes resources until the total size fits maxTotalSize, or
// DefaultMaxTotalSize when maxTotalSize is not positive.
//
// Candidates are visited by priority ascending, then eviction score
// ascending. Critical resources are skipped while the remaining size is
// under criticalOverageRatio times the budget. A failed delete is logged and
// skipped. When the run aborts the returned report has ActionFailed, lists
// whatever was already deleted, and err is a KindOptimizationFailure.
func (m *Manager) Optimize(ctx context.Context, maxTotalSize int64) (report *Report, err error) {
	start := time.Now()
	defer func() {
		telemetry.RecordResourceOp(ctx, "optimize", outcome(err), time.Since(start))
		telemetry.RecordOptimizeRun(ctx, report.Action, time.Since(start))
	}()

	budget := maxTotalSize
	if budget <= 0 {
		budget = DefaultMaxTotalSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.ledger.Snapshot()
	var current int64
	for _, rec := range records {
		current += rec.Size
	}

	if current <= budget {
		return &Report{Action: ActionNotNeeded, CurrentSize: current, MaxSize: budget}, nil
	}

	report = &Report{Action: ActionCompleted, CurrentSize: current, MaxSize: budget}

	now := m.now()
	candidates := make([]candidate, 0, len(records))
	for id, rec := range records {
		if err := rec.Validate(); err != nil {
			return m.optimizeFailed(report, fmt.Errorf("scoring %s: %w", id, err))
		}
		candidates = append(candidates, candidate{
			id:       id,
			size:     rec.Size,
			priority: rec.Priority,
			score:    evictionScore(rec, now),
		})
	}

	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(a.priority, b.priority); c != 0 {
			return c
		}
		if c := cmp.Compare(a.score, b.score); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	m.logger.Info("optimizing storage",
		"current_size", current,
		"max_size", budget,
		"candidates", len(candidates),
	)

	var freed int64
	for _, c := range candidates {
		remaining := current - freed
		if remaining <= budget {
			break
		}
		if c.priority == ledger.PriorityCritical && float64(remaining)/float64(budget) < criticalOverageRatio {
			telemetry.RecordOptimizeProtectedSkip(ctx)
			continue
		}
		if err := ctx.Err(); err != nil {
			report.FreedBytes = freed
			return m.optimizeFailed(report, err)
		}

		if _, err := m.deleteLocked(ctx, "optimize", c.id); err != nil {
			m.logger.Warn("failed to evict resource, skipping", "id", c.id, "error", err)
			continue
		}
		report.Deleted = append(report.Deleted, Evicted{
			ID:       c.id,
			Size:     c.size,
			Priority: c.priority,
			Score:    c.score,
		})
		freed += c.size
		telemetry.RecordOptimizeEviction(ctx, c.priority, c.size)
	}

	report.DeletedCount = len(report.Deleted)
	report.FreedBytes = freed
	report.FreedMB = toMB(freed)
	report.FinalSizeBytes = current - freed

	m.logger.Info("optimization completed",
		"deleted", report.DeletedCount,
		"freed_bytes", freed,
		"final_size", report.FinalSizeBytes,
	)
	return report, nil
}

func (m *Manager) optimizeFailed(report *Report, cause error) (*Report, error) {
	report.Action = ActionFailed
	report.Error = cause.Error()
	report.DeletedCount = len(report.Deleted)
	m.logger.Error("optimization failed", "deleted", report.DeletedCount, "error", cause)
	return report, newError(KindOptimizationFailure, "optimize", "", cause)
}

// evictionScore ranks a record for eviction; lower is more evictable.
// An unset last access counts from the Unix epoch.
func evictionScore(rec ledger.Record, now time.Time) int64 {
	last := rec.LastAccessed
	if last.IsZero() {
		last = time.Unix(0, 0)
	}
	ageDays := int64(math.Floor(now.Sub(last).Hours() / 24))
	return rec.AccessCount*10 + int64(5-rec.Priority)*100 - ageDays
}
