package gc

import (
	"context"
	"fmt"
)

// phaseReconcile removes stale records and orphan payloads.
func (m *Manager) phaseReconcile(ctx context.Context, result *Result) {
	m.logger.Debug("phase: reconcile")

	rr, err := m.target.Reconcile(ctx)
	result.StaleRecordsRemoved = len(rr.StaleRecords)
	result.OrphanPayloadsDeleted = len(rr.OrphanPayloads)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("reconcile: %v", err))
		m.logger.Error("failed to reconcile", "error", err)
	}
}

// phaseOptimize evicts resources while the store is over budget.
func (m *Manager) phaseOptimize(ctx context.Context, result *Result) {
	m.logger.Debug("phase: optimize")

	select {
	case <-ctx.Done():
		result.Errors = append(result.Errors, fmt.Sprintf("optimize: %v", ctx.Err()))
		return
	default:
	}

	report, err := m.target.Optimize(ctx, m.config.MaxTotalSize)
	if report != nil {
		result.OptimizeAction = report.Action
		result.ResourcesEvicted = len(report.Deleted)
		for _, d := range report.Deleted {
			result.BytesReclaimed += d.Size
		}
	}
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("optimize: %v", err))
		m.logger.Error("failed to optimize", "error", err)
	}
}
