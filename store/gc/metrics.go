package gc

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds GC-related OpenTelemetry metric instruments.
type Metrics struct {
	runsTotal             metric.Int64Counter
	runDuration           metric.Float64Histogram
	staleRecordsRemoved   metric.Int64Counter
	orphanPayloadsDeleted metric.Int64Counter
	resourcesEvicted      metric.Int64Counter
	bytesReclaimed        metric.Int64Counter
	errorsTotal           metric.Int64Counter
	lastRunTimestamp      metric.Float64Gauge
	lastRunSuccess        metric.Float64Gauge
}

// NewMetrics creates a new Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	runsTotal, err := meter.Int64Counter(
		"resource_store_gc_runs_total",
		metric.WithDescription("Total number of GC runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"resource_store_gc_run_duration_seconds",
		metric.WithDescription("GC run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	staleRecordsRemoved, err := meter.Int64Counter(
		"resource_store_gc_stale_records_removed_total",
		metric.WithDescription("Total ledger records removed because their payload was missing"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	orphanPayloadsDeleted, err := meter.Int64Counter(
		"resource_store_gc_orphan_payloads_deleted_total",
		metric.WithDescription("Total payloads deleted because no record referenced them"),
		metric.WithUnit("{payload}"),
	)
	if err != nil {
		return nil, err
	}

	resourcesEvicted, err := meter.Int64Counter(
		"resource_store_gc_resources_evicted_total",
		metric.WithDescription("Total resources evicted by scheduled optimization"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	bytesReclaimed, err := meter.Int64Counter(
		"resource_store_gc_bytes_reclaimed_total",
		metric.WithDescription("Total bytes reclaimed by GC"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"resource_store_gc_errors_total",
		metric.WithDescription("Total number of GC errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	lastRunTimestamp, err := meter.Float64Gauge(
		"resource_store_gc_last_run_timestamp_seconds",
		metric.WithDescription("Unix timestamp of last GC run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	lastRunSuccess, err := meter.Float64Gauge(
		"resource_store_gc_last_run_success",
		metric.WithDescription("Whether last GC run was successful (1=success, 0=failure)"),
		metric.WithUnit("{status}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runsTotal:             runsTotal,
		runDuration:           runDuration,
		staleRecordsRemoved:   staleRecordsRemoved,
		orphanPayloadsDeleted: orphanPayloadsDeleted,
		resourcesEvicted:      resourcesEvicted,
		bytesReclaimed:        bytesReclaimed,
		errorsTotal:           errorsTotal,
		lastRunTimestamp:      lastRunTimestamp,
		lastRunSuccess:        lastRunSuccess,
	}, nil
}

func (m *Manager) recordMetrics(ctx context.Context, result *Result) {
	if m.metrics == nil {
		return
	}

	m.metrics.runsTotal.Add(ctx, 1)
	m.metrics.runDuration.Record(ctx, result.Duration.Seconds())
	m.metrics.staleRecordsRemoved.Add(ctx, int64(result.StaleRecordsRemoved))
	m.metrics.orphanPayloadsDeleted.Add(ctx, int64(result.OrphanPayloadsDeleted))
	m.metrics.resourcesEvicted.Add(ctx, int64(result.ResourcesEvicted))
	m.metrics.bytesReclaimed.Add(ctx, result.BytesReclaimed)
	m.metrics.errorsTotal.Add(ctx, int64(len(result.Errors)))
	m.metrics.lastRunTimestamp.Record(ctx, float64(result.StartedAt.Unix()))

	if len(result.Errors) == 0 {
		m.metrics.lastRunSuccess.Record(ctx, 1)
	} else {
		m.metrics.lastRunSuccess.Record(ctx, 0)
	}
}
