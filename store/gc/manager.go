// Package gc runs scheduled storage maintenance for the resource store:
// reconciling the ledger with stored payloads, then enforcing the size budget.
package gc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wolfeidau/resource-store/resource"
	"go.opentelemetry.io/otel/metric"
)

// Target is the store maintained by the manager.
type Target interface {
	Reconcile(ctx context.Context) (resource.ReconcileResult, error)
	Optimize(ctx context.Context, maxTotalSize int64) (*resource.Report, error)
}

// Config configures the GC manager.
type Config struct {
	Interval     time.Duration // How often to run (default: 1h)
	StartupDelay time.Duration // Delay before first run (default: 5m)
	MaxTotalSize int64         // Size budget passed to Optimize; zero uses its default
}

// DefaultConfig returns the default GC configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     1 * time.Hour,
		StartupDelay: 5 * time.Minute,
		MaxTotalSize: resource.DefaultMaxTotalSize,
	}
}

// Result contains the results of a GC run.
type Result struct {
	StartedAt             time.Time     `json:"started_at"`
	Duration              time.Duration `json:"duration"`
	StaleRecordsRemoved   int           `json:"stale_records_removed"`
	OrphanPayloadsDeleted int           `json:"orphan_payloads_deleted"`
	OptimizeAction        string        `json:"optimize_action,omitempty"`
	ResourcesEvicted      int           `json:"resources_evicted"`
	BytesReclaimed        int64         `json:"bytes_reclaimed"`
	Errors                []string      `json:"errors,omitempty"`
}

// Manager runs maintenance on a Target in the background.
type Manager struct {
	target  Target
	config  Config
	metrics *Metrics
	logger  *slog.Logger

	runMu   sync.Mutex // serialises runs
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
	lastRun *Result
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics registers the manager's instruments on meter.
func WithMetrics(meter metric.Meter) ManagerOption {
	return func(m *Manager) {
		metrics, err := NewMetrics(meter)
		if err != nil {
			m.logger.Error("failed to create gc metrics", "error", err)
			return
		}
		m.metrics = metrics
	}
}

// New creates a new GC manager.
func New(target Target, config Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		target: target,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.config.Interval <= 0 {
		m.config.Interval = DefaultConfig().Interval
	}
	m.logger = m.logger.With("component", "gc")
	return m
}

// Start starts the background GC goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx, m.stopCh, m.doneCh)
}

// Stop gracefully stops the GC manager.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow triggers an immediate GC run.
func (m *Manager) RunNow(ctx context.Context) (*Result, error) {
	return m.runGC(ctx), nil
}

// Status returns the last GC run result.
func (m *Manager) Status() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun
}

func (m *Manager) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	m.logger.Info("gc manager starting",
		"interval", m.config.Interval,
		"startup_delay", m.config.StartupDelay,
		"max_total_size", m.config.MaxTotalSize,
	)

	select {
	case <-time.After(m.config.StartupDelay):
	case <-stopCh:
		m.logger.Info("gc manager stopped during startup delay")
		return
	case <-ctx.Done():
		m.logger.Info("gc manager context cancelled during startup delay")
		m.setStopped()
		return
	}

	m.runGC(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runGC(ctx)
		case <-stopCh:
			m.logger.Info("gc manager stopped")
			return
		case <-ctx.Done():
			m.logger.Info("gc manager context cancelled")
			m.setStopped()
			return
		}
	}
}

func (m *Manager) setStopped() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *Manager) runGC(ctx context.Context) *Result {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	result := &Result{
		StartedAt: time.Now(),
	}

	m.logger.Info("starting gc run")

	// Phase 1: make the ledger and payloads agree
	m.phaseReconcile(ctx, result)

	// Phase 2: enforce the size budget
	m.phaseOptimize(ctx, result)

	result.Duration = time.Since(result.StartedAt)

	m.mu.Lock()
	m.lastRun = result
	m.mu.Unlock()

	m.recordMetrics(ctx, result)

	m.logger.Info("gc run completed",
		"duration", result.Duration,
		"stale_records_removed", result.StaleRecordsRemoved,
		"orphan_payloads_deleted", result.OrphanPayloadsDeleted,
		"optimize_action", result.OptimizeAction,
		"resources_evicted", result.ResourcesEvicted,
		"bytes_reclaimed", result.BytesReclaimed,
		"errors", len(result.Errors),
	)

	return result
}
