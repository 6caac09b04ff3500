package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/resource-store"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal           metric.Int64Counter
	responseBytesTotal      metric.Int64Counter
	requestDuration         metric.Float64Histogram
	requestsByEndpointTotal metric.Int64Counter

	backendRequestDuration metric.Float64Histogram
	backendRequestsTotal   metric.Int64Counter
	backendBytesTotal      metric.Int64Counter

	resourceOpsTotal      metric.Int64Counter
	resourceOpDuration    metric.Float64Histogram
	payloadWriteSize      metric.Float64Histogram
	resourceAccessesTotal metric.Int64Counter

	optimizeRunsTotal          metric.Int64Counter
	optimizeRunDuration        metric.Float64Histogram
	optimizeEvictionsTotal     metric.Int64Counter
	optimizeEvictionBytesTotal metric.Int64Counter
	optimizeProtectedSkips     metric.Int64Counter

	ledgerCommitsTotal metric.Int64Counter
	ledgerResources    metric.Int64Gauge
	ledgerBytes        metric.Int64Gauge

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

// Meter returns the meter for components that register their own instruments.
// Falls back to the global otel provider before InitMetrics has run.
func Meter() metric.Meter {
	if globalMetrics != nil {
		return globalMetrics.meterProvider.Meter(meterName)
	}
	return otel.GetMeterProvider().Meter(meterName)
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "resource-store"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// still collect when nothing exports, so instruments stay live
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m

	return nil
}

// newMetrics creates every instrument on meter.
func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.requestsTotal, err = meter.Int64Counter(
		"resource_store_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.responseBytesTotal, err = meter.Int64Counter(
		"resource_store_http_response_bytes_total",
		metric.WithDescription("Total bytes sent in HTTP responses"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"resource_store_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}

	if m.requestsByEndpointTotal, err = meter.Int64Counter(
		"resource_store_http_requests_by_endpoint_total",
		metric.WithDescription("Total number of HTTP requests by endpoint"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.backendRequestDuration, err = meter.Float64Histogram(
		"resource_store_backend_request_duration_seconds",
		metric.WithDescription("Duration of backend storage operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	); err != nil {
		return nil, err
	}

	if m.backendRequestsTotal, err = meter.Int64Counter(
		"resource_store_backend_requests_total",
		metric.WithDescription("Total number of backend storage operations"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.backendBytesTotal, err = meter.Int64Counter(
		"resource_store_backend_bytes_total",
		metric.WithDescription("Total bytes transferred in backend operations"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.resourceOpsTotal, err = meter.Int64Counter(
		"resource_store_operations_total",
		metric.WithDescription("Total resource manager operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, err
	}

	if m.resourceOpDuration, err = meter.Float64Histogram(
		"resource_store_operation_duration_seconds",
		metric.WithDescription("Duration of resource manager operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	); err != nil {
		return nil, err
	}

	if m.payloadWriteSize, err = meter.Float64Histogram(
		"resource_store_payload_write_size_bytes",
		metric.WithDescription("Size of resource payloads written"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 512, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864),
	); err != nil {
		return nil, err
	}

	if m.resourceAccessesTotal, err = meter.Int64Counter(
		"resource_store_resource_accesses_total",
		metric.WithDescription("Total successful resource reads by category"),
		metric.WithUnit("{access}"),
	); err != nil {
		return nil, err
	}

	if m.optimizeRunsTotal, err = meter.Int64Counter(
		"resource_store_optimize_runs_total",
		metric.WithDescription("Total optimize runs by action"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}

	if m.optimizeRunDuration, err = meter.Float64Histogram(
		"resource_store_optimize_run_duration_seconds",
		metric.WithDescription("Duration of optimize runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return nil, err
	}

	if m.optimizeEvictionsTotal, err = meter.Int64Counter(
		"resource_store_optimize_evictions_total",
		metric.WithDescription("Total resources evicted by optimize"),
		metric.WithUnit("{resource}"),
	); err != nil {
		return nil, err
	}

	if m.optimizeEvictionBytesTotal, err = meter.Int64Counter(
		"resource_store_optimize_eviction_bytes_total",
		metric.WithDescription("Total bytes freed by optimize"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.optimizeProtectedSkips, err = meter.Int64Counter(
		"resource_store_optimize_protected_skips_total",
		metric.WithDescription("Total critical resources skipped during optimize"),
		metric.WithUnit("{skip}"),
	); err != nil {
		return nil, err
	}

	if m.ledgerCommitsTotal, err = meter.Int64Counter(
		"resource_store_ledger_commits_total",
		metric.WithDescription("Total ledger document commits"),
		metric.WithUnit("{commit}"),
	); err != nil {
		return nil, err
	}

	if m.ledgerResources, err = meter.Int64Gauge(
		"resource_store_ledger_resources",
		metric.WithDescription("Resources tracked by the ledger"),
		metric.WithUnit("{resource}"),
	); err != nil {
		return nil, err
	}

	if m.ledgerBytes, err = meter.Int64Gauge(
		"resource_store_ledger_bytes",
		metric.WithDescription("Total payload bytes tracked by the ledger"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records HTTP request metrics.
// Call this from the logging middleware after the request completes.
func RecordHTTP(ctx context.Context, r *http.Request, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	result := string(ResultNA)
	endpoint := ""
	if tags := GetTags(r); tags != nil {
		if tags.Result != "" {
			result = string(tags.Result)
		}
		endpoint = tags.Endpoint
	}

	statusClass := StatusClass(status)

	sharedAttrs := []attribute.KeyValue{
		attribute.String("method", r.Method),
		attribute.String("status_class", statusClass),
		attribute.String("result", result),
	}
	globalMetrics.requestsTotal.Add(ctx, 1, metric.WithAttributes(sharedAttrs...))
	globalMetrics.responseBytesTotal.Add(ctx, bytesSent, metric.WithAttributes(sharedAttrs...))
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(sharedAttrs...))

	if endpoint != "" {
		detailAttrs := []attribute.KeyValue{
			attribute.String("method", r.Method),
			attribute.String("endpoint", endpoint),
			attribute.String("status_class", statusClass),
			attribute.String("result", result),
		}
		globalMetrics.requestsByEndpointTotal.Add(ctx, 1, metric.WithAttributes(detailAttrs...))
	}
}

// RecordBackendOp records backend operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.backendRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordResourceOp records one resource manager operation.
// outcome is "success" or an error kind such as "not_found".
func RecordResourceOp(ctx context.Context, op, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	globalMetrics.resourceOpsTotal.Add(ctx, 1, attrs)
	globalMetrics.resourceOpDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordPayloadWrite records a stored payload with its size.
func RecordPayloadWrite(ctx context.Context, category string, size int64, overwrite bool) {
	if globalMetrics == nil {
		return
	}

	result := "new"
	if overwrite {
		result = "overwrite"
	}
	globalMetrics.payloadWriteSize.Record(ctx, float64(size), metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("result", result),
	))
}

// RecordResourceAccess records a successful read of a resource.
func RecordResourceAccess(ctx context.Context, category string, priority int) {
	if globalMetrics == nil {
		return
	}

	globalMetrics.resourceAccessesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("priority", strconv.Itoa(priority)),
	))
}

// RecordOptimizeRun records one optimize run by its report action.
func RecordOptimizeRun(ctx context.Context, action string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("action", action))
	globalMetrics.optimizeRunsTotal.Add(ctx, 1, attrs)
	globalMetrics.optimizeRunDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordOptimizeEviction records a resource deleted by optimize.
func RecordOptimizeEviction(ctx context.Context, priority int, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("priority", strconv.Itoa(priority)))
	globalMetrics.optimizeEvictionsTotal.Add(ctx, 1, attrs)
	globalMetrics.optimizeEvictionBytesTotal.Add(ctx, bytes, attrs)
}

// RecordOptimizeProtectedSkip records a critical resource left in place.
func RecordOptimizeProtectedSkip(ctx context.Context) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.optimizeProtectedSkips.Add(ctx, 1)
}

// RecordLedgerCommit records a ledger commit and the resulting ledger size.
func RecordLedgerCommit(ctx context.Context, outcome string, resources int, bytes int64) {
	if globalMetrics == nil {
		return
	}

	globalMetrics.ledgerCommitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "success" {
		globalMetrics.ledgerResources.Record(ctx, int64(resources))
		globalMetrics.ledgerBytes.Record(ctx, bytes)
	}
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
