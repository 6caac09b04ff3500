package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wolfeidau/resource-store/accesslog"
	"github.com/wolfeidau/resource-store/backend"
	"github.com/wolfeidau/resource-store/resource"
	"github.com/wolfeidau/resource-store/server"
	"github.com/wolfeidau/resource-store/store"
	"github.com/wolfeidau/resource-store/store/gc"
	"github.com/wolfeidau/resource-store/store/ledger"
	"github.com/wolfeidau/resource-store/telemetry"
)

// boltFileName is the ledger database under the storage root.
const boltFileName = "ledger.db"

// ServeCmd runs the HTTP server.
type ServeCmd struct {
	Listen           string        `help:"Address to listen on." default:":5000" env:"RS_LISTEN"`
	MaxConns         int           `help:"Maximum concurrent connections (0 for no limit)." default:"0" env:"RS_MAX_CONNS"`
	SeedDemo         bool          `help:"Install the demo resources at startup." env:"RS_SEED_DEMO"`
	MaxTotalSize     int64         `help:"Size budget in bytes for scheduled optimization." default:"104857600" env:"RS_MAX_TOTAL_SIZE"`
	GCInterval       time.Duration `name:"gc-interval" help:"Reconcile and evict down to --max-total-size at this interval (0, the default, disables)." default:"0" env:"RS_GC_INTERVAL"`
	GCStartupDelay   time.Duration `name:"gc-startup-delay" help:"Delay before the first scheduled optimization." default:"5m" env:"RS_GC_STARTUP_DELAY"`
	EnablePrometheus bool          `help:"Serve Prometheus metrics on /metrics." default:"true" negatable:"" env:"RS_ENABLE_PROMETHEUS"`
	OTLPEndpoint     string        `name:"otlp-endpoint" help:"OTLP gRPC endpoint for metrics export." env:"RS_OTLP_ENDPOINT"`
	ShutdownTimeout  time.Duration `help:"Grace period for in-flight requests on shutdown." default:"10s" env:"RS_SHUTDOWN_TIMEOUT"`
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (c *ServeCmd) Run(g *Globals, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "resource-store",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.EnablePrometheus,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("failed to flush metrics", "error", err)
		}
	}()

	mgr, err := openManager(ctx, g, logger)
	if err != nil {
		return err
	}
	defer closeManager(mgr, logger)

	if c.SeedDemo {
		seeded, err := resource.SeedDemo(ctx, mgr)
		if err != nil {
			return fmt.Errorf("seeding demo resources: %w", err)
		}
		logger.Info("seeded demo resources", "ids", seeded)
	}

	var collector *gc.Manager
	if c.GCInterval > 0 {
		collector = gc.New(mgr, gc.Config{
			Interval:     c.GCInterval,
			StartupDelay: c.GCStartupDelay,
			MaxTotalSize: c.MaxTotalSize,
		},
			gc.WithLogger(logger),
			gc.WithMetrics(telemetry.Meter()),
		)
	}

	srv, err := server.New(server.Config{
		Address:  c.Listen,
		MaxConns: c.MaxConns,
		GC:       collector,
		Logger:   logger.With("component", "server"),
	}, mgr)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("server started",
		"address", c.Listen,
		"storage", g.Storage,
		"ledger", g.Ledger,
		"resources", mgr.Count(),
	)

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// OptimizeCmd runs one eviction pass and prints its report.
type OptimizeCmd struct {
	MaxTotalSize int64 `help:"Size budget in bytes (0 for the default of 100 MiB)." default:"0" env:"RS_MAX_TOTAL_SIZE"`
}

// Run optimizes the store. An aborted run still prints its report.
func (c *OptimizeCmd) Run(g *Globals, logger *slog.Logger) error {
	ctx := context.Background()
	mgr, err := openManager(ctx, g, logger)
	if err != nil {
		return err
	}
	defer closeManager(mgr, logger)

	report, err := mgr.Optimize(ctx, c.MaxTotalSize)
	if report != nil {
		if perr := printJSON(os.Stdout, report); perr != nil {
			return errors.Join(err, perr)
		}
	}
	return err
}

// StatsCmd prints store statistics.
type StatsCmd struct{}

// Run prints the stats of the store.
func (c *StatsCmd) Run(g *Globals, logger *slog.Logger) error {
	ctx := context.Background()
	mgr, err := openManager(ctx, g, logger)
	if err != nil {
		return err
	}
	defer closeManager(mgr, logger)

	stats, err := mgr.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, stats)
}

// ReconcileCmd repairs the ledger against the payload files.
type ReconcileCmd struct{}

// Run reconciles the store and prints what was repaired.
func (c *ReconcileCmd) Run(g *Globals, logger *slog.Logger) error {
	ctx := context.Background()
	mgr, err := openManager(ctx, g, logger)
	if err != nil {
		return err
	}
	defer closeManager(mgr, logger)

	result, err := mgr.Reconcile(ctx)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, result)
}

// SeedCmd installs the demo resources.
type SeedCmd struct{}

// Run seeds the store and prints the installed ids.
func (c *SeedCmd) Run(g *Globals, logger *slog.Logger) error {
	ctx := context.Background()
	mgr, err := openManager(ctx, g, logger)
	if err != nil {
		return err
	}
	defer closeManager(mgr, logger)

	seeded, err := resource.SeedDemo(ctx, mgr)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, map[string][]string{"seeded": seeded})
}

// openManager assembles the storage stack rooted at g.Storage.
func openManager(ctx context.Context, g *Globals, logger *slog.Logger) (*resource.Manager, error) {
	fs, err := backend.NewFilesystem(g.Storage)
	if err != nil {
		return nil, fmt.Errorf("creating filesystem backend: %w", err)
	}
	b := backend.NewInstrumentedBackend(fs, "filesystem")

	var persister ledger.Persister
	switch g.Ledger {
	case "json":
		persister = ledger.NewFileStore(b)
	case "bolt":
		bolt := ledger.NewBoltStore(ledger.WithBoltLogger(logger.With("component", "ledger")))
		if err := bolt.Open(filepath.Join(fs.Root(), boltFileName)); err != nil {
			return nil, fmt.Errorf("opening ledger database: %w", err)
		}
		persister = bolt
	default:
		return nil, fmt.Errorf("invalid ledger: %s", g.Ledger)
	}

	l := ledger.Open(ctx, persister, ledger.WithLogger(logger.With("component", "ledger")))

	access, err := accesslog.Open(filepath.Join(fs.Root(), accesslog.FileName), accesslog.Rotation{
		MaxSizeMB:  g.AccessLogMaxSizeMB,
		MaxBackups: g.AccessLogMaxBackups,
		Compress:   g.AccessLogCompress,
	})
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("opening access log: %w", err)
	}

	return resource.New(store.NewContentStore(b), l,
		resource.WithLogger(logger),
		resource.WithAccessLog(access),
		resource.WithUsage(b),
	), nil
}

func closeManager(mgr *resource.Manager, logger *slog.Logger) {
	if err := mgr.Close(); err != nil {
		logger.Warn("failed to close resource manager", "error", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
