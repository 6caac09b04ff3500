// Package server provides the HTTP server for the resource store.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"github.com/wolfeidau/resource-store/resource"
	"github.com/wolfeidau/resource-store/store/gc"
	"github.com/wolfeidau/resource-store/telemetry"
)

// DefaultCompressThreshold is the payload size above which compress=true
// gzips the response data.
const DefaultCompressThreshold = 512

// DefaultMaxBodyBytes bounds upload request bodies.
const DefaultMaxBodyBytes = 32 << 20

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":5000")
	Address string

	// MaxConns caps concurrently accepted connections. Zero means no limit.
	MaxConns int

	// CompressThreshold is the payload size in bytes above which a
	// compress=true read is gzipped. Default: 512.
	CompressThreshold int

	// MaxBodyBytes bounds upload bodies. Default: 32 MiB.
	MaxBodyBytes int64

	// GC runs scheduled optimization alongside the server (optional).
	GC *gc.Manager

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the resource store.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger
	resources  *resource.Manager
	stats      *requestStats
	now        func() time.Time

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new server over resources with the given configuration.
func New(cfg Config, resources *resource.Manager) (*Server, error) {
	if resources == nil {
		return nil, errors.New("resource manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":5000"
	}
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		config:    cfg,
		logger:    cfg.Logger,
		resources: resources,
		stats:     &requestStats{},
		now:       time.Now,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the server's root handler, including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /api/resources", s.handleList)
	mux.HandleFunc("POST /api/resources", s.handleCreate)
	mux.HandleFunc("GET /api/resources/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/resources/{id}", s.handlePut)
	mux.HandleFunc("DELETE /api/resources/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/resources/{id}/raw", s.handleRaw)
	mux.HandleFunc("GET /api/resources/{id}/version", s.handleVersion)

	mux.HandleFunc("POST /api/optimize", s.handleOptimize)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("/", s.handleNotFound)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set result, endpoint, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		// Reads are access-logged against the client address.
		r = r.WithContext(resource.WithOrigin(r.Context(), clientHost(r.RemoteAddr)))

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		s.stats.record(duration, wrapped.status >= http.StatusInternalServerError)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),

			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"http_version", fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		}

		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.ResourceID != "" {
			attrs = append(attrs, "resource_id", tags.ResourceID)
		}
		if tags.Result != "" {
			attrs = append(attrs, "result", string(tags.Result))
		}
		if ct := wrapped.Header().Get("Content-Type"); ct != "" {
			attrs = append(attrs, "content_type", ct)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	if s.config.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConns)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.config.GC != nil {
		s.logger.Info("starting scheduled optimization")
		s.config.GC.Start(context.Background())
	}

	s.logger.Info("starting server", "address", ln.Addr().String(), "max_conns", s.config.MaxConns)
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var gcErr error
	if s.config.GC != nil {
		gcErr = s.config.GC.Stop(ctx)
	}

	return errors.Join(s.httpServer.Shutdown(ctx), gcErr)
}

// Address returns the server's listen address, resolved once listening.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// clientHost strips the port from a remote address.
func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
