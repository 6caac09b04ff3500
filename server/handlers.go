package server

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/wolfeidau/resource-store/resource"
	"github.com/wolfeidau/resource-store/telemetry"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Stats     RequestStats `json:"stats"`
}

type serverStats struct {
	resource.Stats
	RequestStats
}

type statsResponse struct {
	ServerStats serverStats `json:"server_stats"`
	Timestamp   time.Time   `json:"timestamp"`
}

type listResponse struct {
	Resources  []resource.Summary `json:"resources"`
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	Timestamp  time.Time          `json:"timestamp"`
}

type resourceResponse struct {
	ID             string    `json:"resource_id"`
	Data           string    `json:"data"`
	Compressed     bool      `json:"compressed"`
	Size           int       `json:"size,omitempty"`
	OriginalSize   int       `json:"original_size,omitempty"`
	CompressedSize int       `json:"compressed_size,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type uploadRequest struct {
	ID       string  `json:"resource_id"`
	Content  *string `json:"content"`
	Category string  `json:"category"`
	Priority int     `json:"priority"`
}

type messageResponse struct {
	Message   string    `json:"message"`
	ID        string    `json:"resource_id"`
	Timestamp time.Time `json:"timestamp"`
}

type optimizeRequest struct {
	MaxTotalSize int64 `json:"max_total_size"`
}

type optimizeResponse struct {
	Message   string           `json:"message"`
	Result    *resource.Report `json:"result"`
	Timestamp time.Time        `json:"timestamp"`
}

// handleHealth reports liveness and request statistics.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "health")
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: s.now(),
		Stats:     s.stats.snapshot(),
	})
}

// handleStats reports resource aggregates merged with request statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "stats")

	stats, err := s.resources.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		ServerStats: serverStats{Stats: stats, RequestStats: s.stats.snapshot()},
		Timestamp:   s.now(),
	})
}

// handleList returns one page of resource summaries.
// Unparseable query values fall back to their defaults.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "list")

	q := r.URL.Query()
	query := resource.ListQuery{
		Category: q.Get("category"),
		MaxSize:  int64(queryInt(q.Get("max_size"), 0)),
		Page:     queryInt(q.Get("page"), 1),
		PerPage:  queryInt(q.Get("per_page"), resource.DefaultPerPage),
	}
	query.Page = max(query.Page, 1)
	if query.PerPage < 1 {
		query.PerPage = resource.DefaultPerPage
	}

	summaries, err := s.resources.List(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, listResponse{
		Resources:  summaries,
		TotalCount: s.resources.Count(),
		Page:       query.Page,
		PerPage:    query.PerPage,
		Timestamp:  s.now(),
	})
}

// handleGet returns a payload as JSON, gzipped and hex-encoded when
// compress=true and the payload exceeds the compress threshold.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	telemetry.SetEndpoint(r, "get")
	telemetry.SetResourceID(r, id)

	data, err := s.resources.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	telemetry.SetResult(r, telemetry.ResultFound)

	resp := resourceResponse{ID: id, Timestamp: s.now()}
	if strings.EqualFold(r.URL.Query().Get("compress"), "true") && len(data) > s.config.CompressThreshold {
		compressed, err := gzipBytes(data)
		if err != nil {
			s.logger.Error("failed to compress resource", "id", id, "error", err)
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
			return
		}
		resp.Data = hex.EncodeToString(compressed)
		resp.Compressed = true
		resp.OriginalSize = len(data)
		resp.CompressedSize = len(compressed)
	} else {
		resp.Data = string(data)
		resp.Size = len(data)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleRaw returns the payload bytes unmodified.
func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	telemetry.SetEndpoint(r, "raw")
	telemetry.SetResourceID(r, id)

	data, err := s.resources.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	telemetry.SetResult(r, telemetry.ResultFound)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleVersion returns version metadata for a resource.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	telemetry.SetEndpoint(r, "version")
	telemetry.SetResourceID(r, id)

	info, err := s.resources.Version(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	telemetry.SetResult(r, telemetry.ResultFound)
	s.writeJSON(w, http.StatusOK, info)
}

// handleCreate stores a text resource from a JSON body.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "create")

	var req uploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)).Decode(&req); err != nil {
		telemetry.SetResult(r, telemetry.ResultInvalid)
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		return
	}
	if req.ID == "" || req.Content == nil {
		telemetry.SetResult(r, telemetry.ResultInvalid)
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing required fields: resource_id, content"})
		return
	}
	telemetry.SetResourceID(r, req.ID)

	err := s.resources.Store(r.Context(), req.ID, []byte(*req.Content), resource.StoreOptions{
		Category: req.Category,
		Priority: req.Priority,
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	telemetry.SetResult(r, telemetry.ResultStored)
	s.writeJSON(w, http.StatusCreated, messageResponse{
		Message:   "Resource uploaded successfully",
		ID:        req.ID,
		Timestamp: s.now(),
	})
}

// handlePut stores the raw request body under the path id.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	telemetry.SetEndpoint(r, "put")
	telemetry.SetResourceID(r, id)

	opts := resource.StoreOptions{Category: r.URL.Query().Get("category")}
	if p := r.URL.Query().Get("priority"); p != "" {
		priority, err := strconv.Atoi(p)
		if err != nil {
			telemetry.SetResult(r, telemetry.ResultInvalid)
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "priority must be an integer"})
			return
		}
		opts.Priority = priority
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		telemetry.SetResult(r, telemetry.ResultInvalid)
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Unable to read request body"})
		return
	}

	if err := s.resources.Store(r.Context(), id, body, opts); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	telemetry.SetResult(r, telemetry.ResultStored)
	s.writeJSON(w, http.StatusCreated, messageResponse{
		Message:   "Resource uploaded successfully",
		ID:        id,
		Timestamp: s.now(),
	})
}

// handleDelete removes a resource.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	telemetry.SetEndpoint(r, "delete")
	telemetry.SetResourceID(r, id)

	if err := s.resources.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	telemetry.SetResult(r, telemetry.ResultDeleted)
	s.writeJSON(w, http.StatusOK, messageResponse{
		Message:   "Resource deleted successfully",
		ID:        id,
		Timestamp: s.now(),
	})
}

// handleOptimize runs eviction against an optional max_total_size.
// An aborted run is still reported with its failed result.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "optimize")

	var req optimizeRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		telemetry.SetResult(r, telemetry.ResultInvalid)
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		return
	}

	report, err := s.resources.Optimize(r.Context(), req.MaxTotalSize)
	if err != nil && resource.KindOf(err) != resource.KindOptimizationFailure {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, optimizeResponse{
		Message:   "Optimization completed",
		Result:    report,
		Timestamp: s.now(),
	})
}

// handleNotFound answers every unrouted request.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "Endpoint not found"})
}

// writeStoreError maps a failed store. Storage failures keep their own message.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if resource.KindOf(err) == resource.KindInvalid {
		s.writeError(w, r, err)
		return
	}
	s.logger.Error("failed to store resource", "error", err)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to store resource"})
}

// writeError maps a resource error onto a status code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch resource.KindOf(err) {
	case resource.KindNotFound, resource.KindAbsent:
		telemetry.SetResult(r, telemetry.ResultNotFound)
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "Resource not found"})
	case resource.KindInvalid:
		telemetry.SetResult(r, telemetry.ResultInvalid)
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func queryInt(value string, fallback int) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
