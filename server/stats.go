package server

import (
	"sync"
	"time"
)

// RequestStats summarises the requests served since startup.
type RequestStats struct {
	TotalRequests int64 `json:"total_requests"`
	// AvgResponseTime is the running mean in milliseconds.
	AvgResponseTime float64 `json:"avg_response_time"`
	FailedRequests  int64   `json:"failed_requests"`
}

type requestStats struct {
	mu    sync.Mutex
	stats RequestStats
}

// record folds one completed request into the running totals.
func (s *requestStats) record(duration time.Duration, failed bool) {
	ms := float64(duration.Microseconds()) / 1000

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalRequests++
	n := float64(s.stats.TotalRequests)
	s.stats.AvgResponseTime += (ms - s.stats.AvgResponseTime) / n
	if failed {
		s.stats.FailedRequests++
	}
}

func (s *requestStats) snapshot() RequestStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
