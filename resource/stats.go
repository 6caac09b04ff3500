package resource

import (
	"cmp"
	"context"
	"math"
	"slices"
)

const mib = 1024 * 1024

// topAccessedLimit is how many resources Stats reports as most accessed.
const topAccessedLimit = 10

// CategoryStats aggregates the resources of one category.
type CategoryStats struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

// AccessCount pairs a resource with its read count.
type AccessCount struct {
	ID          string `json:"resource_id"`
	AccessCount int64  `json:"access_count"`
}

// DiskUsage reports the storage volume, or why it could not be queried.
type DiskUsage struct {
	Available    bool    `json:"available"`
	TotalBytes   uint64  `json:"total_bytes,omitempty"`
	UsedBytes    uint64  `json:"used_bytes,omitempty"`
	FreeBytes    uint64  `json:"free_bytes,omitempty"`
	UsagePercent float64 `json:"usage_percent,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Stats is the aggregate view of the store.
type Stats struct {
	TotalResources int                      `json:"total_resources"`
	TotalSizeBytes int64                    `json:"total_size_bytes"`
	TotalSizeMB    float64                  `json:"total_size_mb"`
	Categories     map[string]CategoryStats `json:"categories"`
	MostAccessed   []AccessCount            `json:"most_accessed"`
	DiskUsage      DiskUsage                `json:"disk_usage"`
}

// Stats summarises every resource in the ledger.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	records := m.ledger.Snapshot()
	m.mu.RUnlock()

	stats := Stats{
		TotalResources: len(records),
		Categories:     make(map[string]CategoryStats),
		MostAccessed:   make([]AccessCount, 0, min(len(records), topAccessedLimit)),
	}

	counts := make([]AccessCount, 0, len(records))
	for id, rec := range records {
		stats.TotalSizeBytes += rec.Size

		cs := stats.Categories[rec.Category]
		cs.Count++
		cs.Size += rec.Size
		stats.Categories[rec.Category] = cs

		counts = append(counts, AccessCount{ID: id, AccessCount: rec.AccessCount})
	}
	stats.TotalSizeMB = toMB(stats.TotalSizeBytes)

	slices.SortFunc(counts, func(a, b AccessCount) int {
		if c := cmp.Compare(b.AccessCount, a.AccessCount); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	stats.MostAccessed = append(stats.MostAccessed, counts[:min(len(counts), topAccessedLimit)]...)

	stats.DiskUsage = m.diskUsage(ctx)
	return stats, nil
}

func (m *Manager) diskUsage(ctx context.Context) DiskUsage {
	if m.usage == nil {
		return DiskUsage{Error: "Unable to get disk usage"}
	}
	u, err := m.usage.Usage(ctx)
	if err != nil {
		m.logger.Debug("disk usage unavailable", "error", err)
		return DiskUsage{Error: "Unable to get disk usage"}
	}
	return DiskUsage{
		Available:    true,
		TotalBytes:   u.TotalBytes,
		UsedBytes:    u.UsedBytes,
		FreeBytes:    u.FreeBytes,
		UsagePercent: u.Percent(),
	}
}

// toMB converts bytes to MiB rounded to two places.
func toMB(n int64) float64 {
	return math.Round(float64(n)/mib*100) / 100
}
