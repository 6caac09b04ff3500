// Package backend provides the durable storage layer underneath the resource store.
package backend

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a key does not exist in the backend.
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey is returned when a key would resolve outside the backend root.
	ErrInvalidKey = errors.New("invalid key")

	// ErrUsageUnavailable is returned when the backing volume cannot report usage.
	ErrUsageUnavailable = errors.New("disk usage unavailable")
)

// Backend defines the interface for storage backends.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores data at the given key, replacing any existing data.
	Write(ctx context.Context, key string, r io.Reader) error

	// Read retrieves data at the given key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes data at the given key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix.
	// The prefix should use "/" as the path separator.
	List(ctx context.Context, prefix string) ([]string, error)
}

// SizeAwareBackend extends Backend with size information.
type SizeAwareBackend interface {
	Backend

	// Size returns the size in bytes of the data at the given key.
	// Returns ErrNotFound if the key does not exist.
	Size(ctx context.Context, key string) (int64, error)
}

// Usage describes the capacity of the volume holding a backend.
type Usage struct {
	TotalBytes uint64
	UsedBytes  uint64
	FreeBytes  uint64
}

// Percent returns used space as a percentage of total, rounded to two places.
func (u Usage) Percent() float64 {
	if u.TotalBytes == 0 {
		return 0
	}
	p := float64(u.UsedBytes) / float64(u.TotalBytes) * 100
	return float64(int64(p*100+0.5)) / 100
}

// UsageAwareBackend extends Backend with volume usage reporting.
type UsageAwareBackend interface {
	Backend

	// Usage reports the capacity of the underlying volume.
	// Returns ErrUsageUnavailable when the platform cannot answer.
	Usage(ctx context.Context) (Usage, error)
}
