// Package store provides id-addressed payload storage for the resource store.
package store

import (
	"context"

	resourcestore "github.com/wolfeidau/resource-store"
)

// Store maps resource ids to payloads on durable storage, one file per id.
// It keeps no metadata of its own; the ledger owns that.
type Store interface {
	// Write stores the payload for id, replacing any previous payload.
	Write(ctx context.Context, id string, data []byte) (*PutResult, error)

	// Read returns the payload for id.
	// Returns backend.ErrNotFound if no payload exists.
	Read(ctx context.Context, id string) ([]byte, error)

	// Remove deletes the payload for id.
	// Returns nil if no payload exists (idempotent).
	Remove(ctx context.Context, id string) error

	// Exists checks if a payload exists for id.
	Exists(ctx context.Context, id string) (bool, error)

	// IDs returns the id of every stored payload.
	IDs(ctx context.Context) ([]string, error)
}

// PutResult contains information about a Write operation.
type PutResult struct {
	Hash resourcestore.Hash
	Size int64
}
