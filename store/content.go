package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	resourcestore "github.com/wolfeidau/resource-store"
	"github.com/wolfeidau/resource-store/backend"
)

const (
	// payloadPrefix is the prefix for payload storage keys.
	payloadPrefix = "resources"

	// payloadSuffix is appended to every payload file name.
	payloadSuffix = ".dat"
)

// ContentStore implements Store on a backend.
// Payloads live at resources/{escaped-id}.dat.
type ContentStore struct {
	backend backend.Backend
}

// NewContentStore creates a content store on the given backend.
func NewContentStore(b backend.Backend) *ContentStore {
	return &ContentStore{backend: b}
}

// Write stores the payload for id and returns its digest and size.
func (c *ContentStore) Write(ctx context.Context, id string, data []byte) (*PutResult, error) {
	if err := c.backend.Write(ctx, PayloadKey(id), bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("writing payload: %w", err)
	}
	return &PutResult{
		Hash: resourcestore.HashBytes(data),
		Size: int64(len(data)),
	}, nil
}

// Read returns the payload for id.
func (c *ContentStore) Read(ctx context.Context, id string) ([]byte, error) {
	rc, err := c.backend.Read(ctx, PayloadKey(id))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return data, nil
}

// Remove deletes the payload for id.
func (c *ContentStore) Remove(ctx context.Context, id string) error {
	if err := c.backend.Delete(ctx, PayloadKey(id)); err != nil {
		return fmt.Errorf("removing payload: %w", err)
	}
	return nil
}

// Exists checks if a payload exists for id.
func (c *ContentStore) Exists(ctx context.Context, id string) (bool, error) {
	return c.backend.Exists(ctx, PayloadKey(id))
}

// IDs returns the id of every stored payload.
func (c *ContentStore) IDs(ctx context.Context) ([]string, error) {
	keys, err := c.backend.List(ctx, payloadPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing payloads: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id, err := ParsePayloadKey(key)
		if err != nil {
			// Not one of ours
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PayloadKey converts a resource id to its storage key.
// The id is path-escaped so every id maps to exactly one file directly under
// the payload directory.
func PayloadKey(id string) string {
	return payloadPrefix + "/" + url.PathEscape(id) + payloadSuffix
}

// ParsePayloadKey extracts the resource id from a storage key.
func ParsePayloadKey(key string) (string, error) {
	name, ok := strings.CutPrefix(key, payloadPrefix+"/")
	if !ok || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid payload key: %s", key)
	}
	name, ok = strings.CutSuffix(name, payloadSuffix)
	if !ok {
		return "", fmt.Errorf("invalid payload key: %s", key)
	}
	id, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("invalid payload key %s: %w", key, err)
	}
	return id, nil
}

// Compile-time interface checks
var _ Store = (*ContentStore)(nil)
