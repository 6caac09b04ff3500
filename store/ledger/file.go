package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/wolfeidau/resource-store/backend"
)

// DocumentKey is the backend key of the JSON ledger document.
const DocumentKey = "metadata.json"

// FileStore persists the ledger as an indented JSON document in a backend.
// Writes go through the backend's atomic replace, so a crash leaves either
// the old or the new document.
type FileStore struct {
	backend backend.Backend
}

// NewFileStore creates a FileStore writing DocumentKey in b.
func NewFileStore(b backend.Backend) *FileStore {
	return &FileStore{backend: b}
}

// Load reads and parses the document.
func (f *FileStore) Load(ctx context.Context) (*Document, error) {
	rc, err := f.backend.Read(ctx, DocumentKey)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("reading %s: %w", DocumentKey, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", DocumentKey, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", DocumentKey, err)
	}
	return &doc, nil
}

// Save rewrites the whole document.
func (f *FileStore) Save(ctx context.Context, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	if err := f.backend.Write(ctx, DocumentKey, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", DocumentKey, err)
	}
	return nil
}

// Close is a no-op; the backend outlives the store.
func (f *FileStore) Close() error {
	return nil
}

var _ Persister = (*FileStore)(nil)
