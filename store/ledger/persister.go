package ledger

import (
	"context"
	"errors"
)

// ErrNotExist is returned by Load when no document has been saved yet.
var ErrNotExist = errors.New("ledger: document does not exist")

// Persister stores and loads the whole ledger document.
// Save always rewrites the full document.
type Persister interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	Close() error
}
