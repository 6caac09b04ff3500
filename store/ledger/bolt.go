package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketLedger = []byte("ledger")
	keyDocument  = []byte("document")
)

// BoltStore persists the ledger document as a single value in bbolt.
type BoltStore struct {
	db     *bbolt.DB
	codec  *codec
	logger *slog.Logger
	noSync bool
}

// BoltOption configures a BoltStore.
type BoltOption func(*BoltStore)

// WithBoltLogger sets the logger for the store.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(b *BoltStore) {
		b.logger = logger
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: risks losing the last commit on crash. Use only for tests.
func WithNoSync(noSync bool) BoltOption {
	return func(b *BoltStore) {
		b.noSync = noSync
	}
}

// NewBoltStore creates a BoltStore; call Open before use.
func NewBoltStore(opts ...BoltOption) *BoltStore {
	b := &BoltStore{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database at path, creating it if needed.
func (b *BoltStore) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLedger)
		return err
	}); err != nil {
		_ = db.Close()
		return fmt.Errorf("creating bucket %s: %w", bucketLedger, err)
	}

	c, err := newCodec()
	if err != nil {
		_ = db.Close()
		return err
	}

	b.db = db
	b.codec = c
	b.logger.Debug("opened ledger database", "path", path, "noSync", b.noSync)
	return nil
}

// Load reads the stored document.
func (b *BoltStore) Load(_ context.Context) (*Document, error) {
	var raw []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketLedger).Get(keyDocument)
		if v == nil {
			return ErrNotExist
		}
		// bbolt values are only valid inside the transaction
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := b.codec.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding ledger: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing ledger: %w", err)
	}
	return &doc, nil
}

// Save replaces the stored document in one transaction.
func (b *BoltStore) Save(_ context.Context, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	value := b.codec.encode(data)

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLedger).Put(keyDocument, value)
	})
}

// Close closes the database and releases the codec.
func (b *BoltStore) Close() error {
	if b.codec != nil {
		b.codec.close()
		b.codec = nil
	}
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

var _ Persister = (*BoltStore)(nil)
