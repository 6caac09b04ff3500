// Package accesslog appends one JSON line per successful resource read.
// The log is write-only; nothing in the store reads it back.
package accesslog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the default access log name under the storage root.
const FileName = "access.log"

// Entry is a single access log line.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	ResourceID   string    `json:"resource_id"`
	ClientOrigin string    `json:"client_ip"`
}

// Rotation controls lumberjack file rotation. Zero values use lumberjack's defaults.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Log serialises appends to an underlying writer.
type Log struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
	now func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates a Log writing to w.
func New(w io.Writer, opts ...Option) *Log {
	l := &Log{
		w:   w,
		enc: json.NewEncoder(w),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open creates a Log appending to a rotating file at path.
func Open(path string, rot Rotation, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating access log directory: %w", err)
	}
	return New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
		LocalTime:  true,
	}, opts...), nil
}

// Record appends an entry for a read of id by origin.
func (l *Log) Record(id, origin string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Timestamp:    l.now(),
		ResourceID:   id,
		ClientOrigin: origin,
	}
	if err := l.enc.Encode(entry); err != nil {
		return fmt.Errorf("writing access log: %w", err)
	}
	return nil
}

// Close closes the underlying writer when it is closable.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
