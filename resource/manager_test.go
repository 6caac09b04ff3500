package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/resource-store/accesslog"
	"github.com/wolfeidau/resource-store/backend"
	"github.com/wolfeidau/resource-store/store"
	"github.com/wolfeidau/resource-store/store/ledger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	mgr   *Manager
	fs    *backend.Filesystem
	clock *fakeClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return openTestEnv(t, fs, newFakeClock(), opts...)
}

func openTestEnv(t *testing.T, fs *backend.Filesystem, clock *fakeClock, opts ...Option) *testEnv {
	t.Helper()
	l := ledger.Open(context.Background(), ledger.NewFileStore(fs), ledger.WithNow(clock.Now))
	opts = append([]Option{WithNow(clock.Now)}, opts...)
	return &testEnv{
		mgr:   New(store.NewContentStore(fs), l, opts...),
		fs:    fs,
		clock: clock,
	}
}

func (e *testEnv) payloadPath(id string) string {
	return filepath.Join(e.fs.Root(), filepath.FromSlash(store.PayloadKey(id)))
}

func (e *testEnv) record(t *testing.T, id string) ledger.Record {
	t.Helper()
	rec, ok := e.mgr.ledger.Get(id)
	require.True(t, ok, "record %s", id)
	return rec
}

func TestStoreGetRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payloads := map[string][]byte{
		"text":   []byte("Welcome to VRAM ✓"),
		"binary": {0x00, 0xff, 0x10, 0x80, 0x00},
		"empty":  {},
		"large":  bytes.Repeat([]byte("x"), 256*1024),
	}
	for id, data := range payloads {
		require.NoError(t, env.mgr.Store(ctx, id, data, StoreOptions{}))
	}
	for id, data := range payloads {
		got, err := env.mgr.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, len(data), len(got))
		require.True(t, bytes.Equal(data, got), id)
	}
}

func TestStoreDefaultsAndRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "config_main", []byte("{}"), StoreOptions{}))

	rec := env.record(t, "config_main")
	assert.Equal(t, ledger.DefaultCategory, rec.Category)
	assert.Equal(t, 1, rec.Priority)
	assert.Equal(t, int64(2), rec.Size)
	assert.Len(t, rec.Hash, 64)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, int64(0), rec.AccessCount)
	assert.Equal(t, env.clock.Now(), rec.Created)
	assert.Equal(t, rec.Created, rec.LastAccessed)
}

func TestStoreInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.mgr.Store(ctx, "", []byte("x"), StoreOptions{})
	require.Equal(t, KindInvalid, KindOf(err))

	for _, p := range []int{-1, 5, 100} {
		err := env.mgr.Store(ctx, "a", []byte("x"), StoreOptions{Priority: p})
		require.Equal(t, KindInvalid, KindOf(err), "priority %d", p)
	}
	require.Equal(t, 0, env.mgr.ledger.Len())
}

func TestGetMissing(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mgr.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestDeleteThenGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "data_sample", []byte("sample"), StoreOptions{Priority: 3}))
	require.NoError(t, env.mgr.Delete(ctx, "data_sample"))

	_, err := env.mgr.Get(ctx, "data_sample")
	require.ErrorIs(t, err, ErrNotFound)

	err = env.mgr.Delete(ctx, "data_sample")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, KindNotFound, KindOf(err))

	_, statErr := os.Stat(env.payloadPath("data_sample"))
	require.True(t, os.IsNotExist(statErr))
}

func TestDeleteToleratesMissingPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "a", []byte("x"), StoreOptions{}))
	require.NoError(t, os.Remove(env.payloadPath("a")))

	require.NoError(t, env.mgr.Delete(ctx, "a"))
	require.Equal(t, 0, env.mgr.ledger.Len())
}

func TestOverwriteResetsStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "ui_strings", []byte("A"), StoreOptions{Category: "ui", Priority: 2}))
	for range 3 {
		_, err := env.mgr.Get(ctx, "ui_strings")
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), env.record(t, "ui_strings").AccessCount)

	env.clock.Advance(time.Hour)
	require.NoError(t, env.mgr.Store(ctx, "ui_strings", []byte("B"), StoreOptions{Category: "ui", Priority: 2}))
	rec := env.record(t, "ui_strings")
	require.Equal(t, int64(0), rec.AccessCount)
	require.Equal(t, 1, rec.Version)
	require.Equal(t, env.clock.Now(), rec.Created)

	got, err := env.mgr.Get(ctx, "ui_strings")
	require.NoError(t, err)
	require.Equal(t, []byte("B"), got)
	require.Equal(t, int64(1), env.record(t, "ui_strings").AccessCount)
}

func TestGetUpdatesAccessTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "a", []byte("x"), StoreOptions{}))
	env.clock.Advance(2 * time.Hour)
	_, err := env.mgr.Get(ctx, "a")
	require.NoError(t, err)

	rec := env.record(t, "a")
	require.Equal(t, env.clock.Now(), rec.LastAccessed)
	require.True(t, rec.LastAccessed.After(rec.Created))
}

func TestSelfHealingMissingPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "lib_sensor", []byte("code"), StoreOptions{Category: "library"}))
	require.NoError(t, env.mgr.Store(ctx, "keep", []byte("x"), StoreOptions{}))
	require.NoError(t, os.Remove(env.payloadPath("lib_sensor")))

	_, err := env.mgr.Get(ctx, "lib_sensor")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, KindAbsent, KindOf(err))

	list, err := env.mgr.List(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "keep", list[0].ID)

	// the purge was committed
	reopened := openTestEnv(t, env.fs, env.clock)
	_, ok := reopened.mgr.ledger.Get("lib_sensor")
	require.False(t, ok)

	_, err = env.mgr.Get(ctx, "lib_sensor")
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestLedgerPersistsAcrossReopen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "config_main", []byte("{}"), StoreOptions{Category: "config"}))
	_, err := env.mgr.Get(ctx, "config_main")
	require.NoError(t, err)

	reopened := openTestEnv(t, env.fs, env.clock)
	rec := reopened.record(t, "config_main")
	require.Equal(t, "config", rec.Category)
	require.Equal(t, int64(1), rec.AccessCount)

	got, err := reopened.mgr.Get(ctx, "config_main")
	require.NoError(t, err)
	require.Equal(t, []byte("{}"), got)
}

func TestCorruptLedgerStartsEmpty(t *testing.T) {
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), ledger.DocumentKey), []byte("garbage"), 0o644))

	env := openTestEnv(t, fs, newFakeClock())
	require.True(t, env.mgr.ledger.Recovered())

	stats, err := env.mgr.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.TotalResources)

	require.NoError(t, env.mgr.Store(context.Background(), "a", []byte("x"), StoreOptions{}))
}

func TestAccessLogRecordsOrigin(t *testing.T) {
	var buf bytes.Buffer
	clock := newFakeClock()
	log := accesslog.New(&buf, accesslog.WithNow(clock.Now))

	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	env := openTestEnv(t, fs, clock, WithAccessLog(log))
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "config_main", []byte("{}"), StoreOptions{}))
	require.Zero(t, buf.Len(), "stores are not access-logged")

	_, err = env.mgr.Get(WithOrigin(ctx, "192.0.2.7"), "config_main")
	require.NoError(t, err)
	_, err = env.mgr.Get(ctx, "config_main")
	require.NoError(t, err)
	_, err = env.mgr.Get(ctx, "missing")
	require.Error(t, err)

	dec := json.NewDecoder(&buf)
	var first, second accesslog.Entry
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	require.False(t, dec.More())

	require.Equal(t, "config_main", first.ResourceID)
	require.Equal(t, "192.0.2.7", first.ClientOrigin)
	require.Equal(t, UnknownOrigin, second.ClientOrigin)
	require.True(t, clock.Now().Equal(first.Timestamp))
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "lib_sensor", []byte("code"), StoreOptions{Category: "library", Priority: 2}))
	created := env.clock.Now()
	env.clock.Advance(time.Hour)
	_, err := env.mgr.Get(ctx, "lib_sensor")
	require.NoError(t, err)

	info, err := env.mgr.Version(ctx, "lib_sensor")
	require.NoError(t, err)
	require.Equal(t, "lib_sensor", info.ID)
	require.Equal(t, 1, info.Version)
	require.Equal(t, int64(4), info.Size)
	require.Equal(t, 2, info.Priority)
	require.Equal(t, created, info.LastModified)
	require.Equal(t, env.record(t, "lib_sensor").Hash, info.Hash)

	_, err = env.mgr.Version(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.mgr.Store(ctx, "shared", []byte("x"), StoreOptions{}))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch i % 4 {
			case 0:
				_, _ = env.mgr.Get(ctx, "shared")
			case 1:
				_, _ = env.mgr.List(ctx, ListQuery{})
			case 2:
				_, _ = env.mgr.Stats(ctx)
			default:
				_ = env.mgr.Store(ctx, "shared", []byte("y"), StoreOptions{})
			}
		}()
	}
	wg.Wait()

	_, err := env.mgr.Get(ctx, "shared")
	require.NoError(t, err)
}

func TestErrorFormatting(t *testing.T) {
	err := newError(KindStorageFailure, "store", "a", errors.New("disk full"))
	require.Equal(t, "resource store a: storage_failure: disk full", err.Error())
	require.NotErrorIs(t, err, ErrNotFound)
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	require.Equal(t, "success", outcome(nil))
	require.Equal(t, "absent", outcome(newError(KindAbsent, "get", "a", nil)))
}

func TestManagerClose(t *testing.T) {
	var buf bytes.Buffer
	env := newTestEnv(t, WithAccessLog(accesslog.New(&buf)))
	require.NoError(t, env.mgr.Close())
}
