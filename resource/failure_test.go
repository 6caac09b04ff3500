package resource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/resource-store/backend"
	"github.com/wolfeidau/resource-store/store"
	"github.com/wolfeidau/resource-store/store/ledger"
)

var errDiskFull = errors.New("disk full")

// flakyPersister persists through a FileStore until failSave is set.
type flakyPersister struct {
	*ledger.FileStore
	failSave atomic.Bool
}

func (p *flakyPersister) Save(ctx context.Context, doc *ledger.Document) error {
	if p.failSave.Load() {
		return errDiskFull
	}
	return p.FileStore.Save(ctx, doc)
}

// flakyContent fails writes, or removals of chosen ids, on demand.
type flakyContent struct {
	store.Store
	failWrite atomic.Bool

	mu         sync.Mutex
	failRemove map[string]bool
}

func (c *flakyContent) Write(ctx context.Context, id string, data []byte) (*store.PutResult, error) {
	if c.failWrite.Load() {
		return nil, errDiskFull
	}
	return c.Store.Write(ctx, id, data)
}

func (c *flakyContent) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	fail := c.failRemove[id]
	c.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return c.Store.Remove(ctx, id)
}

type flakyEnv struct {
	*testEnv
	persister *flakyPersister
	content   *flakyContent
}

func newFlakyEnv(t *testing.T) *flakyEnv {
	t.Helper()
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	clock := newFakeClock()
	p := &flakyPersister{FileStore: ledger.NewFileStore(fs)}
	c := &flakyContent{Store: store.NewContentStore(fs), failRemove: map[string]bool{}}
	l := ledger.Open(context.Background(), p, ledger.WithNow(clock.Now))

	return &flakyEnv{
		testEnv:   &testEnv{mgr: New(c, l, WithNow(clock.Now)), fs: fs, clock: clock},
		persister: p,
		content:   c,
	}
}

func TestOptimizeCountsDeletesWhenCommitFails(t *testing.T) {
	env := newFlakyEnv(t)
	storeSized(t, env.testEnv, "a", 500, 4)
	storeSized(t, env.testEnv, "b", 500, 4)
	env.persister.failSave.Store(true)

	report, err := env.mgr.Optimize(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, ActionCompleted, report.Action)
	require.Equal(t, 2, report.DeletedCount)
	require.Equal(t, int64(1000), report.FreedBytes)
	require.Equal(t, int64(0), report.FinalSizeBytes)
	require.Equal(t, report.FinalSizeBytes, env.mgr.ledger.TotalSize())
}

func TestDeleteSucceedsWhenCommitFails(t *testing.T) {
	env := newFlakyEnv(t)
	ctx := context.Background()
	require.NoError(t, env.mgr.Store(ctx, "d", []byte("payload"), StoreOptions{}))
	env.persister.failSave.Store(true)

	require.NoError(t, env.mgr.Delete(ctx, "d"))
	_, err := env.mgr.Get(ctx, "d")
	require.Equal(t, KindNotFound, KindOf(err))

	// the removal is persisted by the next successful commit
	env.persister.failSave.Store(false)
	require.NoError(t, env.mgr.Store(ctx, "e", []byte("x"), StoreOptions{}))
	l := ledger.Open(ctx, env.persister)
	_, ok := l.Get("d")
	require.False(t, ok)
}

func TestOptimizeSkipsFailedDelete(t *testing.T) {
	env := newFlakyEnv(t)
	for _, id := range []string{"a", "b", "c"} {
		storeSized(t, env.testEnv, id, 400, 4)
	}
	env.content.failRemove["a"] = true

	report, err := env.mgr.Optimize(context.Background(), 500)
	require.NoError(t, err)
	require.Equal(t, ActionCompleted, report.Action)
	require.Len(t, report.Deleted, 2)
	require.Equal(t, []string{"b", "c"}, []string{report.Deleted[0].ID, report.Deleted[1].ID})
	require.Equal(t, 2, report.DeletedCount)
	require.Equal(t, int64(800), report.FreedBytes)
	require.Equal(t, int64(400), report.FinalSizeBytes)
	require.Equal(t, []string{"a"}, env.mgr.ledger.IDs())
}

func TestDeleteFailsWhenPayloadRemovalFails(t *testing.T) {
	env := newFlakyEnv(t)
	ctx := context.Background()
	require.NoError(t, env.mgr.Store(ctx, "a", []byte("x"), StoreOptions{}))
	env.content.failRemove["a"] = true

	err := env.mgr.Delete(ctx, "a")
	require.Equal(t, KindStorageFailure, KindOf(err))
	require.ErrorIs(t, err, errDiskFull)
	env.record(t, "a")
}

func TestStoreWriteFailure(t *testing.T) {
	env := newFlakyEnv(t)
	env.content.failWrite.Store(true)

	err := env.mgr.Store(context.Background(), "a", []byte("x"), StoreOptions{})
	require.Equal(t, KindStorageFailure, KindOf(err))
	require.ErrorIs(t, err, errDiskFull)
	require.Zero(t, env.mgr.Count())
}

func TestStoreCommitFailure(t *testing.T) {
	env := newFlakyEnv(t)
	env.persister.failSave.Store(true)

	err := env.mgr.Store(context.Background(), "a", []byte("x"), StoreOptions{})
	require.Equal(t, KindStorageFailure, KindOf(err))
	require.ErrorIs(t, err, errDiskFull)
	require.Contains(t, err.Error(), "resource store a: storage_failure")
}

func TestGetCommitFailureKeepsRecord(t *testing.T) {
	env := newFlakyEnv(t)
	ctx := context.Background()
	require.NoError(t, env.mgr.Store(ctx, "a", []byte("x"), StoreOptions{}))
	before := env.record(t, "a")
	env.persister.failSave.Store(true)
	env.clock.Advance(time.Hour)

	_, err := env.mgr.Get(ctx, "a")
	require.Equal(t, KindStorageFailure, KindOf(err))
	require.Equal(t, before, env.record(t, "a"))
}
