package resource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/resource-store/backend"
)

type staticUsage struct {
	usage backend.Usage
	err   error
}

func (s staticUsage) Usage(context.Context) (backend.Usage, error) {
	return s.usage, s.err
}

func TestStatsAggregates(t *testing.T) {
	env := newTestEnv(t, WithUsage(staticUsage{usage: backend.Usage{TotalBytes: 400, UsedBytes: 100, FreeBytes: 300}}))
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "config_main", make([]byte, 100), StoreOptions{Category: "config"}))
	require.NoError(t, env.mgr.Store(ctx, "ui_strings", make([]byte, 50), StoreOptions{Category: "ui"}))
	require.NoError(t, env.mgr.Store(ctx, "ui_more", make([]byte, 25), StoreOptions{Category: "ui"}))
	for range 2 {
		_, err := env.mgr.Get(ctx, "ui_more")
		require.NoError(t, err)
	}

	stats, err := env.mgr.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalResources)
	require.Equal(t, int64(175), stats.TotalSizeBytes)
	require.Equal(t, 0.0, stats.TotalSizeMB)
	require.Equal(t, CategoryStats{Count: 1, Size: 100}, stats.Categories["config"])
	require.Equal(t, CategoryStats{Count: 2, Size: 75}, stats.Categories["ui"])

	require.Len(t, stats.MostAccessed, 3)
	require.Equal(t, AccessCount{ID: "ui_more", AccessCount: 2}, stats.MostAccessed[0])
	require.Equal(t, "config_main", stats.MostAccessed[1].ID)

	require.True(t, stats.DiskUsage.Available)
	require.Equal(t, 25.0, stats.DiskUsage.UsagePercent)
}

func TestStatsMostAccessedLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := range 15 {
		id := fmt.Sprintf("r%02d", i)
		require.NoError(t, env.mgr.Store(ctx, id, []byte("x"), StoreOptions{}))
		for range i {
			_, err := env.mgr.Get(ctx, id)
			require.NoError(t, err)
		}
	}

	stats, err := env.mgr.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats.MostAccessed, 10)
	require.Equal(t, "r14", stats.MostAccessed[0].ID)
	require.Equal(t, "r05", stats.MostAccessed[9].ID)
}

func TestStatsTotalSizeMB(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.mgr.Store(context.Background(), "big", make([]byte, 3*1024*1024/2), StoreOptions{}))

	stats, err := env.mgr.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1.5, stats.TotalSizeMB)
}

func TestStatsDiskUsageUnavailable(t *testing.T) {
	env := newTestEnv(t, WithUsage(staticUsage{err: errors.New("statfs failed")}))

	stats, err := env.mgr.Stats(context.Background())
	require.NoError(t, err)
	require.False(t, stats.DiskUsage.Available)
	require.NotEmpty(t, stats.DiskUsage.Error)

	env = newTestEnv(t)
	stats, err = env.mgr.Stats(context.Background())
	require.NoError(t, err)
	require.False(t, stats.DiskUsage.Available)
}

func TestStatsMatchesList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := range 30 {
		require.NoError(t, env.mgr.Store(ctx, fmt.Sprintf("r%02d", i), []byte("x"), StoreOptions{Priority: i%4 + 1}))
	}
	require.NoError(t, env.mgr.Delete(ctx, "r03"))
	require.NoError(t, os.Remove(env.payloadPath("r04")))
	_, err := env.mgr.Get(ctx, "r04")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.mgr.Optimize(ctx, 10)
	require.NoError(t, err)

	stats, err := env.mgr.Stats(ctx)
	require.NoError(t, err)
	all, err := env.mgr.List(ctx, ListQuery{PerPage: 1000})
	require.NoError(t, err)
	require.Equal(t, stats.TotalResources, len(all))
}

func TestReconcile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "keep", []byte("x"), StoreOptions{}))
	require.NoError(t, env.mgr.Store(ctx, "stale", []byte("x"), StoreOptions{}))
	require.NoError(t, os.Remove(env.payloadPath("stale")))

	_, err := env.mgr.content.Write(ctx, "orphan", []byte("no record"))
	require.NoError(t, err)

	result, err := env.mgr.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"stale"}, result.StaleRecords)
	require.Equal(t, []string{"orphan"}, result.OrphanPayloads)

	ids, err := env.mgr.content.IDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"keep"}, ids)
	require.Equal(t, []string{"keep"}, env.mgr.ledger.IDs())

	// nothing left to repair
	result, err = env.mgr.Reconcile(ctx)
	require.NoError(t, err)
	require.Empty(t, result.StaleRecords)
	require.Empty(t, result.OrphanPayloads)
}

func TestSeedDemo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.mgr.Store(ctx, "config_main", []byte("custom"), StoreOptions{Category: "config"}))

	seeded, err := SeedDemo(ctx, env.mgr)
	require.NoError(t, err)
	require.Equal(t, []string{"lib_sensor", "data_sample", "ui_strings"}, seeded)

	// existing resources are left alone
	got, err := env.mgr.Get(ctx, "config_main")
	require.NoError(t, err)
	require.Equal(t, []byte("custom"), got)

	got, err = env.mgr.Get(ctx, "lib_sensor")
	require.NoError(t, err)
	require.Equal(t, "#include <sensor.h>\nvoid readSensor() { /* sensor code */ }", string(got))

	info, err := env.mgr.Version(ctx, "data_sample")
	require.NoError(t, err)
	require.Equal(t, 3, info.Priority)

	seeded, err = SeedDemo(ctx, env.mgr)
	require.NoError(t, err)
	require.Empty(t, seeded)

	all, err := env.mgr.List(ctx, ListQuery{})
	require.NoError(t, err)
	ids := summaryIDs(all)
	slices.Sort(ids)
	require.Equal(t, []string{"config_main", "data_sample", "lib_sensor", "ui_strings"}, ids)
}
