package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return fs
}

func readAll(t *testing.T, fs *Filesystem, key string) []byte {
	t.Helper()
	rc, err := fs.Read(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	return got
}

func TestNewFilesystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "resources")

	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	require.Equal(t, root, fs.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestFilesystemWriteRead(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	data := []byte{0x00, 0xff, 0x10, 'h', 'i'}

	require.NoError(t, fs.Write(ctx, "resources/blob.dat", bytes.NewReader(data)))
	require.Equal(t, data, readAll(t, fs, "resources/blob.dat"))
}

func TestFilesystemReadNotFound(t *testing.T) {
	fs := newTestFilesystem(t)

	_, err := fs.Read(context.Background(), "resources/missing.dat")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemExistsAndDelete(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	key := "resources/lib_sensor.dat"

	exists, err := fs.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("data"))))
	exists, err = fs.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, fs.Delete(ctx, key))
	exists, err = fs.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)

	// deleting again is not an error
	require.NoError(t, fs.Delete(ctx, key))
}

func TestFilesystemSize(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	data := []byte("test data for size check")

	require.NoError(t, fs.Write(ctx, "size/test.dat", bytes.NewReader(data)))

	size, err := fs.Size(ctx, "size/test.dat")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), size)

	_, err = fs.Size(ctx, "size/missing.dat")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemList(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	keys := []string{
		"resources/a.dat",
		"resources/b.dat",
		"other/c.dat",
	}
	for _, key := range keys {
		require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("data"))))
	}

	// a stray temp file from an interrupted write is never listed
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), "resources", tempPrefix+"123"), []byte("x"), 0o644))

	got, err := fs.List(ctx, "resources")
	require.NoError(t, err)
	sort.Strings(got)
	require.Equal(t, []string{"resources/a.dat", "resources/b.dat"}, got)

	missing, err := fs.List(ctx, "nothing-here")
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestFilesystemOverwrite(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	key := "resources/config_main.dat"

	require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("initial"))))
	newData := []byte("new content that is longer")
	require.NoError(t, fs.Write(ctx, key, bytes.NewReader(newData)))

	require.Equal(t, newData, readAll(t, fs, key))
}

func TestFilesystemRejectsEscapingKeys(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	err := fs.Write(ctx, "../outside.dat", bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = fs.Read(ctx, "resources/../../outside.dat")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestFilesystemUsage(t *testing.T) {
	fs := newTestFilesystem(t)

	usage, err := fs.Usage(context.Background())
	if err != nil {
		require.ErrorIs(t, err, ErrUsageUnavailable)
		return
	}
	require.Positive(t, usage.TotalBytes)
	require.LessOrEqual(t, usage.UsedBytes, usage.TotalBytes)
	require.GreaterOrEqual(t, usage.Percent(), 0.0)
	require.LessOrEqual(t, usage.Percent(), 100.0)
}

func TestUsagePercent(t *testing.T) {
	require.Equal(t, 0.0, Usage{}.Percent())
	require.Equal(t, 25.0, Usage{TotalBytes: 400, UsedBytes: 100}.Percent())
	require.Equal(t, 33.33, Usage{TotalBytes: 3, UsedBytes: 1}.Percent())
}
