//go:build unix

package backend

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func volumeUsage(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, fmt.Errorf("%w: statfs %s: %v", ErrUsageUnavailable, path, err)
	}
	bsize := uint64(st.Bsize) //nolint:gosec // block size is never negative
	total := uint64(st.Blocks) * bsize
	free := uint64(st.Bavail) * bsize
	// Blocks reserved for root count as used.
	used := total - uint64(st.Bfree)*bsize
	return Usage{TotalBytes: total, UsedBytes: used, FreeBytes: free}, nil
}
