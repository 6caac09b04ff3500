//go:build !unix

package backend

func volumeUsage(string) (Usage, error) {
	return Usage{}, ErrUsageUnavailable
}
