//go:build unix

package fsutil

import (
	"syscall"
)

// GetFreeDiskSpace returns the available disk space in bytes for a given path
func GetFreeDiskSpace(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
