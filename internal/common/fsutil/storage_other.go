//go:build !unix

package fsutil

import (
	"fmt"
	"runtime"
)

// GetFreeDiskSpace is not available on this platform
func GetFreeDiskSpace(path string) (uint64, error) {
	return 0, fmt.Errorf("free space query not supported on %s", runtime.GOOS)
}
