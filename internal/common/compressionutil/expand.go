package compression

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deploymenttheory/go-vdi-inspector/internal/common/fsutil"
	"github.com/deploymenttheory/go-vdi-inspector/internal/logger"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
)

// Format names a compression container wrapped around a disk image
type Format string

const (
	FormatNone  Format = ""
	FormatXZ    Format = "xz"
	FormatBZIP2 Format = "bzip2"
	FormatGZIP  Format = "gzip"
)

var magicNumbers = []struct {
	format Format
	magic  []byte
}{
	{FormatXZ, []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}},
	{FormatBZIP2, []byte{0x42, 0x5A, 0x68}},
	{FormatGZIP, []byte{0x1F, 0x8B}},
}

var extensions = map[Format]string{
	FormatXZ:    ".xz",
	FormatBZIP2: ".bz2",
	FormatGZIP:  ".gz",
}

// DetectFormat identifies a compressed file by its magic number. Files
// without a known magic report FormatNone.
func DetectFormat(path string) (Format, error) {
	if !fsutil.FileExists(path) {
		return FormatNone, errors.New(errors.ErrNotFound, "DetectFormat", path, "")
	}

	header, err := fsutil.ReadFileHeader(path, 6)
	if err != nil {
		return FormatNone, fmt.Errorf("failed to read file header: %w", err)
	}

	for _, m := range magicNumbers {
		if bytes.HasPrefix(header, m.magic) {
			return m.format, nil
		}
	}
	return FormatNone, nil
}

// Expand decompresses src into workDir when it is a compressed image and
// returns the path to open. Uncompressed input is returned as is.
func Expand(src, workDir string) (string, error) {
	format, err := DetectFormat(src)
	if err != nil {
		return "", err
	}
	if format == FormatNone {
		return src, nil
	}

	if workDir == "" {
		workDir = filepath.Dir(src)
	}
	if err := fsutil.CreateDirIfNotExists(workDir); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}

	// the expanded image is at least as large as the compressed one
	if info, err := os.Stat(src); err == nil {
		if ok, err := fsutil.HasEnoughDiskSpace(workDir, uint64(info.Size())); err == nil && !ok {
			return "", fmt.Errorf("not enough free space in %s to expand %s", workDir, src)
		}
	}

	dst := filepath.Join(workDir, expandedName(src, format))
	if dst == src {
		return "", fmt.Errorf("expanded image would overwrite %s", src)
	}

	logger.LogInfo("Expanding compressed image", map[string]interface{}{
		"source":      src,
		"destination": dst,
		"format":      string(format),
	})

	if err := Extract(format, src, dst); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("failed to expand %s image: %w", format, err)
	}
	return dst, nil
}

// expandedName strips the compression extension, or appends ".raw" when
// the file does not carry one
func expandedName(src string, format Format) string {
	base := filepath.Base(src)
	ext := extensions[format]
	if strings.HasSuffix(strings.ToLower(base), ext) && len(base) > len(ext) {
		return base[:len(base)-len(ext)]
	}
	return base + ".raw"
}
