package vdi

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/deploymenttheory/go-vdi-inspector/internal/logger"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
)

// CreateOptions describes a new image
type CreateOptions struct {
	DiskSize    uint64 // Logical size in bytes
	BlockSize   uint32 // Image block size, DefaultBlockSize when zero
	Fixed       bool   // Preallocate every block instead of creating a sparse image
	Description string // Stored in the header's description field
}

// Create writes a new, empty image at path and opens it for writing. An
// existing file at path is truncated.
func Create(path string, opts CreateOptions) (*Disk, error) {
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BlockSize&(opts.BlockSize-1) != 0 {
		return nil, errors.Newf(errors.ErrOutOfRange, "Create", path, "block size %d is not a power of two", opts.BlockSize)
	}
	if opts.DiskSize == 0 {
		return nil, errors.New(errors.ErrOutOfRange, "Create", path, "disk size is zero")
	}

	imageType := uint32(ImageTypeDynamic)
	if opts.Fixed {
		imageType = ImageTypeFixed
	}
	h := newHeader(opts.DiskSize, opts.BlockSize, imageType, opts.Description)

	blockMap := make([]byte, int(h.BlocksInHDD)*4)
	for i := uint32(0); i < h.BlocksInHDD; i++ {
		entry := uint32(BlockFree)
		if opts.Fixed {
			entry = i
		}
		binary.LittleEndian.PutUint32(blockMap[i*4:], entry)
	}
	if opts.Fixed {
		h.BlocksAllocated = h.BlocksInHDD
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.New(errors.ErrIOFailure, "Create", path, err.Error())
	}

	if err := writeLayout(f, &h, blockMap); err != nil {
		f.Close()
		return nil, errors.New(errors.ErrIOFailure, "Create", path, err.Error())
	}

	d, err := load(f, path, false)
	if err != nil {
		f.Close()
		return nil, err
	}

	logger.LogDebug("Created disk image", map[string]interface{}{
		"path":       path,
		"disk_size":  opts.DiskSize,
		"block_size": opts.BlockSize,
		"fixed":      opts.Fixed,
	})
	return d, nil
}

func writeLayout(f *os.File, h *Header, blockMap []byte) error {
	raw, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(raw, 0); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.WriteAt(blockMap, int64(h.OffsetBlocks)); err != nil {
		return fmt.Errorf("writing translation map: %w", err)
	}

	end := int64(h.OffsetData) + int64(h.BlocksAllocated)*h.blockStride()
	if err := f.Truncate(end); err != nil {
		return fmt.Errorf("sizing image to %d bytes: %w", end, err)
	}
	return nil
}
