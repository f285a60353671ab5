package ext2

import (
	"fmt"
	"io"

	"github.com/deploymenttheory/go-vdi-inspector/internal/logger"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/mbr"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/vdi"
)

// AutoPartition selects the first native Linux partition
const AutoPartition = -1

// OpenOptions controls how Open reaches the filesystem
type OpenOptions struct {
	ReadOnly  bool // Open the image without write access
	Partition int  // Partition table index, or AutoPartition
}

// Volume is an ext2 filesystem on a partition. It owns the in-memory
// superblock and is the only writer of it.
type Volume struct {
	dev       mbr.Device
	disk      *vdi.Disk // Set when the volume opened the image itself
	partition *mbr.Partition
	sb        Superblock
}

// Open opens the image at path for writing and mounts the first native
// Linux partition
func Open(path string) (*Volume, error) {
	return OpenWithOptions(path, OpenOptions{Partition: AutoPartition})
}

// OpenWithOptions opens the image at path and loads the filesystem on the
// selected partition
func OpenWithOptions(path string, opts OpenOptions) (*Volume, error) {
	var (
		disk *vdi.Disk
		err  error
	)
	if opts.ReadOnly {
		disk, err = vdi.OpenReadOnly(path)
	} else {
		disk, err = vdi.Open(path)
	}
	if err != nil {
		return nil, err
	}

	v, err := openOnDisk(disk, opts.Partition)
	if err != nil {
		disk.Close()
		return nil, err
	}
	v.disk = disk
	return v, nil
}

func openOnDisk(disk *vdi.Disk, index int) (*Volume, error) {
	table, err := mbr.ReadTable(disk)
	if err != nil {
		return nil, err
	}

	if index == AutoPartition {
		if index = table.FindType(mbr.TypeLinux); index < 0 {
			return nil, errors.New(errors.ErrNoExt2Partition, "Open", disk.Path(), "")
		}
	}

	part, err := mbr.OpenEntry(disk, table, index)
	if err != nil {
		return nil, err
	}

	v, err := NewVolume(part)
	if err != nil {
		return nil, err
	}
	v.partition = part
	return v, nil
}

// NewVolume loads the primary superblock of the filesystem on dev. The device
// stays owned by the caller.
func NewVolume(dev mbr.Device) (*Volume, error) {
	v := &Volume{dev: dev}
	sb, err := v.FetchSuperblock(0)
	if err != nil {
		return nil, err
	}
	if uint64(sb.BlocksCount)*uint64(sb.BlockSize()) > uint64(dev.Size()) {
		return nil, errors.Newf(errors.ErrBadSuperblock, "Open", "primary", "%d blocks of %d bytes exceed partition of %d bytes",
			sb.BlocksCount, sb.BlockSize(), dev.Size())
	}
	v.sb = *sb

	logger.LogDebug("Loaded ext2 superblock", map[string]interface{}{
		"blocks":      sb.BlocksCount,
		"inodes":      sb.InodesCount,
		"block_size":  sb.BlockSize(),
		"groups":      sb.GroupCount(),
		"free_blocks": sb.FreeBlocksCount,
		"free_inodes": sb.FreeInodesCount,
	})
	return v, nil
}

// Close releases the disk image if the volume opened it
func (v *Volume) Close() error {
	if v.disk == nil {
		return nil
	}
	err := v.disk.Close()
	v.disk = nil
	return err
}

// Superblock returns a copy of the in-memory primary superblock
func (v *Volume) Superblock() Superblock {
	return v.sb
}

// BlockSize returns the filesystem block size
func (v *Volume) BlockSize() uint32 {
	return v.sb.BlockSize()
}

// GroupCount returns the number of block groups
func (v *Volume) GroupCount() uint32 {
	return v.sb.GroupCount()
}

// BGDTStart returns the first block of the primary descriptor table
func (v *Volume) BGDTStart() uint32 {
	return v.sb.FirstDataBlock + 1
}

// Disk returns the image the volume opened, or nil
func (v *Volume) Disk() *vdi.Disk {
	return v.disk
}

// Partition returns the partition the volume opened, or nil
func (v *Volume) Partition() *mbr.Partition {
	return v.partition
}

// FetchBlock reads filesystem block n into buf, which must hold a block
func (v *Volume) FetchBlock(n uint32, buf []byte) error {
	off, err := v.blockOffset("FetchBlock", n, len(buf))
	if err != nil {
		return err
	}
	bs := int(v.BlockSize())
	got, err := v.dev.ReadAt(buf[:bs], off)
	return transferError("FetchBlock", n, got, bs, err)
}

// WriteBlock writes the first block-size bytes of buf to filesystem block n
func (v *Volume) WriteBlock(n uint32, buf []byte) error {
	off, err := v.blockOffset("WriteBlock", n, len(buf))
	if err != nil {
		return err
	}
	bs := int(v.BlockSize())
	got, err := v.dev.WriteAt(buf[:bs], off)
	return transferError("WriteBlock", n, got, bs, err)
}

func (v *Volume) blockOffset(op string, n uint32, bufLen int) (int64, error) {
	if n >= v.sb.BlocksCount {
		return 0, errors.Newf(errors.ErrOutOfRange, op, fmt.Sprintf("block %d", n), "filesystem has %d blocks", v.sb.BlocksCount)
	}
	if bufLen < int(v.BlockSize()) {
		return 0, errors.Newf(errors.ErrOutOfRange, op, fmt.Sprintf("block %d", n), "buffer of %d bytes for %d-byte block", bufLen, v.BlockSize())
	}
	return int64(n) * int64(v.BlockSize()), nil
}

// transferError turns a short transfer into ErrIOFailure. Errors from the
// device other than the end-of-range markers are returned unchanged.
func transferError(op string, n uint32, got, want int, err error) error {
	if got == want {
		return nil
	}
	if err != nil && err != io.EOF && err != io.ErrShortWrite {
		return err
	}
	return errors.Newf(errors.ErrIOFailure, op, fmt.Sprintf("block %d", n), "transferred %d of %d bytes", got, want)
}

// FetchSuperblock reads a superblock copy. Block 0 selects the primary copy at
// byte 1024; any other value is the filesystem block whose start holds a
// backup. The magic is verified.
func (v *Volume) FetchSuperblock(block uint32) (*Superblock, error) {
	raw := make([]byte, SuperblockSize)
	object := "primary"
	if block == 0 {
		got, err := v.dev.ReadAt(raw, SuperblockOffset)
		if err := transferError("FetchSuperblock", 0, got, SuperblockSize, err); err != nil {
			return nil, err
		}
	} else {
		object = fmt.Sprintf("block %d", block)
		buf := make([]byte, v.BlockSize())
		if err := v.FetchBlock(block, buf); err != nil {
			return nil, err
		}
		copy(raw, buf)
	}

	sb := &Superblock{}
	if err := sb.UnmarshalBinary(raw); err != nil {
		return nil, errors.New(errors.ErrBadSuperblock, "FetchSuperblock", object, err.Error())
	}
	if err := sb.validate(object); err != nil {
		return nil, err
	}
	return sb, nil
}

// WriteSuperblock stores a superblock copy, addressed like FetchSuperblock.
// Writing the primary copy also replaces the volume's in-memory superblock.
// A backup write only replaces the superblock-sized prefix of its block.
func (v *Volume) WriteSuperblock(block uint32, sb *Superblock) error {
	if sb.Magic != Magic {
		return errors.Newf(errors.ErrBadMagic, "WriteSuperblock", fmt.Sprintf("block %d", block), "magic 0x%04X", sb.Magic)
	}
	raw, err := sb.MarshalBinary()
	if err != nil {
		return errors.New(errors.ErrBadSuperblock, "WriteSuperblock", "", err.Error())
	}

	if block == 0 {
		got, err := v.dev.WriteAt(raw, SuperblockOffset)
		if err := transferError("WriteSuperblock", 0, got, SuperblockSize, err); err != nil {
			return err
		}
		v.sb = *sb
		return nil
	}

	buf := make([]byte, v.BlockSize())
	if err := v.FetchBlock(block, buf); err != nil {
		return err
	}
	copy(buf, raw)
	return v.WriteBlock(block, buf)
}

// FetchBGDT reads the descriptor table that starts at block start. The table
// holds one entry per group and may span several blocks.
func (v *Volume) FetchBGDT(start uint32) ([]GroupDescriptor, error) {
	groups := v.GroupCount()
	bs := v.BlockSize()
	nblocks := bgdtBlocks(groups, bs)

	flat := make([]byte, nblocks*bs)
	for i := uint32(0); i < nblocks; i++ {
		if err := v.FetchBlock(start+i, flat[i*bs:(i+1)*bs]); err != nil {
			return nil, err
		}
	}

	descs, err := decodeGroupDescriptors(flat, groups)
	if err != nil {
		return nil, errors.New(errors.ErrBadSuperblock, "FetchBGDT", fmt.Sprintf("block %d", start), err.Error())
	}
	return descs, nil
}

// WriteBGDT writes a full descriptor table starting at block start. Bytes of
// the last block past the table are preserved.
func (v *Volume) WriteBGDT(start uint32, descs []GroupDescriptor) error {
	groups := v.GroupCount()
	if uint32(len(descs)) != groups {
		return errors.Newf(errors.ErrOutOfRange, "WriteBGDT", fmt.Sprintf("block %d", start), "%d descriptors for %d groups", len(descs), groups)
	}

	bs := v.BlockSize()
	flat := encodeGroupDescriptors(descs)
	nblocks := bgdtBlocks(groups, bs)

	buf := make([]byte, bs)
	for i := uint32(0); i < nblocks; i++ {
		chunk := flat[i*bs:]
		if uint32(len(chunk)) >= bs {
			if err := v.WriteBlock(start+i, chunk[:bs]); err != nil {
				return err
			}
			continue
		}
		if err := v.FetchBlock(start+i, buf); err != nil {
			return err
		}
		copy(buf, chunk)
		if err := v.WriteBlock(start+i, buf); err != nil {
			return err
		}
	}
	return nil
}

// WriteGroupDescriptor rewrites the entry of group g in the descriptor table
// that starts at block start. Only the block holding that entry is touched.
func (v *Volume) WriteGroupDescriptor(start, g uint32, desc GroupDescriptor) error {
	if g >= v.GroupCount() {
		return errors.Newf(errors.ErrOutOfRange, "WriteGroupDescriptor", fmt.Sprintf("group %d", g), "filesystem has %d groups", v.GroupCount())
	}
	bs := v.BlockSize()
	block := start + g*GroupDescriptorSize/bs
	off := g * GroupDescriptorSize % bs

	buf := make([]byte, bs)
	if err := v.FetchBlock(block, buf); err != nil {
		return err
	}
	copy(buf[off:], encodeGroupDescriptors([]GroupDescriptor{desc}))
	return v.WriteBlock(block, buf)
}

// adjustFreeInodes applies delta to the free inode count and persists the
// primary superblock
func (v *Volume) adjustFreeInodes(delta int) error {
	sb := v.sb
	sb.FreeInodesCount = uint32(int64(sb.FreeInodesCount) + int64(delta))
	return v.WriteSuperblock(0, &sb)
}

// adjustFreeBlocks applies delta to the free block count and persists the
// primary superblock
func (v *Volume) adjustFreeBlocks(delta int) error {
	sb := v.sb
	sb.FreeBlocksCount = uint32(int64(sb.FreeBlocksCount) + int64(delta))
	return v.WriteSuperblock(0, &sb)
}
