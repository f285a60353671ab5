// Package ext2 reads and updates an ext2 filesystem inside one partition of a
// disk image: superblock and descriptor table copies, the inode table and its
// bitmaps, and the block pointer tree that maps file blocks to disk blocks.
package ext2

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
)

const (
	// SuperblockOffset is the byte offset of the primary superblock inside the partition
	SuperblockOffset = 1024

	// SuperblockSize is the on-disk size of the superblock record
	SuperblockSize = 1024

	// Magic identifies an ext2 superblock
	Magic = 0xEF53

	// RootInode is the inode number of the root directory
	RootInode = 2

	// AnyGroup lets an allocator pick the group
	AnyGroup = -1

	maxBlockSizeLog = 6 // 64 KiB
	revisionGood    = 0 // Fixed 128-byte inodes
	goodInodeSize   = 128
)

// Feature flags the package reports on. Nothing here enforces them.
const (
	FeatureCompatDirPrealloc   = 0x0001
	FeatureCompatHasJournal    = 0x0004
	FeatureCompatExtAttr       = 0x0008
	FeatureCompatResizeInode   = 0x0010
	FeatureCompatDirIndex      = 0x0020
	FeatureIncompatFiletype    = 0x0002
	FeatureIncompatMetaBg      = 0x0010
	FeatureROCompatSparseSuper = 0x0001
	FeatureROCompatLargeFile   = 0x0002
)

// Superblock is the 1024-byte ext2 superblock record
type Superblock struct {
	InodesCount          uint32    // 0x00
	BlocksCount          uint32    // 0x04
	RBlocksCount         uint32    // 0x08: reserved for the superuser
	FreeBlocksCount      uint32    // 0x0C
	FreeInodesCount      uint32    // 0x10
	FirstDataBlock       uint32    // 0x14: 1 for 1 KiB blocks, else 0
	LogBlockSize         uint32    // 0x18: block size = 1024 << LogBlockSize
	LogFragSize          uint32    // 0x1C
	BlocksPerGroup       uint32    // 0x20
	FragsPerGroup        uint32    // 0x24
	InodesPerGroup       uint32    // 0x28
	Mtime                uint32    // 0x2C
	Wtime                uint32    // 0x30
	MntCount             uint16    // 0x34
	MaxMntCount          uint16    // 0x36
	Magic                uint16    // 0x38
	State                uint16    // 0x3A: 1 = clean
	Errors               uint16    // 0x3C
	MinorRevLevel        uint16    // 0x3E
	LastCheck            uint32    // 0x40
	CheckInterval        uint32    // 0x44
	CreatorOS            uint32    // 0x48
	RevLevel             uint32    // 0x4C: 0 = fixed inode size, 1 = dynamic
	DefResUID            uint16    // 0x50
	DefResGID            uint16    // 0x52
	FirstIno             uint32    // 0x54: first non-reserved inode
	InodeSize            uint16    // 0x58
	BlockGroupNr         uint16    // 0x5A: group holding this copy
	FeatureCompat        uint32    // 0x5C
	FeatureIncompat      uint32    // 0x60
	FeatureROCompat      uint32    // 0x64
	UUID                 uuid.UUID // 0x68
	VolumeName           [16]byte  // 0x78
	LastMounted          [64]byte  // 0x88
	AlgorithmUsageBitmap uint32    // 0xC8
	PreallocBlocks       uint8     // 0xCC
	PreallocDirBlocks    uint8     // 0xCD
	Padding1             uint16    // 0xCE
	JournalUUID          uuid.UUID // 0xD0
	JournalInum          uint32    // 0xE0
	JournalDev           uint32    // 0xE4
	LastOrphan           uint32    // 0xE8
	HashSeed             [4]uint32 // 0xEC
	DefHashVersion       uint8     // 0xFC
	Padding2             [3]byte   // 0xFD
	DefaultMountOpts     uint32    // 0x100
	FirstMetaBg          uint32    // 0x104
	Reserved             [760]byte // 0x108
}

// BlockSize returns the filesystem block size in bytes
func (sb *Superblock) BlockSize() uint32 {
	return 1024 << sb.LogBlockSize
}

// InodeRecordSize returns the on-disk size of one inode slot
func (sb *Superblock) InodeRecordSize() uint32 {
	if sb.RevLevel == revisionGood {
		return goodInodeSize
	}
	return uint32(sb.InodeSize)
}

// GroupCount returns the number of block groups
func (sb *Superblock) GroupCount() uint32 {
	if sb.BlocksPerGroup == 0 || sb.BlocksCount <= sb.FirstDataBlock {
		return 0
	}
	data := sb.BlocksCount - sb.FirstDataBlock
	return (data + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup
}

// GroupFirstBlock returns the first block of group g
func (sb *Superblock) GroupFirstBlock(g uint32) uint32 {
	return sb.FirstDataBlock + g*sb.BlocksPerGroup
}

// GroupBlockCount returns the number of blocks in group g. Only the last group
// can be short.
func (sb *Superblock) GroupBlockCount(g uint32) uint32 {
	first := sb.GroupFirstBlock(g)
	if first >= sb.BlocksCount {
		return 0
	}
	if n := sb.BlocksCount - first; n < sb.BlocksPerGroup {
		return n
	}
	return sb.BlocksPerGroup
}

// HasBackup reports whether group g carries a superblock and descriptor table
// copy. Without the sparse_super feature every group does.
func (sb *Superblock) HasBackup(g uint32) bool {
	if g == 0 || sb.FeatureROCompat&FeatureROCompatSparseSuper == 0 || g == 1 {
		return true
	}
	for _, base := range []uint32{3, 5, 7} {
		n := base
		for n < g {
			n *= base
		}
		if n == g {
			return true
		}
	}
	return false
}

// BackupGroups returns the groups other than 0 that hold backup copies
func (sb *Superblock) BackupGroups() []uint32 {
	var groups []uint32
	for g := uint32(1); g < sb.GroupCount(); g++ {
		if sb.HasBackup(g) {
			groups = append(groups, g)
		}
	}
	return groups
}

// Label returns the volume name without trailing NULs
func (sb *Superblock) Label() string {
	return string(bytes.TrimRight(sb.VolumeName[:], "\x00"))
}

// MarshalBinary encodes the superblock into its 1024-byte record
func (sb *Superblock) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(SuperblockSize)
	if err := binary.Write(&buf, binary.LittleEndian, sb); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a superblock record. It does not validate it.
func (sb *Superblock) UnmarshalBinary(data []byte) error {
	if len(data) < SuperblockSize {
		return fmt.Errorf("superblock record needs %d bytes, got %d", SuperblockSize, len(data))
	}
	return binary.Read(bytes.NewReader(data[:SuperblockSize]), binary.LittleEndian, sb)
}

// validate checks the magic and the fields every address computation
// depends on
func (sb *Superblock) validate(object string) error {
	if sb.Magic != Magic {
		return errors.Newf(errors.ErrBadMagic, "FetchSuperblock", object, "magic 0x%04X", sb.Magic)
	}

	switch {
	case sb.LogBlockSize > maxBlockSizeLog:
		return errors.Newf(errors.ErrBadSuperblock, "FetchSuperblock", object, "log block size %d", sb.LogBlockSize)
	case sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0:
		return errors.New(errors.ErrBadSuperblock, "FetchSuperblock", object, "zero blocks or inodes per group")
	case sb.BlocksPerGroup > sb.BlockSize()*8:
		return errors.Newf(errors.ErrBadSuperblock, "FetchSuperblock", object, "%d blocks per group exceed one bitmap block", sb.BlocksPerGroup)
	case sb.InodesPerGroup > sb.BlockSize()*8:
		return errors.Newf(errors.ErrBadSuperblock, "FetchSuperblock", object, "%d inodes per group exceed one bitmap block", sb.InodesPerGroup)
	case sb.FreeBlocksCount > sb.BlocksCount:
		return errors.Newf(errors.ErrBadSuperblock, "FetchSuperblock", object, "free blocks %d > blocks %d", sb.FreeBlocksCount, sb.BlocksCount)
	case sb.FreeInodesCount > sb.InodesCount:
		return errors.Newf(errors.ErrBadSuperblock, "FetchSuperblock", object, "free inodes %d > inodes %d", sb.FreeInodesCount, sb.InodesCount)
	}

	size := sb.InodeRecordSize()
	if size < goodInodeSize || size > sb.BlockSize() || size&(size-1) != 0 {
		return errors.Newf(errors.ErrBadSuperblock, "FetchSuperblock", object, "inode size %d", size)
	}
	if sb.InodesCount > sb.GroupCount()*sb.InodesPerGroup {
		return errors.Newf(errors.ErrBadSuperblock, "FetchSuperblock", object,
			"%d inodes do not fit %d groups of %d", sb.InodesCount, sb.GroupCount(), sb.InodesPerGroup)
	}
	return nil
}
