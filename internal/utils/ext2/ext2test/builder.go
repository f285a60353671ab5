// Package ext2test builds small disk images holding a freshly formatted ext2
// filesystem for tests
package ext2test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/mbr"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/vdi"
)

const (
	reservedInodes = 10
	firstIno       = reservedInodes + 1
	rootDirMode    = ext2.ModeDir | 0o755
	createdAt      = 1700000000
	dirFileTypeDir = 2
)

// Options shapes the generated image. Zero values take the defaults.
type Options struct {
	DiskSize       uint64 // Image size, 4 MiB by default
	ImageBlockSize uint32 // Image block size, 4 KiB by default
	PartitionStart uint32 // First sector of the partition, 64 by default
	PartitionIndex int    // Partition table slot
	BlockSize      uint32 // Filesystem block size, 1 KiB by default
	BlocksPerGroup uint32 // 1024 by default
	InodesPerGroup uint32 // 128 by default
	SparseSuper    bool   // Keep backups only in groups 0, 1 and powers of 3, 5 and 7
	Label          string
}

func (o *Options) setDefaults() {
	if o.DiskSize == 0 {
		o.DiskSize = 4 << 20
	}
	if o.ImageBlockSize == 0 {
		o.ImageBlockSize = 4096
	}
	if o.PartitionStart == 0 {
		o.PartitionStart = 64
	}
	if o.BlockSize == 0 {
		o.BlockSize = 1024
	}
	if o.BlocksPerGroup == 0 {
		o.BlocksPerGroup = 1024
	}
	if o.InodesPerGroup == 0 {
		o.InodesPerGroup = 128
	}
}

// Layout records where the builder put things
type Layout struct {
	Path            string
	PartitionIndex  int
	PartitionOffset int64
	Superblock      ext2.Superblock
	Groups          []ext2.GroupDescriptor
	BGDTBlocks      uint32   // Blocks spanned by one descriptor table copy
	FirstFree       []uint32 // First unused block of each group
	RootDirBlock    uint32   // Data block of the root directory
	RootDirData     []byte   // Contents of RootDirBlock
}

// Build writes a sparse image at path with one native Linux partition holding
// an empty ext2 filesystem whose root directory has "." and "..".
func Build(path string, opts Options) (*Layout, error) {
	opts.setDefaults()

	disk, err := vdi.Create(path, vdi.CreateOptions{
		DiskSize:    opts.DiskSize,
		BlockSize:   opts.ImageBlockSize,
		Description: "ext2test",
	})
	if err != nil {
		return nil, err
	}
	defer disk.Close()

	sectors := uint32(opts.DiskSize/mbr.SectorSize) - opts.PartitionStart
	table := &mbr.Table{}
	table.Entries[opts.PartitionIndex] = mbr.Entry{
		Status:       0x80,
		Type:         mbr.TypeLinux,
		FirstSector:  opts.PartitionStart,
		TotalSectors: sectors,
	}
	if err := mbr.WriteTable(disk, table); err != nil {
		return nil, fmt.Errorf("writing partition table: %w", err)
	}

	part, err := mbr.Open(disk, opts.PartitionIndex)
	if err != nil {
		return nil, err
	}

	f := &formatter{
		opts:   opts,
		part:   part,
		layout: &Layout{Path: path, PartitionIndex: opts.PartitionIndex, PartitionOffset: part.Offset()},
	}
	if err := f.format(); err != nil {
		return nil, err
	}
	return f.layout, nil
}

type formatter struct {
	opts   Options
	part   *mbr.Partition
	layout *Layout
	sb     ext2.Superblock
	groups []ext2.GroupDescriptor
}

func (f *formatter) writeBlock(n uint32, data []byte) error {
	bs := f.opts.BlockSize
	if uint32(len(data)) > bs {
		return fmt.Errorf("block %d: %d bytes for a %d-byte block", n, len(data), bs)
	}
	if _, err := f.part.WriteAt(data, int64(n)*int64(bs)); err != nil {
		return fmt.Errorf("writing block %d: %w", n, err)
	}
	return nil
}

func (f *formatter) format() error {
	o := f.opts
	bs := o.BlockSize

	sb := &f.sb
	sb.BlocksCount = uint32(f.part.Size() / int64(bs))
	if bs == 1024 {
		sb.FirstDataBlock = 1
	}
	sb.LogBlockSize = uint32(bits.TrailingZeros32(bs >> 10))
	sb.LogFragSize = sb.LogBlockSize
	sb.BlocksPerGroup = o.BlocksPerGroup
	sb.FragsPerGroup = o.BlocksPerGroup
	sb.InodesPerGroup = o.InodesPerGroup
	sb.Wtime = createdAt
	sb.MaxMntCount = 0xFFFF
	sb.Magic = ext2.Magic
	sb.State = 1
	sb.Errors = 1
	sb.LastCheck = createdAt
	sb.RevLevel = 1
	sb.FirstIno = firstIno
	sb.InodeSize = ext2.InodeRecordSize
	sb.FeatureIncompat = ext2.FeatureIncompatFiletype
	if o.SparseSuper {
		sb.FeatureROCompat = ext2.FeatureROCompatSparseSuper
	}
	sb.UUID = uuid.New()
	copy(sb.VolumeName[:], o.Label)

	groups := sb.GroupCount()
	if groups == 0 {
		return fmt.Errorf("partition of %d bytes holds no block group", f.part.Size())
	}
	sb.InodesCount = groups * o.InodesPerGroup

	bgdtBlocks := (groups*ext2.GroupDescriptorSize + bs - 1) / bs
	itBlocks := (o.InodesPerGroup*ext2.InodeRecordSize + bs - 1) / bs
	f.layout.BGDTBlocks = bgdtBlocks
	f.layout.FirstFree = make([]uint32, groups)
	f.groups = make([]ext2.GroupDescriptor, groups)

	for g := uint32(0); g < groups; g++ {
		next := sb.GroupFirstBlock(g)
		if sb.HasBackup(g) {
			next += 1 + bgdtBlocks
		}
		d := &f.groups[g]
		d.BlockBitmap = next
		d.InodeBitmap = next + 1
		d.InodeTable = next + 2
		next += 2 + itBlocks

		if g == 0 {
			f.layout.RootDirBlock = next
			next++
			d.UsedDirsCount = 1
		}
		f.layout.FirstFree[g] = next

		count := sb.GroupBlockCount(g)
		used := next - sb.GroupFirstBlock(g)
		if used > count {
			return fmt.Errorf("group %d: %d metadata blocks exceed %d blocks", g, used, count)
		}
		d.FreeBlocksCount = uint16(count - used)
		d.FreeInodesCount = uint16(o.InodesPerGroup)
		if g == 0 {
			d.FreeInodesCount -= reservedInodes
		}

		sb.FreeBlocksCount += uint32(d.FreeBlocksCount)
		sb.FreeInodesCount += uint32(d.FreeInodesCount)

		if err := f.writeBitmaps(g, used, count); err != nil {
			return err
		}
	}

	if err := f.writeRoot(); err != nil {
		return err
	}
	if err := f.writeCopies(); err != nil {
		return err
	}

	f.layout.Superblock = *sb
	f.layout.Groups = f.groups
	return nil
}

func (f *formatter) writeBitmaps(g, used, count uint32) error {
	bs := f.opts.BlockSize
	d := f.groups[g]

	blocks := make([]byte, bs)
	for i := uint32(0); i < bs*8; i++ {
		if i < used || i >= count {
			blocks[i/8] |= 1 << (i % 8)
		}
	}
	if err := f.writeBlock(d.BlockBitmap, blocks); err != nil {
		return err
	}

	inodes := make([]byte, bs)
	for i := uint32(0); i < bs*8; i++ {
		if (g == 0 && i < reservedInodes) || i >= f.opts.InodesPerGroup {
			inodes[i/8] |= 1 << (i % 8)
		}
	}
	return f.writeBlock(d.InodeBitmap, inodes)
}

// writeRoot writes inode 2 and its one directory block
func (f *formatter) writeRoot() error {
	bs := f.opts.BlockSize
	dir := make([]byte, bs)
	putDirEntry(dir[0:], ext2.RootInode, 12, ".")
	putDirEntry(dir[12:], ext2.RootInode, uint16(bs-12), "..")
	if err := f.writeBlock(f.layout.RootDirBlock, dir); err != nil {
		return err
	}
	f.layout.RootDirData = dir

	root := ext2.Inode{
		Mode:       rootDirMode,
		Size:       bs,
		Atime:      createdAt,
		Ctime:      createdAt,
		Mtime:      createdAt,
		LinksCount: 2,
		Blocks:     bs / 512,
	}
	root.Block[0] = f.layout.RootDirBlock

	raw, err := root.MarshalBinary()
	if err != nil {
		return err
	}
	idx := uint32(ext2.RootInode - 1)
	block := f.groups[0].InodeTable + idx*ext2.InodeRecordSize/bs
	buf := make([]byte, bs)
	copy(buf[idx*ext2.InodeRecordSize%bs:], raw)
	return f.writeBlock(block, buf)
}

func putDirEntry(b []byte, inode uint32, recLen uint16, name string) {
	binary.LittleEndian.PutUint32(b[0:], inode)
	binary.LittleEndian.PutUint16(b[4:], recLen)
	b[6] = uint8(len(name))
	b[7] = dirFileTypeDir
	copy(b[8:], name)
}

// writeCopies writes the primary superblock and descriptor table and a
// backup pair in every group that carries one
func (f *formatter) writeCopies() error {
	var bgdt bytes.Buffer
	if err := binary.Write(&bgdt, binary.LittleEndian, f.groups); err != nil {
		return err
	}
	bs := f.opts.BlockSize
	flat := make([]byte, f.layout.BGDTBlocks*bs)
	copy(flat, bgdt.Bytes())

	for g := uint32(0); g < uint32(len(f.groups)); g++ {
		if !f.sb.HasBackup(g) {
			continue
		}
		sb := f.sb
		sb.BlockGroupNr = uint16(g)
		raw, err := sb.MarshalBinary()
		if err != nil {
			return err
		}

		start := f.sb.GroupFirstBlock(g)
		if g == 0 {
			if _, err := f.part.WriteAt(raw, ext2.SuperblockOffset); err != nil {
				return fmt.Errorf("writing primary superblock: %w", err)
			}
		} else if err := f.writeBlock(start, raw[:min(len(raw), int(bs))]); err != nil {
			return err
		}

		for i := uint32(0); i < f.layout.BGDTBlocks; i++ {
			if err := f.writeBlock(start+1+i, flat[i*bs:(i+1)*bs]); err != nil {
				return err
			}
		}
	}
	return nil
}
