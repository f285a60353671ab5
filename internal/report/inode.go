package report

import (
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2"
)

// InodeReport is the output of the stat command. Timestamps are the raw
// on-disk seconds.
type InodeReport struct {
	Number     uint32     `json:"inode" plist:"inode"`
	Group      uint32     `json:"group" plist:"group"`
	InUse      bool       `json:"in_use" plist:"in_use"`
	Type       string     `json:"type" plist:"type"`
	Mode       string     `json:"mode" plist:"mode"`
	UID        uint16     `json:"uid" plist:"uid"`
	GID        uint16     `json:"gid" plist:"gid"`
	Size       uint64     `json:"size" plist:"size"`
	Links      uint16     `json:"links" plist:"links"`
	Sectors    uint32     `json:"sectors" plist:"sectors"`
	Flags      uint32     `json:"flags" plist:"flags"`
	Atime      uint32     `json:"atime" plist:"atime"`
	Ctime      uint32     `json:"ctime" plist:"ctime"`
	Mtime      uint32     `json:"mtime" plist:"mtime"`
	Dtime      uint32     `json:"dtime" plist:"dtime"`
	Generation uint32     `json:"generation" plist:"generation"`
	Block      [15]uint32 `json:"block" plist:"block"`
}

// NewInodeReport reads inode n and its bitmap state
func NewInodeReport(table *ext2.InodeTable, n uint32) (InodeReport, error) {
	ino, err := table.FetchInode(n)
	if err != nil {
		return InodeReport{}, err
	}
	inUse, err := table.InodeInUse(n)
	if err != nil {
		return InodeReport{}, err
	}
	return InodeReport{
		Number:     n,
		Group:      table.GroupOf(n),
		InUse:      inUse,
		Type:       ino.TypeName(),
		Mode:       fmt.Sprintf("%06o", ino.Mode),
		UID:        ino.UID,
		GID:        ino.GID,
		Size:       ino.FileSize(),
		Links:      ino.LinksCount,
		Sectors:    ino.Blocks,
		Flags:      ino.Flags,
		Atime:      ino.Atime,
		Ctime:      ino.Ctime,
		Mtime:      ino.Mtime,
		Dtime:      ino.Dtime,
		Generation: ino.Generation,
		Block:      ino.Block,
	}, nil
}

// BlockMapping pairs a file block with the filesystem block holding it
type BlockMapping struct {
	Logical  uint32 `json:"logical" plist:"logical"`
	Physical uint32 `json:"physical" plist:"physical"`
}

// BlockMapReport is the output of the blocks command. Only mapped blocks are
// listed; Holes counts the file blocks below the size that have none.
type BlockMapReport struct {
	Inode      uint32         `json:"inode" plist:"inode"`
	BlockSize  uint32         `json:"block_size" plist:"block_size"`
	FileBlocks uint64         `json:"file_blocks" plist:"file_blocks"`
	Blocks     []BlockMapping `json:"blocks" plist:"blocks"`
	Holes      uint64         `json:"holes" plist:"holes"`
	Truncated  bool           `json:"truncated,omitempty" plist:"truncated,omitempty"`
}

var errMapFull = errors.New("block map limit reached")

// NewBlockMapReport maps the blocks covered by the inode's size. The listing
// stops at the number of blocks the inode claims to own, never more than the
// filesystem holds, so a corrupt size or pointer tree cannot grow it further.
func NewBlockMapReport(res *ext2.Resolver, n uint32) (BlockMapReport, error) {
	table := res.Table()
	ino, err := table.FetchInode(n)
	if err != nil {
		return BlockMapReport{}, err
	}

	vol := table.Volume()
	bs := uint64(vol.BlockSize())
	count := (ino.FileSize() + bs - 1) / bs
	if count > res.MaxBlocks() {
		count = res.MaxBlocks()
	}

	limit := uint64(ino.Blocks) * 512 / bs
	if total := uint64(vol.Superblock().BlocksCount); limit > total {
		limit = total
	}

	r := BlockMapReport{Inode: n, BlockSize: uint32(bs), FileBlocks: count, Blocks: []BlockMapping{}}
	err = res.Mapped(ino, count, func(logical, phys uint32) error {
		if uint64(len(r.Blocks)) >= limit {
			return errMapFull
		}
		r.Blocks = append(r.Blocks, BlockMapping{Logical: logical, Physical: phys})
		return nil
	})
	if errors.Is(err, errMapFull) {
		r.Truncated = true
		return r, nil
	}
	if err != nil {
		return BlockMapReport{}, err
	}
	r.Holes = count - uint64(len(r.Blocks))
	return r, nil
}

// CheckReport is the output of the check command
type CheckReport struct {
	Consistent bool     `json:"consistent" plist:"consistent"`
	Mismatches []string `json:"mismatches,omitempty" plist:"mismatches,omitempty"`
}

// NewCheckReport wraps the result of ext2.CheckCounters
func NewCheckReport(mismatches []ext2.Mismatch) CheckReport {
	r := CheckReport{Consistent: len(mismatches) == 0}
	for _, m := range mismatches {
		r.Mismatches = append(r.Mismatches, m.String())
	}
	return r
}

// ExtractReport describes inode data copied out of the image
type ExtractReport struct {
	Inode     uint32 `json:"inode" plist:"inode"`
	Bytes     int64  `json:"bytes" plist:"bytes"`
	Output    string `json:"output,omitempty" plist:"output,omitempty"`
	Algorithm string `json:"algorithm,omitempty" plist:"algorithm,omitempty"`
	Digest    string `json:"digest,omitempty" plist:"digest,omitempty"`
}
