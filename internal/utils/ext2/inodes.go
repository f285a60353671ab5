package ext2

import (
	"fmt"

	"github.com/deploymenttheory/go-vdi-inspector/internal/logger"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
)

// InodeTable reads and writes inodes and allocates inodes and blocks. It keeps
// its own copy of the primary descriptor table and is the only writer of it.
// After the table changes on disk by other means, call Reload.
type InodeTable struct {
	vol    *Volume
	groups []GroupDescriptor
}

// NewInodeTable loads the primary descriptor table of vol
func NewInodeTable(vol *Volume) (*InodeTable, error) {
	t := &InodeTable{vol: vol}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the primary descriptor table
func (t *InodeTable) Reload() error {
	groups, err := t.vol.FetchBGDT(t.vol.BGDTStart())
	if err != nil {
		return err
	}
	t.groups = groups
	return nil
}

// Volume returns the underlying volume
func (t *InodeTable) Volume() *Volume {
	return t.vol
}

// GroupDescriptors returns a copy of the cached descriptor table
func (t *InodeTable) GroupDescriptors() []GroupDescriptor {
	out := make([]GroupDescriptor, len(t.groups))
	copy(out, t.groups)
	return out
}

// GroupOf returns the block group holding inode n
func (t *InodeTable) GroupOf(n uint32) uint32 {
	return (n - 1) / t.vol.sb.InodesPerGroup
}

// locate validates n and returns its group and index within the group
func (t *InodeTable) locate(op string, n uint32) (group, index uint32, err error) {
	sb := &t.vol.sb
	if n < 1 || n > sb.InodesCount {
		return 0, 0, errors.Newf(errors.ErrOutOfRange, op, fmt.Sprintf("inode %d", n), "valid range 1..%d", sb.InodesCount)
	}
	return (n - 1) / sb.InodesPerGroup, (n - 1) % sb.InodesPerGroup, nil
}

// inodeBlock returns the filesystem block holding the slot of inode index
// idx in group and the byte offset of the slot in it
func (t *InodeTable) inodeBlock(group, idx uint32) (uint32, uint32) {
	pos := uint64(idx) * uint64(t.vol.sb.InodeRecordSize())
	bs := uint64(t.vol.BlockSize())
	return t.groups[group].InodeTable + uint32(pos/bs), uint32(pos % bs)
}

// FetchInode reads inode n
func (t *InodeTable) FetchInode(n uint32) (*Inode, error) {
	group, idx, err := t.locate("FetchInode", n)
	if err != nil {
		return nil, err
	}

	block, off := t.inodeBlock(group, idx)
	buf := make([]byte, t.vol.BlockSize())
	if err := t.vol.FetchBlock(block, buf); err != nil {
		return nil, err
	}

	ino := &Inode{}
	if err := ino.UnmarshalBinary(buf[off:]); err != nil {
		return nil, errors.New(errors.ErrIOFailure, "FetchInode", fmt.Sprintf("inode %d", n), err.Error())
	}
	return ino, nil
}

// WriteInode stores inode n. Inodes share blocks, so the containing block is
// read, patched and written back.
func (t *InodeTable) WriteInode(n uint32, ino *Inode) error {
	group, idx, err := t.locate("WriteInode", n)
	if err != nil {
		return err
	}

	raw, err := ino.MarshalBinary()
	if err != nil {
		return errors.New(errors.ErrIOFailure, "WriteInode", fmt.Sprintf("inode %d", n), err.Error())
	}

	block, off := t.inodeBlock(group, idx)
	buf := make([]byte, t.vol.BlockSize())
	if err := t.vol.FetchBlock(block, buf); err != nil {
		return err
	}
	copy(buf[off:], raw)
	return t.vol.WriteBlock(block, buf)
}

// InodeInUse reports whether inode n is marked in its group's inode bitmap
func (t *InodeTable) InodeInUse(n uint32) (bool, error) {
	group, idx, err := t.locate("InodeInUse", n)
	if err != nil {
		return false, err
	}

	buf := make([]byte, t.vol.BlockSize())
	if err := t.vol.FetchBlock(t.groups[group].InodeBitmap, buf); err != nil {
		return false, err
	}
	return bitmap(buf).test(idx), nil
}

// candidateGroups expands a group hint into the groups to scan
func (t *InodeTable) candidateGroups(op string, hint int) ([]uint32, error) {
	count := uint32(len(t.groups))
	if hint == AnyGroup {
		groups := make([]uint32, count)
		for g := range groups {
			groups[g] = uint32(g)
		}
		return groups, nil
	}
	if hint < 0 || uint32(hint) >= count {
		return nil, errors.Newf(errors.ErrOutOfRange, op, fmt.Sprintf("group %d", hint), "filesystem has %d groups", count)
	}
	return []uint32{uint32(hint)}, nil
}

// claimBit sets the first clear bit below limit in the bitmap at block and
// persists the bitmap
func (t *InodeTable) claimBit(block, limit uint32) (uint32, bool, error) {
	buf := make([]byte, t.vol.BlockSize())
	if err := t.vol.FetchBlock(block, buf); err != nil {
		return 0, false, err
	}
	bm := bitmap(buf)
	idx, ok := bm.firstClear(limit)
	if !ok {
		return 0, false, nil
	}
	bm.set(idx)
	if err := t.vol.WriteBlock(block, buf); err != nil {
		return 0, false, err
	}
	return idx, true, nil
}

// releaseBit clears bit idx of the bitmap at block. It reports whether the
// bit was set.
func (t *InodeTable) releaseBit(block, idx uint32) (bool, error) {
	buf := make([]byte, t.vol.BlockSize())
	if err := t.vol.FetchBlock(block, buf); err != nil {
		return false, err
	}
	bm := bitmap(buf)
	if !bm.test(idx) {
		return false, nil
	}
	bm.clear(idx)
	return true, t.vol.WriteBlock(block, buf)
}

// persistGroup writes the descriptor-table block holding group g's entry
func (t *InodeTable) persistGroup(g uint32) error {
	return t.vol.WriteGroupDescriptor(t.vol.BGDTStart(), g, t.groups[g])
}

// AllocateInode marks a free inode in use and returns its number. With a
// group hint only that group is searched; AnyGroup searches every group in
// ascending order. The bitmap is written first, then the superblock and the
// descriptor block. A failure between those writes leaves the counters
// behind the bitmap.
func (t *InodeTable) AllocateInode(groupHint int) (uint32, error) {
	groups, err := t.candidateGroups("AllocateInode", groupHint)
	if err != nil {
		return 0, err
	}

	ipg := t.vol.sb.InodesPerGroup
	for _, g := range groups {
		if g*ipg >= t.vol.sb.InodesCount {
			continue
		}
		limit := ipg
		if rest := t.vol.sb.InodesCount - g*ipg; rest < limit {
			limit = rest
		}
		idx, ok, err := t.claimBit(t.groups[g].InodeBitmap, limit)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}

		n := g*ipg + idx + 1

		t.groups[g].FreeInodesCount--
		if err := t.vol.adjustFreeInodes(-1); err != nil {
			return 0, err
		}
		if err := t.persistGroup(g); err != nil {
			return 0, err
		}

		logger.LogDebug("Allocated inode", map[string]interface{}{
			"inode": n,
			"group": g,
		})
		return n, nil
	}

	return 0, errors.Newf(errors.ErrNoSpace, "AllocateInode", "", "group hint %d", groupHint)
}

// FreeInode clears inode n's bitmap bit and returns it to the free counters.
// The inode record itself is left as it is.
func (t *InodeTable) FreeInode(n uint32) error {
	group, idx, err := t.locate("FreeInode", n)
	if err != nil {
		return err
	}

	wasSet, err := t.releaseBit(t.groups[group].InodeBitmap, idx)
	if err != nil {
		return err
	}
	if !wasSet {
		return errors.New(errors.ErrUnallocated, "FreeInode", fmt.Sprintf("inode %d", n), "")
	}

	t.groups[group].FreeInodesCount++
	if err := t.vol.adjustFreeInodes(1); err != nil {
		return err
	}
	if err := t.persistGroup(group); err != nil {
		return err
	}

	logger.LogDebug("Freed inode", map[string]interface{}{
		"inode": n,
		"group": group,
	})
	return nil
}
