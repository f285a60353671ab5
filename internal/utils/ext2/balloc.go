package ext2

import (
	"fmt"

	"github.com/deploymenttheory/go-vdi-inspector/internal/logger"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
)

// locateBlock validates block n and returns its group and bit index in the
// group's block bitmap
func (t *InodeTable) locateBlock(op string, n uint32) (group, index uint32, err error) {
	sb := &t.vol.sb
	if n < sb.FirstDataBlock || n >= sb.BlocksCount {
		return 0, 0, errors.Newf(errors.ErrOutOfRange, op, fmt.Sprintf("block %d", n), "valid range %d..%d", sb.FirstDataBlock, sb.BlocksCount-1)
	}
	rel := n - sb.FirstDataBlock
	return rel / sb.BlocksPerGroup, rel % sb.BlocksPerGroup, nil
}

// BlockInUse reports whether block n is marked in its group's block bitmap
func (t *InodeTable) BlockInUse(n uint32) (bool, error) {
	group, idx, err := t.locateBlock("BlockInUse", n)
	if err != nil {
		return false, err
	}

	buf := make([]byte, t.vol.BlockSize())
	if err := t.vol.FetchBlock(t.groups[group].BlockBitmap, buf); err != nil {
		return false, err
	}
	return bitmap(buf).test(idx), nil
}

// AllocateBlock marks a free block in use and returns its number, following
// the same group selection and write order as AllocateInode. The block's
// contents are not touched.
func (t *InodeTable) AllocateBlock(groupHint int) (uint32, error) {
	groups, err := t.candidateGroups("AllocateBlock", groupHint)
	if err != nil {
		return 0, err
	}

	sb := &t.vol.sb
	for _, g := range groups {
		idx, ok, err := t.claimBit(t.groups[g].BlockBitmap, sb.GroupBlockCount(g))
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}

		n := sb.GroupFirstBlock(g) + idx
		t.groups[g].FreeBlocksCount--
		if err := t.vol.adjustFreeBlocks(-1); err != nil {
			return 0, err
		}
		if err := t.persistGroup(g); err != nil {
			return 0, err
		}

		logger.LogDebug("Allocated block", map[string]interface{}{
			"block": n,
			"group": g,
		})
		return n, nil
	}

	return 0, errors.Newf(errors.ErrNoSpace, "AllocateBlock", "", "group hint %d", groupHint)
}

// FreeBlock clears block n's bitmap bit and returns it to the free counters
func (t *InodeTable) FreeBlock(n uint32) error {
	group, idx, err := t.locateBlock("FreeBlock", n)
	if err != nil {
		return err
	}

	wasSet, err := t.releaseBit(t.groups[group].BlockBitmap, idx)
	if err != nil {
		return err
	}
	if !wasSet {
		return errors.New(errors.ErrUnallocated, "FreeBlock", fmt.Sprintf("block %d", n), "")
	}

	t.groups[group].FreeBlocksCount++
	if err := t.vol.adjustFreeBlocks(1); err != nil {
		return err
	}
	if err := t.persistGroup(group); err != nil {
		return err
	}

	logger.LogDebug("Freed block", map[string]interface{}{
		"block": n,
		"group": group,
	})
	return nil
}
