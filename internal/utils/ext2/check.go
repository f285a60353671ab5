package ext2

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
)

// GlobalGroup marks a Mismatch that concerns the superblock totals
const GlobalGroup = -1

// Mismatch is one counter that disagrees with what it summarises
type Mismatch struct {
	Group    int    // Group index, or GlobalGroup
	Counter  string // "free_blocks" or "free_inodes"
	Recorded uint32 // Value stored on disk
	Actual   uint32 // Value computed from the level below
}

func (m Mismatch) String() string {
	scope := "superblock"
	if m.Group != GlobalGroup {
		scope = fmt.Sprintf("group %d", m.Group)
	}
	return fmt.Sprintf("%s %s: recorded %d, actual %d", scope, m.Counter, m.Recorded, m.Actual)
}

// CheckCounters compares the superblock free counts with the sums of the
// descriptor counts, and each descriptor's counts with its bitmaps. Every
// mismatch is returned and combined into an error wrapping
// errors.ErrInconsistent. Nothing is repaired.
func CheckCounters(t *InodeTable) ([]Mismatch, error) {
	sb := t.vol.Superblock()
	var (
		mismatches           []Mismatch
		sumBlocks, sumInodes uint32
	)

	buf := make([]byte, t.vol.BlockSize())
	for g, desc := range t.groups {
		sumBlocks += uint32(desc.FreeBlocksCount)
		sumInodes += uint32(desc.FreeInodesCount)

		blocks := sb.GroupBlockCount(uint32(g))
		if err := t.vol.FetchBlock(desc.BlockBitmap, buf); err != nil {
			return nil, err
		}
		if free := blocks - bitmap(buf).count(blocks); free != uint32(desc.FreeBlocksCount) {
			mismatches = append(mismatches, Mismatch{g, "free_blocks", uint32(desc.FreeBlocksCount), free})
		}

		// trailing groups can lie partly or wholly past InodesCount
		inodes := sb.InodesPerGroup
		if first := uint64(g) * uint64(sb.InodesPerGroup); first >= uint64(sb.InodesCount) {
			inodes = 0
		} else if rest := sb.InodesCount - uint32(first); rest < inodes {
			inodes = rest
		}
		if err := t.vol.FetchBlock(desc.InodeBitmap, buf); err != nil {
			return nil, err
		}
		if free := inodes - bitmap(buf).count(inodes); free != uint32(desc.FreeInodesCount) {
			mismatches = append(mismatches, Mismatch{g, "free_inodes", uint32(desc.FreeInodesCount), free})
		}
	}

	if sumBlocks != sb.FreeBlocksCount {
		mismatches = append(mismatches, Mismatch{GlobalGroup, "free_blocks", sb.FreeBlocksCount, sumBlocks})
	}
	if sumInodes != sb.FreeInodesCount {
		mismatches = append(mismatches, Mismatch{GlobalGroup, "free_inodes", sb.FreeInodesCount, sumInodes})
	}

	var err error
	for _, m := range mismatches {
		err = multierr.Append(err, errors.New(errors.ErrInconsistent, "CheckCounters", "", m.String()))
	}
	return mismatches, err
}
