package ext2_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2/ext2test"
)

func TestCheckCountersFreshFilesystem(t *testing.T) {
	for name, opts := range map[string]ext2test.Options{
		"1k":          {},
		"4k":          {BlockSize: 4096, BlocksPerGroup: 256},
		"many groups": {BlocksPerGroup: 72, InodesPerGroup: 16},
		"sparse":      {BlocksPerGroup: 256, SparseSuper: true},
	} {
		t.Run(name, func(t *testing.T) {
			table, _ := openTable(t, opts)
			mismatches, err := ext2.CheckCounters(table)
			require.NoError(t, err)
			assert.Empty(t, mismatches)
		})
	}
}

func TestCheckCountersReportsDrift(t *testing.T) {
	table, layout := openTable(t, ext2test.Options{})
	vol := table.Volume()

	d := layout.Groups[1]
	d.FreeBlocksCount += 5
	require.NoError(t, vol.WriteGroupDescriptor(vol.BGDTStart(), 1, d))
	require.NoError(t, table.Reload())

	mismatches, err := ext2.CheckCounters(table)
	assert.ErrorIs(t, err, errors.ErrInconsistent)
	assert.True(t, errors.IsInvalidData(err))
	assert.Equal(t, []ext2.Mismatch{
		{Group: 1, Counter: "free_blocks", Recorded: uint32(d.FreeBlocksCount), Actual: uint32(d.FreeBlocksCount) - 5},
		{Group: ext2.GlobalGroup, Counter: "free_blocks", Recorded: layout.Superblock.FreeBlocksCount, Actual: layout.Superblock.FreeBlocksCount + 5},
	}, mismatches)
	assert.Equal(t, fmt.Sprintf("group 1 free_blocks: recorded %d, actual %d", d.FreeBlocksCount, d.FreeBlocksCount-5), mismatches[0].String())
}

func TestCheckCountersSeesBitmapOnlyChange(t *testing.T) {
	table, _ := openTable(t, ext2test.Options{})
	vol := table.Volume()

	// set an inode bit behind the allocator's back
	buf := make([]byte, vol.BlockSize())
	bitmapBlock := table.GroupDescriptors()[3].InodeBitmap
	require.NoError(t, vol.FetchBlock(bitmapBlock, buf))
	buf[0] |= 1
	require.NoError(t, vol.WriteBlock(bitmapBlock, buf))

	mismatches, err := ext2.CheckCounters(table)
	assert.ErrorIs(t, err, errors.ErrInconsistent)
	require.Len(t, mismatches, 1)
	assert.Equal(t, 3, mismatches[0].Group)
	assert.Equal(t, "free_inodes", mismatches[0].Counter)
}

func TestCheckCountersTrailingGroupsPastInodeCount(t *testing.T) {
	table, layout := openTable(t, ext2test.Options{})
	vol := table.Volume()
	require.Len(t, layout.Groups, 4)

	// only the first two groups carry inodes now
	sb := vol.Superblock()
	ipg := sb.InodesPerGroup
	sb.InodesCount = 2 * ipg
	sb.FreeInodesCount -= uint32(layout.Groups[2].FreeInodesCount) + uint32(layout.Groups[3].FreeInodesCount)
	require.NoError(t, vol.WriteSuperblock(0, &sb))

	mismatches, err := ext2.CheckCounters(table)
	assert.ErrorIs(t, err, errors.ErrInconsistent)
	assert.Equal(t, []ext2.Mismatch{
		{Group: 2, Counter: "free_inodes", Recorded: uint32(layout.Groups[2].FreeInodesCount), Actual: 0},
		{Group: 3, Counter: "free_inodes", Recorded: uint32(layout.Groups[3].FreeInodesCount), Actual: 0},
		{Group: ext2.GlobalGroup, Counter: "free_inodes", Recorded: sb.FreeInodesCount, Actual: layout.Superblock.FreeInodesCount},
	}, mismatches)
}
