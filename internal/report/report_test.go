package report_test

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vdi-inspector/internal/report"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2/ext2test"
)

func openTable(t *testing.T) (*ext2.InodeTable, *ext2test.Layout) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fs.vdi")
	layout, err := ext2test.Build(path, ext2test.Options{Label: "evidence"})
	require.NoError(t, err)

	vol, err := ext2.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { vol.Close() })

	table, err := ext2.NewInodeTable(vol)
	require.NoError(t, err)
	return table, layout
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]report.Format{
		"":       report.FormatJSON,
		"JSON":   report.FormatJSON,
		"plist":  report.FormatXML,
		"xml":    report.FormatXML,
		"bplist": report.FormatBinary,
		"binary": report.FormatBinary,
	} {
		got, err := report.ParseFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := report.ParseFormat("yaml")
	assert.Error(t, err)
}

func TestVolumeReport(t *testing.T) {
	table, layout := openTable(t)
	r := report.NewVolumeReport(table)

	require.NotNil(t, r.Image)
	assert.True(t, r.Image.Dynamic)
	require.NotNil(t, r.Partition)
	assert.Equal(t, uint8(0x83), r.Partition.Type)
	assert.Equal(t, layout.PartitionOffset, r.Partition.Offset)

	fs := r.Filesystem
	assert.Equal(t, "evidence", fs.Label)
	assert.Equal(t, layout.Superblock.UUID.String(), fs.UUID)
	assert.Equal(t, layout.Superblock.FreeBlocksCount, fs.FreeBlocksCount)
	require.Len(t, fs.Groups, len(layout.Groups))
	for g, d := range layout.Groups {
		assert.Equal(t, d.InodeTable, fs.Groups[g].InodeTable)
		assert.Equal(t, d.FreeInodesCount, fs.Groups[g].FreeInodesCount)
	}
	assert.True(t, fs.Groups[0].Backup)
}

func TestEncodeDecodeAllFormats(t *testing.T) {
	table, _ := openTable(t)
	want := report.NewVolumeReport(table)

	for _, format := range []report.Format{report.FormatJSON, report.FormatXML, report.FormatBinary} {
		t.Run(format.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, report.Encode(&buf, format, want))

			switch format {
			case report.FormatXML:
				assert.True(t, strings.HasPrefix(buf.String(), "<?xml"))
			case report.FormatBinary:
				assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("bplist00")))
			}

			var got report.VolumeReport
			require.NoError(t, report.Decode(bytes.NewReader(buf.Bytes()), format, &got))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("report mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInodeReport(t *testing.T) {
	table, _ := openTable(t)

	r, err := report.NewInodeReport(table, ext2.RootInode)
	require.NoError(t, err)
	assert.True(t, r.InUse)
	assert.Equal(t, "dir", r.Type)
	assert.Equal(t, "040755", r.Mode)
	assert.Equal(t, uint16(2), r.Links)
	assert.Equal(t, uint64(1024), r.Size)

	free, err := report.NewInodeReport(table, 100)
	require.NoError(t, err)
	assert.False(t, free.InUse)

	_, err = report.NewInodeReport(table, 0)
	assert.Error(t, err)
}

func TestBlockMapReport(t *testing.T) {
	table, _ := openTable(t)
	res := ext2.NewResolver(table)

	n, err := table.AllocateInode(ext2.AnyGroup)
	require.NoError(t, err)
	require.NoError(t, table.WriteInode(n, &ext2.Inode{Mode: ext2.ModeRegular | 0o644, LinksCount: 1}))
	f, err := ext2.OpenFile(res, n)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("tail"), 3*1024)
	require.NoError(t, err)

	r, err := report.NewBlockMapReport(res, n)
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), r.BlockSize)
	assert.Equal(t, uint64(4), r.FileBlocks)
	require.Len(t, r.Blocks, 1)
	assert.Equal(t, uint32(3), r.Blocks[0].Logical)
	assert.NotZero(t, r.Blocks[0].Physical)
	assert.Equal(t, uint64(3), r.Holes)
	assert.False(t, r.Truncated)
}

func TestBlockMapReportOversizedInode(t *testing.T) {
	table, _ := openTable(t)
	res := ext2.NewResolver(table)

	n, err := table.AllocateInode(ext2.AnyGroup)
	require.NoError(t, err)
	ino := &ext2.Inode{Mode: ext2.ModeRegular | 0o644, LinksCount: 1}
	require.NoError(t, table.WriteInode(n, ino))

	data := bytes.Repeat([]byte{0x5A}, 1024)
	require.NoError(t, res.WriteFileBlock(n, ino, 0, data))
	require.NoError(t, res.WriteFileBlock(n, ino, 20, data))
	ino.SetFileSize(1 << 40)
	require.NoError(t, table.WriteInode(n, ino))

	r, err := report.NewBlockMapReport(res, n)
	require.NoError(t, err)
	assert.Equal(t, res.MaxBlocks(), r.FileBlocks)
	require.Len(t, r.Blocks, 2)
	assert.Equal(t, uint32(0), r.Blocks[0].Logical)
	assert.Equal(t, uint32(20), r.Blocks[1].Logical)
	assert.Equal(t, res.MaxBlocks()-2, r.Holes)
	assert.False(t, r.Truncated)

	// an indirect block whose every slot points at the same data block
	indirect := make([]byte, 1024)
	for i := 0; i < len(indirect); i += 4 {
		binary.LittleEndian.PutUint32(indirect[i:], ino.Block[0])
	}
	require.NoError(t, table.Volume().WriteBlock(ino.Block[ext2.SingleIndirect], indirect))

	r, err = report.NewBlockMapReport(res, n)
	require.NoError(t, err)
	assert.True(t, r.Truncated)
	// the inode owns three blocks: two data blocks and the indirect one
	require.Len(t, r.Blocks, 3)
	assert.Equal(t, []uint32{0, 12, 13}, []uint32{r.Blocks[0].Logical, r.Blocks[1].Logical, r.Blocks[2].Logical})
}

func TestCheckReport(t *testing.T) {
	r := report.NewCheckReport(nil)
	assert.True(t, r.Consistent)
	assert.Empty(t, r.Mismatches)

	r = report.NewCheckReport([]ext2.Mismatch{{Group: 2, Counter: "free_inodes", Recorded: 4, Actual: 3}})
	assert.False(t, r.Consistent)
	assert.Equal(t, []string{"group 2 free_inodes: recorded 4, actual 3"}, r.Mismatches)
}
