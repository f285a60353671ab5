package ext2_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2/ext2test"
)

func TestFileWriteThenRead(t *testing.T) {
	table, _ := openTable(t, ext2test.Options{})
	res := ext2.NewResolver(table)
	n, _ := newFile(t, table)

	f, err := ext2.OpenFile(res, n)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("0123456789abcdef"), 300) // spans 5 blocks
	off := int64(20*1024 + 100)
	written, err := f.WriteAt(data, off)
	require.NoError(t, err)
	assert.Equal(t, len(data), written)
	assert.Equal(t, off+int64(len(data)), f.Size())

	reopened, err := ext2.OpenFile(res, n)
	require.NoError(t, err)
	assert.Equal(t, f.Size(), reopened.Size())

	got := make([]byte, len(data))
	_, err = reopened.ReadAt(got, off)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// everything before the write is a hole
	head := make([]byte, off)
	_, err = reopened.ReadAt(head, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, off), head)

	blocks, err := res.Blocks(reopened.Inode(), 25)
	require.NoError(t, err)
	for b, phys := range blocks {
		if b < 20 {
			assert.Zero(t, phys, "file block %d", b)
		} else {
			assert.NotZero(t, phys, "file block %d", b)
		}
	}
}

func TestFileReadPastEnd(t *testing.T) {
	table, _ := openTable(t, ext2test.Options{})
	res := ext2.NewResolver(table)
	n, _ := newFile(t, table)

	f, err := ext2.OpenFile(res, n)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("evidence"), 0)
	require.NoError(t, err)

	buf := make([]byte, 16)
	got, err := f.ReadAt(buf, 4)
	assert.Equal(t, 4, got)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte("ence"), buf[:4])

	_, err = f.ReadAt(buf, 8)
	assert.ErrorIs(t, err, io.EOF)

	all, err := io.ReadAll(io.NewSectionReader(f, 0, f.Size()))
	require.NoError(t, err)
	assert.Equal(t, []byte("evidence"), all)
}

func TestFileReadBeyondPointerTree(t *testing.T) {
	table, _ := openTable(t, ext2test.Options{})
	res := ext2.NewResolver(table)
	n, ino := newFile(t, table)

	require.NoError(t, res.WriteFileBlock(n, ino, 0, bytes.Repeat([]byte{0xAB}, 1024)))
	// a corrupt size reaching far past what the pointer tree can hold
	ino.SetFileSize(1 << 50)
	require.NoError(t, table.WriteInode(n, ino))

	f, err := ext2.OpenFile(res, n)
	require.NoError(t, err)

	buf := make([]byte, 4)
	got, err := f.ReadAt(buf, 1<<42) // file block 1<<32
	assert.ErrorIs(t, err, errors.ErrOutOfRange)
	assert.Zero(t, got)
	assert.Equal(t, make([]byte, 4), buf)

	_, err = f.ReadAt(buf, int64(res.MaxBlocks())*1024)
	assert.ErrorIs(t, err, errors.ErrOutOfRange)

	// the last addressable block is a hole and reads as zeros
	got, err = f.ReadAt(buf, int64(res.MaxBlocks()-1)*1024)
	require.NoError(t, err)
	assert.Equal(t, 4, got)
	assert.Equal(t, make([]byte, 4), buf)

	got, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, got)
	assert.Equal(t, []byte{0xAB, 0xAB, 0xAB, 0xAB}, buf)
}

func TestFileBlockAccess(t *testing.T) {
	table, _ := openTable(t, ext2test.Options{})
	res := ext2.NewResolver(table)
	n, ino := newFile(t, table)

	block := bytes.Repeat([]byte{0xA5}, 1024)
	require.NoError(t, res.WriteFileBlock(n, ino, 300, block))

	got := make([]byte, 1024)
	require.NoError(t, res.FetchFileBlock(ino, 300, got))
	assert.Equal(t, block, got)

	require.NoError(t, res.FetchFileBlock(ino, 299, got))
	assert.Equal(t, make([]byte, 1024), got)

	stored, err := table.FetchInode(n)
	require.NoError(t, err)
	assert.Equal(t, ino.Block, stored.Block)
	assert.Zero(t, stored.Size, "size stays with the caller")
}

func TestOpenRootDirectoryFile(t *testing.T) {
	table, layout := openTable(t, ext2test.Options{})

	f, err := ext2.OpenFile(ext2.NewResolver(table), ext2.RootInode)
	require.NoError(t, err)
	assert.True(t, f.Inode().IsDir())

	got := make([]byte, f.Size())
	_, err = f.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, layout.RootDirData, got)
}

func TestOpenFileUnallocated(t *testing.T) {
	table, _ := openTable(t, ext2test.Options{})
	_, err := ext2.OpenFile(ext2.NewResolver(table), 40)
	assert.ErrorIs(t, err, errors.ErrUnallocated)
}
