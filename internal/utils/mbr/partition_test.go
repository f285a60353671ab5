package mbr

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/vdi"
)

// memDevice is a Device backed by a byte slice
type memDevice struct {
	data []byte
}

func (m *memDevice) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memDevice) WriteAt(p []byte, off int64) (int, error) {
	return copy(m.data[off:], p), nil
}

func (m *memDevice) Size() int64 {
	return int64(len(m.data))
}

func newTestDevice(t *testing.T) *memDevice {
	t.Helper()
	dev := &memDevice{data: make([]byte, 64*SectorSize)}
	copy(dev.data, bytes.Repeat([]byte{0xEB}, TableOffset)) // boot code
	table := &Table{}
	table.Entries[0] = Entry{Type: 0x0B, FirstSector: 1, TotalSectors: 7}
	table.Entries[1] = Entry{Status: 0x80, Type: TypeLinux, FirstSector: 8, TotalSectors: 16, FirstCHS: [3]uint8{1, 2, 3}}
	require.NoError(t, WriteTable(dev, table))
	return dev
}

func TestDecodeTable(t *testing.T) {
	dev := newTestDevice(t)
	table, err := ReadTable(dev)
	require.NoError(t, err)

	assert.True(t, table.HasBootSignature())
	assert.Equal(t, byte(0xEB), dev.data[0], "boot code preserved")
	assert.Equal(t, 1, table.FindType(TypeLinux))
	assert.Equal(t, -1, table.FindType(0x07))

	e := table.Entries[1]
	assert.Equal(t, uint8(0x80), e.Status)
	assert.Equal(t, [3]uint8{1, 2, 3}, e.FirstCHS)
	assert.Equal(t, int64(8*SectorSize), e.Offset())
	assert.Equal(t, int64(16*SectorSize), e.Length())
	assert.True(t, table.Entries[3].IsEmpty())
}

func TestOpenIndexRange(t *testing.T) {
	dev := newTestDevice(t)
	for _, idx := range []int{-1, 4} {
		_, err := Open(dev, idx)
		assert.ErrorIs(t, err, errors.ErrOutOfRange, "index %d", idx)
	}
}

func TestOpenRejectsPartitionPastDisk(t *testing.T) {
	dev := newTestDevice(t)
	table, err := ReadTable(dev)
	require.NoError(t, err)
	table.Entries[2] = Entry{Type: TypeLinux, FirstSector: 60, TotalSectors: 8}
	require.NoError(t, WriteTable(dev, table))

	_, err = Open(dev, 2)
	assert.ErrorIs(t, err, errors.ErrOutOfRange)
}

func TestPartitionRelativeIO(t *testing.T) {
	dev := newTestDevice(t)
	p, err := Open(dev, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(16*SectorSize), p.Size())

	n, err := p.WriteAt([]byte("hello"), 10)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), dev.data[8*SectorSize+10:8*SectorSize+15])

	got := make([]byte, 5)
	_, err = p.ReadAt(got, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestPartitionClipsAtEnd(t *testing.T) {
	dev := newTestDevice(t)
	p, err := Open(dev, 1)
	require.NoError(t, err)
	end := p.Size()

	buf := make([]byte, 8)
	n, err := p.ReadAt(buf, end-3)
	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, io.EOF)

	n, err = p.ReadAt(buf, end)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	n, err = p.WriteAt([]byte("abcdef"), end-2)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, []byte("ab"), dev.data[p.Offset()+end-2:p.Offset()+end])
	assert.Equal(t, byte(0), dev.data[p.Offset()+end], "byte after the partition untouched")

	n, err = p.WriteAt([]byte("x"), end+5)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestPartitionLSeek(t *testing.T) {
	dev := newTestDevice(t)
	p, err := Open(dev, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(512), p.LSeek(512, io.SeekStart))
	assert.Equal(t, p.Size()-1, p.LSeek(1, io.SeekEnd))
	assert.Equal(t, p.Size()-1, p.LSeek(2, io.SeekCurrent), "past the end is refused")

	p.LSeek(0, io.SeekStart)
	_, err = p.Write([]byte("xy"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.LSeek(0, io.SeekCurrent))
}

func TestPartitionOverDiskImage(t *testing.T) {
	disk, err := vdi.Create(filepath.Join(t.TempDir(), "disk.vdi"), vdi.CreateOptions{
		DiskSize:  256 * 1024,
		BlockSize: 4096,
	})
	require.NoError(t, err)
	defer disk.Close()

	table := &Table{}
	table.Entries[0] = Entry{Type: TypeLinux, FirstSector: 16, TotalSectors: 400}
	require.NoError(t, WriteTable(disk, table))

	p, err := Open(disk, 0)
	require.NoError(t, err)

	_, err = p.WriteAt([]byte("superblock"), 1024)
	require.NoError(t, err)

	got := make([]byte, 10)
	_, err = disk.ReadAt(got, 16*SectorSize+1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("superblock"), got)
}
