// Package vdi reads and writes VirtualBox disk images as a flat logical byte
// stream, translating logical blocks through the image's block map.
package vdi

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/deploymenttheory/go-vdi-inspector/internal/logger"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
)

// Disk is an open disk image. It holds the image's single file handle and
// owns the header and translation map.
type Disk struct {
	file     *os.File
	path     string
	header   Header
	blockMap []uint32 // nil for fixed images
	readOnly bool
	cursor   int64
}

// Open opens an image for reading and writing
func Open(path string) (*Disk, error) {
	return openImage(path, os.O_RDWR, false)
}

// OpenReadOnly opens an image without write access. Writes fail with
// errors.ErrReadOnly.
func OpenReadOnly(path string) (*Disk, error) {
	return openImage(path, os.O_RDONLY, true)
}

func openImage(path string, flag int, readOnly bool) (*Disk, error) {
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrNotFound, "Open", path, "")
		}
		return nil, errors.New(errors.ErrIOFailure, "Open", path, err.Error())
	}

	d, err := load(f, path, readOnly)
	if err != nil {
		f.Close()
		return nil, err
	}

	logger.LogDebug("Opened disk image", map[string]interface{}{
		"path":             path,
		"dynamic":          d.header.IsDynamic(),
		"disk_size":        d.header.DiskSize,
		"block_size":       d.header.BlockSize,
		"blocks_allocated": d.header.BlocksAllocated,
	})
	return d, nil
}

func load(f *os.File, path string, readOnly bool) (*Disk, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, errors.New(errors.ErrIOFailure, "Open", path, err.Error())
	}

	raw := make([]byte, HeaderRecordSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		return nil, errors.New(errors.ErrBadHeader, "Open", path, "short header: "+err.Error())
	}

	d := &Disk{file: f, path: path, readOnly: readOnly}
	if err := d.header.UnmarshalBinary(raw); err != nil {
		return nil, errors.New(errors.ErrBadHeader, "Open", path, err.Error())
	}
	if err := d.header.validate(stat.Size()); err != nil {
		return nil, errors.New(errors.ErrBadHeader, "Open", path, err.Error())
	}

	if d.header.IsDynamic() {
		if err := d.loadBlockMap(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Disk) loadBlockMap() error {
	n := d.header.BlocksInHDD
	raw := make([]byte, int(n)*4)
	if _, err := d.file.ReadAt(raw, int64(d.header.OffsetBlocks)); err != nil {
		return errors.New(errors.ErrBadHeader, "Open", d.path, "translation map: "+err.Error())
	}

	d.blockMap = make([]uint32, n)
	for i := range d.blockMap {
		entry := binary.LittleEndian.Uint32(raw[i*4:])
		if entry != BlockFree && entry != BlockZero && entry >= d.header.BlocksAllocated {
			return errors.Newf(errors.ErrBadHeader, "Open", d.path,
				"map entry %d points at block %d of %d allocated", i, entry, d.header.BlocksAllocated)
		}
		d.blockMap[i] = entry
	}
	return nil
}

// Close releases the file handle
func (d *Disk) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// Header returns a copy of the image header
func (d *Disk) Header() Header {
	return d.header
}

// Size returns the logical disk size in bytes
func (d *Disk) Size() int64 {
	return int64(d.header.DiskSize)
}

// Path returns the backing file path
func (d *Disk) Path() string {
	return d.path
}

// physicalBlock maps a logical block to its physical block or a sentinel
func (d *Disk) physicalBlock(logical uint32) uint32 {
	if d.blockMap == nil {
		return logical
	}
	return d.blockMap[logical]
}

// ReadAt reads len(p) bytes of the logical stream starting at off.
// Unallocated blocks read as zeros without touching the backing file.
func (d *Disk) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Newf(errors.ErrOutOfRange, "ReadAt", d.path, "offset %d", off)
	}
	size := d.Size()
	if off >= size {
		return 0, io.EOF
	}

	want := p
	if int64(len(want)) > size-off {
		want = want[:size-off]
	}

	bs := int64(d.header.BlockSize)
	n := 0
	for n < len(want) {
		pos := off + int64(n)
		logical := uint32(pos / bs)
		intra := pos % bs
		chunk := int(bs - intra)
		if chunk > len(want)-n {
			chunk = len(want) - n
		}

		phys := d.physicalBlock(logical)
		if phys == BlockFree || phys == BlockZero {
			clear(want[n : n+chunk])
		} else {
			got, err := d.file.ReadAt(want[n:n+chunk], d.header.physicalOffset(phys, intra))
			if got != chunk {
				return n + got, errors.Newf(errors.ErrIOFailure, "ReadAt", d.path,
					"block %d: read %d of %d bytes: %v", logical, got, chunk, err)
			}
		}
		n += chunk
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes p into the logical stream at off. Writing into a block that
// has no physical storage yet appends a zero-filled block to the image first.
func (d *Disk) WriteAt(p []byte, off int64) (int, error) {
	if d.readOnly {
		return 0, errors.New(errors.ErrReadOnly, "WriteAt", d.path, "")
	}
	if off < 0 || off+int64(len(p)) > d.Size() {
		return 0, errors.Newf(errors.ErrOutOfRange, "WriteAt", d.path,
			"range [%d, %d) outside disk of %d bytes", off, off+int64(len(p)), d.Size())
	}

	bs := int64(d.header.BlockSize)
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		logical := uint32(pos / bs)
		intra := pos % bs
		chunk := int(bs - intra)
		if chunk > len(p)-n {
			chunk = len(p) - n
		}

		phys := d.physicalBlock(logical)
		if phys == BlockFree || phys == BlockZero {
			var err error
			if phys, err = d.allocate(logical); err != nil {
				return n, err
			}
		}

		got, err := d.file.WriteAt(p[n:n+chunk], d.header.physicalOffset(phys, intra))
		if got != chunk {
			return n + got, errors.Newf(errors.ErrIOFailure, "WriteAt", d.path,
				"block %d: wrote %d of %d bytes: %v", logical, got, chunk, err)
		}
		n += chunk
	}
	return n, nil
}

// allocate gives logical a new physical block at the end of the data area.
// The zero-filled block is written before any metadata refers to it, and the
// header is persisted before the map entry, so a crash at any point leaves
// the block either unallocated or allocated and zeroed.
func (d *Disk) allocate(logical uint32) (uint32, error) {
	phys := d.header.BlocksAllocated

	zero := make([]byte, d.header.blockStride())
	if _, err := d.file.WriteAt(zero, d.header.physicalOffset(phys, 0)-int64(d.header.BlockExtraData)); err != nil {
		return 0, errors.Newf(errors.ErrIOFailure, "allocate", d.path, "zero-fill block %d: %v", phys, err)
	}

	d.header.BlocksAllocated++
	if err := d.writeHeader(); err != nil {
		d.header.BlocksAllocated--
		return 0, err
	}

	var entry [4]byte
	binary.LittleEndian.PutUint32(entry[:], phys)
	if _, err := d.file.WriteAt(entry[:], int64(d.header.OffsetBlocks)+int64(logical)*4); err != nil {
		return 0, errors.Newf(errors.ErrIOFailure, "allocate", d.path, "map entry %d: %v", logical, err)
	}
	d.blockMap[logical] = phys

	logger.LogDebug("Allocated image block", map[string]interface{}{
		"logical":  logical,
		"physical": phys,
	})
	return phys, nil
}

func (d *Disk) writeHeader() error {
	raw, err := d.header.MarshalBinary()
	if err != nil {
		return errors.New(errors.ErrIOFailure, "writeHeader", d.path, err.Error())
	}
	if _, err := d.file.WriteAt(raw, 0); err != nil {
		return errors.New(errors.ErrIOFailure, "writeHeader", d.path, err.Error())
	}
	return nil
}

// Read reads from the cursor and advances it
func (d *Disk) Read(p []byte) (int, error) {
	n, err := d.ReadAt(p, d.cursor)
	d.cursor += int64(n)
	return n, err
}

// Write writes at the cursor and advances it
func (d *Disk) Write(p []byte) (int, error) {
	n, err := d.WriteAt(p, d.cursor)
	d.cursor += int64(n)
	return n, err
}

// LSeek moves the cursor and returns its new position. whence is one of
// io.SeekStart, io.SeekCurrent or io.SeekEnd; for io.SeekEnd the offset is
// subtracted from the disk size. A target outside [0, Size()] leaves the
// cursor where it was, and callers detect the refusal by comparing the
// result with the position they asked for.
func (d *Disk) LSeek(offset int64, whence int) int64 {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = d.cursor + offset
	case io.SeekEnd:
		target = d.Size() - offset
	default:
		return d.cursor
	}

	if target < 0 || target > d.Size() {
		return d.cursor
	}
	d.cursor = target
	return d.cursor
}

// Stat summarises the image's allocation state
type Stat struct {
	DiskSize        uint64
	BlockSize       uint32
	BlocksInHDD     uint32
	BlocksAllocated uint32
	Dynamic         bool
}

// Stat returns the current allocation state
func (d *Disk) Stat() Stat {
	return Stat{
		DiskSize:        d.header.DiskSize,
		BlockSize:       d.header.BlockSize,
		BlocksInHDD:     d.header.BlocksInHDD,
		BlocksAllocated: d.header.BlocksAllocated,
		Dynamic:         d.header.IsDynamic(),
	}
}

// String implements fmt.Stringer
func (s Stat) String() string {
	return fmt.Sprintf("%d bytes, %d/%d blocks of %d allocated", s.DiskSize, s.BlocksAllocated, s.BlocksInHDD, s.BlockSize)
}
