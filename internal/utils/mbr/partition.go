package mbr

import (
	"io"

	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
)

// Partition is a window onto one partition of a Device. Offsets are relative
// to the partition start and never reach outside it. It borrows the device
// and holds no handle of its own.
type Partition struct {
	dev    Device
	table  *Table
	index  int
	offset int64
	size   int64
	cursor int64
}

// Open reads the partition table of dev and selects entry index (0..3)
func Open(dev Device, index int) (*Partition, error) {
	table, err := ReadTable(dev)
	if err != nil {
		return nil, err
	}
	return OpenEntry(dev, table, index)
}

// OpenEntry selects entry index of an already decoded table
func OpenEntry(dev Device, table *Table, index int) (*Partition, error) {
	if index < 0 || index >= NumEntries {
		return nil, errors.Newf(errors.ErrOutOfRange, "Open", "partition", "index %d not in 0..%d", index, NumEntries-1)
	}

	e := table.Entries[index]
	p := &Partition{
		dev:    dev,
		table:  table,
		index:  index,
		offset: e.Offset(),
		size:   e.Length(),
	}
	if p.offset+p.size > dev.Size() {
		return nil, errors.Newf(errors.ErrOutOfRange, "Open", "partition", "entry %d (%s) ends past disk size %d", index, e, dev.Size())
	}
	return p, nil
}

// Index returns the selected table slot
func (p *Partition) Index() int {
	return p.index
}

// Entry returns the selected partition entry
func (p *Partition) Entry() Entry {
	return p.table.Entries[p.index]
}

// Table returns the decoded partition table
func (p *Partition) Table() *Table {
	return p.table
}

// Offset returns the partition's absolute byte offset on the device
func (p *Partition) Offset() int64 {
	return p.offset
}

// Size returns the partition size in bytes
func (p *Partition) Size() int64 {
	return p.size
}

// clip bounds a transfer of n bytes at off to the partition
func (p *Partition) clip(n int, off int64) int {
	if off >= p.size {
		return 0
	}
	if int64(n) > p.size-off {
		return int(p.size - off)
	}
	return n
}

// ReadAt reads at a partition-relative offset. Reads are clipped to the
// partition; a clipped read returns the bytes it got with io.EOF.
func (p *Partition) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Newf(errors.ErrOutOfRange, "ReadAt", "partition", "offset %d", off)
	}
	n := p.clip(len(b), off)
	if n == 0 {
		if len(b) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	got, err := p.dev.ReadAt(b[:n], p.offset+off)
	if err != nil {
		return got, err
	}
	if n < len(b) {
		return got, io.EOF
	}
	return got, nil
}

// WriteAt writes at a partition-relative offset. Writes are clipped to the
// partition; a clipped write reports io.ErrShortWrite after storing what fits.
// A write starting at or past the end stores nothing and returns
// (0, io.ErrShortWrite) rather than (0, nil), as io.WriterAt requires an
// error whenever fewer than len(b) bytes are written.
func (p *Partition) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Newf(errors.ErrOutOfRange, "WriteAt", "partition", "offset %d", off)
	}
	n := p.clip(len(b), off)
	if n == 0 {
		if len(b) == 0 {
			return 0, nil
		}
		return 0, io.ErrShortWrite
	}

	got, err := p.dev.WriteAt(b[:n], p.offset+off)
	if err != nil {
		return got, err
	}
	if n < len(b) {
		return got, io.ErrShortWrite
	}
	return got, nil
}

// Read reads from the cursor and advances it
func (p *Partition) Read(b []byte) (int, error) {
	n, err := p.ReadAt(b, p.cursor)
	p.cursor += int64(n)
	return n, err
}

// Write writes at the cursor and advances it
func (p *Partition) Write(b []byte) (int, error) {
	n, err := p.WriteAt(b, p.cursor)
	p.cursor += int64(n)
	return n, err
}

// LSeek moves the cursor with the same rules as the disk image: io.SeekEnd
// subtracts from the partition size and out-of-range targets are refused,
// leaving the cursor unchanged.
func (p *Partition) LSeek(offset int64, whence int) int64 {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = p.cursor + offset
	case io.SeekEnd:
		target = p.size - offset
	default:
		return p.cursor
	}

	if target < 0 || target > p.size {
		return p.cursor
	}
	p.cursor = target
	return p.cursor
}
