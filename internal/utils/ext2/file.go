package ext2

import (
	"fmt"
	"io"

	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
)

// FetchFileBlock reads logical block b of ino into buf. Holes read as zeros.
func (r *Resolver) FetchFileBlock(ino *Inode, b uint32, buf []byte) error {
	phys, err := r.Resolve(0, ino, b, false)
	if errors.Is(err, errors.ErrUnallocated) {
		clear(buf[:r.table.vol.BlockSize()])
		return nil
	}
	if err != nil {
		return err
	}
	return r.table.vol.FetchBlock(phys, buf)
}

// WriteFileBlock writes buf as logical block b of inode inodeNum, allocating
// the block and any indirect blocks it needs. ino is updated and persisted
// when pointers change; its size is left to the caller.
func (r *Resolver) WriteFileBlock(inodeNum uint32, ino *Inode, b uint32, buf []byte) error {
	phys, err := r.Resolve(inodeNum, ino, b, true)
	if err != nil {
		return err
	}
	return r.table.vol.WriteBlock(phys, buf)
}

// File gives byte access to one inode's data
type File struct {
	res *Resolver
	num uint32
	ino *Inode
}

// OpenFile returns the data of inode n. The inode must be in use.
func OpenFile(res *Resolver, n uint32) (*File, error) {
	inUse, err := res.table.InodeInUse(n)
	if err != nil {
		return nil, err
	}
	if !inUse {
		return nil, errors.New(errors.ErrUnallocated, "OpenFile", fmt.Sprintf("inode %d", n), "")
	}

	ino, err := res.table.FetchInode(n)
	if err != nil {
		return nil, err
	}
	return &File{res: res, num: n, ino: ino}, nil
}

// Inode returns the file's inode as last read or written
func (f *File) Inode() *Inode {
	return f.ino
}

// Number returns the inode number
func (f *File) Number() uint32 {
	return f.num
}

// Size returns the file size in bytes
func (f *File) Size() int64 {
	return int64(f.ino.FileSize())
}

// ReadAt implements io.ReaderAt over the file's bytes up to its size
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Newf(errors.ErrOutOfRange, "ReadAt", fmt.Sprintf("inode %d", f.num), "offset %d", off)
	}
	size := f.Size()
	if off >= size {
		return 0, io.EOF
	}

	want := p
	if int64(len(want)) > size-off {
		want = want[:size-off]
	}

	bs := int64(f.res.table.vol.BlockSize())
	buf := make([]byte, bs)
	n := 0
	for n < len(want) {
		pos := off + int64(n)
		b, err := f.res.fileBlock("ReadAt", f.num, pos)
		if err != nil {
			return n, err
		}
		intra := pos % bs
		if err := f.res.FetchFileBlock(f.ino, b, buf); err != nil {
			return n, err
		}
		n += copy(want[n:], buf[intra:])
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Partial blocks are read, patched and
// written back; the size grows when the write ends past it.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off)+uint64(len(p)) > f.res.MaxBlocks()*uint64(f.res.table.vol.BlockSize()) {
		return 0, errors.Newf(errors.ErrOutOfRange, "WriteAt", fmt.Sprintf("inode %d", f.num), "range at %d of %d bytes", off, len(p))
	}

	bs := int64(f.res.table.vol.BlockSize())
	buf := make([]byte, bs)
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		b, err := f.res.fileBlock("WriteAt", f.num, pos)
		if err != nil {
			return n, err
		}
		intra := pos % bs

		chunk := int(bs - intra)
		if chunk > len(p)-n {
			chunk = len(p) - n
		}
		if int64(chunk) < bs {
			if err := f.res.FetchFileBlock(f.ino, b, buf); err != nil {
				return n, err
			}
		}
		copy(buf[intra:], p[n:n+chunk])
		if err := f.res.WriteFileBlock(f.num, f.ino, b, buf); err != nil {
			return n, err
		}
		n += chunk
	}

	if end := uint64(off) + uint64(n); end > f.ino.FileSize() {
		f.ino.SetFileSize(end)
		if err := f.res.table.WriteInode(f.num, f.ino); err != nil {
			return n, err
		}
	}
	return n, nil
}
