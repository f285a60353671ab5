package ext2

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
)

// pointerBlock is a view over an indirect block as little-endian block numbers
type pointerBlock []byte

func (p pointerBlock) get(i uint32) uint32 {
	return binary.LittleEndian.Uint32(p[i*4:])
}

func (p pointerBlock) set(i, v uint32) {
	binary.LittleEndian.PutUint32(p[i*4:], v)
}

// Resolver maps logical file blocks to filesystem blocks through an inode's
// direct and indirect pointers
type Resolver struct {
	table *InodeTable
}

// NewResolver returns a resolver allocating through table
func NewResolver(table *InodeTable) *Resolver {
	return &Resolver{table: table}
}

// Table returns the inode table the resolver allocates through
func (r *Resolver) Table() *InodeTable {
	return r.table
}

// Fanout returns the number of block pointers in one indirect block
func (r *Resolver) Fanout() uint32 {
	return r.table.vol.BlockSize() / 4
}

// MaxBlocks returns the number of logical blocks the pointer tree can address
func (r *Resolver) MaxBlocks() uint64 {
	k := uint64(r.Fanout())
	return DirectBlocks + k + k*k + k*k*k
}

// fileBlock maps byte position pos of inode inodeNum to its logical block,
// failing when the pointer tree cannot address that block
func (r *Resolver) fileBlock(op string, inodeNum uint32, pos int64) (uint32, error) {
	b := uint64(pos) / uint64(r.table.vol.BlockSize())
	if b >= r.MaxBlocks() || b > math.MaxUint32 {
		return 0, errors.Newf(errors.ErrOutOfRange, op, fmt.Sprintf("inode %d", inodeNum), "file block %d past the %d addressable blocks", b, r.MaxBlocks())
	}
	return uint32(b), nil
}

// walk returns the inode slot that roots logical block b and the indices to
// follow through each indirect level below it
func (r *Resolver) walk(b uint32) (int, []uint32, error) {
	k := uint64(r.Fanout())
	n := uint64(b)

	switch {
	case n < DirectBlocks:
		return int(n), nil, nil
	case n < DirectBlocks+k:
		return SingleIndirect, []uint32{uint32(n - DirectBlocks)}, nil
	case n < DirectBlocks+k+k*k:
		rem := n - DirectBlocks - k
		return DoubleIndirect, []uint32{uint32(rem / k), uint32(rem % k)}, nil
	case n < r.MaxBlocks():
		rem := n - DirectBlocks - k - k*k
		return TripleIndirect, []uint32{uint32(rem / (k * k)), uint32(rem % (k * k) / k), uint32(rem % k)}, nil
	}
	return 0, nil, errors.Newf(errors.ErrOutOfRange, "Resolve", fmt.Sprintf("file block %d", b), "pointer tree addresses %d blocks", r.MaxBlocks())
}

// Resolve returns the filesystem block holding logical block b of ino.
//
// A zero pointer on the way is a hole. Without allocate that fails with
// errors.ErrUnallocated. With allocate each missing indirect block and the
// data block are allocated, zero-filled and linked into their parent, and
// ino.Blocks grows accordingly. When anything was allocated ino is written
// back as inode inodeNum; an inodeNum of 0 leaves persisting it to the
// caller.
func (r *Resolver) Resolve(inodeNum uint32, ino *Inode, b uint32, allocate bool) (phys uint32, err error) {
	slot, path, err := r.walk(b)
	if err != nil {
		return 0, err
	}

	allocated := false
	defer func() {
		if !allocated || inodeNum == 0 {
			return
		}
		// the new pointers are persisted even when a later level failed
		if werr := r.table.WriteInode(inodeNum, ino); werr != nil && err == nil {
			phys, err = 0, werr
		}
	}()

	ptr := ino.Block[slot]
	if ptr == 0 {
		if !allocate {
			return 0, r.hole(b)
		}
		if ptr, err = r.allocate(inodeNum, ino); err != nil {
			return 0, err
		}
		ino.Block[slot] = ptr
		allocated = true
	}

	bs := r.table.vol.BlockSize()
	for _, idx := range path {
		buf := make([]byte, bs)
		if err := r.table.vol.FetchBlock(ptr, buf); err != nil {
			return 0, err
		}
		view := pointerBlock(buf)

		next := view.get(idx)
		if next == 0 {
			if !allocate {
				return 0, r.hole(b)
			}
			if next, err = r.allocate(inodeNum, ino); err != nil {
				return 0, err
			}
			view.set(idx, next)
			if err := r.table.vol.WriteBlock(ptr, buf); err != nil {
				return 0, err
			}
			allocated = true
		}
		ptr = next
	}
	return ptr, nil
}

func (r *Resolver) hole(b uint32) error {
	return errors.New(errors.ErrUnallocated, "Resolve", fmt.Sprintf("file block %d", b), "")
}

// allocate takes a block near the inode's group, falling back to any group,
// and zero-fills it
func (r *Resolver) allocate(inodeNum uint32, ino *Inode) (uint32, error) {
	hint := AnyGroup
	if inodeNum != 0 {
		hint = int(r.table.GroupOf(inodeNum))
	}

	n, err := r.table.AllocateBlock(hint)
	if errors.IsSpaceError(err) && hint != AnyGroup {
		n, err = r.table.AllocateBlock(AnyGroup)
	}
	if err != nil {
		return 0, err
	}

	bs := r.table.vol.BlockSize()
	if err := r.table.vol.WriteBlock(n, make([]byte, bs)); err != nil {
		return 0, err
	}
	ino.Blocks += bs / 512
	return n, nil
}

// Blocks returns the filesystem blocks behind logical blocks [0, count) of
// ino, with 0 for holes
func (r *Resolver) Blocks(ino *Inode, count uint32) ([]uint32, error) {
	out := make([]uint32, count)
	for b := uint32(0); b < count; b++ {
		phys, err := r.Resolve(0, ino, b, false)
		if errors.Is(err, errors.ErrUnallocated) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[b] = phys
	}
	return out, nil
}

// Mapped calls fn for every allocated logical block of ino below count, in
// ascending order. Missing indirect blocks skip their whole subtree without
// visiting it. A non-nil error from fn stops the walk and is returned.
func (r *Resolver) Mapped(ino *Inode, count uint64, fn func(logical, phys uint32) error) error {
	if m := r.MaxBlocks(); count > m {
		count = m
	}
	if count > math.MaxUint32+1 {
		count = math.MaxUint32 + 1
	}

	for b := uint64(0); b < DirectBlocks && b < count; b++ {
		if p := ino.Block[b]; p != 0 {
			if err := fn(uint32(b), p); err != nil {
				return err
			}
		}
	}

	k := uint64(r.Fanout())
	base, span := uint64(DirectBlocks), k
	for depth, slot := range []int{SingleIndirect, DoubleIndirect, TripleIndirect} {
		if base >= count {
			break
		}
		if err := r.mapped(ino.Block[slot], depth, base, span, count, fn); err != nil {
			return err
		}
		base += span
		span *= k
	}
	return nil
}

// mapped walks the indirect block ptr covering logical blocks
// [base, base+span); depth is the number of indirect levels below it
func (r *Resolver) mapped(ptr uint32, depth int, base, span, count uint64, fn func(logical, phys uint32) error) error {
	if ptr == 0 {
		return nil
	}
	buf := make([]byte, r.table.vol.BlockSize())
	if err := r.table.vol.FetchBlock(ptr, buf); err != nil {
		return err
	}
	view := pointerBlock(buf)

	child := span / uint64(r.Fanout())
	for i := uint32(0); i < r.Fanout(); i++ {
		start := base + uint64(i)*child
		if start >= count {
			break
		}
		next := view.get(i)
		if next == 0 {
			continue
		}
		if depth == 0 {
			if err := fn(uint32(start), next); err != nil {
				return err
			}
			continue
		}
		if err := r.mapped(next, depth-1, start, child, count, fn); err != nil {
			return err
		}
	}
	return nil
}
