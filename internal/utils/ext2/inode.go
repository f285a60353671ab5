package ext2

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// InodeRecordSize is the size of the fields decoded into Inode. Larger
	// on-disk inode slots keep their tail untouched.
	InodeRecordSize = 128

	// NumBlockPointers is the length of the inode's block pointer array
	NumBlockPointers = 15

	// DirectBlocks is the number of direct block pointers
	DirectBlocks = 12

	// Slots of the indirect pointer roots in Inode.Block
	SingleIndirect = 12
	DoubleIndirect = 13
	TripleIndirect = 14
)

// Mode type bits
const (
	ModeTypeMask = 0xF000
	ModeFIFO     = 0x1000
	ModeCharDev  = 0x2000
	ModeDir      = 0x4000
	ModeBlockDev = 0x6000
	ModeRegular  = 0x8000
	ModeSymlink  = 0xA000
	ModeSocket   = 0xC000
	ModePermMask = 0x0FFF
)

// Inode is the fixed 128-byte part of an ext2 inode
type Inode struct {
	Mode       uint16                   // 0x00: type and permission bits
	UID        uint16                   // 0x02
	Size       uint32                   // 0x04: low 32 bits of the size
	Atime      uint32                   // 0x08
	Ctime      uint32                   // 0x0C
	Mtime      uint32                   // 0x10
	Dtime      uint32                   // 0x14
	GID        uint16                   // 0x18
	LinksCount uint16                   // 0x1A
	Blocks     uint32                   // 0x1C: 512-byte sectors in use
	Flags      uint32                   // 0x20
	OSD1       uint32                   // 0x24
	Block      [NumBlockPointers]uint32 // 0x28
	Generation uint32                   // 0x64
	FileACL    uint32                   // 0x68
	DirACL     uint32                   // 0x6C: high 32 bits of the size for regular files
	Faddr      uint32                   // 0x70
	OSD2       [12]byte                 // 0x74
}

// Type returns the file type bits of Mode
func (i *Inode) Type() uint16 {
	return i.Mode & ModeTypeMask
}

// IsDir reports whether the inode is a directory
func (i *Inode) IsDir() bool {
	return i.Type() == ModeDir
}

// IsRegular reports whether the inode is a regular file
func (i *Inode) IsRegular() bool {
	return i.Type() == ModeRegular
}

// IsSymlink reports whether the inode is a symbolic link
func (i *Inode) IsSymlink() bool {
	return i.Type() == ModeSymlink
}

// TypeName returns a short name for the file type
func (i *Inode) TypeName() string {
	switch i.Type() {
	case ModeFIFO:
		return "fifo"
	case ModeCharDev:
		return "char"
	case ModeDir:
		return "dir"
	case ModeBlockDev:
		return "block"
	case ModeRegular:
		return "file"
	case ModeSymlink:
		return "symlink"
	case ModeSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// FileSize returns the file size in bytes. Regular files keep the high half
// in DirACL.
func (i *Inode) FileSize() uint64 {
	if i.IsRegular() {
		return uint64(i.DirACL)<<32 | uint64(i.Size)
	}
	return uint64(i.Size)
}

// SetFileSize stores size, splitting it across Size and DirACL for regular files
func (i *Inode) SetFileSize(size uint64) {
	i.Size = uint32(size)
	if i.IsRegular() {
		i.DirACL = uint32(size >> 32)
	}
}

// MarshalBinary encodes the inode into its 128-byte record
func (i *Inode) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(InodeRecordSize)
	if err := binary.Write(&buf, binary.LittleEndian, i); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an inode from the first 128 bytes of data
func (i *Inode) UnmarshalBinary(data []byte) error {
	if len(data) < InodeRecordSize {
		return fmt.Errorf("inode record needs %d bytes, got %d", InodeRecordSize, len(data))
	}
	return binary.Read(bytes.NewReader(data[:InodeRecordSize]), binary.LittleEndian, i)
}
