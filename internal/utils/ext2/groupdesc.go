package ext2

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// GroupDescriptorSize is the on-disk size of one block group descriptor
const GroupDescriptorSize = 32

// GroupDescriptor describes one block group
type GroupDescriptor struct {
	BlockBitmap     uint32   // Block number of the block usage bitmap
	InodeBitmap     uint32   // Block number of the inode usage bitmap
	InodeTable      uint32   // First block of the group's inode table
	FreeBlocksCount uint16   // Free blocks in the group
	FreeInodesCount uint16   // Free inodes in the group
	UsedDirsCount   uint16   // Directories in the group
	Pad             uint16   // Alignment
	Reserved        [12]byte // Unused
}

// bgdtBlocks returns how many blocks a table of n descriptors spans
func bgdtBlocks(n, blockSize uint32) uint32 {
	return (n*GroupDescriptorSize + blockSize - 1) / blockSize
}

func decodeGroupDescriptors(data []byte, n uint32) ([]GroupDescriptor, error) {
	if uint64(len(data)) < uint64(n)*GroupDescriptorSize {
		return nil, fmt.Errorf("descriptor table needs %d bytes, got %d", n*GroupDescriptorSize, len(data))
	}
	descs := make([]GroupDescriptor, n)
	if err := binary.Read(bytes.NewReader(data[:n*GroupDescriptorSize]), binary.LittleEndian, descs); err != nil {
		return nil, err
	}
	return descs, nil
}

func encodeGroupDescriptors(descs []GroupDescriptor) []byte {
	var buf bytes.Buffer
	buf.Grow(len(descs) * GroupDescriptorSize)
	// Writes into a bytes.Buffer of fixed-size records cannot fail
	_ = binary.Write(&buf, binary.LittleEndian, descs)
	return buf.Bytes()
}
