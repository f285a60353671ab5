package vdi

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	// ImageSignature identifies a VirtualBox disk image
	ImageSignature = 0xBEDA107F

	// HeaderRecordSize is the size of the fixed header record at offset 0
	HeaderRecordSize = 512

	// HeaderSizeField is the value written to Header.HeaderSize: the part of
	// the record following the pre-header (signature, magic and version)
	HeaderSizeField = 0x190

	// Image types
	ImageTypeDynamic = 1
	ImageTypeFixed   = 2

	// Translation map sentinels
	BlockFree = 0xFFFFFFFF // never allocated
	BlockZero = 0xFFFFFFFE // allocated as zero, no backing storage

	// DefaultBlockSize is the block size VirtualBox uses for new images
	DefaultBlockSize = 1 << 20

	sectorSize = 512
)

const defaultSignature = "<<< Oracle VM VirtualBox Disk Image >>>\n"

// Header is the fixed, little-endian record at the start of every image
type Header struct {
	Signature       [64]byte  // Human readable banner
	ImageSignature  uint32    // Must equal ImageSignature
	VersionMinor    uint16    // Format minor version
	VersionMajor    uint16    // Format major version
	HeaderSize      uint32    // Size of the header following the pre-header
	ImageType       uint32    // ImageTypeDynamic or fixed
	Flags           uint32    // Image flags
	Description     [256]byte // Free-form description
	OffsetBlocks    uint32    // Byte offset of the translation map
	OffsetData      uint32    // Byte offset of block data
	Cylinders       uint32    // Legacy geometry
	Heads           uint32    // Legacy geometry
	Sectors         uint32    // Legacy geometry
	SectorSize      uint32    // Legacy geometry
	Unused1         uint32    // Unused
	DiskSize        uint64    // Logical disk size in bytes
	BlockSize       uint32    // Size of one image block
	BlockExtraData  uint32    // Per-block prefix stored before each block's data
	BlocksInHDD     uint32    // Number of logical blocks
	BlocksAllocated uint32    // Number of physical blocks written so far
	UUIDImage       uuid.UUID // Image identity
	UUIDLastSnap    uuid.UUID // Last snapshot
	UUIDLink        uuid.UUID // Link
	UUIDParent      uuid.UUID // Parent image for differencing disks
	Reserved        [56]byte  // Padding to HeaderRecordSize
}

// IsDynamic reports whether the image carries a translation map
func (h *Header) IsDynamic() bool {
	return h.ImageType == ImageTypeDynamic
}

// blockStride is the distance between consecutive physical blocks
func (h *Header) blockStride() int64 {
	return int64(h.BlockSize) + int64(h.BlockExtraData)
}

// physicalOffset returns the file offset of byte intra inside physical block phys
func (h *Header) physicalOffset(phys uint32, intra int64) int64 {
	return int64(h.OffsetData) + int64(phys)*h.blockStride() + int64(h.BlockExtraData) + intra
}

// MarshalBinary encodes the header record
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderRecordSize))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes the header record
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderRecordSize {
		return fmt.Errorf("header record needs %d bytes, got %d", HeaderRecordSize, len(data))
	}
	return binary.Read(bytes.NewReader(data[:HeaderRecordSize]), binary.LittleEndian, h)
}

// validate checks the structural invariants that do not need the
// translation map. fileSize is the size of the backing file.
func (h *Header) validate(fileSize int64) error {
	if h.ImageSignature != ImageSignature {
		return fmt.Errorf("image signature 0x%08X", h.ImageSignature)
	}
	if h.BlockSize == 0 || h.BlockSize&(h.BlockSize-1) != 0 {
		return fmt.Errorf("block size %d is not a power of two", h.BlockSize)
	}
	if h.DiskSize == 0 {
		return fmt.Errorf("disk size is zero")
	}
	needed := (h.DiskSize + uint64(h.BlockSize) - 1) / uint64(h.BlockSize)
	if uint64(h.BlocksInHDD) < needed {
		return fmt.Errorf("%d blocks cannot hold %d bytes", h.BlocksInHDD, h.DiskSize)
	}
	if h.BlocksAllocated > h.BlocksInHDD {
		return fmt.Errorf("%d blocks allocated of %d", h.BlocksAllocated, h.BlocksInHDD)
	}
	if end := int64(h.OffsetData) + int64(h.BlocksAllocated)*h.blockStride(); end > fileSize {
		return fmt.Errorf("allocated data ends at %d past file size %d", end, fileSize)
	}
	if h.IsDynamic() && int64(h.OffsetBlocks)+int64(h.BlocksInHDD)*4 > fileSize {
		return fmt.Errorf("translation map at %d exceeds file size %d", h.OffsetBlocks, fileSize)
	}
	return nil
}

// newHeader fills in a header for a freshly created image
func newHeader(diskSize uint64, blockSize uint32, imageType uint32, description string) Header {
	blocks := uint32((diskSize + uint64(blockSize) - 1) / uint64(blockSize))
	offsetBlocks := uint32(HeaderRecordSize)
	mapBytes := uint32(blocks) * 4
	offsetData := alignUp(offsetBlocks+mapBytes, sectorSize)

	h := Header{
		ImageSignature: ImageSignature,
		VersionMinor:   1,
		VersionMajor:   1,
		HeaderSize:     HeaderSizeField,
		ImageType:      imageType,
		OffsetBlocks:   offsetBlocks,
		OffsetData:     offsetData,
		Heads:          16,
		Sectors:        63,
		SectorSize:     sectorSize,
		DiskSize:       diskSize,
		BlockSize:      blockSize,
		BlocksInHDD:    blocks,
		UUIDImage:      uuid.New(),
		UUIDLastSnap:   uuid.New(),
	}
	h.Cylinders = uint32(diskSize / (sectorSize * uint64(h.Heads) * uint64(h.Sectors)))
	copy(h.Signature[:], defaultSignature)
	copy(h.Description[:], description)
	return h
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) / align * align
}
