// Package mbr decodes the classic four-entry partition table and exposes one
// partition of a disk as a bounded, partition-relative byte stream.
package mbr

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
)

const (
	// SectorSize is the addressing unit of partition entries
	SectorSize = 512

	// TableOffset is the byte offset of the first entry inside sector 0
	TableOffset = 446

	// EntrySize is the size of one partition entry
	EntrySize = 16

	// NumEntries is the number of primary partition entries
	NumEntries = 4

	// TypeLinux marks a native Linux filesystem partition
	TypeLinux = 0x83

	bootSignatureOffset = 510
	bootSignature       = 0xAA55
)

// Device is the random-access storage a partition table lives on
type Device interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

// Entry is one partition table record
type Entry struct {
	Status       uint8    // 0x80 = bootable
	FirstCHS     [3]uint8 // Legacy geometry, not used for addressing
	Type         uint8    // Partition type
	LastCHS      [3]uint8 // Legacy geometry, not used for addressing
	FirstSector  uint32   // LBA of the first sector
	TotalSectors uint32   // Number of sectors
}

// Offset returns the partition's byte offset on the device
func (e Entry) Offset() int64 {
	return int64(e.FirstSector) * SectorSize
}

// Length returns the partition's size in bytes
func (e Entry) Length() int64 {
	return int64(e.TotalSectors) * SectorSize
}

// IsEmpty reports whether the slot is unused
func (e Entry) IsEmpty() bool {
	return e.Type == 0 && e.TotalSectors == 0
}

// Table is the decoded partition table of sector 0
type Table struct {
	Entries       [NumEntries]Entry
	BootSignature uint16
}

// HasBootSignature reports whether sector 0 ends with 0x55AA
func (t *Table) HasBootSignature() bool {
	return t.BootSignature == bootSignature
}

// FindType returns the index of the first entry with the given type, or -1
func (t *Table) FindType(partType uint8) int {
	for i, e := range t.Entries {
		if e.Type == partType && !e.IsEmpty() {
			return i
		}
	}
	return -1
}

// ReadTable reads and decodes sector 0 of dev
func ReadTable(dev Device) (*Table, error) {
	sector := make([]byte, SectorSize)
	if n, err := dev.ReadAt(sector, 0); n != SectorSize {
		// the device's own error is returned unchanged
		if err == nil {
			err = errors.Newf(errors.ErrIOFailure, "ReadTable", "sector 0", "read %d bytes", n)
		}
		return nil, err
	}
	return DecodeTable(sector)
}

// DecodeTable decodes the partition table part of a 512-byte sector
func DecodeTable(sector []byte) (*Table, error) {
	if len(sector) < SectorSize {
		return nil, errors.Newf(errors.ErrBadHeader, "DecodeTable", "", "sector has %d bytes", len(sector))
	}

	t := &Table{}
	for i := range t.Entries {
		raw := sector[TableOffset+i*EntrySize:]
		e := &t.Entries[i]
		e.Status = raw[0]
		copy(e.FirstCHS[:], raw[1:4])
		e.Type = raw[4]
		copy(e.LastCHS[:], raw[5:8])
		e.FirstSector = binary.LittleEndian.Uint32(raw[8:12])
		e.TotalSectors = binary.LittleEndian.Uint32(raw[12:16])
	}
	t.BootSignature = binary.LittleEndian.Uint16(sector[bootSignatureOffset:])
	return t, nil
}

// Encode writes the table into a 512-byte sector, leaving the boot code
// area untouched
func (t *Table) Encode(sector []byte) {
	for i, e := range t.Entries {
		raw := sector[TableOffset+i*EntrySize:]
		raw[0] = e.Status
		copy(raw[1:4], e.FirstCHS[:])
		raw[4] = e.Type
		copy(raw[5:8], e.LastCHS[:])
		binary.LittleEndian.PutUint32(raw[8:12], e.FirstSector)
		binary.LittleEndian.PutUint32(raw[12:16], e.TotalSectors)
	}
	binary.LittleEndian.PutUint16(sector[bootSignatureOffset:], t.BootSignature)
}

// WriteTable writes t to sector 0 of dev, preserving the boot code
func WriteTable(dev Device, t *Table) error {
	sector := make([]byte, SectorSize)
	if n, err := dev.ReadAt(sector, 0); n != SectorSize {
		if err == nil {
			err = errors.Newf(errors.ErrIOFailure, "WriteTable", "sector 0", "read %d bytes", n)
		}
		return err
	}
	if t.BootSignature == 0 {
		t.BootSignature = bootSignature
	}
	t.Encode(sector)
	_, err := dev.WriteAt(sector, 0)
	return err
}

// String implements fmt.Stringer
func (e Entry) String() string {
	return fmt.Sprintf("type 0x%02X start %d sectors %d", e.Type, e.FirstSector, e.TotalSectors)
}
