package report

import (
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2"
)

// ImageReport describes the disk image container
type ImageReport struct {
	Path            string `json:"path" plist:"path"`
	Dynamic         bool   `json:"dynamic" plist:"dynamic"`
	DiskSize        uint64 `json:"disk_size" plist:"disk_size"`
	BlockSize       uint32 `json:"block_size" plist:"block_size"`
	BlocksInHDD     uint32 `json:"blocks" plist:"blocks"`
	BlocksAllocated uint32 `json:"blocks_allocated" plist:"blocks_allocated"`
	UUID            string `json:"uuid" plist:"uuid"`
}

// PartitionReport describes the partition the filesystem lives in
type PartitionReport struct {
	Index  int   `json:"index" plist:"index"`
	Type   uint8 `json:"type" plist:"type"`
	Offset int64 `json:"offset" plist:"offset"`
	Size   int64 `json:"size" plist:"size"`
	Status uint8 `json:"status" plist:"status"`
}

// GroupReport is one block group descriptor
type GroupReport struct {
	Group           uint32 `json:"group" plist:"group"`
	FirstBlock      uint32 `json:"first_block" plist:"first_block"`
	BlockBitmap     uint32 `json:"block_bitmap" plist:"block_bitmap"`
	InodeBitmap     uint32 `json:"inode_bitmap" plist:"inode_bitmap"`
	InodeTable      uint32 `json:"inode_table" plist:"inode_table"`
	FreeBlocksCount uint16 `json:"free_blocks" plist:"free_blocks"`
	FreeInodesCount uint16 `json:"free_inodes" plist:"free_inodes"`
	UsedDirsCount   uint16 `json:"used_dirs" plist:"used_dirs"`
	Backup          bool   `json:"backup_superblock" plist:"backup_superblock"`
}

// FilesystemReport summarises the superblock
type FilesystemReport struct {
	Label           string        `json:"label" plist:"label"`
	UUID            string        `json:"uuid" plist:"uuid"`
	Revision        uint32        `json:"revision" plist:"revision"`
	BlockSize       uint32        `json:"block_size" plist:"block_size"`
	InodeSize       uint32        `json:"inode_size" plist:"inode_size"`
	BlocksCount     uint32        `json:"blocks" plist:"blocks"`
	FreeBlocksCount uint32        `json:"free_blocks" plist:"free_blocks"`
	InodesCount     uint32        `json:"inodes" plist:"inodes"`
	FreeInodesCount uint32        `json:"free_inodes" plist:"free_inodes"`
	FirstDataBlock  uint32        `json:"first_data_block" plist:"first_data_block"`
	BlocksPerGroup  uint32        `json:"blocks_per_group" plist:"blocks_per_group"`
	InodesPerGroup  uint32        `json:"inodes_per_group" plist:"inodes_per_group"`
	FeatureCompat   uint32        `json:"feature_compat" plist:"feature_compat"`
	FeatureIncompat uint32        `json:"feature_incompat" plist:"feature_incompat"`
	FeatureROCompat uint32        `json:"feature_ro_compat" plist:"feature_ro_compat"`
	Groups          []GroupReport `json:"groups" plist:"groups"`
}

// VolumeReport is the output of the info command
type VolumeReport struct {
	Image      *ImageReport     `json:"image,omitempty" plist:"image,omitempty"`
	Partition  *PartitionReport `json:"partition,omitempty" plist:"partition,omitempty"`
	Filesystem FilesystemReport `json:"filesystem" plist:"filesystem"`
}

// NewVolumeReport collects the state of the volume behind table
func NewVolumeReport(table *ext2.InodeTable) VolumeReport {
	vol := table.Volume()
	sb := vol.Superblock()

	var r VolumeReport
	if disk := vol.Disk(); disk != nil {
		st := disk.Stat()
		r.Image = &ImageReport{
			Path:            disk.Path(),
			Dynamic:         st.Dynamic,
			DiskSize:        st.DiskSize,
			BlockSize:       st.BlockSize,
			BlocksInHDD:     st.BlocksInHDD,
			BlocksAllocated: st.BlocksAllocated,
			UUID:            disk.Header().UUIDImage.String(),
		}
	}
	if p := vol.Partition(); p != nil {
		e := p.Entry()
		r.Partition = &PartitionReport{
			Index:  p.Index(),
			Type:   e.Type,
			Offset: p.Offset(),
			Size:   p.Size(),
			Status: e.Status,
		}
	}

	r.Filesystem = FilesystemReport{
		Label:           sb.Label(),
		UUID:            sb.UUID.String(),
		Revision:        sb.RevLevel,
		BlockSize:       sb.BlockSize(),
		InodeSize:       sb.InodeRecordSize(),
		BlocksCount:     sb.BlocksCount,
		FreeBlocksCount: sb.FreeBlocksCount,
		InodesCount:     sb.InodesCount,
		FreeInodesCount: sb.FreeInodesCount,
		FirstDataBlock:  sb.FirstDataBlock,
		BlocksPerGroup:  sb.BlocksPerGroup,
		InodesPerGroup:  sb.InodesPerGroup,
		FeatureCompat:   sb.FeatureCompat,
		FeatureIncompat: sb.FeatureIncompat,
		FeatureROCompat: sb.FeatureROCompat,
	}
	for g, d := range table.GroupDescriptors() {
		r.Filesystem.Groups = append(r.Filesystem.Groups, GroupReport{
			Group:           uint32(g),
			FirstBlock:      sb.GroupFirstBlock(uint32(g)),
			BlockBitmap:     d.BlockBitmap,
			InodeBitmap:     d.InodeBitmap,
			InodeTable:      d.InodeTable,
			FreeBlocksCount: d.FreeBlocksCount,
			FreeInodesCount: d.FreeInodesCount,
			UsedDirsCount:   d.UsedDirsCount,
			Backup:          sb.HasBackup(uint32(g)),
		})
	}
	return r
}
