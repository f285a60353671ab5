package tooling

import (
	"fmt"
	"io"

	compression "github.com/deploymenttheory/go-vdi-inspector/internal/common/compressionutil"
	"github.com/deploymenttheory/go-vdi-inspector/internal/common/cryptoutil"
	"github.com/deploymenttheory/go-vdi-inspector/internal/config"
	"github.com/deploymenttheory/go-vdi-inspector/internal/logger"
	"github.com/deploymenttheory/go-vdi-inspector/internal/report"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2"
)

// OpenOptions controls how an image is opened
type OpenOptions struct {
	Partition int    // partition slot, or ext2.AutoPartition
	ReadOnly  bool   // refuse every write to the image
	WorkDir   string // where compressed images are expanded
}

// DefaultOpenOptions returns the options held in the configuration
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		Partition: config.Instance.Image.Partition,
		ReadOnly:  config.Instance.Image.ReadOnly,
		WorkDir:   config.Instance.Image.WorkDir,
	}
}

// Session is an opened filesystem inside a disk image
type Session struct {
	path     string
	vol      *ext2.Volume
	table    *ext2.InodeTable
	resolver *ext2.Resolver
}

// Open expands the image if it is compressed, locates its filesystem and
// loads the group descriptor table
func Open(path string, opts OpenOptions) (*Session, error) {
	if err := ensureInitialized(); err != nil {
		return nil, err
	}

	imagePath, err := compression.Expand(path, opts.WorkDir)
	if err != nil {
		return nil, err
	}

	vol, err := ext2.OpenWithOptions(imagePath, ext2.OpenOptions{ReadOnly: opts.ReadOnly, Partition: opts.Partition})
	if err != nil {
		return nil, err
	}

	table, err := ext2.NewInodeTable(vol)
	if err != nil {
		vol.Close()
		return nil, err
	}

	sb := vol.Superblock()
	logger.LogInfo("Opened filesystem", map[string]interface{}{
		"image":      imagePath,
		"allocation": vol.Disk().Stat().String(),
		"partition":  vol.Partition().Index(),
		"block_size": vol.BlockSize(),
		"groups":     vol.GroupCount(),
		"label":      sb.Label(),
		"read_only":  opts.ReadOnly,
	})

	return &Session{
		path:     imagePath,
		vol:      vol,
		table:    table,
		resolver: ext2.NewResolver(table),
	}, nil
}

// Path returns the path of the opened, possibly expanded, image
func (s *Session) Path() string {
	return s.path
}

// Volume returns the underlying filesystem volume
func (s *Session) Volume() *ext2.Volume {
	return s.vol
}

// Table returns the inode table
func (s *Session) Table() *ext2.InodeTable {
	return s.table
}

// Resolver returns the block pointer resolver
func (s *Session) Resolver() *ext2.Resolver {
	return s.resolver
}

// Close releases the image
func (s *Session) Close() error {
	return s.vol.Close()
}

// Info reports the image, partition and filesystem state
func (s *Session) Info() report.VolumeReport {
	return report.NewVolumeReport(s.table)
}

// Stat reports one inode
func (s *Session) Stat(n uint32) (report.InodeReport, error) {
	return report.NewInodeReport(s.table, n)
}

// BlockMap reports where each block of an inode lives
func (s *Session) BlockMap(n uint32) (report.BlockMapReport, error) {
	return report.NewBlockMapReport(s.resolver, n)
}

// Check validates the free counters. The error wraps errors.ErrInconsistent
// when any counter disagrees.
func (s *Session) Check() (report.CheckReport, error) {
	mismatches, err := ext2.CheckCounters(s.table)
	r := report.NewCheckReport(mismatches)
	if err != nil {
		for _, m := range mismatches {
			logger.LogWarn("Counter mismatch", map[string]interface{}{
				"group":    m.Group,
				"counter":  m.Counter,
				"recorded": m.Recorded,
				"actual":   m.Actual,
			})
		}
	}
	return r, err
}

// ExtractInode copies an inode's bytes to w. A digest is computed alongside
// when algorithm is not empty.
func (s *Session) ExtractInode(n uint32, w io.Writer, algorithm cryptoutil.HashAlgorithm) (report.ExtractReport, error) {
	f, err := ext2.OpenFile(s.resolver, n)
	if err != nil {
		return report.ExtractReport{}, err
	}

	r := report.ExtractReport{Inode: n}
	var hw *cryptoutil.HashWriter
	if algorithm != "" {
		hw, err = cryptoutil.NewHashWriter(algorithm)
		if err != nil {
			return r, err
		}
		w = hw.Tee(w)
		r.Algorithm = string(hw.Algorithm())
	}

	r.Bytes, err = io.Copy(w, io.NewSectionReader(f, 0, f.Size()))
	if err != nil {
		return r, fmt.Errorf("failed to extract inode %d: %w", n, err)
	}
	if hw != nil {
		r.Digest = hw.SumHex()
	}

	logger.LogDebug("Extracted inode", map[string]interface{}{
		"inode":  n,
		"bytes":  r.Bytes,
		"digest": r.Digest,
	})
	return r, nil
}

// Inspect opens the image at path with the configured options and reports
// its volume state
func Inspect(path string) (*report.VolumeReport, error) {
	if err := ensureInitialized(); err != nil {
		return nil, err
	}

	s, err := Open(path, DefaultOpenOptions())
	if err != nil {
		return nil, err
	}
	defer s.Close()

	r := s.Info()
	return &r, nil
}

// ExtractInode copies inode n of the image at path to w using the
// configured options and digest algorithm
func ExtractInode(path string, n uint32, w io.Writer) (*report.ExtractReport, error) {
	if err := ensureInitialized(); err != nil {
		return nil, err
	}

	s, err := Open(path, DefaultOpenOptions())
	if err != nil {
		return nil, err
	}
	defer s.Close()

	r, err := s.ExtractInode(n, w, cryptoutil.HashAlgorithm(config.Instance.Extract.Hash))
	if err != nil {
		return nil, err
	}
	return &r, nil
}
