package tooling_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	compression "github.com/deploymenttheory/go-vdi-inspector/internal/common/compressionutil"
	"github.com/deploymenttheory/go-vdi-inspector/internal/common/cryptoutil"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2/ext2test"
	"github.com/deploymenttheory/go-vdi-inspector/pkg/tooling"
)

func TestMain(m *testing.M) {
	if err := tooling.Initialize(tooling.InitOptions{SuppressLog: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func buildImage(t *testing.T) (string, *ext2test.Layout) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evidence.vdi")
	layout, err := ext2test.Build(path, ext2test.Options{})
	require.NoError(t, err)
	return path, layout
}

func openSession(t *testing.T, path string, opts tooling.OpenOptions) *tooling.Session {
	t.Helper()
	s, err := tooling.Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionInfoAndStat(t *testing.T) {
	path, layout := buildImage(t)
	s := openSession(t, path, tooling.OpenOptions{Partition: ext2.AutoPartition, ReadOnly: true})

	info := s.Info()
	require.NotNil(t, info.Image)
	assert.Equal(t, path, info.Image.Path)
	assert.Equal(t, layout.Superblock.BlocksCount, info.Filesystem.BlocksCount)

	st, err := s.Stat(ext2.RootInode)
	require.NoError(t, err)
	assert.Equal(t, "dir", st.Type)
	assert.Equal(t, layout.RootDirBlock, st.Block[0])

	bm, err := s.BlockMap(ext2.RootInode)
	require.NoError(t, err)
	require.Len(t, bm.Blocks, 1)
	assert.Equal(t, layout.RootDirBlock, bm.Blocks[0].Physical)

	check, err := s.Check()
	require.NoError(t, err)
	assert.True(t, check.Consistent)
}

func TestSessionExtractInode(t *testing.T) {
	path, layout := buildImage(t)
	s := openSession(t, path, tooling.OpenOptions{Partition: ext2.AutoPartition, ReadOnly: true})

	var out bytes.Buffer
	r, err := s.ExtractInode(ext2.RootInode, &out, cryptoutil.SHA256)
	require.NoError(t, err)
	assert.Equal(t, layout.RootDirData, out.Bytes())
	assert.Equal(t, int64(len(layout.RootDirData)), r.Bytes)

	sum := sha256.Sum256(layout.RootDirData)
	assert.Equal(t, hex.EncodeToString(sum[:]), r.Digest)
	assert.Equal(t, "sha256", r.Algorithm)

	out.Reset()
	r, err = s.ExtractInode(ext2.RootInode, &out, "")
	require.NoError(t, err)
	assert.Empty(t, r.Digest)

	_, err = s.ExtractInode(ext2.RootInode, &out, "crc32")
	assert.ErrorIs(t, err, cryptoutil.ErrUnsupportedAlgorithm)

	_, err = s.ExtractInode(50, &out, "")
	assert.ErrorIs(t, err, errors.ErrUnallocated)
}

func TestSessionReadOnlyRefusesWrites(t *testing.T) {
	path, _ := buildImage(t)
	s := openSession(t, path, tooling.OpenOptions{Partition: ext2.AutoPartition, ReadOnly: true})

	_, err := s.Table().AllocateInode(ext2.AnyGroup)
	assert.ErrorIs(t, err, errors.ErrReadOnly)
}

func TestOpenCompressedImage(t *testing.T) {
	path, layout := buildImage(t)
	packed := path + ".xz"
	require.NoError(t, compression.Compress(compression.FormatXZ, path, packed))

	workDir := filepath.Join(t.TempDir(), "work")
	s := openSession(t, packed, tooling.OpenOptions{Partition: ext2.AutoPartition, ReadOnly: true, WorkDir: workDir})
	assert.Equal(t, filepath.Join(workDir, "evidence.vdi"), s.Path())
	assert.Equal(t, layout.Superblock.UUID, s.Volume().Superblock().UUID)
}

func TestOpenMissingImage(t *testing.T) {
	_, err := tooling.Open(filepath.Join(t.TempDir(), "absent.vdi"), tooling.OpenOptions{Partition: ext2.AutoPartition})
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestGetVersion(t *testing.T) {
	assert.Equal(t, tooling.Version, tooling.GetVersion())
}
