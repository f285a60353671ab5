package cmd

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vdi-inspector/internal/config"
	"github.com/deploymenttheory/go-vdi-inspector/internal/report"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/errors"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2"
	"github.com/deploymenttheory/go-vdi-inspector/internal/utils/ext2/ext2test"
	"github.com/deploymenttheory/go-vdi-inspector/pkg/tooling"
)

func TestMain(m *testing.M) {
	if err := config.Initialize(""); err != nil {
		panic(err)
	}
	if err := tooling.Initialize(tooling.InitOptions{SuppressLog: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func buildImage(t *testing.T) (string, *ext2test.Layout) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evidence.vdi")
	layout, err := ext2test.Build(path, ext2test.Options{Label: "case-42"})
	require.NoError(t, err)
	return path, layout
}

// run executes the CLI. Cobra keeps flag values between runs, so callers
// pass every flag they rely on.
func run(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	return &out, rootCmd.Execute()
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "vdi-inspector v"+tooling.Version+"\n", out.String())
}

func TestInfoCommand(t *testing.T) {
	path, layout := buildImage(t)

	out, err := run(t, "info", "--image", path, "--partition=-1", "--format", "json")
	require.NoError(t, err)

	var r report.VolumeReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	assert.Equal(t, "case-42", r.Filesystem.Label)
	assert.Equal(t, layout.Superblock.InodesCount, r.Filesystem.InodesCount)
	assert.Len(t, r.Filesystem.Groups, len(layout.Groups))
}

func TestStatCommandPlist(t *testing.T) {
	path, _ := buildImage(t)

	out, err := run(t, "stat", "2", "--image", path, "--partition=-1", "--format", "xml")
	require.NoError(t, err)

	var r report.InodeReport
	require.NoError(t, report.Decode(bytes.NewReader(out.Bytes()), report.FormatXML, &r))
	assert.Equal(t, uint32(ext2.RootInode), r.Number)
	assert.True(t, r.InUse)
	assert.Equal(t, "dir", r.Type)
}

func TestStatCommandBadInode(t *testing.T) {
	path, _ := buildImage(t)

	_, err := run(t, "stat", "root", "--image", path, "--partition=-1", "--format", "json")
	assert.Error(t, err)

	_, err = run(t, "stat", "0", "--image", path, "--partition=-1", "--format", "json")
	assert.ErrorIs(t, err, errors.ErrOutOfRange)
}

func TestBlocksCommand(t *testing.T) {
	path, layout := buildImage(t)

	out, err := run(t, "blocks", "2", "--image", path, "--partition=-1", "--format", "json")
	require.NoError(t, err)

	var r report.BlockMapReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	require.Len(t, r.Blocks, 1)
	assert.Equal(t, layout.RootDirBlock, r.Blocks[0].Physical)
}

func TestCatCommand(t *testing.T) {
	path, layout := buildImage(t)
	dst := filepath.Join(t.TempDir(), "root.bin")

	out, err := run(t, "cat", "2", "--image", path, "--partition=-1", "--format", "json", "--out", dst, "--hash", "sha256")
	require.NoError(t, err)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, layout.RootDirData, data)

	var r report.ExtractReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	sum := sha256.Sum256(layout.RootDirData)
	assert.Equal(t, hex.EncodeToString(sum[:]), r.Digest)
	assert.Equal(t, dst, r.Output)

	// without --out the data itself goes to stdout
	out, err = run(t, "cat", "2", "--image", path, "--partition=-1", "--out=", "--hash=")
	require.NoError(t, err)
	assert.Equal(t, layout.RootDirData, out.Bytes())
}

func TestCheckCommand(t *testing.T) {
	path, layout := buildImage(t)

	out, err := run(t, "check", "--image", path, "--partition=-1", "--format", "json")
	require.NoError(t, err)
	var r report.CheckReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	assert.True(t, r.Consistent)

	vol, err := ext2.Open(path)
	require.NoError(t, err)
	d := layout.Groups[0]
	d.FreeInodesCount--
	require.NoError(t, vol.WriteGroupDescriptor(vol.BGDTStart(), 0, d))
	require.NoError(t, vol.Close())

	out, err = run(t, "check", "--image", path, "--partition=-1", "--format", "json")
	assert.ErrorIs(t, err, errors.ErrInconsistent)
	r = report.CheckReport{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	assert.False(t, r.Consistent)
	assert.Len(t, r.Mismatches, 2)
}

func TestMissingImage(t *testing.T) {
	config.Instance.Image.Path = ""
	_, err := run(t, "info", "--image=", "--format", "json")
	assert.Error(t, err)
}
