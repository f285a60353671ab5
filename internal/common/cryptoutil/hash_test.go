package cryptoutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownDigests(t *testing.T) {
	// digests of the empty input
	for alg, want := range map[HashAlgorithm]string{
		MD5:        "d41d8cd98f00b204e9800998ecf8427e",
		SHA1:       "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		SHA256:     "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		BLAKE2b256: "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		SHA3_256:   "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a",
	} {
		t.Run(string(alg), func(t *testing.T) {
			h, err := NewHasher(alg)
			require.NoError(t, err)
			assert.Equal(t, want, h.Hash(nil))
			assert.True(t, h.Verify(nil, strings.ToUpper(want)))
		})
	}
}

func TestHashReaderMatchesWriter(t *testing.T) {
	data := bytes.Repeat([]byte{0xEF, 0x53}, 4096)

	for _, name := range Algorithms() {
		h, err := NewHasher(HashAlgorithm(name))
		require.NoError(t, err)

		fromReader, err := h.HashReader(bytes.NewReader(data))
		require.NoError(t, err)

		w := h.NewHashWriter()
		var sink bytes.Buffer
		_, err = w.Tee(&sink).Write(data)
		require.NoError(t, err)

		assert.Equal(t, fromReader, w.SumHex(), name)
		assert.Equal(t, h.Hash(data), fromReader, name)
		assert.Equal(t, data, sink.Bytes())
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inode12.bin")
	require.NoError(t, os.WriteFile(path, []byte("lost+found"), 0644))

	h, err := NewHasher("SHA3-256")
	require.NoError(t, err)
	assert.Equal(t, SHA3_256, h.Algorithm())

	sum, err := h.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, h.Hash([]byte("lost+found")), sum)

	_, err = h.HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := NewHasher("crc32")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = NewHashWriter("whirlpool")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestParseHashWithAlgorithm(t *testing.T) {
	sum, alg := ParseHashWithAlgorithm("blake2b-256:abcd")
	assert.Equal(t, "abcd", sum)
	assert.Equal(t, BLAKE2b256, alg)

	sum, alg = ParseHashWithAlgorithm("crc:abcd")
	assert.Equal(t, "crc:abcd", sum)
	assert.Empty(t, alg)
}

func TestAlgorithmsSorted(t *testing.T) {
	assert.Equal(t, []string{"blake2b-256", "md5", "sha1", "sha256", "sha3-256", "sha512"}, Algorithms())
}
