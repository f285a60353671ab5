// Package cryptoutil computes content digests of data read out of disk images
package cryptoutil

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// ErrUnsupportedAlgorithm is returned for algorithm names outside the registry
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// Bytes2Hex encodes a byte slice to hex string
func Bytes2Hex(d []byte) string {
	return hex.EncodeToString(d)
}

// HashAlgorithm represents supported hash algorithms
type HashAlgorithm string

const (
	// MD5 algorithm, kept for matching legacy evidence manifests
	MD5 HashAlgorithm = "md5"

	// SHA1 algorithm, kept for matching legacy evidence manifests
	SHA1 HashAlgorithm = "sha1"

	SHA256 HashAlgorithm = "sha256"
	SHA512 HashAlgorithm = "sha512"

	// BLAKE2b256 is BLAKE2b with a 32 byte digest
	BLAKE2b256 HashAlgorithm = "blake2b-256"

	SHA3_256 HashAlgorithm = "sha3-256"
)

var registry = map[HashAlgorithm]func() hash.Hash{
	MD5:    md5.New,
	SHA1:   sha1.New,
	SHA256: sha256.New,
	SHA512: sha512.New,
	BLAKE2b256: func() hash.Hash {
		// New256 only fails for keys longer than 64 bytes
		h, _ := blake2b.New256(nil)
		return h
	},
	SHA3_256: sha3.New256,
}

// Algorithms lists the supported algorithm names in sorted order
func Algorithms() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Hasher provides hashing operations for one algorithm
type Hasher interface {
	// Algorithm returns the algorithm this hasher computes
	Algorithm() HashAlgorithm

	// Hash hashes the provided data
	Hash(data []byte) string

	// HashFile hashes the content of a file
	HashFile(path string) (string, error)

	// HashReader hashes data from a reader
	HashReader(reader io.Reader) (string, error)

	// NewHashWriter creates a writer for streaming hash calculation
	NewHashWriter() *HashWriter

	// Verify checks if the provided hash matches the calculated hash for the data
	Verify(data []byte, expectedHash string) bool
}

type hasherImpl struct {
	algorithm HashAlgorithm
	newHash   func() hash.Hash
}

// NewHasher creates a new Hasher for the specified algorithm. Names are
// matched case-insensitively.
func NewHasher(algorithm HashAlgorithm) (Hasher, error) {
	algorithm = HashAlgorithm(strings.ToLower(string(algorithm)))
	newHashFunc, ok := registry[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedAlgorithm, algorithm)
	}

	return &hasherImpl{
		algorithm: algorithm,
		newHash:   newHashFunc,
	}, nil
}

func (h *hasherImpl) Algorithm() HashAlgorithm {
	return h.algorithm
}

func (h *hasherImpl) Hash(data []byte) string {
	hasher := h.newHash()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

func (h *hasherImpl) HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return h.HashReader(file)
}

func (h *hasherImpl) HashReader(reader io.Reader) (string, error) {
	hasher := h.newHash()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("hash operation failed: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (h *hasherImpl) NewHashWriter() *HashWriter {
	return &HashWriter{algorithm: h.algorithm, hash: h.newHash()}
}

func (h *hasherImpl) Verify(data []byte, expectedHash string) bool {
	return strings.EqualFold(h.Hash(data), expectedHash)
}

// ParseHashWithAlgorithm parses a hash string that might include the algorithm as a prefix
// Example formats: "sha256:1234abcd..." or "1234abcd..."
func ParseHashWithAlgorithm(hashStr string) (string, HashAlgorithm) {
	parts := strings.SplitN(hashStr, ":", 2)
	if len(parts) == 2 {
		algorithm := HashAlgorithm(strings.ToLower(parts[0]))
		if _, ok := registry[algorithm]; ok {
			return parts[1], algorithm
		}
	}

	return hashStr, ""
}
