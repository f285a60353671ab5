package cryptoutil

import (
	"hash"
	"io"
)

// HashWriter implements io.Writer and provides methods to access the underlying hash
type HashWriter struct {
	algorithm HashAlgorithm
	hash      hash.Hash
}

// NewHashWriter creates a new HashWriter with the given hash algorithm
func NewHashWriter(algorithm HashAlgorithm) (*HashWriter, error) {
	hasher, err := NewHasher(algorithm)
	if err != nil {
		return nil, err
	}
	return hasher.NewHashWriter(), nil
}

// Write implements io.Writer
func (hw *HashWriter) Write(p []byte) (n int, err error) {
	return hw.hash.Write(p)
}

// Algorithm returns the algorithm the writer computes
func (hw *HashWriter) Algorithm() HashAlgorithm {
	return hw.algorithm
}

// SumHex returns the current hash value as a hex-encoded string
func (hw *HashWriter) SumHex() string {
	return Bytes2Hex(hw.hash.Sum(nil))
}

// Reset resets the hash state
func (hw *HashWriter) Reset() {
	hw.hash.Reset()
}

// Tee returns a writer that copies everything to w and into the digest
func (hw *HashWriter) Tee(w io.Writer) io.Writer {
	return io.MultiWriter(w, hw)
}
