package compression

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// NewReader wraps r with the decompressor for format
func NewReader(format Format, r io.Reader) (io.ReadCloser, error) {
	switch format {
	case FormatXZ:
		xzReader, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xzReader), nil
	case FormatBZIP2:
		return bzip2.NewReader(r, nil)
	case FormatGZIP:
		return gzip.NewReader(r)
	default:
		return nil, fmt.Errorf("unsupported compression format: %q", format)
	}
}

// NewWriter wraps w with the compressor for format
func NewWriter(format Format, w io.Writer) (io.WriteCloser, error) {
	switch format {
	case FormatXZ:
		return xz.NewWriter(w)
	case FormatBZIP2:
		return bzip2.NewWriter(w, nil)
	case FormatGZIP:
		return gzip.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression format: %q", format)
	}
}

// Compress writes a compressed copy of src to dst
func Compress(format Format, src, dst string) error {
	inputFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer inputFile.Close()

	outputFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer outputFile.Close()

	writer, err := NewWriter(format, outputFile)
	if err != nil {
		return err
	}

	if _, err := io.Copy(writer, inputFile); err != nil {
		writer.Close()
		return fmt.Errorf("failed to compress file: %w", err)
	}
	// the trailer is only written on Close
	return writer.Close()
}

// Extract decompresses src into dst
func Extract(format Format, src, dst string) error {
	inputFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer inputFile.Close()

	reader, err := NewReader(format, inputFile)
	if err != nil {
		return err
	}
	defer reader.Close()

	outputFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer outputFile.Close()

	if _, err := io.Copy(outputFile, reader); err != nil {
		return fmt.Errorf("failed to decompress file: %w", err)
	}
	return outputFile.Sync()
}
