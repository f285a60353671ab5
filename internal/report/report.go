// Package report renders inspection results as JSON or property lists
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"howett.net/plist"
)

// Format selects the report encoding
type Format int

const (
	// FormatJSON is indented JSON
	FormatJSON Format = iota
	// FormatXML is an XML property list
	FormatXML
	// FormatBinary is a binary property list
	FormatBinary
)

// ParseFormat converts a configuration value to a Format
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return FormatJSON, nil
	case "xml", "plist":
		return FormatXML, nil
	case "binary", "bplist":
		return FormatBinary, nil
	default:
		return FormatJSON, fmt.Errorf("unsupported report format: %q", name)
	}
}

// String implements fmt.Stringer
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatXML:
		return "xml"
	case FormatBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Encode writes v to w in the given format
func Encode(w io.Writer, format Format, v interface{}) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatXML:
		enc := plist.NewEncoderForFormat(w, plist.XMLFormat)
		enc.Indent("\t")
		return enc.Encode(v)
	case FormatBinary:
		return plist.NewEncoderForFormat(w, plist.BinaryFormat).Encode(v)
	default:
		return fmt.Errorf("unsupported report format: %d", format)
	}
}

// Decode reads a report written by Encode. Property list input is detected
// automatically.
func Decode(r io.ReadSeeker, format Format, v interface{}) error {
	if format == FormatJSON {
		return json.NewDecoder(r).Decode(v)
	}
	return plist.NewDecoder(r).Decode(v)
}
