// src/parsers/factory.go
package parsers

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/00vip7-stack/hedge-dashboard/src/parsers/delimited"
)

func GetDecoder(format string) (Decoder, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "csv", "text/csv", "application/csv":
		return delimited.NewDecoder(','), nil
	case "tsv", "txt", "text/tab-separated-values":
		return delimited.NewDecoder('\t'), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// DecoderForFile picks a decoder from the file extension.
func DecoderForFile(filename string) (Decoder, error) {
	ext := filepath.Ext(filename)
	if ext == "" {
		return nil, fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, filename)
	}
	return GetDecoder(ext)
}
