package validation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
)

// ErrUnsupportedFile marks uploads rejected before any parsing happens.
var ErrUnsupportedFile = errors.New("unsupported upload")

// AllowedClientContentTypes is a map for quick lookup of allowed client-declared MIME types.
var AllowedClientContentTypes = map[string]bool{
	"text/csv":                  true,
	"application/csv":           true,
	"text/tab-separated-values": true,
	"application/vnd.ms-excel":  true, // Excel labels CSV exports this way
	"text/plain":                true,
	"application/octet-stream":  true,
	"":                          true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": false, // .xlsx is not decoded
}

// ValidateClientContentType checks the Content-Type header provided by the client.
func ValidateClientContentType(contentType string) error {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if allowed, exists := AllowedClientContentTypes[mediaType]; !exists || !allowed {
		logger.L.Warn("Disallowed client-declared Content-Type", "contentType", contentType)
		return fmt.Errorf("%w: client-declared file type '%s' is not a delimited text file", ErrUnsupportedFile, contentType)
	}
	return nil
}

// ValidateFileContentByMagicBytes checks the actual file content signature (magic bytes).
// It returns the detected content type and rewinds the reader.
func ValidateFileContentByMagicBytes(file io.ReadSeeker) (string, error) {
	if file == nil {
		return "", fmt.Errorf("%w: file is nil", ErrUnsupportedFile)
	}

	buffer := make([]byte, 512)
	n, err := io.ReadFull(file, buffer)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("failed to read file for content type checking: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to reset file read pointer: %w", err)
	}
	return ValidateContentBytes(buffer[:n])
}

// ValidateContentBytes sniffs the head of an upload. Octet-stream stays
// allowed and the decoder has the final word on it.
func ValidateContentBytes(head []byte) (string, error) {
	if len(head) > 512 {
		head = head[:512]
	}
	detected := http.DetectContentType(head)
	detected = strings.ToLower(strings.Split(detected, ";")[0])

	allowedDetectedTypes := map[string]bool{
		"text/plain":               true,
		"text/csv":                 true,
		"application/csv":          true,
		"application/octet-stream": true,
	}
	if !allowedDetectedTypes[detected] {
		logger.L.Warn("Disallowed detected file content type (magic bytes)", "detectedContentType", detected)
		return detected, fmt.Errorf("%w: detected file content type '%s' is not consistent with a delimited text file", ErrUnsupportedFile, detected)
	}
	logger.L.Debug("File content type (magic bytes) validated", "detectedContentType", detected)
	return detected, nil
}
