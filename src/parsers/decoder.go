package parsers

import (
	"errors"
	"io"

	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/00vip7-stack/hedge-dashboard/src/parsers/delimited"
)

var (
	ErrNoData            = delimited.ErrNoData
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Decoder turns an uploaded file into a header row and data rows.
type Decoder interface {
	Decode(r io.Reader) (*models.Table, error)
}
