// Package delimited decodes CSV and TSV exports. Korean accounting packages
// commonly write CP949/EUC-KR, so input that is not valid UTF-8 is decoded
// as EUC-KR.
package delimited

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"golang.org/x/text/encoding/korean"
)

var ErrNoData = errors.New("file contains no data rows")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type Decoder struct {
	comma rune
}

func NewDecoder(comma rune) *Decoder {
	return &Decoder{comma: comma}
}

func (d *Decoder) Decode(r io.Reader) (*models.Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	text, charset, err := ToUTF8(raw)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = d.comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read delimited records: %w", err)
	}

	var table *models.Table
	for _, record := range records {
		if isBlank(record) {
			continue
		}
		if table == nil {
			headers := make([]string, len(record))
			for i, h := range record {
				headers[i] = strings.TrimSpace(h)
			}
			table = &models.Table{Headers: headers}
			continue
		}
		row := make([]any, len(record))
		for i, cell := range record {
			row[i] = cell
		}
		table.Rows = append(table.Rows, row)
	}

	if table == nil || len(table.Rows) == 0 {
		return nil, ErrNoData
	}
	logger.L.Debug("Decoded delimited file", "charset", charset, "columns", len(table.Headers), "rows", len(table.Rows))
	return table, nil
}

// ToUTF8 strips a UTF-8 byte order mark, or transcodes EUC-KR input.
// It reports the detected charset.
func ToUTF8(raw []byte) ([]byte, string, error) {
	if bytes.HasPrefix(raw, utf8BOM) {
		return raw[len(utf8BOM):], "utf-8", nil
	}
	if utf8.Valid(raw) {
		return raw, "utf-8", nil
	}
	decoded, err := korean.EUCKR.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, "", fmt.Errorf("file is neither UTF-8 nor EUC-KR: %w", err)
	}
	return decoded, "euc-kr", nil
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
