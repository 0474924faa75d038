// src/processors/position_extractor.go
package processors

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/00vip7-stack/hedge-dashboard/src/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// SkipReason explains why a data row produced no PositionRecord.
type SkipReason string

const (
	SkipEmpty         SkipReason = "empty"
	SkipNoCurrency    SkipReason = "no-currency"
	SkipNoAmount      SkipReason = "no-amount"
	SkipInvalidAmount SkipReason = "invalid-amount"
	SkipZeroAmount    SkipReason = "zero-amount"
)

var (
	ErrInvalidColumnMap = errors.New("column map lacks a required field")
	ErrExtractionFailed = errors.New("no valid rows could be extracted")
)

// ExtractionError is returned when a non-empty input yields no records.
type ExtractionError struct {
	TotalRows int
	Reasons   map[SkipReason]int
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: all %d rows were skipped (%s)", ErrExtractionFailed, e.TotalRows, formatReasons(e.Reasons))
}

func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtractionFailed
}

func (e *ExtractionError) Hint() string {
	switch {
	case e.Reasons[SkipNoCurrency] == e.TotalRows:
		return "Every row has an empty currency cell. Check that the currency column was mapped to the right header."
	case e.Reasons[SkipNoAmount]+e.Reasons[SkipInvalidAmount] == e.TotalRows:
		return "No row has a numeric amount. Check that the amount column was mapped to the right header and holds numbers."
	default:
		return "Rows need a currency code and a non-zero amount. Review the column mapping and the source data."
	}
}

// RowSkip records one dropped row; Row is the zero-based data row index.
type RowSkip struct {
	Row    int        `json:"row"`
	Reason SkipReason `json:"reason"`
}

type ExtractionResult struct {
	Records     []models.PositionRecord `json:"records"`
	TotalRows   int                     `json:"totalRows"`
	Skipped     int                     `json:"skipped"`
	Reasons     map[SkipReason]int      `json:"reasons"`
	SkippedRows []RowSkip               `json:"skippedRows,omitempty"`
}

// ReasonCounts returns Reasons keyed by plain strings.
func (r *ExtractionResult) ReasonCounts() map[string]int {
	out := make(map[string]int, len(r.Reasons))
	for k, v := range r.Reasons {
		out[string(k)] = v
	}
	return out
}

// PositionExtractor applies a resolved column map to decoded rows.
type PositionExtractor struct {
	now   func() time.Time
	newID func() string
}

type ExtractorOption func(*PositionExtractor)

func WithClock(now func() time.Time) ExtractorOption {
	return func(e *PositionExtractor) { e.now = now }
}

func WithIDGenerator(newID func() string) ExtractorOption {
	return func(e *PositionExtractor) { e.newID = newID }
}

func NewPositionExtractor(opts ...ExtractorOption) *PositionExtractor {
	e := &PositionExtractor{
		now:   time.Now,
		newID: func() string { return "pos_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract converts rows into PositionRecords. Malformed rows are dropped and
// counted, never defaulted. A map without currency or amount is a caller
// error; an input that yields nothing is an *ExtractionError.
func (e *PositionExtractor) Extract(rows [][]any, cm models.ColumnMap) (*ExtractionResult, error) {
	if missing := cm.Missing(models.RequiredFields); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidColumnMap, missing)
	}

	result := &ExtractionResult{
		TotalRows: len(rows),
		Reasons:   make(map[SkipReason]int),
	}
	today := e.now().Format(utils.ISODateFormat)

	for i, row := range rows {
		record, reason := e.extractRow(row, cm, today)
		if reason != "" {
			result.Skipped++
			result.Reasons[reason]++
			result.SkippedRows = append(result.SkippedRows, RowSkip{Row: i, Reason: reason})
			logger.L.Debug("Skipping row", "row", i, "reason", reason)
			continue
		}
		result.Records = append(result.Records, record)
	}

	if len(rows) > 0 && len(result.Records) == 0 {
		return result, &ExtractionError{TotalRows: len(rows), Reasons: result.Reasons}
	}
	logger.L.Info("Extraction complete", "rows", len(rows), "records", len(result.Records), "skipped", result.Skipped)
	return result, nil
}

func (e *PositionExtractor) extractRow(row []any, cm models.ColumnMap, today string) (models.PositionRecord, SkipReason) {
	if isEmptyRow(row) {
		return models.PositionRecord{}, SkipEmpty
	}

	currency := cellString(row, cm.Index(models.FieldCurrency))
	if currency == "" {
		return models.PositionRecord{}, SkipNoCurrency
	}

	amountCell := cell(row, cm.Index(models.FieldAmount))
	amount, blank, err := ParseAmount(amountCell)
	if blank {
		return models.PositionRecord{}, SkipNoAmount
	}
	if err != nil {
		return models.PositionRecord{}, SkipInvalidAmount
	}
	if amount.IsZero() {
		return models.PositionRecord{}, SkipZeroAmount
	}
	amountFloat := amount.InexactFloat64()
	if math.IsInf(amountFloat, 0) || math.IsNaN(amountFloat) {
		return models.PositionRecord{}, SkipInvalidAmount
	}
	if amountFloat == 0 {
		return models.PositionRecord{}, SkipZeroAmount
	}

	record := models.PositionRecord{
		ID:           e.newID(),
		Currency:     currency,
		Amount:       amountFloat,
		Date:         today,
		Type:         models.DefaultPositionType,
		HedgedAmount: 0,
		HedgeStatus:  models.HedgeStatusUnhedged,
	}
	if cm.Has(models.FieldDate) {
		if d, ok := parseDateCell(cell(row, cm.Index(models.FieldDate))); ok {
			record.Date = d
		}
	}
	if cm.Has(models.FieldType) {
		if t := cellString(row, cm.Index(models.FieldType)); t != "" {
			record.Type = t
		}
	}
	record.Counterparty = cellString(row, cm.Index(models.FieldCounterparty))
	record.Bank = cellString(row, cm.Index(models.FieldBank))
	return record, ""
}

// ParseAmount parses a numeric cell. Thousands separators are removed from
// text cells. blank reports an absent or whitespace-only cell.
func ParseAmount(v any) (amount decimal.Decimal, blank bool, err error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, true, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, false, fmt.Errorf("amount is not finite")
		}
		return decimal.NewFromFloat(x), false, nil
	case float32:
		return ParseAmount(float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), false, nil
	case int64:
		return decimal.NewFromInt(x), false, nil
	}

	s := strings.TrimSpace(cast.ToString(v))
	if s == "" {
		return decimal.Zero, true, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("amount %q is not a number: %w", s, err)
	}
	return d, false, nil
}

func parseDateCell(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case time.Time:
		return x.Format(utils.ISODateFormat), true
	case float64:
		if t, ok := utils.FromExcelSerial(x); ok {
			return t.Format(utils.ISODateFormat), true
		}
		return "", false
	case int:
		return parseDateCell(float64(x))
	}

	s := strings.TrimSpace(cast.ToString(v))
	if t, ok := utils.ParseDate(s); ok {
		return t.Format(utils.ISODateFormat), true
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if t, ok := utils.FromExcelSerial(serial); ok {
			return t.Format(utils.ISODateFormat), true
		}
	}
	return "", false
}

func cell(row []any, idx int) any {
	if idx < 0 || idx >= len(row) {
		return nil
	}
	return row[idx]
}

func cellString(row []any, idx int) string {
	return strings.TrimSpace(cast.ToString(cell(row, idx)))
}

func isEmptyRow(row []any) bool {
	for _, v := range row {
		if strings.TrimSpace(cast.ToString(v)) != "" {
			return false
		}
	}
	return true
}

func formatReasons(reasons map[SkipReason]int) string {
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, reasons[SkipReason(k)])
	}
	return strings.Join(parts, ", ")
}
