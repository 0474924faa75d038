package models

import "time"

type HedgeStatus string

const (
	HedgeStatusUnhedged        HedgeStatus = "unhedged"
	HedgeStatusPartiallyHedged HedgeStatus = "partially_hedged"
	HedgeStatusHedged          HedgeStatus = "hedged"
)

// DefaultPositionType is used when no type column is mapped or the cell is blank.
const DefaultPositionType = "exposure"

// PositionRecord is one validated row of an uploaded export.
// Currency is never empty and Amount is never zero.
type PositionRecord struct {
	ID           string      `json:"id"`
	Currency     string      `json:"currency"`
	Amount       float64     `json:"amount"`
	Date         string      `json:"date"` // YYYY-MM-DD
	Type         string      `json:"type"`
	Counterparty string      `json:"counterparty"`
	Bank         string      `json:"bank"`
	HedgedAmount float64     `json:"hedgedAmount"`
	HedgeStatus  HedgeStatus `json:"hedgeStatus"`
}

// Value looks a field up by its wire name.
func (p PositionRecord) Value(name string) (any, bool) {
	switch name {
	case "id":
		return p.ID, true
	case "currency":
		return p.Currency, true
	case "amount":
		return p.Amount, true
	case "date":
		return p.Date, true
	case "type":
		return p.Type, true
	case "counterparty":
		return p.Counterparty, true
	case "bank":
		return p.Bank, true
	case "hedgedAmount":
		return p.HedgedAmount, true
	case "hedgeStatus":
		return string(p.HedgeStatus), true
	}
	return nil, false
}

const (
	AnonIndexKey       = "_index"
	AnonExtractedAtKey = "_extractedAt"
)

// AnonymizedRecord is the transmit-safe projection of a PositionRecord.
// It is kept as a key/value object so the pre-transmission validator sees
// exactly the keys that go on the wire.
type AnonymizedRecord map[string]any

func (r AnonymizedRecord) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func (r AnonymizedRecord) String(key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// HedgeKPI is the headline result of a hedge calculation.
type HedgeKPI struct {
	TotalExposure       float64 `json:"totalExposure"`
	TargetHedgeRatio    float64 `json:"targetHedgeRatio"`
	TargetHedgeAmount   float64 `json:"targetHedgeAmount"`
	CurrentHedgedAmount float64 `json:"currentHedgedAmount"`
	CurrentHedgeRatio   float64 `json:"currentHedgeRatio"`
	Gap                 float64 `json:"gap"`
	UnhedgedAmount      float64 `json:"unhedgedAmount"`
}

type HedgeSuggestion struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	Product  string  `json:"product"`
	Priority string  `json:"priority"`
}

// HedgeCalculation is what the aggregation service returns, or what is
// estimated locally when it cannot be reached (Mock = true).
type HedgeCalculation struct {
	Success        bool              `json:"success"`
	KPI            HedgeKPI          `json:"kpi"`
	Suggestions    []HedgeSuggestion `json:"suggestions"`
	Recommendation string            `json:"recommendation,omitempty"`
	Mock           bool              `json:"_mock,omitempty"`
	CalculatedAt   time.Time         `json:"calculatedAt"`
}
