// src/models/canonical.go
package models

import (
	"encoding/json"
	"sort"
)

// CanonicalField is one of the fixed target schema fields every source export is mapped onto.
type CanonicalField string

const (
	FieldNone         CanonicalField = ""
	FieldCounterparty CanonicalField = "counterparty"
	FieldCurrency     CanonicalField = "currency"
	FieldAmount       CanonicalField = "amount"
	FieldDate         CanonicalField = "date"
	FieldBank         CanonicalField = "bank"
	FieldType         CanonicalField = "type"
)

// AllFields lists the canonical fields in resolution order.
var AllFields = []CanonicalField{FieldCounterparty, FieldCurrency, FieldAmount, FieldDate, FieldBank, FieldType}

// RequiredFields must resolve for a column map to be usable.
var RequiredFields = []CanonicalField{FieldCurrency, FieldAmount}

func (f CanonicalField) Valid() bool {
	for _, known := range AllFields {
		if f == known {
			return true
		}
	}
	return false
}

// MatchMethod identifies which resolver tier produced a ColumnMatch.
type MatchMethod string

const (
	MethodNone          MatchMethod = "none"
	MethodExact         MatchMethod = "exact"
	MethodExactPartial  MatchMethod = "exact-partial"
	MethodSystemExact   MatchMethod = "erp-exact"
	MethodFuzzy         MatchMethod = "fuzzy"
	MethodSemanticLocal MatchMethod = "semantic-local"
	MethodSemanticAPI   MatchMethod = "semantic-api"
	MethodFallback      MatchMethod = "fallback"
)

// ColumnMatch is the resolver's verdict for a single raw header.
type ColumnMatch struct {
	Header         string         `json:"header"`
	Index          int            `json:"index"`
	Field          CanonicalField `json:"field"`
	Confidence     float64        `json:"confidence"`
	Method         MatchMethod    `json:"method"`
	MatchedKeyword string         `json:"matchedKeyword,omitempty"`
	System         string         `json:"system,omitempty"` // set for erp-exact hits
}

// ColumnMap maps canonical fields to zero-based column indices (-1 = unmapped).
type ColumnMap struct {
	Indices     map[CanonicalField]int `json:"indices"`
	Diagnostics []ColumnMatch          `json:"diagnostics,omitempty"`
}

// NewColumnMap returns a map with every canonical field unmapped.
func NewColumnMap() ColumnMap {
	indices := make(map[CanonicalField]int, len(AllFields))
	for _, f := range AllFields {
		indices[f] = -1
	}
	return ColumnMap{Indices: indices}
}

// Index returns the column index for f, or -1.
func (m ColumnMap) Index(f CanonicalField) int {
	if idx, ok := m.Indices[f]; ok {
		return idx
	}
	return -1
}

func (m ColumnMap) Has(f CanonicalField) bool {
	return m.Index(f) >= 0
}

// Missing returns the required fields that are not mapped, in the given order.
func (m ColumnMap) Missing(required []CanonicalField) []CanonicalField {
	var missing []CanonicalField
	for _, f := range required {
		if !m.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Accepted returns the diagnostics that actually claimed a field, ordered by column index.
func (m ColumnMap) Accepted() []ColumnMatch {
	var out []ColumnMatch
	for _, d := range m.Diagnostics {
		if d.Field != FieldNone && m.Index(d.Field) == d.Index {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// MarshalJSON keeps unmapped fields visible as -1.
func (m ColumnMap) MarshalJSON() ([]byte, error) {
	indices := make(map[string]int, len(AllFields))
	for _, f := range AllFields {
		indices[string(f)] = m.Index(f)
	}
	return json.Marshal(struct {
		Indices     map[string]int `json:"indices"`
		Diagnostics []ColumnMatch  `json:"diagnostics,omitempty"`
	}{indices, m.Diagnostics})
}
