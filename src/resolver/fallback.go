package resolver

import (
	"context"
	"regexp"
	"strings"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/spf13/cast"
)

// Fallback matches are deliberately scored low so they show up as
// low-confidence mappings in the provenance statistics.
const (
	scoreFallbackExact   = 0.6
	scoreFallbackPartial = 0.5
	scoreFallbackToken   = 0.4
)

var (
	bareCodeHeader = regexp.MustCompile(`^[A-Z]{3,4}$`)
	currencyCode   = regexp.MustCompile(`^[A-Z]{3}$`)
)

// applyFallback tries progressively weaker heuristics for the required
// fields that the tiered matcher left unresolved. Only headers that have not
// claimed a field are considered.
func (r *Resolver) applyFallback(ctx context.Context, cm *models.ColumnMap, headers []string, sample [][]any) {
	log := logger.FromContext(ctx)
	claimed := make(map[int]bool)
	for _, idx := range cm.Indices {
		if idx >= 0 {
			claimed[idx] = true
		}
	}

	claim := func(m models.ColumnMatch) {
		cm.Indices[m.Field] = m.Index
		claimed[m.Index] = true
		replaceDiagnostic(cm, m)
		log.Info("Required column resolved by fallback heuristic", "field", m.Field, "header", m.Header, "index", m.Index, "keyword", m.MatchedKeyword, "confidence", m.Confidence)
	}

	for _, partial := range []bool{false, true} {
		for _, fi := range r.fields {
			if !isRequired(fi.field) || cm.Has(fi.field) {
				continue
			}
			if m, ok := r.fallbackKeyword(fi, headers, claimed, partial); ok {
				claim(m)
			}
		}
	}

	if !cm.Has(models.FieldCurrency) {
		for i, h := range headers {
			if claimed[i] {
				continue
			}
			if bareCodeHeader.MatchString(strings.TrimSpace(h)) {
				claim(models.ColumnMatch{Header: h, Index: i, Field: models.FieldCurrency, Confidence: scoreFallbackToken, Method: models.MethodFallback, MatchedKeyword: strings.TrimSpace(h)})
				break
			}
		}
	}

	if !cm.Has(models.FieldCurrency) && len(sample) > 0 {
		if i, ok := currencyCodeColumn(sample, claimed); ok {
			header := ""
			if i < len(headers) {
				header = headers[i]
			}
			claim(models.ColumnMatch{Header: header, Index: i, Field: models.FieldCurrency, Confidence: scoreFallbackToken, Method: models.MethodFallback})
		}
	}
}

func (r *Resolver) fallbackKeyword(fi fieldIndex, headers []string, claimed map[int]bool, partial bool) (models.ColumnMatch, bool) {
	for i, raw := range headers {
		if claimed[i] {
			continue
		}
		h := normalize(raw)
		if h == "" || (partial && len([]rune(h)) < 2) {
			continue
		}
		for _, kw := range fi.fallback {
			if kw.lower == "" {
				continue
			}
			if !partial && h == kw.lower {
				return models.ColumnMatch{Header: raw, Index: i, Field: fi.field, Confidence: scoreFallbackExact, Method: models.MethodFallback, MatchedKeyword: kw.text}, true
			}
			if partial && (strings.Contains(h, kw.lower) || strings.Contains(kw.lower, h)) {
				return models.ColumnMatch{Header: raw, Index: i, Field: fi.field, Confidence: scoreFallbackPartial, Method: models.MethodFallback, MatchedKeyword: kw.text}, true
			}
		}
	}
	return models.ColumnMatch{}, false
}

// currencyCodeColumn finds the first unclaimed column whose non-blank sample
// values are all three-letter upper-case codes.
func currencyCodeColumn(sample [][]any, claimed map[int]bool) (int, bool) {
	width := 0
	for _, row := range sample {
		width = max(width, len(row))
	}
	for col := 0; col < width; col++ {
		if claimed[col] {
			continue
		}
		seen := 0
		ok := true
		for _, row := range sample {
			if col >= len(row) {
				continue
			}
			v := strings.TrimSpace(cast.ToString(row[col]))
			if v == "" {
				continue
			}
			seen++
			if !currencyCode.MatchString(v) {
				ok = false
				break
			}
		}
		if ok && seen > 0 {
			return col, true
		}
	}
	return -1, false
}

func replaceDiagnostic(cm *models.ColumnMap, m models.ColumnMatch) {
	for i := range cm.Diagnostics {
		if cm.Diagnostics[i].Index == m.Index {
			cm.Diagnostics[i] = m
			return
		}
	}
	cm.Diagnostics = append(cm.Diagnostics, m)
}

func isRequired(f models.CanonicalField) bool {
	for _, r := range models.RequiredFields {
		if r == f {
			return true
		}
	}
	return false
}
