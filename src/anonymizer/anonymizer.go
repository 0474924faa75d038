// Package anonymizer produces the transmit-safe projection of position
// records and guards every outbound payload against deny-listed keys.
package anonymizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
)

var ErrAnonymizationViolation = errors.New("anonymization violation: deny-listed field present")

// Template lists the fields that may leave the process and the ones that
// never may. Project reads only Required and Optional; Excluded is only
// consulted by the validator.
type Template struct {
	Required []string `json:"required"`
	Optional []string `json:"optional"`
	Excluded []string `json:"excluded"`
}

func DefaultTemplate() Template {
	return Template{
		Required: []string{"currency", "amount", "date", "type"},
		Optional: []string{"hedgedAmount", "hedgeStatus"},
		Excluded: []string{"counterparty", "bank", "accountNumber", "companyName", "contact", "email", "phone"},
	}
}

// Allowed returns Required followed by Optional.
func (t Template) Allowed() []string {
	out := make([]string, 0, len(t.Required)+len(t.Optional))
	out = append(out, t.Required...)
	return append(out, t.Optional...)
}

// Violation is one deny-listed key found on a candidate record.
type Violation struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
}

// ViolationError aborts a transmission. It never carries the offending values.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	keys := make(map[string]bool)
	for _, v := range e.Violations {
		keys[v.Key] = true
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s: %d violation(s) on key(s) %s (first at record %d)",
		ErrAnonymizationViolation, len(e.Violations), strings.Join(names, ", "), e.Violations[0].Index)
}

func (e *ViolationError) Is(target error) bool {
	return target == ErrAnonymizationViolation
}

func (e *ViolationError) Hint() string {
	return "Transmission was aborted before anything was sent. Only the projected fields may be transmitted; re-run the projection instead of editing records by hand."
}

type Anonymizer struct {
	template Template
	now      func() time.Time
}

type Option func(*Anonymizer)

func WithClock(now func() time.Time) Option {
	return func(a *Anonymizer) { a.now = now }
}

func New(template Template, opts ...Option) *Anonymizer {
	a := &Anonymizer{template: template, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Anonymizer) Template() Template {
	return a.template
}

// Project copies only allow-listed fields, tagging each record with its
// position and the extraction time.
func (a *Anonymizer) Project(records []models.PositionRecord) []models.AnonymizedRecord {
	extractedAt := a.now().UTC().Format(time.RFC3339Nano)
	allowed := a.template.Allowed()

	out := make([]models.AnonymizedRecord, len(records))
	for i, rec := range records {
		ar := models.AnonymizedRecord{
			models.AnonIndexKey:       i,
			models.AnonExtractedAtKey: extractedAt,
		}
		for _, field := range allowed {
			if v, ok := rec.Value(field); ok {
				ar[field] = v
			}
		}
		out[i] = ar
	}
	logger.L.Debug("Projected records", "count", len(out), "fields", allowed)
	return out
}

// Violations reports every deny-listed key present on candidates. Keys are
// compared case-insensitively; a key holding the empty string is absent,
// any other value, nil included, is a violation.
func (a *Anonymizer) Violations(candidates []models.AnonymizedRecord) []Violation {
	denied := make(map[string]string, len(a.template.Excluded))
	for _, k := range a.template.Excluded {
		denied[strings.ToLower(k)] = k
	}

	var out []Violation
	for i, rec := range candidates {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, bad := denied[strings.ToLower(k)]; !bad {
				continue
			}
			if s, ok := rec[k].(string); ok && s == "" {
				continue
			}
			out = append(out, Violation{Index: i, Key: k})
		}
	}
	return out
}

// Validate reports whether candidates are safe to transmit.
func (a *Anonymizer) Validate(candidates []models.AnonymizedRecord) bool {
	return len(a.Violations(candidates)) == 0
}

// Check is Validate as an error. It must run immediately before sending.
func (a *Anonymizer) Check(candidates []models.AnonymizedRecord) error {
	violations := a.Violations(candidates)
	if len(violations) == 0 {
		return nil
	}
	err := &ViolationError{Violations: violations}
	logger.L.Error("Blocked transmission of deny-listed fields", "violations", len(violations), "firstKey", violations[0].Key, "firstIndex", violations[0].Index)
	return err
}
