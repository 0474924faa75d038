package anonymizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/spf13/cast"
)

// DefaultPreviewSize is the number of records shown side by side.
const DefaultPreviewSize = 5

// recordFields is the wire order of PositionRecord.
var recordFields = []string{"id", "currency", "amount", "date", "type", "counterparty", "bank", "hedgedAmount", "hedgeStatus"}

type FieldPreview struct {
	Field       string `json:"field"`
	SampleValue any    `json:"sampleValue"`
	Transmitted bool   `json:"transmitted"`
}

// Preview compares what stays local with what would be sent.
type Preview struct {
	Before       []map[string]any          `json:"before"`
	After        []models.AnonymizedRecord `json:"after"`
	Kept         []FieldPreview            `json:"kept"`
	Removed      []FieldPreview            `json:"removed"`
	TotalRecords int                       `json:"totalRecords"`
	Template     Template                  `json:"template"`
}

// Preview projects the first n records. Values of fields that would not be
// transmitted are masked in Before.
func (a *Anonymizer) Preview(records []models.PositionRecord, n int) Preview {
	if n <= 0 {
		n = DefaultPreviewSize
	}
	sample := records[:min(n, len(records))]
	after := a.Project(sample)

	p := Preview{
		After:        after,
		TotalRecords: len(records),
		Template:     a.template,
	}
	allowed := make(map[string]bool)
	for _, f := range a.template.Allowed() {
		allowed[f] = true
	}

	for _, rec := range sample {
		before := make(map[string]any, len(recordFields))
		for _, f := range recordFields {
			v, _ := rec.Value(f)
			if allowed[f] {
				before[f] = v
			} else {
				before[f] = MaskValue(v)
			}
		}
		p.Before = append(p.Before, before)
	}

	if len(sample) > 0 {
		first := sample[0]
		for _, f := range recordFields {
			v, _ := first.Value(f)
			if allowed[f] {
				p.Kept = append(p.Kept, FieldPreview{Field: f, SampleValue: v, Transmitted: true})
			} else {
				p.Removed = append(p.Removed, FieldPreview{Field: f, SampleValue: MaskValue(v)})
			}
		}
	}
	return p
}

// MaskValue keeps the first and last rune of v. Values of two runes or
// fewer are fully masked; nil masks to "".
func MaskValue(v any) string {
	if v == nil {
		return ""
	}
	r := []rune(cast.ToString(v))
	if len(r) <= 2 {
		return "***"
	}
	return string(r[0]) + "***" + string(r[len(r)-1])
}

// AliasFileName derives the name used for a file in logs and outbound
// metadata: upload_<hash8>_<unix>.<ext>.
func AliasFileName(name string, at time.Time) string {
	unix := at.Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", name, unix)))
	alias := fmt.Sprintf("upload_%s_%d", hex.EncodeToString(sum[:])[:8], unix)
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")); ext != "" {
		alias += "." + ext
	}
	return alias
}
