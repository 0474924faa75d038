// Package archive persists finished provenance graphs and answers search,
// statistics and audit export queries over them.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/provenance"
)

var (
	ErrNotFound           = errors.New("provenance record not found")
	ErrArchiveUnavailable = errors.New("archive store unavailable")
)

// ArchivedProvenance is a stored provenance document with its archive id.
type ArchivedProvenance struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	provenance.Document
}

// IndexKeys are the secondary keys every store can filter on.
type IndexKeys struct {
	UploadedAt time.Time
	Filename   string
	Checksum   string
	System     string
	UserID     string
	Quality    float64
	Status     string
}

func (r ArchivedProvenance) Keys() IndexKeys {
	k := IndexKeys{
		UploadedAt: r.Metadata.Source.UploadedAt,
		Filename:   r.Metadata.Source.Filename,
		Checksum:   r.Metadata.Source.Checksum,
		System:     provenance.UnknownSystem,
		UserID:     r.Metadata.Session.UserID,
		Status:     r.Summary.Status,
	}
	if r.Metadata.Detected != nil {
		k.System = r.Metadata.Detected.Name
	}
	if k.UserID == "" {
		k.UserID = r.Metadata.Session.CustomerID
	}
	if r.Quality != nil {
		k.Quality = r.Quality.Overall
	}
	return k
}

// OriginalRows is the row count of the latest extraction node, or 0.
func (r ArchivedProvenance) OriginalRows() int {
	for i := len(r.Graph.Nodes) - 1; i >= 0; i-- {
		n := r.Graph.Nodes[i]
		if n.Stage == provenance.StageExtraction && n.Data.Extraction != nil {
			return n.Data.Extraction.Statistics.OriginalRows
		}
	}
	return 0
}

// searchText is the lower-cased serialized record used for full-text search.
func (r ArchivedProvenance) searchText() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return strings.ToLower(string(b)), nil
}

// Filter predicates are ANDed; zero values match everything. Date and
// quality bounds are inclusive.
type Filter struct {
	Filename   string     `json:"filename,omitempty"` // case-insensitive substring
	System     string     `json:"erpSystem,omitempty"`
	DateFrom   *time.Time `json:"dateFrom,omitempty"`
	DateTo     *time.Time `json:"dateTo,omitempty"`
	MinQuality *float64   `json:"minQuality,omitempty"`
	MaxQuality *float64   `json:"maxQuality,omitempty"`
	Status     string     `json:"status,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	Checksum   string     `json:"checksum,omitempty"`
	FullText   string     `json:"q,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

// Matches applies the filter in memory. Limit and Offset are ignored.
func (f Filter) Matches(r ArchivedProvenance) bool {
	k := r.Keys()
	if f.Filename != "" && !strings.Contains(strings.ToLower(k.Filename), strings.ToLower(f.Filename)) {
		return false
	}
	if f.System != "" && k.System != f.System {
		return false
	}
	if f.DateFrom != nil && k.UploadedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && k.UploadedAt.After(*f.DateTo) {
		return false
	}
	if f.MinQuality != nil && k.Quality < *f.MinQuality {
		return false
	}
	if f.MaxQuality != nil && k.Quality > *f.MaxQuality {
		return false
	}
	if f.Status != "" && k.Status != f.Status {
		return false
	}
	if f.UserID != "" && k.UserID != f.UserID {
		return false
	}
	if f.Checksum != "" && k.Checksum != f.Checksum {
		return false
	}
	if f.FullText != "" {
		text, err := r.searchText()
		if err != nil || !strings.Contains(text, strings.ToLower(f.FullText)) {
			return false
		}
	}
	return true
}

// page applies Offset and Limit to an already filtered, ordered slice.
func (f Filter) page(records []ArchivedProvenance) []ArchivedProvenance {
	if f.Offset > 0 {
		if f.Offset >= len(records) {
			return []ArchivedProvenance{}
		}
		records = records[f.Offset:]
	}
	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records
}

// Store is one persistence tier. List returns matching records newest
// first. Get and Delete return ErrNotFound for unknown ids.
type Store interface {
	Name() string
	Save(ctx context.Context, rec ArchivedProvenance) error
	Get(ctx context.Context, id string) (ArchivedProvenance, error)
	List(ctx context.Context, f Filter) ([]ArchivedProvenance, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// EvictionHook observes records a bounded tier dropped to stay within its
// retain window. It runs on the saving goroutine.
type EvictionHook func(tier string, ids []string)

// filterInMemory is the linear-scan search used by the non-indexed tiers.
func filterInMemory(records []ArchivedProvenance, f Filter) []ArchivedProvenance {
	out := make([]ArchivedProvenance, 0, len(records))
	for _, r := range records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return f.page(out)
}
