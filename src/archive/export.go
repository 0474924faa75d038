package archive

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/security/validation"
	"github.com/00vip7-stack/hedge-dashboard/src/utils"
)

// QualityDistribution buckets overall quality: excellent ≥0.9, good ≥0.7,
// fair ≥0.5, poor below.
type QualityDistribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Fair      int `json:"fair"`
	Poor      int `json:"poor"`
}

type Statistics struct {
	Total               int                 `json:"total"`
	BySystem            map[string]int      `json:"byERP"`
	ByStatus            map[string]int      `json:"byStatus"`
	ByMonth             map[string]int      `json:"byMonth"`
	QualityDistribution QualityDistribution `json:"qualityDistribution"`
	AvgQuality          float64             `json:"avgQuality"`
	AvgProcessingTime   float64             `json:"avgProcessingTime"`
	TotalDataProcessed  int                 `json:"totalDataProcessed"`
}

// ComputeStatistics aggregates a record set.
func ComputeStatistics(records []ArchivedProvenance) Statistics {
	st := Statistics{
		Total:    len(records),
		BySystem: map[string]int{},
		ByStatus: map[string]int{},
		ByMonth:  map[string]int{},
	}
	var qualitySum, timeSum float64
	for _, r := range records {
		k := r.Keys()
		st.BySystem[k.System]++
		st.ByStatus[k.Status]++
		st.ByMonth[k.UploadedAt.UTC().Format("2006-01")]++

		q := k.Quality
		qualitySum += q
		switch {
		case q >= 0.9:
			st.QualityDistribution.Excellent++
		case q >= 0.7:
			st.QualityDistribution.Good++
		case q >= 0.5:
			st.QualityDistribution.Fair++
		default:
			st.QualityDistribution.Poor++
		}
		timeSum += r.Summary.ProcessingTimeSeconds
		st.TotalDataProcessed += r.OriginalRows()
	}
	if st.Total > 0 {
		st.AvgQuality = utils.RoundFloat(qualitySum/float64(st.Total), 4)
		st.AvgProcessingTime = utils.RoundFloat(timeSum/float64(st.Total), 2)
	}
	return st
}

func (a *Archive) GetStatistics(ctx context.Context) (Statistics, error) {
	recs, err := a.Search(ctx, Filter{})
	if err != nil {
		return Statistics{}, err
	}
	return ComputeStatistics(recs), nil
}

type Period struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

// AuditExport is the self-contained audit artifact.
type AuditExport struct {
	GeneratedAt time.Time            `json:"generatedAt"`
	GeneratedBy string               `json:"generatedBy"`
	Purpose     string               `json:"purpose"`
	RecordCount int                  `json:"recordCount"`
	Period      Period               `json:"period"`
	Summary     Statistics           `json:"summary"`
	Records     []ArchivedProvenance `json:"records"`
}

// collect returns the requested records, or all of them when ids is empty.
// A missing id fails the whole export.
func (a *Archive) collect(ctx context.Context, ids []string) ([]ArchivedProvenance, error) {
	if len(ids) == 0 {
		return a.Search(ctx, Filter{})
	}
	out := make([]ArchivedProvenance, 0, len(ids))
	for _, id := range ids {
		rec, err := a.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("audit export incomplete: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *Archive) ExportForAudit(ctx context.Context, ids []string) (*AuditExport, error) {
	recs, err := a.collect(ctx, ids)
	if err != nil {
		return nil, err
	}
	exp := &AuditExport{
		GeneratedAt: a.now().UTC(),
		GeneratedBy: "hedge-dashboard",
		Purpose:     "provenance audit",
		RecordCount: len(recs),
		Summary:     ComputeStatistics(recs),
		Records:     recs,
	}
	for _, r := range recs {
		at := r.Metadata.Source.UploadedAt
		if exp.Period.From == nil || at.Before(*exp.Period.From) {
			t := at
			exp.Period.From = &t
		}
		if exp.Period.To == nil || at.After(*exp.Period.To) {
			t := at
			exp.Period.To = &t
		}
	}
	return exp, nil
}

var csvHeader = []string{"id", "uploadDate", "filename", "detectedSystem", "status", "qualityPercent", "processingTimeSeconds", "rowCount", "checksum"}

// ExportCSV writes the records as UTF-8 CSV with a BOM so spreadsheet
// tools pick the right encoding.
func (a *Archive) ExportCSV(ctx context.Context, w io.Writer, ids []string) error {
	recs, err := a.collect(ctx, ids)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		k := r.Keys()
		row := []string{
			r.ID,
			k.UploadedAt.UTC().Format(time.RFC3339),
			k.Filename,
			k.System,
			k.Status,
			fmt.Sprintf("%.1f%%", k.Quality*100),
			strconv.FormatFloat(r.Summary.ProcessingTimeSeconds, 'f', -1, 64),
			strconv.Itoa(r.OriginalRows()),
			k.Checksum,
		}
		for i := range row {
			row[i] = validation.SanitizeCSVCell(row[i])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
