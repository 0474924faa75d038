package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/archive"
	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/provenance"
	"github.com/00vip7-stack/hedge-dashboard/src/utils"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

// ProvenanceArchive is the archive surface served over HTTP.
type ProvenanceArchive interface {
	GetByID(ctx context.Context, id string) (archive.ArchivedProvenance, error)
	Search(ctx context.Context, f archive.Filter) ([]archive.ArchivedProvenance, error)
	GetRecent(ctx context.Context, n int) ([]archive.ArchivedProvenance, error)
	FindDuplicates(ctx context.Context, checksum string) ([]archive.ArchivedProvenance, error)
	GetStatistics(ctx context.Context) (archive.Statistics, error)
	ExportForAudit(ctx context.Context, ids []string) (*archive.AuditExport, error)
	ExportCSV(ctx context.Context, w io.Writer, ids []string) error
	Delete(ctx context.Context, id string) error
	Mode() archive.Mode
}

type ProvenanceHandler struct {
	archive ProvenanceArchive
	now     func() time.Time
}

func NewProvenanceHandler(a ProvenanceArchive) *ProvenanceHandler {
	return &ProvenanceHandler{archive: a, now: time.Now}
}

type searchResponse struct {
	Records []archive.ArchivedProvenance `json:"records"`
	Count   int                          `json:"count"`
	Limit   int                          `json:"limit"`
	Offset  int                          `json:"offset"`
}

func (h *ProvenanceHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, err := h.archive.Search(r.Context(), f)
	if err != nil {
		sendError(w, r, err)
		return
	}
	if records == nil {
		records = []archive.ArchivedProvenance{}
	}
	utils.SendJSON(w, searchResponse{Records: records, Count: len(records), Limit: f.Limit, Offset: f.Offset}, http.StatusOK)
}

// parseFilter reads search parameters. Date-only bounds cover whole days.
func parseFilter(q url.Values) (archive.Filter, error) {
	f := archive.Filter{
		Filename: strings.TrimSpace(q.Get("filename")),
		System:   strings.TrimSpace(q.Get("erpSystem")),
		Status:   strings.TrimSpace(q.Get("status")),
		UserID:   strings.TrimSpace(q.Get("userId")),
		Checksum: strings.TrimSpace(q.Get("checksum")),
		FullText: strings.TrimSpace(q.Get("q")),
		Limit:    defaultSearchLimit,
	}

	if v := q.Get("dateFrom"); v != "" {
		t, ok := utils.ParseDate(v)
		if !ok {
			return f, fmt.Errorf("invalid dateFrom %q", v)
		}
		f.DateFrom = &t
	}
	if v := q.Get("dateTo"); v != "" {
		t, ok := utils.ParseDate(v)
		if !ok {
			return f, fmt.Errorf("invalid dateTo %q", v)
		}
		if t.Equal(t.Truncate(24 * time.Hour)) {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.DateTo = &t
	}
	for name, dst := range map[string]**float64{"minQuality": &f.MinQuality, "maxQuality": &f.MaxQuality} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := cast.ToFloat64E(v)
		if err != nil || n < 0 || n > 1 {
			return f, fmt.Errorf("%s must be a number between 0 and 1", name)
		}
		*dst = &n
	}
	if v := q.Get("limit"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = min(n, maxSearchLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func (h *ProvenanceHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	n := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := cast.ToIntE(v)
		if err != nil || parsed <= 0 {
			utils.SendJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		n = min(parsed, maxSearchLimit)
	}
	records, err := h.archive.GetRecent(r.Context(), n)
	if err != nil {
		sendError(w, r, err)
		return
	}
	if records == nil {
		records = []archive.ArchivedProvenance{}
	}
	utils.SendJSON(w, records, http.StatusOK)
}

func (h *ProvenanceHandler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.archive.GetStatistics(r.Context())
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeWithETag(w, r, stats)
}

func (h *ProvenanceHandler) HandleDuplicates(w http.ResponseWriter, r *http.Request) {
	checksum := chi.URLParam(r, "checksum")
	records, err := h.archive.FindDuplicates(r.Context(), checksum)
	if err != nil {
		sendError(w, r, err)
		return
	}
	if records == nil {
		records = []archive.ArchivedProvenance{}
	}
	utils.SendJSON(w, map[string]any{"checksum": checksum, "duplicates": records, "count": len(records)}, http.StatusOK)
}

func (h *ProvenanceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.archive.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeWithETag(w, r, rec)
}

func (h *ProvenanceHandler) HandleMermaid(w http.ResponseWriter, r *http.Request) {
	rec, err := h.archive.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	// Fallback tiers hand back whatever they decoded; rebuilding checks it.
	g, err := provenance.FromDocument(rec.Document, nil)
	if err != nil {
		sendError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, g.ToMermaid())
}

// exportIDs reads ids from repeated or comma-separated "ids" parameters.
func exportIDs(q url.Values) []string {
	var ids []string
	for _, v := range q["ids"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (h *ProvenanceHandler) attachment(w http.ResponseWriter, ext string) {
	name := fmt.Sprintf("provenance-audit-%s.%s", h.now().UTC().Format("20060102-150405"), ext)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}

func (h *ProvenanceHandler) HandleExportJSON(w http.ResponseWriter, r *http.Request) {
	export, err := h.archive.ExportForAudit(r.Context(), exportIDs(r.URL.Query()))
	if err != nil {
		sendError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("Audit export generated", "records", export.RecordCount)
	h.attachment(w, "json")
	utils.SendJSON(w, export, http.StatusOK)
}

func (h *ProvenanceHandler) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	ids := exportIDs(r.URL.Query())
	// Render first so a failure can still produce a JSON error.
	var buf strings.Builder
	if err := h.archive.ExportCSV(r.Context(), &buf, ids); err != nil {
		sendError(w, r, err)
		return
	}
	h.attachment(w, "csv")
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, buf.String())
}

func (h *ProvenanceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.archive.Delete(r.Context(), id); err != nil {
		sendError(w, r, err)
		return
	}
	userID, _ := GetUserIDFromContext(r.Context())
	logger.FromContext(r.Context()).Info("Provenance record deleted", "id", id, "by", userID)
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status  string       `json:"status"`
	Archive archive.Mode `json:"archive"`
}

// HandleHealth reports the archive tier in use. Degraded still answers 200.
func (h *ProvenanceHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	mode := h.archive.Mode()
	status := "ok"
	if mode.Degraded {
		status = "degraded"
	}
	utils.SendJSON(w, healthResponse{Status: status, Archive: mode}, http.StatusOK)
}
