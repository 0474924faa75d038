package archive

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/dictionary"
	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/00vip7-stack/hedge-dashboard/src/provenance"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type seqClock struct{ t time.Time }

func (c *seqClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("prov_%03d", n)
	}
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newArchive(primary Store, opts ...Option) *Archive {
	opts = append([]Option{WithClock((&seqClock{t: base}).Now), WithIDGenerator(seqIDs())}, opts...)
	return New(primary, opts...)
}

// doc builds a minimal valid document with the given index keys.
func doc(system string, quality float64, uploaded time.Time, filename string) provenance.Document {
	return provenance.Document{
		Metadata: provenance.Metadata{
			Source:   provenance.SourceMetadata{Filename: filename, UploadedAt: uploaded, Checksum: "sum-" + filename},
			Session:  provenance.SessionMetadata{SessionID: "s", UserID: "user-1"},
			Detected: &provenance.DetectedSystem{Name: system, Confidence: 0.5, MatchedColumns: []string{}},
		},
		Graph: provenance.GraphData{
			Nodes: []provenance.Node{{ID: "source", Type: provenance.TypeFileUpload, Stage: provenance.StageSource, Timestamp: uploaded, Status: provenance.StatusSuccess}},
			Edges: []provenance.Edge{},
		},
		Quality: &provenance.QualityScore{Overall: quality, Issues: []provenance.QualityIssue{}, Recommendations: []string{}},
		Summary: provenance.Summary{Filename: filename, System: system, Status: "processing", TotalSteps: 1, CompletedSteps: 1},
	}
}

// fullGraph runs a graph through every stage.
func fullGraph(t *testing.T) *provenance.Graph {
	t.Helper()
	clock := &seqClock{t: base}
	g := provenance.New(dictionary.MustDefault(), provenance.WithClock(clock.Now), provenance.WithSessionID(func() string { return "session_test" }))
	_, err := g.Initialize(context.Background(), provenance.SourceDescriptor{
		Filename: "외화채권.csv", Content: strings.NewReader("외화종류,외화금액\nUSD,100\n"), UserID: "user-1",
	})
	require.NoError(t, err)
	matches := []models.ColumnMatch{
		{Header: "외화종류", Index: 0, Field: models.FieldCurrency, Confidence: 1, Method: models.MethodExact},
		{Header: "외화금액", Index: 1, Field: models.FieldAmount, Confidence: 0.6, Method: models.MethodFuzzy},
	}
	_, err = g.DetectSystem([]string{"외화종류", "외화금액"}, matches)
	require.NoError(t, err)
	_, err = g.RecordMapping(matches, models.NewColumnMap())
	require.NoError(t, err)
	_, err = g.RecordExtraction(
		[]models.PositionRecord{{ID: "pos_1", Currency: "USD", Amount: 100, Date: "2026-03-01", Type: "exposure"}},
		[]models.AnonymizedRecord{{"_index": 0, "currency": "USD", "amount": 100.0, "date": "2026-03-01", "type": "exposure"}},
		provenance.ExtractionConfig{Required: []string{"currency", "amount", "date", "type"}},
	)
	require.NoError(t, err)
	require.NoError(t, g.RecordApproval("user-1", true, "ok"))
	require.NoError(t, g.RecordTransmission("https://sink.example/api", true, map[string]any{"ok": true}))
	g.ComputeQuality()
	return g
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	a := newArchive(newSQLite(t))
	g := fullGraph(t)

	res, err := a.Save(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, SaveResult{ID: "prov_001", Tier: "sqlite"}, res)

	got, err := a.GetByID(context.Background(), res.ID)
	require.NoError(t, err)

	want := g.ToDocument()
	if diff := cmp.Diff(want.Graph, got.Graph, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Quality, got.Quality, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("quality mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, want.Summary, got.Summary)
}

func TestSaveRefusesInvalidGraph(t *testing.T) {
	a := newArchive(NewMemoryStore())
	bad := doc("SAP", 1, base, "a.csv")
	bad.Graph.Edges = []provenance.Edge{{From: "source", To: "missing"}}

	_, err := a.SaveDocument(context.Background(), bad)
	assert.ErrorIs(t, err, provenance.ErrInvalidGraph)
}

func TestSearchSystemAndMinQuality(t *testing.T) {
	ctx := context.Background()
	a := newArchive(newSQLite(t))

	systems := []string{"더존", "SAP", "영림원", "더존", "Unknown"}
	matching := map[string]bool{}
	for i := 0; i < 50; i++ {
		system := systems[i%len(systems)]
		quality := 0.5
		// Every 더존 record at an even index is high quality: 10 of 20.
		if system == "더존" && i%2 == 0 {
			quality = 0.8 + float64(i%3)*0.05
		}
		if system != "더존" && i%2 == 0 {
			quality = 0.95
		}
		res, err := a.SaveDocument(ctx, doc(system, quality, base.Add(time.Duration(i)*time.Hour), fmt.Sprintf("file-%02d.csv", i)))
		require.NoError(t, err)
		if system == "더존" && quality >= 0.8 {
			matching[res.ID] = true
		}
	}
	require.Len(t, matching, 10)

	min := 0.8
	got, err := a.Search(ctx, Filter{System: "더존", MinQuality: &min})
	require.NoError(t, err)
	require.Len(t, got, 10)
	for _, r := range got {
		assert.True(t, matching[r.ID], r.ID)
		assert.GreaterOrEqual(t, r.Quality.Overall, 0.8)
		assert.Equal(t, "더존", r.Metadata.Detected.Name)
	}
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Timestamp.After(got[i].Timestamp), "newest first")
	}
}

func TestSearchPredicates(t *testing.T) {
	ctx := context.Background()
	stores := map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store { return newSQLite(t) },
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			s, err := NewRingFileStore(t.TempDir(), 50)
			require.NoError(t, err)
			return s
		},
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			a := newArchive(mk(t))
			d1 := doc("SAP", 0.9, base, "Report_Q1.csv")
			d2 := doc("더존", 0.4, base.Add(48*time.Hour), "report_100%_q2.csv")
			d2.Summary.Status = "transmitted"
			d2.Metadata.Session.UserID = ""
			d2.Metadata.Session.CustomerID = "cust-9"
			d3 := doc("SAP", 0.7, base.Add(96*time.Hour), "other.csv")
			for _, d := range []provenance.Document{d1, d2, d3} {
				_, err := a.SaveDocument(ctx, d)
				require.NoError(t, err)
			}

			from, to := base.Add(48*time.Hour), base.Add(96*time.Hour)
			lo, hi := 0.7, 0.9
			tests := []struct {
				name string
				f    Filter
				want []string
			}{
				{"all newest first", Filter{}, []string{"other.csv", "report_100%_q2.csv", "Report_Q1.csv"}},
				{"filename case-insensitive", Filter{Filename: "REPORT"}, []string{"report_100%_q2.csv", "Report_Q1.csv"}},
				{"filename wildcard is literal", Filter{Filename: "100%"}, []string{"report_100%_q2.csv"}},
				{"system", Filter{System: "SAP"}, []string{"other.csv", "Report_Q1.csv"}},
				{"inclusive date range", Filter{DateFrom: &from, DateTo: &to}, []string{"other.csv", "report_100%_q2.csv"}},
				{"inclusive quality range", Filter{MinQuality: &lo, MaxQuality: &hi}, []string{"other.csv", "Report_Q1.csv"}},
				{"status", Filter{Status: "transmitted"}, []string{"report_100%_q2.csv"}},
				{"user falls back to customer", Filter{UserID: "cust-9"}, []string{"report_100%_q2.csv"}},
				{"full text", Filter{FullText: "SUM-OTHER"}, []string{"other.csv"}},
				{"combined", Filter{System: "SAP", MinQuality: &hi}, []string{"Report_Q1.csv"}},
				{"paged", Filter{Limit: 1, Offset: 1}, []string{"report_100%_q2.csv"}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := a.Search(ctx, tt.f)
					require.NoError(t, err)
					var names []string
					for _, r := range got {
						names = append(names, r.Metadata.Source.Filename)
					}
					assert.Equal(t, tt.want, names)
				})
			}
		})
	}
}

// failingStore rejects every operation as if the backend were down.
type failingStore struct{}

func (failingStore) Name() string { return "broken" }
func (failingStore) Save(context.Context, ArchivedProvenance) error {
	return ErrArchiveUnavailable
}
func (failingStore) Get(context.Context, string) (ArchivedProvenance, error) {
	return ArchivedProvenance{}, ErrArchiveUnavailable
}
func (failingStore) List(context.Context, Filter) ([]ArchivedProvenance, error) {
	return nil, ErrArchiveUnavailable
}
func (failingStore) Delete(context.Context, string) error { return ErrArchiveUnavailable }
func (failingStore) Ping(context.Context) error           { return ErrArchiveUnavailable }
func (failingStore) Close() error                         { return nil }

func TestSaveFallsBackToBoundedFileStore(t *testing.T) {
	ctx := context.Background()
	ring, err := NewRingFileStore(t.TempDir(), 3)
	require.NoError(t, err)
	a := newArchive(failingStore{}, WithFallback(ring))

	var last SaveResult
	for i := 0; i < 5; i++ {
		last, err = a.SaveDocument(ctx, doc("SAP", 0.9, base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("f%d.csv", i)))
		require.NoError(t, err)
	}
	assert.Equal(t, "file", last.Tier)
	assert.True(t, last.Degraded)
	assert.NotEmpty(t, last.Warning)
	assert.True(t, a.Mode().Degraded)

	got, err := a.Search(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3, "only the most recent window is retained")
	assert.Equal(t, "f4.csv", got[0].Metadata.Source.Filename)

	_, err = a.GetByID(ctx, "prov_001")
	assert.ErrorIs(t, err, ErrNotFound)
	rec, err := a.GetByID(ctx, "prov_005")
	require.NoError(t, err)
	assert.Equal(t, "f4.csv", rec.Metadata.Source.Filename)
}

// captureLogs points logger.L at a buffer for the rest of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := logger.L
	logger.L = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	t.Cleanup(func() { logger.L = prev })
	return &buf
}

type evictionRecorder struct {
	tiers []string
	ids   []string
}

func (r *evictionRecorder) hook(tier string, ids []string) {
	r.tiers = append(r.tiers, tier)
	r.ids = append(r.ids, ids...)
}

func TestRingOverflowReportsEvictedIDs(t *testing.T) {
	ctx := context.Background()
	logs := captureLogs(t)
	ring, err := NewRingFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	evicted := &evictionRecorder{}
	ring.OnEvict(evicted.hook)
	a := newArchive(failingStore{}, WithFallback(ring))

	for i := 0; i < 4; i++ {
		_, err := a.SaveDocument(ctx, doc("SAP", 0.9, base, fmt.Sprintf("f%d.csv", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"prov_001", "prov_002"}, evicted.ids)
	assert.Equal(t, []string{"file", "file"}, evicted.tiers)
	out := logs.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, "evicted unpromoted records")
	assert.Contains(t, out, "prov_001")
	assert.Contains(t, out, "prov_002")
}

func TestSaveFallsBackToMemoryWithWarning(t *testing.T) {
	ctx := context.Background()
	a := newArchive(failingStore{}, WithFallback(failingStore{}))

	res, err := a.SaveDocument(ctx, doc("SAP", 0.9, base, "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, SaveResult{ID: "prov_001", Tier: "memory", Degraded: true, Warning: MemoryWarning}, res)
	assert.Equal(t, Mode{Primary: "broken", Fallback: "broken", Degraded: true, MemoryRecords: 1}, a.Mode())

	rec, err := a.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.csv", rec.Metadata.Source.Filename)
}

func TestNilPrimaryStartsDegraded(t *testing.T) {
	a := newArchive(nil)
	assert.Equal(t, Mode{Primary: "none", Degraded: true}, a.Mode())
	_, err := a.Recover(context.Background())
	assert.ErrorIs(t, err, ErrArchiveUnavailable)
}

// toggleStore fails until healthy is set.
type toggleStore struct {
	Store
	healthy bool
}

func (s *toggleStore) Save(ctx context.Context, rec ArchivedProvenance) error {
	if !s.healthy {
		return ErrArchiveUnavailable
	}
	return s.Store.Save(ctx, rec)
}

func (s *toggleStore) Ping(ctx context.Context) error {
	if !s.healthy {
		return ErrArchiveUnavailable
	}
	return nil
}

func TestRecoverPromotesIntoPrimary(t *testing.T) {
	ctx := context.Background()
	primary := &toggleStore{Store: newSQLite(t)}
	ring, err := NewRingFileStore(t.TempDir(), 10)
	require.NoError(t, err)
	a := newArchive(primary, WithFallback(ring))

	_, err = a.SaveDocument(ctx, doc("SAP", 0.9, base, "a.csv"))
	require.NoError(t, err)
	_, err = a.SaveDocument(ctx, doc("SAP", 0.9, base, "b.csv"))
	require.NoError(t, err)

	_, err = a.Recover(ctx)
	assert.ErrorIs(t, err, ErrArchiveUnavailable)

	primary.healthy = true
	n, err := a.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, a.Mode().Degraded)

	inPrimary, err := primary.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, inPrimary, 2)
	left, err := ring.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPrimarySaveKeepsDegradedUntilScheduledRecovery(t *testing.T) {
	ctx := context.Background()
	primary := &toggleStore{Store: newSQLite(t)}
	a := newArchive(primary)

	first, err := a.SaveDocument(ctx, doc("SAP", 0.9, base, "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, "memory", first.Tier)

	primary.healthy = true
	second, err := a.SaveDocument(ctx, doc("SAP", 0.9, base, "b.csv"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", second.Tier)
	assert.Equal(t, Mode{Primary: "sqlite", Degraded: true, MemoryRecords: 1}, a.Mode(), "memory still holds an unpromoted record")

	c := cron.New()
	id, err := a.ScheduleRecovery(c, "@every 1h", time.Second)
	require.NoError(t, err)
	c.Entry(id).Job.Run()

	assert.Equal(t, Mode{Primary: "sqlite", Degraded: false, MemoryRecords: 0}, a.Mode())
	inPrimary, err := primary.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, inPrimary, 2)
	rec, err := primary.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.csv", rec.Metadata.Source.Filename)
}

func TestStatisticsAndAuditExport(t *testing.T) {
	ctx := context.Background()
	a := newArchive(NewMemoryStore())
	d1 := doc("SAP", 0.95, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), "a.csv")
	d1.Summary.ProcessingTimeSeconds = 2
	d2 := doc("더존", 0.75, time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC), "b.csv")
	d2.Summary.ProcessingTimeSeconds = 4
	d2.Summary.Status = "transmitted"
	d2.Graph.Nodes = append(d2.Graph.Nodes, provenance.Node{
		ID: "data-extraction", Type: provenance.TypeTransformation, Stage: provenance.StageExtraction,
		Data: provenance.NodeData{Extraction: &provenance.ExtractionData{Statistics: provenance.ExtractionStats{OriginalRows: 120}}},
	})
	d3 := doc("SAP", 0.3, time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC), "c.csv")
	for _, d := range []provenance.Document{d1, d2, d3} {
		_, err := a.SaveDocument(ctx, d)
		require.NoError(t, err)
	}

	st, err := a.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, Statistics{
		Total:               3,
		BySystem:            map[string]int{"SAP": 2, "더존": 1},
		ByStatus:            map[string]int{"processing": 2, "transmitted": 1},
		ByMonth:             map[string]int{"2026-09": 1, "2026-10": 2},
		QualityDistribution: QualityDistribution{Excellent: 1, Good: 1, Poor: 1},
		AvgQuality:          0.6667,
		AvgProcessingTime:   2,
		TotalDataProcessed:  120,
	}, st)

	exp, err := a.ExportForAudit(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, exp.RecordCount)
	assert.Len(t, exp.Records, 3)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), *exp.Period.From)
	assert.Equal(t, time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC), *exp.Period.To)
	assert.Equal(t, st, exp.Summary)

	subset, err := a.ExportForAudit(ctx, []string{"prov_002"})
	require.NoError(t, err)
	assert.Equal(t, 1, subset.RecordCount)

	_, err = a.ExportForAudit(ctx, []string{"prov_002", "prov_404"})
	assert.ErrorIs(t, err, ErrNotFound, "a missing record fails the export instead of being omitted")
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	a := newArchive(NewMemoryStore())
	d := doc("SAP", 0.875, time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC), "=cmd.csv")
	d.Summary.ProcessingTimeSeconds = 1.5
	_, err := a.SaveDocument(ctx, d)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, a.ExportCSV(ctx, &buf, nil))
	require.True(t, strings.HasPrefix(buf.String(), "\ufeff"))

	rows, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(buf.String(), "\ufeff"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"prov_001", "2026-10-01T08:30:00Z", "'=cmd.csv", "SAP", "processing", "87.5%", "1.5", "0", "sum-=cmd.csv"}, rows[1])
}

func TestRecentDuplicatesAndDelete(t *testing.T) {
	ctx := context.Background()
	a := newArchive(newSQLite(t))
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("f%d.csv", i%4)
		_, err := a.SaveDocument(ctx, doc("SAP", 0.9, base, name))
		require.NoError(t, err)
	}

	recent, err := a.GetRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, "prov_012", recent[0].ID)

	dups, err := a.FindDuplicates(ctx, "sum-f1.csv")
	require.NoError(t, err)
	assert.Len(t, dups, 3)

	require.NoError(t, a.Delete(ctx, "prov_002"))
	dups, err = a.FindDuplicates(ctx, "sum-f1.csv")
	require.NoError(t, err)
	assert.Len(t, dups, 2)
	assert.True(t, errors.Is(a.Delete(ctx, "prov_002"), ErrNotFound))
}

func TestNewSQLiteStoreChecksSchema(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "legacy.db"))
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE provenance_archive (id TEXT PRIMARY KEY, document TEXT NOT NULL)`)
	require.NoError(t, err)

	_, err = NewSQLiteStore(db)
	require.ErrorIs(t, err, ErrArchiveUnavailable)
	assert.Contains(t, err.Error(), "archived_at")
	assert.Contains(t, err.Error(), "search_text")

	s, err := NewSQLiteStore(newSQLite(t).db)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.Name())
}

func TestRingFileStoreSkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewRingFileStore(dir, 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("{"), 0o600))

	got, err := s.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, DefaultRetain, s.retain)
}

func newRedisStore(t *testing.T, retain int) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://"+mr.Addr(), retain)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, 2)
	evicted := &evictionRecorder{}
	s.OnEvict(evicted.hook)

	for i := 0; i < 3; i++ {
		rec := ArchivedProvenance{ID: fmt.Sprintf("r%d", i), Timestamp: base, Document: doc("SAP", 0.9, base, fmt.Sprintf("f%d.csv", i))}
		require.NoError(t, s.Save(ctx, rec))
	}
	assert.Equal(t, []string{"r0"}, evicted.ids)
	assert.Equal(t, []string{"redis"}, evicted.tiers)
	assert.Empty(t, mr.HGet(redisDocsKey, "r0"), "evicted document is removed from the hash")

	got, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].ID)
	assert.Equal(t, "f2.csv", got[0].Metadata.Source.Filename)

	sap, err := s.List(ctx, Filter{System: "SAP", Filename: "f1"})
	require.NoError(t, err)
	require.Len(t, sap, 1)
	assert.Equal(t, "r1", sap[0].ID)

	_, err = s.Get(ctx, "r0")
	assert.ErrorIs(t, err, ErrNotFound)
	rec, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "f1.csv", rec.Metadata.Source.Filename)

	require.NoError(t, s.Delete(ctx, "r2"))
	assert.ErrorIs(t, s.Delete(ctx, "r2"), ErrNotFound)
	require.NoError(t, s.Ping(ctx))
}

func TestRedisFallbackRecoversIntoPrimary(t *testing.T) {
	ctx := context.Background()
	rs, _ := newRedisStore(t, 10)
	primary := &toggleStore{Store: newSQLite(t)}
	a := newArchive(primary, WithFallback(rs))

	res, err := a.SaveDocument(ctx, doc("SAP", 0.9, base, "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, "redis", res.Tier)
	assert.True(t, res.Degraded)

	primary.healthy = true
	n, err := a.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, a.Mode().Degraded)

	left, err := rs.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, left)
	_, err = primary.Get(ctx, res.ID)
	assert.NoError(t, err)
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr := newRedisStore(t, 2)
	mr.Close()
	err := s.Ping(context.Background())
	assert.ErrorIs(t, err, ErrArchiveUnavailable)
	err = s.Save(context.Background(), ArchivedProvenance{ID: "x", Timestamp: base, Document: doc("SAP", 0.9, base, "x.csv")})
	assert.ErrorIs(t, err, ErrArchiveUnavailable)
}
