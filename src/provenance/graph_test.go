package provenance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/dictionary"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *testClock {
	return &testClock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
}

var koreanHeaders = []string{"거래처명", "외화종류", "외화금액", "결제예정일"}

func newTestGraph(t *testing.T, clock *testClock) *Graph {
	t.Helper()
	return New(dictionary.MustDefault(),
		WithClock(clock.Now),
		WithSessionID(func() string { return "session_test" }),
	)
}

func initialize(t *testing.T, g *Graph) {
	t.Helper()
	_, err := g.Initialize(context.Background(), SourceDescriptor{
		Filename:    "외화채권.csv",
		ContentType: "text/csv",
		Content:     strings.NewReader("통화,금액\nUSD,100\n"),
		UserID:      "user-1",
	})
	require.NoError(t, err)
}

func highMatches() []models.ColumnMatch {
	return []models.ColumnMatch{
		{Header: "외화종류", Index: 1, Field: models.FieldCurrency, Confidence: 1, Method: models.MethodExact},
		{Header: "외화금액", Index: 2, Field: models.FieldAmount, Confidence: 1, Method: models.MethodExact},
	}
}

func sampleRecords() ([]models.PositionRecord, []models.AnonymizedRecord) {
	orig := []models.PositionRecord{
		{ID: "pos_1", Currency: "USD", Amount: 100, Date: "2026-03-01", Type: "exposure", Counterparty: "ACME", HedgeStatus: models.HedgeStatusUnhedged},
	}
	extracted := []models.AnonymizedRecord{
		{"_index": 0, "currency": "USD", "amount": 100.0, "date": "2026-03-01", "type": "exposure"},
	}
	return orig, extracted
}

var requiredFields = []string{"currency", "amount", "date", "type"}

// runStages records every stage through extraction.
func runStages(t *testing.T, g *Graph, matches []models.ColumnMatch) {
	t.Helper()
	initialize(t, g)
	_, err := g.DetectSystem(koreanHeaders, matches)
	require.NoError(t, err)
	_, err = g.RecordMapping(matches, models.NewColumnMap())
	require.NoError(t, err)
	orig, extracted := sampleRecords()
	_, err = g.RecordExtraction(orig, extracted, ExtractionConfig{Required: requiredFields})
	require.NoError(t, err)
}

func TestInitialize(t *testing.T) {
	g := newTestGraph(t, newClock())
	initialize(t, g)

	node, ok := g.Node("source")
	require.True(t, ok)
	assert.Equal(t, TypeFileUpload, node.Type)
	assert.Equal(t, StatusSuccess, node.Status)
	assert.Len(t, node.Data.Upload.Checksum, 64)
	assert.Equal(t, int64(len("통화,금액\nUSD,100\n")), node.Data.Upload.Size)

	md := g.Metadata()
	assert.Equal(t, "session_test", md.Session.SessionID)
	assert.Equal(t, "user-1", md.Session.UserID)
	assert.Equal(t, node.Data.Upload.Checksum, md.Source.Checksum)
	assert.NotEmpty(t, md.System.Platform)
}

func TestInitializeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestGraph(t, newClock()).Initialize(ctx, SourceDescriptor{Filename: "a.csv", Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectSystemKoreanHeadersTieGoesToFirstSignature(t *testing.T) {
	g := newTestGraph(t, newClock())
	initialize(t, g)

	det, err := g.DetectSystem(koreanHeaders, nil)
	require.NoError(t, err)
	// 더존 and 한컴 both match one of four columns.
	assert.Equal(t, "더존", det.Name)
	assert.Equal(t, 0.25, det.Confidence)
	assert.Equal(t, []string{"외화종류"}, det.MatchedColumns)

	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, Edge{From: "source", To: "system-detection", Relationship: "analyzed", Timestamp: edges[0].Timestamp}, edges[0])
}

func TestDetectSystem(t *testing.T) {
	tests := []struct {
		name       string
		headers    []string
		want       string
		confidence float64
	}{
		{"sap", []string{"Customer", "Amt in FC", "Currency", "Document Date"}, "SAP", 1},
		{"youngrimwon partial", []string{"업체명", "외화잔액", "비고"}, "영림원", 0.5},
		{"nothing", []string{"Foo", "Bar"}, UnknownSystem, 0},
		{"blank headers never match", []string{"", " "}, UnknownSystem, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGraph(t, newClock())
			initialize(t, g)
			det, err := g.DetectSystem(tt.headers, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, det.Name)
			assert.Equal(t, tt.confidence, det.Confidence)
		})
	}
}

func TestStagesMustBeRecordedInOrder(t *testing.T) {
	g := newTestGraph(t, newClock())

	_, err := g.DetectSystem(koreanHeaders, nil)
	assert.ErrorIs(t, err, ErrStageOrder)

	initialize(t, g)
	_, err = g.RecordMapping(highMatches(), models.NewColumnMap())
	assert.ErrorIs(t, err, ErrStageOrder)
	assert.ErrorIs(t, g.RecordApproval("u", true, ""), ErrStageOrder)
	assert.ErrorIs(t, g.RecordTransmission("http://x", true, nil), ErrStageOrder)
	assert.Len(t, g.Nodes(), 1, "rejected stages add nothing")
}

func TestFullRun(t *testing.T) {
	clock := newClock()
	g := newTestGraph(t, clock)
	runStages(t, g, highMatches())
	clock.Advance(2 * time.Second)
	require.NoError(t, g.RecordApproval("user-1", true, "ok"))
	require.NoError(t, g.RecordTransmission("https://sink/api/hedge/calculate", true, map[string]any{"success": true}))

	var ids []string
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"source", "system-detection", "column-mapping", "data-extraction", "user-approval", "server-transmission"}, ids)

	var rels []string
	for _, e := range g.Edges() {
		rels = append(rels, e.Relationship)
	}
	assert.Equal(t, []string{"analyzed", "mapped", "extracted", "reviewed", "transmitted"}, rels)

	q := g.ComputeQuality()
	require.NotNil(t, q)
	s := g.Summary()
	assert.Equal(t, "success", s.Status)
	assert.Equal(t, "외화채권.csv", s.Filename)
	assert.Equal(t, "더존", s.System)
	assert.Equal(t, 6, s.TotalSteps)
	assert.Equal(t, 5, s.CompletedSteps, "approval is approved, not success")
	assert.Equal(t, 2.0, s.ProcessingTimeSeconds)
	assert.Equal(t, 1, s.RowCount)
	require.NotNil(t, s.DataQuality)
	assert.Equal(t, q.Overall, *s.DataQuality)
	require.NoError(t, g.Validate())

	tx, ok := g.Latest(StageTransmission)
	require.True(t, ok)
	assert.JSONEq(t, `{"success":true}`, string(tx.Data.Transmission.Response))
}

func TestSummaryStatus(t *testing.T) {
	g := newTestGraph(t, newClock())
	initialize(t, g)
	assert.Equal(t, "processing", g.Summary().Status)

	_, err := g.DetectSystem(koreanHeaders, nil)
	require.NoError(t, err)
	require.NoError(t, g.RecordMappingFailure(nil, []models.CanonicalField{models.FieldAmount}))
	assert.Equal(t, "failed", g.Summary().Status)

	node, _ := g.Latest(StageMapping)
	assert.Equal(t, []models.CanonicalField{models.FieldAmount}, node.Data.Mapping.Missing)
}

func TestRecordMappingStatistics(t *testing.T) {
	g := newTestGraph(t, newClock())
	initialize(t, g)
	_, err := g.DetectSystem(koreanHeaders, nil)
	require.NoError(t, err)

	matches := []models.ColumnMatch{
		{Field: models.FieldCurrency, Confidence: 1, Method: models.MethodExact},
		{Field: models.FieldAmount, Confidence: 0.6, Method: models.MethodFallback},
		{Field: models.FieldDate, Confidence: 0.4, Method: models.MethodFallback},
	}
	stats, err := g.RecordMapping(matches, models.NewColumnMap())
	require.NoError(t, err)
	assert.Equal(t, MappingStats{
		TotalColumns:     3,
		HighConfidence:   1,
		MediumConfidence: 1,
		LowConfidence:    1,
		Methods:          map[models.MatchMethod]int{models.MethodExact: 1, models.MethodFallback: 2},
	}, stats)

	node, _ := g.Latest(StageMapping)
	assert.Equal(t, StatusWarning, node.Status)
}

func TestRecordExtraction(t *testing.T) {
	g := newTestGraph(t, newClock())
	initialize(t, g)
	_, err := g.DetectSystem(koreanHeaders, nil)
	require.NoError(t, err)
	_, err = g.RecordMapping(highMatches(), models.NewColumnMap())
	require.NoError(t, err)

	orig, extracted := sampleRecords()
	stats, err := g.RecordExtraction(orig, extracted, ExtractionConfig{
		Required:    requiredFields,
		Optional:    []string{"hedgedAmount", "hedgeStatus"},
		Excluded:    []string{"counterparty", "bank"},
		SkippedRows: 2,
		SkipReasons: map[string]int{"no-amount": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OriginalRows)
	assert.Equal(t, 1, stats.ExtractedRows)
	assert.Equal(t, 9, stats.OriginalColumns)
	assert.Equal(t, 4, stats.ExtractedColumns)
	assert.Equal(t, 2, stats.OptionalColumns)
	assert.Equal(t, 2, stats.ExcludedColumns)
	assert.Equal(t, 4, stats.PresentRequired)
	assert.Greater(t, stats.DataReduction, 0.0)
	assert.Less(t, stats.DataReduction, 100.0)

	node, _ := g.Latest(StageExtraction)
	assert.Equal(t, StatusWarning, node.Status, "skipped rows are a warning")
}

func TestComputeQualityNeedsMappingAndExtraction(t *testing.T) {
	g := newTestGraph(t, newClock())
	initialize(t, g)
	assert.Nil(t, g.ComputeQuality())
}

func TestComputeQuality(t *testing.T) {
	clock := newClock()
	g := newTestGraph(t, clock)
	runStages(t, g, highMatches())

	q := g.ComputeQuality()
	require.NotNil(t, q)
	assert.Equal(t, QualityDimensions{Completeness: 1, Accuracy: 1, Consistency: 1, Timeliness: 1}, q.Dimensions)
	assert.InDelta(t, 1.0, q.Overall, 1e-9)
	assert.Empty(t, q.Issues)
	assert.Empty(t, q.Recommendations)
}

func TestComputeQualityIssues(t *testing.T) {
	clock := newClock()
	g := newTestGraph(t, clock)
	matches := []models.ColumnMatch{
		{Field: models.FieldCurrency, Confidence: 0.4, Method: models.MethodFallback},
		{Field: models.FieldAmount, Confidence: 0.6, Method: models.MethodFallback},
	}
	initialize(t, g)
	_, err := g.DetectSystem(koreanHeaders, matches)
	require.NoError(t, err)
	_, err = g.RecordMapping(matches, models.NewColumnMap())
	require.NoError(t, err)
	orig, _ := sampleRecords()
	_, err = g.RecordExtraction(orig, []models.AnonymizedRecord{{"currency": "USD", "amount": 1.0}}, ExtractionConfig{Required: requiredFields})
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)

	q := g.ComputeQuality()
	require.NotNil(t, q)
	assert.Equal(t, 0.5, q.Dimensions.Completeness)
	assert.InDelta(t, 0.35, q.Dimensions.Accuracy, 1e-9)
	assert.InDelta(t, 0.4, q.Dimensions.Timeliness, 1e-9)
	assert.InDelta(t, 0.5*0.3+0.35*0.4+1*0.2+0.4*0.1, q.Overall, 1e-9)

	var types []string
	for _, issue := range q.Issues {
		types = append(types, issue.Type)
	}
	assert.Equal(t, []string{"completeness", "accuracy", "timeliness"}, types)
	assert.Len(t, q.Recommendations, 2)
}

func TestTimeliness(t *testing.T) {
	assert.Equal(t, 1.0, Timeliness(0))
	assert.Equal(t, 1.0, Timeliness(5))
	assert.InDelta(t, 0.5, Timeliness(17.5), 1e-9)
	assert.Equal(t, 0.0, Timeliness(30))
	assert.Equal(t, 0.0, Timeliness(90))
}

// Moving one match at a time from low to medium to high never lowers the score.
func TestQualityMonotonicInConfidence(t *testing.T) {
	const total = 4
	overall := func(high, medium, low int) float64 {
		var matches []models.ColumnMatch
		for _, n := range []struct {
			count int
			conf  float64
		}{{high, 0.95}, {medium, 0.6}, {low, 0.2}} {
			for i := 0; i < n.count; i++ {
				matches = append(matches, models.ColumnMatch{Field: models.FieldCurrency, Confidence: n.conf, Method: models.MethodFuzzy})
			}
		}
		g := newTestGraph(t, newClock())
		runStages(t, g, matches)
		q := g.ComputeQuality()
		require.NotNil(t, q)
		return q.Overall
	}

	high, medium, low := 0, 0, total
	prev := overall(high, medium, low)
	for low > 0 {
		low--
		medium++
		cur := overall(high, medium, low)
		require.GreaterOrEqual(t, cur, prev, "low->medium at %d/%d/%d", high, medium, low)
		prev = cur
	}
	for medium > 0 {
		medium--
		high++
		cur := overall(high, medium, low)
		require.GreaterOrEqual(t, cur, prev, "medium->high at %d/%d/%d", high, medium, low)
		prev = cur
	}
	assert.InDelta(t, 1.0, prev, 1e-9)
}

func TestRepeatedStagesBranch(t *testing.T) {
	g := newTestGraph(t, newClock())
	runStages(t, g, highMatches())
	_, err := g.RecordMapping(highMatches(), models.NewColumnMap())
	require.NoError(t, err)
	initialize(t, g)

	_, ok := g.Node("column-mapping-2")
	assert.True(t, ok)
	_, ok = g.Node("source-2")
	assert.True(t, ok)

	edges := g.Edges()
	assert.Equal(t, "system-detection", edges[len(edges)-1].From)
	assert.Equal(t, "column-mapping-2", edges[len(edges)-1].To)
	assert.Len(t, g.Nodes(), 6, "history is kept, never replaced")
	require.NoError(t, g.Validate())
}

func TestDocumentIsIndependent(t *testing.T) {
	g := newTestGraph(t, newClock())
	runStages(t, g, highMatches())
	g.ComputeQuality()

	doc := g.ToDocument()
	doc.Graph.Nodes[0].Data.Upload.Filename = "tampered"
	doc.Graph.Nodes[2].Data.Mapping.Matches[0].Confidence = 0
	doc.Quality.Issues = append(doc.Quality.Issues, QualityIssue{Type: "x"})

	node, _ := g.Node("source")
	assert.Equal(t, "외화채권.csv", node.Data.Upload.Filename)
	mapping, _ := g.Node("column-mapping")
	assert.Equal(t, 1.0, mapping.Data.Mapping.Matches[0].Confidence)
	assert.Empty(t, g.Quality().Issues)
}

func TestDocumentJSONRoundTrip(t *testing.T) {
	g := newTestGraph(t, newClock())
	runStages(t, g, highMatches())
	require.NoError(t, g.RecordApproval("user-1", false, "wrong period"))
	g.ComputeQuality()
	doc := g.ToDocument()

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var decoded Document
	require.NoError(t, json.Unmarshal(raw, &decoded))

	if diff := cmp.Diff(doc, decoded, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("document round trip mismatch (-want +got):\n%s", diff)
	}

	restored, err := FromDocument(decoded, dictionary.MustDefault())
	require.NoError(t, err)
	if diff := cmp.Diff(doc.Graph, restored.ToDocument().Graph, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("restored graph mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "rejected", restored.Summary().Status)

	require.NoError(t, restored.RecordApproval("user-2", true, "fixed"))
	_, ok := restored.Node("user-approval-2")
	assert.True(t, ok)
}

func TestToMermaid(t *testing.T) {
	g := newTestGraph(t, newClock())
	initialize(t, g)
	_, err := g.DetectSystem(koreanHeaders, nil)
	require.NoError(t, err)

	want := "graph LR\n" +
		"    source[\"file-upload\"] -->|analyzed| system-detection[\"analysis\"]\n"
	assert.Equal(t, want, g.ToMermaid())
}

func TestValidateDocument(t *testing.T) {
	ts := time.Now()
	nodes := []Node{{ID: "a", Type: TypeFileUpload}, {ID: "b", Type: TypeAnalysis}}

	assert.NoError(t, ValidateDocument(Document{Graph: GraphData{Nodes: nodes, Edges: []Edge{{From: "a", To: "b", Timestamp: ts}}}}))

	err := ValidateDocument(Document{Graph: GraphData{Nodes: append(nodes, Node{ID: "a", Type: TypeApproval})}})
	assert.True(t, errors.Is(err, ErrInvalidGraph))
	assert.Contains(t, err.Error(), "duplicate")

	err = ValidateDocument(Document{Graph: GraphData{Nodes: nodes, Edges: []Edge{{From: "a", To: "zz"}}}})
	assert.ErrorIs(t, err, ErrInvalidGraph)

	err = ValidateDocument(Document{Graph: GraphData{Nodes: nodes, Edges: []Edge{{From: "a", To: "b"}, {From: "b", To: "a"}}}})
	assert.ErrorIs(t, err, ErrInvalidGraph)
	assert.Contains(t, err.Error(), "cycle")

	_, err = FromDocument(Document{Graph: GraphData{Nodes: []Node{{ID: ""}}}}, nil)
	assert.ErrorIs(t, err, ErrInvalidGraph)
}
