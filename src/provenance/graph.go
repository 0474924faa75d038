// Package provenance records the lineage of one uploaded file as an
// append-only DAG of processing stages, and scores the run's data quality.
package provenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/dictionary"
	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/00vip7-stack/hedge-dashboard/src/utils"
	"github.com/google/uuid"
)

var (
	ErrStageOrder   = errors.New("provenance stage recorded out of order")
	ErrInvalidGraph = errors.New("invalid provenance graph")
)

// UnknownSystem is reported when no signature column matches.
const UnknownSystem = "Unknown"

const (
	highConfidence   = 0.9
	mediumConfidence = 0.5
)

// SourceDescriptor describes the uploaded file. Content is read once to
// compute the checksum.
type SourceDescriptor struct {
	Filename        string
	ContentType     string
	Size            int64
	LastModified    time.Time
	Content         io.Reader
	UserID          string
	CustomerID      string
	WorkspaceFolder string
}

type Graph struct {
	mu         sync.Mutex
	signatures []dictionary.SystemSignature
	now        func() time.Time
	newSession func() string

	metadata Metadata
	nodes    []Node
	edges    []Edge
	quality  *QualityScore
	counts   map[Stage]int
}

type Option func(*Graph)

func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

func WithSessionID(newSession func() string) Option {
	return func(g *Graph) { g.newSession = newSession }
}

// New returns an empty graph that detects source systems using the
// signatures of dict.
func New(dict *dictionary.Dictionary, opts ...Option) *Graph {
	g := &Graph{
		now:        time.Now,
		newSession: func() string { return "session_" + uuid.NewString() },
		counts:     make(map[Stage]int),
	}
	if dict != nil {
		g.signatures = dict.Signatures()
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Graph) timestamp() time.Time {
	return g.now().UTC()
}

// Initialize records the source node. Calling it again on the same graph
// starts a new branch rooted at a fresh source node.
func (g *Graph) Initialize(ctx context.Context, src SourceDescriptor) (*Node, error) {
	checksum, n, err := checksumOf(ctx, src.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum %q: %w", src.Filename, err)
	}
	size := src.Size
	if size <= 0 {
		size = n
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.timestamp()
	hostname, _ := os.Hostname()
	zone, _ := g.now().Zone()

	session := g.metadata.Session
	if session.SessionID == "" {
		session.SessionID = g.newSession()
	}
	session.UserID = src.UserID
	session.CustomerID = src.CustomerID
	session.WorkspaceFolder = src.WorkspaceFolder

	g.metadata = Metadata{
		Source: SourceMetadata{
			Filename:     src.Filename,
			FileSize:     size,
			FileType:     src.ContentType,
			LastModified: src.LastModified.UTC(),
			UploadedAt:   now,
			Checksum:     checksum,
		},
		System: HostMetadata{
			Hostname: hostname,
			Platform: runtime.GOOS + "/" + runtime.GOARCH,
			Runtime:  runtime.Version(),
			Timezone: zone,
		},
		Session: session,
	}

	node := g.appendNode(StageSource, StatusSuccess, NodeData{Upload: &UploadData{
		Filename: src.Filename,
		Size:     size,
		Checksum: checksum,
	}}, "")
	logger.FromContext(ctx).Debug("Provenance initialised", "filename", src.Filename, "checksum", checksum, "node", node.ID)
	return &node, nil
}

func checksumOf(ctx context.Context, r io.Reader) (string, int64, error) {
	h := sha256.New()
	if r == nil {
		return hex.EncodeToString(h.Sum(nil)), 0, nil
	}
	n, err := io.Copy(h, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// DetectSystem scores headers against the known source-system signatures.
// A signature column matches when it and some header contain one another.
// Confidence is matched/total signature columns; ties keep the earlier
// signature.
func (g *Graph) DetectSystem(headers []string, matches []models.ColumnMatch) (DetectedSystem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	best := DetectedSystem{Name: UnknownSystem, MatchedColumns: []string{}}
	for _, sig := range g.signatures {
		if len(sig.Columns) == 0 {
			continue
		}
		matched := []string{}
		for _, col := range sig.Columns {
			if headerMatches(headers, col) {
				matched = append(matched, col)
			}
		}
		confidence := float64(len(matched)) / float64(len(sig.Columns))
		if confidence > best.Confidence {
			best = DetectedSystem{Name: sig.Name, Confidence: confidence, MatchedColumns: matched}
		}
	}

	if err := g.requirePredecessor(StageDetection); err != nil {
		return best, err
	}
	g.metadata.Detected = &DetectedSystem{Name: best.Name, Confidence: best.Confidence, MatchedColumns: append([]string{}, best.MatchedColumns...)}
	g.appendNode(StageDetection, StatusSuccess, NodeData{Detection: &DetectionData{
		System:         best.Name,
		Confidence:     best.Confidence,
		MatchedColumns: append([]string{}, best.MatchedColumns...),
		TotalHeaders:   len(headers),
	}}, stageRelationships[StageDetection])
	return best, nil
}

func headerMatches(headers []string, col string) bool {
	for _, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if strings.Contains(h, col) || strings.Contains(col, h) {
			return true
		}
	}
	return false
}

// MappingStatistics buckets matches by confidence and counts methods.
func MappingStatistics(matches []models.ColumnMatch) MappingStats {
	stats := MappingStats{TotalColumns: len(matches), Methods: make(map[models.MatchMethod]int)}
	for _, m := range matches {
		switch {
		case m.Confidence >= highConfidence:
			stats.HighConfidence++
		case m.Confidence >= mediumConfidence:
			stats.MediumConfidence++
		default:
			stats.LowConfidence++
		}
		method := m.Method
		if method == "" {
			method = models.MethodFallback
		}
		stats.Methods[method]++
	}
	return stats
}

// RecordMapping records the accepted column matches. The node is a warning
// when any of them is low confidence.
func (g *Graph) RecordMapping(matches []models.ColumnMatch, cm models.ColumnMap) (MappingStats, error) {
	stats := MappingStatistics(matches)
	status := StatusSuccess
	if stats.LowConfidence > 0 {
		status = StatusWarning
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requirePredecessor(StageMapping); err != nil {
		return stats, err
	}
	g.appendNode(StageMapping, status, NodeData{Mapping: &MappingData{
		Matches:    cloneMatches(matches),
		ColumnMap:  cloneColumnMap(cm),
		Statistics: stats,
	}}, stageRelationships[StageMapping])
	return stats, nil
}

// RecordMappingFailure records a mapping that left required fields unresolved.
func (g *Graph) RecordMappingFailure(matches []models.ColumnMatch, missing []models.CanonicalField) error {
	stats := MappingStatistics(matches)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requirePredecessor(StageMapping); err != nil {
		return err
	}
	cm := models.NewColumnMap()
	cm.Diagnostics = cloneMatches(matches)
	g.appendNode(StageMapping, StatusFailed, NodeData{Mapping: &MappingData{
		Matches:    cloneMatches(matches),
		ColumnMap:  cm,
		Statistics: stats,
		Missing:    append([]models.CanonicalField{}, missing...),
	}}, stageRelationships[StageMapping])
	return nil
}

// RecordExtraction compares the local records with their transmit-safe
// projection.
func (g *Graph) RecordExtraction(original []models.PositionRecord, extracted []models.AnonymizedRecord, cfg ExtractionConfig) (ExtractionStats, error) {
	stats := ExtractionStats{
		OriginalRows:     len(original),
		ExtractedRows:    len(extracted),
		ExtractedColumns: len(cfg.Required),
		OptionalColumns:  len(cfg.Optional),
		ExcludedColumns:  len(cfg.Excluded),
		ExpectedRequired: len(cfg.Required),
		PresentRequired:  presentRequired(extracted, cfg.Required),
		SkippedRows:      cfg.SkippedRows,
	}
	if len(original) > 0 {
		if raw, err := json.Marshal(original[0]); err == nil {
			var keys map[string]json.RawMessage
			if json.Unmarshal(raw, &keys) == nil {
				stats.OriginalColumns = len(keys)
			}
		}
	}
	reduction, err := dataReduction(original, extracted)
	if err != nil {
		return stats, err
	}
	stats.DataReduction = reduction

	status := StatusSuccess
	if cfg.SkippedRows > 0 || stats.PresentRequired < stats.ExpectedRequired {
		status = StatusWarning
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requirePredecessor(StageExtraction); err != nil {
		return stats, err
	}
	g.appendNode(StageExtraction, status, NodeData{Extraction: &ExtractionData{
		Config:     cloneExtractionConfig(cfg),
		Statistics: stats,
	}}, stageRelationships[StageExtraction])
	return stats, nil
}

// presentRequired counts required fields carried by every extracted record.
func presentRequired(extracted []models.AnonymizedRecord, required []string) int {
	if len(extracted) == 0 {
		return 0
	}
	present := 0
	for _, field := range required {
		all := true
		for _, rec := range extracted {
			if v, ok := rec[field]; !ok || v == nil {
				all = false
				break
			}
		}
		if all {
			present++
		}
	}
	return present
}

func dataReduction(original []models.PositionRecord, extracted []models.AnonymizedRecord) (float64, error) {
	if len(original) == 0 || len(extracted) == 0 {
		return 0, nil
	}
	o, err := json.Marshal(original)
	if err != nil {
		return 0, fmt.Errorf("failed to size original records: %w", err)
	}
	e, err := json.Marshal(extracted)
	if err != nil {
		return 0, fmt.Errorf("failed to size extracted records: %w", err)
	}
	return utils.RoundFloat(float64(len(o)-len(e))/float64(len(o))*100, 2), nil
}

// RecordApproval records the reviewer's decision.
func (g *Graph) RecordApproval(userID string, approved bool, comment string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requirePredecessor(StageApproval); err != nil {
		return err
	}
	status := StatusRejected
	if approved {
		status = StatusApproved
	}
	g.appendNode(StageApproval, status, NodeData{Approval: &ApprovalData{
		UserID:     userID,
		Approved:   approved,
		Comment:    comment,
		ReviewedAt: g.timestamp(),
	}}, stageRelationships[StageApproval])
	return nil
}

// RecordTransmission records the outcome of sending the projection.
// response must marshal to JSON.
func (g *Graph) RecordTransmission(endpoint string, success bool, response any) error {
	var raw json.RawMessage
	if response != nil {
		b, err := json.Marshal(response)
		if err != nil {
			return fmt.Errorf("failed to encode transmission response: %w", err)
		}
		raw = b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requirePredecessor(StageTransmission); err != nil {
		return err
	}
	status := StatusFailed
	if success {
		status = StatusSuccess
	}
	g.appendNode(StageTransmission, status, NodeData{Transmission: &TransmissionData{
		Endpoint:      endpoint,
		Success:       success,
		Response:      raw,
		TransmittedAt: g.timestamp(),
	}}, stageRelationships[StageTransmission])
	return nil
}

// requirePredecessor fails unless the stage before s has been recorded.
func (g *Graph) requirePredecessor(s Stage) error {
	pos := s.position()
	if pos <= 0 {
		return nil
	}
	prev := stageOrder[pos-1]
	if g.latestLocked(prev) == nil {
		return fmt.Errorf("%w: %s requires %s", ErrStageOrder, s, prev)
	}
	return nil
}

// appendNode adds a node for s with an edge from the latest node of the
// previous stage.
func (g *Graph) appendNode(s Stage, status Status, data NodeData, relationship string) Node {
	g.counts[s]++
	id := string(s)
	if c := g.counts[s]; c > 1 {
		id = fmt.Sprintf("%s-%d", s, c)
	}
	for g.nodeLocked(id) != nil {
		g.counts[s]++
		id = fmt.Sprintf("%s-%d", s, g.counts[s])
	}

	now := g.timestamp()
	var from *Node
	if pos := s.position(); pos > 0 {
		from = g.latestLocked(stageOrder[pos-1])
	}

	node := Node{ID: id, Type: stageTypes[s], Stage: s, Timestamp: now, Status: status, Data: data}
	g.nodes = append(g.nodes, node)
	if from != nil {
		g.edges = append(g.edges, Edge{From: from.ID, To: id, Relationship: relationship, Timestamp: now})
	}
	return node
}

func (g *Graph) latestLocked(s Stage) *Node {
	for i := len(g.nodes) - 1; i >= 0; i-- {
		if g.nodes[i].Stage == s {
			return &g.nodes[i]
		}
	}
	return nil
}

func (g *Graph) nodeLocked(id string) *Node {
	for i := range g.nodes {
		if g.nodes[i].ID == id {
			return &g.nodes[i]
		}
	}
	return nil
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.nodeLocked(id); n != nil {
		return cloneNode(*n), true
	}
	return Node{}, false
}

// Latest returns a copy of the most recent node recorded for s.
func (g *Graph) Latest(s Stage) (Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.latestLocked(s); n != nil {
		return cloneNode(*n), true
	}
	return Node{}, false
}

func (g *Graph) Nodes() []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneNodes(g.nodes)
}

func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Edge{}, g.edges...)
}

func (g *Graph) Metadata() Metadata {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneMetadata(g.metadata)
}
