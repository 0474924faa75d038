package provenance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/00vip7-stack/hedge-dashboard/src/dictionary"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
)

// ToDocument returns an independent copy of the graph in serializable form.
func (g *Graph) ToDocument() Document {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Document{
		Metadata:    cloneMetadata(g.metadata),
		Graph:       GraphData{Nodes: cloneNodes(g.nodes), Edges: append([]Edge{}, g.edges...)},
		Quality:     cloneQuality(g.quality),
		Summary:     g.summaryLocked(),
		GeneratedAt: g.timestamp(),
	}
}

// FromDocument rebuilds a graph from an archived document. Further stages
// may be recorded on the result.
func FromDocument(doc Document, dict *dictionary.Dictionary, opts ...Option) (*Graph, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	g := New(dict, opts...)
	g.metadata = cloneMetadata(doc.Metadata)
	g.nodes = cloneNodes(doc.Graph.Nodes)
	g.edges = append([]Edge{}, doc.Graph.Edges...)
	g.quality = cloneQuality(doc.Quality)
	for _, n := range g.nodes {
		g.counts[n.Stage]++
	}
	return g, nil
}

// ToMermaid renders the graph as a left-to-right flowchart.
func (g *Graph) ToMermaid() string {
	return g.ToDocument().Mermaid()
}

func (d Document) Mermaid() string {
	types := make(map[string]NodeType, len(d.Graph.Nodes))
	for _, n := range d.Graph.Nodes {
		types[n.ID] = n.Type
	}
	label := func(id string) string {
		if t, ok := types[id]; ok {
			return string(t)
		}
		return id
	}

	var b strings.Builder
	b.WriteString("graph LR\n")
	for _, e := range d.Graph.Edges {
		fmt.Fprintf(&b, "    %s[\"%s\"] -->|%s| %s[\"%s\"]\n", e.From, label(e.From), e.Relationship, e.To, label(e.To))
	}
	return b.String()
}

// Validate checks that node ids are unique, every edge joins existing
// nodes, and the edges form no cycle.
func (g *Graph) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return validate(g.nodes, g.edges)
}

func ValidateDocument(doc Document) error {
	return validate(doc.Graph.Nodes, doc.Graph.Edges)
}

func validate(nodes []Node, edges []Edge) error {
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.ID == "" || n.Type == "" {
			return fmt.Errorf("%w: node without id or type", ErrInvalidGraph)
		}
		if ids[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidGraph, n.ID)
		}
		ids[n.ID] = true
	}

	indegree := make(map[string]int, len(nodes))
	next := make(map[string][]string)
	for _, e := range edges {
		if !ids[e.From] || !ids[e.To] {
			return fmt.Errorf("%w: edge %s -> %s references a missing node", ErrInvalidGraph, e.From, e.To)
		}
		next[e.From] = append(next[e.From], e.To)
		indegree[e.To]++
	}

	var queue []string
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, to := range next[id] {
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	if visited != len(nodes) {
		return fmt.Errorf("%w: edges contain a cycle", ErrInvalidGraph)
	}
	return nil
}

func cloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = cloneNode(n)
	}
	return out
}

func cloneNode(n Node) Node {
	c := n
	d := n.Data
	if d.Upload != nil {
		u := *d.Upload
		c.Data.Upload = &u
	}
	if d.Detection != nil {
		det := *d.Detection
		det.MatchedColumns = append([]string{}, d.Detection.MatchedColumns...)
		c.Data.Detection = &det
	}
	if d.Mapping != nil {
		m := *d.Mapping
		m.Matches = cloneMatches(d.Mapping.Matches)
		m.ColumnMap = cloneColumnMap(d.Mapping.ColumnMap)
		m.Statistics.Methods = cloneCounts(d.Mapping.Statistics.Methods)
		if d.Mapping.Missing != nil {
			m.Missing = append([]models.CanonicalField{}, d.Mapping.Missing...)
		}
		c.Data.Mapping = &m
	}
	if d.Extraction != nil {
		e := *d.Extraction
		e.Config = cloneExtractionConfig(d.Extraction.Config)
		c.Data.Extraction = &e
	}
	if d.Approval != nil {
		a := *d.Approval
		c.Data.Approval = &a
	}
	if d.Transmission != nil {
		t := *d.Transmission
		if d.Transmission.Response != nil {
			t.Response = append(json.RawMessage{}, d.Transmission.Response...)
		}
		c.Data.Transmission = &t
	}
	return c
}

func cloneMatches(matches []models.ColumnMatch) []models.ColumnMatch {
	return append([]models.ColumnMatch{}, matches...)
}

func cloneColumnMap(cm models.ColumnMap) models.ColumnMap {
	c := models.ColumnMap{Indices: make(map[models.CanonicalField]int, len(cm.Indices))}
	for k, v := range cm.Indices {
		c.Indices[k] = v
	}
	if cm.Diagnostics != nil {
		c.Diagnostics = cloneMatches(cm.Diagnostics)
	}
	return c
}

func cloneCounts[K comparable](m map[K]int) map[K]int {
	if m == nil {
		return nil
	}
	out := make(map[K]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneExtractionConfig(cfg ExtractionConfig) ExtractionConfig {
	c := cfg
	c.Required = append([]string{}, cfg.Required...)
	c.Optional = append([]string{}, cfg.Optional...)
	c.Excluded = append([]string{}, cfg.Excluded...)
	c.SkipReasons = cloneCounts(cfg.SkipReasons)
	return c
}

func cloneMetadata(m Metadata) Metadata {
	c := m
	if m.Detected != nil {
		d := *m.Detected
		d.MatchedColumns = append([]string{}, m.Detected.MatchedColumns...)
		c.Detected = &d
	}
	return c
}

func cloneQuality(q *QualityScore) *QualityScore {
	if q == nil {
		return nil
	}
	c := *q
	c.Issues = append([]QualityIssue{}, q.Issues...)
	c.Recommendations = append([]string{}, q.Recommendations...)
	return &c
}
