package provenance

import (
	"fmt"

	"github.com/00vip7-stack/hedge-dashboard/src/utils"
)

const (
	weightCompleteness = 0.3
	weightAccuracy     = 0.4
	weightConsistency  = 0.2
	weightTimeliness   = 0.1

	freshMinutes = 5.0
	staleMinutes = 30.0
)

// ComputeQuality scores the run from its latest mapping and extraction
// nodes. It returns nil until both have been recorded.
func (g *Graph) ComputeQuality() *QualityScore {
	g.mu.Lock()
	defer g.mu.Unlock()

	mapping := g.latestLocked(StageMapping)
	extraction := g.latestLocked(StageExtraction)
	if mapping == nil || extraction == nil || mapping.Data.Mapping == nil || extraction.Data.Extraction == nil {
		return nil
	}
	mstats := mapping.Data.Mapping.Statistics
	estats := extraction.Data.Extraction.Statistics

	q := &QualityScore{
		Dimensions: QualityDimensions{
			Completeness: Completeness(estats),
			Accuracy:     Accuracy(mstats),
			Consistency:  g.consistencyLocked(),
			Timeliness:   g.timelinessLocked(),
		},
		Issues:          []QualityIssue{},
		Recommendations: []string{},
	}
	d := q.Dimensions
	q.Overall = d.Completeness*weightCompleteness +
		d.Accuracy*weightAccuracy +
		d.Consistency*weightConsistency +
		d.Timeliness*weightTimeliness

	if d.Completeness < 0.8 {
		q.Issues = append(q.Issues, QualityIssue{Severity: "high", Type: "completeness", Message: "Required data fields are missing"})
	}
	if d.Accuracy < 0.7 {
		q.Issues = append(q.Issues, QualityIssue{Severity: "high", Type: "accuracy", Message: "Column mapping confidence is low"})
		q.Recommendations = append(q.Recommendations, "Review the column mapping manually")
	}
	if d.Timeliness < 0.5 {
		q.Issues = append(q.Issues, QualityIssue{Severity: "low", Type: "timeliness", Message: "Processing was delayed"})
	}
	if mstats.LowConfidence > 0 {
		q.Recommendations = append(q.Recommendations, fmt.Sprintf("%d column(s) were mapped with low confidence and need review", mstats.LowConfidence))
	}

	g.quality = q
	return cloneQuality(q)
}

// Quality returns the last computed score, or nil.
func (g *Graph) Quality() *QualityScore {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneQuality(g.quality)
}

// Completeness is the share of expected required fields that were extracted.
func Completeness(s ExtractionStats) float64 {
	if s.ExpectedRequired == 0 {
		return 1
	}
	return utils.Clamp01(float64(s.PresentRequired) / float64(s.ExpectedRequired))
}

// Accuracy weights high-confidence matches 1.0 and medium 0.7.
func Accuracy(s MappingStats) float64 {
	if s.TotalColumns == 0 {
		return 0
	}
	return (float64(s.HighConfidence)*1.0 + float64(s.MediumConfidence)*0.7) / float64(s.TotalColumns)
}

// Timeliness is 1 up to five minutes after upload, falling linearly to 0
// at thirty.
func Timeliness(elapsedMinutes float64) float64 {
	switch {
	case elapsedMinutes <= freshMinutes:
		return 1
	case elapsedMinutes >= staleMinutes:
		return 0
	default:
		return 1 - (elapsedMinutes-freshMinutes)/(staleMinutes-freshMinutes)
	}
}

func (g *Graph) consistencyLocked() float64 {
	done := 0
	for _, s := range mandatoryStages {
		if g.latestLocked(s) != nil {
			done++
		}
	}
	return float64(done) / float64(len(mandatoryStages))
}

func (g *Graph) timelinessLocked() float64 {
	src := g.latestLocked(StageSource)
	if src == nil {
		return 0
	}
	return Timeliness(g.now().Sub(src.Timestamp).Minutes())
}

// Summary condenses the graph for listings and indexes.
func (g *Graph) Summary() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.summaryLocked()
}

func (g *Graph) summaryLocked() Summary {
	s := Summary{
		Filename:   "Unknown",
		System:     UnknownSystem,
		Status:     "processing",
		TotalSteps: len(g.nodes),
		UserID:     g.metadata.Session.UserID,
	}
	if src := g.latestLocked(StageSource); src != nil && src.Data.Upload != nil && src.Data.Upload.Filename != "" {
		s.Filename = src.Data.Upload.Filename
	}
	if g.metadata.Detected != nil {
		s.System = g.metadata.Detected.Name
	}

	switch {
	case g.latestLocked(StageTransmission) != nil:
		s.Status = string(g.latestLocked(StageTransmission).Status)
	case g.latestLocked(StageApproval) != nil:
		s.Status = string(g.latestLocked(StageApproval).Status)
	case len(g.nodes) > 0 && g.nodes[len(g.nodes)-1].Status == StatusFailed:
		s.Status = string(StatusFailed)
	}

	for _, n := range g.nodes {
		if n.Status == StatusSuccess {
			s.CompletedSteps++
		}
	}
	if len(g.nodes) > 1 {
		elapsed := g.nodes[len(g.nodes)-1].Timestamp.Sub(g.nodes[0].Timestamp)
		s.ProcessingTimeSeconds = utils.RoundFloat(elapsed.Seconds(), 2)
	}
	if g.quality != nil {
		overall := g.quality.Overall
		s.DataQuality = &overall
	}
	if ext := g.latestLocked(StageExtraction); ext != nil && ext.Data.Extraction != nil {
		s.RowCount = ext.Data.Extraction.Statistics.ExtractedRows
	}
	return s
}
