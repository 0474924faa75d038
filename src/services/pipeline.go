package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/anonymizer"
	"github.com/00vip7-stack/hedge-dashboard/src/archive"
	"github.com/00vip7-stack/hedge-dashboard/src/dictionary"
	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/00vip7-stack/hedge-dashboard/src/parsers"
	"github.com/00vip7-stack/hedge-dashboard/src/processors"
	"github.com/00vip7-stack/hedge-dashboard/src/provenance"
	"github.com/00vip7-stack/hedge-dashboard/src/resolver"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const (
	ckLatestRunResult = "latest_run_result_user_%s"

	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute

	defaultSampleRows = 5
)

// Transmission outcomes reported on RunResult.
const (
	TransmissionSent    = "sent"
	TransmissionFailed  = "failed"
	TransmissionBlocked = "blocked"
	TransmissionLocal   = "local"
	TransmissionSkipped = "skipped"
)

var ErrParsingFailed = errors.New("failed to decode uploaded file")

// Upload is one file handed to the pipeline.
type Upload struct {
	Filename     string
	ContentType  string
	Content      []byte
	LastModified time.Time
	UserID       string
	CustomerID   string
	// Approve nil means "use the configured default".
	Approve *bool
	Comment string
}

type PipelineDeps struct {
	Dictionary  *dictionary.Dictionary
	Resolver    *resolver.Resolver
	Extractor   processors.RowExtractor
	Anonymizer  *anonymizer.Anonymizer
	Estimator   processors.HedgeEstimator
	Transmitter Transmitter // nil: results are always estimated locally
	Archive     *archive.Archive
	Observers   []Observer
	Cache       *cache.Cache
	Clock       func() time.Time
}

type PipelineConfig struct {
	TargetHedgeRatio float64
	AutoApprove      bool
	SampleRows       int
	PreviewRows      int
}

// RunResult is everything a caller needs to show for one upload.
type RunResult struct {
	RunID        string                    `json:"runId"`
	Filename     string                    `json:"filename"`
	FileAlias    string                    `json:"fileAlias"`
	ColumnMap    models.ColumnMap          `json:"columnMap"`
	System       provenance.DetectedSystem `json:"erp"`
	TotalRows    int                       `json:"totalRows"`
	Extracted    int                       `json:"extracted"`
	Skipped      int                       `json:"skipped"`
	SkipReasons  map[string]int            `json:"skipReasons"`
	Preview      *anonymizer.Preview       `json:"preview,omitempty"`
	Approved     bool                      `json:"approved"`
	Transmission string                    `json:"transmission"`
	Calculation  *models.HedgeCalculation  `json:"calculation,omitempty"`
	Quality      *provenance.QualityScore  `json:"quality"`
	Summary      provenance.Summary        `json:"summary"`
	Archive      archive.SaveResult        `json:"archive"`
	Warnings     []string                  `json:"warnings,omitempty"`
	Duration     time.Duration             `json:"-"`
}

type BatchFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
	RunID    string `json:"runId,omitempty"`
}

type BatchResult struct {
	Results  []*RunResult   `json:"results"`
	Failures []BatchFailure `json:"failures"`
}

// Pipeline runs uploads through resolution, extraction, anonymization,
// approval and transmission, recording each stage in a provenance graph
// that is archived at the end of the run.
type Pipeline struct {
	deps PipelineDeps
	cfg  PipelineConfig
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Estimator == nil {
		deps.Estimator = processors.NewHedgeCalculator(nil)
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(DefaultCacheExpiration, CacheCleanupInterval)
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = defaultSampleRows
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = anonymizer.DefaultPreviewSize
	}
	return &Pipeline{deps: deps, cfg: cfg}
}

// run carries the per-upload state.
type run struct {
	id     string
	upload Upload
	graph  *provenance.Graph
	result *RunResult
	start  time.Time
}

// Process runs one upload. Mapping, extraction and anonymization failures
// are returned as their typed errors after the partial graph has been
// archived. A cancelled context aborts the run and nothing is archived.
func (p *Pipeline) Process(ctx context.Context, up Upload) (*RunResult, error) {
	r := &run{
		id:     "run_" + uuid.NewString(),
		upload: up,
		start:  p.deps.Clock(),
		graph:  provenance.New(p.deps.Dictionary, provenance.WithClock(p.deps.Clock)),
	}
	r.result = &RunResult{
		RunID:     r.id,
		Filename:  up.Filename,
		FileAlias: anonymizer.AliasFileName(up.Filename, r.start),
	}
	log := logger.FromContext(ctx).With("runID", r.id, "filename", up.Filename)
	ctx = logger.WithContext(ctx, log)
	log.Info("Pipeline run START", "userID", up.UserID, "size", len(up.Content))

	runErr := p.execute(ctx, r)
	if ctx.Err() != nil {
		log.Warn("Pipeline run abandoned", "error", ctx.Err())
		return nil, ctx.Err()
	}

	r.result.Quality = r.graph.ComputeQuality()
	saved, err := p.deps.Archive.Save(ctx, r.graph)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.result, errors.Join(runErr, fmt.Errorf("failed to archive provenance: %w", err))
	}
	r.result.Archive = saved
	if saved.Degraded {
		r.result.Warnings = append(r.result.Warnings, saved.Warning)
		p.alert(ctx, r, AlertArchiveDegraded, saved.Warning, "")
	}
	r.result.Summary = r.graph.Summary()
	r.result.Duration = p.deps.Clock().Sub(r.start)

	for _, o := range p.deps.Observers {
		o.RunFinished(ctx, r.result)
	}
	if up.UserID != "" && runErr == nil {
		p.deps.Cache.Set(fmt.Sprintf(ckLatestRunResult, up.UserID), r.result, cache.DefaultExpiration)
	}
	log.Info("Pipeline run END", "status", r.result.Summary.Status, "archiveID", saved.ID, "duration", r.result.Duration)
	return r.result, runErr
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	up := r.upload
	log := logger.FromContext(ctx)

	if _, err := r.graph.Initialize(ctx, provenance.SourceDescriptor{
		Filename:     up.Filename,
		ContentType:  up.ContentType,
		Size:         int64(len(up.Content)),
		LastModified: up.LastModified,
		Content:      bytes.NewReader(up.Content),
		UserID:       up.UserID,
		CustomerID:   up.CustomerID,
	}); err != nil {
		return err
	}
	p.stageRecorded(ctx, r, provenance.StageSource)

	decoder, err := p.decoderFor(up)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	table, err := decoder.Decode(bytes.NewReader(up.Content))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	cm, resolveErr := p.deps.Resolver.ResolveWithSample(ctx, table.Headers, table.Sample(p.cfg.SampleRows))
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.result.ColumnMap = cm
	accepted := cm.Accepted()

	system, err := r.graph.DetectSystem(table.Headers, accepted)
	if err != nil {
		return err
	}
	r.result.System = system
	p.stageRecorded(ctx, r, provenance.StageDetection)

	if resolveErr != nil {
		var me *resolver.MappingError
		if errors.As(resolveErr, &me) {
			if err := r.graph.RecordMappingFailure(cm.Diagnostics, me.Missing); err != nil {
				return err
			}
			p.stageRecorded(ctx, r, provenance.StageMapping)
		}
		return resolveErr
	}
	stats, err := r.graph.RecordMapping(accepted, cm)
	if err != nil {
		return err
	}
	if stats.LowConfidence > 0 {
		r.result.Warnings = append(r.result.Warnings, fmt.Sprintf("%d column(s) mapped with low confidence", stats.LowConfidence))
	}
	p.stageRecorded(ctx, r, provenance.StageMapping)

	extraction, err := p.deps.Extractor.Extract(table.Rows, cm)
	if extraction != nil {
		r.result.TotalRows = extraction.TotalRows
		r.result.Extracted = len(extraction.Records)
		r.result.Skipped = extraction.Skipped
		r.result.SkipReasons = extraction.ReasonCounts()
		for _, s := range extraction.SkippedRows {
			log.Debug("Row skipped", "row", s.Row, "reason", s.Reason)
		}
	}
	if err != nil {
		return err
	}

	projected := p.deps.Anonymizer.Project(extraction.Records)
	preview := p.deps.Anonymizer.Preview(extraction.Records, p.cfg.PreviewRows)
	r.result.Preview = &preview

	tmpl := p.deps.Anonymizer.Template()
	if _, err := r.graph.RecordExtraction(extraction.Records, projected, provenance.ExtractionConfig{
		Required:    tmpl.Required,
		Optional:    tmpl.Optional,
		Excluded:    tmpl.Excluded,
		SkippedRows: extraction.Skipped,
		SkipReasons: r.result.SkipReasons,
	}); err != nil {
		return err
	}
	p.stageRecorded(ctx, r, provenance.StageExtraction)

	approved, decided := p.cfg.AutoApprove, p.cfg.AutoApprove
	if up.Approve != nil {
		approved, decided = *up.Approve, true
	}
	if !decided {
		r.result.Transmission = TransmissionSkipped
		log.Info("Run awaiting approval; nothing transmitted")
		return nil
	}
	if err := r.graph.RecordApproval(up.UserID, approved, up.Comment); err != nil {
		return err
	}
	p.stageRecorded(ctx, r, provenance.StageApproval)
	r.result.Approved = approved
	if !approved {
		r.result.Transmission = TransmissionSkipped
		return nil
	}

	return p.transmit(ctx, r, projected)
}

// transmit sends the projection, falling back to the local estimate on any
// transmission failure. A deny-list hit aborts without sending.
func (p *Pipeline) transmit(ctx context.Context, r *run, projected []models.AnonymizedRecord) error {
	log := logger.FromContext(ctx)
	if p.deps.Transmitter == nil {
		r.result.Transmission = TransmissionLocal
		r.result.Calculation = p.deps.Estimator.Estimate(projected, p.cfg.TargetHedgeRatio)
		return nil
	}

	endpoint := p.deps.Transmitter.Endpoint()
	calc, err := p.deps.Transmitter.Transmit(ctx, Payload{
		Positions: projected,
		Metadata: TransmitMetadata{
			FileAlias:        r.result.FileAlias,
			System:           r.result.System.Name,
			TargetHedgeRatio: p.cfg.TargetHedgeRatio,
		},
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var hinted interface{ Hint() string }
	switch {
	case err == nil:
		r.result.Transmission = TransmissionSent
		r.result.Calculation = calc
		if recErr := r.graph.RecordTransmission(endpoint, true, calc); recErr != nil {
			return recErr
		}
	case errors.Is(err, anonymizer.ErrAnonymizationViolation):
		r.result.Transmission = TransmissionBlocked
		log.Error("Transmission aborted by anonymization check", "error", err)
		if recErr := r.graph.RecordTransmission(endpoint, false, map[string]string{"error": err.Error()}); recErr != nil {
			return recErr
		}
		hint := ""
		if errors.As(err, &hinted) {
			hint = hinted.Hint()
		}
		p.alert(ctx, r, AlertAnonymizationViolation, err.Error(), hint)
		p.stageRecorded(ctx, r, provenance.StageTransmission)
		return err
	default:
		r.result.Transmission = TransmissionFailed
		log.Warn("Transmission failed, using local estimate", "endpoint", endpoint, "error", err)
		if recErr := r.graph.RecordTransmission(endpoint, false, map[string]string{"error": err.Error()}); recErr != nil {
			return recErr
		}
		r.result.Calculation = p.deps.Estimator.Estimate(projected, p.cfg.TargetHedgeRatio)
		hint := ""
		if errors.As(err, &hinted) {
			hint = hinted.Hint()
		}
		r.result.Warnings = append(r.result.Warnings, "aggregation service unavailable; showing a local estimate")
		p.alert(ctx, r, AlertTransmissionFailed, err.Error(), hint)
	}
	p.stageRecorded(ctx, r, provenance.StageTransmission)
	return nil
}

// ProcessBatch runs uploads one after another. A failed file is recorded
// and the batch continues; cancellation stops the remaining files.
func (p *Pipeline) ProcessBatch(ctx context.Context, uploads []Upload) (*BatchResult, error) {
	batch := &BatchResult{Results: []*RunResult{}, Failures: []BatchFailure{}}
	for _, up := range uploads {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		res, err := p.Process(ctx, up)
		if ctx.Err() != nil {
			return batch, ctx.Err()
		}
		if res != nil {
			batch.Results = append(batch.Results, res)
		}
		if err != nil {
			f := BatchFailure{Filename: up.Filename, Error: err.Error()}
			if res != nil {
				f.RunID = res.RunID
			}
			batch.Failures = append(batch.Failures, f)
		}
	}
	return batch, nil
}

// LatestResult returns the last successful run for userID, if still cached.
func (p *Pipeline) LatestResult(userID string) (*RunResult, bool) {
	v, ok := p.deps.Cache.Get(fmt.Sprintf(ckLatestRunResult, userID))
	if !ok {
		return nil, false
	}
	return v.(*RunResult), true
}

func (p *Pipeline) decoderFor(up Upload) (parsers.Decoder, error) {
	d, err := parsers.DecoderForFile(up.Filename)
	if err == nil {
		return d, nil
	}
	if up.ContentType != "" {
		if d, ctErr := parsers.GetDecoder(up.ContentType); ctErr == nil {
			return d, nil
		}
	}
	return nil, err
}

func (p *Pipeline) stageRecorded(ctx context.Context, r *run, stage provenance.Stage) {
	node, ok := r.graph.Latest(stage)
	if !ok {
		return
	}
	for _, o := range p.deps.Observers {
		o.StageRecorded(ctx, r.id, node)
	}
}

func (p *Pipeline) alert(ctx context.Context, r *run, kind AlertKind, message, hint string) {
	a := Alert{Kind: kind, RunID: r.id, Filename: r.upload.Filename, Message: message, Hint: hint}
	for _, o := range p.deps.Observers {
		o.Alert(ctx, a)
	}
}
