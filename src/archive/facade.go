package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/provenance"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// MemoryWarning accompanies saves that landed only in process memory.
const MemoryWarning = "provenance archived in process memory only; it will be lost on restart"

// SaveResult reports where a record ended up.
type SaveResult struct {
	ID       string `json:"id"`
	Tier     string `json:"tier"`
	Degraded bool   `json:"degraded"`
	Warning  string `json:"warning,omitempty"`
}

// Mode is the archive health as seen by callers.
type Mode struct {
	Primary       string `json:"primary"`
	Fallback      string `json:"fallback,omitempty"`
	Degraded      bool   `json:"degraded"`
	MemoryRecords int    `json:"memoryRecords"`
}

// Archive fronts the storage tiers: the indexed primary, an optional
// bounded durable fallback and process memory. A save is never dropped
// while any tier accepts it.
type Archive struct {
	primary  Store
	fallback Store
	memory   *MemoryStore

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	degraded bool
	pending  bool   // fallback or memory hold records Recover has not promoted
	spills   uint64 // bumped on every save below the primary
}

type Option func(*Archive)

func WithFallback(s Store) Option {
	return func(a *Archive) { a.fallback = s }
}

func WithClock(now func() time.Time) Option {
	return func(a *Archive) { a.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(a *Archive) { a.newID = newID }
}

// New builds an archive over primary, which may be nil when the indexed
// store could not be opened; the archive then starts degraded.
func New(primary Store, opts ...Option) *Archive {
	a := &Archive{
		primary: primary,
		memory:  NewMemoryStore(),
		now:     time.Now,
		newID:   func() string { return "prov_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.degraded = primary == nil
	return a
}

func (a *Archive) tiers() []Store {
	var ts []Store
	if a.primary != nil {
		ts = append(ts, a.primary)
	}
	if a.fallback != nil {
		ts = append(ts, a.fallback)
	}
	return append(ts, a.memory)
}

func (a *Archive) setDegraded(v bool) {
	a.mu.Lock()
	a.degraded = v
	a.mu.Unlock()
}

// primaryHealthy clears degraded mode only once nothing awaits promotion.
func (a *Archive) primaryHealthy() {
	a.mu.Lock()
	a.degraded = a.pending
	a.mu.Unlock()
}

func (a *Archive) markPending() {
	a.mu.Lock()
	a.degraded, a.pending = true, true
	a.spills++
	a.mu.Unlock()
}

func (a *Archive) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := Mode{Degraded: a.degraded, MemoryRecords: a.memory.Len(), Primary: "none"}
	if a.primary != nil {
		m.Primary = a.primary.Name()
	}
	if a.fallback != nil {
		m.Fallback = a.fallback.Name()
	}
	return m
}

// Save validates and archives a finished (or partially finished) graph.
func (a *Archive) Save(ctx context.Context, g *provenance.Graph) (SaveResult, error) {
	if err := g.Validate(); err != nil {
		return SaveResult{}, fmt.Errorf("refusing to archive provenance: %w", err)
	}
	return a.SaveDocument(ctx, g.ToDocument())
}

// SaveDocument archives an already serialized graph under a fresh id.
func (a *Archive) SaveDocument(ctx context.Context, doc provenance.Document) (SaveResult, error) {
	if err := provenance.ValidateDocument(doc); err != nil {
		return SaveResult{}, fmt.Errorf("refusing to archive provenance: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	rec := ArchivedProvenance{ID: a.newID(), Timestamp: a.now().UTC(), Document: doc}

	if a.primary != nil {
		err := a.primary.Save(ctx, rec)
		if err == nil {
			a.primaryHealthy()
			return SaveResult{ID: rec.ID, Tier: a.primary.Name()}, nil
		}
		if ctx.Err() != nil {
			return SaveResult{}, ctx.Err()
		}
		logger.L.Warn("Primary archive unavailable, entering degraded mode", "tier", a.primary.Name(), "id", rec.ID, "error", err)
	}
	a.setDegraded(true)

	if a.fallback != nil {
		err := a.fallback.Save(ctx, rec)
		if err == nil {
			a.markPending()
			return SaveResult{ID: rec.ID, Tier: a.fallback.Name(), Degraded: true,
				Warning: "primary archive unavailable; record kept in the bounded fallback store"}, nil
		}
		logger.L.Warn("Fallback archive unavailable", "tier", a.fallback.Name(), "id", rec.ID, "error", err)
	}

	if err := a.memory.Save(ctx, rec); err != nil {
		return SaveResult{}, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	a.markPending()
	logger.L.Warn("Provenance held in memory only", "tier", a.memory.Name(), "id", rec.ID)
	return SaveResult{ID: rec.ID, Tier: a.memory.Name(), Degraded: true, Warning: MemoryWarning}, nil
}

// GetByID looks the id up in every tier, primary first.
func (a *Archive) GetByID(ctx context.Context, id string) (ArchivedProvenance, error) {
	var lastErr error
	for _, s := range a.tiers() {
		rec, err := s.Get(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			logger.L.Warn("Archive tier lookup failed", "tier", s.Name(), "id", id, "error", err)
			lastErr = err
		}
	}
	if lastErr != nil && ctx.Err() != nil {
		return ArchivedProvenance{}, ctx.Err()
	}
	return ArchivedProvenance{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Search merges matches from every reachable tier, newest first.
func (a *Archive) Search(ctx context.Context, f Filter) ([]ArchivedProvenance, error) {
	perTier := f
	perTier.Offset = 0
	if f.Limit > 0 {
		perTier.Limit = f.Offset + f.Limit
	}

	seen := make(map[string]bool)
	var merged []ArchivedProvenance
	reached := 0
	for _, s := range a.tiers() {
		recs, err := s.List(ctx, perTier)
		if err != nil {
			logger.L.Warn("Archive tier search failed", "tier", s.Name(), "error", err)
			continue
		}
		reached++
		for _, r := range recs {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			merged = append(merged, r)
		}
	}
	if reached == 0 {
		return nil, ErrArchiveUnavailable
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	if merged == nil {
		merged = []ArchivedProvenance{}
	}
	return f.page(merged), nil
}

func (a *Archive) GetRecent(ctx context.Context, n int) ([]ArchivedProvenance, error) {
	if n <= 0 {
		n = 10
	}
	return a.Search(ctx, Filter{Limit: n})
}

func (a *Archive) FindDuplicates(ctx context.Context, checksum string) ([]ArchivedProvenance, error) {
	if checksum == "" {
		return []ArchivedProvenance{}, nil
	}
	return a.Search(ctx, Filter{Checksum: checksum})
}

// Delete removes the record from every tier holding it.
func (a *Archive) Delete(ctx context.Context, id string) error {
	deleted := false
	for _, s := range a.tiers() {
		err := s.Delete(ctx, id)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrNotFound):
		default:
			return fmt.Errorf("error deleting %s from %s: %w", id, s.Name(), err)
		}
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	logger.L.Info("Archived provenance deleted", "id", id)
	return nil
}

// Recover promotes records from the fallback and memory tiers into the
// primary store once it answers again, returning how many moved.
func (a *Archive) Recover(ctx context.Context) (int, error) {
	if a.primary == nil {
		return 0, ErrArchiveUnavailable
	}
	if err := a.primary.Ping(ctx); err != nil {
		return 0, err
	}

	a.mu.Lock()
	spills := a.spills
	a.mu.Unlock()

	promoted := 0
	for _, s := range []Store{a.fallback, a.memory} {
		if s == nil {
			continue
		}
		recs, err := s.List(ctx, Filter{})
		if err != nil {
			return promoted, fmt.Errorf("error listing %s tier: %w", s.Name(), err)
		}
		for i := len(recs) - 1; i >= 0; i-- {
			rec := recs[i]
			_, err := a.primary.Get(ctx, rec.ID)
			switch {
			case errors.Is(err, ErrNotFound):
				if err := a.primary.Save(ctx, rec); err != nil {
					return promoted, err
				}
				promoted++
			case err != nil:
				return promoted, err
			}
			if err := s.Delete(ctx, rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
				return promoted, err
			}
		}
	}
	a.mu.Lock()
	if a.spills == spills {
		a.degraded, a.pending = false, false
	}
	a.mu.Unlock()
	if promoted > 0 {
		logger.L.Info("Promoted fallback provenance into primary archive", "count", promoted)
	}
	return promoted, nil
}

// ScheduleRecovery registers Recover on c under the given cron spec. Every
// tick runs it; with nothing pending it only pings the primary.
func (a *Archive) ScheduleRecovery(c *cron.Cron, spec string, timeout time.Duration) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		if a.primary == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := a.Recover(ctx); err != nil {
			logger.L.Warn("Archive recovery attempt failed", "error", err)
		}
	})
}

// Close releases every tier.
func (a *Archive) Close() error {
	var errs []error
	for _, s := range a.tiers() {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
