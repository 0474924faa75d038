// Package resolver maps raw spreadsheet headers onto canonical fields.
//
// Each header runs through three scored tiers: exact keyword, fuzzy edit
// distance and character token overlap. Resolution stops at the first tier
// whose best score exceeds its cutoff; a header that clears neither the
// exact nor the fuzzy cutoff gets the token tier's verdict.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/dictionary"
	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/patrickmn/go-cache"
)

// Thresholds are the heuristic cutoffs of the resolver.
type Thresholds struct {
	Accept           float64 // minimum confidence for a header to claim a field
	ExactCutoff      float64 // exact tier result is final above this
	FuzzyCutoff      float64 // fuzzy tier result is final above this
	EmbeddingTrigger float64 // external embedding is consulted below this local score
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Accept:           0.5,
		ExactCutoff:      0.9,
		FuzzyCutoff:      0.7,
		EmbeddingTrigger: 0.8,
	}
}

const (
	scoreExact   = 1.0
	scorePartial = 0.95

	DefaultCacheTTL = 30 * time.Minute
)

// EmbeddingMatcher is an optional external semantic matcher. It is only
// consulted when the local token matcher scores below EmbeddingTrigger, and
// any error leaves the local result in place.
type EmbeddingMatcher interface {
	MatchHeader(ctx context.Context, header string, fields []dictionary.FieldDefinition) (models.ColumnMatch, error)
}

type keyword struct {
	field  models.CanonicalField
	text   string
	lower  string
	system string // empty for plain synonyms
}

type fieldIndex struct {
	field    models.CanonicalField
	synonyms []keyword
	variants []keyword
	fallback []keyword
	semantic tokenSet
}

type Resolver struct {
	dict       *dictionary.Dictionary
	fields     []fieldIndex
	thresholds Thresholds
	embedder   EmbeddingMatcher
	cacheTTL   time.Duration
	cache      *cache.Cache
}

type Option func(*Resolver)

func WithThresholds(t Thresholds) Option {
	return func(r *Resolver) { r.thresholds = t }
}

func WithEmbeddingMatcher(m EmbeddingMatcher) Option {
	return func(r *Resolver) { r.embedder = m }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.cacheTTL = ttl }
}

// New builds a resolver over dict. The resolver is safe for concurrent use.
func New(dict *dictionary.Dictionary, opts ...Option) *Resolver {
	r := &Resolver{
		dict:       dict,
		thresholds: DefaultThresholds(),
		cacheTTL:   DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = cache.New(r.cacheTTL, 2*r.cacheTTL)

	for _, def := range dict.Fields() {
		idx := fieldIndex{field: def.Field}
		for _, s := range def.Synonyms {
			idx.synonyms = append(idx.synonyms, newKeyword(def.Field, s, ""))
		}
		for _, v := range def.Variants {
			for _, name := range v.Names {
				idx.variants = append(idx.variants, newKeyword(def.Field, name, v.System))
			}
		}
		for _, s := range def.Fallback {
			idx.fallback = append(idx.fallback, newKeyword(def.Field, s, ""))
		}
		idx.semantic = tokenize(def.Description + " " + strings.Join(def.Synonyms, " "))
		r.fields = append(r.fields, idx)
	}
	return r
}

func newKeyword(f models.CanonicalField, text, system string) keyword {
	return keyword{field: f, text: text, lower: normalize(text), system: system}
}

// Thresholds returns the active cutoffs.
func (r *Resolver) Thresholds() Thresholds {
	return r.thresholds
}

// Resolve maps headers onto a ColumnMap. It fails with *MappingError when a
// required field stays unresolved after the fallback heuristics.
func (r *Resolver) Resolve(ctx context.Context, headers []string) (models.ColumnMap, error) {
	return r.ResolveWithSample(ctx, headers, nil)
}

// ResolveWithSample is Resolve with a few data rows available to the
// fallback heuristics.
func (r *Resolver) ResolveWithSample(ctx context.Context, headers []string, sample [][]any) (models.ColumnMap, error) {
	log := logger.FromContext(ctx)
	cm := models.NewColumnMap()

	for i, header := range headers {
		if err := ctx.Err(); err != nil {
			return cm, err
		}
		if strings.TrimSpace(header) == "" {
			continue
		}
		match := r.MatchHeader(ctx, header)
		match.Index = i
		cm.Diagnostics = append(cm.Diagnostics, match)

		if match.Field == models.FieldNone || match.Confidence < r.thresholds.Accept {
			log.Debug("Header not mapped", "header", header, "bestField", match.Field, "confidence", match.Confidence, "method", match.Method)
			continue
		}
		if cm.Has(match.Field) {
			log.Debug("Field already claimed by an earlier header", "header", header, "field", match.Field, "claimedBy", cm.Index(match.Field))
			continue
		}
		cm.Indices[match.Field] = i
		log.Debug("Header mapped", "header", header, "field", match.Field, "confidence", match.Confidence, "method", match.Method)
	}

	if len(cm.Missing(models.RequiredFields)) > 0 {
		r.applyFallback(ctx, &cm, headers, sample)
	}

	if missing := cm.Missing(models.RequiredFields); len(missing) > 0 {
		return cm, r.mappingError(missing, headers, cm)
	}
	return cm, nil
}

// MatchHeader scores a single header. Index is left at zero.
func (r *Resolver) MatchHeader(ctx context.Context, header string) models.ColumnMatch {
	h := normalize(header)
	if cached, ok := r.cache.Get(h); ok {
		m := cached.(models.ColumnMatch)
		m.Header = header
		return m
	}

	m := r.matchNormalized(ctx, h)
	r.cache.Set(h, m, cache.DefaultExpiration)
	m.Header = header
	return m
}

func (r *Resolver) matchNormalized(ctx context.Context, h string) models.ColumnMatch {
	none := models.ColumnMatch{Field: models.FieldNone, Method: models.MethodNone}
	if h == "" {
		return none
	}

	if exact := r.exactTier(h); exact.Confidence > r.thresholds.ExactCutoff {
		return exact
	}
	if fuzzy := r.fuzzyTier(h); fuzzy.Confidence > r.thresholds.FuzzyCutoff {
		return fuzzy
	}
	// Sub-cutoff exact and fuzzy scores are discarded; the token tier has the last word.
	semantic := r.semanticTier(ctx, h)
	if semantic.Field == models.FieldNone {
		return none
	}
	return semantic
}

// exactTier: equality with a synonym or system variant scores 1.0 and ends
// the search; containment in either direction scores 0.95.
func (r *Resolver) exactTier(h string) models.ColumnMatch {
	best := models.ColumnMatch{Field: models.FieldNone, Method: models.MethodExact}
	for _, fi := range r.fields {
		for _, kw := range fi.synonyms {
			if kw.lower == "" {
				continue
			}
			if h == kw.lower {
				return models.ColumnMatch{Field: fi.field, Confidence: scoreExact, Method: models.MethodExact, MatchedKeyword: kw.text}
			}
			if (strings.Contains(h, kw.lower) || strings.Contains(kw.lower, h)) && scorePartial > best.Confidence {
				best = models.ColumnMatch{Field: fi.field, Confidence: scorePartial, Method: models.MethodExactPartial, MatchedKeyword: kw.text}
			}
		}
		for _, kw := range fi.variants {
			if h == kw.lower {
				return models.ColumnMatch{Field: fi.field, Confidence: scoreExact, Method: models.MethodSystemExact, MatchedKeyword: kw.text, System: kw.system}
			}
		}
	}
	return best
}

func (r *Resolver) fuzzyTier(h string) models.ColumnMatch {
	best := models.ColumnMatch{Field: models.FieldNone, Method: models.MethodFuzzy}
	for _, fi := range r.fields {
		for _, group := range [][]keyword{fi.synonyms, fi.variants} {
			for _, kw := range group {
				if kw.lower == "" {
					continue
				}
				if s := Similarity(h, kw.lower); s > best.Confidence {
					best = models.ColumnMatch{Field: fi.field, Confidence: s, Method: models.MethodFuzzy, MatchedKeyword: kw.text, System: kw.system}
				}
			}
		}
	}
	return best
}

func (r *Resolver) semanticTier(ctx context.Context, h string) models.ColumnMatch {
	best := models.ColumnMatch{Field: models.FieldNone, Method: models.MethodSemanticLocal}
	tokens := tokenize(h)
	for _, fi := range r.fields {
		if s := jaccard(tokens, fi.semantic); s > best.Confidence {
			best = models.ColumnMatch{Field: fi.field, Confidence: s, Method: models.MethodSemanticLocal}
		}
	}

	if r.embedder == nil || best.Confidence >= r.thresholds.EmbeddingTrigger {
		return best
	}
	external, err := r.embedder.MatchHeader(ctx, h, r.dict.Fields())
	if err != nil {
		logger.FromContext(ctx).Warn("External semantic matcher failed, keeping local score", "header", h, "error", err)
		return best
	}
	if external.Field.Valid() && external.Confidence > best.Confidence {
		external.Confidence = min(external.Confidence, 1)
		external.Method = models.MethodSemanticAPI
		return external
	}
	return best
}

// ClearCache drops all memoised header matches.
func (r *Resolver) ClearCache() {
	r.cache.Flush()
}
