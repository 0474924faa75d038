package processors

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/00vip7-stack/hedge-dashboard/src/utils"
	"github.com/shopspring/decimal"
)

// Names of the built-in KPI calculators. Results are keyed by these.
const (
	KPITotalExposure  = "totalExposure"
	KPIHedgedAmount   = "hedgedAmount"
	KPIHedgeRatio     = "hedgeRatio"
	KPIUnhedgedGap    = "unhedgedGap"
	KPIRecommendation = "recommendation"
)

const (
	RecommendMoreHedge = "추가헤지필요"
	RecommendOptimal   = "적정"
	RecommendOverHedge = "과도헤지"

	optimalRatioMin = 70.0
	optimalRatioMax = 90.0
)

// hedgeTypes are the position type values that count as an existing hedge.
var hedgeTypes = map[string]bool{"hedge": true, "hedged": true, "헤지": true, "헷지": true}

// KPIResults holds the outputs of the calculators run so far. A nil value
// marks a calculator that failed.
type KPIResults map[string]any

func (r KPIResults) Float(name string) float64 {
	if v, ok := r[name].(float64); ok {
		return v
	}
	return 0
}

// Calculator computes one KPI over anonymised positions. Lower Priority runs
// first; a calculator may read the results of anything that ran before it.
type Calculator interface {
	Name() string
	Priority() int
	Calculate(positions []models.AnonymizedRecord, results KPIResults) (any, error)
}

// CalculatorRegistry runs registered calculators in priority order.
type CalculatorRegistry struct {
	mu          sync.RWMutex
	calculators map[string]Calculator
}

func NewCalculatorRegistry() *CalculatorRegistry {
	return &CalculatorRegistry{calculators: make(map[string]Calculator)}
}

// NewDefaultCalculatorRegistry registers the built-in hedge KPIs.
func NewDefaultCalculatorRegistry() *CalculatorRegistry {
	r := NewCalculatorRegistry()
	r.Register(totalExposureCalculator{})
	r.Register(hedgedAmountCalculator{})
	r.Register(hedgeRatioCalculator{})
	r.Register(unhedgedGapCalculator{})
	r.Register(recommendationCalculator{})
	return r
}

// Register adds c, replacing any calculator with the same name.
func (r *CalculatorRegistry) Register(c Calculator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calculators[c.Name()] = c
}

func (r *CalculatorRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calculators, name)
}

// Names lists the registered calculators in execution order.
func (r *CalculatorRegistry) Names() []string {
	ordered := r.ordered()
	names := make([]string, len(ordered))
	for i, c := range ordered {
		names[i] = c.Name()
	}
	return names
}

func (r *CalculatorRegistry) ordered() []Calculator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Calculator, 0, len(r.calculators))
	for _, c := range r.calculators {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() < out[j].Priority()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// CalculateAll runs every calculator. A failing calculator is logged and
// its result set to nil; the others still run.
func (r *CalculatorRegistry) CalculateAll(positions []models.AnonymizedRecord) KPIResults {
	results := make(KPIResults)
	if len(positions) == 0 {
		logger.L.Warn("No positions to calculate KPIs over")
	}
	for _, c := range r.ordered() {
		value, err := c.Calculate(positions, results)
		if err != nil {
			logger.L.Error("Calculator failed", "calculator", c.Name(), "error", err)
			results[c.Name()] = nil
			continue
		}
		results[c.Name()] = value
	}
	return results
}

// CalculateOne runs a single calculator against an explicit result set.
func (r *CalculatorRegistry) CalculateOne(name string, positions []models.AnonymizedRecord, results KPIResults) (any, error) {
	r.mu.RLock()
	c, ok := r.calculators[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("calculator %q is not registered", name)
	}
	if results == nil {
		results = make(KPIResults)
	}
	return c.Calculate(positions, results)
}

func isHedgeType(t string) bool {
	return hedgeTypes[strings.ToLower(strings.TrimSpace(t))]
}

func sum(positions []models.AnonymizedRecord, include func(models.AnonymizedRecord) bool, key string) float64 {
	total := decimal.Zero
	for _, p := range positions {
		if include != nil && !include(p) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(p.Float(key)))
	}
	f, _ := total.Float64()
	return f
}

type totalExposureCalculator struct{}

func (totalExposureCalculator) Name() string  { return KPITotalExposure }
func (totalExposureCalculator) Priority() int { return 10 }
func (totalExposureCalculator) Calculate(positions []models.AnonymizedRecord, _ KPIResults) (any, error) {
	return utils.RoundFloat(sum(positions, nil, "amount"), 2), nil
}

// hedgedAmountCalculator counts hedge-typed positions in full plus any
// hedged amount recorded on the other positions.
type hedgedAmountCalculator struct{}

func (hedgedAmountCalculator) Name() string  { return KPIHedgedAmount }
func (hedgedAmountCalculator) Priority() int { return 20 }
func (hedgedAmountCalculator) Calculate(positions []models.AnonymizedRecord, _ KPIResults) (any, error) {
	hedgeTyped := func(p models.AnonymizedRecord) bool { return isHedgeType(p.String("type")) }
	exposure := func(p models.AnonymizedRecord) bool { return !isHedgeType(p.String("type")) }
	total := sum(positions, hedgeTyped, "amount") + sum(positions, exposure, "hedgedAmount")
	return utils.RoundFloat(total, 2), nil
}

type hedgeRatioCalculator struct{}

func (hedgeRatioCalculator) Name() string  { return KPIHedgeRatio }
func (hedgeRatioCalculator) Priority() int { return 30 }
func (hedgeRatioCalculator) Calculate(_ []models.AnonymizedRecord, results KPIResults) (any, error) {
	ratio := utils.Ratio(results.Float(KPIHedgedAmount), results.Float(KPITotalExposure)) * 100
	return utils.RoundFloat(ratio, 1), nil
}

type unhedgedGapCalculator struct{}

func (unhedgedGapCalculator) Name() string  { return KPIUnhedgedGap }
func (unhedgedGapCalculator) Priority() int { return 40 }
func (unhedgedGapCalculator) Calculate(_ []models.AnonymizedRecord, results KPIResults) (any, error) {
	return utils.RoundFloat(results.Float(KPITotalExposure)-results.Float(KPIHedgedAmount), 2), nil
}

type recommendationCalculator struct{}

func (recommendationCalculator) Name() string  { return KPIRecommendation }
func (recommendationCalculator) Priority() int { return 60 }
func (recommendationCalculator) Calculate(_ []models.AnonymizedRecord, results KPIResults) (any, error) {
	return Recommend(results.Float(KPIHedgeRatio)), nil
}

// Recommend classifies a hedge ratio given in percent.
func Recommend(ratio float64) string {
	switch {
	case ratio < optimalRatioMin:
		return RecommendMoreHedge
	case ratio > optimalRatioMax:
		return RecommendOverHedge
	default:
		return RecommendOptimal
	}
}
