package processors

import (
	"sort"
	"strings"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"github.com/00vip7-stack/hedge-dashboard/src/utils"
)

const (
	SuggestedProduct = "선물환"

	PriorityHigh   = "높음"
	PriorityMedium = "보통"
	PriorityLow    = "낮음"
)

// HedgeCalculator produces a local hedge estimate when the aggregation
// service cannot be reached.
type HedgeCalculator struct {
	registry *CalculatorRegistry
	now      func() time.Time
}

func NewHedgeCalculator(registry *CalculatorRegistry) *HedgeCalculator {
	if registry == nil {
		registry = NewDefaultCalculatorRegistry()
	}
	return &HedgeCalculator{registry: registry, now: time.Now}
}

// Estimate computes KPIs over anonymised positions against targetRatio
// (percent). The result is flagged Mock.
func (h *HedgeCalculator) Estimate(positions []models.AnonymizedRecord, targetRatio float64) *models.HedgeCalculation {
	results := h.registry.CalculateAll(positions)

	total := results.Float(KPITotalExposure)
	hedged := results.Float(KPIHedgedAmount)
	currentRatio := utils.Ratio(hedged, total) * 100
	targetAmount := total * targetRatio / 100

	calc := &models.HedgeCalculation{
		Success: true,
		KPI: models.HedgeKPI{
			TotalExposure:       total,
			TargetHedgeRatio:    targetRatio,
			TargetHedgeAmount:   utils.RoundFloat(targetAmount, 2),
			CurrentHedgedAmount: hedged,
			CurrentHedgeRatio:   utils.RoundFloat(currentRatio, 1),
			Gap:                 utils.RoundFloat(currentRatio-targetRatio, 1),
			UnhedgedAmount:      utils.RoundFloat(total-hedged, 2),
		},
		Suggestions:  suggestByCurrency(positions, targetRatio),
		Mock:         true,
		CalculatedAt: h.now().UTC(),
	}
	if rec, ok := results[KPIRecommendation].(string); ok {
		calc.Recommendation = rec
	}
	return calc
}

// suggestByCurrency proposes a forward for every currency whose hedged
// amount falls short of its share of the target.
func suggestByCurrency(positions []models.AnonymizedRecord, targetRatio float64) []models.HedgeSuggestion {
	byCurrency := make(map[string][]models.AnonymizedRecord)
	for _, p := range positions {
		cur := strings.ToUpper(strings.TrimSpace(p.String("currency")))
		if cur == "" {
			continue
		}
		byCurrency[cur] = append(byCurrency[cur], p)
	}

	var (
		suggestions []models.HedgeSuggestion
		totalNeed   float64
	)
	for cur, group := range byCurrency {
		exposure, _ := totalExposureCalculator{}.Calculate(group, nil)
		hedged, _ := hedgedAmountCalculator{}.Calculate(group, nil)
		need := exposure.(float64)*targetRatio/100 - hedged.(float64)
		if need <= 0 {
			continue
		}
		totalNeed += need
		suggestions = append(suggestions, models.HedgeSuggestion{
			Currency: cur,
			Amount:   utils.RoundFloat(need, 2),
			Product:  SuggestedProduct,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Amount != suggestions[j].Amount {
			return suggestions[i].Amount > suggestions[j].Amount
		}
		return suggestions[i].Currency < suggestions[j].Currency
	})
	for i := range suggestions {
		share := utils.Ratio(suggestions[i].Amount, totalNeed)
		switch {
		case share >= 0.5:
			suggestions[i].Priority = PriorityHigh
		case share >= 0.2:
			suggestions[i].Priority = PriorityMedium
		default:
			suggestions[i].Priority = PriorityLow
		}
	}
	return suggestions
}
