package processors

import (
	"github.com/00vip7-stack/hedge-dashboard/src/models"
)

// RowExtractor turns decoded rows into validated position records.
type RowExtractor interface {
	Extract(rows [][]any, cm models.ColumnMap) (*ExtractionResult, error)
}

// HedgeEstimator computes hedge KPIs locally over anonymised positions.
type HedgeEstimator interface {
	Estimate(positions []models.AnonymizedRecord, targetRatio float64) *models.HedgeCalculation
}

var (
	_ RowExtractor   = (*PositionExtractor)(nil)
	_ HedgeEstimator = (*HedgeCalculator)(nil)
)
