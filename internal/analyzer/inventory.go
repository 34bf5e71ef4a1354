package analyzer

import (
	"context"
	"fmt"

	"github.com/fuelops/sentinel/internal/domain"
)

// InventoryBehaviorAnalyzer scores tank reconciliation variances. Losses up
// to 0.5% of book stock are treated as evaporation and measurement noise; a
// 5% shortfall saturates the score.
type InventoryBehaviorAnalyzer struct{}

// NewInventoryBehaviorAnalyzer creates an inventory behavior analyzer.
func NewInventoryBehaviorAnalyzer() *InventoryBehaviorAnalyzer {
	return &InventoryBehaviorAnalyzer{}
}

// Name implements domain.SignalProvider.
func (a *InventoryBehaviorAnalyzer) Name() string { return "behavior" }

// Score implements domain.SignalProvider.
func (a *InventoryBehaviorAnalyzer) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	snap, ok := c.Event.(*domain.InventorySnapshot)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected event type %T", c.Event)
	}

	variance := snap.VarianceL()
	if variance <= 0 || snap.BookStockL <= 0 {
		// Surplus or zero variance is a bookkeeping problem, not theft.
		return 0, nil, nil
	}

	ratio := variance / snap.BookStockL
	if ratio <= 0.005 {
		return 0, nil, nil
	}

	score := clamp01(ratio / 0.05)
	loss := variance * snap.UnitPrice

	evidence := []domain.Evidence{{
		Type:        "reconciliation",
		Description: fmt.Sprintf("stock shortfall of %.0f L (%.2f%% of book stock), estimated loss %.2f", variance, ratio*100, loss),
		Source:      "analyzer:inventory",
		Reliability: 0.9,
		Data: map[string]any{
			"varianceLitres": variance,
			"varianceRatio":  ratio,
			"estimatedLoss":  loss,
		},
	}}

	return score, evidence, nil
}
