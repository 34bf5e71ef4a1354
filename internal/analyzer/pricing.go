package analyzer

import (
	"context"
	"fmt"
	"math"

	"github.com/fuelops/sentinel/internal/domain"
)

// NPAComplianceAnalyzer checks price changes against the regulatory regime:
// the posted ceiling and the indicative band around crude movements. Pricing
// above the ceiling scores maximally regardless of anything else.
type NPAComplianceAnalyzer struct{}

// NewNPAComplianceAnalyzer creates a regulatory compliance analyzer.
func NewNPAComplianceAnalyzer() *NPAComplianceAnalyzer {
	return &NPAComplianceAnalyzer{}
}

// Name implements domain.SignalProvider.
func (a *NPAComplianceAnalyzer) Name() string { return "compliance" }

// Score implements domain.SignalProvider.
func (a *NPAComplianceAnalyzer) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	pc, ok := c.Event.(*domain.PriceChange)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected event type %T", c.Event)
	}

	var score float64
	var evidence []domain.Evidence

	if pc.CeilingPrice > 0 && pc.NewPrice > pc.CeilingPrice {
		score = 1.0
		evidence = append(evidence, domain.Evidence{
			Type:        "compliance",
			Description: fmt.Sprintf("new price %.4f exceeds regulatory ceiling %.4f", pc.NewPrice, pc.CeilingPrice),
			Source:      "analyzer:compliance",
			Reliability: 1.0,
			Data: map[string]any{
				"newPrice":     pc.NewPrice,
				"ceilingPrice": pc.CeilingPrice,
			},
		})
	}

	delta := priceDeltaPct(pc)
	// Retail movement beyond crude movement plus a 5 point allowance is
	// unjustified; 15 points of excess saturates.
	excess := math.Abs(delta) - math.Abs(pc.CrudeDeltaPct) - 5.0
	if excess > 0 {
		score = math.Max(score, clamp01(excess/15.0))
		evidence = append(evidence, domain.Evidence{
			Type:        "compliance",
			Description: fmt.Sprintf("price moved %.1f%% against a %.1f%% crude movement", delta, pc.CrudeDeltaPct),
			Source:      "analyzer:compliance",
			Reliability: 0.85,
			Data: map[string]any{
				"priceDeltaPct": delta,
				"crudeDeltaPct": pc.CrudeDeltaPct,
			},
		})
	}

	return clamp01(score), evidence, nil
}

// MarginAnalyzer scores opportunistic margin grabs: sharp retail increases
// taken under cover of market volatility rather than justified by it.
type MarginAnalyzer struct{}

// NewMarginAnalyzer creates a margin analyzer.
func NewMarginAnalyzer() *MarginAnalyzer {
	return &MarginAnalyzer{}
}

// Name implements domain.SignalProvider.
func (a *MarginAnalyzer) Name() string { return "margin" }

// Score implements domain.SignalProvider.
func (a *MarginAnalyzer) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	pc, ok := c.Event.(*domain.PriceChange)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected event type %T", c.Event)
	}

	delta := priceDeltaPct(pc)
	if delta <= 0 {
		// Price cuts do not widen margin.
		return 0, nil, nil
	}

	// Volatile markets make increases look routine; weight the raise by how
	// much volatility it hides behind. A 10% raise during 20%+ volatility
	// saturates the score.
	volWeight := clamp01(pc.VolatilityPct / 20.0)
	score := clamp01(delta/10.0) * (0.5 + 0.5*volWeight)
	if score < 0.2 {
		return score, nil, nil
	}

	evidence := []domain.Evidence{{
		Type:        "margin",
		Description: fmt.Sprintf("%.1f%% retail increase during %.1f%% market volatility", delta, pc.VolatilityPct),
		Source:      "analyzer:margin",
		Reliability: 0.75,
		Data: map[string]any{
			"priceDeltaPct": delta,
			"volatilityPct": pc.VolatilityPct,
		},
	}}
	return score, evidence, nil
}

// priceDeltaPct is the retail price movement as a percentage of old price.
func priceDeltaPct(pc *domain.PriceChange) float64 {
	if pc.OldPrice <= 0 {
		return 0
	}
	return (pc.NewPrice - pc.OldPrice) / pc.OldPrice * 100
}
