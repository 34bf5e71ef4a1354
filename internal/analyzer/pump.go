// Package analyzer implements the domain-specific bespoke detectors. Each
// analyzer satisfies domain.SignalProvider and encodes heuristics that the
// generic rule, pattern, and statistical providers cannot express.
package analyzer

import (
	"context"
	"fmt"
	"math"

	"github.com/fuelops/sentinel/internal/domain"
)

// Plausible dispensing band for retail pumps, litres per minute.
const (
	minFlowRateLpm = 2.0
	maxFlowRateLpm = 55.0
)

// PumpBehaviorAnalyzer detects meter and calibration tampering from the
// physical characteristics of a dispensing event: implausible flow rates,
// after-hours activity, and mismatches between dispensed quantity and the
// amount charged.
type PumpBehaviorAnalyzer struct{}

// NewPumpBehaviorAnalyzer creates a pump behavior analyzer.
func NewPumpBehaviorAnalyzer() *PumpBehaviorAnalyzer {
	return &PumpBehaviorAnalyzer{}
}

// Name implements domain.SignalProvider.
func (a *PumpBehaviorAnalyzer) Name() string { return "behavior" }

// Score implements domain.SignalProvider.
func (a *PumpBehaviorAnalyzer) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	tx, ok := c.Event.(*domain.PumpTransaction)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected event type %T", c.Event)
	}

	var score float64
	var evidence []domain.Evidence

	if flow := flowAnomaly(tx); flow > 0 {
		score = math.Max(score, flow)
		evidence = append(evidence, domain.Evidence{
			Type:        "behavior",
			Description: fmt.Sprintf("flow rate %.1f L/min outside plausible band [%.0f, %.0f]", tx.FlowRateL, minFlowRateLpm, maxFlowRateLpm),
			Source:      "analyzer:pump",
			Reliability: 0.85,
			Data:        map[string]any{"flowRateLpm": tx.FlowRateL},
		})
	}

	hour := tx.Timestamp.Hour()
	if hour < 5 || hour >= 23 {
		score = math.Max(score, 0.5)
		evidence = append(evidence, domain.Evidence{
			Type:        "behavior",
			Description: fmt.Sprintf("dispensing at %02d:00, outside station operating hours", hour),
			Source:      "analyzer:pump",
			Reliability: 0.6,
			Data:        map[string]any{"hour": hour},
		})
	}

	if variance := priceVariance(tx); variance > 0.02 {
		// Charged amount disagrees with quantity times posted price by more
		// than rounding can explain.
		score = math.Max(score, clamp01(variance/0.10))
		evidence = append(evidence, domain.Evidence{
			Type:        "behavior",
			Description: fmt.Sprintf("charged amount deviates %.1f%% from quantity at posted price", variance*100),
			Source:      "analyzer:pump",
			Reliability: 0.9,
			Data: map[string]any{
				"amount":   tx.Amount,
				"expected": tx.QuantityL * tx.UnitPrice,
			},
		})
	}

	return clamp01(score), evidence, nil
}

// flowAnomaly scores how far the flow rate sits outside the plausible band.
func flowAnomaly(tx *domain.PumpTransaction) float64 {
	if tx.FlowRateL <= 0 {
		return 0
	}
	switch {
	case tx.FlowRateL > maxFlowRateLpm:
		return clamp01((tx.FlowRateL - maxFlowRateLpm) / maxFlowRateLpm)
	case tx.FlowRateL < minFlowRateLpm:
		return clamp01((minFlowRateLpm - tx.FlowRateL) / minFlowRateLpm)
	}
	return 0
}

// priceVariance is the relative gap between the charged amount and quantity
// times unit price. Zero when the expected amount is zero.
func priceVariance(tx *domain.PumpTransaction) float64 {
	expected := tx.QuantityL * tx.UnitPrice
	if expected <= 0 {
		return 0
	}
	return math.Abs(tx.Amount-expected) / expected
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
