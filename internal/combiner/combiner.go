// Package combiner folds per-provider fraud signals into one confidence
// score per evaluation.
package combiner

import (
	"github.com/fuelops/sentinel/internal/domain"
)

// FallbackWeight is the weight given to signals whose name is missing from
// the domain's weight table, so custom providers still influence the score
// without dominating it.
const FallbackWeight = 0.1

// defaultWeights is the per-domain signal weighting. Weights express
// relative trust; the combined score is normalized by the weight of the
// signals actually present, so a missing provider redistributes its share
// instead of dragging the score down.
var defaultWeights = map[domain.DomainType]map[string]float64{
	domain.DomainPumpTampering: {
		"rules":    0.20,
		"anomaly":  0.25,
		"pattern":  0.20,
		"behavior": 0.20,
		"ml":       0.15,
	},
	domain.DomainDriverDiversion: {
		"routeDeviation":     0.25,
		"timeAnomalies":      0.20,
		"fuelIrregularities": 0.25,
		"knownSchemes":       0.20,
		"gpsTampering":       0.10,
	},
	domain.DomainInventoryTheft: {
		"rules":    0.20,
		"anomaly":  0.30,
		"pattern":  0.15,
		"behavior": 0.25,
		"ml":       0.10,
	},
	domain.DomainTransactionFraud: {
		"rules":    0.20,
		"anomaly":  0.20,
		"pattern":  0.15,
		"velocity": 0.20,
		"benford":  0.15,
		"ml":       0.10,
	},
	domain.DomainPriceManipulation: {
		"rules":      0.30,
		"compliance": 0.30,
		"margin":     0.25,
		"pattern":    0.15,
	},
	domain.DomainDocumentForgery: {
		"rules":     0.20,
		"integrity": 0.40,
		"pattern":   0.25,
		"ml":        0.15,
	},
}

// Combiner computes the weighted confidence for a set of signals.
type Combiner struct {
	weights map[domain.DomainType]map[string]float64
}

// New creates a combiner with the default per-domain weight tables.
func New() *Combiner {
	return &Combiner{weights: defaultWeights}
}

// NewWithWeights creates a combiner with custom weight tables, merged over
// the defaults per domain.
func NewWithWeights(overrides map[domain.DomainType]map[string]float64) *Combiner {
	weights := make(map[domain.DomainType]map[string]float64, len(defaultWeights))
	for d, table := range defaultWeights {
		merged := make(map[string]float64, len(table))
		for name, w := range table {
			merged[name] = w
		}
		for name, w := range overrides[d] {
			merged[name] = w
		}
		weights[d] = merged
	}
	return &Combiner{weights: weights}
}

// Weight returns the weight the combiner will apply to a signal name in a
// domain.
func (c *Combiner) Weight(d domain.DomainType, name string) float64 {
	if w, ok := c.weights[d][name]; ok {
		return w
	}
	return FallbackWeight
}

// Combine returns the weighted mean of the signals present, normalized by
// their total weight and clamped to [0,1]. An empty signal set combines to
// zero. Failed or absent providers simply do not appear in signals; their
// weight is excluded from the normalization rather than counted as zero.
func (c *Combiner) Combine(d domain.DomainType, signals []domain.Signal) float64 {
	if len(signals) == 0 {
		return 0
	}

	var total, totalWeight float64
	for _, s := range signals {
		w := c.Weight(d, s.Name)
		total += s.Score * w
		totalWeight += w
	}

	if totalWeight == 0 {
		return 0
	}

	score := total / totalWeight
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
