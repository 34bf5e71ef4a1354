package provider

import (
	"context"
	"fmt"
	"math"

	"github.com/fuelops/sentinel/internal/domain"
)

// Scorer is the contract between the engine and any learned or statistical
// model: given a numeric feature vector, return a fraud score in [0,1].
// Training and retraining happen in an external process; at call time a
// scorer is stateless.
type Scorer interface {
	ScoreVector(features []float64) float64
	Version() string
}

// StatisticalProvider wraps an outlier scorer as a signal provider under
// the "anomaly" signal name.
type StatisticalProvider struct {
	scorer Scorer
}

// NewStatisticalProvider wraps a pre-trained outlier scorer.
func NewStatisticalProvider(s Scorer) *StatisticalProvider {
	return &StatisticalProvider{scorer: s}
}

// Name implements domain.SignalProvider.
func (p *StatisticalProvider) Name() string { return "anomaly" }

// Score implements domain.SignalProvider.
func (p *StatisticalProvider) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	if p.scorer == nil {
		return 0, nil, fmt.Errorf("no scorer configured")
	}

	score := clamp01(p.scorer.ScoreVector(c.Features))
	if score == 0 {
		return 0, nil, nil
	}

	return score, []domain.Evidence{{
		Type:        "anomaly",
		Description: fmt.Sprintf("statistical outlier score %.2f (%s)", score, p.scorer.Version()),
		Source:      "statistical:" + p.scorer.Version(),
		Reliability: 0.8,
		Data:        map[string]any{"score": score},
	}}, nil
}

// ZScoreScorer is the default outlier scorer: a robust z-score over the
// feature vector against a configured per-field baseline, squashed into
// [0,1] with a logistic curve. It stands in for the isolation-forest style
// model, which plugs in behind the same Scorer contract.
type ZScoreScorer struct {
	means []float64
	stds  []float64
}

// NewZScoreScorer creates a z-score scorer from baseline statistics.
// Fields whose std is zero are ignored.
func NewZScoreScorer(means, stds []float64) *ZScoreScorer {
	return &ZScoreScorer{means: means, stds: stds}
}

// Version implements Scorer.
func (z *ZScoreScorer) Version() string { return "zscore-1" }

// ScoreVector implements Scorer.
func (z *ZScoreScorer) ScoreVector(features []float64) float64 {
	var worst float64
	for i, v := range features {
		if i >= len(z.means) || i >= len(z.stds) || z.stds[i] <= 0 {
			continue
		}
		zv := math.Abs(v-z.means[i]) / z.stds[i]
		if zv > worst {
			worst = zv
		}
	}

	if worst == 0 {
		return 0
	}
	// Logistic squash centered at 3 sigma: ~0.5 at 3σ, ~0.9 at 5σ.
	return clamp01(1 / (1 + math.Exp(-(worst-3))))
}

// DriftScorer scores diffuse deviation: the mean absolute z-score across
// the baseline fields, squashed into [0,1]. Where ZScoreScorer reacts to a
// single wildly deviant field, DriftScorer reacts to many mildly deviant
// ones, which makes the two usable side by side in an ensemble.
type DriftScorer struct {
	means []float64
	stds  []float64
}

// NewDriftScorer creates a drift scorer from baseline statistics. Fields
// whose std is zero are ignored.
func NewDriftScorer(means, stds []float64) *DriftScorer {
	return &DriftScorer{means: means, stds: stds}
}

// Version implements Scorer.
func (s *DriftScorer) Version() string { return "drift-1" }

// ScoreVector implements Scorer. Per-field deviations are capped at 3
// sigma so a single extreme field cannot dominate the average.
func (s *DriftScorer) ScoreVector(features []float64) float64 {
	var total float64
	var n int
	for i, v := range features {
		if i >= len(s.means) || i >= len(s.stds) || s.stds[i] <= 0 {
			continue
		}
		zv := math.Abs(v-s.means[i]) / s.stds[i]
		if zv > 3 {
			zv = 3
		}
		total += zv
		n++
	}

	if n == 0 || total == 0 {
		return 0
	}
	// Logistic squash centered at an average deviation of 1.5 sigma.
	avg := total / float64(n)
	return clamp01(1 / (1 + math.Exp(-2*(avg-1.5))))
}

// LogisticScorer is a linear model with a sigmoid output, the stand-in for
// externally trained classifiers. Coefficients are produced by an offline
// training job and loaded at startup.
type LogisticScorer struct {
	weights []float64
	bias    float64
	version string
}

// NewLogisticScorer creates a logistic scorer from trained coefficients.
func NewLogisticScorer(weights []float64, bias float64, version string) *LogisticScorer {
	if version == "" {
		version = "logit-1"
	}
	return &LogisticScorer{weights: weights, bias: bias, version: version}
}

// Version implements Scorer.
func (l *LogisticScorer) Version() string { return l.version }

// ScoreVector implements Scorer.
func (l *LogisticScorer) ScoreVector(features []float64) float64 {
	z := l.bias
	for i, v := range features {
		if i >= len(l.weights) {
			break
		}
		z += l.weights[i] * v
	}
	return clamp01(1 / (1 + math.Exp(-z)))
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
