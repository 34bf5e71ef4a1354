package provider

import (
	"context"
	"fmt"

	"github.com/fuelops/sentinel/internal/domain"
)

// EnsembleProvider combines multiple learned scorers into one "ml" signal
// using a fixed internal weighting. This weighting is part of the ensemble,
// separate from the domain-level combiner weights.
type EnsembleProvider struct {
	members []EnsembleMember
}

// EnsembleMember is one scorer with its fixed share of the ensemble.
type EnsembleMember struct {
	Scorer Scorer
	Weight float64
}

// NewEnsembleProvider builds an ensemble from members. Weights are used as
// given; the combined score is normalized by the weight of the members that
// actually produced a score.
func NewEnsembleProvider(members []EnsembleMember) *EnsembleProvider {
	return &EnsembleProvider{members: members}
}

// Name implements domain.SignalProvider.
func (p *EnsembleProvider) Name() string { return "ml" }

// Score implements domain.SignalProvider.
func (p *EnsembleProvider) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	if len(p.members) == 0 {
		return 0, nil, fmt.Errorf("no ensemble members configured")
	}

	var total, totalWeight float64
	breakdown := make(map[string]any, len(p.members))

	for _, m := range p.members {
		if m.Scorer == nil || m.Weight <= 0 {
			continue
		}
		s := clamp01(m.Scorer.ScoreVector(c.Features))
		total += s * m.Weight
		totalWeight += m.Weight
		breakdown[m.Scorer.Version()] = s
	}

	if totalWeight == 0 {
		return 0, nil, fmt.Errorf("no usable ensemble members")
	}

	score := clamp01(total / totalWeight)
	if score == 0 {
		return 0, nil, nil
	}

	return score, []domain.Evidence{{
		Type:        "ml",
		Description: fmt.Sprintf("ensemble fraud score %.2f across %d models", score, len(breakdown)),
		Source:      "ensemble",
		Reliability: 0.75,
		Data:        breakdown,
	}}, nil
}
