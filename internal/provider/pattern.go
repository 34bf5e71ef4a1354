package provider

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/fuelops/sentinel/internal/domain"
	"github.com/fuelops/sentinel/internal/feature"
)

// SimilarityFloor is the minimum similarity for a pattern match to count.
const SimilarityFloor = 0.7

// PatternProvider scores candidates against a library of known fraud
// patterns filtered by domain. The score is the maximum similarity across
// qualifying matches, with one evidence entry per match at or above the
// similarity floor. Patterns are refreshed via LoadPatterns; during an
// evaluation the library is read-only.
type PatternProvider struct {
	mu       sync.RWMutex
	patterns map[domain.DomainType][]*domain.KnownPattern
}

// NewPatternProvider creates an empty pattern provider.
func NewPatternProvider() *PatternProvider {
	return &PatternProvider{
		patterns: make(map[domain.DomainType][]*domain.KnownPattern),
	}
}

// Name implements domain.SignalProvider.
func (p *PatternProvider) Name() string { return "pattern" }

// LoadPatterns replaces the pattern library with the enabled subset of ps.
func (p *PatternProvider) LoadPatterns(ps []*domain.KnownPattern) {
	next := make(map[domain.DomainType][]*domain.KnownPattern)
	for _, kp := range ps {
		if kp.Enabled {
			next[kp.Domain] = append(next[kp.Domain], kp)
		}
	}

	p.mu.Lock()
	p.patterns = next
	p.mu.Unlock()
}

// PatternCount returns the number of loaded patterns across all domains.
func (p *PatternProvider) PatternCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, ps := range p.patterns {
		n += len(ps)
	}
	return n
}

// Score implements domain.SignalProvider.
func (p *PatternProvider) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	p.mu.RLock()
	patterns := p.patterns[c.Domain]
	p.mu.RUnlock()

	if len(patterns) == 0 {
		return 0, nil, nil
	}

	activation := feature.Activation(c)

	var best float64
	var evidence []domain.Evidence

	for _, kp := range patterns {
		sim := similarity(kp.Indicators, activation)
		if sim < SimilarityFloor {
			continue
		}
		if sim > best {
			best = sim
		}
		evidence = append(evidence, domain.Evidence{
			Type:        "pattern",
			Description: fmt.Sprintf("matches known pattern %q (similarity %.2f)", kp.Name, sim),
			Source:      "pattern:" + kp.ID,
			Reliability: sim,
			Data: map[string]any{
				"patternId":  kp.ID,
				"similarity": sim,
			},
		})
	}

	return best, evidence, nil
}

// similarity is the cosine similarity between a pattern's indicator vector
// and the candidate's features, taken over the indicator's keys. Indicator
// keys missing from the candidate contribute zero.
func similarity(indicators map[string]float64, features map[string]float64) float64 {
	if len(indicators) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for name, want := range indicators {
		got := features[name]
		dot += want * got
		normA += want * want
		normB += got * got
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	return sim
}
