package provider

import (
	"context"
	"math"
	"testing"

	"github.com/fuelops/sentinel/internal/domain"
)

func TestZScoreScorer(t *testing.T) {
	s := NewZScoreScorer(
		[]float64{40, 600},
		[]float64{10, 100},
	)

	t.Run("baseline values score low", func(t *testing.T) {
		if got := s.ScoreVector([]float64{40, 600}); got != 0 {
			t.Errorf("exact baseline scored %v", got)
		}
	})

	t.Run("three sigma is the midpoint", func(t *testing.T) {
		got := s.ScoreVector([]float64{70, 600}) // z = 3 on the first field
		if math.Abs(got-0.5) > 1e-9 {
			t.Errorf("3 sigma scored %v, want 0.5", got)
		}
	})

	t.Run("extreme outlier saturates", func(t *testing.T) {
		got := s.ScoreVector([]float64{140, 600}) // z = 10
		if got < 0.99 {
			t.Errorf("10 sigma scored only %v", got)
		}
	})

	t.Run("zero std fields ignored", func(t *testing.T) {
		s := NewZScoreScorer([]float64{40}, []float64{0})
		if got := s.ScoreVector([]float64{1000}); got != 0 {
			t.Errorf("field with zero std contributed %v", got)
		}
	})
}

func TestDriftScorer(t *testing.T) {
	s := NewDriftScorer(
		[]float64{40, 600, 15},
		[]float64{10, 100, 3},
	)

	if s.Version() != "drift-1" {
		t.Errorf("version = %s", s.Version())
	}

	t.Run("baseline values score zero", func(t *testing.T) {
		if got := s.ScoreVector([]float64{40, 600, 15}); got != 0 {
			t.Errorf("exact baseline scored %v", got)
		}
	})

	t.Run("uniform drift scores high", func(t *testing.T) {
		// Every field 3 sigma out.
		got := s.ScoreVector([]float64{70, 900, 24})
		if got < 0.9 {
			t.Errorf("uniform 3 sigma drift scored %v", got)
		}
	})

	t.Run("single spike stays below worst-field scorer", func(t *testing.T) {
		// One field 10 sigma out, the rest on baseline. The worst-field
		// scorer saturates here; the drift scorer must not follow it.
		spike := []float64{140, 600, 15}
		drift := s.ScoreVector(spike)
		worst := NewZScoreScorer([]float64{40, 600, 15}, []float64{10, 100, 3}).ScoreVector(spike)
		if drift >= worst {
			t.Errorf("drift %v >= worst-field %v on a single spike", drift, worst)
		}
		if drift > 0.6 {
			t.Errorf("single spike dominated the drift score: %v", drift)
		}
	})

	t.Run("zero std fields ignored", func(t *testing.T) {
		s := NewDriftScorer([]float64{40}, []float64{0})
		if got := s.ScoreVector([]float64{1000}); got != 0 {
			t.Errorf("field with zero std contributed %v", got)
		}
	})
}

func TestLogisticScorer(t *testing.T) {
	s := NewLogisticScorer([]float64{1.0}, 0, "")

	if s.Version() != "logit-1" {
		t.Errorf("default version = %s", s.Version())
	}

	if got := s.ScoreVector([]float64{0}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("zero input should sit at the sigmoid midpoint, got %v", got)
	}
	if got := s.ScoreVector([]float64{10}); got < 0.99 {
		t.Errorf("strongly positive input scored %v", got)
	}
	if got := s.ScoreVector([]float64{-10}); got > 0.01 {
		t.Errorf("strongly negative input scored %v", got)
	}

	// Extra features beyond the trained weights are ignored.
	if got := s.ScoreVector([]float64{0, 999}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("untrained feature contributed, got %v", got)
	}
}

func TestStatisticalProvider(t *testing.T) {
	p := NewStatisticalProvider(NewZScoreScorer([]float64{40}, []float64{10}))

	if p.Name() != "anomaly" {
		t.Errorf("name = %s", p.Name())
	}

	score, evidence, err := p.Score(context.Background(), &domain.Candidate{
		Domain:   domain.DomainPumpTampering,
		Features: domain.FeatureVector{120}, // z = 8
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score < 0.9 {
		t.Errorf("8 sigma outlier scored %v", score)
	}
	if len(evidence) != 1 {
		t.Fatalf("expected one evidence entry, got %d", len(evidence))
	}
	if evidence[0].Source != "statistical:zscore-1" {
		t.Errorf("evidence source = %s", evidence[0].Source)
	}
}

func TestStatisticalProviderNilScorer(t *testing.T) {
	p := NewStatisticalProvider(nil)
	_, _, err := p.Score(context.Background(), &domain.Candidate{})
	if err == nil {
		t.Error("expected error for missing scorer")
	}
}

func TestEnsembleProvider(t *testing.T) {
	p := NewEnsembleProvider([]EnsembleMember{
		{Scorer: NewLogisticScorer([]float64{100}, 0, "logit-a"), Weight: 0.5}, // saturates to ~1
		{Scorer: NewZScoreScorer([]float64{1}, []float64{1}), Weight: 0.5},     // z=0 -> 0
	})

	if p.Name() != "ml" {
		t.Errorf("name = %s", p.Name())
	}

	score, evidence, err := p.Score(context.Background(), &domain.Candidate{
		Domain:   domain.DomainPumpTampering,
		Features: domain.FeatureVector{1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(score-0.5) > 0.01 {
		t.Errorf("equal-weight mean of ~1 and 0 = %v, want ~0.5", score)
	}
	if len(evidence) != 1 {
		t.Fatalf("expected one evidence entry, got %d", len(evidence))
	}
}

func TestEnsembleProviderNoMembers(t *testing.T) {
	p := NewEnsembleProvider(nil)
	_, _, err := p.Score(context.Background(), &domain.Candidate{})
	if err == nil {
		t.Error("expected error for empty ensemble")
	}
}
