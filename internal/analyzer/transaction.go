package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fuelops/sentinel/internal/domain"
	"github.com/fuelops/sentinel/internal/velocity"
)

// VelocityAnalyzer scores rapid-fire transaction bursts from one customer.
// Five transactions inside the rolling window is suspicious; ten saturates
// the score.
type VelocityAnalyzer struct {
	svc *velocity.Service
}

// NewVelocityAnalyzer creates a velocity analyzer over a velocity service.
func NewVelocityAnalyzer(svc *velocity.Service) *VelocityAnalyzer {
	return &VelocityAnalyzer{svc: svc}
}

// Name implements domain.SignalProvider.
func (a *VelocityAnalyzer) Name() string { return "velocity" }

// Score implements domain.SignalProvider.
func (a *VelocityAnalyzer) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	count, err := a.svc.CandidateCount(ctx, c)
	if err != nil {
		return 0, nil, fmt.Errorf("velocity lookup failed: %w", err)
	}

	if count < 5 {
		return 0, nil, nil
	}

	score := clamp01(float64(count-4) / 6.0)
	evidence := []domain.Evidence{{
		Type:        "velocity",
		Description: fmt.Sprintf("%d transactions from customer within %s", count, a.svc.Window()),
		Source:      "analyzer:velocity",
		Reliability: 0.85,
		Data:        map[string]any{"count": count},
	}}
	return score, evidence, nil
}

// benfordExpected is the Benford's law first-digit distribution for digits
// 1 through 9.
var benfordExpected = [9]float64{
	0.301, 0.176, 0.125, 0.097, 0.079, 0.067, 0.058, 0.051, 0.046,
}

// benfordMinSamples is the minimum window size before digit-distribution
// deviation is scored; below it the analyzer stays silent.
const benfordMinSamples = 20

// BenfordAnalyzer scores the first-digit distribution of recent transaction
// amounts at a station against Benford's law. Fabricated amounts cluster on
// favorite digits and drift from the expected logarithmic curve.
type BenfordAnalyzer struct {
	cache      domain.Cache
	windowSize int
	ttl        time.Duration
}

// NewBenfordAnalyzer creates a Benford analyzer keeping the last windowSize
// amounts per station for ttl.
func NewBenfordAnalyzer(cache domain.Cache, windowSize int, ttl time.Duration) *BenfordAnalyzer {
	if windowSize <= 0 {
		windowSize = 200
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &BenfordAnalyzer{cache: cache, windowSize: windowSize, ttl: ttl}
}

// Name implements domain.SignalProvider.
func (a *BenfordAnalyzer) Name() string { return "benford" }

// Score implements domain.SignalProvider.
func (a *BenfordAnalyzer) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	tx, ok := c.Event.(*domain.FinancialTransaction)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected event type %T", c.Event)
	}

	amounts, err := a.cache.PushAmount(ctx, "benford:"+c.Location, tx.Amount, a.windowSize, a.ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to update amount window: %w", err)
	}

	score, counted := Deviation(amounts)
	if counted < benfordMinSamples || score == 0 {
		return 0, nil, nil
	}

	evidence := []domain.Evidence{{
		Type:        "benford",
		Description: fmt.Sprintf("first-digit distribution over %d recent amounts deviates from Benford's law (deviation %.2f)", counted, score),
		Source:      "analyzer:benford",
		Reliability: 0.7,
		Data: map[string]any{
			"samples":   counted,
			"deviation": score,
		},
	}}
	return score, evidence, nil
}

// Deviation computes the normalized total variation between the observed
// first-digit distribution of amounts and the Benford expectation, returning
// the deviation score in [0,1] and the number of usable samples. The maximum
// possible total variation distance is 1; everyday retail data sits well
// under 0.2, so 0.5 saturates the score.
func Deviation(amounts []float64) (float64, int) {
	var counts [9]int
	total := 0
	for _, amt := range amounts {
		d := firstDigit(amt)
		if d == 0 {
			continue
		}
		counts[d-1]++
		total++
	}
	if total == 0 {
		return 0, 0
	}

	var tvd float64
	for i := 0; i < 9; i++ {
		observed := float64(counts[i]) / float64(total)
		tvd += math.Abs(observed - benfordExpected[i])
	}
	tvd /= 2

	return clamp01(tvd / 0.5), total
}

// firstDigit returns the leading significant digit of v, or 0 when v has
// none (zero, negative, NaN).
func firstDigit(v float64) int {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	for v >= 10 {
		v /= 10
	}
	for v < 1 {
		v *= 10
	}
	return int(v)
}
