package analyzer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/fuelops/sentinel/internal/domain"
	"github.com/fuelops/sentinel/internal/velocity"
)

// fakeCache backs velocity and Benford tests with deterministic state.
type fakeCache struct {
	counters map[string]int64
	amounts  map[string][]float64
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		counters: make(map[string]int64),
		amounts:  make(map[string][]float64),
	}
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (f *fakeCache) Delete(ctx context.Context, key string) error { return nil }

func (f *fakeCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeCache) PushAmount(ctx context.Context, key string, amount float64, max int, ttl time.Duration) ([]float64, error) {
	w := append(f.amounts[key], amount)
	if len(w) > max {
		w = w[len(w)-max:]
	}
	f.amounts[key] = w
	return append([]float64(nil), w...), nil
}

func (f *fakeCache) Ping(ctx context.Context) error { return nil }
func (f *fakeCache) Close() error                   { return nil }

func pumpCandidate(tx *domain.PumpTransaction) *domain.Candidate {
	return &domain.Candidate{
		Domain:    domain.DomainPumpTampering,
		SourceRef: tx.ID,
		Location:  tx.StationID,
		Event:     tx,
	}
}

func TestPumpBehaviorNormalTransaction(t *testing.T) {
	a := NewPumpBehaviorAnalyzer()

	score, evidence, err := a.Score(context.Background(), pumpCandidate(&domain.PumpTransaction{
		ID: "TX-1", StationID: "ST-1", PumpID: "P-1",
		QuantityL: 40, Amount: 600, UnitPrice: 15,
		FlowRateL: 35,
		Timestamp: time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0 {
		t.Errorf("normal transaction scored %v", score)
	}
	if len(evidence) != 0 {
		t.Errorf("normal transaction produced evidence: %v", evidence)
	}
}

func TestPumpBehaviorFlowRateOutOfBand(t *testing.T) {
	a := NewPumpBehaviorAnalyzer()

	// 110 L/min is double the plausible maximum.
	score, evidence, err := a.Score(context.Background(), pumpCandidate(&domain.PumpTransaction{
		ID: "TX-2", StationID: "ST-1", PumpID: "P-1",
		QuantityL: 40, Amount: 600, UnitPrice: 15,
		FlowRateL: 110,
		Timestamp: time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score < 0.9 {
		t.Errorf("extreme flow rate scored only %v", score)
	}
	if len(evidence) == 0 {
		t.Error("expected flow rate evidence")
	}
}

func TestPumpBehaviorAfterHours(t *testing.T) {
	a := NewPumpBehaviorAnalyzer()

	score, _, err := a.Score(context.Background(), pumpCandidate(&domain.PumpTransaction{
		ID: "TX-3", StationID: "ST-1", PumpID: "P-1",
		QuantityL: 40, Amount: 600, UnitPrice: 15,
		FlowRateL: 35,
		Timestamp: time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.5 {
		t.Errorf("3am dispensing scored %v, want 0.5", score)
	}
}

func TestPumpBehaviorPriceVariance(t *testing.T) {
	a := NewPumpBehaviorAnalyzer()

	// Charged 660 for 40 L at 15: 10% over the implied amount.
	score, evidence, err := a.Score(context.Background(), pumpCandidate(&domain.PumpTransaction{
		ID: "TX-4", StationID: "ST-1", PumpID: "P-1",
		QuantityL: 40, Amount: 660, UnitPrice: 15,
		FlowRateL: 35,
		Timestamp: time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 1.0 {
		t.Errorf("10%% price variance scored %v, want 1.0", score)
	}
	if len(evidence) != 1 {
		t.Errorf("expected one evidence entry, got %d", len(evidence))
	}
}

func TestPumpBehaviorWrongEventType(t *testing.T) {
	a := NewPumpBehaviorAnalyzer()

	_, _, err := a.Score(context.Background(), &domain.Candidate{
		Domain: domain.DomainPumpTampering,
		Event:  &domain.DriverTelemetry{},
	})
	if err == nil {
		t.Error("expected error for mismatched event type")
	}
}

func driverCandidate(tel *domain.DriverTelemetry) *domain.Candidate {
	return &domain.Candidate{
		Domain:    domain.DomainDriverDiversion,
		SourceRef: tel.ID,
		Location:  tel.RouteID,
		Event:     tel,
	}
}

func TestDriverAnalyzersCleanRun(t *testing.T) {
	tel := &domain.DriverTelemetry{
		ID: "T-1", DriverID: "DRV-1", RouteID: "RT-1",
		PlannedMinutes: 120, ActualMinutes: 115,
		FuelExpectedL: 80, FuelConsumedL: 78,
	}
	c := driverCandidate(tel)
	ctx := context.Background()

	analyzers := []domain.SignalProvider{
		NewRouteDeviationAnalyzer(),
		NewTimeAnomalyAnalyzer(),
		NewFuelIrregularityAnalyzer(),
		NewGPSTamperAnalyzer(),
	}
	for _, a := range analyzers {
		score, evidence, err := a.Score(ctx, c)
		if err != nil {
			t.Fatalf("%s: %v", a.Name(), err)
		}
		if score != 0 {
			t.Errorf("%s scored %v on a clean run", a.Name(), score)
		}
		if len(evidence) != 0 {
			t.Errorf("%s produced evidence on a clean run", a.Name())
		}
	}
}

func TestRouteDeviationScoring(t *testing.T) {
	a := NewRouteDeviationAnalyzer()
	ctx := context.Background()

	score, evidence, err := a.Score(ctx, driverCandidate(&domain.DriverTelemetry{
		ID: "T-2", DriverID: "DRV-1", RouteID: "RT-1",
		RouteDeviationKm: 10,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.5 {
		t.Errorf("10 km deviation scored %v, want 0.5", score)
	}
	if len(evidence) != 1 {
		t.Errorf("expected evidence for a 10 km deviation")
	}

	// Small deviation scores but produces no evidence.
	score, evidence, err = a.Score(ctx, driverCandidate(&domain.DriverTelemetry{
		ID: "T-3", DriverID: "DRV-1", RouteID: "RT-1",
		RouteDeviationKm: 1,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.05 {
		t.Errorf("1 km deviation scored %v, want 0.05", score)
	}
	if len(evidence) != 0 {
		t.Errorf("small deviation should not produce evidence")
	}
}

func TestTimeAnomalyScoring(t *testing.T) {
	a := NewTimeAnomalyAnalyzer()

	score, evidence, err := a.Score(context.Background(), driverCandidate(&domain.DriverTelemetry{
		ID: "T-4", DriverID: "DRV-1", RouteID: "RT-1",
		PlannedMinutes: 100, ActualMinutes: 125,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.5 {
		t.Errorf("25%% overrun scored %v, want 0.5", score)
	}
	if len(evidence) != 1 {
		t.Errorf("expected evidence for a 25%% overrun")
	}
}

func TestFuelIrregularityScoring(t *testing.T) {
	a := NewFuelIrregularityAnalyzer()

	score, _, err := a.Score(context.Background(), driverCandidate(&domain.DriverTelemetry{
		ID: "T-5", DriverID: "DRV-1", RouteID: "RT-1",
		FuelExpectedL: 100, FuelConsumedL: 115,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.5 {
		t.Errorf("15%% excess scored %v, want 0.5", score)
	}
}

func TestGPSTamperScoring(t *testing.T) {
	a := NewGPSTamperAnalyzer()

	score, evidence, err := a.Score(context.Background(), driverCandidate(&domain.DriverTelemetry{
		ID: "T-6", DriverID: "DRV-1", RouteID: "RT-1",
		GPSGapMinutes:  15,
		UnplannedStops: 2,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 15.0/30.0 + 2*0.15
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", score, want)
	}
	if len(evidence) != 2 {
		t.Errorf("expected gap and stop evidence, got %d entries", len(evidence))
	}
}

func TestInventoryBehavior(t *testing.T) {
	a := NewInventoryBehaviorAnalyzer()
	ctx := context.Background()

	snap := func(book, measured, price float64) *domain.Candidate {
		return &domain.Candidate{
			Domain: domain.DomainInventoryTheft,
			Event: &domain.InventorySnapshot{
				ID: "S-1", StationID: "ST-1", ProductID: "diesel",
				BookStockL: book, MeasuredStockL: measured, UnitPrice: price,
			},
		}
	}

	t.Run("surplus ignored", func(t *testing.T) {
		score, _, err := a.Score(ctx, snap(10000, 10200, 15))
		if err != nil {
			t.Fatal(err)
		}
		if score != 0 {
			t.Errorf("surplus scored %v", score)
		}
	})

	t.Run("evaporation allowance", func(t *testing.T) {
		score, _, err := a.Score(ctx, snap(10000, 9960, 15))
		if err != nil {
			t.Fatal(err)
		}
		if score != 0 {
			t.Errorf("0.4%% shortfall scored %v", score)
		}
	})

	t.Run("material shortfall", func(t *testing.T) {
		score, evidence, err := a.Score(ctx, snap(10000, 9750, 15))
		if err != nil {
			t.Fatal(err)
		}
		if score != 0.5 {
			t.Errorf("2.5%% shortfall scored %v, want 0.5", score)
		}
		if len(evidence) != 1 {
			t.Fatalf("expected one evidence entry")
		}
		if evidence[0].Data["estimatedLoss"] != 250*15.0 {
			t.Errorf("estimated loss = %v", evidence[0].Data["estimatedLoss"])
		}
	})
}

func TestVelocityAnalyzer(t *testing.T) {
	svc := velocity.NewService(newFakeCache(), 0, nil)
	a := NewVelocityAnalyzer(svc)
	ctx := context.Background()

	c := &domain.Candidate{
		Domain:  domain.DomainTransactionFraud,
		Event:   &domain.FinancialTransaction{ID: "F-1", StationID: "ST-1"},
		Parties: map[domain.PartyRole]string{domain.RoleCustomer: "CUST-1"},
	}

	// First four transactions stay silent.
	for i := 0; i < 4; i++ {
		score, _, err := a.Score(ctx, c)
		if err != nil {
			t.Fatal(err)
		}
		if score != 0 {
			t.Fatalf("transaction %d scored %v", i+1, score)
		}
	}

	// Fifth crosses the burst threshold.
	score, evidence, err := a.Score(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(score-1.0/6.0) > 1e-9 {
		t.Errorf("fifth transaction scored %v, want %v", score, 1.0/6.0)
	}
	if len(evidence) != 1 {
		t.Error("expected velocity evidence")
	}
}

func TestVelocityAnalyzerNoCustomer(t *testing.T) {
	svc := velocity.NewService(newFakeCache(), 0, nil)
	a := NewVelocityAnalyzer(svc)

	score, evidence, err := a.Score(context.Background(), &domain.Candidate{
		Domain: domain.DomainTransactionFraud,
		Event:  &domain.FinancialTransaction{ID: "F-2", StationID: "ST-1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if score != 0 || evidence != nil {
		t.Error("anonymous transactions should not be velocity-scored")
	}
}

func TestBenfordDeviation(t *testing.T) {
	t.Run("benford-like data scores near zero", func(t *testing.T) {
		// Amounts whose first digits roughly follow the expected curve.
		var amounts []float64
		digits := []int{1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 4, 4, 5, 5, 6, 7, 8, 9, 1, 2, 3}
		for _, d := range digits {
			amounts = append(amounts, float64(d)*100)
		}
		score, counted := Deviation(amounts)
		if counted != len(digits) {
			t.Fatalf("counted = %d", counted)
		}
		if score > 0.3 {
			t.Errorf("near-Benford data scored %v", score)
		}
	})

	t.Run("fabricated data scores high", func(t *testing.T) {
		// Everything starts with 5: a classic round-number fabrication.
		amounts := make([]float64, 40)
		for i := range amounts {
			amounts[i] = 500
		}
		score, _ := Deviation(amounts)
		if score < 0.9 {
			t.Errorf("single-digit data scored only %v", score)
		}
	})

	t.Run("non-positive amounts skipped", func(t *testing.T) {
		_, counted := Deviation([]float64{0, -10, 120})
		if counted != 1 {
			t.Errorf("counted = %d, want 1", counted)
		}
	})
}

func TestBenfordAnalyzerMinimumSamples(t *testing.T) {
	a := NewBenfordAnalyzer(newFakeCache(), 0, 0)
	ctx := context.Background()

	c := &domain.Candidate{
		Domain:   domain.DomainTransactionFraud,
		Location: "ST-1",
		Event:    &domain.FinancialTransaction{ID: "F-1", StationID: "ST-1", Amount: 500},
	}

	// Below benfordMinSamples the analyzer stays silent even for skewed data.
	for i := 0; i < benfordMinSamples-1; i++ {
		score, _, err := a.Score(ctx, c)
		if err != nil {
			t.Fatal(err)
		}
		if score != 0 {
			t.Fatalf("scored %v with only %d samples", score, i+1)
		}
	}

	score, evidence, err := a.Score(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if score == 0 {
		t.Error("uniform first digits should score once the window fills")
	}
	if len(evidence) != 1 {
		t.Error("expected digit-distribution evidence")
	}
}

func TestNPACompliance(t *testing.T) {
	a := NewNPAComplianceAnalyzer()
	ctx := context.Background()

	t.Run("over ceiling is maximal", func(t *testing.T) {
		score, evidence, err := a.Score(ctx, &domain.Candidate{
			Domain: domain.DomainPriceManipulation,
			Event: &domain.PriceChange{
				ID: "PC-1", StationID: "ST-1", ProductID: "petrol",
				OldPrice: 15, NewPrice: 18, CeilingPrice: 17,
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if score != 1.0 {
			t.Errorf("over-ceiling price scored %v", score)
		}
		if evidence[0].Reliability != 1.0 {
			t.Errorf("ceiling breach reliability = %v", evidence[0].Reliability)
		}
	})

	t.Run("movement within allowance", func(t *testing.T) {
		score, _, err := a.Score(ctx, &domain.Candidate{
			Domain: domain.DomainPriceManipulation,
			Event: &domain.PriceChange{
				ID: "PC-2", StationID: "ST-1", ProductID: "petrol",
				OldPrice: 15, NewPrice: 15.6, CrudeDeltaPct: 2,
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if score != 0 {
			t.Errorf("4%% move on 2%% crude scored %v", score)
		}
	})

	t.Run("unjustified movement", func(t *testing.T) {
		// 20% retail move on flat crude: excess = 20 - 0 - 5 = 15, saturating.
		score, _, err := a.Score(ctx, &domain.Candidate{
			Domain: domain.DomainPriceManipulation,
			Event: &domain.PriceChange{
				ID: "PC-3", StationID: "ST-1", ProductID: "petrol",
				OldPrice: 15, NewPrice: 18,
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if score != 1.0 {
			t.Errorf("20%% move on flat crude scored %v", score)
		}
	})
}

func TestMarginAnalyzer(t *testing.T) {
	a := NewMarginAnalyzer()
	ctx := context.Background()

	t.Run("price cut ignored", func(t *testing.T) {
		score, _, err := a.Score(ctx, &domain.Candidate{
			Domain: domain.DomainPriceManipulation,
			Event: &domain.PriceChange{
				ID: "PC-4", StationID: "ST-1", ProductID: "petrol",
				OldPrice: 15, NewPrice: 14,
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if score != 0 {
			t.Errorf("price cut scored %v", score)
		}
	})

	t.Run("raise under volatility cover", func(t *testing.T) {
		// 10% raise during 20% volatility: clamp01(1.0) * (0.5 + 0.5*1.0) = 1.0
		score, evidence, err := a.Score(ctx, &domain.Candidate{
			Domain: domain.DomainPriceManipulation,
			Event: &domain.PriceChange{
				ID: "PC-5", StationID: "ST-1", ProductID: "petrol",
				OldPrice: 15, NewPrice: 16.5, VolatilityPct: 20,
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if score != 1.0 {
			t.Errorf("score = %v, want 1.0", score)
		}
		if len(evidence) != 1 {
			t.Error("expected margin evidence")
		}
	})

	t.Run("calm market halves the weight", func(t *testing.T) {
		score, _, err := a.Score(ctx, &domain.Candidate{
			Domain: domain.DomainPriceManipulation,
			Event: &domain.PriceChange{
				ID: "PC-6", StationID: "ST-1", ProductID: "petrol",
				OldPrice: 15, NewPrice: 16.5,
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if score != 0.5 {
			t.Errorf("score = %v, want 0.5", score)
		}
	})
}

func TestDocumentIntegrity(t *testing.T) {
	a := NewDocumentIntegrityAnalyzer()
	ctx := context.Background()

	doc := func(d *domain.ScannedDocument) *domain.Candidate {
		d.ID, d.StationID = "DOC-1", "ST-1"
		return &domain.Candidate{Domain: domain.DomainDocumentForgery, Event: d}
	}

	t.Run("clean document", func(t *testing.T) {
		score, evidence, err := a.Score(ctx, doc(&domain.ScannedDocument{
			DocType: "invoice", OCRConfidence: 0.95,
			HasSignature: true, SignatureScore: 0.9,
		}))
		if err != nil {
			t.Fatal(err)
		}
		if score != 0 || len(evidence) != 0 {
			t.Errorf("clean document scored %v with %d evidence entries", score, len(evidence))
		}
	})

	t.Run("hash mismatch dominates", func(t *testing.T) {
		score, _, err := a.Score(ctx, doc(&domain.ScannedDocument{
			DocType: "invoice", OCRConfidence: 0.95,
			HasSignature: true, SignatureScore: 0.9,
			HashMismatch: true,
		}))
		if err != nil {
			t.Fatal(err)
		}
		if score != 0.95 {
			t.Errorf("score = %v, want 0.95", score)
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		score, _, err := a.Score(ctx, doc(&domain.ScannedDocument{
			DocType: "waybill", OCRConfidence: 0.95,
		}))
		if err != nil {
			t.Fatal(err)
		}
		if score != 0.5 {
			t.Errorf("score = %v, want 0.5", score)
		}
	})

	t.Run("weak signature", func(t *testing.T) {
		score, _, err := a.Score(ctx, doc(&domain.ScannedDocument{
			DocType: "invoice", OCRConfidence: 0.95,
			HasSignature: true, SignatureScore: 0.2,
		}))
		if err != nil {
			t.Fatal(err)
		}
		if score != 0.8 {
			t.Errorf("score = %v, want 0.8", score)
		}
	})

	t.Run("degraded scan", func(t *testing.T) {
		score, _, err := a.Score(ctx, doc(&domain.ScannedDocument{
			DocType: "receipt", OCRConfidence: 0.3,
			HasSignature: true, SignatureScore: 0.9,
		}))
		if err != nil {
			t.Fatal(err)
		}
		if score != 0.5 {
			t.Errorf("score = %v, want 0.5", score)
		}
	})
}
