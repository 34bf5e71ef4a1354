package analyzer

import (
	"context"
	"fmt"

	"github.com/fuelops/sentinel/internal/domain"
)

// RouteDeviationAnalyzer scores how far a delivery run strayed from its
// planned route. A 20 km deviation saturates the score.
type RouteDeviationAnalyzer struct{}

// NewRouteDeviationAnalyzer creates a route deviation analyzer.
func NewRouteDeviationAnalyzer() *RouteDeviationAnalyzer {
	return &RouteDeviationAnalyzer{}
}

// Name implements domain.SignalProvider.
func (a *RouteDeviationAnalyzer) Name() string { return "routeDeviation" }

// Score implements domain.SignalProvider.
func (a *RouteDeviationAnalyzer) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	t, ok := c.Event.(*domain.DriverTelemetry)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected event type %T", c.Event)
	}

	if t.RouteDeviationKm <= 0 {
		return 0, nil, nil
	}

	score := clamp01(t.RouteDeviationKm / 20.0)
	var evidence []domain.Evidence
	if t.RouteDeviationKm > 2.0 {
		evidence = append(evidence, domain.Evidence{
			Type:        "telemetry",
			Description: fmt.Sprintf("route deviation of %.1f km from planned route %s", t.RouteDeviationKm, t.RouteID),
			Source:      "analyzer:routeDeviation",
			Reliability: 0.9,
			Data:        map[string]any{"routeDeviationKm": t.RouteDeviationKm},
		})
	}
	return score, evidence, nil
}

// TimeAnomalyAnalyzer scores trip duration overruns against the planned
// schedule. A 50% overrun saturates the score.
type TimeAnomalyAnalyzer struct{}

// NewTimeAnomalyAnalyzer creates a time anomaly analyzer.
func NewTimeAnomalyAnalyzer() *TimeAnomalyAnalyzer {
	return &TimeAnomalyAnalyzer{}
}

// Name implements domain.SignalProvider.
func (a *TimeAnomalyAnalyzer) Name() string { return "timeAnomalies" }

// Score implements domain.SignalProvider.
func (a *TimeAnomalyAnalyzer) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	t, ok := c.Event.(*domain.DriverTelemetry)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected event type %T", c.Event)
	}

	if t.PlannedMinutes <= 0 || t.ActualMinutes <= t.PlannedMinutes {
		return 0, nil, nil
	}

	overrun := (t.ActualMinutes - t.PlannedMinutes) / t.PlannedMinutes
	score := clamp01(overrun / 0.5)

	var evidence []domain.Evidence
	if overrun > 0.15 {
		evidence = append(evidence, domain.Evidence{
			Type:        "telemetry",
			Description: fmt.Sprintf("trip took %.0f min against %.0f planned (%.0f%% overrun)", t.ActualMinutes, t.PlannedMinutes, overrun*100),
			Source:      "analyzer:timeAnomalies",
			Reliability: 0.8,
			Data: map[string]any{
				"plannedMinutes": t.PlannedMinutes,
				"actualMinutes":  t.ActualMinutes,
			},
		})
	}
	return score, evidence, nil
}

// FuelIrregularityAnalyzer scores excess fuel consumption against the
// expected burn for the route. A 30% excess saturates the score.
type FuelIrregularityAnalyzer struct{}

// NewFuelIrregularityAnalyzer creates a fuel irregularity analyzer.
func NewFuelIrregularityAnalyzer() *FuelIrregularityAnalyzer {
	return &FuelIrregularityAnalyzer{}
}

// Name implements domain.SignalProvider.
func (a *FuelIrregularityAnalyzer) Name() string { return "fuelIrregularities" }

// Score implements domain.SignalProvider.
func (a *FuelIrregularityAnalyzer) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	t, ok := c.Event.(*domain.DriverTelemetry)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected event type %T", c.Event)
	}

	if t.FuelExpectedL <= 0 || t.FuelConsumedL <= t.FuelExpectedL {
		return 0, nil, nil
	}

	excess := (t.FuelConsumedL - t.FuelExpectedL) / t.FuelExpectedL
	score := clamp01(excess / 0.3)

	var evidence []domain.Evidence
	if excess > 0.10 {
		evidence = append(evidence, domain.Evidence{
			Type:        "telemetry",
			Description: fmt.Sprintf("consumed %.0f L against %.0f expected (%.0f%% excess)", t.FuelConsumedL, t.FuelExpectedL, excess*100),
			Source:      "analyzer:fuelIrregularities",
			Reliability: 0.85,
			Data: map[string]any{
				"fuelConsumedL": t.FuelConsumedL,
				"fuelExpectedL": t.FuelExpectedL,
			},
		})
	}
	return score, evidence, nil
}

// GPSTamperAnalyzer scores signal blackouts and unplanned stops, the
// signature of a driver disabling tracking to divert product.
type GPSTamperAnalyzer struct{}

// NewGPSTamperAnalyzer creates a GPS tamper analyzer.
func NewGPSTamperAnalyzer() *GPSTamperAnalyzer {
	return &GPSTamperAnalyzer{}
}

// Name implements domain.SignalProvider.
func (a *GPSTamperAnalyzer) Name() string { return "gpsTampering" }

// Score implements domain.SignalProvider.
func (a *GPSTamperAnalyzer) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	t, ok := c.Event.(*domain.DriverTelemetry)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected event type %T", c.Event)
	}

	// A 30 minute blackout saturates the gap component; each unplanned stop
	// adds 0.15 on top.
	score := clamp01(t.GPSGapMinutes/30.0 + float64(t.UnplannedStops)*0.15)
	if score == 0 {
		return 0, nil, nil
	}

	var evidence []domain.Evidence
	if t.GPSGapMinutes > 5 {
		evidence = append(evidence, domain.Evidence{
			Type:        "telemetry",
			Description: fmt.Sprintf("GPS signal lost for %.0f minutes during run", t.GPSGapMinutes),
			Source:      "analyzer:gpsTampering",
			Reliability: 0.9,
			Data:        map[string]any{"gpsGapMinutes": t.GPSGapMinutes},
		})
	}
	if t.UnplannedStops > 0 {
		evidence = append(evidence, domain.Evidence{
			Type:        "telemetry",
			Description: fmt.Sprintf("%d unplanned stops on route %s", t.UnplannedStops, t.RouteID),
			Source:      "analyzer:gpsTampering",
			Reliability: 0.7,
			Data:        map[string]any{"unplannedStops": t.UnplannedStops},
		})
	}
	return score, evidence, nil
}
