// Package feature converts raw domain events into fixed-shape numeric
// feature vectors plus the metadata the rest of the pipeline needs.
package feature

import (
	"errors"
	"fmt"
	"math"

	"github.com/fuelops/sentinel/internal/domain"
)

// ErrInvalidEvent is returned when a raw event is malformed or missing a
// required field. Extraction never silently drops an event.
var ErrInvalidEvent = errors.New("invalid domain event")

// Field orders are fixed per domain. Downstream scorers are trained against
// these shapes, so append new fields at the end and never reorder.
var fieldNames = map[domain.DomainType][]string{
	domain.DomainPumpTampering: {
		"quantity", "amount", "unit_price", "flow_rate", "duration",
		"temperature", "pressure", "hour_of_day", "price_variance",
	},
	domain.DomainDriverDiversion: {
		"route_deviation_km", "planned_minutes", "actual_minutes",
		"time_overrun_ratio", "fuel_consumed", "fuel_expected",
		"fuel_excess_ratio", "gps_gap_minutes", "unplanned_stops",
	},
	domain.DomainInventoryTheft: {
		"book_stock", "measured_stock", "variance", "variance_ratio",
		"deliveries", "sales", "unit_price", "loss_estimate",
	},
	domain.DomainTransactionFraud: {
		"amount", "amount_log", "hour_of_day", "is_night", "is_refund",
		"is_void", "is_cash",
	},
	domain.DomainPriceManipulation: {
		"old_price", "new_price", "price_delta_pct", "crude_delta_pct",
		"volatility_pct", "ceiling_price", "over_ceiling",
	},
	domain.DomainDocumentForgery: {
		"ocr_confidence", "signature_score", "has_signature",
		"metadata_tampered", "hash_mismatch", "amount",
	},
}

// Names returns the ordered feature field names for a domain.
func Names(d domain.DomainType) []string {
	return fieldNames[d]
}

// VectorLen returns the stable feature vector length for a domain.
func VectorLen(d domain.DomainType) int {
	return len(fieldNames[d])
}

// Extractor converts raw events into evaluation candidates. It is a pure
// function over its input: no I/O, no retained state.
type Extractor struct{}

// NewExtractor creates a feature extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract builds the candidate for one raw event. The event type must match
// the domain; a mismatch or a missing required field is a validation error
// surfaced synchronously to the caller.
func (e *Extractor) Extract(d domain.DomainType, event any) (*domain.Candidate, error) {
	if !domain.ValidDomain(d) {
		return nil, fmt.Errorf("%w: unknown domain %q", ErrInvalidEvent, d)
	}

	switch d {
	case domain.DomainPumpTampering:
		ev, ok := event.(*domain.PumpTransaction)
		if !ok {
			return nil, typeMismatch(d, event)
		}
		return e.extractPump(ev)
	case domain.DomainDriverDiversion:
		ev, ok := event.(*domain.DriverTelemetry)
		if !ok {
			return nil, typeMismatch(d, event)
		}
		return e.extractDriver(ev)
	case domain.DomainInventoryTheft:
		ev, ok := event.(*domain.InventorySnapshot)
		if !ok {
			return nil, typeMismatch(d, event)
		}
		return e.extractInventory(ev)
	case domain.DomainTransactionFraud:
		ev, ok := event.(*domain.FinancialTransaction)
		if !ok {
			return nil, typeMismatch(d, event)
		}
		return e.extractTransaction(ev)
	case domain.DomainPriceManipulation:
		ev, ok := event.(*domain.PriceChange)
		if !ok {
			return nil, typeMismatch(d, event)
		}
		return e.extractPrice(ev)
	default:
		ev, ok := event.(*domain.ScannedDocument)
		if !ok {
			return nil, typeMismatch(d, event)
		}
		return e.extractDocument(ev)
	}
}

func typeMismatch(d domain.DomainType, event any) error {
	return fmt.Errorf("%w: event type %T does not match domain %s", ErrInvalidEvent, event, d)
}

func (e *Extractor) extractPump(ev *domain.PumpTransaction) (*domain.Candidate, error) {
	if ev.ID == "" || ev.StationID == "" || ev.PumpID == "" {
		return nil, fmt.Errorf("%w: pump transaction requires id, stationId, pumpId", ErrInvalidEvent)
	}

	// priceVariance is the gap between the charged amount and the amount
	// implied by quantity * posted unit price; a tampered pump under- or
	// over-registers one of the two.
	implied := ev.QuantityL * ev.UnitPrice
	variance := ev.Amount - implied

	return &domain.Candidate{
		Domain:    domain.DomainPumpTampering,
		SourceRef: ev.ID,
		Location:  ev.StationID,
		Event:     ev,
		Features: domain.FeatureVector{
			ev.QuantityL,
			ev.Amount,
			ev.UnitPrice,
			ev.FlowRateL,
			ev.Duration,
			ev.TempC,
			ev.PressureK,
			float64(ev.Timestamp.Hour()),
			variance,
		},
		Parties:       parties(map[domain.PartyRole]string{domain.RoleCashier: ev.CashierID, domain.RoleCustomer: ev.CustomerID}),
		EstimatedLoss: math.Abs(variance),
		Observed:      ev.Timestamp,
	}, nil
}

func (e *Extractor) extractDriver(ev *domain.DriverTelemetry) (*domain.Candidate, error) {
	if ev.ID == "" || ev.DriverID == "" {
		return nil, fmt.Errorf("%w: driver telemetry requires id, driverId", ErrInvalidEvent)
	}

	overrun := 0.0
	if ev.PlannedMinutes > 0 {
		overrun = (ev.ActualMinutes - ev.PlannedMinutes) / ev.PlannedMinutes
	}
	excess := 0.0
	if ev.FuelExpectedL > 0 {
		excess = (ev.FuelConsumedL - ev.FuelExpectedL) / ev.FuelExpectedL
	}

	return &domain.Candidate{
		Domain:    domain.DomainDriverDiversion,
		SourceRef: ev.ID,
		Location:  ev.RouteID,
		Event:     ev,
		Features: domain.FeatureVector{
			ev.RouteDeviationKm,
			ev.PlannedMinutes,
			ev.ActualMinutes,
			overrun,
			ev.FuelConsumedL,
			ev.FuelExpectedL,
			excess,
			ev.GPSGapMinutes,
			float64(ev.UnplannedStops),
		},
		Parties:  parties(map[domain.PartyRole]string{domain.RoleDriver: ev.DriverID}),
		Observed: ev.Timestamp,
	}, nil
}

func (e *Extractor) extractInventory(ev *domain.InventorySnapshot) (*domain.Candidate, error) {
	if ev.ID == "" || ev.StationID == "" || ev.ProductID == "" {
		return nil, fmt.Errorf("%w: inventory snapshot requires id, stationId, productId", ErrInvalidEvent)
	}

	variance := ev.VarianceL()
	ratio := 0.0
	if ev.BookStockL > 0 {
		ratio = variance / ev.BookStockL
	}
	loss := 0.0
	if variance > 0 {
		loss = variance * ev.UnitPrice
	}

	return &domain.Candidate{
		Domain:    domain.DomainInventoryTheft,
		SourceRef: ev.ID,
		Location:  ev.StationID,
		Event:     ev,
		Features: domain.FeatureVector{
			ev.BookStockL,
			ev.MeasuredStockL,
			variance,
			ratio,
			ev.DeliveriesL,
			ev.SalesL,
			ev.UnitPrice,
			loss,
		},
		Parties:       parties(map[domain.PartyRole]string{domain.RoleManager: ev.ManagerID}),
		EstimatedLoss: loss,
		Observed:      ev.Timestamp,
	}, nil
}

func (e *Extractor) extractTransaction(ev *domain.FinancialTransaction) (*domain.Candidate, error) {
	if ev.ID == "" || ev.StationID == "" {
		return nil, fmt.Errorf("%w: financial transaction requires id, stationId", ErrInvalidEvent)
	}

	hour := float64(ev.Timestamp.Hour())
	amountLog := 0.0
	if ev.Amount > 0 {
		amountLog = math.Log1p(ev.Amount)
	}

	return &domain.Candidate{
		Domain:    domain.DomainTransactionFraud,
		SourceRef: ev.ID,
		Location:  ev.StationID,
		Event:     ev,
		Features: domain.FeatureVector{
			ev.Amount,
			amountLog,
			hour,
			boolFeature(hour >= 22 || hour <= 5),
			boolFeature(ev.Type == "refund"),
			boolFeature(ev.Type == "void"),
			boolFeature(ev.PaymentMethod == "cash"),
		},
		Parties:  parties(map[domain.PartyRole]string{domain.RoleCashier: ev.CashierID, domain.RoleCustomer: ev.CustomerID}),
		Observed: ev.Timestamp,
	}, nil
}

func (e *Extractor) extractPrice(ev *domain.PriceChange) (*domain.Candidate, error) {
	if ev.ID == "" || ev.StationID == "" || ev.ProductID == "" {
		return nil, fmt.Errorf("%w: price change requires id, stationId, productId", ErrInvalidEvent)
	}

	deltaPct := 0.0
	if ev.OldPrice > 0 {
		deltaPct = (ev.NewPrice - ev.OldPrice) / ev.OldPrice * 100
	}
	overCeiling := 0.0
	if ev.CeilingPrice > 0 && ev.NewPrice > ev.CeilingPrice {
		overCeiling = 1.0
	}

	return &domain.Candidate{
		Domain:    domain.DomainPriceManipulation,
		SourceRef: ev.ID,
		Location:  ev.StationID,
		Event:     ev,
		Features: domain.FeatureVector{
			ev.OldPrice,
			ev.NewPrice,
			deltaPct,
			ev.CrudeDeltaPct,
			ev.VolatilityPct,
			ev.CeilingPrice,
			overCeiling,
		},
		Parties:  parties(map[domain.PartyRole]string{domain.RoleManager: ev.ManagerID}),
		Observed: ev.Timestamp,
	}, nil
}

func (e *Extractor) extractDocument(ev *domain.ScannedDocument) (*domain.Candidate, error) {
	if ev.ID == "" || ev.StationID == "" {
		return nil, fmt.Errorf("%w: scanned document requires id, stationId", ErrInvalidEvent)
	}

	return &domain.Candidate{
		Domain:    domain.DomainDocumentForgery,
		SourceRef: ev.ID,
		Location:  ev.StationID,
		Event:     ev,
		Features: domain.FeatureVector{
			ev.OCRConfidence,
			ev.SignatureScore,
			boolFeature(ev.HasSignature),
			boolFeature(ev.MetadataTampered),
			boolFeature(ev.HashMismatch),
			ev.Amount,
		},
		Parties:  parties(map[domain.PartyRole]string{domain.RoleManager: ev.UploadedBy}),
		Observed: ev.Timestamp,
	}, nil
}

// Activation maps a candidate's features to their field names, for CEL rule
// evaluation and pattern similarity. Missing fields default to zero.
func Activation(c *domain.Candidate) map[string]float64 {
	names := fieldNames[c.Domain]
	m := make(map[string]float64, len(names))
	for i, name := range names {
		if i < len(c.Features) {
			m[name] = c.Features[i]
		} else {
			m[name] = 0
		}
	}
	return m
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func parties(m map[domain.PartyRole]string) map[domain.PartyRole]string {
	out := make(map[domain.PartyRole]string, len(m))
	for role, id := range m {
		if id != "" {
			out[role] = id
		}
	}
	return out
}
