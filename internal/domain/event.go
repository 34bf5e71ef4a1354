package domain

import (
	"time"
)

// PumpTransaction is one fuel dispensing event reported by a forecourt pump.
type PumpTransaction struct {
	ID         string    `json:"id"`
	StationID  string    `json:"stationId"`
	PumpID     string    `json:"pumpId"`
	CashierID  string    `json:"cashierId,omitempty"`
	CustomerID string    `json:"customerId,omitempty"`
	FuelType   string    `json:"fuelType"`
	QuantityL  float64   `json:"quantityLitres"`
	Amount     float64   `json:"amount"`
	UnitPrice  float64   `json:"unitPrice"`
	FlowRateL  float64   `json:"flowRateLpm"` // litres per minute
	Duration   float64   `json:"durationSecs"`
	TempC      float64   `json:"temperatureC"`
	PressureK  float64   `json:"pressureKpa"`
	Timestamp  time.Time `json:"timestamp"`
}

// DriverTelemetry is an aggregated telemetry snapshot for one delivery run.
type DriverTelemetry struct {
	ID               string    `json:"id"`
	DriverID         string    `json:"driverId"`
	VehicleID        string    `json:"vehicleId"`
	RouteID          string    `json:"routeId"`
	RouteDeviationKm float64   `json:"routeDeviationKm"`
	PlannedMinutes   float64   `json:"plannedMinutes"`
	ActualMinutes    float64   `json:"actualMinutes"`
	FuelConsumedL    float64   `json:"fuelConsumedLitres"`
	FuelExpectedL    float64   `json:"fuelExpectedLitres"`
	GPSGapMinutes    float64   `json:"gpsGapMinutes"` // longest signal loss
	UnplannedStops   int       `json:"unplannedStops"`
	Timestamp        time.Time `json:"timestamp"`
}

// InventorySnapshot is one tank reconciliation reading for a station product.
type InventorySnapshot struct {
	ID             string    `json:"id"`
	StationID      string    `json:"stationId"`
	ProductID      string    `json:"productId"`
	ManagerID      string    `json:"managerId,omitempty"`
	BookStockL     float64   `json:"bookStockLitres"`     // expected per ledger
	MeasuredStockL float64   `json:"measuredStockLitres"` // dip reading
	DeliveriesL    float64   `json:"deliveriesLitres"`
	SalesL         float64   `json:"salesLitres"`
	UnitPrice      float64   `json:"unitPrice"`
	Timestamp      time.Time `json:"timestamp"`
}

// VarianceL returns the signed book-vs-measured stock difference in litres.
func (s *InventorySnapshot) VarianceL() float64 {
	return s.BookStockL - s.MeasuredStockL
}

// FinancialTransaction is one POS or back-office money movement.
type FinancialTransaction struct {
	ID            string    `json:"id"`
	StationID     string    `json:"stationId"`
	CashierID     string    `json:"cashierId,omitempty"`
	CustomerID    string    `json:"customerId,omitempty"`
	Type          string    `json:"type"` // "sale", "refund", "void", "payout"
	Amount        float64   `json:"amount"`
	PaymentMethod string    `json:"paymentMethod"`
	Timestamp     time.Time `json:"timestamp"`
}

// PriceChange records one retail price adjustment for a station product.
type PriceChange struct {
	ID            string    `json:"id"`
	StationID     string    `json:"stationId"`
	ProductID     string    `json:"productId"`
	ManagerID     string    `json:"managerId,omitempty"`
	OldPrice      float64   `json:"oldPrice"`
	NewPrice      float64   `json:"newPrice"`
	CrudeDeltaPct float64   `json:"crudeDeltaPct"` // crude price movement since last change
	VolatilityPct float64   `json:"volatilityPct"` // market volatility over window
	CeilingPrice  float64   `json:"ceilingPrice"`  // regulatory price ceiling, 0 if none
	Timestamp     time.Time `json:"timestamp"`
}

// ScannedDocument is one uploaded document (invoice, waybill, receipt)
// together with the results of the scanning pipeline.
type ScannedDocument struct {
	ID               string    `json:"id"`
	StationID        string    `json:"stationId"`
	DocType          string    `json:"docType"`
	UploadedBy       string    `json:"uploadedBy,omitempty"`
	OCRConfidence    float64   `json:"ocrConfidence"`  // 0..1 from the OCR pass
	SignatureScore   float64   `json:"signatureScore"` // 0..1 match vs reference
	HasSignature     bool      `json:"hasSignature"`
	MetadataTampered bool      `json:"metadataTampered"` // EXIF/PDF metadata inconsistent
	HashMismatch     bool      `json:"hashMismatch"`     // content hash differs from registered original
	Amount           float64   `json:"amount"`
	Timestamp        time.Time `json:"timestamp"`
}
