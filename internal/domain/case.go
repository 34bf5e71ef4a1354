// Package domain defines the core interfaces and types for Sentinel.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DomainType identifies one fraud surface monitored by the engine.
type DomainType string

const (
	DomainPumpTampering     DomainType = "pump_tampering"
	DomainDriverDiversion   DomainType = "driver_diversion"
	DomainInventoryTheft    DomainType = "inventory_theft"
	DomainTransactionFraud  DomainType = "transaction_fraud"
	DomainPriceManipulation DomainType = "price_manipulation"
	DomainDocumentForgery   DomainType = "document_forgery"
)

// AllDomains lists every monitored domain in a stable order.
func AllDomains() []DomainType {
	return []DomainType{
		DomainPumpTampering,
		DomainDriverDiversion,
		DomainInventoryTheft,
		DomainTransactionFraud,
		DomainPriceManipulation,
		DomainDocumentForgery,
	}
}

// ValidDomain reports whether d is a known domain type.
func ValidDomain(d DomainType) bool {
	switch d {
	case DomainPumpTampering, DomainDriverDiversion, DomainInventoryTheft,
		DomainTransactionFraud, DomainPriceManipulation, DomainDocumentForgery:
		return true
	}
	return false
}

// Severity classifies the urgency of a fraud case.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFor derives severity from confidence and estimated loss.
// It is a pure function: same inputs always produce the same severity.
func SeverityFor(confidence, estimatedLoss float64) Severity {
	switch {
	case confidence > 0.9 || estimatedLoss > 50000:
		return SeverityCritical
	case confidence > 0.8 || estimatedLoss > 20000:
		return SeverityHigh
	case confidence > 0.7 || estimatedLoss > 5000:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Rank orders severities for comparison; higher is more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// CaseStatus is the lifecycle state of a fraud case.
type CaseStatus string

const (
	StatusDetected      CaseStatus = "detected"
	StatusInvestigating CaseStatus = "investigating"
	StatusConfirmed     CaseStatus = "confirmed"
	StatusFalsePositive CaseStatus = "false_positive"
	StatusClosed        CaseStatus = "closed"
)

// ErrInvalidTransition is returned when a case status change is not allowed.
var ErrInvalidTransition = fmt.Errorf("invalid case status transition")

// CanTransition reports whether a case may move from one status to another.
// Transitions are one-directional except investigating -> detected (reopen).
func CanTransition(from, to CaseStatus) bool {
	switch from {
	case StatusDetected:
		return to == StatusInvestigating || to == StatusConfirmed || to == StatusFalsePositive
	case StatusInvestigating:
		return to == StatusDetected || to == StatusConfirmed || to == StatusFalsePositive
	case StatusConfirmed, StatusFalsePositive:
		return to == StatusClosed
	}
	return false
}

// Open reports whether the status counts as an open case for the
// one-open-case-per-source invariant.
func (s CaseStatus) Open() bool {
	return s == StatusDetected || s == StatusInvestigating
}

// PartyRole tags an involved party with its role in the case.
type PartyRole string

const (
	RoleCashier  PartyRole = "cashier"
	RoleCustomer PartyRole = "customer"
	RoleDriver   PartyRole = "driver"
	RoleManager  PartyRole = "manager"
)

// InvolvedParty is one role-tagged identifier attached to a case.
type InvolvedParty struct {
	Role PartyRole `json:"role"`
	ID   string    `json:"id"`
}

// Evidence is a single observation supporting a fraud case.
type Evidence struct {
	// Type is a free-form tag, e.g. "anomaly", "pattern", "benford".
	Type string `json:"type"`

	Description string `json:"description"`

	// Source names the provider that produced this evidence.
	Source string `json:"source"`

	// Reliability is a display/audit weight in [0,1]; it is never re-scored.
	Reliability float64 `json:"reliability"`

	// Data is an opaque payload kept for forensic replay.
	Data map[string]any `json:"data,omitempty"`
}

// FraudCase is the persisted record of a detection that crossed threshold.
type FraudCase struct {
	ID     string     `json:"id"`
	Domain DomainType `json:"domain"`

	// Confidence is the combined signal score at creation time.
	// It is never recalculated after the case is created.
	Confidence float64 `json:"confidence"`

	Severity Severity `json:"severity"`

	// Location is the station or entity the case is attributed to.
	Location string `json:"location"`

	// SourceRef identifies the primary domain object (transaction ID,
	// telemetry ID, snapshot ID, ...) that triggered the case.
	SourceRef string `json:"sourceRef"`

	// InvolvedParties is append-only.
	InvolvedParties []InvolvedParty `json:"involvedParties,omitempty"`

	// Evidence is append-only and never empty for a persisted case.
	Evidence []Evidence `json:"evidence"`

	EstimatedLoss float64 `json:"estimatedLoss"`

	Status CaseStatus `json:"status"`

	// RecommendedActions are generated at creation and not mutated after.
	RecommendedActions []string `json:"recommendedActions"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// NewCaseID generates a globally unique case identifier with a time-based
// prefix for operator-friendly sorting and a random suffix for uniqueness.
func NewCaseID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("FC-%s-%s", now.UTC().Format("20060102150405"), suffix)
}
