// Package cases turns threshold-crossing evaluations into persisted fraud
// cases and manages their lifecycle.
package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fuelops/sentinel/internal/domain"
)

// ErrInvalidInput is returned when an evaluation crosses threshold but
// carries no supporting material; a case is never created without evidence.
var ErrInvalidInput = errors.New("invalid case input")

// partyOrder fixes the order parties are attached to a case.
var partyOrder = []domain.PartyRole{
	domain.RoleCashier,
	domain.RoleCustomer,
	domain.RoleDriver,
	domain.RoleManager,
}

// recommendedActions is the per-domain playbook attached to new cases.
var recommendedActions = map[domain.DomainType][]string{
	domain.DomainPumpTampering: {
		"lock the pump and schedule a calibration check",
		"review forecourt CCTV for the dispensing window",
	},
	domain.DomainDriverDiversion: {
		"reconcile delivered volume against the waybill",
		"review the vehicle's GPS trace for the run",
	},
	domain.DomainInventoryTheft: {
		"order an independent tank dip",
		"audit recent delivery and sales records for the product",
	},
	domain.DomainTransactionFraud: {
		"hold settlement for the flagged transactions",
		"review POS journal for the cashier's shift",
	},
	domain.DomainPriceManipulation: {
		"revert the price change pending review",
		"compare posted prices against the regulatory schedule",
	},
	domain.DomainDocumentForgery: {
		"quarantine the document and request the original",
		"verify the issuing counterparty through a second channel",
	},
}

// EvaluateInput is the combined outcome of one detection pipeline run.
type EvaluateInput struct {
	Domain        domain.DomainType
	Location      string
	SourceRef     string
	Confidence    float64
	EstimatedLoss float64
	Evidence      []domain.Evidence
	Parties       map[domain.PartyRole]string
}

// Manager applies thresholds, enforces the one-open-case-per-source
// invariant, and owns case lifecycle transitions.
type Manager struct {
	repo       domain.Repository
	thresholds map[domain.DomainType]float64
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a case manager. Missing threshold entries fall back to
// the documented per-domain defaults.
func NewManager(repo domain.Repository, thresholds map[domain.DomainType]float64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	merged := domain.DefaultThresholds()
	for d, t := range thresholds {
		merged[d] = t
	}
	return &Manager{
		repo:       repo,
		thresholds: merged,
		logger:     logger,
		now:        time.Now,
	}
}

// Threshold returns the case-creation cutoff for a domain.
func (m *Manager) Threshold(d domain.DomainType) float64 {
	return m.thresholds[d]
}

// Evaluate decides whether a scored evaluation becomes a case. Below
// threshold it returns (nil, false, nil). At or above threshold it either
// creates a new case or, when an open case already exists for the same
// (domain, location, sourceRef), appends the new evidence to it. The
// boolean reports which of the two happened: true for a newly created
// case, false for an append.
func (m *Manager) Evaluate(ctx context.Context, in EvaluateInput) (*domain.FraudCase, bool, error) {
	if !domain.ValidDomain(in.Domain) {
		return nil, false, fmt.Errorf("%w: unknown domain %q", ErrInvalidInput, in.Domain)
	}
	if in.Location == "" || in.SourceRef == "" {
		return nil, false, fmt.Errorf("%w: location and source reference are required", ErrInvalidInput)
	}

	if in.Confidence < m.thresholds[in.Domain] {
		return nil, false, nil
	}

	if len(in.Evidence) == 0 {
		return nil, false, fmt.Errorf("%w: threshold crossed with no evidence", ErrInvalidInput)
	}

	existing, err := m.repo.FindOpenCase(ctx, in.Domain, in.Location, in.SourceRef)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to check for open case: %w", err)
	}
	if existing != nil {
		c, err := m.appendTo(ctx, existing, in)
		return c, false, err
	}

	c, err := m.create(ctx, in)
	return c, true, err
}

func (m *Manager) appendTo(ctx context.Context, existing *domain.FraudCase, in EvaluateInput) (*domain.FraudCase, error) {
	severity := existing.Severity
	if next := domain.SeverityFor(in.Confidence, in.EstimatedLoss); next.Rank() > severity.Rank() {
		severity = next
	}

	if err := m.repo.AppendCaseEvidence(ctx, existing.ID, in.Evidence, severity); err != nil {
		return nil, fmt.Errorf("failed to append evidence to case %s: %w", existing.ID, err)
	}

	m.logger.Info("evidence appended to open case",
		"case_id", existing.ID,
		"domain", in.Domain,
		"evidence_count", len(in.Evidence),
		"severity", severity)

	updated, err := m.repo.GetCase(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload case %s: %w", existing.ID, err)
	}
	return updated, nil
}

func (m *Manager) create(ctx context.Context, in EvaluateInput) (*domain.FraudCase, error) {
	now := m.now().UTC()

	var parties []domain.InvolvedParty
	for _, role := range partyOrder {
		if id := in.Parties[role]; id != "" {
			parties = append(parties, domain.InvolvedParty{Role: role, ID: id})
		}
	}

	actions := append([]string(nil), recommendedActions[in.Domain]...)
	if in.Confidence > 0.85 {
		actions = append(actions,
			"initiate internal investigation",
			"notify law enforcement")
	}

	c := &domain.FraudCase{
		ID:                 domain.NewCaseID(now),
		Domain:             in.Domain,
		Confidence:         in.Confidence,
		Severity:           domain.SeverityFor(in.Confidence, in.EstimatedLoss),
		Location:           in.Location,
		SourceRef:          in.SourceRef,
		InvolvedParties:    parties,
		Evidence:           in.Evidence,
		EstimatedLoss:      in.EstimatedLoss,
		Status:             domain.StatusDetected,
		RecommendedActions: actions,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := m.repo.InsertCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to insert case: %w", err)
	}

	m.logger.Info("fraud case created",
		"case_id", c.ID,
		"domain", c.Domain,
		"confidence", c.Confidence,
		"severity", c.Severity,
		"location", c.Location,
		"estimated_loss", c.EstimatedLoss)

	return c, nil
}

// Get returns one case by ID.
func (m *Manager) Get(ctx context.Context, id string) (*domain.FraudCase, error) {
	return m.repo.GetCase(ctx, id)
}

// List returns cases filtered by status (empty for all) created since the
// given time (zero for all).
func (m *Manager) List(ctx context.Context, status domain.CaseStatus, since time.Time) ([]*domain.FraudCase, error) {
	return m.repo.ListCases(ctx, status, since)
}

// UpdateStatus moves a case through its lifecycle, validating the
// transition. Moving to closed stamps ClosedAt.
func (m *Manager) UpdateStatus(ctx context.Context, id string, to domain.CaseStatus) (*domain.FraudCase, error) {
	c, err := m.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(c.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, c.Status, to)
	}

	var closedAt *time.Time
	if to == domain.StatusClosed {
		t := m.now().UTC()
		closedAt = &t
	}

	if err := m.repo.UpdateCaseStatus(ctx, id, to, closedAt); err != nil {
		return nil, fmt.Errorf("failed to update case %s: %w", id, err)
	}

	m.logger.Info("case status updated",
		"case_id", id,
		"from", c.Status,
		"to", to)

	c.Status = to
	c.UpdatedAt = m.now().UTC()
	c.ClosedAt = closedAt
	return c, nil
}
