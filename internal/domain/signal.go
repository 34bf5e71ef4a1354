package domain

import (
	"context"
	"time"
)

// FeatureVector is the fixed-shape numeric representation of a domain event.
// The length and field order are stable per domain so scorers trained on one
// batch remain comparable with the next.
type FeatureVector []float64

// Candidate is one domain object flowing through the evaluation pipeline:
// the raw event, its extracted features, and the metadata the case manager
// needs if the evaluation crosses threshold.
type Candidate struct {
	Domain    DomainType
	SourceRef string
	Location  string

	// Event is the typed raw payload (e.g. *PumpTransaction).
	Event any

	Features FeatureVector

	// Parties maps role -> identifier for parties present on the event.
	Parties map[PartyRole]string

	// EstimatedLoss is the quantity-times-price variance estimate where the
	// domain supports one (pump, inventory); zero otherwise.
	EstimatedLoss float64

	Observed time.Time
}

// Signal is one provider's fraud score for a single evaluation. Signals are
// transient: they are consumed by the combiner and never persisted on their
// own, though their breakdown is recorded as case evidence.
type Signal struct {
	Name     string
	Score    float64
	Evidence []Evidence
}

// SignalProvider is the capability every fraud signal source implements.
// Rule engines, pattern matchers, statistical scorers, ML ensembles and
// bespoke analyzers all satisfy the same contract, so custom detectors can
// be registered without touching the combiner.
type SignalProvider interface {
	// Name is the signal name used by the combiner's weight tables.
	Name() string

	// Score evaluates one candidate and returns a fraud score in [0,1]
	// plus the evidence behind it. An error excludes the signal from
	// combination; it never fails the whole evaluation.
	Score(ctx context.Context, c *Candidate) (float64, []Evidence, error)
}

// KnownPattern is one externally maintained fraud pattern. Patterns are
// loaded at startup, refreshed via the admin API, and read-only during an
// evaluation cycle.
type KnownPattern struct {
	ID          string     `json:"id"`
	Domain      DomainType `json:"domain"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`

	// Indicators maps feature names to the characteristic values of the
	// pattern. Similarity is computed against the candidate's features.
	Indicators map[string]float64 `json:"indicators"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RuleConfig defines one deterministic detection rule.
type RuleConfig struct {
	ID          string     `json:"id"`
	Domain      DomainType `json:"domain"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`

	// Expression is a CEL expression over the domain's feature names.
	// It must return bool, int, or double; the result is normalized to a
	// score in [0,1].
	Expression string `json:"expression"`

	// Weight is the rule's share of the rule provider's aggregate score.
	Weight float64 `json:"weight"`

	Enabled bool `json:"enabled"`
}
