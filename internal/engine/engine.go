// Package engine runs the end-to-end detection pipeline: feature
// extraction, concurrent signal evaluation, combination, case management,
// and alert dispatch.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fuelops/sentinel/internal/alert"
	"github.com/fuelops/sentinel/internal/cases"
	"github.com/fuelops/sentinel/internal/combiner"
	"github.com/fuelops/sentinel/internal/domain"
	"github.com/fuelops/sentinel/internal/feature"
	"github.com/fuelops/sentinel/internal/provider"
)

// DefaultProviderTimeout bounds one provider's evaluation when the
// configuration does not say otherwise.
const DefaultProviderTimeout = 5 * time.Second

// Result is the outcome of one evaluation: the combined confidence and the
// case it produced, if any.
type Result struct {
	Domain     domain.DomainType `json:"domain"`
	SourceRef  string            `json:"sourceRef"`
	Confidence float64           `json:"confidence"`
	Signals    []domain.Signal   `json:"signals"`

	// Case is nil when the confidence stayed below threshold.
	Case *domain.FraudCase `json:"case,omitempty"`
}

// Engine wires the detection pipeline together.
type Engine struct {
	extractor       *feature.Extractor
	registry        *provider.Registry
	combiner        *combiner.Combiner
	cases           *cases.Manager
	dispatcher      *alert.Dispatcher
	providerTimeout time.Duration
	logger          *slog.Logger
	tracer          trace.Tracer
}

// New creates an engine. A non-positive providerTimeout falls back to
// DefaultProviderTimeout.
func New(
	extractor *feature.Extractor,
	registry *provider.Registry,
	comb *combiner.Combiner,
	caseMgr *cases.Manager,
	dispatcher *alert.Dispatcher,
	providerTimeout time.Duration,
	logger *slog.Logger,
) *Engine {
	if providerTimeout <= 0 {
		providerTimeout = DefaultProviderTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		extractor:       extractor,
		registry:        registry,
		combiner:        comb,
		cases:           caseMgr,
		dispatcher:      dispatcher,
		providerTimeout: providerTimeout,
		logger:          logger,
		tracer:          otel.Tracer("sentinel/engine"),
	}
}

// Evaluate runs the full pipeline for one domain event.
func (e *Engine) Evaluate(ctx context.Context, d domain.DomainType, event any) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Evaluate",
		trace.WithAttributes(attribute.String("fraud.domain", string(d))))
	defer span.End()

	candidate, err := e.extractor.Extract(d, event)
	if err != nil {
		return nil, fmt.Errorf("feature extraction failed: %w", err)
	}

	signals, evidence := e.collect(ctx, candidate)
	confidence := e.combiner.Combine(d, signals)
	span.SetAttributes(attribute.Float64("fraud.confidence", confidence))

	result := &Result{
		Domain:     d,
		SourceRef:  candidate.SourceRef,
		Confidence: confidence,
		Signals:    signals,
	}

	c, created, err := e.cases.Evaluate(ctx, cases.EvaluateInput{
		Domain:        d,
		Location:      candidate.Location,
		SourceRef:     candidate.SourceRef,
		Confidence:    confidence,
		EstimatedLoss: candidate.EstimatedLoss,
		Evidence:      evidence,
		Parties:       candidate.Parties,
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return result, nil
	}

	result.Case = c
	if created {
		e.dispatcher.CaseCreated(ctx, c)
	} else {
		e.dispatcher.CaseUpdated(ctx, c)
	}
	return result, nil
}

// collect runs every registered provider for the candidate's domain
// concurrently, each under its own timeout. A failed or timed-out provider
// is logged and excluded; its weight never counts against the score.
func (e *Engine) collect(ctx context.Context, c *domain.Candidate) ([]domain.Signal, []domain.Evidence) {
	providers := e.registry.For(c.Domain)
	if len(providers) == 0 {
		return nil, nil
	}

	type outcome struct {
		signal domain.Signal
		err    error
	}

	results := make([]outcome, len(providers))
	var wg sync.WaitGroup

	for i, p := range providers {
		wg.Add(1)
		go func(i int, p domain.SignalProvider) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, e.providerTimeout)
			defer cancel()

			start := time.Now()
			score, ev, err := p.Score(pctx, c)
			e.registry.Record(c.Domain, p.Name(), time.Since(start), err)

			if err != nil {
				e.logger.Warn("signal provider failed",
					"provider", p.Name(),
					"domain", c.Domain,
					"error", err)
				results[i] = outcome{err: err}
				return
			}
			results[i] = outcome{signal: domain.Signal{Name: p.Name(), Score: score, Evidence: ev}}
		}(i, p)
	}
	wg.Wait()

	var signals []domain.Signal
	var evidence []domain.Evidence
	breakdown := make(map[string]any)

	for _, r := range results {
		if r.err != nil {
			continue
		}
		signals = append(signals, r.signal)
		evidence = append(evidence, r.signal.Evidence...)
		breakdown[r.signal.Name] = r.signal.Score
	}

	if len(signals) > 0 {
		sort.Slice(signals, func(i, j int) bool { return signals[i].Name < signals[j].Name })
		evidence = append(evidence, domain.Evidence{
			Type:        "signals",
			Description: fmt.Sprintf("signal breakdown across %d providers", len(signals)),
			Source:      "engine",
			Reliability: 1.0,
			Data:        breakdown,
		})
	}

	return signals, evidence
}

// DetectPumpFraud evaluates one pump transaction.
func (e *Engine) DetectPumpFraud(ctx context.Context, tx *domain.PumpTransaction) (*Result, error) {
	return e.Evaluate(ctx, domain.DomainPumpTampering, tx)
}

// DetectDriverDiversion evaluates one driver telemetry snapshot.
func (e *Engine) DetectDriverDiversion(ctx context.Context, t *domain.DriverTelemetry) (*Result, error) {
	return e.Evaluate(ctx, domain.DomainDriverDiversion, t)
}

// DetectInventoryTheft evaluates one inventory reconciliation snapshot.
func (e *Engine) DetectInventoryTheft(ctx context.Context, s *domain.InventorySnapshot) (*Result, error) {
	return e.Evaluate(ctx, domain.DomainInventoryTheft, s)
}

// DetectTransactionFraud evaluates one financial transaction.
func (e *Engine) DetectTransactionFraud(ctx context.Context, tx *domain.FinancialTransaction) (*Result, error) {
	return e.Evaluate(ctx, domain.DomainTransactionFraud, tx)
}

// DetectPriceManipulation evaluates one price change.
func (e *Engine) DetectPriceManipulation(ctx context.Context, pc *domain.PriceChange) (*Result, error) {
	return e.Evaluate(ctx, domain.DomainPriceManipulation, pc)
}

// DetectDocumentForgery evaluates one scanned document.
func (e *Engine) DetectDocumentForgery(ctx context.Context, doc *domain.ScannedDocument) (*Result, error) {
	return e.Evaluate(ctx, domain.DomainDocumentForgery, doc)
}
