// Package monitor polls domain data sources on fixed cycles and feeds new
// events through the detection engine.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fuelops/sentinel/internal/domain"
	"github.com/fuelops/sentinel/internal/engine"
)

// Source supplies events for one monitored domain. FetchSince returns the
// events observed strictly after the watermark, oldest first. Requeue hands
// back events whose evaluation failed so the next cycle redelivers them;
// sources that re-fetch from the held watermark may discard them.
type Source interface {
	Domain() domain.DomainType
	FetchSince(ctx context.Context, since time.Time) ([]any, error)
	Requeue(events []any)
}

type poller struct {
	source   Source
	interval time.Duration

	inFlight  atomic.Bool
	watermark time.Time
}

// Scheduler runs one polling loop per registered source. A cycle that is
// still running when its next tick fires is skipped, never stacked, and the
// watermark only advances after a cycle completes without errors.
type Scheduler struct {
	engine  *engine.Engine
	logger  *slog.Logger
	pollers []*poller

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler(eng *engine.Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{engine: eng, logger: logger}
}

// AddSource registers a source to be polled on the given interval.
func (s *Scheduler) AddSource(src Source, interval time.Duration) {
	s.pollers = append(s.pollers, &poller{
		source:    src,
		interval:  interval,
		watermark: time.Now().UTC(),
	})
}

// Start launches all polling loops. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, p := range s.pollers {
		s.wg.Add(1)
		go s.loop(ctx, p)
	}

	s.logger.Info("monitoring scheduler started", "sources", len(s.pollers))
}

// Stop cancels all polling loops and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("monitoring scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, p *poller) {
	defer s.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				s.logger.Warn("polling cycle still running, skipping tick",
					"domain", p.source.Domain())
				continue
			}
			s.cycle(ctx, p)
			p.inFlight.Store(false)
		}
	}
}

// cycle fetches and evaluates one batch. Evaluation errors on individual
// events are logged and do not stop the batch, but any error in the cycle
// holds the watermark back so the events are retried next tick.
func (s *Scheduler) cycle(ctx context.Context, p *poller) {
	d := p.source.Domain()
	start := time.Now().UTC()

	events, err := p.source.FetchSince(ctx, p.watermark)
	if err != nil {
		s.logger.Error("failed to fetch events",
			"domain", d,
			"error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	var failed []any
	for _, ev := range events {
		if _, err := s.engine.Evaluate(ctx, d, ev); err != nil {
			failed = append(failed, ev)
			s.logger.Error("evaluation failed during polling cycle",
				"domain", d,
				"error", err)
		}
	}

	if len(failed) > 0 {
		p.source.Requeue(failed)
		s.logger.Warn("polling cycle completed with failures, watermark held",
			"domain", d,
			"events", len(events),
			"failed", len(failed))
		return
	}

	p.watermark = start
	s.logger.Debug("polling cycle completed",
		"domain", d,
		"events", len(events),
		"duration", time.Since(start))
}
