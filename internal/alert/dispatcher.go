// Package alert fans out case notifications to the event bus and to
// in-process subscribers.
package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fuelops/sentinel/internal/domain"
)

// Subscriber receives case notifications. Subscribers run on their own
// goroutines; a panicking subscriber is recovered and logged.
type Subscriber func(c *domain.FraudCase)

// Dispatcher delivers case notifications. Dispatch is fire-and-forget: a
// failing bus or subscriber never fails the case creation that triggered it.
type Dispatcher struct {
	bus    domain.EventBus
	logger *slog.Logger

	mu       sync.RWMutex
	global   []Subscriber
	location map[string][]Subscriber
}

// NewDispatcher creates a dispatcher over an event bus. bus may be nil, in
// which case only in-process subscribers are notified.
func NewDispatcher(bus domain.EventBus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		bus:      bus,
		logger:   logger,
		location: make(map[string][]Subscriber),
	}
}

// SubscribeAll registers a subscriber for every case.
func (d *Dispatcher) SubscribeAll(s Subscriber) {
	d.mu.Lock()
	d.global = append(d.global, s)
	d.mu.Unlock()
}

// SubscribeLocation registers a subscriber for cases at one location.
func (d *Dispatcher) SubscribeLocation(location string, s Subscriber) {
	d.mu.Lock()
	d.location[location] = append(d.location[location], s)
	d.mu.Unlock()
}

// CaseCreated announces a newly created case.
func (d *Dispatcher) CaseCreated(ctx context.Context, c *domain.FraudCase) {
	d.publish(ctx, domain.TopicCaseCreated, c)
	if c.Severity == domain.SeverityCritical {
		d.publish(ctx, domain.TopicCriticalAlert, c)
	}
	d.notify(c)
}

// CaseUpdated announces an update (appended evidence, status change) to an
// existing case.
func (d *Dispatcher) CaseUpdated(ctx context.Context, c *domain.FraudCase) {
	d.publish(ctx, domain.TopicCaseUpdated, c)
	d.notify(c)
}

func (d *Dispatcher) publish(ctx context.Context, topic string, c *domain.FraudCase) {
	if d.bus == nil {
		return
	}

	payload, err := json.Marshal(c)
	if err != nil {
		d.logger.Error("failed to marshal case for publish",
			"case_id", c.ID,
			"error", err)
		return
	}

	if err := d.bus.Publish(ctx, topic, payload); err != nil {
		d.logger.Error("failed to publish case event",
			"case_id", c.ID,
			"topic", topic,
			"error", err)
	}
	if c.Location != "" {
		scoped := topic + "." + c.Location
		if err := d.bus.Publish(ctx, scoped, payload); err != nil {
			d.logger.Error("failed to publish case event",
				"case_id", c.ID,
				"topic", scoped,
				"error", err)
		}
	}
}

func (d *Dispatcher) notify(c *domain.FraudCase) {
	d.mu.RLock()
	subs := make([]Subscriber, 0, len(d.global)+len(d.location[c.Location]))
	subs = append(subs, d.global...)
	subs = append(subs, d.location[c.Location]...)
	d.mu.RUnlock()

	for _, s := range subs {
		go d.run(s, c)
	}
}

func (d *Dispatcher) run(s Subscriber, c *domain.FraudCase) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("alert subscriber panicked",
				"case_id", c.ID,
				"panic", r)
		}
	}()
	s(c)
}
