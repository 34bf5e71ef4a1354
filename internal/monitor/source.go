package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fuelops/sentinel/internal/domain"
)

// BusSource adapts the event bus to the Source interface: upstream systems
// (POS bridges, telematics gateways, tank gauging) publish raw events to
// the domain's event topic, and each polling cycle drains what arrived
// since the last one.
type BusSource struct {
	d domain.DomainType

	mu  sync.Mutex
	buf []any
}

// NewBusSource subscribes to the domain's event topic on the bus. The
// subscription lives until ctx ends.
func NewBusSource(ctx context.Context, b domain.EventBus, d domain.DomainType) (*BusSource, error) {
	s := &BusSource{d: d}
	if _, err := b.Subscribe(ctx, domain.EventTopic(d), s.handle); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s events: %w", d, err)
	}
	return s, nil
}

// Domain implements Source.
func (s *BusSource) Domain() domain.DomainType { return s.d }

func (s *BusSource) handle(ctx context.Context, msg *domain.Message) error {
	event, err := decodeEvent(s.d, msg.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.buf = append(s.buf, event)
	s.mu.Unlock()
	return nil
}

// FetchSince implements Source by draining the buffered events. The
// watermark is not consulted: the bus already delivers each event once.
func (s *BusSource) FetchSince(ctx context.Context, since time.Time) ([]any, error) {
	s.mu.Lock()
	events := s.buf
	s.buf = nil
	s.mu.Unlock()
	return events, nil
}

// Requeue puts events whose evaluation failed back at the front of the
// buffer. The bus will not redeliver them, so the next cycle must see them
// again, ahead of anything that arrived in the meantime.
func (s *BusSource) Requeue(events []any) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	s.buf = append(append(make([]any, 0, len(events)+len(s.buf)), events...), s.buf...)
	s.mu.Unlock()
}

func decodeEvent(d domain.DomainType, payload []byte) (any, error) {
	unmarshal := func(v any) (any, error) {
		if err := json.Unmarshal(payload, v); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", d, err)
		}
		return v, nil
	}

	switch d {
	case domain.DomainPumpTampering:
		return unmarshal(&domain.PumpTransaction{})
	case domain.DomainDriverDiversion:
		return unmarshal(&domain.DriverTelemetry{})
	case domain.DomainInventoryTheft:
		return unmarshal(&domain.InventorySnapshot{})
	case domain.DomainTransactionFraud:
		return unmarshal(&domain.FinancialTransaction{})
	case domain.DomainPriceManipulation:
		return unmarshal(&domain.PriceChange{})
	case domain.DomainDocumentForgery:
		return unmarshal(&domain.ScannedDocument{})
	}
	return nil, fmt.Errorf("unknown domain %q", d)
}
