// Package provider implements the pluggable fraud signal sources and the
// per-domain registry that dispatches them.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/fuelops/sentinel/internal/domain"
)

// Registry maps each domain to its ordered list of signal providers.
// It is constructed once at startup and passed by reference into the
// engine and the scheduler; there is no ambient global state.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.DomainType][]domain.SignalProvider
	health    map[string]*Health
}

// Health is the last-known status of one registered provider.
type Health struct {
	Name        string            `json:"name"`
	Domain      domain.DomainType `json:"domain"`
	Evaluations int64             `json:"evaluations"`
	Failures    int64             `json:"failures"`
	LastError   string            `json:"lastError,omitempty"`
	LastLatency int64             `json:"lastLatencyMs"`
	LastSeen    time.Time         `json:"lastSeen,omitempty"`
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[domain.DomainType][]domain.SignalProvider),
		health:    make(map[string]*Health),
	}
}

// Register appends a provider to a domain's evaluation list. Registration
// order is preserved; the combiner does not depend on it.
func (r *Registry) Register(d domain.DomainType, p domain.SignalProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[d] = append(r.providers[d], p)
	r.health[healthKey(d, p.Name())] = &Health{Name: p.Name(), Domain: d}
}

// For returns the providers registered for a domain.
func (r *Registry) For(d domain.DomainType) []domain.SignalProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SignalProvider, len(r.providers[d]))
	copy(out, r.providers[d])
	return out
}

// Record updates a provider's health after one evaluation.
func (r *Registry) Record(d domain.DomainType, name string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.health[healthKey(d, name)]
	if !ok {
		h = &Health{Name: name, Domain: d}
		r.health[healthKey(d, name)] = h
	}
	h.Evaluations++
	h.LastLatency = latency.Milliseconds()
	h.LastSeen = time.Now().UTC()
	if err != nil {
		h.Failures++
		h.LastError = err.Error()
	} else {
		h.LastError = ""
	}
}

// Status returns a snapshot of every registered provider's health.
func (r *Registry) Status() []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Health, 0, len(r.health))
	for _, h := range r.health {
		out = append(out, *h)
	}
	return out
}

func healthKey(d domain.DomainType, name string) string {
	return string(d) + ":" + name
}

// Named wraps a provider under a different signal name, so the same
// implementation can serve domains whose weight tables use distinct names
// (e.g. the pattern provider registered as "knownSchemes" for drivers).
func Named(name string, p domain.SignalProvider) domain.SignalProvider {
	return &named{name: name, inner: p}
}

type named struct {
	name  string
	inner domain.SignalProvider
}

func (n *named) Name() string { return n.name }

func (n *named) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	return n.inner.Score(ctx, c)
}
