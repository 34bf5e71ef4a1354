// Package velocity tracks rolling per-customer transaction counts.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fuelops/sentinel/internal/domain"
)

// DefaultWindow is the rolling window for velocity counting.
const DefaultWindow = 10 * time.Minute

// Service counts transactions per customer within a rolling window, backed
// by the cache layer's atomic counters. The count includes the transaction
// being evaluated: the first call for a quiet customer returns 1.
type Service struct {
	cache  domain.Cache
	window time.Duration
	logger *slog.Logger
}

// NewService creates a velocity service. A non-positive window falls back to
// DefaultWindow.
func NewService(cache domain.Cache, window time.Duration, logger *slog.Logger) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:  cache,
		window: window,
		logger: logger,
	}
}

// Window returns the configured rolling window.
func (s *Service) Window() time.Duration {
	return s.window
}

// Count increments and returns the rolling transaction count for a customer.
func (s *Service) Count(ctx context.Context, customerID string) (int64, error) {
	if customerID == "" {
		return 0, fmt.Errorf("customer id is required")
	}

	count, err := s.cache.IncrementCounter(ctx, "velocity:"+customerID, s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment velocity counter: %w", err)
	}
	return count, nil
}

// CandidateCount adapts Count to the evaluation pipeline: it reads the
// customer from the candidate's parties and returns zero for events with no
// customer attached. The signature matches provider.VelocityGetter.
func (s *Service) CandidateCount(ctx context.Context, c *domain.Candidate) (int64, error) {
	customerID := c.Parties[domain.RoleCustomer]
	if customerID == "" {
		return 0, nil
	}

	count, err := s.Count(ctx, customerID)
	if err != nil {
		s.logger.Warn("velocity count failed",
			"customer_id", customerID,
			"error", err)
		return 0, err
	}
	return count, nil
}
