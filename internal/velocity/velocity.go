// Package velocity tracks payer transaction velocity.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service counts a payer's recent transactions. The windowed cache
// counter is the fast path; the repository backs it when no cache is
// configured or the counter fails.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Observe records one scoring request for the payer and returns the
// payer's transaction count in the window, including this one.
func (s *Service) Observe(ctx context.Context, payerID string, window time.Duration) (int64, error) {
	if payerID == "" {
		return 0, fmt.Errorf("payerID is required")
	}

	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, "velocity:"+payerID, window)
		if err == nil {
			return count, nil
		}
	}

	if s.repo != nil {
		since := time.Now().Add(-window)
		count, err := s.repo.CountTransactionsByPayer(ctx, payerID, since)
		if err != nil {
			return 0, fmt.Errorf("failed to count transactions: %w", err)
		}
		return count + 1, nil
	}

	return 0, fmt.Errorf("no data source available")
}

// Getter returns the velocity function in the shape the orchestrator
// expects.
func (s *Service) Getter() func(ctx context.Context, payerID string, window time.Duration) (int64, error) {
	return s.Observe
}
