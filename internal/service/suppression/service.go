package suppression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// DefaultHardThreshold is how many consecutive hard bounces suppress an
// address when no threshold is configured.
const DefaultHardThreshold = 3

// Service applies bounce escalation rules over the suppression registry.
type Service struct {
	repo          Repository
	hardThreshold int
	now           func() time.Time
}

// NewService creates a suppression service. threshold <= 0 selects
// DefaultHardThreshold.
func NewService(repo Repository, threshold int) *Service {
	if threshold <= 0 {
		threshold = DefaultHardThreshold
	}
	return &Service{repo: repo, hardThreshold: threshold, now: time.Now}
}

// IsSuppressed reports whether an address is blocked from all campaign mail.
// An unknown address is not suppressed.
func (s *Service) IsSuppressed(ctx context.Context, address string) (bool, error) {
	e, err := s.repo.Get(ctx, address)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup suppression: %w", err)
	}
	return e.Suppressed, nil
}

// Get returns the entry for an address, or ErrNotFound.
func (s *Service) Get(ctx context.Context, address string) (*domain.SuppressionEntry, error) {
	return s.repo.Get(ctx, address)
}

// ListSuppressed returns suppressed entries for operator review.
func (s *Service) ListSuppressed(ctx context.Context, limit, offset int) ([]domain.SuppressionEntry, error) {
	return s.repo.ListSuppressed(ctx, limit, offset)
}

// RecordBounce updates an address's entry for one bounce. Hard bounces bump
// the consecutive counter and suppress the address once it reaches the
// threshold; soft bounces are tallied but never suppress on their own. The
// updated entry is returned.
func (s *Service) RecordBounce(ctx context.Context, address string, class domain.BounceClass) (*domain.SuppressionEntry, error) {
	now := s.now()
	e, err := s.repo.Get(ctx, address)
	if errors.Is(err, ErrNotFound) {
		e = &domain.SuppressionEntry{Address: address, CreatedAt: now}
	} else if err != nil {
		return nil, fmt.Errorf("lookup suppression: %w", err)
	}

	e.Classification = class
	e.UpdatedAt = now

	switch class {
	case domain.BounceHard:
		e.ConsecutiveHardFailures++
		if !e.Suppressed && e.ConsecutiveHardFailures >= s.hardThreshold {
			e.Suppressed = true
			e.SuppressedAt = &now
			logger.Warn("address suppressed",
				"email", address,
				"consecutive_hard_failures", e.ConsecutiveHardFailures)
		}
	case domain.BounceSoft:
		e.SoftFailures++
	default:
		return nil, fmt.Errorf("unknown bounce class %q", class)
	}

	if err := s.repo.Save(ctx, e); err != nil {
		return nil, fmt.Errorf("save suppression entry: %w", err)
	}
	return e, nil
}

// RecordDelivery resets the consecutive hard-failure streak after a
// successful delivery. A suppressed entry stays suppressed.
func (s *Service) RecordDelivery(ctx context.Context, address string) error {
	e, err := s.repo.Get(ctx, address)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup suppression: %w", err)
	}
	if e.Suppressed || e.ConsecutiveHardFailures == 0 {
		return nil
	}
	e.ConsecutiveHardFailures = 0
	e.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, e); err != nil {
		return fmt.Errorf("save suppression entry: %w", err)
	}
	return nil
}
