package suppression

import (
	"context"
	"errors"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ErrNotFound is returned when no entry exists for an address.
var ErrNotFound = errors.New("suppression entry not found")

// Repository is the data access contract for suppression entries.
// Implementations must be safe for concurrent use; entries are unique per
// address and updates are per-entry, never under a store-wide lock.
type Repository interface {
	// Get returns the entry for an address. Returns ErrNotFound if none.
	Get(ctx context.Context, address string) (*domain.SuppressionEntry, error)

	// Save inserts or replaces the entry for its address.
	Save(ctx context.Context, e *domain.SuppressionEntry) error

	// ListSuppressed returns all suppressed entries, newest first.
	ListSuppressed(ctx context.Context, limit, offset int) ([]domain.SuppressionEntry, error)
}
