package campaign

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, newest first.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// UpdateStatus transitions a campaign's status as a compare-and-set on
	// the expected from-status. Returns ErrInvalidTransition if the campaign
	// was not in the from-status, leaving it unchanged.
	UpdateStatus(ctx context.Context, tenantID, id string, from, to domain.CampaignStatus) error

	// SetSchedule stores the scheduled send time.
	SetSchedule(ctx context.Context, tenantID, id string, at time.Time) error

	// SetStartedAt / SetCompletedAt stamp lifecycle timestamps.
	SetStartedAt(ctx context.Context, tenantID, id string, at time.Time) error
	SetCompletedAt(ctx context.Context, tenantID, id string, at time.Time) error

	// UpdateCounters writes the denormalized counter cache. Called only with
	// counters recomputed from the delivery/engagement stores.
	UpdateCounters(ctx context.Context, tenantID, id string, counters domain.CampaignCounters) error

	// DueScheduled returns scheduled campaigns whose send time has elapsed.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// Sending returns campaigns currently in sending status.
	Sending(ctx context.Context, limit int) ([]domain.Campaign, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// CounterSource recomputes a campaign's counters from the underlying stores.
// The stats aggregator satisfies this.
type CounterSource interface {
	Counters(ctx context.Context, campaignID string) (domain.CampaignCounters, error)
}
