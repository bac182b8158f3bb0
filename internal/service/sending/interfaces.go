// Package sending defines the store contracts shared by the delivery worker,
// the tracking service, and the stats aggregator: the per-recipient delivery
// record store and the append-only engagement event log.
//
// Implementations live in repository/postgres/ and repository/memory/. All
// implementations must be safe for concurrent use and must apply record
// mutations atomically per record (compare-and-set on status, single UPDATE
// per engagement bump), never under a store-wide lock.
package sending

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Sentinel errors for the delivery record store.
var (
	// ErrRecordNotFound is returned when no record matches the lookup.
	ErrRecordNotFound = errors.New("delivery record not found")

	// ErrStaleRecord is returned by TransitionStatus when the record is no
	// longer in the expected from-status. Callers treat this as "someone
	// else already advanced the record" and re-read instead of retrying.
	ErrStaleRecord = errors.New("delivery record status changed concurrently")
)

// EngagementCounts are distinct-record engagement tallies for a campaign.
type EngagementCounts struct {
	Opened       int
	Clicked      int
	Unsubscribed int
}

// DeliveryRecordStore is the durable per-recipient send record store.
type DeliveryRecordStore interface {
	// CreateIfAbsent inserts the record unless one already exists for its
	// (campaign, address) pair. It returns the stored record and whether a
	// new row was created. Re-running a worker never duplicates records.
	CreateIfAbsent(ctx context.Context, rec *domain.DeliveryRecord) (*domain.DeliveryRecord, bool, error)

	// Get returns the record for a campaign/address pair.
	Get(ctx context.Context, campaignID, address string) (*domain.DeliveryRecord, error)

	// GetByToken resolves a correlation token to its record.
	GetByToken(ctx context.Context, token string) (*domain.DeliveryRecord, error)

	// ListByCampaign returns the campaign's records, optionally filtered by
	// status, in a deterministic order.
	ListByCampaign(ctx context.Context, campaignID string, statuses ...domain.DeliveryStatus) ([]domain.DeliveryRecord, error)

	// CountByStatus returns per-status record counts for a campaign.
	CountByStatus(ctx context.Context, campaignID string) (map[domain.DeliveryStatus]int, error)

	// EngagementCounts returns distinct-record engagement tallies.
	EngagementCounts(ctx context.Context, campaignID string) (EngagementCounts, error)

	// TransitionStatus advances a record from → to. The update is a
	// compare-and-set: it fails with ErrStaleRecord if the record is not in
	// the from-status, so two concurrent attempts can never both win.
	// Transitions must respect domain.CanTransition.
	TransitionStatus(ctx context.Context, id string, from, to domain.DeliveryStatus) error

	// RecordAttempt stores retry state (attempt count, last attempt time).
	RecordAttempt(ctx context.Context, id string, attempts int, at time.Time) error

	// RecordOpen bumps open bookkeeping: first/last opened, open count.
	RecordOpen(ctx context.Context, id string, at time.Time) error

	// RecordClick bumps click bookkeeping and adds target to the distinct
	// clicked-target set.
	RecordClick(ctx context.Context, id string, at time.Time, target string) error

	// RecordUnsubscribe sets unsubscribed-at if unset.
	RecordUnsubscribe(ctx context.Context, id string, at time.Time) error
}

// EngagementEventLog is the append-only engagement audit trail.
type EngagementEventLog interface {
	// Append stores an event. Events are immutable once written.
	Append(ctx context.Context, ev *domain.EngagementEvent) error

	// ListByRecord returns a record's events ordered by occurrence.
	ListByRecord(ctx context.Context, recordID string) ([]domain.EngagementEvent, error)

	// ListByCampaign returns all events for a campaign ordered by occurrence.
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.EngagementEvent, error)
}
