package domain

import "time"

// EventKind enumerates engagement event types.
type EventKind string

const (
	EventOpen        EventKind = "open"
	EventClick       EventKind = "click"
	EventBounce      EventKind = "bounce"
	EventUnsubscribe EventKind = "unsubscribe"
)

// EngagementEvent is an append-only log entry. Events are never mutated;
// the denormalized counters on DeliveryRecord and Campaign can always be
// rebuilt from this log.
type EngagementEvent struct {
	ID         string    `json:"id"`
	RecordID   string    `json:"record_id"`
	CampaignID string    `json:"campaign_id"`
	Kind       EventKind `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`

	// Click payload
	LinkURL string `json:"link_url,omitempty"`
	LinkPos int    `json:"link_pos,omitempty"`

	// Bounce payload
	BounceClass BounceClass `json:"bounce_class,omitempty"`
}

// Preference is a recipient's contact preference, owned by the external
// directory collaborator and consumed read-only except for unsubscribe
// write-back.
type Preference struct {
	Subscribed      bool     `json:"subscribed"`
	CategoryOptOuts []string `json:"category_optouts,omitempty"`
}

// OptedOut reports whether the preference opts out of the given category.
func (p Preference) OptedOut(category string) bool {
	if category == "" {
		return false
	}
	for _, c := range p.CategoryOptOuts {
		if c == category {
			return true
		}
	}
	return false
}
