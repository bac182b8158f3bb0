package domain

import "time"

// DeliveryStatus enumerates the per-recipient delivery lifecycle. Status only
// moves forward along pending → sent → {delivered | bounced | failed}.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryBounced   DeliveryStatus = "bounced"
	DeliveryFailed    DeliveryStatus = "failed"
)

// deliveryRank orders statuses for the forward-only invariant. Terminal
// statuses share the highest rank; a record never leaves one.
var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:   0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryBounced:   2,
	DeliveryFailed:    2,
}

// CanTransition reports whether moving from → to respects the forward-only
// status ordering. Terminal statuses never transition again.
func CanTransition(from, to DeliveryStatus) bool {
	if from == to {
		return false
	}
	if from == DeliveryDelivered || from == DeliveryBounced || from == DeliveryFailed {
		return false
	}
	return deliveryRank[to] > deliveryRank[from]
}

// IsTerminalDelivery returns true for statuses a record never leaves.
func IsTerminalDelivery(s DeliveryStatus) bool {
	return s == DeliveryDelivered || s == DeliveryBounced || s == DeliveryFailed
}

// DeliveryRecord is the per-recipient, per-campaign unit of send and
// engagement bookkeeping. The (CampaignID, Address) pair is unique and is
// the unit of idempotency for the delivery worker.
type DeliveryRecord struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	Address    string `json:"address"`

	// Token is the opaque correlation token embedded in outbound messages.
	// Tracking requests carry it instead of the recipient address.
	Token string `json:"token"`

	Status        DeliveryStatus `json:"status"`
	AttemptCount  int            `json:"attempt_count"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`

	FirstOpenedAt  *time.Time `json:"first_opened_at,omitempty"`
	LastOpenedAt   *time.Time `json:"last_opened_at,omitempty"`
	OpenCount      int        `json:"open_count"`
	FirstClickedAt *time.Time `json:"first_clicked_at,omitempty"`
	LastClickedAt  *time.Time `json:"last_clicked_at,omitempty"`
	ClickCount     int        `json:"click_count"`
	ClickedTargets []string   `json:"clicked_targets,omitempty"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engaged reports whether the record may accept engagement events.
// Engagement fields are only set once the message actually went out.
func (r *DeliveryRecord) Engaged() bool {
	return r.Status == DeliverySent || r.Status == DeliveryDelivered
}
