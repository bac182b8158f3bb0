package domain

import "time"

// BounceClass classifies a delivery failure.
type BounceClass string

const (
	// BounceHard is a permanent failure (invalid address, hard rejection).
	BounceHard BounceClass = "hard"
	// BounceSoft is a transient or recoverable failure.
	BounceSoft BounceClass = "soft"
)

// SuppressionEntry is an address-level block on all future campaign sends.
// Once Suppressed flips true the entry is terminal: it is never unset
// automatically.
type SuppressionEntry struct {
	Address        string      `json:"address"`
	Classification BounceClass `json:"classification"`

	// ConsecutiveHardFailures counts hard bounces since the last successful
	// delivery. Escalation to Suppressed happens at the configured threshold.
	ConsecutiveHardFailures int `json:"consecutive_hard_failures"`
	SoftFailures            int `json:"soft_failures"`

	Suppressed   bool       `json:"suppressed"`
	SuppressedAt *time.Time `json:"suppressed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
