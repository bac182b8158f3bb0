package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrMissingName       = errors.New("campaign name is required")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingRule       = errors.New("campaign has no targeting rule")
	ErrMissingTemplate   = errors.New("campaign has no template")
	ErrPastSchedule      = errors.New("scheduled time is in the past")
)
