package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// CampaignClass determines whether recipient preferences apply.
type CampaignClass string

const (
	// ClassStandard campaigns honor recipient preferences and opt-outs.
	ClassStandard CampaignClass = "standard"
	// ClassTransactional campaigns (security alerts, account notices) bypass
	// preference filtering. They never bypass suppression.
	ClassTransactional CampaignClass = "transactional"
)

// TargetRule selects the recipients of a campaign. Exactly which members it
// selects is decided by the directory collaborator; the rule is a declarative
// tagged variant combined with union semantics: the candidate set is the
// union of everything the populated fields select.
type TargetRule struct {
	// All selects every active addressable member of the tenant.
	All bool `json:"all,omitempty" yaml:"all,omitempty"`
	// Roles selects members holding any of the given roles.
	Roles []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	// IDs selects explicit member ids.
	IDs []string `json:"ids,omitempty" yaml:"ids,omitempty"`
	// Predicate selects members matching a structured filter.
	Predicate *Predicate `json:"predicate,omitempty" yaml:"predicate,omitempty"`
}

// Predicate is a structured membership filter.
type Predicate struct {
	JoinedBefore *time.Time `json:"joined_before,omitempty" yaml:"joined_before,omitempty"`
	JoinedAfter  *time.Time `json:"joined_after,omitempty" yaml:"joined_after,omitempty"`
}

// IsZero reports whether the rule selects nothing.
func (r TargetRule) IsZero() bool {
	return !r.All && len(r.Roles) == 0 && len(r.IDs) == 0 && r.Predicate == nil
}

// CampaignCounters are the denormalized per-campaign counts. They are a
// cache: every value must be recomputable from the delivery record store and
// the engagement event log.
type CampaignCounters struct {
	Resolved     int `json:"resolved"`
	Attempted    int `json:"attempted"`
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Opened       int `json:"opened"`
	Clicked      int `json:"clicked"`
	Bounced      int `json:"bounced"`
	Unsubscribed int `json:"unsubscribed"`
}

// Campaign is a single bulk-send job.
type Campaign struct {
	ID         string        `json:"id"`
	TenantID   string        `json:"tenant_id"`
	Name       string        `json:"name"`
	TemplateID string        `json:"template_id"`
	Category   string        `json:"category"`
	Class      CampaignClass `json:"class"`
	Rule       TargetRule    `json:"rule"`

	Status      CampaignStatus `json:"status"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	Counters CampaignCounters `json:"counters"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignCancelled
}
