package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// transitions is the state machine guard table: each status maps to the set
// of statuses it may move to. Anything not listed is a state conflict.
var transitions = map[domain.CampaignStatus][]domain.CampaignStatus{
	domain.CampaignDraft:     {domain.CampaignScheduled, domain.CampaignSending, domain.CampaignCancelled},
	domain.CampaignScheduled: {domain.CampaignSending, domain.CampaignCancelled},
	domain.CampaignSending:   {domain.CampaignPaused, domain.CampaignCompleted, domain.CampaignCancelled},
	domain.CampaignPaused:    {domain.CampaignSending, domain.CampaignCancelled},
}

func canTransition(from, to domain.CampaignStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Service implements the campaign state machine. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe; the
// repository's compare-and-set UpdateStatus makes racing transitions lose
// cleanly with ErrInvalidTransition.
type Service struct {
	repo     Repository
	counters CounterSource
	now      func() time.Time
}

// NewService creates a campaign service backed by the given repository.
// counters may be nil; SyncCounters then becomes a no-op.
func NewService(repo Repository, counters CounterSource) *Service {
	return &Service{repo: repo, counters: counters, now: time.Now}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, tenantID, f)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name       string               `json:"name"`
	TemplateID string               `json:"template_id"`
	Category   string               `json:"category"`
	Class      domain.CampaignClass `json:"class"`
	Rule       domain.TargetRule    `json:"rule"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, tenantID string, input CreateInput) (*domain.Campaign, error) {
	if input.Name == "" {
		return nil, ErrMissingName
	}
	if input.TemplateID == "" {
		return nil, ErrMissingTemplate
	}
	if input.Rule.IsZero() {
		return nil, ErrMissingRule
	}
	class := input.Class
	if class == "" {
		class = domain.ClassStandard
	}

	c := &domain.Campaign{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Name:       input.Name,
		TemplateID: input.TemplateID,
		Category:   input.Category,
		Class:      class,
		Rule:       input.Rule,
		Status:     domain.CampaignDraft,
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// Schedule moves draft → scheduled with a future-or-immediate send time.
func (s *Service) Schedule(ctx context.Context, tenantID, id string, at time.Time) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c.Rule.IsZero() {
		return nil, ErrMissingRule
	}
	// A small grace window tolerates clock skew on "send immediately".
	if at.Before(s.now().Add(-time.Minute)) {
		return nil, ErrPastSchedule
	}
	if err := s.transition(ctx, c, domain.CampaignScheduled); err != nil {
		return nil, err
	}
	if err := s.repo.SetSchedule(ctx, tenantID, id, at); err != nil {
		return nil, fmt.Errorf("set schedule: %w", err)
	}
	return s.repo.Get(ctx, tenantID, id)
}

// SendNow moves draft or scheduled → sending. The scheduler (or the API
// handler, for send-now) then resolves recipients and starts the worker.
func (s *Service) SendNow(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c.Rule.IsZero() {
		return nil, ErrMissingRule
	}
	if err := s.transition(ctx, c, domain.CampaignSending); err != nil {
		return nil, err
	}
	if err := s.repo.SetStartedAt(ctx, tenantID, id, s.now()); err != nil {
		logger.Warn("stamp started_at failed", "campaign_id", id, "error", err.Error())
	}
	return s.repo.Get(ctx, tenantID, id)
}

// Pause moves sending → paused. The delivery worker observes the new status
// between batches; in-flight sends run to completion.
func (s *Service) Pause(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.simpleTransition(ctx, tenantID, id, domain.CampaignPaused)
}

// Resume moves paused → sending. Only recipients whose record is still
// pending are sent on the next worker pass.
func (s *Service) Resume(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.simpleTransition(ctx, tenantID, id, domain.CampaignSending)
}

// Cancel moves any non-terminal status → cancelled. Pending records are left
// pending and never sent.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	c, err := s.simpleTransition(ctx, tenantID, id, domain.CampaignCancelled)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetCompletedAt(ctx, tenantID, id, s.now()); err != nil {
		logger.Warn("stamp completed_at failed", "campaign_id", id, "error", err.Error())
	}
	c.Status = domain.CampaignCancelled
	return c, nil
}

// CompleteSending moves sending → completed. Called by the delivery worker
// once zero pending records remain.
func (s *Service) CompleteSending(ctx context.Context, tenantID, id string) error {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, c, domain.CampaignCompleted); err != nil {
		return err
	}
	if err := s.repo.SetCompletedAt(ctx, tenantID, id, s.now()); err != nil {
		logger.Warn("stamp completed_at failed", "campaign_id", id, "error", err.Error())
	}
	return nil
}

// SyncCounters recomputes the campaign's cached counters from the delivery
// and engagement stores and writes them back. Recomputation is idempotent.
func (s *Service) SyncCounters(ctx context.Context, tenantID, id string) error {
	if s.counters == nil {
		return nil
	}
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	counters, err := s.counters.Counters(ctx, id)
	if err != nil {
		return fmt.Errorf("recompute counters: %w", err)
	}
	// Resolved is owned by the resolver pass, not derivable from records
	// once a campaign is cancelled mid-resolution. Keep the larger value.
	if c.Counters.Resolved > counters.Resolved {
		counters.Resolved = c.Counters.Resolved
	}
	return s.repo.UpdateCounters(ctx, tenantID, id, counters)
}

// SetResolvedCount stores how many recipients resolution produced.
func (s *Service) SetResolvedCount(ctx context.Context, tenantID, id string, n int) error {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	counters := c.Counters
	counters.Resolved = n
	return s.repo.UpdateCounters(ctx, tenantID, id, counters)
}

func (s *Service) simpleTransition(ctx context.Context, tenantID, id string, to domain.CampaignStatus) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, c, to); err != nil {
		return nil, err
	}
	c.Status = to
	return c, nil
}

// transition applies the guard table, then the compare-and-set update. A
// failed guard or a lost race both surface as ErrInvalidTransition with no
// side effect.
func (s *Service) transition(ctx context.Context, c *domain.Campaign, to domain.CampaignStatus) error {
	if !canTransition(c.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, c.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, c.TenantID, c.ID, c.Status, to); err != nil {
		return err
	}
	logger.Info("campaign transition", "campaign_id", c.ID, "from", string(c.Status), "to", string(to))
	return nil
}
