package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository in memory.
type CampaignRepo struct {
	mu        sync.RWMutex
	campaigns map[string]*domain.Campaign
}

func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{campaigns: make(map[string]*domain.Campaign)}
}

func (r *CampaignRepo) Get(_ context.Context, tenantID, id string) (*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) List(_ context.Context, tenantID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []domain.Campaign
	for _, c := range r.campaigns {
		if c.TenantID != tenantID {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			return nil, total, nil
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (r *CampaignRepo) Create(_ context.Context, c *domain.Campaign) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.campaigns[cp.ID] = &cp
	return cp.ID, nil
}

func (r *CampaignRepo) UpdateStatus(_ context.Context, tenantID, id string, from, to domain.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return campaign.ErrNotFound
	}
	if c.Status != from {
		return campaign.ErrInvalidTransition
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	return nil
}

func (r *CampaignRepo) SetSchedule(_ context.Context, tenantID, id string, at time.Time) error {
	return r.stamp(tenantID, id, func(c *domain.Campaign) { c.ScheduledAt = &at })
}

func (r *CampaignRepo) SetStartedAt(_ context.Context, tenantID, id string, at time.Time) error {
	return r.stamp(tenantID, id, func(c *domain.Campaign) { c.StartedAt = &at })
}

func (r *CampaignRepo) SetCompletedAt(_ context.Context, tenantID, id string, at time.Time) error {
	return r.stamp(tenantID, id, func(c *domain.Campaign) { c.CompletedAt = &at })
}

func (r *CampaignRepo) UpdateCounters(_ context.Context, tenantID, id string, counters domain.CampaignCounters) error {
	return r.stamp(tenantID, id, func(c *domain.Campaign) { c.Counters = counters })
}

func (r *CampaignRepo) DueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if c.Status != domain.CampaignScheduled || c.ScheduledAt == nil || c.ScheduledAt.After(now) {
			continue
		}
		out = append(out, *c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *CampaignRepo) Sending(_ context.Context, limit int) ([]domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if c.Status != domain.CampaignSending {
			continue
		}
		out = append(out, *c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *CampaignRepo) stamp(tenantID, id string, fn func(*domain.Campaign)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return campaign.ErrNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now()
	return nil
}
