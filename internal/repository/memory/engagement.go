package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
)

// EngagementEventLog implements sending.EngagementEventLog in memory.
type EngagementEventLog struct {
	mu     sync.RWMutex
	events []domain.EngagementEvent
}

func NewEngagementEventLog() *EngagementEventLog {
	return &EngagementEventLog{}
}

func (l *EngagementEventLog) Append(_ context.Context, ev *domain.EngagementEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *ev
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	l.events = append(l.events, cp)
	return nil
}

func (l *EngagementEventLog) ListByRecord(_ context.Context, recordID string) ([]domain.EngagementEvent, error) {
	return l.list(func(ev domain.EngagementEvent) bool { return ev.RecordID == recordID })
}

func (l *EngagementEventLog) ListByCampaign(_ context.Context, campaignID string) ([]domain.EngagementEvent, error) {
	return l.list(func(ev domain.EngagementEvent) bool { return ev.CampaignID == campaignID })
}

func (l *EngagementEventLog) list(match func(domain.EngagementEvent) bool) ([]domain.EngagementEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.EngagementEvent
	for _, ev := range l.events {
		if match(ev) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}
