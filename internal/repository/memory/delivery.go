package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/sending"
)

// DeliveryRecordStore implements sending.DeliveryRecordStore in memory.
type DeliveryRecordStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.DeliveryRecord
	byKey   map[string]string // campaignID+"\x00"+address → id
	byToken map[string]string // token → id
}

func NewDeliveryRecordStore() *DeliveryRecordStore {
	return &DeliveryRecordStore{
		byID:    make(map[string]*domain.DeliveryRecord),
		byKey:   make(map[string]string),
		byToken: make(map[string]string),
	}
}

func key(campaignID, address string) string { return campaignID + "\x00" + address }

func (s *DeliveryRecordStore) CreateIfAbsent(_ context.Context, rec *domain.DeliveryRecord) (*domain.DeliveryRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key(rec.CampaignID, rec.Address)]; ok {
		cp := *s.byID[id]
		return &cp, false, nil
	}

	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.Status == "" {
		cp.Status = domain.DeliveryPending
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.byID[cp.ID] = &cp
	s.byKey[key(cp.CampaignID, cp.Address)] = cp.ID
	if cp.Token != "" {
		s.byToken[cp.Token] = cp.ID
	}
	out := cp
	return &out, true, nil
}

func (s *DeliveryRecordStore) Get(_ context.Context, campaignID, address string) (*domain.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key(campaignID, address)]
	if !ok {
		return nil, sending.ErrRecordNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *DeliveryRecordStore) GetByToken(_ context.Context, token string) (*domain.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, sending.ErrRecordNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *DeliveryRecordStore) ListByCampaign(_ context.Context, campaignID string, statuses ...domain.DeliveryStatus) ([]domain.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[domain.DeliveryStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []domain.DeliveryRecord
	for _, rec := range s.byID {
		if rec.CampaignID != campaignID {
			continue
		}
		if len(want) > 0 && !want[rec.Status] {
			continue
		}
		out = append(out, *rec)
	}
	// Creation order keeps worker passes deterministic.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Address < out[j].Address
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *DeliveryRecordStore) CountByStatus(_ context.Context, campaignID string) (map[domain.DeliveryStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.DeliveryStatus]int)
	for _, rec := range s.byID {
		if rec.CampaignID == campaignID {
			out[rec.Status]++
		}
	}
	return out, nil
}

func (s *DeliveryRecordStore) EngagementCounts(_ context.Context, campaignID string) (sending.EngagementCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out sending.EngagementCounts
	for _, rec := range s.byID {
		if rec.CampaignID != campaignID {
			continue
		}
		if rec.OpenCount > 0 {
			out.Opened++
		}
		if rec.ClickCount > 0 {
			out.Clicked++
		}
		if rec.UnsubscribedAt != nil {
			out.Unsubscribed++
		}
	}
	return out, nil
}

func (s *DeliveryRecordStore) TransitionStatus(_ context.Context, id string, from, to domain.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return sending.ErrRecordNotFound
	}
	if rec.Status != from {
		return sending.ErrStaleRecord
	}
	if !domain.CanTransition(from, to) {
		return sending.ErrStaleRecord
	}
	rec.Status = to
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *DeliveryRecordStore) RecordAttempt(_ context.Context, id string, attempts int, at time.Time) error {
	return s.update(id, func(rec *domain.DeliveryRecord) {
		rec.AttemptCount = attempts
		rec.LastAttemptAt = &at
	})
}

func (s *DeliveryRecordStore) RecordOpen(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(rec *domain.DeliveryRecord) {
		if rec.FirstOpenedAt == nil {
			rec.FirstOpenedAt = &at
		}
		rec.LastOpenedAt = &at
		rec.OpenCount++
	})
}

func (s *DeliveryRecordStore) RecordClick(_ context.Context, id string, at time.Time, target string) error {
	return s.update(id, func(rec *domain.DeliveryRecord) {
		if rec.FirstClickedAt == nil {
			rec.FirstClickedAt = &at
		}
		rec.LastClickedAt = &at
		rec.ClickCount++
		for _, t := range rec.ClickedTargets {
			if t == target {
				return
			}
		}
		rec.ClickedTargets = append(rec.ClickedTargets, target)
	})
}

func (s *DeliveryRecordStore) RecordUnsubscribe(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(rec *domain.DeliveryRecord) {
		if rec.UnsubscribedAt == nil {
			rec.UnsubscribedAt = &at
		}
	})
}

func (s *DeliveryRecordStore) update(id string, fn func(*domain.DeliveryRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return sending.ErrRecordNotFound
	}
	fn(rec)
	rec.UpdatedAt = time.Now()
	return nil
}
