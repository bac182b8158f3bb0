// Package stats computes campaign-level delivery and engagement statistics
// on demand from the delivery record store. Recomputation is idempotent and
// is also the source for the campaign's cached counters.
package stats

import (
	"context"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/sending"
)

// CampaignStats is the aggregated output for one campaign. Rates are
// percentages in [0,100]. Delivery and bounce rates use attempted sends as
// the denominator; open, click and unsubscribe rates use delivered count. A
// zero denominator yields a rate of 0.
type CampaignStats struct {
	Resolved     int `json:"resolved"`
	Attempted    int `json:"attempted"`
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Opened       int `json:"opened"`
	Clicked      int `json:"clicked"`
	Bounced      int `json:"bounced"`
	Failed       int `json:"failed"`
	Unsubscribed int `json:"unsubscribed"`

	DeliveryRate    float64 `json:"delivery_rate"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`
}

// Service aggregates over the delivery record store, read-only.
type Service struct {
	records sending.DeliveryRecordStore
}

func NewService(records sending.DeliveryRecordStore) *Service {
	return &Service{records: records}
}

// Counters recomputes the campaign's counter cache from the store. Resolved
// is left zero; the campaign service owns it.
func (s *Service) Counters(ctx context.Context, campaignID string) (domain.CampaignCounters, error) {
	byStatus, err := s.records.CountByStatus(ctx, campaignID)
	if err != nil {
		return domain.CampaignCounters{}, fmt.Errorf("count records: %w", err)
	}
	eng, err := s.records.EngagementCounts(ctx, campaignID)
	if err != nil {
		return domain.CampaignCounters{}, fmt.Errorf("count engagement: %w", err)
	}

	sent := byStatus[domain.DeliverySent]
	delivered := byStatus[domain.DeliveryDelivered]
	bounced := byStatus[domain.DeliveryBounced]
	failed := byStatus[domain.DeliveryFailed]

	return domain.CampaignCounters{
		Attempted:    sent + delivered + bounced + failed,
		Sent:         sent + delivered,
		Delivered:    delivered,
		Opened:       eng.Opened,
		Clicked:      eng.Clicked,
		Bounced:      bounced,
		Unsubscribed: eng.Unsubscribed,
	}, nil
}

// Stats computes the full aggregate for a campaign.
func (s *Service) Stats(ctx context.Context, campaignID string) (*CampaignStats, error) {
	counters, err := s.Counters(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.records.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	st := &CampaignStats{
		Attempted:    counters.Attempted,
		Sent:         counters.Sent,
		Delivered:    counters.Delivered,
		Opened:       counters.Opened,
		Clicked:      counters.Clicked,
		Bounced:      counters.Bounced,
		Failed:       byStatus[domain.DeliveryFailed],
		Unsubscribed: counters.Unsubscribed,
	}
	// Record total: a floor on the audience until every record exists. The
	// API overlays the campaign's cached resolved count when it is larger.
	for _, n := range byStatus {
		st.Resolved += n
	}

	st.DeliveryRate = rate(st.Delivered, st.Attempted)
	st.BounceRate = rate(st.Bounced, st.Attempted)
	st.OpenRate = rate(st.Opened, st.Delivered)
	st.ClickRate = rate(st.Clicked, st.Delivered)
	st.UnsubscribeRate = rate(st.Unsubscribed, st.Delivered)
	return st, nil
}

func rate(n, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return float64(n) / float64(denom) * 100
}
