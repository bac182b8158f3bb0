// Package tracking correlates inbound engagement requests (open pixel,
// click redirect, unsubscribe, bounce notifications) back to delivery
// records and appends engagement events.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/sending"
	"github.com/ignite/campaign-engine/internal/service/suppression"
)

// ErrUnknownToken is returned when a token resolves to no delivery record.
// Handlers swallow it: tracking endpoints never reveal token validity.
var ErrUnknownToken = errors.New("unknown correlation token")

// PreferenceWriter is the slice of the directory collaborator that
// unsubscribe handling writes through.
type PreferenceWriter interface {
	SetUnsubscribed(ctx context.Context, address string) error
}

// RequestMeta carries request attributes used for bot filtering and logs.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Service applies engagement side effects. Engagement is only recorded for
// records whose message actually went out (status sent or delivered);
// anything else is a silent no-op.
type Service struct {
	records     sending.DeliveryRecordStore
	events      sending.EngagementEventLog
	suppression *suppression.Service
	prefs       PreferenceWriter
	bots        *BotDetector
	now         func() time.Time
}

func NewService(records sending.DeliveryRecordStore, events sending.EngagementEventLog, sup *suppression.Service, prefs PreferenceWriter) *Service {
	return &Service{
		records:     records,
		events:      events,
		suppression: sup,
		prefs:       prefs,
		bots:        NewBotDetector(),
		now:         time.Now,
	}
}

// Open records an open for the record behind token.
func (s *Service) Open(ctx context.Context, token string, meta RequestMeta) error {
	if s.bots.IsBot(meta.UserAgent) {
		return nil
	}
	rec, err := s.records.GetByToken(ctx, token)
	if errors.Is(err, sending.ErrRecordNotFound) {
		return ErrUnknownToken
	}
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	if !rec.Engaged() {
		return nil
	}

	now := s.now()
	if err := s.records.RecordOpen(ctx, rec.ID, now); err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	s.append(ctx, rec, domain.EventOpen, now, func(ev *domain.EngagementEvent) {})
	logger.Debug("open tracked", "campaign_id", rec.CampaignID, "record_id", rec.ID, "ip", meta.IP)
	return nil
}

// Click records a click on target (with its position index in the body).
func (s *Service) Click(ctx context.Context, token, target string, pos int, meta RequestMeta) error {
	if s.bots.IsBot(meta.UserAgent) {
		return nil
	}
	rec, err := s.records.GetByToken(ctx, token)
	if errors.Is(err, sending.ErrRecordNotFound) {
		return ErrUnknownToken
	}
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	if !rec.Engaged() {
		return nil
	}

	now := s.now()
	if err := s.records.RecordClick(ctx, rec.ID, now, target); err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	s.append(ctx, rec, domain.EventClick, now, func(ev *domain.EngagementEvent) {
		ev.LinkURL = target
		ev.LinkPos = pos
	})
	logger.Debug("click tracked", "campaign_id", rec.CampaignID, "record_id", rec.ID, "url", target)
	return nil
}

// Unsubscribe sets the recipient's preference to unsubscribed through the
// directory collaborator and records the event. The address is not
// suppressed; suppression is bounce-driven only.
func (s *Service) Unsubscribe(ctx context.Context, token string, meta RequestMeta) error {
	rec, err := s.records.GetByToken(ctx, token)
	if errors.Is(err, sending.ErrRecordNotFound) {
		return ErrUnknownToken
	}
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}

	if err := s.prefs.SetUnsubscribed(ctx, rec.Address); err != nil {
		return fmt.Errorf("write back preference: %w", err)
	}
	now := s.now()
	if err := s.records.RecordUnsubscribe(ctx, rec.ID, now); err != nil {
		return fmt.Errorf("record unsubscribe: %w", err)
	}
	s.append(ctx, rec, domain.EventUnsubscribe, now, func(ev *domain.EngagementEvent) {})
	logger.Info("unsubscribe tracked", "campaign_id", rec.CampaignID, "email", rec.Address)
	return nil
}

// Bounce handles a bounce for a campaign/address pair, from either a
// transport notification or a worker-side permanent failure. It marks the
// record bounced, appends a bounce event, and escalates through the
// suppression registry.
func (s *Service) Bounce(ctx context.Context, campaignID, address string, class domain.BounceClass) error {
	rec, err := s.records.Get(ctx, campaignID, address)
	if errors.Is(err, sending.ErrRecordNotFound) {
		// A bounce can arrive for mail sent outside the engine; the
		// suppression registry is still updated.
		if _, err := s.suppression.RecordBounce(ctx, address, class); err != nil {
			return fmt.Errorf("record bounce: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup record: %w", err)
	}

	if !domain.IsTerminalDelivery(rec.Status) {
		if err := s.records.TransitionStatus(ctx, rec.ID, rec.Status, domain.DeliveryBounced); err != nil &&
			!errors.Is(err, sending.ErrStaleRecord) {
			return fmt.Errorf("mark bounced: %w", err)
		}
	}

	now := s.now()
	s.append(ctx, rec, domain.EventBounce, now, func(ev *domain.EngagementEvent) {
		ev.BounceClass = class
	})
	if _, err := s.suppression.RecordBounce(ctx, address, class); err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}
	logger.Info("bounce handled",
		"campaign_id", campaignID, "email", address, "class", string(class))
	return nil
}

func (s *Service) append(ctx context.Context, rec *domain.DeliveryRecord, kind domain.EventKind, at time.Time, fill func(*domain.EngagementEvent)) {
	ev := &domain.EngagementEvent{
		ID:         uuid.New().String(),
		RecordID:   rec.ID,
		CampaignID: rec.CampaignID,
		Kind:       kind,
		OccurredAt: at,
	}
	fill(ev)
	if err := s.events.Append(ctx, ev); err != nil {
		// The record-level counters already advanced; losing one audit row
		// is logged, not fatal.
		logger.Error("append engagement event failed",
			"record_id", rec.ID, "kind", string(kind), "error", err.Error())
	}
}
