package tracking

import (
	"context"
	"testing"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/service/suppression"
)

type fakePrefs struct {
	unsubscribed map[string]bool
}

func (p *fakePrefs) SetUnsubscribed(_ context.Context, address string) error {
	if p.unsubscribed == nil {
		p.unsubscribed = make(map[string]bool)
	}
	p.unsubscribed[address] = true
	return nil
}

type fixture struct {
	svc     *Service
	records *memory.DeliveryRecordStore
	events  *memory.EngagementEventLog
	sup     *suppression.Service
	prefs   *fakePrefs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		records: memory.NewDeliveryRecordStore(),
		events:  memory.NewEngagementEventLog(),
		sup:     suppression.NewService(memory.NewSuppressionRepo(), 3),
		prefs:   &fakePrefs{},
	}
	f.svc = NewService(f.records, f.events, f.sup, f.prefs)
	return f
}

func (f *fixture) seed(t *testing.T, campaignID, address string, status domain.DeliveryStatus) *domain.DeliveryRecord {
	t.Helper()
	ctx := context.Background()
	rec, _, err := f.records.CreateIfAbsent(ctx, &domain.DeliveryRecord{
		CampaignID: campaignID,
		Address:    address,
		Token:      campaignID + "-" + address,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if status != domain.DeliveryPending {
		if err := f.records.TransitionStatus(ctx, rec.ID, domain.DeliveryPending, status); err != nil {
			t.Fatalf("seed transition: %v", err)
		}
	}
	return rec
}

var human = RequestMeta{IP: "203.0.113.9", UserAgent: "Mozilla/5.0"}

func TestOpenTracking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t, "c1", "a@example.com", domain.DeliverySent)

	if err := f.svc.Open(ctx, rec.Token, human); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.svc.Open(ctx, rec.Token, human); err != nil {
		t.Fatalf("Open again: %v", err)
	}

	got, _ := f.records.Get(ctx, "c1", "a@example.com")
	if got.OpenCount != 2 {
		t.Fatalf("open_count = %d, want 2", got.OpenCount)
	}
	if got.FirstOpenedAt == nil || got.LastOpenedAt == nil {
		t.Fatalf("open timestamps not set")
	}
	evs, _ := f.events.ListByRecord(ctx, rec.ID)
	if len(evs) != 2 || evs[0].Kind != domain.EventOpen {
		t.Fatalf("events = %+v, want 2 open events", evs)
	}
}

func TestOpenIgnoredBeforeSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t, "c1", "a@example.com", domain.DeliveryPending)

	if err := f.svc.Open(ctx, rec.Token, human); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := f.records.Get(ctx, "c1", "a@example.com")
	if got.OpenCount != 0 {
		t.Fatalf("engagement recorded on pending record")
	}
	evs, _ := f.events.ListByRecord(ctx, rec.ID)
	if len(evs) != 0 {
		t.Fatalf("event appended for pending record")
	}
}

func TestOpenFiltersBots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t, "c1", "a@example.com", domain.DeliverySent)

	bot := RequestMeta{IP: "203.0.113.9", UserAgent: "Googlebot/2.1"}
	if err := f.svc.Open(ctx, rec.Token, bot); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := f.records.Get(ctx, "c1", "a@example.com")
	if got.OpenCount != 0 {
		t.Fatalf("bot open was counted")
	}
}

func TestClickTracking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t, "c1", "a@example.com", domain.DeliveryDelivered)

	f.svc.Click(ctx, rec.Token, "https://example.com/a", 0, human)
	f.svc.Click(ctx, rec.Token, "https://example.com/a", 0, human)
	f.svc.Click(ctx, rec.Token, "https://example.com/b", 1, human)

	got, _ := f.records.Get(ctx, "c1", "a@example.com")
	if got.ClickCount != 3 {
		t.Fatalf("click_count = %d, want 3", got.ClickCount)
	}
	if len(got.ClickedTargets) != 2 {
		t.Fatalf("clicked_targets = %v, want 2 distinct", got.ClickedTargets)
	}
	evs, _ := f.events.ListByRecord(ctx, rec.ID)
	if len(evs) != 3 {
		t.Fatalf("events = %d, want 3", len(evs))
	}
	if evs[2].LinkURL != "https://example.com/b" || evs[2].LinkPos != 1 {
		t.Fatalf("click payload = %+v", evs[2])
	}
}

func TestOpenAndClickOrderIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Click arriving before the open: both are bookkept on the same record.
	first := f.seed(t, "c1", "a@example.com", domain.DeliveryDelivered)
	if err := f.svc.Click(ctx, first.Token, "https://example.com/a", 0, human); err != nil {
		t.Fatalf("Click: %v", err)
	}
	if err := f.svc.Open(ctx, first.Token, human); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// And the reverse order on a second record.
	second := f.seed(t, "c2", "a@example.com", domain.DeliveryDelivered)
	if err := f.svc.Open(ctx, second.Token, human); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.svc.Click(ctx, second.Token, "https://example.com/a", 0, human); err != nil {
		t.Fatalf("Click: %v", err)
	}

	for _, cid := range []string{"c1", "c2"} {
		got, _ := f.records.Get(ctx, cid, "a@example.com")
		if got.OpenCount != 1 || got.ClickCount != 1 {
			t.Fatalf("%s open/click = %d/%d, want 1/1", cid, got.OpenCount, got.ClickCount)
		}
		if got.FirstOpenedAt == nil || got.LastOpenedAt == nil {
			t.Fatalf("%s open timestamps not set", cid)
		}
		if len(got.ClickedTargets) != 1 {
			t.Fatalf("%s clicked_targets = %v, want 1", cid, got.ClickedTargets)
		}
		evs, _ := f.events.ListByRecord(ctx, got.ID)
		if len(evs) != 2 {
			t.Fatalf("%s events = %d, want 2", cid, len(evs))
		}
	}
}

func TestUnknownToken(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Open(context.Background(), "no-such-token", human); err != ErrUnknownToken {
		t.Fatalf("err = %v, want ErrUnknownToken", err)
	}
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(t, "c1", "a@example.com", domain.DeliverySent)

	if err := f.svc.Unsubscribe(ctx, rec.Token, human); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if !f.prefs.unsubscribed["a@example.com"] {
		t.Fatalf("preference not written back")
	}
	got, _ := f.records.Get(ctx, "c1", "a@example.com")
	if got.UnsubscribedAt == nil {
		t.Fatalf("unsubscribed_at not set")
	}

	// Unsubscribe never suppresses; only bounces do.
	blocked, _ := f.sup.IsSuppressed(ctx, "a@example.com")
	if blocked {
		t.Fatalf("unsubscribe suppressed the address")
	}
}

func TestBounceMarksRecordAndEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "c1", "a@example.com", domain.DeliverySent)

	if err := f.svc.Bounce(ctx, "c1", "a@example.com", domain.BounceHard); err != nil {
		t.Fatalf("Bounce: %v", err)
	}
	got, _ := f.records.Get(ctx, "c1", "a@example.com")
	if got.Status != domain.DeliveryBounced {
		t.Fatalf("status = %s, want bounced", got.Status)
	}
	evs, _ := f.events.ListByRecord(ctx, got.ID)
	if len(evs) != 1 || evs[0].Kind != domain.EventBounce || evs[0].BounceClass != domain.BounceHard {
		t.Fatalf("bounce event = %+v", evs)
	}
	e, err := f.sup.Get(ctx, "a@example.com")
	if err != nil || e.ConsecutiveHardFailures != 1 {
		t.Fatalf("suppression entry = %+v, %v", e, err)
	}
}

func TestBounceEscalatesToSuppressionAcrossCampaigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, cid := range []string{"c1", "c2", "c3"} {
		f.seed(t, cid, "dead@example.com", domain.DeliverySent)
		if err := f.svc.Bounce(ctx, cid, "dead@example.com", domain.BounceHard); err != nil {
			t.Fatalf("Bounce #%d: %v", i+1, err)
		}
	}
	blocked, _ := f.sup.IsSuppressed(ctx, "dead@example.com")
	if !blocked {
		t.Fatalf("3 hard bounces did not suppress")
	}
}

func TestBounceForUnknownRecordStillCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.Bounce(ctx, "c1", "stranger@example.com", domain.BounceSoft); err != nil {
		t.Fatalf("Bounce: %v", err)
	}
	e, err := f.sup.Get(ctx, "stranger@example.com")
	if err != nil || e.SoftFailures != 1 {
		t.Fatalf("suppression entry = %+v, %v", e, err)
	}
}
