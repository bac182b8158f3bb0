package worker

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/resolver"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/stats"
	"github.com/ignite/campaign-engine/internal/service/suppression"
	"github.com/ignite/campaign-engine/internal/tracking"
)

type schedFixture struct {
	repo      *memory.CampaignRepo
	campaigns *campaign.Service
	records   *memory.DeliveryRecordStore
	transport *scriptedTransport
	worker    *DeliveryWorker
}

func newSchedFixture(t *testing.T, addrs ...string) *schedFixture {
	t.Helper()
	var cands []resolver.Candidate
	for _, a := range addrs {
		cands = append(cands, resolver.Candidate{MemberID: a, Address: a, Name: a})
	}

	repo := memory.NewCampaignRepo()
	records := memory.NewDeliveryRecordStore()
	events := memory.NewEngagementEventLog()
	supSvc := suppression.NewService(memory.NewSuppressionRepo(), 3)
	statsSvc := stats.NewService(records)
	campaigns := campaign.NewService(repo, statsSvc)
	dir := &fakeDirectory{candidates: cands}
	codec := tracking.NewCodec("test-key", "http://t.example.com")
	tracker := tracking.NewService(records, events, supSvc, dir)
	tp := newScriptedTransport()

	w := NewDeliveryWorker(
		campaigns, records, resolver.New(dir, supSvc), &fakeRenderer{}, tp,
		openLimiter{}, codec, tracker,
		Config{
			BatchSize:   10,
			Concurrency: 2,
			MaxRetries:  3,
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
			SendTimeout: time.Second,
			FromName:    "Acme",
			FromEmail:   "news@acme.example",
		},
	)
	return &schedFixture{repo: repo, campaigns: campaigns, records: records, transport: tp, worker: w}
}

func (f *schedFixture) runOneTick(t *testing.T, sched *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()
	// The first tick runs on entry; give its dispatch goroutines a moment.
	time.Sleep(100 * time.Millisecond)
	sched.Stop()
	<-done
}

func TestSchedulerStartsDueCampaign(t *testing.T) {
	f := newSchedFixture(t, "a@example.com", "b@example.com")
	ctx := context.Background()

	c, err := f.campaigns.Create(ctx, "t1", campaign.CreateInput{
		Name: "due", TemplateID: "tpl-1", Rule: domain.TargetRule{All: true},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Within the past-schedule grace window, so it is immediately due.
	if _, err := f.campaigns.Schedule(ctx, "t1", c.ID, time.Now().Add(-10*time.Second)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	sched := NewScheduler(f.repo, f.campaigns, f.worker, time.Hour)
	f.runOneTick(t, sched)

	got, err := f.campaigns.Get(ctx, "t1", c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.CampaignCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if len(f.transport.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(f.transport.sent))
	}
}

func TestSchedulerResumesSendingCampaign(t *testing.T) {
	f := newSchedFixture(t, "a@example.com")
	ctx := context.Background()

	c, err := f.campaigns.Create(ctx, "t1", campaign.CreateInput{
		Name: "stuck", TemplateID: "tpl-1", Rule: domain.TargetRule{All: true},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.campaigns.SendNow(ctx, "t1", c.ID); err != nil {
		t.Fatalf("send now: %v", err)
	}

	// The campaign sits in sending with no records, as after a crash before
	// the first pass finished. The scheduler must pick it up.
	sched := NewScheduler(f.repo, f.campaigns, f.worker, time.Hour)
	f.runOneTick(t, sched)

	got, err := f.campaigns.Get(ctx, "t1", c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.CampaignCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

type heldLock struct{}

func (heldLock) Acquire(_ context.Context) (bool, error) { return false, nil }
func (heldLock) Release(_ context.Context) error         { return nil }

func TestSchedulerSkipsLockedCampaign(t *testing.T) {
	f := newSchedFixture(t, "a@example.com")
	ctx := context.Background()

	c, err := f.campaigns.Create(ctx, "t1", campaign.CreateInput{
		Name: "held", TemplateID: "tpl-1", Rule: domain.TargetRule{All: true},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.campaigns.SendNow(ctx, "t1", c.ID); err != nil {
		t.Fatalf("send now: %v", err)
	}

	sched := NewScheduler(f.repo, f.campaigns, f.worker, time.Hour)
	sched.SetLockSource(func(string) distlock.Lock { return heldLock{} })
	f.runOneTick(t, sched)

	// Another instance holds the lock: nothing sent, campaign untouched.
	if len(f.transport.sent) != 0 {
		t.Fatalf("sent %d messages, want 0", len(f.transport.sent))
	}
	got, _ := f.campaigns.Get(ctx, "t1", c.ID)
	if got.Status != domain.CampaignSending {
		t.Fatalf("status = %s, want sending", got.Status)
	}
}
