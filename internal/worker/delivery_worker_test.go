package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/render"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/resolver"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/stats"
	"github.com/ignite/campaign-engine/internal/service/suppression"
	"github.com/ignite/campaign-engine/internal/tracking"
	"github.com/ignite/campaign-engine/internal/transport"
)

// fakeDirectory returns a fixed candidate list.
type fakeDirectory struct {
	candidates []resolver.Candidate
}

func (d *fakeDirectory) ResolveCandidates(context.Context, string, domain.TargetRule) ([]resolver.Candidate, error) {
	return d.candidates, nil
}

func (d *fakeDirectory) GetPreference(context.Context, string) (domain.Preference, error) {
	return domain.Preference{Subscribed: true}, nil
}

func (d *fakeDirectory) SetUnsubscribed(context.Context, string) error { return nil }

// fakeRenderer renders a trivial body without template storage.
type fakeRenderer struct {
	fail bool
}

func (r *fakeRenderer) Render(_ context.Context, _, _ string, vars map[string]interface{}) (*render.Message, error) {
	if r.fail {
		return nil, errors.New("template store down")
	}
	return &render.Message{
		Subject: "hello",
		HTML:    `<body><a href="https://example.com/x">x</a></body>`,
	}, nil
}

// scriptedTransport fails each address a scripted number of times, or
// permanently, then succeeds. It records every attempt.
type scriptedTransport struct {
	mu            sync.Mutex
	transientLeft map[string]int  // remaining transient failures per address
	permanent     map[string]bool // permanently rejected addresses
	attempts      map[string]int
	sent          []string
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		transientLeft: make(map[string]int),
		permanent:     make(map[string]bool),
		attempts:      make(map[string]int),
	}
}

var errThrottled = errors.New("throttled")
var errRejected = errors.New("address rejected")

func (tp *scriptedTransport) Send(_ context.Context, msg *transport.Message) (*transport.Result, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.attempts[msg.To]++
	if tp.permanent[msg.To] {
		return nil, errRejected
	}
	if tp.transientLeft[msg.To] > 0 {
		tp.transientLeft[msg.To]--
		return nil, errThrottled
	}
	tp.sent = append(tp.sent, msg.To)
	return &transport.Result{MessageID: "mid-" + msg.To, Status: transport.StatusSent, SentAt: time.Now()}, nil
}

func (tp *scriptedTransport) ClassifyError(err error) transport.FailureClass {
	if errors.Is(err, errRejected) {
		return transport.Permanent
	}
	return transport.Transient
}

// openLimiter never throttles.
type openLimiter struct{}

func (openLimiter) Allow(context.Context, string, int) (bool, time.Duration, error) {
	return true, 0, nil
}

type workerFixture struct {
	worker    *DeliveryWorker
	campaigns *campaign.Service
	records   *memory.DeliveryRecordStore
	transport *scriptedTransport
	sup       *suppression.Service
	dir       *fakeDirectory
	renderer  *fakeRenderer
}

func newWorkerFixture(t *testing.T, addrs ...string) *workerFixture {
	t.Helper()
	var cands []resolver.Candidate
	for _, a := range addrs {
		cands = append(cands, resolver.Candidate{MemberID: a, Address: a, Name: a})
	}

	records := memory.NewDeliveryRecordStore()
	events := memory.NewEngagementEventLog()
	supSvc := suppression.NewService(memory.NewSuppressionRepo(), 3)
	statsSvc := stats.NewService(records)
	campaigns := campaign.NewService(memory.NewCampaignRepo(), statsSvc)
	dir := &fakeDirectory{candidates: cands}
	codec := tracking.NewCodec("test-key", "http://t.example.com")
	tracker := tracking.NewService(records, events, supSvc, dir)
	tp := newScriptedTransport()
	renderer := &fakeRenderer{}

	w := NewDeliveryWorker(
		campaigns, records, resolver.New(dir, supSvc), renderer, tp,
		openLimiter{}, codec, tracker,
		Config{
			BatchSize:   2,
			Concurrency: 2,
			MaxRetries:  3,
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
			SendTimeout: time.Second,
			FromName:    "Acme",
			FromEmail:   "news@acme.example",
		},
	)
	return &workerFixture{
		worker: w, campaigns: campaigns, records: records,
		transport: tp, sup: supSvc, dir: dir, renderer: renderer,
	}
}

func (f *workerFixture) startCampaign(t *testing.T) *domain.Campaign {
	t.Helper()
	ctx := context.Background()
	c, err := f.campaigns.Create(ctx, "t1", campaign.CreateInput{
		Name:       "launch",
		TemplateID: "tpl-1",
		Category:   "newsletter",
		Rule:       domain.TargetRule{All: true},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	c, err = f.campaigns.SendNow(ctx, "t1", c.ID)
	if err != nil {
		t.Fatalf("SendNow: %v", err)
	}
	return c
}

func TestRunHappyPath(t *testing.T) {
	f := newWorkerFixture(t, "a@example.com", "b@example.com", "c@example.com")
	ctx := context.Background()
	c := f.startCampaign(t)

	summary, err := f.worker.Run(ctx, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Sent != 3 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 3 sent", summary)
	}

	for _, a := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		rec, err := f.records.Get(ctx, c.ID, a)
		if err != nil {
			t.Fatalf("record %s: %v", a, err)
		}
		if rec.Status != domain.DeliverySent {
			t.Errorf("%s status = %s, want sent", a, rec.Status)
		}
		if rec.AttemptCount != 1 {
			t.Errorf("%s attempt_count = %d, want 1", a, rec.AttemptCount)
		}
	}

	got, _ := f.campaigns.Get(ctx, "t1", c.ID)
	if got.Status != domain.CampaignCompleted {
		t.Fatalf("campaign status = %s, want completed", got.Status)
	}
	if got.Counters.Resolved != 3 || got.Counters.Sent != 3 {
		t.Fatalf("counters = %+v", got.Counters)
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	f := newWorkerFixture(t, "flaky@example.com")
	ctx := context.Background()
	f.transport.transientLeft["flaky@example.com"] = 2
	c := f.startCampaign(t)

	summary, err := f.worker.Run(ctx, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Sent != 1 {
		t.Fatalf("summary = %+v, want 1 sent after retries", summary)
	}
	rec, _ := f.records.Get(ctx, c.ID, "flaky@example.com")
	if rec.AttemptCount != 3 {
		t.Fatalf("attempt_count = %d, want 3", rec.AttemptCount)
	}
	if rec.Status != domain.DeliverySent {
		t.Fatalf("status = %s, want sent", rec.Status)
	}
}

func TestRunExhaustedRetriesFailSoft(t *testing.T) {
	f := newWorkerFixture(t, "down@example.com")
	ctx := context.Background()
	f.transport.transientLeft["down@example.com"] = 10
	c := f.startCampaign(t)

	summary, err := f.worker.Run(ctx, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", summary)
	}
	rec, _ := f.records.Get(ctx, c.ID, "down@example.com")
	if rec.Status != domain.DeliveryFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if f.transport.attempts["down@example.com"] != 3 {
		t.Fatalf("attempts = %d, want 3", f.transport.attempts["down@example.com"])
	}

	// Exhaustion escalates as a soft bounce; it never suppresses by itself.
	e, err := f.sup.Get(ctx, "down@example.com")
	if err != nil || e.SoftFailures != 1 || e.Suppressed {
		t.Fatalf("suppression entry = %+v, %v", e, err)
	}
}

func TestRunPermanentFailureBounces(t *testing.T) {
	f := newWorkerFixture(t, "dead@example.com", "ok@example.com")
	ctx := context.Background()
	f.transport.permanent["dead@example.com"] = true
	c := f.startCampaign(t)

	summary, err := f.worker.Run(ctx, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Sent != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 sent 1 failed", summary)
	}

	rec, _ := f.records.Get(ctx, c.ID, "dead@example.com")
	if rec.Status != domain.DeliveryBounced {
		t.Fatalf("status = %s, want bounced", rec.Status)
	}
	// No retries for a hard rejection.
	if f.transport.attempts["dead@example.com"] != 1 {
		t.Fatalf("attempts = %d, want 1", f.transport.attempts["dead@example.com"])
	}
	e, err := f.sup.Get(ctx, "dead@example.com")
	if err != nil || e.ConsecutiveHardFailures != 1 {
		t.Fatalf("suppression entry = %+v, %v", e, err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newWorkerFixture(t, "a@example.com", "b@example.com")
	ctx := context.Background()
	c := f.startCampaign(t)

	if _, err := f.worker.Run(ctx, c); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Force the campaign back to sending to simulate a crashed pass being
	// retried after the records already went out.
	c2, err := f.campaigns.Get(ctx, "t1", c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c2.Status = domain.CampaignSending
	summary, err := f.worker.Run(ctx, c2)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.Sent != 0 {
		t.Fatalf("second pass re-sent %d messages", summary.Sent)
	}
	for _, a := range []string{"a@example.com", "b@example.com"} {
		if f.transport.attempts[a] != 1 {
			t.Fatalf("%s attempted %d times across passes, want 1", a, f.transport.attempts[a])
		}
	}
	records, _ := f.records.ListByCampaign(ctx, c.ID)
	if len(records) != 2 {
		t.Fatalf("record count = %d after re-run, want 2", len(records))
	}
}

func TestRunWithNilLimiter(t *testing.T) {
	f := newWorkerFixture(t, "a@example.com")
	ctx := context.Background()

	// The wiring passes a nil Limiter when Redis is not configured; the
	// constructor must substitute an uncapped one instead of panicking.
	codec := tracking.NewCodec("test-key", "http://t.example.com")
	tracker := tracking.NewService(f.records, memory.NewEngagementEventLog(), f.sup, f.dir)
	w := NewDeliveryWorker(
		f.campaigns, f.records, resolver.New(f.dir, f.sup), f.renderer, f.transport,
		nil, codec, tracker, Config{},
	)

	c := f.startCampaign(t)
	summary, err := w.Run(ctx, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Sent != 1 {
		t.Fatalf("summary = %+v, want 1 sent", summary)
	}
}

func TestRunFailsRecordForSuppressedRecipient(t *testing.T) {
	f := newWorkerFixture(t, "a@example.com", "gone@example.com")
	ctx := context.Background()
	c := f.startCampaign(t)

	// A crashed earlier pass left a pending record for gone@, whose address
	// has since been suppressed by hard bounces in other campaigns. The
	// resolver drops it, so the record must be terminated or the campaign
	// could never complete.
	if _, _, err := f.records.CreateIfAbsent(ctx, &domain.DeliveryRecord{
		CampaignID: c.ID,
		Address:    "gone@example.com",
		Token:      "tok-gone",
		Status:     domain.DeliveryPending,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.sup.RecordBounce(ctx, "gone@example.com", domain.BounceHard); err != nil {
			t.Fatalf("RecordBounce #%d: %v", i+1, err)
		}
	}

	summary, err := f.worker.Run(ctx, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Sent != 1 {
		t.Fatalf("summary = %+v, want 1 sent", summary)
	}

	rec, _ := f.records.Get(ctx, c.ID, "gone@example.com")
	if rec.Status != domain.DeliveryFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	got, _ := f.campaigns.Get(ctx, "t1", c.ID)
	if got.Status != domain.CampaignCompleted {
		t.Fatalf("campaign status = %s, want completed", got.Status)
	}
}

func TestRunPausesBetweenBatches(t *testing.T) {
	f := newWorkerFixture(t, "a@example.com", "b@example.com", "c@example.com", "d@example.com")
	ctx := context.Background()
	c := f.startCampaign(t)

	// Pause the campaign as soon as the first message is handed to the
	// transport. Batch size is 2, so the first batch finishes and the second
	// never starts.
	var once sync.Once
	pauseTp := &pausingTransport{inner: f.transport, pause: func() {
		once.Do(func() {
			if _, err := f.campaigns.Pause(ctx, "t1", c.ID); err != nil {
				t.Errorf("Pause: %v", err)
			}
		})
	}}
	f.worker.transport = pauseTp

	summary, err := f.worker.Run(ctx, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Sent != 2 {
		t.Fatalf("sent = %d, want 2 (first batch only)", summary.Sent)
	}

	counts, _ := f.records.CountByStatus(ctx, c.ID)
	if counts[domain.DeliveryPending] != 2 {
		t.Fatalf("pending = %d, want 2", counts[domain.DeliveryPending])
	}
	got, _ := f.campaigns.Get(ctx, "t1", c.ID)
	if got.Status != domain.CampaignPaused {
		t.Fatalf("campaign status = %s, want paused", got.Status)
	}

	// Resume; only the remaining pending records are sent.
	if _, err := f.campaigns.Resume(ctx, "t1", c.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	resumed, _ := f.campaigns.Get(ctx, "t1", c.ID)
	summary, err = f.worker.Run(ctx, resumed)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if summary.Sent != 2 {
		t.Fatalf("resumed sent = %d, want 2", summary.Sent)
	}
	got, _ = f.campaigns.Get(ctx, "t1", c.ID)
	if got.Status != domain.CampaignCompleted {
		t.Fatalf("campaign status = %s, want completed", got.Status)
	}
}

// pausingTransport triggers a callback on the first send, then delegates.
type pausingTransport struct {
	inner *scriptedTransport
	pause func()
}

func (p *pausingTransport) Send(ctx context.Context, msg *transport.Message) (*transport.Result, error) {
	p.pause()
	return p.inner.Send(ctx, msg)
}

func (p *pausingTransport) ClassifyError(err error) transport.FailureClass {
	return p.inner.ClassifyError(err)
}

func TestRunRenderFailureLeavesPending(t *testing.T) {
	f := newWorkerFixture(t, "a@example.com")
	ctx := context.Background()
	f.renderer.fail = true
	c := f.startCampaign(t)

	summary, err := f.worker.Run(ctx, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 1 || summary.Sent != 0 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 1 skipped", summary)
	}
	rec, _ := f.records.Get(ctx, c.ID, "a@example.com")
	if rec.Status != domain.DeliveryPending {
		t.Fatalf("status = %s, want pending for a later pass", rec.Status)
	}
	// The campaign must not falsely complete.
	got, _ := f.campaigns.Get(ctx, "t1", c.ID)
	if got.Status != domain.CampaignSending {
		t.Fatalf("campaign status = %s, want still sending", got.Status)
	}
}

func TestRunInjectsTracking(t *testing.T) {
	f := newWorkerFixture(t, "a@example.com")
	ctx := context.Background()
	c := f.startCampaign(t)

	capture := &capturingTransport{inner: f.transport}
	f.worker.transport = capture

	if _, err := f.worker.Run(ctx, c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msg := capture.last
	if msg == nil {
		t.Fatalf("nothing sent")
	}
	rec, _ := f.records.Get(ctx, c.ID, "a@example.com")
	if !strings.Contains(msg.HTML, "/track/open/"+rec.Token) {
		t.Errorf("pixel missing from body")
	}
	if !strings.Contains(msg.HTML, "/track/click/"+rec.Token) {
		t.Errorf("links not rewritten")
	}
	if msg.Headers["List-Unsubscribe"] == "" || msg.Headers["List-Unsubscribe-Post"] == "" {
		t.Errorf("unsubscribe headers missing: %+v", msg.Headers)
	}
}

type capturingTransport struct {
	inner *scriptedTransport
	last  *transport.Message
}

func (c *capturingTransport) Send(ctx context.Context, msg *transport.Message) (*transport.Result, error) {
	c.last = msg
	return c.inner.Send(ctx, msg)
}

func (c *capturingTransport) ClassifyError(err error) transport.FailureClass {
	return c.inner.ClassifyError(err)
}
