// Package worker drives campaign delivery: it resolves recipients, creates
// delivery records idempotently, and drains them in rate-limited batches
// through the external transport with bounded retries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/render"
	"github.com/ignite/campaign-engine/internal/resolver"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/sending"
	"github.com/ignite/campaign-engine/internal/tracking"
	"github.com/ignite/campaign-engine/internal/transport"
)

// Config holds delivery tunables.
type Config struct {
	BatchSize   int           // recipients per batch
	Concurrency int           // parallel sends within a batch
	MaxRetries  int           // attempts per recipient before failing
	BackoffBase time.Duration // first retry delay, doubles per attempt
	BackoffCap  time.Duration // backoff ceiling
	SendTimeout time.Duration // per-attempt transport timeout

	FromName  string
	FromEmail string
	ReplyTo   string
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
}

// Summary reports one worker pass over a campaign.
type Summary struct {
	Resolved int
	Sent     int32 // accepted by the transport this pass
	Failed   int32 // terminal failures this pass (bounced or failed)
	Skipped  int32 // left pending for a later pass (collaborator trouble)
}

// Bouncer is the slice of the tracking service the worker needs for
// permanent failures and retry exhaustion.
type Bouncer interface {
	Bounce(ctx context.Context, campaignID, address string, class domain.BounceClass) error
}

// DeliveryWorker runs campaigns that are in sending status.
type DeliveryWorker struct {
	campaigns *campaign.Service
	records   sending.DeliveryRecordStore
	resolver  *resolver.Resolver
	renderer  render.Renderer
	transport transport.Transport
	limiter   Limiter
	codec     *tracking.Codec
	bouncer   Bouncer
	cfg       Config
}

func NewDeliveryWorker(
	campaigns *campaign.Service,
	records sending.DeliveryRecordStore,
	res *resolver.Resolver,
	renderer render.Renderer,
	tp transport.Transport,
	limiter Limiter,
	codec *tracking.Codec,
	bouncer Bouncer,
	cfg Config,
) *DeliveryWorker {
	cfg.defaults()
	if limiter == nil {
		// Redis is optional in the wiring; a nil limiter means uncapped sends.
		limiter = Unlimited()
	}
	return &DeliveryWorker{
		campaigns: campaigns,
		records:   records,
		resolver:  res,
		renderer:  renderer,
		transport: tp,
		limiter:   limiter,
		codec:     codec,
		bouncer:   bouncer,
		cfg:       cfg,
	}
}

// task pairs a pending record with its resolved candidate for rendering.
type task struct {
	rec  *domain.DeliveryRecord
	cand resolver.Candidate
}

// Run performs one delivery pass over a sending campaign. It is idempotent:
// re-running after a crash never duplicates records or re-sends to a
// recipient whose record already left pending. Pause is cooperative; the
// campaign status is re-checked before each batch and in-flight sends of the
// current batch always finish.
func (w *DeliveryWorker) Run(ctx context.Context, c *domain.Campaign) (*Summary, error) {
	if c.Status != domain.CampaignSending {
		return nil, fmt.Errorf("campaign %s is %s, not sending", c.ID, c.Status)
	}

	recipients, err := w.resolver.Resolve(ctx, c)
	if err != nil {
		// Resolution failed atomically; the campaign stays in sending and
		// the next scheduler pass retries.
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	summary := &Summary{Resolved: len(recipients)}
	if err := w.campaigns.SetResolvedCount(ctx, c.TenantID, c.ID, len(recipients)); err != nil {
		logger.Warn("store resolved count failed", "campaign_id", c.ID, "error", err.Error())
	}

	// Create-or-reuse a record per recipient; only still-pending records are
	// sent this pass.
	var tasks []task
	for _, cand := range recipients {
		rec, _, err := w.records.CreateIfAbsent(ctx, &domain.DeliveryRecord{
			CampaignID: c.ID,
			Address:    cand.Address,
			Token:      w.codec.Token(c.ID, cand.Address),
			Status:     domain.DeliveryPending,
		})
		if err != nil {
			return summary, fmt.Errorf("create record for %s: %w", cand.Address, err)
		}
		if rec.Status == domain.DeliveryPending {
			tasks = append(tasks, task{rec: rec, cand: cand})
		}
	}
	w.failDropped(ctx, c, recipients)

	for start := 0; start < len(tasks); start += w.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		// Cooperative pause: check status between batches, never mid-batch.
		cur, err := w.campaigns.Get(ctx, c.TenantID, c.ID)
		if err != nil {
			return summary, fmt.Errorf("re-read campaign: %w", err)
		}
		if cur.Status != domain.CampaignSending {
			logger.Info("delivery pass stopped", "campaign_id", c.ID, "status", string(cur.Status))
			return summary, nil
		}

		end := start + w.cfg.BatchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		w.runBatch(ctx, c, tasks[start:end], summary)

		if err := w.campaigns.SyncCounters(ctx, c.TenantID, c.ID); err != nil {
			logger.Warn("sync counters failed", "campaign_id", c.ID, "error", err.Error())
		}
	}

	w.maybeComplete(ctx, c)
	logger.Info("delivery pass finished",
		"campaign_id", c.ID,
		"resolved", summary.Resolved,
		"sent", atomic.LoadInt32(&summary.Sent),
		"failed", atomic.LoadInt32(&summary.Failed),
		"skipped", atomic.LoadInt32(&summary.Skipped))
	return summary, nil
}

// runBatch dispatches one batch through the bounded sender pool.
func (w *DeliveryWorker) runBatch(ctx context.Context, c *domain.Campaign, batch []task, summary *Summary) {
	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, t := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(t task) {
			defer wg.Done()
			defer func() { <-sem }()
			w.sendOne(ctx, c, t, summary)
		}(t)
	}
	wg.Wait()
}

// sendOne runs the retry loop for a single recipient.
func (w *DeliveryWorker) sendOne(ctx context.Context, c *domain.Campaign, t task, summary *Summary) {
	msg, err := w.buildMessage(ctx, c, t)
	if err != nil {
		// Collaborator trouble, not a recipient problem. The record stays
		// pending for the next pass.
		logger.Warn("render failed, skipping recipient",
			"campaign_id", c.ID, "email", t.cand.Address, "error", err.Error())
		atomic.AddInt32(&summary.Skipped, 1)
		return
	}

	attempts := t.rec.AttemptCount
	for {
		if err := w.waitForToken(ctx, c.ID); err != nil {
			atomic.AddInt32(&summary.Skipped, 1)
			return
		}

		attempts++
		now := time.Now()
		if err := w.records.RecordAttempt(ctx, t.rec.ID, attempts, now); err != nil {
			logger.Warn("record attempt failed", "record_id", t.rec.ID, "error", err.Error())
		}

		sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
		result, err := w.transport.Send(sendCtx, msg)
		cancel()

		if err == nil {
			status := domain.DeliverySent
			if result.Status == transport.StatusDelivered {
				status = domain.DeliveryDelivered
			}
			if err := w.records.TransitionStatus(ctx, t.rec.ID, domain.DeliveryPending, status); err != nil &&
				!errors.Is(err, sending.ErrStaleRecord) {
				logger.Error("mark sent failed", "record_id", t.rec.ID, "error", err.Error())
			}
			atomic.AddInt32(&summary.Sent, 1)
			return
		}

		if transport.Classify(w.transport, err) == transport.Permanent {
			// Hard rejection: terminal now, escalate through bounce handling.
			if berr := w.bouncer.Bounce(ctx, c.ID, t.cand.Address, domain.BounceHard); berr != nil {
				logger.Error("bounce handling failed", "record_id", t.rec.ID, "error", berr.Error())
			}
			atomic.AddInt32(&summary.Failed, 1)
			return
		}

		if attempts >= w.cfg.MaxRetries {
			w.exhaust(ctx, c.ID, t, summary, err)
			return
		}

		if !w.sleep(ctx, w.backoff(attempts)) {
			atomic.AddInt32(&summary.Skipped, 1)
			return
		}
	}
}

// exhaust marks a recipient failed after the transient retry budget runs out
// and routes it through bounce handling as a soft bounce.
func (w *DeliveryWorker) exhaust(ctx context.Context, campaignID string, t task, summary *Summary, cause error) {
	logger.Warn("retries exhausted",
		"campaign_id", campaignID, "email", t.cand.Address, "error", cause.Error())
	if err := w.records.TransitionStatus(ctx, t.rec.ID, domain.DeliveryPending, domain.DeliveryFailed); err != nil &&
		!errors.Is(err, sending.ErrStaleRecord) {
		logger.Error("mark failed failed", "record_id", t.rec.ID, "error", err.Error())
	}
	if err := w.bouncer.Bounce(ctx, campaignID, t.cand.Address, domain.BounceSoft); err != nil {
		logger.Error("bounce handling failed", "record_id", t.rec.ID, "error", err.Error())
	}
	atomic.AddInt32(&summary.Failed, 1)
}

func (w *DeliveryWorker) buildMessage(ctx context.Context, c *domain.Campaign, t task) (*transport.Message, error) {
	vars := map[string]interface{}{
		"email":     t.cand.Address,
		"name":      t.cand.Name,
		"member_id": t.cand.MemberID,
	}
	for k, v := range t.cand.Vars {
		vars[k] = v
	}

	msg, err := w.renderer.Render(ctx, c.TenantID, c.TemplateID, vars)
	if err != nil {
		return nil, err
	}

	html := w.codec.InjectTracking(msg.HTML, t.rec.Token)
	headers := msg.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	for k, v := range w.codec.UnsubscribeHeaders(t.rec.Token) {
		headers[k] = v
	}

	return &transport.Message{
		To:         t.cand.Address,
		FromName:   w.cfg.FromName,
		FromEmail:  w.cfg.FromEmail,
		ReplyTo:    w.cfg.ReplyTo,
		Subject:    msg.Subject,
		HTML:       html,
		Text:       msg.Text,
		Headers:    headers,
		CampaignID: c.ID,
		RecordID:   t.rec.ID,
	}, nil
}

// waitForToken blocks until the campaign's token bucket grants a send.
func (w *DeliveryWorker) waitForToken(ctx context.Context, campaignID string) error {
	for {
		allowed, wait, err := w.limiter.Allow(ctx, campaignID, 1)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if !w.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

func (w *DeliveryWorker) backoff(attempt int) time.Duration {
	d := w.cfg.BackoffBase << (attempt - 1)
	if d > w.cfg.BackoffCap || d <= 0 {
		d = w.cfg.BackoffCap
	}
	return d
}

func (w *DeliveryWorker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// failDropped terminates pending records whose address no longer resolves,
// typically because another campaign's bounces suppressed it between passes.
// Left pending they would block completion forever.
func (w *DeliveryWorker) failDropped(ctx context.Context, c *domain.Campaign, recipients []resolver.Candidate) {
	pending, err := w.records.ListByCampaign(ctx, c.ID, domain.DeliveryPending)
	if err != nil {
		logger.Warn("list pending records failed", "campaign_id", c.ID, "error", err.Error())
		return
	}
	current := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		current[r.Address] = struct{}{}
	}
	for _, rec := range pending {
		if _, ok := current[rec.Address]; ok {
			continue
		}
		logger.Info("recipient dropped from resolution, failing record",
			"campaign_id", c.ID, "record_id", rec.ID)
		if err := w.records.TransitionStatus(ctx, rec.ID, domain.DeliveryPending, domain.DeliveryFailed); err != nil &&
			!errors.Is(err, sending.ErrStaleRecord) {
			logger.Error("mark dropped record failed", "record_id", rec.ID, "error", err.Error())
		}
	}
}

// maybeComplete transitions the campaign to completed once nothing is left
// pending. A lost race with pause or cancel is fine; the transition just
// doesn't happen.
func (w *DeliveryWorker) maybeComplete(ctx context.Context, c *domain.Campaign) {
	counts, err := w.records.CountByStatus(ctx, c.ID)
	if err != nil {
		logger.Warn("count records failed", "campaign_id", c.ID, "error", err.Error())
		return
	}
	if counts[domain.DeliveryPending] > 0 {
		return
	}
	if err := w.campaigns.CompleteSending(ctx, c.TenantID, c.ID); err != nil &&
		!errors.Is(err, campaign.ErrInvalidTransition) {
		logger.Warn("complete campaign failed", "campaign_id", c.ID, "error", err.Error())
	}
}
