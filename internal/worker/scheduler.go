package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// Scheduler polls for campaigns that need a delivery pass: scheduled
// campaigns whose send time has elapsed, and sending campaigns with work
// left (a resumed pause, or a pass cut short by a crash or collaborator
// outage).
type Scheduler struct {
	repo      campaign.Repository
	campaigns *campaign.Service
	worker    *DeliveryWorker
	interval  time.Duration
	locks     LockSource

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// LockSource hands out a cross-host lock per campaign. With multiple worker
// instances the in-process inFlight map is not enough; the lock keeps two
// instances from batching the same campaign concurrently.
type LockSource func(campaignID string) distlock.Lock

func NewScheduler(repo campaign.Repository, campaigns *campaign.Service, worker *DeliveryWorker, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{
		repo:      repo,
		campaigns: campaigns,
		worker:    worker,
		interval:  interval,
		inFlight:  make(map[string]bool),
		stopCh:    make(chan struct{}),
	}
}

// SetLockSource enables cross-host dispatch locking.
func (s *Scheduler) SetLockSource(locks LockSource) { s.locks = locks }

// Start runs the polling loop until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	logger.Info("scheduler started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop halts the loop and waits for in-flight delivery passes to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	due, err := s.repo.DueScheduled(ctx, now, 50)
	if err != nil {
		logger.Error("list due campaigns failed", "error", err.Error())
	}
	for i := range due {
		c := due[i]
		started, err := s.campaigns.SendNow(ctx, c.TenantID, c.ID)
		if err != nil {
			// Another scheduler instance likely won the transition.
			logger.Debug("start scheduled campaign skipped", "campaign_id", c.ID, "error", err.Error())
			continue
		}
		s.dispatch(ctx, started)
	}

	active, err := s.repo.Sending(ctx, 50)
	if err != nil {
		logger.Error("list sending campaigns failed", "error", err.Error())
		return
	}
	for i := range active {
		c := active[i]
		s.dispatch(ctx, &c)
	}
}

// dispatch runs a delivery pass in the background, at most one per campaign
// at a time.
func (s *Scheduler) dispatch(ctx context.Context, c *domain.Campaign) {
	s.mu.Lock()
	if s.inFlight[c.ID] {
		s.mu.Unlock()
		return
	}
	s.inFlight[c.ID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, c.ID)
			s.mu.Unlock()
		}()

		if s.locks != nil {
			lock := s.locks(c.ID)
			ok, err := lock.Acquire(ctx)
			if err != nil {
				logger.Warn("dispatch lock failed", "campaign_id", c.ID, "error", err.Error())
				return
			}
			if !ok {
				// Another worker instance holds this campaign.
				return
			}
			defer lock.Release(context.WithoutCancel(ctx))
		}

		if _, err := s.worker.Run(ctx, c); err != nil {
			// The campaign stays in sending; the next tick retries.
			logger.Error("delivery pass failed", "campaign_id", c.ID, "error", err.Error())
		}
	}()
}
