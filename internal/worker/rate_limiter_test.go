package worker

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, sendsPerSec int) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, sendsPerSec)
}

func TestLimiterAllowsUpToCeiling(t *testing.T) {
	rl := newTestLimiter(t, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, _, err := rl.Allow(ctx, "c1", 1)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("send #%d denied under the ceiling", i+1)
		}
	}

	allowed, wait, err := rl.Allow(ctx, "c1", 1)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatalf("send #6 allowed over a ceiling of 5")
	}
	if wait <= 0 {
		t.Fatalf("denied without a wait hint")
	}
}

func TestLimiterScopedPerCampaign(t *testing.T) {
	rl := newTestLimiter(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, _ := rl.Allow(ctx, "c1", 1); !ok {
			t.Fatalf("c1 send #%d denied", i+1)
		}
	}
	if ok, _, _ := rl.Allow(ctx, "c1", 1); ok {
		t.Fatalf("c1 not limited")
	}

	// c1 exhausting its bucket must not starve c2.
	if ok, _, _ := rl.Allow(ctx, "c2", 1); !ok {
		t.Fatalf("c2 denied because of c1's usage")
	}
}

func TestLimiterBatchClaim(t *testing.T) {
	rl := newTestLimiter(t, 10)
	ctx := context.Background()

	if ok, _, _ := rl.Allow(ctx, "c1", 8); !ok {
		t.Fatalf("batch of 8 denied under ceiling 10")
	}
	if ok, _, _ := rl.Allow(ctx, "c1", 3); ok {
		t.Fatalf("batch of 3 allowed with only 2 tokens left")
	}
	if ok, _, _ := rl.Allow(ctx, "c1", 2); !ok {
		t.Fatalf("batch of 2 denied with 2 tokens left")
	}
}

func TestLimiterFailsOpenWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rl := NewRateLimiter(client, 1)
	mr.Close()

	allowed, _, err := rl.Allow(context.Background(), "c1", 1)
	if err != nil {
		t.Fatalf("Allow returned error instead of failing open: %v", err)
	}
	if !allowed {
		t.Fatalf("limiter blocked sends while redis is down")
	}
}
