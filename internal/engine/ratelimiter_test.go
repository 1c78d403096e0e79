package engine

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRL(t *testing.T) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRateLimiter(client, testLogger())
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !rl.Allow(ctx, "app1_c1", 5) {
			t.Errorf("attempt %d should be allowed (limit=5)", i+1)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rl.Allow(ctx, "app1_c1", 3)
	}

	if rl.Allow(ctx, "app1_c1", 3) {
		t.Error("attempt over the limit should be blocked")
	}
}

func TestRateLimiter_ZeroLimit_Unlimited(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if !rl.Allow(ctx, "app1_c1", 0) {
			t.Fatalf("attempt %d should be allowed with no configured limit", i+1)
		}
	}
}

func TestRateLimiter_IsolationBetweenConsumers(t *testing.T) {
	rl := setupTestRL(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rl.Allow(ctx, "app1_c1", 2)
	}

	if rl.Allow(ctx, "app1_c1", 2) {
		t.Error("app1_c1 should be blocked")
	}
	if !rl.Allow(ctx, "app1_c2", 2) {
		t.Error("limits are per consumer; app1_c2 should be allowed")
	}
}
