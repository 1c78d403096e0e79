package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestCB(t *testing.T) (*CircuitBreaker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCircuitBreaker(client, testLogger()), mr
}

// openCircuitAndExpireCooldown opens the circuit for a consumer, then sets
// last_failed_at past the 30s cooldown.
func openCircuitAndExpireCooldown(t *testing.T, cb *CircuitBreaker, mr *miniredis.Miniredis, consumerID string) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.RecordFailure(ctx, consumerID)
	}

	pastTime := time.Now().Unix() - 31
	mr.HSet(cbKey(consumerID), "last_failed_at", fmt.Sprintf("%d", pastTime))
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb, _ := setupTestCB(t)

	state, allowed := cb.AllowRequest(context.Background(), "app1_c1")
	if state != StateClosed {
		t.Errorf("expected state %q, got %q", StateClosed, state)
	}
	if !allowed {
		t.Error("unknown consumer should be allowed (circuit closed)")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.RecordFailure(ctx, "app1_c1")
	}

	state, allowed := cb.AllowRequest(ctx, "app1_c1")
	if state != StateOpen {
		t.Errorf("expected state %q, got %q", StateOpen, state)
	}
	if allowed {
		t.Error("deliveries must be blocked when the circuit is open")
	}
}

func TestCircuitBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		cb.RecordFailure(ctx, "app1_c1")
	}

	state, allowed := cb.AllowRequest(ctx, "app1_c1")
	if state != StateClosed || !allowed {
		t.Errorf("4 failures is below the threshold, got state %q allowed=%v", state, allowed)
	}
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		cb.RecordFailure(ctx, "app1_c1")
	}
	cb.RecordSuccess(ctx, "app1_c1")

	state := cb.GetState(ctx, "app1_c1")
	if state.State != StateClosed || state.Failures != 0 {
		t.Errorf("expected closed/0 after success, got %q/%d", state.State, state.Failures)
	}
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb, mr := setupTestCB(t)
	ctx := context.Background()

	openCircuitAndExpireCooldown(t, cb, mr, "app1_c1")

	state, allowed := cb.AllowRequest(ctx, "app1_c1")
	if state != StateHalfOpen {
		t.Errorf("expected state %q, got %q", StateHalfOpen, state)
	}
	if !allowed {
		t.Error("half-open must allow one probe delivery")
	}
}

func TestCircuitBreaker_HalfOpenSuccess_ClosesCircuit(t *testing.T) {
	cb, mr := setupTestCB(t)
	ctx := context.Background()

	openCircuitAndExpireCooldown(t, cb, mr, "app1_c1")
	cb.AllowRequest(ctx, "app1_c1") // transition to half-open
	cb.RecordSuccess(ctx, "app1_c1")

	state := cb.GetState(ctx, "app1_c1")
	if state.State != StateClosed {
		t.Errorf("expected %q after half-open success, got %q", StateClosed, state.State)
	}
}

func TestCircuitBreaker_HalfOpenFailure_ReopensCircuit(t *testing.T) {
	cb, mr := setupTestCB(t)
	ctx := context.Background()

	openCircuitAndExpireCooldown(t, cb, mr, "app1_c1")
	cb.AllowRequest(ctx, "app1_c1")
	cb.RecordFailure(ctx, "app1_c1")

	state, allowed := cb.AllowRequest(ctx, "app1_c1")
	if state != StateOpen || allowed {
		t.Errorf("expected blocked open circuit after failed probe, got %q allowed=%v", state, allowed)
	}
}

func TestCircuitBreaker_IsolationBetweenConsumers(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.RecordFailure(ctx, "app1_c1")
	}

	state, allowed := cb.AllowRequest(ctx, "app1_c2")
	if state != StateClosed || !allowed {
		t.Error("circuits are per consumer; a bad consumer must not block its neighbors")
	}
}
