package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/moutainhigh/messagebus/internal/domain"
	"github.com/redis/go-redis/v9"
)

type fakeConfigProvider struct {
	apps map[string]*domain.AppConfig
}

func (f *fakeConfigProvider) GetAllAppConfigs(ctx context.Context) ([]domain.AppConfig, error) {
	var out []domain.AppConfig
	for _, app := range f.apps {
		out = append(out, *app)
	}
	return out, nil
}

func (f *fakeConfigProvider) GetAppConfig(ctx context.Context, appID string) (*domain.AppConfig, error) {
	return f.apps[appID], nil
}

func schedulerFixture(t *testing.T) (*RetryScheduler, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	configs := &fakeConfigProvider{apps: map[string]*domain.AppConfig{
		"app1": {
			AppID:         "app1",
			DispatchGroup: "group-a",
			MessageConfigs: []domain.MessageConfig{{
				Code:   "order.created",
				Enable: true,
				Callbacks: []domain.CallbackConfig{
					{Key: "app1_c1", URL: "http://consumer.local/cb", Enable: true},
				},
			}},
		},
	}}

	return NewRetryScheduler(redisClient, configs, testLogger()), redisClient
}

// waitForQueue polls until the retry queue holds want members or the timeout
// elapses. Scheduling is fire-and-forget, so tests have to wait it out.
func waitForQueue(t *testing.T, redisClient *redis.Client, want int64) []redis.Z {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := redisClient.ZCard(context.Background(), RetryQueueKey).Result()
		if err != nil {
			t.Fatalf("zcard failed: %v", err)
		}
		if n == want {
			members, err := redisClient.ZRangeWithScores(context.Background(), RetryQueueKey, 0, -1).Result()
			if err != nil {
				t.Fatalf("zrange failed: %v", err)
			}
			return members
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("queue never reached %d members", want)
	return nil
}

func TestSecondCompensate_SchedulesDelayedJob(t *testing.T) {
	scheduler, redisClient := schedulerFixture(t)

	msg := deliveryMessage()
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	delay := 3 * time.Second
	before := time.Now()

	scheduler.SecondCompensate(ctx, msg, "app1_c1", delay)

	members := waitForQueue(t, redisClient, 1)

	var job RetryJob
	if err := json.Unmarshal([]byte(members[0].Member.(string)), &job); err != nil {
		t.Fatalf("failed to unmarshal job: %v", err)
	}
	if job.Message.UUID != msg.UUID {
		t.Errorf("job message uuid = %q, want %q", job.Message.UUID, msg.UUID)
	}
	if job.Callback.Key != "app1_c1" || job.Callback.URL != "http://consumer.local/cb" {
		t.Errorf("job carries wrong callback: %+v", job.Callback)
	}
	if job.RequestID != "req-42" {
		t.Errorf("job request id = %q, want req-42", job.RequestID)
	}

	due := time.UnixMicro(int64(members[0].Score))
	wantDue := before.Add(delay)
	if due.Before(wantDue.Add(-time.Second)) || due.After(wantDue.Add(2*time.Second)) {
		t.Errorf("due time %v not near %v", due, wantDue)
	}
}

func TestSecondCompensate_UnknownConsumerDropped(t *testing.T) {
	scheduler, redisClient := schedulerFixture(t)

	scheduler.SecondCompensate(context.Background(), deliveryMessage(), "app1_ghost", time.Second)

	time.Sleep(200 * time.Millisecond)
	n, err := redisClient.ZCard(context.Background(), RetryQueueKey).Result()
	if err != nil {
		t.Fatalf("zcard failed: %v", err)
	}
	if n != 0 {
		t.Errorf("unresolvable consumer must not be queued, got %d members", n)
	}
}

func TestSecondCompensate_UnknownAppDropped(t *testing.T) {
	scheduler, redisClient := schedulerFixture(t)

	msg := deliveryMessage()
	msg.AppID = "nobody"
	scheduler.SecondCompensate(context.Background(), msg, "app1_c1", time.Second)

	time.Sleep(200 * time.Millisecond)
	n, _ := redisClient.ZCard(context.Background(), RetryQueueKey).Result()
	if n != 0 {
		t.Errorf("unknown app must not be queued, got %d members", n)
	}
}

type recordingDeliverer struct {
	mu   sync.Mutex
	jobs []RetryJob
}

func (r *recordingDeliverer) DeliverRetry(ctx context.Context, job RetryJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recordingDeliverer) delivered() []RetryJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RetryJob(nil), r.jobs...)
}

func TestDispatcher_ClaimsDueJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliverer := &recordingDeliverer{}
	pool := NewPool(2, deliverer, testLogger())
	pool.Start(ctx)
	defer pool.Stop()

	dueJob := RetryJob{Message: *deliveryMessage(), Callback: domain.CallbackConfig{Key: "app1_c1"}}
	duePayload, _ := json.Marshal(dueJob)
	futureJob := RetryJob{Message: *deliveryMessage(), Callback: domain.CallbackConfig{Key: "app1_c2"}}
	futurePayload, _ := json.Marshal(futureJob)

	redisClient.ZAdd(ctx, RetryQueueKey,
		redis.Z{Score: float64(time.Now().Add(-time.Second).UnixMicro()), Member: string(duePayload)},
		redis.Z{Score: float64(time.Now().Add(time.Hour).UnixMicro()), Member: string(futurePayload)},
	)

	dispatcher := NewDispatcher(redisClient, pool, testLogger())
	go dispatcher.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(deliverer.delivered()) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	got := deliverer.delivered()
	if len(got) != 1 {
		t.Fatalf("expected exactly the due job delivered, got %d", len(got))
	}
	if got[0].Callback.Key != "app1_c1" {
		t.Errorf("wrong job delivered: %q", got[0].Callback.Key)
	}

	// The due job must be gone from the queue; the future one stays.
	n, _ := redisClient.ZCard(ctx, RetryQueueKey).Result()
	if n != 1 {
		t.Errorf("expected 1 remaining queued job, got %d", n)
	}
}

func TestPool_DrainsSubmittedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliverer := &recordingDeliverer{}
	pool := NewPool(3, deliverer, testLogger())
	pool.Start(ctx)

	for i := 0; i < 10; i++ {
		msg := deliveryMessage()
		pool.Submit(RetryJob{Message: *msg, Callback: domain.CallbackConfig{Key: "app1_c1"}})
	}
	pool.Stop()

	if got := len(deliverer.delivered()); got != 10 {
		t.Errorf("expected 10 delivered jobs, got %d", got)
	}
}
