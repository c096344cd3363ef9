package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shd/internal/livestatus"
	"shd/internal/poller/interfaces"
	"shd/internal/providers"
	"shd/internal/services"
	"shd/internal/structures"
	"shd/internal/testutil"
)

func testConfig() *structures.Config {
	c := &structures.Config{
		Poller: structures.PollerConfig{
			Enabled:  true,
			Interval: time.Hour,
			Timeout:  100 * time.Millisecond,
			ApiURL:   "http://live.test",
		},
	}
	c.SetDefaults()
	return c
}

type fixture struct {
	scheduler *Scheduler
	client    *testutil.MockLiveClient
	store     *testutil.MockBackend
	logger    *testutil.MockLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conf := testConfig()
	f := &fixture{
		client: testutil.NewMockLiveClient(),
		store:  testutil.NewMockBackend(),
		logger: &testutil.MockLogger{},
	}
	metrics := providers.NewMetricsProvider(conf)
	history := services.NewHistoryService(f.store, conf, metrics, f.logger)
	f.scheduler = NewScheduler(conf, f.client, history, metrics, f.logger).(*Scheduler)
	t.Cleanup(f.scheduler.StopAll)
	return f
}

func (f *fixture) health(tenant string) (rec interfaces.HealthRecord, ok bool) {
	for _, r := range f.scheduler.Health() {
		if r.Tenant == tenant {
			return r, true
		}
	}
	return rec, false
}

func TestScheduler_EnsureStartsOnePoller(t *testing.T) {
	f := newFixture(t)
	f.client.Set("c1", livestatus.Status{Live: true, Viewers: 12})

	assert.True(t, f.scheduler.Ensure("alice", "c1"))
	assert.False(t, f.scheduler.Ensure("alice", "c1"))
	assert.Equal(t, 1, f.scheduler.Active())

	require.Eventually(t, func() bool { return len(f.store.Saved("alice")) == 1 }, time.Second, 5*time.Millisecond)
	h := f.store.Histories["alice"]
	require.Len(t, h.Samples, 1)
	assert.Equal(t, 12, h.Samples[0].Viewers)
	assert.True(t, h.Segments[0].Open())

	require.Eventually(t, func() bool {
		rec := f.scheduler.Health()[0]
		return rec.LastSuccessAt > 0 && rec.Live
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_ConcurrentEnsureCreatesOnce(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.scheduler.Ensure("alice", "c1") {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, f.scheduler.Active())
}

func TestScheduler_ClaimChangeRecreates(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.scheduler.Ensure("alice", "c1"))
	require.True(t, f.scheduler.Ensure("alice", "c2"))

	health := f.scheduler.Health()
	require.Len(t, health, 1)
	assert.Equal(t, "c2", health[0].ClaimID)
	assert.Equal(t, 1, f.scheduler.Active())
}

func TestScheduler_EmptyClaimStops(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.scheduler.Ensure("alice", "c1"))
	assert.False(t, f.scheduler.Ensure("alice", ""))
	assert.Equal(t, 0, f.scheduler.Active())

	health := f.scheduler.Health()
	require.Len(t, health, 1)
	assert.True(t, health[0].Stopped)
	assert.True(t, f.logger.Contains("info", "Stopped poller for alice"))
}

func TestScheduler_TickFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.client.Err = errors.New("upstream down")

	f.scheduler.Ensure("alice", "c1")
	require.Eventually(t, func() bool {
		rec, ok := f.health("alice")
		return ok && rec.Error != ""
	}, time.Second, 5*time.Millisecond)

	rec, _ := f.health("alice")
	assert.NotZero(t, rec.LastTickAt)
	assert.Contains(t, rec.Error, "upstream down")
	assert.Zero(t, rec.LastSuccessAt)
	assert.False(t, rec.Stopped)
	assert.Empty(t, f.store.Saved("alice"))
}

func TestScheduler_TickPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.client.FetchFn = func(context.Context, string) (livestatus.Status, error) {
		panic("boom")
	}

	f.scheduler.Ensure("alice", "c1")
	require.Eventually(t, func() bool {
		return f.logger.Contains("error", "recovered from panic: boom")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.scheduler.Active())
}

func TestScheduler_TickTimeout(t *testing.T) {
	f := newFixture(t)
	f.client.FetchFn = func(ctx context.Context, _ string) (livestatus.Status, error) {
		<-ctx.Done()
		return livestatus.Status{}, ctx.Err()
	}

	start := time.Now()
	f.scheduler.Ensure("alice", "c1")
	require.Eventually(t, func() bool {
		return f.logger.Contains("warn", "Tick of alice failed")
	}, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestScheduler_SlowTenantDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.scheduler.conf.Poller.Timeout = 5 * time.Second
	release := make(chan struct{})
	defer close(release)
	f.client.FetchFn = func(ctx context.Context, claimID string) (livestatus.Status, error) {
		if claimID == "slow" {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return livestatus.Status{}, ctx.Err()
		}
		return livestatus.Status{Live: true, Viewers: 1}, nil
	}

	f.scheduler.Ensure("alice", "slow")
	f.scheduler.Ensure("bob", "fast")
	require.Eventually(t, func() bool { return len(f.store.Saved("bob")) == 1 }, time.Second, 5*time.Millisecond)
	rec, _ := f.health("alice")
	assert.Zero(t, rec.LastSuccessAt)
}

func TestPoller_TickSkipsWhileLeaseHeld(t *testing.T) {
	f := newFixture(t)
	f.scheduler.mu.Lock()
	p := f.scheduler.newPoller("alice", "c1")
	f.scheduler.mu.Unlock()

	p.lease.Lock()
	assert.False(t, p.Tick(context.Background()))
	p.lease.Unlock()

	assert.True(t, p.Tick(context.Background()))
	assert.Equal(t, 1, f.client.CallCount())
}

func TestScheduler_RefreshSharesLease(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.scheduler.Refresh("alice"))
	require.True(t, f.scheduler.Ensure("alice", "c1"))
	before := f.scheduler.pollers["alice"]

	require.True(t, f.scheduler.Refresh("alice"))
	after := f.scheduler.pollers["alice"]
	assert.NotSame(t, before, after)
	assert.Same(t, before.lease, after.lease)
	assert.Equal(t, "c1", after.claimID)
	assert.True(t, before.stopped.Load())
}

func TestScheduler_StopAll(t *testing.T) {
	f := newFixture(t)
	f.scheduler.Ensure("alice", "c1")
	f.scheduler.Ensure("bob", "c2")

	f.scheduler.StopAll()
	assert.Equal(t, 0, f.scheduler.Active())
	assert.False(t, f.scheduler.Ensure("carol", "c3"), "no pollers after shutdown")
	for _, rec := range f.scheduler.Health() {
		assert.True(t, rec.Stopped)
	}
}

func TestNewScheduler_DisabledIsNoop(t *testing.T) {
	conf := testConfig()
	conf.Poller.Enabled = false
	s := NewScheduler(conf, testutil.NewMockLiveClient(), nil, providers.NewMetricsProvider(conf), &testutil.MockLogger{})

	assert.False(t, s.Ensure("alice", "c1"))
	assert.Empty(t, s.Health())
	assert.Equal(t, 0, s.Active())
}
