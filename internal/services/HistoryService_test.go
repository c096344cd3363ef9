package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shd/internal/analytics"
	"shd/internal/apperrors"
	"shd/internal/models"
	"shd/internal/providers"
	"shd/internal/structures"
	"shd/internal/testutil"
)

var t0 = time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *structures.Config {
	c := &structures.Config{}
	c.SetDefaults()
	return c
}

func newService(t *testing.T) (*HistoryService, *testutil.MockBackend, *fakeClock) {
	t.Helper()
	store := testutil.NewMockBackend()
	conf := testConfig()
	clock := &fakeClock{now: t0}
	hs := NewHistoryService(store, conf, providers.NewMetricsProvider(conf), &testutil.MockLogger{}).(*HistoryService)
	hs.clock = clock.Now
	return hs, store, clock
}

func observe(t *testing.T, hs *HistoryService, clock *fakeClock, live bool, viewers int) {
	t.Helper()
	require.NoError(t, hs.RecordObservation(context.Background(), "alice", models.Sample{Ts: clock.Now().UnixMilli(), Live: live, Viewers: viewers}))
}

func TestRecordObservation_OpensAndClosesSegment(t *testing.T) {
	hs, store, clock := newService(t)
	ctx := context.Background()

	observe(t, hs, clock, true, 10)
	clock.Advance(time.Minute)
	observe(t, hs, clock, true, 25)
	clock.Advance(time.Minute)
	observe(t, hs, clock, false, 0)

	h, err := hs.Export(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, h.Segments, 1)
	assert.Equal(t, t0.UnixMilli(), h.Segments[0].Start)
	require.NotNil(t, h.Segments[0].End)
	assert.Equal(t, t0.Add(2*time.Minute).UnixMilli(), *h.Segments[0].End)
	assert.Len(t, h.Samples, 3)

	saved := store.Saved("alice")
	require.Len(t, saved, 3)
	assert.True(t, saved[0].SegmentsDirty)
	assert.False(t, saved[1].SegmentsDirty, "steady live tick only appends")
	assert.Len(t, saved[1].PendingSamples, 1)
	assert.True(t, saved[2].SegmentsDirty)

	perf, err := hs.Performance(ctx, "alice", analytics.Query{Period: analytics.PeriodDay, Span: 1}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0333, perf.Range.HoursStreamed, 0.0001)
	assert.Equal(t, 25, perf.Range.PeakViewers)
}

func TestRecordObservation_RejectsOutOfOrder(t *testing.T) {
	hs, store, clock := newService(t)

	observe(t, hs, clock, true, 10)
	err := hs.RecordObservation(context.Background(), "alice", models.Sample{Ts: t0.UnixMilli(), Live: true})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Len(t, store.Saved("alice"), 1)
	assert.Equal(t, uint64(1), hs.Revision("alice"))
}

func TestRecordObservation_RejectsFutureTimestamp(t *testing.T) {
	hs, store, clock := newService(t)
	ctx := context.Background()

	err := hs.RecordObservation(ctx, "alice", models.Sample{Ts: t0.Add(24 * time.Hour).UnixMilli(), Live: true})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Empty(t, store.Saved("alice"))

	require.NoError(t, hs.RecordObservation(ctx, "alice", models.Sample{Ts: t0.Add(maxClockSkew).UnixMilli(), Live: true}),
		"small skew is tolerated")

	for i := 1; i <= 3; i++ {
		clock.Advance(time.Minute)
		observe(t, hs, clock, true, i)
	}
	h, err := hs.Export(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, h.Samples, 4)
}

func TestRecordObservation_ZeroTsUsesClock(t *testing.T) {
	hs, _, _ := newService(t)

	require.NoError(t, hs.RecordObservation(context.Background(), "alice", models.Sample{Live: false, Viewers: 3}))
	h, err := hs.Export(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, h.Samples, 1)
	assert.Equal(t, t0.UnixMilli(), h.Samples[0].Ts)
	assert.Empty(t, h.Segments)
}

func TestRecordObservation_ClosesStaleSegmentBeforeReopening(t *testing.T) {
	hs, _, clock := newService(t)

	observe(t, hs, clock, true, 5)
	clock.Advance(time.Hour)
	observe(t, hs, clock, true, 7)

	h, err := hs.Export(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, h.Segments, 2)
	assert.Equal(t, t0.UnixMilli(), *h.Segments[0].End)
	assert.True(t, h.Segments[1].Open())
	assert.True(t, models.CheckInvariants(h))
}

func TestRecordObservation_SlowIntervalKeepsOneSegment(t *testing.T) {
	conf := &structures.Config{Poller: structures.PollerConfig{Interval: 5 * time.Minute}}
	conf.SetDefaults()
	clock := &fakeClock{now: t0}
	hs := NewHistoryService(testutil.NewMockBackend(), conf, providers.NewMetricsProvider(conf), &testutil.MockLogger{}).(*HistoryService)
	hs.clock = clock.Now

	for i := 0; i < 6; i++ {
		if i > 0 {
			clock.Advance(5 * time.Minute)
		}
		observe(t, hs, clock, true, 10+i)
	}

	h, err := hs.Export(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, h.Segments, 1)
	assert.True(t, h.Segments[0].Open())
	assert.Equal(t, t0.UnixMilli(), h.Segments[0].Start)

	st, err := hs.Status(context.Background(), "alice", "claim")
	require.NoError(t, err)
	assert.True(t, st.Live)
	assert.Equal(t, ReasonOK, st.Reason)
}

func TestSaveFailure_KeepsCommittedHistory(t *testing.T) {
	hs, store, clock := newService(t)

	observe(t, hs, clock, true, 10)
	store.FailSave = true
	clock.Advance(time.Minute)
	err := hs.RecordObservation(context.Background(), "alice", models.Sample{Ts: clock.Now().UnixMilli(), Live: false})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindPersistence, apperrors.KindOf(err))

	h, err := hs.Export(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, h.Samples, 1)
	assert.True(t, h.Segments[0].Open())
	assert.Equal(t, uint64(1), hs.Revision("alice"))
}

func TestLoadFailure_IsPersistenceError(t *testing.T) {
	hs, store, _ := newService(t)
	store.FailLoad = true

	_, err := hs.Summary(context.Background(), "alice", analytics.Query{})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindPersistence, apperrors.KindOf(err))
}

func TestHistoryIsLoadedOnce(t *testing.T) {
	hs, store, clock := newService(t)

	observe(t, hs, clock, true, 1)
	clock.Advance(time.Minute)
	observe(t, hs, clock, true, 2)
	_, err := hs.Summary(context.Background(), "alice", analytics.Query{})
	require.NoError(t, err)

	assert.Equal(t, 1, store.LoadCalls)
}

func TestRetentionRunsAfterEveryMutation(t *testing.T) {
	hs, store, clock := newService(t)
	hs.conf.History.MaxSamples = 3

	for i := 0; i < 5; i++ {
		observe(t, hs, clock, false, i)
		clock.Advance(time.Minute)
	}

	h, err := hs.Export(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, h.Samples, 3)
	assert.Equal(t, 2, h.Samples[0].Viewers)

	saved := store.Saved("alice")
	assert.Equal(t, 1, saved[len(saved)-1].SamplesTrimmed)
}

func TestRecordTip(t *testing.T) {
	hs, store, _ := newService(t)
	amount := decimal.RequireFromString("2.5")

	require.NoError(t, hs.RecordTip(context.Background(), "alice", models.TipEvent{Amount: &amount, Source: "chat"}))
	h, err := hs.Export(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, h.TipEvents, 1)
	assert.Equal(t, t0.UnixMilli(), h.TipEvents[0].Ts)
	assert.Len(t, store.Saved("alice")[0].PendingTips, 1)

	negative := decimal.RequireFromString("-1")
	err = hs.RecordTip(context.Background(), "alice", models.TipEvent{Usd: &negative})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestSummary_ClosesStaleSegmentFirst(t *testing.T) {
	hs, store, clock := newService(t)

	observe(t, hs, clock, true, 10)
	clock.Advance(6 * time.Hour)

	sum, err := hs.Summary(context.Background(), "alice", analytics.Query{Period: analytics.PeriodDay, Span: 1})
	require.NoError(t, err)
	require.Len(t, sum.Buckets, 1)
	assert.Equal(t, 0.25, sum.Buckets[0].Hours, "only the sample gap cap is credited, not six hours")

	saved := store.Saved("alice")
	assert.True(t, saved[len(saved)-1].SegmentsDirty)
	assert.False(t, store.Histories["alice"].Segments[0].Open())
}

func TestBackfillCurrent(t *testing.T) {
	hs, _, clock := newService(t)
	ctx := context.Background()

	err := hs.BackfillCurrent(ctx, "alice", time.Hour)
	assert.Equal(t, apperrors.CodeNoOpenSegment, apperrors.CodeOf(err))

	observe(t, hs, clock, true, 10)
	require.NoError(t, hs.BackfillCurrent(ctx, "alice", time.Hour))
	h, err := hs.Export(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(-time.Hour).UnixMilli(), h.Segments[0].Start)

	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(hs.BackfillCurrent(ctx, "alice", 0)))
}

func TestClear(t *testing.T) {
	hs, store, clock := newService(t)

	observe(t, hs, clock, true, 10)
	require.NoError(t, hs.Clear(context.Background(), "alice"))

	h, err := hs.Export(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, h.Samples)
	assert.Empty(t, h.Segments)
	saved := store.Saved("alice")
	assert.True(t, saved[len(saved)-1].ReplaceAll)
}

func TestImport_SanitizesAndReplaces(t *testing.T) {
	hs, store, _ := newService(t)
	start := t0.Add(-2 * time.Hour).UnixMilli()
	end := t0.Add(-time.Hour).UnixMilli()

	doc := &models.History{
		Segments: []models.Segment{{Start: start, End: &end}, {Start: end, End: models.Int64Ptr(start)}},
		Samples: []models.Sample{
			{Ts: start, Live: true, Viewers: 4},
			{Ts: start, Live: true, Viewers: 5},
			{Ts: end, Live: false},
		},
	}

	report, err := hs.Import(context.Background(), "alice", doc)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SegmentsDropped)
	assert.Equal(t, 1, report.SamplesDropped)

	h, err := hs.Export(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, h.Segments, 1)
	assert.Len(t, h.Samples, 2)
	assert.True(t, store.Saved("alice")[0].ReplaceAll)
}

func TestStatus(t *testing.T) {
	hs, _, clock := newService(t)
	ctx := context.Background()

	st, err := hs.Status(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, ReasonNoClaimID, st.Reason)
	assert.False(t, st.Connected)
	assert.Nil(t, st.LastSampleTs)

	st, err = hs.Status(ctx, "alice", "claim")
	require.NoError(t, err)
	assert.Equal(t, ReasonStale, st.Reason)

	observe(t, hs, clock, true, 10)
	clock.Advance(time.Minute)
	observe(t, hs, clock, true, 12)

	st, err = hs.Status(ctx, "alice", "claim")
	require.NoError(t, err)
	assert.Equal(t, ReasonOK, st.Reason)
	assert.True(t, st.Connected)
	assert.True(t, st.Live)
	assert.Equal(t, 2, st.SampleCount)
	assert.Equal(t, 60.0, st.AvgSampleIntervalSec)
	require.NotNil(t, st.LastSampleTs)
	assert.Equal(t, clock.Now().UnixMilli(), *st.LastSampleTs)

	clock.Advance(10 * time.Minute)
	st, err = hs.Status(ctx, "alice", "claim")
	require.NoError(t, err)
	assert.Equal(t, ReasonStale, st.Reason)
	assert.False(t, st.Live)
}

func TestTenantsAreIsolated(t *testing.T) {
	hs, _, clock := newService(t)
	ctx := context.Background()

	observe(t, hs, clock, true, 10)
	require.NoError(t, hs.RecordObservation(ctx, "bob", models.Sample{Ts: t0.UnixMilli(), Live: false}))

	assert.Equal(t, uint64(1), hs.Revision("alice"))
	assert.Equal(t, uint64(1), hs.Revision("bob"))
	assert.Equal(t, uint64(0), hs.Revision("carol"))
}

func TestConcurrentObservationsKeepOrder(t *testing.T) {
	hs, _, _ := newService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = hs.RecordObservation(ctx, "alice", models.Sample{Ts: t0.UnixMilli() + int64(i)*1000, Live: i%2 == 0})
		}(i)
	}
	wg.Wait()

	h, err := hs.Export(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, h.Samples)
	assert.True(t, models.CheckInvariants(h))
}

func TestEvictIdle_ReloadsFromStoreAndKeepsRevision(t *testing.T) {
	hs, store, clock := newService(t)
	ctx := context.Background()

	observe(t, hs, clock, true, 10)
	require.NoError(t, hs.RecordObservation(ctx, "bob", models.Sample{Ts: clock.Now().UnixMilli()}))
	clock.Advance(20 * time.Minute)
	_, err := hs.Export(ctx, "bob")
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, hs.EvictIdle(30*time.Minute), "only alice is idle")
	assert.Equal(t, uint64(1), hs.Revision("alice"))
	loads := store.LoadCalls

	clock.Advance(time.Minute)
	observe(t, hs, clock, true, 12)
	assert.Equal(t, loads+1, store.LoadCalls)
	assert.Equal(t, uint64(2), hs.Revision("alice"))

	h, err := hs.Export(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, h.Samples, 2)
}

func TestIdleEvictor(t *testing.T) {
	hs, _, clock := newService(t)
	observe(t, hs, clock, true, 10)
	clock.Advance(2 * time.Hour)

	conf := testConfig()
	e := NewIdleEvictor(conf, hs, &testutil.MockLogger{})
	assert.Equal(t, 1, e.Sweep())
	assert.Zero(t, e.Sweep())

	conf.History.IdleEvict = -1
	assert.Zero(t, NewIdleEvictor(conf, hs, &testutil.MockLogger{}).Sweep())
}
