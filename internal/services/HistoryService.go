package services

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"

	"shd/internal/analytics"
	"shd/internal/apperrors"
	"shd/internal/models"
	"shd/internal/providers"
	"shd/internal/storage"
	"shd/internal/structures"
)

const (
	ReasonOK        = "ok"
	ReasonStale     = "stale"
	ReasonNoClaimID = "no_claimid"

	statusIntervalSamples = 50

	// maxClockSkew is how far ahead of the local clock an observation may be.
	maxClockSkew = 5 * time.Second
)

type TenantStatus struct {
	Connected            bool    `json:"connected"`
	Live                 bool    `json:"live"`
	LastSampleTs         *int64  `json:"lastSampleTs"`
	Reason               string  `json:"reason"`
	SampleCount          int     `json:"sampleCount"`
	AvgSampleIntervalSec float64 `json:"avgSampleIntervalSec"`
}

type HistoryServiceInterface interface {
	RecordObservation(ctx context.Context, tenant string, obs models.Sample) error
	RecordTip(ctx context.Context, tenant string, tip models.TipEvent) error
	Summary(ctx context.Context, tenant string, q analytics.Query) (analytics.Summary, error)
	Performance(ctx context.Context, tenant string, q analytics.Query, recent int) (analytics.Performance, error)
	BackfillCurrent(ctx context.Context, tenant string, by time.Duration) error
	Clear(ctx context.Context, tenant string) error
	Import(ctx context.Context, tenant string, h *models.History) (models.SanitizeReport, error)
	Export(ctx context.Context, tenant string) (*models.History, error)
	Status(ctx context.Context, tenant, claimID string) (TenantStatus, error)
	Revision(tenant string) uint64
	Now() int64
	// EvictIdle drops cached histories untouched for longer than idle and
	// reports how many were dropped.
	EvictIdle(idle time.Duration) int
}

// tenantState holds the last committed history of one tenant. The
// snapshot is never mutated after commit, so readers may use it without
// holding mu. Eviction only drops history; the state and its revision stay
// so cache keys never repeat.
type tenantState struct {
	mu       sync.Mutex
	history  *models.History
	lastUsed int64
	revision atomic.Uint64
}

type HistoryService struct {
	store   storage.HistoryStore
	conf    *structures.Config
	metrics providers.MetricsProviderInterface
	logger  providers.Logger
	clock   func() time.Time

	mu      sync.Mutex
	tenants map[string]*tenantState
}

func (hs *HistoryService) Now() int64 {
	return hs.clock().UnixMilli()
}

func (hs *HistoryService) state(tenant string) *tenantState {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	st, ok := hs.tenants[tenant]
	if !ok {
		st = &tenantState{}
		hs.tenants[tenant] = st
	}
	return st
}

func (hs *HistoryService) load(ctx context.Context, tenant string, st *tenantState) error {
	st.lastUsed = hs.Now()
	if st.history != nil {
		return nil
	}
	h, err := hs.store.Load(ctx, tenant)
	if err != nil {
		return apperrors.Persistence("failed to load history", err)
	}
	st.history = h.Normalize()
	return nil
}

// mutate runs fn on a copy of the tenant's history, applies retention and
// persists the combined changeset. The copy only becomes visible once the
// save succeeded.
func (hs *HistoryService) mutate(ctx context.Context, tenant string, fn func(h *models.History, now int64) (models.Changeset, error)) (*models.History, error) {
	st := hs.state(tenant)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := hs.load(ctx, tenant, st); err != nil {
		return nil, err
	}

	now := hs.Now()
	next := st.history.Clone()
	cs, err := fn(next, now)
	if err != nil {
		return st.history, err
	}
	cs = cs.Merge(models.Truncate(next, now, hs.conf.History.MaxDays, hs.conf.History.MaxSamples))
	if cs.Empty() {
		return st.history, nil
	}

	start := time.Now()
	err = hs.store.Save(ctx, tenant, next, cs)
	hs.metrics.ObservePersistenceDuration(time.Since(start))
	if err != nil {
		hs.metrics.IncPersistenceFailures()
		hs.logger.Errorf(providers.TypeStorage, "Failed to save history of %s: %v", tenant, err)
		return st.history, apperrors.Persistence("failed to save history", err)
	}

	st.history = next
	st.revision.Inc()
	hs.metrics.SetSamplesTotal(tenant, len(next.Samples))
	return next, nil
}

func (hs *HistoryService) closeStale(h *models.History, now int64) models.Changeset {
	return models.CloseStaleOpenSegment(h, now,
		hs.conf.History.FreshnessWindow.Milliseconds(),
		hs.conf.History.MaxOpenSegment.Milliseconds())
}

// readView repairs a stale open segment before handing out the snapshot.
func (hs *HistoryService) readView(ctx context.Context, tenant string) (*models.History, error) {
	return hs.mutate(ctx, tenant, func(h *models.History, now int64) (models.Changeset, error) {
		return hs.closeStale(h, now), nil
	})
}

// RecordObservation applies one live-status reading: the sample is appended
// and the open segment follows the live flag. A zero Ts means now.
func (hs *HistoryService) RecordObservation(ctx context.Context, tenant string, obs models.Sample) error {
	_, err := hs.mutate(ctx, tenant, func(h *models.History, now int64) (models.Changeset, error) {
		if obs.Ts == 0 {
			obs.Ts = now
		}
		if obs.Ts > now+maxClockSkew.Milliseconds() {
			return models.Changeset{}, apperrors.Validation("sample timestamp must not be in the future")
		}
		cs := hs.closeStale(h, obs.Ts)
		if n := len(h.Segments); n > 0 && obs.Ts < h.Segments[n-1].EndOr(h.Segments[n-1].Start) {
			return models.Changeset{}, models.ErrSampleOutOfOrder
		}

		appended, err := models.AppendSample(h, obs)
		if err != nil {
			return models.Changeset{}, err
		}
		cs = cs.Merge(appended)
		if obs.Live {
			return cs.Merge(models.StartSegment(h, obs.Ts)), nil
		}
		return cs.Merge(models.EndSegment(h, obs.Ts)), nil
	})
	return err
}

func (hs *HistoryService) RecordTip(ctx context.Context, tenant string, tip models.TipEvent) error {
	_, err := hs.mutate(ctx, tenant, func(h *models.History, now int64) (models.Changeset, error) {
		if tip.Ts == 0 {
			tip.Ts = now
		}
		if tip.Ts < 0 ||
			(tip.Amount != nil && tip.Amount.IsNegative()) ||
			(tip.Usd != nil && tip.Usd.IsNegative()) {
			return models.Changeset{}, apperrors.Validation("tip amounts must not be negative")
		}
		return models.AppendTip(h, tip), nil
	})
	return err
}

func (hs *HistoryService) policy() analytics.Policy {
	return analytics.Policy{
		PadRatio:       hs.conf.History.PadRatio,
		PadCapMs:       hs.conf.History.PadCap.Milliseconds(),
		MaxSampleGapMs: hs.conf.History.MaxSampleGap.Milliseconds(),
	}
}

func (hs *HistoryService) Summary(ctx context.Context, tenant string, q analytics.Query) (analytics.Summary, error) {
	h, err := hs.readView(ctx, tenant)
	if err != nil {
		return analytics.Summary{}, err
	}
	if q.Now == 0 {
		q.Now = hs.Now()
	}
	return analytics.Aggregate(h, q, hs.policy()), nil
}

func (hs *HistoryService) Performance(ctx context.Context, tenant string, q analytics.Query, recent int) (analytics.Performance, error) {
	h, err := hs.readView(ctx, tenant)
	if err != nil {
		return analytics.Performance{}, err
	}
	if q.Now == 0 {
		q.Now = hs.Now()
	}
	if recent <= 0 {
		recent = hs.conf.History.RecentStreams
	}
	return analytics.ComputePerformance(h, q, hs.policy(), recent), nil
}

func (hs *HistoryService) BackfillCurrent(ctx context.Context, tenant string, by time.Duration) error {
	if by <= 0 {
		return apperrors.Validation("backfill duration must be positive")
	}
	_, err := hs.mutate(ctx, tenant, func(h *models.History, now int64) (models.Changeset, error) {
		cs := hs.closeStale(h, now)
		backfilled, err := models.BackfillOpenSegment(h, by.Milliseconds())
		if err != nil {
			return models.Changeset{}, err
		}
		return cs.Merge(backfilled), nil
	})
	return err
}

func (hs *HistoryService) Clear(ctx context.Context, tenant string) error {
	_, err := hs.mutate(ctx, tenant, func(h *models.History, _ int64) (models.Changeset, error) {
		*h = *models.NewHistory()
		return models.ReplaceAllChangeset(), nil
	})
	if err == nil {
		hs.logger.Infof(providers.TypePost, "History of %s cleared", tenant)
	}
	return err
}

func (hs *HistoryService) Import(ctx context.Context, tenant string, doc *models.History) (models.SanitizeReport, error) {
	clean, report := models.Sanitize(doc)
	_, err := hs.mutate(ctx, tenant, func(h *models.History, _ int64) (models.Changeset, error) {
		*h = *clean
		return models.ReplaceAllChangeset(), nil
	})
	if err != nil {
		return report, err
	}
	hs.logger.Infof(providers.TypePost, "Imported history of %s: %d segments, %d samples, %d tips (dropped %d/%d/%d)",
		tenant, len(clean.Segments), len(clean.Samples), len(clean.TipEvents),
		report.SegmentsDropped, report.SamplesDropped, report.TipsDropped)
	return report, nil
}

// Export returns the stored document as is, without repairing stale segments.
func (hs *HistoryService) Export(ctx context.Context, tenant string) (*models.History, error) {
	st := hs.state(tenant)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := hs.load(ctx, tenant, st); err != nil {
		return nil, err
	}
	return st.history, nil
}

func (hs *HistoryService) Status(ctx context.Context, tenant, claimID string) (TenantStatus, error) {
	h, err := hs.readView(ctx, tenant)
	if err != nil {
		return TenantStatus{}, err
	}

	out := TenantStatus{SampleCount: len(h.Samples), Reason: ReasonOK}
	out.AvgSampleIntervalSec = avgInterval(h.Samples)

	last, ok := h.LastSample()
	if ok {
		out.LastSampleTs = models.Int64Ptr(last.Ts)
	}
	switch {
	case claimID == "":
		out.Reason = ReasonNoClaimID
	case !ok || hs.Now()-last.Ts > hs.conf.StaleAfter().Milliseconds():
		out.Reason = ReasonStale
	default:
		out.Connected = true
		out.Live = last.Live
	}
	return out, nil
}

func avgInterval(samples []models.Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	tail := samples[max(0, len(samples)-statusIntervalSamples):]
	span := tail[len(tail)-1].Ts - tail[0].Ts
	sec := float64(span) / float64(len(tail)-1) / 1000
	return math.Round(sec*10) / 10
}

func (hs *HistoryService) EvictIdle(idle time.Duration) int {
	hs.mu.Lock()
	states := make([]*tenantState, 0, len(hs.tenants))
	for _, st := range hs.tenants {
		states = append(states, st)
	}
	hs.mu.Unlock()

	cutoff := hs.Now() - idle.Milliseconds()
	evicted := 0
	for _, st := range states {
		if !st.mu.TryLock() {
			continue
		}
		if st.history != nil && st.lastUsed < cutoff {
			st.history = nil
			evicted++
		}
		st.mu.Unlock()
	}
	return evicted
}

func (hs *HistoryService) Revision(tenant string) uint64 {
	return hs.state(tenant).revision.Load()
}

func NewHistoryService(store storage.HistoryStore, conf *structures.Config, metrics providers.MetricsProviderInterface, logger providers.Logger) HistoryServiceInterface {
	return &HistoryService{
		store:   store,
		conf:    conf,
		metrics: metrics,
		logger:  logger,
		clock:   time.Now,
		tenants: make(map[string]*tenantState),
	}
}
