package poller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roylee0704/gron"
	"golang.org/x/sync/errgroup"

	"shd/internal/poller/interfaces"
	"shd/internal/providers"
	"shd/internal/storage"
	"shd/internal/structures"
)

const discoveryConcurrency = 8

// HealthMonitor repairs the poller registry: it refreshes pollers that
// stopped succeeding and starts pollers for configured tenants that have
// none, for instance after a restart.
type HealthMonitor struct {
	conf      *structures.Config
	scheduler interfaces.SchedulerInterface
	store     storage.Backend
	logger    providers.Logger
	clock     func() time.Time

	cron *gron.Cron
	// checks never overlap
	checkMu sync.Mutex
}

func (m *HealthMonitor) Start() {
	m.cron = gron.New()
	m.cron.AddFunc(gron.Every(m.conf.Poller.HealthInterval), func() {
		m.Check(context.Background())
	})
	m.cron.Start()

	go m.Check(context.Background())
}

func (m *HealthMonitor) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

func (m *HealthMonitor) Check(ctx context.Context) interfaces.CheckReport {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	report := interfaces.CheckReport{
		Refreshed:  m.refreshStale(),
		Discovered: m.discover(ctx),
	}
	if len(report.Refreshed) > 0 || len(report.Discovered) > 0 {
		m.logger.Infof(providers.TypePoller, "Health check refreshed %d and started %d pollers",
			len(report.Refreshed), len(report.Discovered))
	}
	return report
}

func (m *HealthMonitor) refreshStale() []string {
	staleAfter := m.conf.StaleAfter().Milliseconds()
	now := m.clock().UnixMilli()

	refreshed := make([]string, 0)
	for _, rec := range m.scheduler.Health() {
		if rec.Stopped {
			continue
		}
		lastGood := max(rec.LastSuccessAt, rec.StartedAt)
		if now-lastGood <= staleAfter {
			continue
		}
		if m.scheduler.Refresh(rec.Tenant) {
			refreshed = append(refreshed, rec.Tenant)
		}
	}
	return refreshed
}

// discover collects tenant claims from the config index and, outside hosted
// mode, from tenants found in history storage.
func (m *HealthMonitor) discover(ctx context.Context) []string {
	claims, err := m.lookupClaims(ctx)
	if err != nil {
		m.logger.Errorf(providers.TypePoller, "Tenant discovery failed: %v", err)
		return []string{}
	}

	tenants := make([]string, 0, len(claims))
	for tenant := range claims {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)

	started := make([]string, 0)
	for _, tenant := range tenants {
		claimID := claims[tenant]
		if claimID == "" {
			continue
		}
		if m.conf.Moderation.Blocked(tenant, claimID) {
			m.scheduler.Stop(tenant)
			continue
		}
		if m.scheduler.Ensure(tenant, claimID) {
			started = append(started, tenant)
		}
	}
	return started
}

func (m *HealthMonitor) lookupClaims(ctx context.Context) (map[string]string, error) {
	var (
		configured map[string]string
		known      []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		configured, err = m.store.ConfiguredTenants(gctx)
		return err
	})
	if !m.conf.Hosted() {
		g.Go(func() error {
			var err error
			known, err = m.store.KnownTenants(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	claims := make(map[string]string, len(configured)+len(known))
	for tenant, claimID := range configured {
		claims[tenant] = claimID
	}

	missing := make([]string, 0, len(known))
	for _, tenant := range known {
		if _, ok := claims[tenant]; !ok {
			missing = append(missing, tenant)
		}
	}

	var mu sync.Mutex
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(discoveryConcurrency)
	for _, tenant := range missing {
		g.Go(func() error {
			claimID, err := m.store.ClaimID(gctx, tenant)
			if err != nil {
				m.logger.Warnf(providers.TypePoller, "Reading config of %s failed: %v", tenant, err)
				return nil
			}
			mu.Lock()
			claims[tenant] = claimID
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return claims, nil
}

func NewHealthMonitor(conf *structures.Config, scheduler interfaces.SchedulerInterface, store storage.Backend, logger providers.Logger) interfaces.MonitorInterface {
	return &HealthMonitor{
		conf:      conf,
		scheduler: scheduler,
		store:     store,
		logger:    logger,
		clock:     time.Now,
	}
}
