package poller

import (
	"context"
	"sort"
	"sync"
	"time"

	"shd/internal/livestatus"
	"shd/internal/poller/interfaces"
	"shd/internal/providers"
	"shd/internal/services"
	"shd/internal/structures"
)

// Scheduler is the process-wide registry of tenant pollers. Lookup and
// insertion happen under one lock so a tenant never gets two pollers.
type Scheduler struct {
	conf    *structures.Config
	client  livestatus.ClientInterface
	history services.HistoryServiceInterface
	metrics providers.MetricsProviderInterface
	logger  providers.Logger
	clock   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pollers map[string]*Poller
	leases  map[string]*sync.Mutex
	stopped map[string]interfaces.HealthRecord
}

// newPoller must be called with mu held.
func (s *Scheduler) newPoller(tenant, claimID string) *Poller {
	lease, ok := s.leases[tenant]
	if !ok {
		lease = &sync.Mutex{}
		s.leases[tenant] = lease
	}
	return &Poller{
		tenant:   tenant,
		claimID:  claimID,
		interval: s.conf.Poller.Interval,
		timeout:  s.conf.Poller.Timeout,
		client:   s.client,
		history:  s.history,
		metrics:  s.metrics,
		logger:   s.logger,
		clock:    s.clock,
		lease:    lease,
	}
}

func (s *Scheduler) Ensure(tenant, claimID string) bool {
	if claimID == "" {
		s.Stop(tenant)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	if p, ok := s.pollers[tenant]; ok {
		if p.claimID == claimID {
			return false
		}
		p.halt()
		s.logger.Infof(providers.TypePoller, "Claim of %s changed, restarting poller", tenant)
	}

	p := s.newPoller(tenant, claimID)
	s.pollers[tenant] = p
	delete(s.stopped, tenant)
	p.start(s.ctx)
	s.metrics.SetActivePollers(len(s.pollers))
	s.logger.Infof(providers.TypePoller, "Started poller for %s", tenant)
	return true
}

func (s *Scheduler) Stop(tenant string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pollers[tenant]
	if !ok {
		return
	}
	p.halt()
	delete(s.pollers, tenant)
	s.stopped[tenant] = p.Health()
	s.metrics.SetActivePollers(len(s.pollers))
	s.logger.Infof(providers.TypePoller, "Stopped poller for %s", tenant)
}

// StopAll cancels every poller and waits for in-flight ticks to finish.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	s.cancel()
	pollers := make([]*Poller, 0, len(s.pollers))
	for tenant, p := range s.pollers {
		p.halt()
		s.stopped[tenant] = p.Health()
		pollers = append(pollers, p)
	}
	s.pollers = make(map[string]*Poller)
	s.metrics.SetActivePollers(0)
	s.mu.Unlock()

	for _, p := range pollers {
		p.wait()
	}
	s.logger.Infof(providers.TypePoller, "Stopped %d pollers", len(pollers))
}

func (s *Scheduler) Refresh(tenant string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.pollers[tenant]
	if !ok || s.ctx.Err() != nil {
		return false
	}
	old.halt()

	p := s.newPoller(tenant, old.claimID)
	s.pollers[tenant] = p
	p.start(s.ctx)
	s.metrics.IncPollerRefreshes()
	s.logger.Warnf(providers.TypePoller, "Refreshed poller for %s, last success at %d", tenant, old.lastSuccessAt.Load())
	return true
}

func (s *Scheduler) Health() []interfaces.HealthRecord {
	s.mu.Lock()
	out := make([]interfaces.HealthRecord, 0, len(s.pollers)+len(s.stopped))
	for _, p := range s.pollers {
		out = append(out, p.Health())
	}
	for _, rec := range s.stopped {
		out = append(out, rec)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Tenant < out[j].Tenant })
	return out
}

func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pollers)
}

func NewScheduler(conf *structures.Config, client livestatus.ClientInterface, history services.HistoryServiceInterface, metrics providers.MetricsProviderInterface, logger providers.Logger) interfaces.SchedulerInterface {
	if !conf.Poller.Enabled {
		logger.Infof(providers.TypePoller, "Live status polling disabled")
		return &noopScheduler{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		conf:    conf,
		client:  client,
		history: history,
		metrics: metrics,
		logger:  logger,
		clock:   time.Now,
		ctx:     ctx,
		cancel:  cancel,
		pollers: make(map[string]*Poller),
		leases:  make(map[string]*sync.Mutex),
		stopped: make(map[string]interfaces.HealthRecord),
	}
}

// noopScheduler is used when polling is disabled; manual events still work.
type noopScheduler struct{}

func (n *noopScheduler) Ensure(_, _ string) bool           { return false }
func (n *noopScheduler) Stop(_ string)                     {}
func (n *noopScheduler) StopAll()                          {}
func (n *noopScheduler) Refresh(_ string) bool             { return false }
func (n *noopScheduler) Health() []interfaces.HealthRecord { return []interfaces.HealthRecord{} }
func (n *noopScheduler) Active() int                       { return 0 }
