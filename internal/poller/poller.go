// Package poller samples the external live signal of every configured
// tenant on a timer and keeps the pollers alive.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"shd/internal/livestatus"
	"shd/internal/models"
	"shd/internal/poller/interfaces"
	"shd/internal/providers"
	"shd/internal/services"
)

// Poller owns the ticker goroutine of one tenant. Ticks take the tenant's
// lease, which outlives the poller, so a refreshed poller never overlaps a
// tick still running in its predecessor.
type Poller struct {
	tenant   string
	claimID  string
	interval time.Duration
	timeout  time.Duration

	client  livestatus.ClientInterface
	history services.HistoryServiceInterface
	metrics providers.MetricsProviderInterface
	logger  providers.Logger
	clock   func() time.Time

	lease  *sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	startedAt     atomic.Int64
	lastTickAt    atomic.Int64
	lastSuccessAt atomic.Int64
	live          atomic.Bool
	lastErr       atomic.String
	stopped       atomic.Bool
}

func (p *Poller) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.startedAt.Store(p.clock().UnixMilli())
	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	p.Tick(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick polls once. It returns false when another tick still holds the lease.
func (p *Poller) Tick(ctx context.Context) bool {
	if !p.lease.TryLock() {
		return false
	}
	defer p.lease.Unlock()

	defer func() {
		if r := recover(); r != nil {
			p.fail(providers.TickPanic, fmt.Errorf("panic: %v", r))
		}
	}()

	p.lastTickAt.Store(p.clock().UnixMilli())
	tickCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	status, err := p.client.Fetch(tickCtx, p.claimID)
	if err != nil {
		p.fail(providers.TickFailed, err)
		return true
	}

	obs := models.Sample{Ts: p.clock().UnixMilli(), Live: status.Live, Viewers: status.Viewers}
	if err = p.history.RecordObservation(tickCtx, p.tenant, obs); err != nil {
		p.fail(providers.TickFailed, err)
		return true
	}

	p.live.Store(status.Live)
	p.lastErr.Store("")
	p.lastSuccessAt.Store(obs.Ts)
	p.metrics.IncPollerTicks(providers.TickOK)
	return true
}

func (p *Poller) fail(result string, err error) {
	p.lastErr.Store(err.Error())
	p.metrics.IncPollerTicks(result)
	if result == providers.TickPanic {
		p.logger.Errorf(providers.TypePoller, "Poller of %s recovered from %v", p.tenant, err)
		return
	}
	p.logger.Warnf(providers.TypePoller, "Tick of %s failed: %v", p.tenant, err)
}

// halt cancels the goroutine without waiting for it.
func (p *Poller) halt() {
	p.stopped.Store(true)
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Poller) wait() {
	if p.done != nil {
		<-p.done
	}
}

func (p *Poller) Health() interfaces.HealthRecord {
	return interfaces.HealthRecord{
		Tenant:        p.tenant,
		ClaimID:       p.claimID,
		StartedAt:     p.startedAt.Load(),
		LastTickAt:    p.lastTickAt.Load(),
		LastSuccessAt: p.lastSuccessAt.Load(),
		Live:          p.live.Load(),
		Error:         p.lastErr.Load(),
		Stopped:       p.stopped.Load(),
	}
}
