package services

import (
	"time"

	"github.com/roylee0704/gron"

	"shd/internal/providers"
	"shd/internal/structures"
)

type EvictorInterface interface {
	Start()
	Stop()
	// Sweep runs one eviction pass.
	Sweep() int
}

// IdleEvictor bounds the memory held by tenants that stopped receiving
// observations or reads. Their history is reloaded from storage on demand.
type IdleEvictor struct {
	history HistoryServiceInterface
	idle    time.Duration
	logger  providers.Logger
	cron    *gron.Cron
}

func (e *IdleEvictor) Start() {
	e.cron = gron.New()
	e.cron.AddFunc(gron.Every(max(e.idle/2, time.Minute)), func() {
		e.Sweep()
	})
	e.cron.Start()
}

func (e *IdleEvictor) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
}

func (e *IdleEvictor) Sweep() int {
	n := e.history.EvictIdle(e.idle)
	if n > 0 {
		e.logger.Debugf(providers.TypeStorage, "Evicted %d idle histories", n)
	}
	return n
}

type noopEvictor struct{}

func (noopEvictor) Start()     {}
func (noopEvictor) Stop()      {}
func (noopEvictor) Sweep() int { return 0 }

func NewIdleEvictor(conf *structures.Config, history HistoryServiceInterface, logger providers.Logger) EvictorInterface {
	if conf.History.IdleEvict <= 0 {
		return noopEvictor{}
	}
	return &IdleEvictor{history: history, idle: conf.History.IdleEvict, logger: logger}
}
