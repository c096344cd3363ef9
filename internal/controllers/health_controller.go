package controllers

import (
	"fmt"
	"net/http"
	"time"

	"shd/internal/poller/interfaces"
	"shd/internal/providers"
	"shd/internal/structures"
)

type HealthController struct {
	conf      *structures.Config
	scheduler interfaces.SchedulerInterface
	cache     providers.CacheProviderInterface
	startTime time.Time
}

type healthResponse struct {
	Status        string                    `json:"status"`
	Uptime        string                    `json:"uptime"`
	UptimeSeconds float64                   `json:"uptime_seconds"`
	Mode          string                    `json:"mode"`
	Backend       string                    `json:"backend"`
	ActivePollers int                       `json:"active_pollers"`
	StalePollers  int                       `json:"stale_pollers"`
	Pollers       []interfaces.HealthRecord `json:"pollers"`
	Cache         providers.CacheStats      `json:"cache"`
}

// Health reports "degraded" while any running poller is past the stale
// threshold; the health monitor is expected to repair it.
func (hc *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(hc.startTime)
	records := hc.scheduler.Health()
	resp := healthResponse{
		Status:        "ok",
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
		Mode:          hc.conf.Mode,
		Backend:       hc.conf.Storage.Backend,
		ActivePollers: hc.scheduler.Active(),
		Pollers:       records,
		Cache:         hc.cache.Stats(),
	}

	now := time.Now().UnixMilli()
	staleAfter := hc.conf.StaleAfter().Milliseconds()
	for _, rec := range records {
		if !rec.Stopped && now-max(rec.LastSuccessAt, rec.StartedAt) > staleAfter {
			resp.StalePollers++
		}
	}
	if resp.StalePollers > 0 {
		resp.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, resp)
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
}

func NewHealthController(conf *structures.Config, scheduler interfaces.SchedulerInterface, cache providers.CacheProviderInterface) *HealthController {
	return &HealthController{
		conf:      conf,
		scheduler: scheduler,
		cache:     cache,
		startTime: time.Now(),
	}
}
