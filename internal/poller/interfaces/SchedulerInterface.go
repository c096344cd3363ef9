package interfaces

import "context"

// HealthRecord is the last known state of one tenant poller. Timestamps are
// epoch milliseconds, zero when the event never happened.
type HealthRecord struct {
	Tenant        string `json:"tenant"`
	ClaimID       string `json:"claimId"`
	StartedAt     int64  `json:"startedAt"`
	LastTickAt    int64  `json:"lastTickAt"`
	LastSuccessAt int64  `json:"lastSuccessAt"`
	Live          bool   `json:"live"`
	Error         string `json:"error,omitempty"`
	Stopped       bool   `json:"stopped"`
}

type SchedulerInterface interface {
	// Ensure starts a poller for the tenant unless one already polls the
	// same claim. It reports whether a poller was (re)created.
	Ensure(tenant, claimID string) bool
	Stop(tenant string)
	StopAll()
	// Refresh recreates a running poller with its current claim.
	Refresh(tenant string) bool
	Health() []HealthRecord
	Active() int
}

type MonitorInterface interface {
	Start()
	Stop()
	Check(ctx context.Context) CheckReport
}

type CheckReport struct {
	Refreshed  []string `json:"refreshed"`
	Discovered []string `json:"discovered"`
}
