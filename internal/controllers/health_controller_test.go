package controllers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shd/internal/poller/interfaces"
	"shd/internal/structures"
	"shd/internal/testutil"
)

func healthConfig() *structures.Config {
	conf := &structures.Config{
		Mode:    structures.ModeLocal,
		Storage: structures.StorageConfig{Backend: "file", DataDir: "/tmp/shd"},
	}
	conf.SetDefaults()
	return conf
}

func TestHealth_ReturnsOK(t *testing.T) {
	now := time.Now().UnixMilli()
	sched := testutil.NewMockScheduler()
	sched.Ensure("alice", "c1")
	sched.Ensure("bob", "c2")
	sched.Records = []interfaces.HealthRecord{
		{Tenant: "alice", ClaimID: "c1", StartedAt: now},
		{Tenant: "bob", ClaimID: "c2", StartedAt: now, LastSuccessAt: now},
	}
	hc := NewHealthController(healthConfig(), sched, testutil.NewMockCache())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	hc.Health(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Contains(t, resp, "uptime")
	assert.Contains(t, resp, "uptime_seconds")
	assert.Equal(t, "local", resp["mode"])
	assert.Equal(t, "file", resp["backend"])
	assert.Equal(t, float64(2), resp["active_pollers"])
	assert.Len(t, resp["pollers"], 2)
	assert.Contains(t, resp, "cache")
}

func TestHealth_DegradedWhenPollerIsStale(t *testing.T) {
	conf := healthConfig()
	now := time.Now().UnixMilli()
	sched := testutil.NewMockScheduler()
	sched.Records = []interfaces.HealthRecord{
		{Tenant: "alice", StartedAt: now, LastSuccessAt: now},
		{Tenant: "bob", StartedAt: now - 2*conf.StaleAfter().Milliseconds()},
		{Tenant: "carol", Stopped: true},
	}
	hc := NewHealthController(conf, sched, testutil.NewMockCache())

	rr := httptest.NewRecorder()
	hc.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, 1, resp.StalePollers)
	assert.Len(t, resp.Pollers, 3)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"zero", 0, "0h0m0s"},
		{"one minute", 60 * time.Second, "0h1m0s"},
		{"one hour", time.Hour, "1h0m0s"},
		{"mixed", time.Hour + time.Minute + time.Second, "1h1m1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
