package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"shd/internal/livestatus"
	"shd/internal/models"
	"shd/internal/poller/interfaces"
	"shd/internal/providers"
)

// MockLogger implements providers.Logger and records calls.
type MockLogger struct {
	mu     sync.Mutex
	Logs   []LogEntry
	Closed bool
}

type LogEntry struct {
	Level  string
	Type   providers.TypeEnum
	Format string
	Args   []interface{}
}

func (e LogEntry) Message() string {
	return fmt.Sprintf(e.Format, e.Args...)
}

func (m *MockLogger) record(level string, t providers.TypeEnum, format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, LogEntry{Level: level, Type: t, Format: format, Args: args})
}

func (m *MockLogger) Errorf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("error", t, format, args...)
}
func (m *MockLogger) Warnf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("warn", t, format, args...)
}
func (m *MockLogger) Debugf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("debug", t, format, args...)
}
func (m *MockLogger) Infof(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("info", t, format, args...)
}
func (m *MockLogger) Fatalf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("fatal", t, format, args...)
}
func (m *MockLogger) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
}

// Contains reports whether any message at level contains substr.
func (m *MockLogger) Contains(level, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Logs {
		if e.Level == level && strings.Contains(e.Message(), substr) {
			return true
		}
	}
	return false
}

// MockCache implements providers.CacheProviderInterface.
type MockCache struct {
	mu   sync.Mutex
	Data map[string][]byte
}

func NewMockCache() *MockCache {
	return &MockCache{Data: make(map[string][]byte)}
}

func (m *MockCache) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.Data[key]
	return val, ok
}

func (m *MockCache) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Data[key] = value
}

func (m *MockCache) Stats() providers.CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return providers.CacheStats{Enabled: true, Entries: int64(len(m.Data))}
}

// MockCompressor implements storage.CompressorInterface with injectable behavior.
type MockCompressor struct {
	CompressFn   func([]byte) ([]byte, error)
	DecompressFn func([]byte) ([]byte, error)
	Closed       bool
}

func (m *MockCompressor) Compress(val []byte) ([]byte, error) {
	if m.CompressFn != nil {
		return m.CompressFn(val)
	}
	// Default: return as-is (identity)
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *MockCompressor) Decompress(val []byte) ([]byte, error) {
	if m.DecompressFn != nil {
		return m.DecompressFn(val)
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *MockCompressor) Close() {
	m.Closed = true
}

var ErrMockSave = errors.New("mock save failure")

// MockBackend is an in-memory storage.Backend that records every
// changeset it is asked to persist.
type MockBackend struct {
	mu         sync.Mutex
	Histories  map[string]*models.History
	Claims     map[string]string
	Changesets map[string][]models.Changeset
	LoadCalls  int
	FailSave   bool
	FailLoad   bool
	ConfigErr  error
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		Histories:  make(map[string]*models.History),
		Claims:     make(map[string]string),
		Changesets: make(map[string][]models.Changeset),
	}
}

func (m *MockBackend) Load(_ context.Context, tenant string) (*models.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoadCalls++
	if m.FailLoad {
		return nil, errors.New("mock load failure")
	}
	if h, ok := m.Histories[tenant]; ok {
		return h.Clone(), nil
	}
	return models.NewHistory(), nil
}

func (m *MockBackend) Save(_ context.Context, tenant string, h *models.History, cs models.Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave {
		return ErrMockSave
	}
	if cs.Empty() {
		return nil
	}
	m.Histories[tenant] = h.Clone()
	m.Changesets[tenant] = append(m.Changesets[tenant], cs)
	return nil
}

func (m *MockBackend) KnownTenants(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Histories))
	for tenant := range m.Histories {
		out = append(out, tenant)
	}
	return out, nil
}

func (m *MockBackend) ClaimID(_ context.Context, tenant string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConfigErr != nil {
		return "", m.ConfigErr
	}
	return m.Claims[tenant], nil
}

func (m *MockBackend) SetClaimID(_ context.Context, tenant, claimID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConfigErr != nil {
		return m.ConfigErr
	}
	if claimID == "" {
		delete(m.Claims, tenant)
		return nil
	}
	m.Claims[tenant] = claimID
	return nil
}

func (m *MockBackend) ConfiguredTenants(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.Claims))
	for k, v := range m.Claims {
		out[k] = v
	}
	return out, nil
}

func (m *MockBackend) Close() error { return nil }

func (m *MockBackend) Saved(tenant string) []models.Changeset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Changeset(nil), m.Changesets[tenant]...)
}

// MockLiveClient implements livestatus.ClientInterface.
type MockLiveClient struct {
	mu       sync.Mutex
	Statuses map[string]livestatus.Status
	Err      error
	FetchFn  func(ctx context.Context, claimID string) (livestatus.Status, error)
	Calls    []string
}

func NewMockLiveClient() *MockLiveClient {
	return &MockLiveClient{Statuses: make(map[string]livestatus.Status)}
}

func (m *MockLiveClient) Fetch(ctx context.Context, claimID string) (livestatus.Status, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, claimID)
	fn, err, st := m.FetchFn, m.Err, m.Statuses[claimID]
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, claimID)
	}
	return st, err
}

func (m *MockLiveClient) Set(claimID string, st livestatus.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[claimID] = st
}

func (m *MockLiveClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockScheduler implements interfaces.SchedulerInterface without goroutines.
type MockScheduler struct {
	mu        sync.Mutex
	Records   []interfaces.HealthRecord
	Claims    map[string]string
	Refreshed []string
	Stopped   []string
}

func NewMockScheduler() *MockScheduler {
	return &MockScheduler{Claims: make(map[string]string)}
}

func (m *MockScheduler) Ensure(tenant, claimID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if claimID == "" {
		delete(m.Claims, tenant)
		return false
	}
	if m.Claims[tenant] == claimID {
		return false
	}
	m.Claims[tenant] = claimID
	return true
}

func (m *MockScheduler) Stop(tenant string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Claims, tenant)
	m.Stopped = append(m.Stopped, tenant)
}

func (m *MockScheduler) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Claims = make(map[string]string)
}

func (m *MockScheduler) Refresh(tenant string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refreshed = append(m.Refreshed, tenant)
	return true
}

// Health returns Records when set, otherwise one running record per claim.
func (m *MockScheduler) Health() []interfaces.HealthRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Records != nil {
		return append([]interfaces.HealthRecord(nil), m.Records...)
	}
	out := make([]interfaces.HealthRecord, 0, len(m.Claims))
	for tenant, claimID := range m.Claims {
		out = append(out, interfaces.HealthRecord{Tenant: tenant, ClaimID: claimID})
	}
	return out
}

func (m *MockScheduler) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Claims)
}
