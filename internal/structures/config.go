package structures

import "time"

const (
	ModeLocal  = "local"
	ModeHosted = "hosted"

	BackendFile   = "file"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

type Server struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required|uint|min:1"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required|in:trace,debug,info,warn,error,fatal,panic"`
	Mode  uint32 `yaml:"mode" validate:"required|uint"`
	Dir   string `yaml:"dir" validate:"required|unixPath"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Prefix    string `yaml:"prefix"`
	ChunkSize int    `yaml:"chunkSize"`
	MaxFetch  int    `yaml:"maxFetch"`
}

type StorageConfig struct {
	Backend       string      `yaml:"backend" validate:"required|in:file,badger,redis"`
	DataDir       string      `yaml:"dataDir"`
	EncryptionKey string      `yaml:"encryptionKey"`
	Redis         RedisConfig `yaml:"redis"`
}

// HistoryConfig holds retention limits and the live-time reconstruction policy.
type HistoryConfig struct {
	MaxDays         int           `yaml:"maxDays"`
	MaxSamples      int           `yaml:"maxSamples"`
	FreshnessWindow time.Duration `yaml:"freshnessWindow"`
	MaxOpenSegment  time.Duration `yaml:"maxOpenSegment"`
	PadRatio        float64       `yaml:"padRatio"`
	PadCap          time.Duration `yaml:"padCap"`
	MaxSampleGap    time.Duration `yaml:"maxSampleGap"`
	RecentStreams   int           `yaml:"recentStreams"`
	// IdleEvict drops the in-memory copy of a tenant's history after this
	// long without access. A negative value disables eviction.
	IdleEvict time.Duration `yaml:"idleEvict"`
}

type PollerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Interval        time.Duration `yaml:"interval"`
	Timeout         time.Duration `yaml:"timeout"`
	ApiURL          string        `yaml:"apiUrl"`
	StaleMultiplier int           `yaml:"staleMultiplier"`
	HealthInterval  time.Duration `yaml:"healthInterval"`
}

type ModerationConfig struct {
	BlockedTenants  []string `yaml:"blockedTenants"`
	BlockedClaimIDs []string `yaml:"blockedClaimIds"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	AppName    string
	Debug      bool
	Path       string
	Mode       string           `yaml:"mode" validate:"required|in:local,hosted"`
	WebServer  Server           `yaml:"webServer"`
	Logger     LoggerConfig     `yaml:"logger"`
	Storage    StorageConfig    `yaml:"storage"`
	History    HistoryConfig    `yaml:"history"`
	Poller     PollerConfig     `yaml:"poller"`
	Moderation ModerationConfig `yaml:"moderation"`
	Cache      CacheConfig      `yaml:"cache"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

func (c *Config) Hosted() bool {
	return c.Mode == ModeHosted
}

// StaleAfter is the age of a poller's last success after which the health
// monitor forces a refresh.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Poller.StaleMultiplier) * c.Poller.Interval
}

// SetDefaults fills zero values that have a sensible default.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = ModeLocal
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFile
	}
	p := &c.Poller
	if p.Interval <= 0 {
		p.Interval = time.Minute
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	if p.StaleMultiplier <= 0 {
		p.StaleMultiplier = 3
	}
	if p.HealthInterval <= 0 {
		p.HealthInterval = 5 * time.Minute
	}
	h := &c.History
	if h.MaxDays <= 0 {
		h.MaxDays = 400
	}
	if h.MaxSamples <= 0 {
		h.MaxSamples = 50000
	}
	if h.FreshnessWindow <= 0 {
		// a live segment survives the same number of missed ticks as a poller
		h.FreshnessWindow = c.StaleAfter()
	}
	if h.MaxOpenSegment <= 0 {
		h.MaxOpenSegment = 12 * time.Hour
	}
	if h.PadRatio <= 0 {
		h.PadRatio = 0.5
	}
	if h.PadCap <= 0 {
		h.PadCap = 5 * time.Minute
	}
	if h.MaxSampleGap <= 0 {
		h.MaxSampleGap = 15 * time.Minute
	}
	if h.RecentStreams <= 0 {
		h.RecentStreams = 5
	}
	if h.IdleEvict == 0 {
		h.IdleEvict = 30 * time.Minute
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 30 * time.Second
	}
}

// Blocked reports whether moderation holds the tenant or the stream identifier.
func (m ModerationConfig) Blocked(tenant, claimID string) bool {
	for _, t := range m.BlockedTenants {
		if t == tenant {
			return true
		}
	}
	if claimID == "" {
		return false
	}
	for _, c := range m.BlockedClaimIDs {
		if c == claimID {
			return true
		}
	}
	return false
}
