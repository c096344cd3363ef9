package providers

import (
	"fmt"
	"path/filepath"
	"shd/internal/structures"
	"strings"

	"github.com/spf13/viper"
)

var envBindings = map[string]string{
	"mode":                   "SHD_MODE",
	"logger.level":           "SHD_LOG_LEVEL",
	"storage.backend":        "SHD_STORAGE_BACKEND",
	"storage.dataDir":        "SHD_DATA_DIR",
	"storage.encryptionKey":  "SHD_ENCRYPTION_KEY",
	"storage.redis.addr":     "SHD_REDIS_ADDR",
	"storage.redis.password": "SHD_REDIS_PASSWORD",
	"poller.enabled":         "SHD_POLLER_ENABLED",
	"poller.interval":        "SHD_POLL_INTERVAL",
	"poller.apiUrl":          "SHD_LIVE_API_URL",
	"cache.enabled":          "SHD_CACHE_ENABLED",
	"cache.size":             "SHD_CACHE_SIZE",
	"metrics.enabled":        "SHD_METRICS_ENABLED",
}

func NewConfigProvider(flags *structures.CliFlags) (*structures.Config, error) {
	var conf structures.Config

	v := viper.New()
	filename := filepath.Base(flags.ConfigPath)
	v.AddConfigPath(filepath.Dir(flags.ConfigPath))
	v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	v.SetConfigType("yaml")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	err := v.ReadInConfig()
	if err != nil {
		return nil, err
	}

	err = v.Unmarshal(&conf)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	conf.SetDefaults()

	cnfValidator := NewCnfValidator(&conf)
	err = cnfValidator.Validate()
	if err != nil {
		return nil, err
	}

	conf.AppName = "StreamHistoryDaemon"
	conf.Path = flags.ConfigPath
	conf.Debug = flags.DebugMode

	return &conf, nil
}
