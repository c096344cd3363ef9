package providers

import (
	"unsafe"

	"github.com/coocood/freecache"

	"shd/internal/structures"
)

// CacheProviderInterface caches rendered analytics responses. Keys carry the
// tenant revision, so entries of older revisions are never read again and
// age out through the TTL or freecache eviction.
type CacheProviderInterface interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Stats() CacheStats
}

type CacheStats struct {
	Enabled     bool    `json:"enabled"`
	Entries     int64   `json:"entries"`
	HitRate     float64 `json:"hit_rate"`
	Evacuations int64   `json:"evacuations"`
	Expired     int64   `json:"expired"`
}

type CacheProvider struct {
	cache *freecache.Cache
	ttl   int
}

func NewCacheProvider(conf *structures.Config, logger Logger) CacheProviderInterface {
	if !conf.Cache.Enabled || conf.Cache.Size <= 0 {
		logger.Infof(TypeApp, "Response cache disabled")
		return &noopCache{}
	}

	sizeBytes := conf.Cache.Size * 1024 * 1024
	ttl := max(int(conf.Cache.TTL.Seconds()), 1)

	logger.Infof(TypeApp, "Response cache initialized: %dMB, TTL=%ds", conf.Cache.Size, ttl)

	return &CacheProvider{
		cache: freecache.NewCache(sizeBytes),
		ttl:   ttl,
	}
}

// unsafeStringToBytes converts string to []byte without allocation.
// Safe when the result is only read (not modified), which is the case
// for freecache, which copies keys internally.
func unsafeStringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func (c *CacheProvider) Get(key string) ([]byte, bool) {
	val, err := c.cache.Get(unsafeStringToBytes(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set drops values freecache refuses (larger than 1/1024 of the cache);
// the response is then recomputed on every request.
func (c *CacheProvider) Set(key string, value []byte) {
	_ = c.cache.Set(unsafeStringToBytes(key), value, c.ttl)
}

func (c *CacheProvider) Stats() CacheStats {
	return CacheStats{
		Enabled:     true,
		Entries:     c.cache.EntryCount(),
		HitRate:     c.cache.HitRate(),
		Evacuations: c.cache.EvacuateCount(),
		Expired:     c.cache.ExpiredCount(),
	}
}

type noopCache struct{}

func (n *noopCache) Get(_ string) ([]byte, bool) { return nil, false }
func (n *noopCache) Set(_ string, _ []byte)      {}
func (n *noopCache) Stats() CacheStats           { return CacheStats{} }
