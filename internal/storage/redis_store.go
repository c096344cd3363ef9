package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"shd/internal/models"
	"shd/internal/providers"
	"shd/internal/structures"
)

const (
	defaultRedisPrefix = "shd"
	defaultChunkSize   = 500
)

// RedisStore keeps segments as one sealed blob and samples and tips as
// lists of individually sealed entries, so regular ticks only append.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	chunkSize int
	maxFetch  int
	sealer    *Sealer
	logger    providers.Logger

	// partial holds list keys whose last load skipped entries. Their
	// positions no longer match the loaded slice, so the next save rewrites
	// them instead of trimming from the head.
	mu      sync.Mutex
	partial map[string]struct{}
}

func NewRedisStore(conf structures.RedisConfig, sealer *Sealer, logger providers.Logger) (*RedisStore, error) {
	if conf.Addr == "" {
		return nil, fmt.Errorf("redis backend requires storage.redis.addr")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", conf.Addr, err)
	}

	s := &RedisStore{
		client:    client,
		prefix:    conf.Prefix,
		chunkSize: conf.ChunkSize,
		maxFetch:  conf.MaxFetch,
		sealer:    sealer,
		logger:    logger,
		partial:   make(map[string]struct{}),
	}
	if s.prefix == "" {
		s.prefix = defaultRedisPrefix
	}
	if s.chunkSize <= 0 {
		s.chunkSize = defaultChunkSize
	}
	return s, nil
}

func (r *RedisStore) key(tenant, kind string) string {
	return r.prefix + ":" + tenant + ":" + kind
}

func (r *RedisStore) tenantsKey() string { return r.prefix + ":tenants" }
func (r *RedisStore) configKey() string  { return r.prefix + ":config" }

func (r *RedisStore) Load(ctx context.Context, tenant string) (*models.History, error) {
	if err := checkTenant(tenant); err != nil {
		return nil, err
	}
	if err := r.migrateLegacy(ctx, tenant); err != nil {
		return nil, err
	}

	h := models.NewHistory()
	raw, err := r.client.Get(ctx, r.key(tenant, "segments")).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("read segments of %s: %w", tenant, err)
	default:
		if err := r.unseal(raw, &h.Segments); err != nil {
			return nil, fmt.Errorf("decode segments of %s: %w", tenant, err)
		}
	}

	if h.Samples, err = readList[models.Sample](ctx, r, tenant, "samples"); err != nil {
		return nil, err
	}
	if h.TipEvents, err = readList[models.TipEvent](ctx, r, tenant, "tips"); err != nil {
		return nil, err
	}
	return h.Normalize(), nil
}

func (r *RedisStore) markPartial(key string, partial bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if partial {
		r.partial[key] = struct{}{}
	} else {
		delete(r.partial, key)
	}
}

func (r *RedisStore) isPartial(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.partial[key]
	return ok
}

// readList pages through a list with LRANGE. With maxFetch set only the
// newest maxFetch entries are read.
func readList[T any](ctx context.Context, r *RedisStore, tenant, kind string) ([]T, error) {
	key := r.key(tenant, kind)
	n, err := r.client.LLen(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("llen %s: %w", key, err)
	}
	var start int64
	if r.maxFetch > 0 && n > int64(r.maxFetch) {
		start = n - int64(r.maxFetch)
		r.logger.Warnf(providers.TypeStorage, "Read of %s truncated: %d of %d entries", key, r.maxFetch, n)
	}

	out := make([]T, 0, n-start)
	for i := start; i < n; i += int64(r.chunkSize) {
		stop := min(i+int64(r.chunkSize), n) - 1
		vals, err := r.client.LRange(ctx, key, i, stop).Result()
		if err != nil {
			return nil, fmt.Errorf("lrange %s: %w", key, err)
		}
		for _, v := range vals {
			var item T
			if err := r.unseal([]byte(v), &item); err != nil {
				r.logger.Warnf(providers.TypeStorage, "Dropping unreadable entry of %s: %v", key, err)
				continue
			}
			out = append(out, item)
		}
	}
	r.markPartial(key, int64(len(out)) != n)
	return out, nil
}

// migrateLegacy rewrites a single-blob history into the list form once.
func (r *RedisStore) migrateLegacy(ctx context.Context, tenant string) error {
	legacyKey := r.key(tenant, "history")
	raw, err := r.client.Get(ctx, legacyKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read legacy history of %s: %w", tenant, err)
	}

	exists, err := r.client.Exists(ctx, r.key(tenant, "segments"), r.key(tenant, "samples")).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		r.logger.Warnf(providers.TypeStorage, "Dropping legacy history of %s, list form already present", tenant)
		return r.client.Del(ctx, legacyKey).Err()
	}

	var legacy models.History
	if err := r.unseal(raw, &legacy); err != nil {
		return fmt.Errorf("decode legacy history of %s: %w", tenant, err)
	}
	clean, report := models.Sanitize(&legacy)
	if err := r.Save(ctx, tenant, clean, models.ReplaceAllChangeset()); err != nil {
		return fmt.Errorf("migrate legacy history of %s: %w", tenant, err)
	}
	r.logger.Infof(providers.TypeStorage, "Migrated legacy history of %s (%d segments, %d samples, dropped %+v)",
		tenant, len(clean.Segments), len(clean.Samples), report)
	return nil
}

func (r *RedisStore) Save(ctx context.Context, tenant string, h *models.History, cs models.Changeset) error {
	if err := checkTenant(tenant); err != nil {
		return err
	}
	if cs.Empty() {
		return nil
	}
	segKey, samplesKey, tipsKey := r.key(tenant, "segments"), r.key(tenant, "samples"), r.key(tenant, "tips")

	var (
		segments      []byte
		samples, tips []interface{}
		err           error
	)
	if cs.ReplaceAll || cs.SegmentsDirty {
		if segments, err = r.seal(h.Normalize().Segments); err != nil {
			return err
		}
	}
	pendingSamples, pendingTips := cs.PendingSamples, cs.PendingTips
	rewriteSamples := cs.ReplaceAll || r.isPartial(samplesKey)
	rewriteTips := cs.ReplaceAll || r.isPartial(tipsKey)
	if rewriteSamples {
		pendingSamples = h.Samples
	}
	if rewriteTips {
		pendingTips = h.TipEvents
	}
	if samples, err = sealAll(r, pendingSamples); err != nil {
		return err
	}
	if tips, err = sealAll(r, pendingTips); err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if cs.ReplaceAll {
			pipe.Del(ctx, segKey, r.key(tenant, "history"))
		}
		if rewriteSamples {
			pipe.Del(ctx, samplesKey)
		}
		if rewriteTips {
			pipe.Del(ctx, tipsKey)
		}
		if segments != nil {
			pipe.Set(ctx, segKey, segments, 0)
		}
		if len(samples) > 0 {
			pipe.RPush(ctx, samplesKey, samples...)
		}
		if len(tips) > 0 {
			pipe.RPush(ctx, tipsKey, tips...)
		}
		if !rewriteSamples && cs.SamplesTrimmed > 0 {
			pipe.LTrim(ctx, samplesKey, int64(cs.SamplesTrimmed), -1)
		}
		if !rewriteTips && cs.TipsTrimmed > 0 {
			pipe.LTrim(ctx, tipsKey, int64(cs.TipsTrimmed), -1)
		}
		pipe.SAdd(ctx, r.tenantsKey(), tenant)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save history of %s: %w", tenant, err)
	}
	if rewriteSamples {
		r.markPartial(samplesKey, false)
	}
	if rewriteTips {
		r.markPartial(tipsKey, false)
	}
	return nil
}

func (r *RedisStore) KnownTenants(ctx context.Context) ([]string, error) {
	tenants, err := r.client.SMembers(ctx, r.tenantsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (r *RedisStore) ClaimID(ctx context.Context, tenant string) (string, error) {
	if err := checkTenant(tenant); err != nil {
		return "", err
	}
	claimID, err := r.client.HGet(ctx, r.configKey(), tenant).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return claimID, err
}

func (r *RedisStore) SetClaimID(ctx context.Context, tenant, claimID string) error {
	if err := checkTenant(tenant); err != nil {
		return err
	}
	if claimID == "" {
		return r.client.HDel(ctx, r.configKey(), tenant).Err()
	}
	return r.client.HSet(ctx, r.configKey(), tenant, claimID).Err()
}

func (r *RedisStore) ConfiguredTenants(ctx context.Context) (map[string]string, error) {
	return r.client.HGetAll(ctx, r.configKey()).Result()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) seal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return r.sealer.Seal(data)
}

func (r *RedisStore) unseal(raw []byte, v interface{}) error {
	data, err := r.sealer.Open(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func sealAll[T any](r *RedisStore, items []T) ([]interface{}, error) {
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		sealed, err := r.seal(item)
		if err != nil {
			return nil, err
		}
		out = append(out, sealed)
	}
	return out, nil
}
