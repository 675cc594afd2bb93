package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/canopy-network/spendq/pkg/cache"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const (
	cachePrefix = "spendq:cache:"
	epochPrefix = "spendq:cache-epoch:"
)

// KV is the subset of the Redis API the remote cache tier needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// RemoteCache stores cache entries as JSON under
// spendq:cache:<tenant>:<table>:<hash> with the entry's remaining TTL.
type RemoteCache struct {
	kv  KV
	now func() time.Time
}

func NewRemoteCache(kv KV) *RemoteCache {
	return &RemoteCache{kv: kv, now: time.Now}
}

// CacheKey is the Redis key of fp.
func CacheKey(fp cache.Fingerprint) string {
	return cachePrefix + fp.TenantID + ":" + fp.Table + ":" + fp.Hash
}

// EpochKey is the Redis key holding the invalidation epoch of a scope.
func EpochKey(tenantID, table string) string {
	return epochPrefix + tenantID + ":" + table
}

func scopePattern(tenantID, table string) string {
	return cachePrefix + escapeGlob(tenantID) + ":" + escapeGlob(table) + ":*"
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}

func (r *RemoteCache) Get(ctx context.Context, fp cache.Fingerprint) (cache.Entry, bool, error) {
	raw, err := r.kv.Get(ctx, CacheKey(fp)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, eris.Wrap(err, "redis get")
	}
	var e cache.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return cache.Entry{}, false, eris.Wrap(err, "decode cache entry")
	}
	if e.Fingerprint != fp {
		return cache.Entry{}, false, nil
	}
	return e, true, nil
}

func (r *RemoteCache) Set(ctx context.Context, e cache.Entry) error {
	ttl := e.Remaining(r.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "encode cache entry")
	}
	return eris.Wrap(r.kv.Set(ctx, CacheKey(e.Fingerprint), raw, ttl).Err(), "redis set")
}

// DeleteScope advances the scope epoch, then removes every entry of
// (tenantID, table). The epoch is bumped first so entries written by peers
// that have not rebuilt yet stay behind it.
func (r *RemoteCache) DeleteScope(ctx context.Context, tenantID, table string) (uint64, error) {
	epoch, err := r.kv.Incr(ctx, EpochKey(tenantID, table)).Uint64()
	if err != nil {
		return 0, eris.Wrap(err, "redis incr epoch")
	}
	pattern := scopePattern(tenantID, table)
	var cursor uint64
	for {
		keys, next, err := r.kv.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return 0, eris.Wrapf(err, "redis scan %s", pattern)
		}
		if len(keys) > 0 {
			if err := r.kv.Del(ctx, keys...).Err(); err != nil {
				return 0, eris.Wrap(err, "redis del")
			}
		}
		if next == 0 {
			return epoch, nil
		}
		cursor = next
	}
}
