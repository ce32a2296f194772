package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/Redflag/internal/scoring"
)

// SnapshotCache shares the last fully computed weight snapshot between replicas.
// Load returns (nil, nil) when nothing is cached.
type SnapshotCache interface {
	Load(ctx context.Context) (*scoring.WeightSnapshot, error)
	Store(ctx context.Context, s *scoring.WeightSnapshot) error
	Close() error
}

// storeIfNewer writes the snapshot only when its version is higher than the cached
// one. Versions are minted by the database for every replica, so a slow replica
// cannot roll the cache back.
var storeIfNewer = goredis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "version")
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[1], "payload", ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call("EXPIRE", KEYS[1], ARGV[3])
end
return 1
`)

type RedisSnapshotCache struct {
	rdb *goredis.Client
	key string
	ttl time.Duration
}

func NewRedisSnapshotCache(ctx context.Context, url, prefix string, ttl time.Duration) (*RedisSnapshotCache, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisSnapshotCache(rdb, prefix, ttl), nil
}

func newRedisSnapshotCache(rdb *goredis.Client, prefix string, ttl time.Duration) *RedisSnapshotCache {
	if prefix == "" {
		prefix = "redflag"
	}
	return &RedisSnapshotCache{rdb: rdb, key: prefix + ":weights:current", ttl: ttl}
}

func (c *RedisSnapshotCache) Load(ctx context.Context) (*scoring.WeightSnapshot, error) {
	raw, err := c.rdb.HGet(ctx, c.key, "payload").Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load snapshot: %w", err)
	}
	var s scoring.WeightSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

func (c *RedisSnapshotCache) Store(ctx context.Context, s *scoring.WeightSnapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := storeIfNewer.Run(ctx, c.rdb, []string{c.key}, s.Version, payload, int64(c.ttl.Seconds())).Err(); err != nil {
		return fmt.Errorf("redis store snapshot: %w", err)
	}
	return nil
}

func (c *RedisSnapshotCache) Close() error {
	return c.rdb.Close()
}

// MemorySnapshotCache is a process-local SnapshotCache for single-instance runs and tests.
type MemorySnapshotCache struct {
	mu   sync.Mutex
	snap *scoring.WeightSnapshot
}

func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{}
}

func (c *MemorySnapshotCache) Load(_ context.Context) (*scoring.WeightSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, nil
}

func (c *MemorySnapshotCache) Store(_ context.Context, s *scoring.WeightSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap != nil && c.snap.Version >= s.Version {
		return nil
	}
	c.snap = s
	return nil
}

func (c *MemorySnapshotCache) Close() error { return nil }
