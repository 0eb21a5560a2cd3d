package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the shared client. Zero values fall back to
// conservative defaults.
type RedisConfig struct {
	Addr     string
	PoolSize int

	DialTimeout time.Duration
	IOTimeout   time.Duration
	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = 2 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 2 * time.Second
	}
	return c
}

// OpenRedis returns a client that has answered PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	cfg = cfg.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		PoolSize:        cfg.PoolSize,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.IOTimeout,
		WriteTimeout:    cfg.IOTimeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// TenantLeaseKey names the per-tenant lease for one kind of job,
// e.g. TenantLeaseKey("sync", "t1") is "crm:lease:sync:t1".
func TenantLeaseKey(job, tenantID string) string {
	return "crm:lease:" + job + ":" + tenantID
}

// Lease is a single-holder lock on a Redis key. The owner token makes
// Release a no-op once the TTL has handed the key to someone else.
type Lease struct {
	rdb   *redis.Client
	key   string
	owner string
}

// releaseLeaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireLease takes key for ttl. ok is false when another holder has it.
func AcquireLease(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (*Lease, bool, error) {
	switch {
	case rdb == nil:
		return nil, false, errors.New("redis client is nil")
	case key == "":
		return nil, false, errors.New("lease key is required")
	case ttl <= 0:
		return nil, false, errors.New("lease ttl must be > 0")
	}

	owner := uuid.NewString()
	ok, err := rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{rdb: rdb, key: key, owner: owner}, true, nil
}

// Release frees the lease. It outlives a cancelled ctx so a request that
// ends mid-job still hands the key back, bounded by a short timeout.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := releaseLeaseScript.Run(rctx, l.rdb, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// Key is the Redis key the lease holds.
func (l *Lease) Key() string { return l.key }
