package conversation

import (
	"context"
	"time"

	"crm-platform/pkg/logger"
	"crm-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Gate limits overlapping full syncs per tenant. Acquire returns ok=false
// when another sync holds the slot.
type Gate interface {
	Acquire(ctx context.Context, tenantID string) (release func(), ok bool, err error)
}

// RedisGate holds a per-tenant Redis lease while a full sync runs. The TTL
// frees the slot if a process dies mid-sync.
type RedisGate struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGate(rdb *redis.Client, ttl time.Duration) *RedisGate {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisGate{rdb: rdb, ttl: ttl}
}

func (g *RedisGate) Acquire(ctx context.Context, tenantID string) (func(), bool, error) {
	lease, ok, err := utils.AcquireLease(ctx, g.rdb, utils.TenantLeaseKey("sync", tenantID), g.ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	release := func() {
		if err := lease.Release(ctx); err != nil {
			logger.From(ctx).Warn("sync gate release failed", "tenant_id", tenantID, "err", err)
		}
	}
	return release, true, nil
}
