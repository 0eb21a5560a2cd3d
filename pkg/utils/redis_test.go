package utils

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestTenantLeaseKey(t *testing.T) {
	if got := TenantLeaseKey("sync", "t1"); got != "crm:lease:sync:t1" {
		t.Fatalf("unexpected key %q", got)
	}
	if TenantLeaseKey("sync", "t1") == TenantLeaseKey("sync", "t2") {
		t.Fatalf("tenants must not share a lease")
	}
}

func TestAcquireLease_ValidatesArguments(t *testing.T) {
	ctx := context.Background()
	if _, _, err := AcquireLease(ctx, nil, "k", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	// No command is sent, so the unreachable address is never dialled.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()
	if _, _, err := AcquireLease(ctx, rdb, "", time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, _, err := AcquireLease(ctx, rdb, "k", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestLease_NilReleaseIsNoop(t *testing.T) {
	var l *Lease
	if err := l.Release(context.Background()); err != nil {
		t.Fatalf("expected nil lease release to succeed, got %v", err)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{}.withDefaults()
	if c.PoolSize != 20 || c.IOTimeout <= 0 || c.PingTimeout <= 0 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

// Runs against a real server when CRM_TEST_REDIS_ADDR is set.
func TestLease_SingleHolderPerTenant(t *testing.T) {
	addr := os.Getenv("CRM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CRM_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := OpenRedis(ctx, RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()

	key := TenantLeaseKey("test", t.Name())
	defer rdb.Del(ctx, key)

	first, ok, err := AcquireLease(ctx, rdb, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, err := AcquireLease(ctx, rdb, key, time.Minute); err != nil || ok {
		t.Fatalf("second acquire must be refused: ok=%v err=%v", ok, err)
	}

	// A cancelled caller still releases.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := first.Release(cancelled); err != nil {
		t.Fatalf("release: %v", err)
	}

	again, ok, err := AcquireLease(ctx, rdb, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	// A stale holder cannot free the new owner's lease.
	if err := first.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if owner, _ := rdb.Get(ctx, key).Result(); owner != again.owner {
		t.Fatalf("stale release dropped the new lease")
	}
}
