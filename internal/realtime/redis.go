package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"crm-platform/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisBroadcaster publishes and subscribes through Redis Pub/Sub so every
// API replica sees notices produced by any other replica or worker.
type RedisBroadcaster struct {
	rdb *redis.Client
}

func NewRedisBroadcaster(rdb *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, n Notice) error {
	if b == nil || b.rdb == nil {
		return errors.New("realtime: redis client is nil")
	}
	if n.TenantID == "" || n.ConversationID == "" {
		return errors.New("realtime: tenant and conversation are required")
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Channel(n.TenantID), payload).Err()
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, tenantID string) (<-chan Notice, func(), error) {
	if b == nil || b.rdb == nil {
		return nil, nil, errors.New("realtime: redis client is nil")
	}
	ps := b.rdb.Subscribe(ctx, Channel(tenantID))
	// Receive confirms the subscription before returning.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan Notice, 64)
	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var n Notice
				if err := json.Unmarshal([]byte(m.Payload), &n); err != nil {
					logger.From(ctx).Warn("realtime notice decode failed", "channel", m.Channel, "err", err)
					continue
				}
				select {
				case out <- n:
				default:
					// Slow consumer: dropping is safe, the poll heals it.
				}
			}
		}
	}()
	return out, cancel, nil
}
