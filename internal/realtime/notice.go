// Package realtime fans conversation change notices out to connected clients.
//
// Push is an optimization only: clients fetch the single changed row on a
// notice and still run a periodic full-list poll to heal anything missed.
package realtime

import (
	"context"
	"time"
)

type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
)

// Notice is a lightweight pointer to a changed conversation. It never carries
// row contents; subscribers fetch the row themselves.
type Notice struct {
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Kind           Kind      `json:"kind"`
	At             time.Time `json:"at"`
}

// Publisher emits notices on the tenant-scoped channel.
type Publisher interface {
	Publish(ctx context.Context, n Notice) error
}

// Subscriber delivers a tenant's notices until ctx is done or cancel is called.
type Subscriber interface {
	Subscribe(ctx context.Context, tenantID string) (<-chan Notice, func(), error)
}

// Channel is the pub/sub channel name for a tenant.
func Channel(tenantID string) string {
	return "crm:conversations:" + tenantID
}

// Discard is a Publisher that drops every notice.
type Discard struct{}

func (Discard) Publish(context.Context, Notice) error { return nil }
