package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - Audit writes are best-effort; lifecycle flows never fail because of them.
type Event struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event, empty for workers.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// Target identifiers (optional, depending on the event type).
	InstanceID     string `json:"instance_id,omitempty" db:"instance_id"`
	ConversationID string `json:"conversation_id,omitempty" db:"conversation_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventInstanceProvisioned         EventType = "instance_provisioned"
	EventInstanceProvisioningPartial EventType = "instance_provisioning_partial"
	EventInstanceRepaired            EventType = "instance_repaired"
	EventInstanceDeprovisioned       EventType = "instance_deprovisioned"
	EventInstanceReconnected         EventType = "instance_reconnected"
	EventInstanceStatusChanged       EventType = "instance_status_changed"
	EventConversationStageChanged    EventType = "conversation_stage_changed"
	EventWebhookRetryExhausted       EventType = "webhook_retry_exhausted"
)
