package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crm-platform/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, tenantID string, limit int) ([]Event, error)
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Records are exposed to tenant owners only.
// - Callers should treat audit logging as best-effort (see Record).
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// Record appends and only logs a failure. Nil services are allowed.
func (s *Service) Record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", e.Type, "tenant_id", e.TenantID, "err", err)
	}
}

// LogInstance records an instance lifecycle event.
func (s *Service) LogInstance(ctx context.Context, tenantID, actorUserID string, typ EventType, instanceID, message string, metadata any) {
	s.Record(ctx, Event{
		TenantID:    tenantID,
		Type:        typ,
		ActorUserID: actorUserID,
		InstanceID:  instanceID,
		Message:     message,
		Metadata:    encodeMetadata(metadata),
	})
}

// LogConversation records a conversation mutation made on behalf of a caller.
func (s *Service) LogConversation(ctx context.Context, tenantID, actorUserID string, typ EventType, conversationID, message string, metadata any) {
	s.Record(ctx, Event{
		TenantID:       tenantID,
		Type:           typ,
		ActorUserID:    actorUserID,
		ConversationID: conversationID,
		Message:        message,
		Metadata:       encodeMetadata(metadata),
	})
}

// Recent returns the newest events of a tenant.
func (s *Service) Recent(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	if tenantID == "" {
		return nil, ErrInvalidEvent
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, tenantID, limit)
}

func encodeMetadata(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
