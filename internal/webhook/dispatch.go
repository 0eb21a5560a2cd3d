package webhook

import (
	"context"
	"errors"

	"crm-platform/internal/conversation"
	"crm-platform/internal/platform"
	"crm-platform/pkg/logger"
)

// ConversationSyncer is the part of the conversation reconciler the
// dispatcher needs.
type ConversationSyncer interface {
	SyncConversation(ctx context.Context, tenantID string, platformID int64, latest *platform.Message) (conversation.Conversation, error)
	ApplyRemoteContact(ctx context.Context, tenantID string, c platform.Contact) (conversation.Contact, error)
}

// PlatformHandler routes platform events to the reconciler. Payloads only
// say which record changed; the record itself is re-read from the platform
// so out-of-order or duplicate deliveries converge on the same row.
type PlatformHandler struct {
	conv ConversationSyncer
}

func NewPlatformHandler(conv ConversationSyncer) *PlatformHandler {
	return &PlatformHandler{conv: conv}
}

func (h *PlatformHandler) Handle(ctx context.Context, e Event) error {
	ev, err := platform.ParseEvent(e.Payload)
	if err != nil {
		return err
	}

	switch ev.Type {
	case platform.EventConversationCreated, platform.EventConversationUpdated, platform.EventConversationStatusChanged:
		_, err = h.conv.SyncConversation(ctx, e.TenantID, ev.Conversation.ID, nil)

	case platform.EventMessageCreated, platform.EventMessageUpdated:
		_, err = h.conv.SyncConversation(ctx, e.TenantID, ev.Conversation.ID, ev.Message)

	case platform.EventContactCreated, platform.EventContactUpdated:
		_, err = h.conv.ApplyRemoteContact(ctx, e.TenantID, *ev.Contact)

	default:
		logger.From(ctx).Debug("platform event ignored", "event_type", ev.Type, "tenant_id", e.TenantID)
		return nil
	}
	if errors.Is(err, conversation.ErrNoPhone) {
		return nil
	}
	return err
}
