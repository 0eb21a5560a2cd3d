package conversation

import (
	"context"
	"fmt"

	"crm-platform/internal/platform"
	"crm-platform/internal/realtime"
	"crm-platform/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListConversations returns the tenant's conversations, newest activity first.
func (r *Reconciler) ListConversations(ctx context.Context, tenantID string, f ListFilter) ([]Row, error) {
	if tenantID == "" || f.Offset < 0 {
		return nil, ErrInvalidArgument
	}
	if f.Status != "" && f.Status != StatusOpen && f.Status != StatusResolved {
		return nil, ErrInvalidArgument
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return r.repo.ListRows(ctx, tenantID, f)
}

// GetConversation returns one row; realtime clients call it per change notice.
func (r *Reconciler) GetConversation(ctx context.Context, tenantID, id string) (Row, error) {
	if tenantID == "" || id == "" {
		return Row{}, ErrInvalidArgument
	}
	return r.repo.GetRow(ctx, tenantID, id)
}

func (r *Reconciler) ListStages(ctx context.Context, tenantID string) ([]Stage, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	return r.repo.ListStages(ctx, tenantID)
}

// SendMessage posts an outgoing message through the platform, which relays it
// to the device through the gateway bridge. The local preview is updated
// best-effort; the platform's webhook for the same message converges it anyway.
func (r *Reconciler) SendMessage(ctx context.Context, tenantID, conversationID, content string) (platform.Message, error) {
	if tenantID == "" || conversationID == "" || content == "" {
		return platform.Message{}, ErrInvalidArgument
	}
	conv, err := r.repo.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return platform.Message{}, err
	}
	if !conv.HasPlatformLink() {
		return platform.Message{}, fmt.Errorf("%w: conversation has no platform link", ErrInvalidArgument)
	}
	ep, err := r.endpoint(ctx, tenantID)
	if err != nil {
		return platform.Message{}, err
	}
	msg, err := r.pf.SendMessage(ctx, ep, *conv.PlatformConversationID, content)
	if err != nil {
		return platform.Message{}, err
	}

	at := msg.Time()
	if at.IsZero() {
		at = r.clock().UTC()
	}
	preview := Preview(msg)
	if preview == "" {
		preview = Preview(platform.Message{Content: content})
	}
	written, err := r.repo.RecordActivity(ctx, tenantID, conv.ID, at, preview, r.clock().UTC())
	if err != nil {
		logger.From(ctx).Warn("local preview update failed", "conversation_id", conv.ID, "err", err)
		return msg, nil
	}
	if written {
		r.publish(ctx, tenantID, conv.ID, realtime.KindUpdated)
	}
	return msg, nil
}
