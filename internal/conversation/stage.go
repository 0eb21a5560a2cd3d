package conversation

import (
	"context"
	"fmt"
	"strings"

	"crm-platform/internal/audit"
	"crm-platform/internal/auth"
	"crm-platform/internal/platform"
	"crm-platform/internal/realtime"
	"crm-platform/pkg/logger"
)

// ApplyStageChange moves a conversation to another stage of the same tenant.
//
// On the platform, every label that equals a known stage slug is replaced by
// the target slug. The local stage is written only after the platform call
// succeeds, or directly when the conversation has no platform linkage.
// The returned conversation is re-read after the write.
func (r *Reconciler) ApplyStageChange(ctx context.Context, tenantID, conversationID, stageID string) (Conversation, error) {
	if tenantID == "" || conversationID == "" || stageID == "" {
		return Conversation{}, ErrInvalidArgument
	}
	conv, err := r.repo.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	stages, err := r.repo.ListStages(ctx, tenantID)
	if err != nil {
		return Conversation{}, err
	}
	target, ok := findStage(stages, stageID)
	if !ok {
		return Conversation{}, &StageNotFoundError{StageID: stageID, Valid: stages}
	}

	if conv.HasPlatformLink() {
		if err := r.relabel(ctx, tenantID, *conv.PlatformConversationID, stages, target); err != nil {
			return Conversation{}, err
		}
	}

	if conv.StageID != nil && *conv.StageID == target.ID {
		return conv, nil
	}
	from := ""
	if conv.StageID != nil {
		from = *conv.StageID
	}
	// Only the stage is written; webhook or sync updates that landed during
	// the platform calls stay.
	if err := r.repo.SetStage(ctx, tenantID, conv.ID, target.ID, r.clock().UTC()); err != nil {
		return Conversation{}, err
	}
	conv, err = r.repo.GetConversation(ctx, tenantID, conv.ID)
	if err != nil {
		return Conversation{}, err
	}
	r.publish(ctx, tenantID, conv.ID, realtime.KindUpdated)

	actor, _ := auth.UserID(ctx)
	r.audit.LogConversation(ctx, tenantID, actor, audit.EventConversationStageChanged, conv.ID, "stage changed", map[string]any{
		"from": from,
		"to":   target.ID,
		"slug": target.Slug,
	})
	return conv, nil
}

func (r *Reconciler) relabel(ctx context.Context, tenantID string, platformID int64, stages []Stage, target Stage) error {
	ep, err := r.endpoint(ctx, tenantID)
	if err != nil {
		return err
	}
	r.ensureLabel(ctx, ep, target.Slug)

	current, err := r.pf.GetConversationLabels(ctx, ep, platformID)
	if err != nil {
		return fmt.Errorf("read labels: %w", err)
	}
	next := StageLabels(current, stages, target.Slug)
	if equalLabels(current, next) {
		return nil
	}
	if err := r.pf.SetConversationLabels(ctx, ep, platformID, next); err != nil {
		return fmt.Errorf("set labels: %w", err)
	}
	return nil
}

// ensureLabel creates the account label for a stage if it is missing. Some
// platform versions refuse to attach unknown labels; others create them.
func (r *Reconciler) ensureLabel(ctx context.Context, ep platform.Endpoint, title string) {
	labels, err := r.pf.ListLabels(ctx, ep)
	if err != nil {
		logger.From(ctx).Warn("list labels failed", "err", err)
		return
	}
	for _, l := range labels {
		if strings.EqualFold(l.Title, title) {
			return
		}
	}
	if _, err := r.pf.CreateLabel(ctx, ep, title); err != nil {
		logger.From(ctx).Warn("create label failed", "label", title, "err", err)
	}
}

// StageLabels drops every label that names a stage, appends target and
// de-duplicates while keeping the order of the remaining labels.
func StageLabels(current []string, stages []Stage, target string) []string {
	isStage := make(map[string]bool, len(stages))
	for _, s := range stages {
		isStage[strings.ToLower(s.Slug)] = true
	}
	seen := make(map[string]bool, len(current)+1)
	out := make([]string, 0, len(current)+1)
	all := append(append([]string(nil), current...), target)
	for _, l := range all {
		key := strings.ToLower(strings.TrimSpace(l))
		if key == "" || seen[key] {
			continue
		}
		if isStage[key] && key != strings.ToLower(target) {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}

// stageFromLabels returns the stage named by the remote labels. With several
// stage labels the one furthest along the pipeline wins.
func stageFromLabels(labels []string, stages []Stage) string {
	var (
		best  Stage
		found bool
	)
	for _, l := range labels {
		for _, s := range stages {
			if strings.EqualFold(strings.TrimSpace(l), s.Slug) && (!found || s.Position > best.Position) {
				best, found = s, true
			}
		}
	}
	if !found {
		return ""
	}
	return best.ID
}

func initialStage(stages []Stage) (Stage, bool) {
	for _, s := range stages {
		if s.IsInitial {
			return s, true
		}
	}
	return Stage{}, false
}

func findStage(stages []Stage, id string) (Stage, bool) {
	for _, s := range stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
