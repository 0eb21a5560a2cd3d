package conversation

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"crm-platform/internal/platform"
)

func TestApplyStageChange_LabelRoundTrip(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rc := remoteConv(5, "5547999999999", "Ana")
	conv, err := f.rec.ApplyRemoteConversation(ctx, tenantA, rc)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	f.pf.labels[5] = []string{"vip", "novo"}

	if _, err := f.rec.ApplyStageChange(ctx, tenantA, conv.ID, "st-qualificado"); err != nil {
		t.Fatalf("stage A: %v", err)
	}
	if got := f.pf.labels[5]; !reflect.DeepEqual(got, []string{"vip", "qualificado"}) {
		t.Fatalf("unexpected labels after A: %v", got)
	}

	for i := 0; i < 3; i++ {
		got, err := f.rec.ApplyStageChange(ctx, tenantA, conv.ID, "st-fechado")
		if err != nil {
			t.Fatalf("stage B: %v", err)
		}
		if got.StageID == nil || *got.StageID != "st-fechado" {
			t.Fatalf("expected local stage B, got %v", got.StageID)
		}
	}
	if got := f.pf.labels[5]; !reflect.DeepEqual(got, []string{"vip", "fechado"}) {
		t.Fatalf("expected exactly one stage label, got %v", got)
	}
	if f.pf.setCalls != 2 {
		t.Fatalf("expected repeated moves to skip the platform write, got %d calls", f.pf.setCalls)
	}

	// The next sync reads the stage back from the labels.
	rc.Labels = f.pf.labels[5]
	again, _ := f.rec.ApplyRemoteConversation(ctx, tenantA, rc)
	if again.StageID == nil || *again.StageID != "st-fechado" {
		t.Fatalf("expected sync to keep stage B, got %v", again.StageID)
	}
}

func TestApplyStageChange_CreatesMissingLabel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv, _ := f.rec.ApplyRemoteConversation(ctx, tenantA, remoteConv(5, "5547999999999", "Ana"))

	if _, err := f.rec.ApplyStageChange(ctx, tenantA, conv.ID, "st-qualificado"); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if len(f.pf.accountLabels) != 1 || f.pf.accountLabels[0].Title != "qualificado" {
		t.Fatalf("expected label created, got %+v", f.pf.accountLabels)
	}
}

func TestApplyStageChange_RejectsForeignStage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv, _ := f.rec.ApplyRemoteConversation(ctx, tenantA, remoteConv(5, "5547999999999", "Ana"))

	_, err := f.rec.ApplyStageChange(ctx, tenantA, conv.ID, "st-other")
	var snf *StageNotFoundError
	if !errors.As(err, &snf) || !errors.Is(err, ErrStageNotFound) {
		t.Fatalf("expected StageNotFoundError, got %v", err)
	}
	if len(snf.Valid) != 3 {
		t.Fatalf("expected the tenant's 3 stages as guidance, got %d", len(snf.Valid))
	}
	if f.pf.setCalls != 0 {
		t.Fatalf("platform must not be touched for an invalid stage")
	}
}

func TestApplyStageChange_NoPlatformLinkWritesLocally(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	local := Conversation{ID: "local-1", TenantID: tenantA, ContactID: "c1", Status: StatusOpen, CreatedAt: now, UpdatedAt: now}
	if err := f.repo.InsertConversation(ctx, local); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := f.rec.ApplyStageChange(ctx, tenantA, "local-1", "st-fechado")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if got.StageID == nil || *got.StageID != "st-fechado" {
		t.Fatalf("expected local stage write, got %v", got.StageID)
	}
}

func TestStageLabels(t *testing.T) {
	stages := []Stage{{Slug: "novo"}, {Slug: "qualificado"}, {Slug: "fechado"}}
	cases := []struct {
		current []string
		target  string
		want    []string
	}{
		{nil, "novo", []string{"novo"}},
		{[]string{"vip", "novo", "qualificado"}, "fechado", []string{"vip", "fechado"}},
		{[]string{"Fechado", "vip", "fechado"}, "fechado", []string{"Fechado", "vip"}},
		{[]string{"vip", "vip", ""}, "novo", []string{"vip", "novo"}},
	}
	for _, tc := range cases {
		if got := StageLabels(tc.current, stages, tc.target); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("StageLabels(%v, %q) = %v, want %v", tc.current, tc.target, got, tc.want)
		}
	}
}

func TestPreview(t *testing.T) {
	cases := []struct {
		msg  platform.Message
		want string
	}{
		{platform.Message{Content: "  hi \n there "}, "hi there"},
		{platform.Message{Attachments: []platform.Attachment{{FileType: "image"}}, Content: "caption"}, "[Photo]"},
		{platform.Message{Attachments: []platform.Attachment{{FileType: "audio"}}}, "[Audio]"},
		{platform.Message{Attachments: []platform.Attachment{{FileType: "story_mention"}}}, "[Attachment]"},
		{platform.Message{ContentType: "sticker"}, "[Sticker]"},
	}
	for _, tc := range cases {
		if got := Preview(tc.msg); got != tc.want {
			t.Fatalf("Preview(%+v) = %q, want %q", tc.msg, got, tc.want)
		}
	}
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'a'
	}
	if got := []rune(Preview(platform.Message{Content: string(long)})); len(got) != maxPreviewRunes {
		t.Fatalf("expected truncation to %d runes, got %d", maxPreviewRunes, len(got))
	}
}

func TestApplyStageChange_KeepsConcurrentWebhookUpdate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rc := remoteConv(5, "5547999999999", "Ana")
	conv, err := f.rec.ApplyRemoteConversation(ctx, tenantA, rc)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	newer := rc
	newer.Status = platform.StatusResolved
	newer.UnreadCount = 4
	newer.LastActivityAt = rc.LastActivityAt + 60
	newer.LastMessage = &platform.Message{ID: 51, Content: "newest message", CreatedAt: rc.LastActivityAt + 60}
	f.pf.onGetLabels = func() {
		if _, err := f.rec.ApplyRemoteConversation(ctx, tenantA, newer); err != nil {
			t.Errorf("webhook apply: %v", err)
		}
	}

	got, err := f.rec.ApplyStageChange(ctx, tenantA, conv.ID, "st-qualificado")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	stored, _ := f.repo.GetConversation(ctx, tenantA, conv.ID)
	for _, c := range []Conversation{got, stored} {
		if c.StageID == nil || *c.StageID != "st-qualificado" {
			t.Fatalf("expected new stage, got %v", c.StageID)
		}
		if c.Status != StatusResolved || c.UnreadCount != 4 || c.LastMessagePreview != "newest message" {
			t.Fatalf("stage change reverted the newer row: %+v", c)
		}
	}
}

func TestUpdateConversation_ForeignStageStoredAsNull(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv, _ := f.rec.ApplyRemoteConversation(ctx, tenantA, remoteConv(5, "5547999999999", "Ana"))

	foreign := "st-other"
	conv.StageID = &foreign
	if err := f.repo.UpdateConversation(ctx, conv); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := f.repo.GetConversation(ctx, tenantA, conv.ID)
	if got.StageID != nil {
		t.Fatalf("expected foreign stage stored as NULL, got %v", *got.StageID)
	}
	if err := f.repo.SetStage(ctx, tenantA, conv.ID, "st-other", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected SetStage to refuse a foreign stage, got %v", err)
	}
}
