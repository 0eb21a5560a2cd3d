package conversation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"crm-platform/internal/platform"
	"crm-platform/internal/realtime"
)

func seedRemote(f *fixture, n int) {
	for i := 1; i <= n; i++ {
		f.pf.convs = append(f.pf.convs, remoteConv(int64(i), fmt.Sprintf("5547999%06d", i), fmt.Sprintf("Cliente %d", i)))
	}
}

func TestFullSync_IdempotentSecondRun(t *testing.T) {
	f := newFixture()
	seedRemote(f, 30)
	ctx := context.Background()

	res, err := f.rec.FullSync(ctx, tenantA)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Created != 30 || res.Pages != 2 || res.Total != 30 {
		t.Fatalf("unexpected first result %+v", res)
	}
	before, _ := f.repo.ListRows(ctx, tenantA, ListFilter{Limit: 100})
	writes := f.repo.Writes()
	notices := len(f.hub.Sent())

	res, err = f.rec.FullSync(ctx, tenantA)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Unchanged != 30 || res.Created != 0 || res.Updated != 0 {
		t.Fatalf("unexpected second result %+v", res)
	}
	if f.repo.Writes() != writes {
		t.Fatalf("expected zero writes on second sync, got %d", f.repo.Writes()-writes)
	}
	if len(f.hub.Sent()) != notices {
		t.Fatalf("expected no notices on second sync")
	}
	after, _ := f.repo.ListRows(ctx, tenantA, ListFilter{Limit: 100})
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("rows changed between identical syncs")
	}
}

func TestFullSync_NewConversationDefaults(t *testing.T) {
	f := newFixture()
	seedRemote(f, 1)
	ctx := context.Background()

	if _, err := f.rec.FullSync(ctx, tenantA); err != nil {
		t.Fatalf("sync: %v", err)
	}
	rows, _ := f.rec.ListConversations(ctx, tenantA, ListFilter{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.StageID == nil || *r.StageID != "st-novo" {
		t.Fatalf("expected initial stage, got %v", r.StageID)
	}
	if r.Status != StatusOpen || r.LastMessagePreview != "hello Cliente 1" || r.UnreadCount != 1 {
		t.Fatalf("unexpected row %+v", r)
	}
	if r.ContactName != "Cliente 1" || r.ContactPhone != "5547999000001" {
		t.Fatalf("unexpected contact fields %q %q", r.ContactName, r.ContactPhone)
	}
	sent := f.hub.Sent()
	if len(sent) != 1 || sent[0].Kind != realtime.KindCreated || sent[0].ConversationID != r.ID {
		t.Fatalf("expected one created notice, got %+v", sent)
	}
}

func TestFullSync_PhoneFormatsShareOneContact(t *testing.T) {
	f := newFixture()
	f.pf.convs = []platform.Conversation{
		remoteConv(1, "+55 (47) 99999-9999", "A"),
		remoteConv(2, "47999999999", ""),
		remoteConv(3, "554799999999", ""),
	}
	if _, err := f.rec.FullSync(context.Background(), tenantA); err != nil {
		t.Fatalf("sync: %v", err)
	}
	contacts := f.repo.Contacts(tenantA)
	if len(contacts) != 1 {
		t.Fatalf("expected one contact, got %d", len(contacts))
	}
	if contacts[0].PhoneNormalized != "5547999999999" || contacts[0].Name != "A" {
		t.Fatalf("unexpected contact %+v", contacts[0])
	}
}

func TestFullSync_EmptyRemoteValuesKeepKnownOnes(t *testing.T) {
	f := newFixture()
	c := remoteConv(1, "5547999999999", "Maria")
	c.Meta.Sender.Thumbnail = "https://cdn.test/maria.png"
	f.pf.convs = []platform.Conversation{c}
	ctx := context.Background()
	_, _ = f.rec.FullSync(ctx, tenantA)

	f.pf.convs[0].Meta.Sender.Name = ""
	f.pf.convs[0].Meta.Sender.Thumbnail = ""
	f.pf.convs[0].Meta.Sender.ID = 9001
	_, _ = f.rec.FullSync(ctx, tenantA)

	got := f.repo.Contacts(tenantA)[0]
	if got.Name != "Maria" || got.AvatarURL != "https://cdn.test/maria.png" {
		t.Fatalf("known values overwritten: %+v", got)
	}
	if got.PlatformContactID == nil || *got.PlatformContactID != 9001 {
		t.Fatalf("expected platform contact id to follow the platform, got %v", got.PlatformContactID)
	}
}

func TestFullSync_SkipsContactsWithoutPhone(t *testing.T) {
	f := newFixture()
	f.pf.convs = []platform.Conversation{remoteConv(1, "", "web visitor"), remoteConv(2, "5547999999999", "ok")}
	res, err := f.rec.FullSync(context.Background(), tenantA)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Skipped != 1 || res.Created != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFullSync_AssigneeMapping(t *testing.T) {
	f := newFixture()
	mapped := remoteConv(1, "5547999000001", "a")
	mapped.Meta.Assignee = &platform.Agent{ID: 11}
	unmapped := remoteConv(2, "5547999000002", "b")
	unmapped.Meta.Assignee = &platform.Agent{ID: 12}
	f.pf.convs = []platform.Conversation{mapped, unmapped}
	f.repo.MapAgent(AgentMapping{TenantID: tenantA, PlatformAgentID: 11, UserID: "user-11"})
	ctx := context.Background()

	if _, err := f.rec.FullSync(ctx, tenantA); err != nil {
		t.Fatalf("sync: %v", err)
	}
	a, _ := f.repo.GetConversationByPlatformID(ctx, tenantA, 1)
	b, _ := f.repo.GetConversationByPlatformID(ctx, tenantA, 2)
	if a.AssigneeUserID == nil || *a.AssigneeUserID != "user-11" {
		t.Fatalf("expected mapped assignee, got %v", a.AssigneeUserID)
	}
	if b.AssigneeUserID != nil {
		t.Fatalf("expected unmapped assignee to stay unassigned, got %v", *b.AssigneeUserID)
	}
}

func TestFullSync_ResolvedStatusAndStageLabel(t *testing.T) {
	f := newFixture()
	c := remoteConv(1, "5547999000001", "a")
	c.Status = platform.StatusResolved
	c.Labels = []string{"vip", "Qualificado"}
	p := remoteConv(2, "5547999000002", "b")
	p.Status = platform.StatusPending
	f.pf.convs = []platform.Conversation{c, p}
	ctx := context.Background()

	if _, err := f.rec.FullSync(ctx, tenantA); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got, _ := f.repo.GetConversationByPlatformID(ctx, tenantA, 1)
	if got.Status != StatusResolved || got.StageID == nil || *got.StageID != "st-qualificado" {
		t.Fatalf("unexpected %+v", got)
	}
	pending, _ := f.repo.GetConversationByPlatformID(ctx, tenantA, 2)
	if pending.Status != StatusOpen {
		t.Fatalf("expected non-resolved statuses to map to open, got %s", pending.Status)
	}
}

func TestFullSync_PageCeiling(t *testing.T) {
	f := newFixture()
	f.pf.endless = true
	f.rec.maxPages = 3
	res, err := f.rec.FullSync(context.Background(), tenantA)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Pages != 3 || !res.Truncated || res.Total != 75 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFullSync_GateBusy(t *testing.T) {
	f := newFixture()
	f.rec.gate = fakeGate{busy: true}
	if _, err := f.rec.FullSync(context.Background(), tenantA); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestApplyRemoteContact_ConcurrentFirstSightCreatesOne(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw := "5547999999999"
			if i%2 == 0 {
				raw = "+55 47 99999-9999"
			}
			if _, err := f.rec.ApplyRemoteContact(ctx, tenantA, platform.Contact{ID: 1, Name: "Ana", PhoneNumber: raw}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(f.repo.Contacts(tenantA)); n != 1 {
		t.Fatalf("expected exactly one contact, got %d", n)
	}
}

func TestApplyRemoteConversation_ConcurrentFirstSightCreatesOne(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rc := remoteConv(42, "5547999999999", "Ana")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.rec.ApplyRemoteConversation(ctx, tenantA, rc); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()
	rows, _ := f.repo.ListRows(ctx, tenantA, ListFilter{})
	if len(rows) != 1 {
		t.Fatalf("expected one conversation, got %d", len(rows))
	}
}

func TestApplyRemoteConversation_OlderPayloadDoesNotRegress(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	newer := remoteConv(1, "5547999999999", "Ana")
	newer.LastActivityAt = 2_000
	newer.LastMessage = &platform.Message{Content: "newest", CreatedAt: 2_000}
	if _, err := f.rec.ApplyRemoteConversation(ctx, tenantA, newer); err != nil {
		t.Fatalf("apply: %v", err)
	}

	older := newer
	older.LastActivityAt = 1_000
	older.LastMessage = &platform.Message{Content: "old", CreatedAt: 1_000}
	got, err := f.rec.ApplyRemoteConversation(ctx, tenantA, older)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.LastMessagePreview != "newest" || got.LastActivityAt.Unix() != 2_000 {
		t.Fatalf("expected activity to stay at newest, got %q %v", got.LastMessagePreview, got.LastActivityAt)
	}
}

func TestSyncConversation(t *testing.T) {
	f := newFixture()
	seedRemote(f, 1)
	ctx := context.Background()

	msg := &platform.Message{ID: 77, Content: "just arrived", MessageType: platform.MessageIncoming, CreatedAt: 1_900_000_000}
	got, err := f.rec.SyncConversation(ctx, tenantA, 1, msg)
	if err != nil {
		t.Fatalf("sync one: %v", err)
	}
	if got.LastMessagePreview != "just arrived" {
		t.Fatalf("expected webhook message to win, got %q", got.LastMessagePreview)
	}

	if _, err := f.rec.SyncConversation(ctx, tenantA, 404, nil); err != nil {
		t.Fatalf("expected missing remote conversation to be a no-op, got %v", err)
	}
}

func TestSendMessage_UpdatesPreview(t *testing.T) {
	f := newFixture()
	seedRemote(f, 1)
	ctx := context.Background()
	conv, _ := f.rec.ApplyRemoteConversation(ctx, tenantA, f.pf.convs[0])

	if _, err := f.rec.SendMessage(ctx, tenantA, conv.ID, "on my way"); err != nil {
		t.Fatalf("send: %v", err)
	}
	row, _ := f.rec.GetConversation(ctx, tenantA, conv.ID)
	if row.LastMessagePreview != "on my way" || len(f.pf.sent) != 1 {
		t.Fatalf("expected preview updated, got %q", row.LastMessagePreview)
	}

	f.pf.sendErr = errors.New("platform down")
	if _, err := f.rec.SendMessage(ctx, tenantA, conv.ID, "again"); err == nil {
		t.Fatalf("expected upstream failure to surface")
	}
}

func TestSendMessage_KeepsNewerActivity(t *testing.T) {
	f := newFixture()
	seedRemote(f, 1)
	ctx := context.Background()
	rc := f.pf.convs[0]
	conv, _ := f.rec.ApplyRemoteConversation(ctx, tenantA, rc)

	reply := rc
	reply.Status = platform.StatusResolved
	reply.UnreadCount = 2
	reply.LastActivityAt = 1_800_000_100
	reply.LastMessage = &platform.Message{ID: 100, Content: "client reply", CreatedAt: 1_800_000_100}
	f.pf.onSend = func() {
		if _, err := f.rec.ApplyRemoteConversation(ctx, tenantA, reply); err != nil {
			t.Errorf("webhook apply: %v", err)
		}
	}

	if _, err := f.rec.SendMessage(ctx, tenantA, conv.ID, "on my way"); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, _ := f.repo.GetConversation(ctx, tenantA, conv.ID)
	if got.LastMessagePreview != "client reply" || got.UnreadCount != 2 || got.Status != StatusResolved {
		t.Fatalf("send reverted the newer row: %+v", got)
	}
}

func TestListConversations_TenantScoped(t *testing.T) {
	f := newFixture()
	seedRemote(f, 3)
	ctx := context.Background()
	_, _ = f.rec.FullSync(ctx, tenantA)

	rows, err := f.rec.ListConversations(ctx, "tenant-b", ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows for another tenant")
	}
	rows, _ = f.rec.ListConversations(ctx, tenantA, ListFilter{})
	if len(rows) != 3 || rows[0].PlatformConversationID == nil || *rows[0].PlatformConversationID != 3 {
		t.Fatalf("expected newest activity first")
	}
	if _, err := f.rec.ListConversations(ctx, tenantA, ListFilter{Status: "snoozed"}); err != ErrInvalidArgument {
		t.Fatalf("expected invalid status filter to be rejected, got %v", err)
	}
}
