package conversation

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"crm-platform/internal/platform"
	"crm-platform/internal/realtime"
	"crm-platform/internal/tenant"
	"crm-platform/internal/upstream"
)

type staticCreds struct{ c tenant.Credentials }

func (s staticCreds) Credentials(ctx context.Context, tenantID string) (tenant.Credentials, error) {
	return s.c, nil
}

var testCreds = staticCreds{c: tenant.Credentials{
	PlatformBaseURL:   "https://platform.test",
	PlatformAccountID: 1,
	PlatformAPIToken:  "tok",
}}

type fakePlatform struct {
	mu sync.Mutex

	pageSize int
	convs    []platform.Conversation
	// endless makes every page full, for the page ceiling.
	endless bool

	labels        map[int64][]string
	accountLabels []platform.Label
	setCalls      int
	sent          []string
	sendErr       error

	// Run after the platform answered, outside the lock, to interleave a
	// concurrent writer with an operation in flight.
	onGetLabels func()
	onSend      func()
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{pageSize: 25, labels: make(map[int64][]string)}
}

func (f *fakePlatform) ListConversations(ctx context.Context, ep platform.Endpoint, q platform.ListQuery) (platform.ConversationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endless {
		page := make([]platform.Conversation, f.pageSize)
		for i := range page {
			page[i] = remoteConv(int64(q.Page*1000+i), fmt.Sprintf("5547988%06d", q.Page*1000+i), "")
		}
		return platform.ConversationPage{Conversations: page}, nil
	}
	start := (q.Page - 1) * f.pageSize
	if start >= len(f.convs) {
		return platform.ConversationPage{}, nil
	}
	end := start + f.pageSize
	if end > len(f.convs) {
		end = len(f.convs)
	}
	out := make([]platform.Conversation, end-start)
	copy(out, f.convs[start:end])
	return platform.ConversationPage{Conversations: out, AllCount: len(f.convs)}, nil
}

func (f *fakePlatform) GetConversation(ctx context.Context, ep platform.Endpoint, id int64) (platform.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.ID == id {
			return c, nil
		}
	}
	return platform.Conversation{}, &upstream.StatusError{System: "platform", StatusCode: http.StatusNotFound}
}

func (f *fakePlatform) CreateInbox(ctx context.Context, ep platform.Endpoint, name, webhookURL string) (platform.Inbox, error) {
	return platform.Inbox{}, nil
}

func (f *fakePlatform) DeleteInbox(ctx context.Context, ep platform.Endpoint, inboxID int64) error {
	return nil
}

func (f *fakePlatform) ListLabels(ctx context.Context, ep platform.Endpoint) ([]platform.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Label(nil), f.accountLabels...), nil
}

func (f *fakePlatform) CreateLabel(ctx context.Context, ep platform.Endpoint, title string) (platform.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := platform.Label{ID: int64(len(f.accountLabels) + 1), Title: title}
	f.accountLabels = append(f.accountLabels, l)
	return l, nil
}

func (f *fakePlatform) DeleteLabel(ctx context.Context, ep platform.Endpoint, labelID int64) error {
	return nil
}

func (f *fakePlatform) GetConversationLabels(ctx context.Context, ep platform.Endpoint, id int64) ([]string, error) {
	f.mu.Lock()
	out := append([]string(nil), f.labels[id]...)
	hook := f.onGetLabels
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakePlatform) SetConversationLabels(ctx context.Context, ep platform.Endpoint, id int64, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	f.labels[id] = append([]string(nil), labels...)
	return nil
}

func (f *fakePlatform) Assign(ctx context.Context, ep platform.Endpoint, id, agentID int64) error {
	return nil
}

func (f *fakePlatform) Unassign(ctx context.Context, ep platform.Endpoint, id int64) error { return nil }

func (f *fakePlatform) ToggleStatus(ctx context.Context, ep platform.Endpoint, id int64, status string) error {
	return nil
}

func (f *fakePlatform) UpdateLastSeen(ctx context.Context, ep platform.Endpoint, id int64) error {
	return nil
}

func (f *fakePlatform) SendMessage(ctx context.Context, ep platform.Endpoint, id int64, content string) (platform.Message, error) {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return platform.Message{}, f.sendErr
	}
	f.sent = append(f.sent, content)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return platform.Message{ID: 99, Content: content, MessageType: platform.MessageOutgoing, CreatedAt: 1_800_000_000}, nil
}

type fakeGate struct{ busy bool }

func (g fakeGate) Acquire(ctx context.Context, tenantID string) (func(), bool, error) {
	return func() {}, !g.busy, nil
}

func remoteConv(id int64, phoneNumber, name string) platform.Conversation {
	return platform.Conversation{
		ID:             id,
		InboxID:        7,
		Status:         platform.StatusOpen,
		UnreadCount:    1,
		LastActivityAt: 1_700_000_000 + id,
		Meta: platform.ConversationMeta{
			Sender: platform.Contact{ID: 500 + id, Name: name, PhoneNumber: phoneNumber},
		},
		LastMessage: &platform.Message{ID: id * 10, Content: "hello " + name, CreatedAt: 1_700_000_000 + id},
	}
}

const tenantA = "tenant-a"

type fixture struct {
	repo *MemoryRepo
	pf   *fakePlatform
	hub  *realtime.MemoryHub
	rec  *Reconciler
}

func newFixture() *fixture {
	f := &fixture{repo: NewMemoryRepo(), pf: newFakePlatform(), hub: realtime.NewMemoryHub()}
	f.repo.AddStage(Stage{ID: "st-novo", TenantID: tenantA, Name: "Novo", Slug: "novo", Position: 1, IsInitial: true})
	f.repo.AddStage(Stage{ID: "st-qualificado", TenantID: tenantA, Name: "Qualificado", Slug: "qualificado", Position: 2})
	f.repo.AddStage(Stage{ID: "st-fechado", TenantID: tenantA, Name: "Fechado", Slug: "fechado", Position: 3})
	f.repo.AddStage(Stage{ID: "st-other", TenantID: "tenant-b", Name: "Outro", Slug: "outro", Position: 1})
	f.rec = NewReconciler(f.repo, testCreds, f.pf, f.hub, nil, nil, Options{PageSize: 25, MaxPages: 10})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.rec.clock = func() time.Time { return fixed }
	return f
}
