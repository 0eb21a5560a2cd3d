package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeFetcher struct {
	mu   sync.Mutex
	rows map[string]Item
	ones int
	alls int
}

func (f *fakeFetcher) FetchOne(ctx context.Context, id string) (Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ones++
	it, ok := f.rows[id]
	if !ok {
		return Item{}, ErrGone
	}
	return it, nil
}

func (f *fakeFetcher) FetchAll(ctx context.Context) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alls++
	var out []Item
	for _, it := range f.rows {
		out = append(out, it)
	}
	return out, nil
}

func TestFollower_HandleNoticeSkipsKnownRows(t *testing.T) {
	ff := &fakeFetcher{rows: map[string]Item{"c1": {ID: "c1", UpdatedAt: time.Unix(50, 0)}}}
	f := &Follower{View: NewView(), Fetcher: ff}

	n := Notice{TenantID: "t", ConversationID: "c1", Kind: KindUpdated, At: time.Unix(50, 0)}
	if err := f.HandleNotice(context.Background(), n); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := f.HandleNotice(context.Background(), n); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if ff.ones != 1 {
		t.Fatalf("expected duplicate notice to be skipped, got %d fetches", ff.ones)
	}
	if err := f.HandleNotice(context.Background(), Notice{ConversationID: "missing"}); err != nil {
		t.Fatalf("gone rows are not errors: %v", err)
	}
}

func TestFollower_RunPollsAndAppliesPush(t *testing.T) {
	ff := &fakeFetcher{rows: map[string]Item{"c1": {ID: "c1", UpdatedAt: time.Unix(1, 0)}}}
	changes := make(chan []Item, 16)
	f := &Follower{View: NewView(), Fetcher: ff, PollInterval: time.Hour, OnChange: func(items []Item) { changes <- items }}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notices := make(chan Notice, 1)
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, notices) }()

	if got := <-changes; len(got) != 1 {
		t.Fatalf("expected initial resync with 1 row, got %d", len(got))
	}

	ff.mu.Lock()
	ff.rows["c2"] = Item{ID: "c2", LastActivityAt: at(99), UpdatedAt: time.Unix(2, 0)}
	ff.mu.Unlock()
	notices <- Notice{TenantID: "t", ConversationID: "c2", Kind: KindCreated, At: time.Unix(2, 0)}

	select {
	case got := <-changes:
		if len(got) != 2 || got[0].ID != "c2" {
			t.Fatalf("expected c2 first, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for push apply")
	}

	cancel()
	<-done
}

func TestStreamAndDial_DeliverNotices(t *testing.T) {
	hub := NewMemoryHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = Stream(w, r, hub, "t1", StreamOptions{})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	notices, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	// The server subscribes after the upgrade; publish until delivered.
	want := Notice{TenantID: "t1", ConversationID: "c9", Kind: KindUpdated, At: time.Unix(5, 0).UTC()}
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case n := <-notices:
			if n.ConversationID != "c9" || n.Kind != KindUpdated {
				t.Fatalf("unexpected notice %+v", n)
			}
			return
		case <-tick.C:
			_ = hub.Publish(ctx, want)
			_ = hub.Publish(ctx, Notice{TenantID: "other", ConversationID: "x"})
		case <-ctx.Done():
			t.Fatalf("timed out waiting for notice")
		}
	}
}

func TestMemoryHub_TenantScoped(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, unsub, _ := hub.Subscribe(ctx, "a")
	defer unsub()

	_ = hub.Publish(ctx, Notice{TenantID: "b", ConversationID: "x"})
	_ = hub.Publish(ctx, Notice{TenantID: "a", ConversationID: "y"})

	n := <-ch
	if n.ConversationID != "y" {
		t.Fatalf("expected tenant a notice only, got %+v", n)
	}
	if len(hub.Sent()) != 2 {
		t.Fatalf("expected 2 sent notices")
	}
}
