package realtime

import (
	"sort"
	"sync"
	"time"
)

// Item is the client-side projection of one conversation row.
type Item struct {
	ID             string     `json:"id"`
	ContactName    string     `json:"contact_name,omitempty"`
	Status         string     `json:"status"`
	Preview        string     `json:"last_message_preview"`
	UnreadCount    int        `json:"unread_count"`
	LastActivityAt *time.Time `json:"last_activity_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (it Item) activity() time.Time {
	if it.LastActivityAt == nil {
		return time.Time{}
	}
	return *it.LastActivityAt
}

// View is a conversation list kept in last-activity order.
//
// A row never regresses: an older UpdatedAt than the one held is ignored,
// which makes duplicate and out-of-order notices harmless.
type View struct {
	mu    sync.Mutex
	items map[string]Item
}

func NewView() *View {
	return &View{items: make(map[string]Item)}
}

// Apply merges one fetched row. It reports whether the view changed.
func (v *View) Apply(it Item) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.items[it.ID]
	if ok && it.UpdatedAt.Before(cur.UpdatedAt) {
		return false
	}
	if ok && it.UpdatedAt.Equal(cur.UpdatedAt) {
		return false
	}
	v.items[it.ID] = it
	return true
}

// Replace swaps in a full-list snapshot. Rows missing from the snapshot are
// dropped; rows the view already holds in a newer version are kept.
func (v *View) Replace(snapshot []Item) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := make(map[string]Item, len(snapshot))
	for _, it := range snapshot {
		if cur, ok := v.items[it.ID]; ok && cur.UpdatedAt.After(it.UpdatedAt) {
			it = cur
		}
		next[it.ID] = it
	}
	v.items = next
}

// Has reports whether the view holds id at least as new as at.
func (v *View) Has(id string, at time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.items[id]
	return ok && !cur.UpdatedAt.Before(at)
}

func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}

// List returns rows by last activity, newest first, ties by id.
func (v *View) List() []Item {
	v.mu.Lock()
	out := make([]Item, 0, len(v.items))
	for _, it := range v.items {
		out = append(out, it)
	}
	v.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].activity(), out[j].activity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
