package realtime

import (
	"testing"
	"time"
)

func at(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func TestView_SortsByActivityWithIDTiebreak(t *testing.T) {
	v := NewView()
	v.Apply(Item{ID: "b", LastActivityAt: at(100), UpdatedAt: time.Unix(1, 0)})
	v.Apply(Item{ID: "a", LastActivityAt: at(100), UpdatedAt: time.Unix(1, 0)})
	v.Apply(Item{ID: "c", LastActivityAt: at(200), UpdatedAt: time.Unix(1, 0)})
	v.Apply(Item{ID: "d", UpdatedAt: time.Unix(1, 0)})

	got := v.List()
	want := []string{"c", "a", "b", "d"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestView_NeverRegresses(t *testing.T) {
	v := NewView()
	if !v.Apply(Item{ID: "a", Preview: "new", UpdatedAt: time.Unix(20, 0)}) {
		t.Fatalf("expected first apply to change view")
	}
	if v.Apply(Item{ID: "a", Preview: "old", UpdatedAt: time.Unix(10, 0)}) {
		t.Fatalf("older row must not apply")
	}
	if v.Apply(Item{ID: "a", Preview: "new", UpdatedAt: time.Unix(20, 0)}) {
		t.Fatalf("duplicate row must be a no-op")
	}
	if v.List()[0].Preview != "new" {
		t.Fatalf("expected newest preview kept")
	}
}

func TestView_ReplaceKeepsNewerPushedRows(t *testing.T) {
	v := NewView()
	v.Apply(Item{ID: "a", Preview: "pushed", UpdatedAt: time.Unix(30, 0)})
	v.Apply(Item{ID: "gone", UpdatedAt: time.Unix(1, 0)})

	v.Replace([]Item{
		{ID: "a", Preview: "polled", UpdatedAt: time.Unix(20, 0)},
		{ID: "b", Preview: "fresh", UpdatedAt: time.Unix(5, 0)},
	})

	if v.Len() != 2 {
		t.Fatalf("expected snapshot membership, got %d rows", v.Len())
	}
	for _, it := range v.List() {
		if it.ID == "a" && it.Preview != "pushed" {
			t.Fatalf("poll snapshot regressed a newer row")
		}
	}
}
