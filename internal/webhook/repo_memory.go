package webhook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu     sync.Mutex
	events map[string]Event
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{events: make(map[string]Event)}
}

func (r *MemoryRepo) Insert(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.ID]; ok {
		return ErrInvalidArgument
	}
	r.events[e.ID] = e
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, id string) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok || e.TenantID != tenantID {
		return Event{}, ErrNotFound
	}
	return e, nil
}

func (r *MemoryRepo) Claim(ctx context.Context, tenantID, id string, from Status, maxAttempts int, now time.Time) (Event, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok || e.TenantID != tenantID || e.Status != from || e.AttemptCount >= maxAttempts {
		return Event{}, false, nil
	}
	e.Status = StatusProcessing
	e.AttemptCount++
	e.UpdatedAt = now
	r.events[id] = e
	return e, true, nil
}

func (r *MemoryRepo) ClaimRetryable(ctx context.Context, maxAttempts int, pendingBefore time.Time, limit int, now time.Time) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var picked []Event
	for _, e := range r.events {
		if e.AttemptCount >= maxAttempts {
			continue
		}
		if e.Status == StatusFailed || (e.Status == StatusPending && e.UpdatedAt.Before(pendingBefore)) {
			picked = append(picked, e)
		}
	}
	sortByUpdated(picked)
	picked = truncate(picked, limit)
	for i := range picked {
		picked[i].Status = StatusProcessing
		picked[i].AttemptCount++
		picked[i].UpdatedAt = now
		r.events[picked[i].ID] = picked[i]
	}
	return picked, nil
}

func (r *MemoryRepo) Finish(ctx context.Context, id string, status Status, lastErr string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok || e.Status != StatusProcessing {
		return ErrNotFound
	}
	e.Status = status
	e.LastError = lastErr
	e.UpdatedAt = now
	r.events[id] = e
	return nil
}

func (r *MemoryRepo) FailStale(ctx context.Context, before, now time.Time) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for id, e := range r.events {
		if e.Status == StatusProcessing && e.UpdatedAt.Before(before) {
			e.Status = StatusFailed
			e.LastError = "processing timed out"
			e.UpdatedAt = now
			r.events[id] = e
			out = append(out, e)
		}
	}
	sortByUpdated(out)
	return out, nil
}

func (r *MemoryRepo) Counts(ctx context.Context, tenantID string) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Status]int{}
	for _, e := range r.events {
		if e.TenantID == tenantID {
			out[e.Status]++
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListExhausted(ctx context.Context, tenantID string, maxAttempts, limit int) ([]Event, error) {
	out := r.filter(tenantID, func(e Event) bool {
		return e.Status == StatusFailed && e.AttemptCount >= maxAttempts
	})
	// Newest first, like the SQL query.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return truncate(out, limit), nil
}

func (r *MemoryRepo) ListRetryable(ctx context.Context, tenantID string, maxAttempts, limit int) ([]Event, error) {
	out := r.filter(tenantID, func(e Event) bool {
		return e.Status == StatusFailed && e.AttemptCount < maxAttempts
	})
	return truncate(out, limit), nil
}

// Put overwrites an event, for seeding stuck states in tests.
func (r *MemoryRepo) Put(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.ID] = e
}

func (r *MemoryRepo) filter(tenantID string, keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.TenantID == tenantID && keep(e) {
			out = append(out, e)
		}
	}
	sortByUpdated(out)
	return out
}

func truncate(events []Event, limit int) []Event {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}

func sortByUpdated(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].UpdatedAt.Equal(events[j].UpdatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].UpdatedAt.Before(events[j].UpdatedAt)
	})
}
