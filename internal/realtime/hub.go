package realtime

import (
	"context"
	"sync"
)

// MemoryHub is an in-process Publisher/Subscriber for tests and single-node runs.
type MemoryHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Notice
	sent   []Notice
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[string]map[int]chan Notice)}
}

func (h *MemoryHub) Publish(ctx context.Context, n Notice) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, n)
	for _, ch := range h.subs[n.TenantID] {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, tenantID string) (<-chan Notice, func(), error) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	ch := make(chan Notice, 64)
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = make(map[int]chan Notice)
	}
	h.subs[tenantID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[tenantID], id)
			close(ch)
			h.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// Sent returns every published notice, in order.
func (h *MemoryHub) Sent() []Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Notice, len(h.sent))
	copy(out, h.sent)
	return out
}
