package tenant

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory tenant repository for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	tenants map[string]Tenant
}

func NewMemoryRepo(seed ...Tenant) *MemoryRepo {
	r := &MemoryRepo{tenants: make(map[string]Tenant)}
	for _, t := range seed {
		r.tenants[t.ID] = t
	}
	return r
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID string) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepo) Upsert(ctx context.Context, t Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t
	return nil
}
