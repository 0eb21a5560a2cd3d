package instance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests. It enforces the same
// uniqueness rules as the Postgres schema.
type MemoryRepo struct {
	mu        sync.Mutex
	instances map[string]Instance
	writes    int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{instances: make(map[string]Instance)}
}

func (r *MemoryRepo) Create(ctx context.Context, inst Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.instances {
		if cur.GatewayName == inst.GatewayName || (cur.TenantID == inst.TenantID && cur.Label == inst.Label) {
			return ErrDuplicateName
		}
	}
	r.instances[inst.ID] = inst
	r.writes++
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, id string) (Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok || inst.TenantID != tenantID {
		return Instance{}, ErrNotFound
	}
	return inst, nil
}

func (r *MemoryRepo) GetByLabel(ctx context.Context, tenantID, label string) (Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instances {
		if inst.TenantID == tenantID && inst.Label == label {
			return inst, nil
		}
	}
	return Instance{}, ErrNotFound
}

func (r *MemoryRepo) GetByGatewayName(ctx context.Context, name string) (Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instances {
		if inst.GatewayName == name {
			return inst, nil
		}
	}
	return Instance{}, ErrNotFound
}

func (r *MemoryRepo) List(ctx context.Context, tenantID string) ([]Instance, error) {
	return r.filter(func(i Instance) bool { return i.TenantID == tenantID }), nil
}

func (r *MemoryRepo) ListPollable(ctx context.Context) ([]Instance, error) {
	return r.filter(func(i Instance) bool {
		return i.HasToken() && i.Status != StatusDisconnected && i.Status != StatusError
	}), nil
}

func (r *MemoryRepo) Count(ctx context.Context, tenantID string) (int, error) {
	return len(r.filter(func(i Instance) bool { return i.TenantID == tenantID })), nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, from Status, next Instance) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.instances[next.ID]
	if !ok || cur.TenantID != next.TenantID || cur.Status != from {
		return false, nil
	}
	cur.Status = next.Status
	cur.ConnectedAt = next.ConnectedAt
	cur.DisconnectedAt = next.DisconnectedAt
	cur.ProfileName = next.ProfileName
	cur.ProfileAvatarURL = next.ProfileAvatarURL
	cur.PhoneNumber = next.PhoneNumber
	cur.IsBusiness = next.IsBusiness
	cur.PlatformTag = next.PlatformTag
	cur.UpdatedAt = next.UpdatedAt
	r.instances[next.ID] = cur
	r.writes++
	return true, nil
}

func (r *MemoryRepo) FillProvisioning(ctx context.Context, tenantID, id string, token *string, inboxID *int64, at time.Time) (Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.instances[id]
	if !ok || cur.TenantID != tenantID {
		return Instance{}, ErrNotFound
	}
	if cur.GatewayToken == nil && token != nil {
		v := *token
		cur.GatewayToken = &v
	}
	if cur.PlatformInboxID == nil && inboxID != nil {
		v := *inboxID
		cur.PlatformInboxID = &v
	}
	cur.UpdatedAt = at
	r.instances[id] = cur
	r.writes++
	return cur, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.instances[id]
	if !ok || cur.TenantID != tenantID {
		return ErrNotFound
	}
	delete(r.instances, id)
	r.writes++
	return nil
}

// Writes counts every applied write.
func (r *MemoryRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *MemoryRepo) filter(keep func(Instance) bool) []Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Instance
	for _, inst := range r.instances {
		if keep(inst) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
