package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs without
// Postgres. It enforces the same unique keys as the schema.
type MemoryRepo struct {
	mu            sync.Mutex
	contacts      map[string]Contact
	conversations map[string]Conversation
	stages        map[string]Stage
	agents        map[string]map[int64]string
	writes        int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		contacts:      make(map[string]Contact),
		conversations: make(map[string]Conversation),
		stages:        make(map[string]Stage),
		agents:        make(map[string]map[int64]string),
	}
}

// AddStage seeds a stage.
func (r *MemoryRepo) AddStage(s Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[s.ID] = s
}

// MapAgent seeds an agent mapping.
func (r *MemoryRepo) MapAgent(m AgentMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.agents[m.TenantID] == nil {
		r.agents[m.TenantID] = make(map[int64]string)
	}
	r.agents[m.TenantID][m.PlatformAgentID] = m.UserID
}

// Writes counts inserts and updates.
func (r *MemoryRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// Contacts returns every contact of a tenant.
func (r *MemoryRepo) Contacts(tenantID string) []Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Contact
	for _, c := range r.contacts {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out
}

func (r *MemoryRepo) GetContactByPhone(ctx context.Context, tenantID, normalized string) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.TenantID == tenantID && c.PhoneNormalized == normalized {
			return c, nil
		}
	}
	return Contact{}, ErrNotFound
}

func (r *MemoryRepo) GetContact(ctx context.Context, tenantID, id string) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok || c.TenantID != tenantID {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) InsertContact(ctx context.Context, c Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.contacts {
		if cur.TenantID == c.TenantID && cur.PhoneNormalized == c.PhoneNormalized {
			return ErrConflict
		}
	}
	r.contacts[c.ID] = c
	r.writes++
	return nil
}

func (r *MemoryRepo) UpdateContact(ctx context.Context, c Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.contacts[c.ID]
	if !ok || cur.TenantID != c.TenantID {
		return ErrNotFound
	}
	c.PhoneNormalized = cur.PhoneNormalized
	c.CreatedAt = cur.CreatedAt
	r.contacts[c.ID] = c
	r.writes++
	return nil
}

func (r *MemoryRepo) GetConversation(ctx context.Context, tenantID, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok || c.TenantID != tenantID {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) GetConversationByPlatformID(ctx context.Context, tenantID string, platformID int64) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conversations {
		if c.TenantID == tenantID && c.PlatformConversationID != nil && *c.PlatformConversationID == platformID {
			return c, nil
		}
	}
	return Conversation{}, ErrNotFound
}

func (r *MemoryRepo) InsertConversation(ctx context.Context, c Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.PlatformConversationID != nil {
		for _, cur := range r.conversations {
			if cur.TenantID == c.TenantID && cur.PlatformConversationID != nil && *cur.PlatformConversationID == *c.PlatformConversationID {
				return ErrConflict
			}
		}
	}
	c.StageID = r.sameTenantStage(c.TenantID, c.StageID)
	r.conversations[c.ID] = c
	r.writes++
	return nil
}

func (r *MemoryRepo) UpdateConversation(ctx context.Context, c Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conversations[c.ID]
	if !ok || cur.TenantID != c.TenantID {
		return ErrNotFound
	}
	c.PlatformConversationID = cur.PlatformConversationID
	c.CreatedAt = cur.CreatedAt
	c.StageID = r.sameTenantStage(c.TenantID, c.StageID)
	r.conversations[c.ID] = c
	r.writes++
	return nil
}

func (r *MemoryRepo) SetStage(ctx context.Context, tenantID, id, stageID string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conversations[id]
	if !ok || cur.TenantID != tenantID || r.sameTenantStage(tenantID, &stageID) == nil {
		return ErrNotFound
	}
	sid := stageID
	cur.StageID = &sid
	cur.UpdatedAt = updatedAt
	r.conversations[id] = cur
	r.writes++
	return nil
}

func (r *MemoryRepo) RecordActivity(ctx context.Context, tenantID, id string, at time.Time, preview string, updatedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conversations[id]
	if !ok || cur.TenantID != tenantID {
		return false, nil
	}
	if cur.LastActivityAt != nil && at.Before(*cur.LastActivityAt) {
		return false, nil
	}
	a := at
	cur.LastActivityAt = &a
	cur.LastMessagePreview = preview
	cur.UpdatedAt = updatedAt
	r.conversations[id] = cur
	r.writes++
	return true, nil
}

func (r *MemoryRepo) GetRow(ctx context.Context, tenantID, id string) (Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok || c.TenantID != tenantID {
		return Row{}, ErrNotFound
	}
	return r.row(c), nil
}

func (r *MemoryRepo) ListRows(ctx context.Context, tenantID string, f ListFilter) ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Row
	for _, c := range r.conversations {
		if c.TenantID != tenantID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.StageID != "" && (c.StageID == nil || *c.StageID != f.StageID) {
			continue
		}
		out = append(out, r.row(c))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastActivityAt, out[j].LastActivityAt
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return out[i].ID < out[j].ID
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListStages(ctx context.Context, tenantID string) ([]Stage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Stage
	for _, s := range r.stages {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepo) ResolveAgent(ctx context.Context, tenantID string, platformAgentID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.agents[tenantID][platformAgentID]; ok {
		return u, nil
	}
	return "", ErrNotFound
}

func (r *MemoryRepo) row(c Conversation) Row {
	ct := r.contacts[c.ContactID]
	return Row{Conversation: c, ContactName: ct.Name, ContactPhone: ct.PhoneNormalized}
}

func (r *MemoryRepo) sameTenantStage(tenantID string, id *string) *string {
	if id == nil {
		return nil
	}
	if s, ok := r.stages[*id]; ok && s.TenantID == tenantID {
		return id
	}
	return nil
}
