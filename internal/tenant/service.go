package tenant

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("tenant: not found")
	ErrInvalidArgument = errors.New("tenant: invalid argument")
)

// Repository is the persistence contract for tenants.
type Repository interface {
	Get(ctx context.Context, tenantID string) (Tenant, error)
	Upsert(ctx context.Context, t Tenant) error
}

// Defaults fill in credentials a tenant row leaves empty.
type Defaults struct {
	PlatformBaseURL   string
	GatewayBaseURL    string
	GatewayAdminToken string
	MaxInstances      int
}

// Store resolves per-tenant upstream credentials.
type Store struct {
	repo     Repository
	defaults Defaults
	clock    func() time.Time
}

func NewStore(repo Repository, defaults Defaults) *Store {
	return &Store{repo: repo, defaults: defaults, clock: time.Now}
}

// Get returns the tenant with process defaults applied.
func (s *Store) Get(ctx context.Context, tenantID string) (Tenant, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Tenant{}, ErrInvalidArgument
	}
	t, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return Tenant{}, err
	}
	t.Credentials = s.withDefaults(t.Credentials)
	return t, nil
}

// Credentials is a shortcut for Get(...).Credentials.
func (s *Store) Credentials(ctx context.Context, tenantID string) (Credentials, error) {
	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return Credentials{}, err
	}
	return t.Credentials, nil
}

// Save creates or updates a tenant. Empty secrets and a zero MaxInstances
// keep the stored value so callers can change URLs without re-sending them.
func (s *Store) Save(ctx context.Context, t Tenant) (Tenant, error) {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return Tenant{}, ErrInvalidArgument
	}
	if t.Credentials.MaxInstances < 0 || t.Credentials.PlatformAccountID < 0 {
		return Tenant{}, ErrInvalidArgument
	}
	now := s.clock().UTC()

	existing, err := s.repo.Get(ctx, t.ID)
	switch {
	case err == nil:
		if t.Name == "" {
			t.Name = existing.Name
		}
		if t.Credentials.PlatformAPIToken == "" {
			t.Credentials.PlatformAPIToken = existing.Credentials.PlatformAPIToken
		}
		if t.Credentials.GatewayAdminToken == "" {
			t.Credentials.GatewayAdminToken = existing.Credentials.GatewayAdminToken
		}
		if t.Credentials.MaxInstances == 0 {
			t.Credentials.MaxInstances = existing.Credentials.MaxInstances
		}
		t.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		t.CreatedAt = now
	default:
		return Tenant{}, err
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	t.UpdatedAt = now

	if err := s.repo.Upsert(ctx, t); err != nil {
		return Tenant{}, err
	}
	t.Credentials = s.withDefaults(t.Credentials)
	return t, nil
}

func (s *Store) withDefaults(c Credentials) Credentials {
	if c.PlatformBaseURL == "" {
		c.PlatformBaseURL = s.defaults.PlatformBaseURL
	}
	if c.GatewayBaseURL == "" {
		c.GatewayBaseURL = s.defaults.GatewayBaseURL
	}
	if c.GatewayAdminToken == "" {
		c.GatewayAdminToken = s.defaults.GatewayAdminToken
	}
	if c.MaxInstances <= 0 {
		c.MaxInstances = s.defaults.MaxInstances
	}
	c.PlatformBaseURL = strings.TrimRight(c.PlatformBaseURL, "/")
	c.GatewayBaseURL = strings.TrimRight(c.GatewayBaseURL, "/")
	return c
}
