package tenant

import (
	"context"
	"errors"
	"testing"
)

func TestStore_AppliesDefaults(t *testing.T) {
	repo := NewMemoryRepo(Tenant{ID: "t1", Credentials: Credentials{PlatformAccountID: 3, PlatformAPIToken: "tok"}})
	s := NewStore(repo, Defaults{
		PlatformBaseURL:   "https://platform.example/",
		GatewayBaseURL:    "https://gateway.example",
		GatewayAdminToken: "admin",
		MaxInstances:      2,
	})

	c, err := s.Credentials(context.Background(), "t1")
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if c.PlatformBaseURL != "https://platform.example" {
		t.Fatalf("expected trimmed default platform url, got %q", c.PlatformBaseURL)
	}
	if !c.HasPlatform() || !c.HasGateway() {
		t.Fatalf("expected complete credentials: %+v", c)
	}
	if c.MaxInstances != 2 {
		t.Fatalf("expected default quota 2, got %d", c.MaxInstances)
	}
}

func TestStore_TenantValuesWinOverDefaults(t *testing.T) {
	repo := NewMemoryRepo(Tenant{ID: "t1", Credentials: Credentials{GatewayBaseURL: "https://own.gw", MaxInstances: 5}})
	s := NewStore(repo, Defaults{GatewayBaseURL: "https://shared.gw", MaxInstances: 1})

	c, err := s.Credentials(context.Background(), "t1")
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if c.GatewayBaseURL != "https://own.gw" || c.MaxInstances != 5 {
		t.Fatalf("unexpected credentials: %+v", c)
	}
}

func TestStore_UnknownTenant(t *testing.T) {
	s := NewStore(NewMemoryRepo(), Defaults{})
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(context.Background(), " "); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestStore_SaveKeepsSecretsWhenOmitted(t *testing.T) {
	repo := NewMemoryRepo(Tenant{ID: "t1", Name: "Acme", Credentials: Credentials{PlatformAPIToken: "p", GatewayAdminToken: "g"}})
	s := NewStore(repo, Defaults{})

	out, err := s.Save(context.Background(), Tenant{ID: "t1", Credentials: Credentials{PlatformBaseURL: "https://p.example", PlatformAccountID: 7}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if out.Name != "Acme" {
		t.Fatalf("expected name kept, got %q", out.Name)
	}
	stored, _ := repo.Get(context.Background(), "t1")
	if stored.Credentials.PlatformAPIToken != "p" || stored.Credentials.GatewayAdminToken != "g" {
		t.Fatalf("expected secrets kept: %+v", stored.Credentials)
	}
	r := out.Redacted()
	if !r.PlatformTokenSet || !r.GatewayTokenSet || r.PlatformAccountID != 7 {
		t.Fatalf("unexpected redacted view: %+v", r)
	}
}
