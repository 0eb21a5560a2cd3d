package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "crm"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "crm"
	c.Auth.JWTAudience = "crm-api"
	c.Webhook.Secret = "0123456789abcdef"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_ProductionRequiresWebhookSecret(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	c.Auth.JWTIssuer = "crm"
	c.Auth.JWTAudience = "crm-api"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without WEBHOOK_SECRET")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Sync.PageSize != 25 || c.Sync.MaxPages != 200 {
		t.Fatalf("unexpected sync defaults: %+v", c.Sync)
	}
	if c.Workers.RetrySpec != "@every 1m" || c.Workers.PollConcurrency != 4 {
		t.Fatalf("unexpected worker defaults: %+v", c.Workers)
	}
	if c.Gateway.Timeout != 15*time.Second || c.Platform.Timeout != 15*time.Second {
		t.Fatalf("expected bounded upstream timeouts")
	}
	if c.Workers.DefaultMaxInstances != 1 {
		t.Fatalf("expected default instance quota 1, got %d", c.Workers.DefaultMaxInstances)
	}
	if c.Auth.Leeway != 30*time.Second {
		t.Fatalf("expected 30s token leeway, got %s", c.Auth.Leeway)
	}
}

func TestValidate_RejectsWideTokenLeeway(t *testing.T) {
	c := validLocal()
	c.Auth.Leeway = time.Hour
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for a one hour leeway")
	}
}

func TestValidate_RejectsShortWebhookSecret(t *testing.T) {
	c := validLocal()
	c.Webhook.Secret = "short"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestValidate_RejectsNonHTTPGatewayURL(t *testing.T) {
	c := validLocal()
	c.Gateway.BaseURL = "ftp://gateway"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for non-http gateway url")
	}
}

func TestLoadEnvFile_MissingFileIgnored(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}

func TestLoadEnvFile_DoesNotOverrideExisting(t *testing.T) {
	p := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(p, []byte("CRM_CFG_TEST_A=fromfile\nCRM_CFG_TEST_B=fromfile\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CRM_CFG_TEST_A", "fromenv")
	t.Setenv("CRM_CFG_TEST_B", "")
	os.Unsetenv("CRM_CFG_TEST_B")

	if err := LoadEnvFile(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("CRM_CFG_TEST_A"); got != "fromenv" {
		t.Fatalf("expected env to win, got %q", got)
	}
	if got := os.Getenv("CRM_CFG_TEST_B"); got != "fromfile" {
		t.Fatalf("expected file value, got %q", got)
	}
}
