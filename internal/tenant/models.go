package tenant

import "time"

// Tenant is an isolated organization owning instances, contacts and conversations.
type Tenant struct {
	ID          string      `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Credentials Credentials `json:"credentials"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Credentials are the per-tenant upstream endpoints and secrets.
// Tokens are never serialized back to API callers; use Redacted.
type Credentials struct {
	PlatformBaseURL   string `json:"platform_base_url" db:"platform_base_url"`
	PlatformAccountID int64  `json:"platform_account_id" db:"platform_account_id"`
	PlatformAPIToken  string `json:"-" db:"platform_api_token"`
	GatewayBaseURL    string `json:"gateway_base_url" db:"gateway_base_url"`
	GatewayAdminToken string `json:"-" db:"gateway_admin_token"`

	// MaxInstances is the plan entitlement snapshot written by billing.
	MaxInstances int `json:"max_instances" db:"max_instances"`
}

// HasPlatform reports whether platform calls can be made for this tenant.
func (c Credentials) HasPlatform() bool {
	return c.PlatformBaseURL != "" && c.PlatformAccountID > 0 && c.PlatformAPIToken != ""
}

// HasGateway reports whether gateway admin calls can be made for this tenant.
func (c Credentials) HasGateway() bool {
	return c.GatewayBaseURL != "" && c.GatewayAdminToken != ""
}

// Redacted is the shape returned to API callers.
type Redacted struct {
	TenantID          string `json:"tenant_id"`
	PlatformBaseURL   string `json:"platform_base_url"`
	PlatformAccountID int64  `json:"platform_account_id"`
	PlatformTokenSet  bool   `json:"platform_token_set"`
	GatewayBaseURL    string `json:"gateway_base_url"`
	GatewayTokenSet   bool   `json:"gateway_token_set"`
	MaxInstances      int    `json:"max_instances"`
}

func (t Tenant) Redacted() Redacted {
	return Redacted{
		TenantID:          t.ID,
		PlatformBaseURL:   t.Credentials.PlatformBaseURL,
		PlatformAccountID: t.Credentials.PlatformAccountID,
		PlatformTokenSet:  t.Credentials.PlatformAPIToken != "",
		GatewayBaseURL:    t.Credentials.GatewayBaseURL,
		GatewayTokenSet:   t.Credentials.GatewayAdminToken != "",
		MaxInstances:      t.Credentials.MaxInstances,
	}
}
