package tenant

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo stores tenants in the tenants table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, tenantID string) (Tenant, error) {
	const q = `
SELECT id, name, platform_base_url, platform_account_id, platform_api_token,
       gateway_base_url, gateway_admin_token, max_instances, created_at, updated_at
FROM tenants
WHERE id = $1
`
	var t Tenant
	if err := r.db.QueryRowContext(ctx, q, tenantID).Scan(
		&t.ID,
		&t.Name,
		&t.Credentials.PlatformBaseURL,
		&t.Credentials.PlatformAccountID,
		&t.Credentials.PlatformAPIToken,
		&t.Credentials.GatewayBaseURL,
		&t.Credentials.GatewayAdminToken,
		&t.Credentials.MaxInstances,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, t Tenant) error {
	const q = `
INSERT INTO tenants (
  id, name, platform_base_url, platform_account_id, platform_api_token,
  gateway_base_url, gateway_admin_token, max_instances, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  platform_base_url = EXCLUDED.platform_base_url,
  platform_account_id = EXCLUDED.platform_account_id,
  platform_api_token = EXCLUDED.platform_api_token,
  gateway_base_url = EXCLUDED.gateway_base_url,
  gateway_admin_token = EXCLUDED.gateway_admin_token,
  max_instances = EXCLUDED.max_instances,
  updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q,
		t.ID,
		t.Name,
		t.Credentials.PlatformBaseURL,
		t.Credentials.PlatformAccountID,
		t.Credentials.PlatformAPIToken,
		t.Credentials.GatewayBaseURL,
		t.Credentials.GatewayAdminToken,
		t.Credentials.MaxInstances,
		t.CreatedAt,
		t.UpdatedAt,
	)
	return err
}
