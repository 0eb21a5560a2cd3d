package instance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"crm-platform/pkg/utils"
)

// Repository is the persistence contract for channel instances.
// Every method except the worker-facing ones is tenant-scoped.
type Repository interface {
	Create(ctx context.Context, inst Instance) error
	Get(ctx context.Context, tenantID, id string) (Instance, error)
	GetByLabel(ctx context.Context, tenantID, label string) (Instance, error)
	List(ctx context.Context, tenantID string) ([]Instance, error)
	Count(ctx context.Context, tenantID string) (int, error)
	Delete(ctx context.Context, tenantID, id string) error

	// UpdateStatus writes the status, connection timestamps and profile fields
	// of next while the stored status still equals from. It reports false when
	// the row moved on or is gone; nothing is written then.
	UpdateStatus(ctx context.Context, from Status, next Instance) (bool, error)
	// FillProvisioning sets the gateway token and inbox id only where they are
	// still NULL and returns the stored row. Nil arguments leave the column alone.
	FillProvisioning(ctx context.Context, tenantID, id string, token *string, inboxID *int64, at time.Time) (Instance, error)

	// GetByGatewayName resolves the gateway's direct webhook, which only knows the name.
	GetByGatewayName(ctx context.Context, name string) (Instance, error)
	// ListPollable returns instances across tenants that have a token and are
	// not parked in disconnected/error.
	ListPollable(ctx context.Context) ([]Instance, error)
}

// PostgresRepo stores instances in channel_instances.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const instanceColumns = `
id, tenant_id, label, gateway_name, gateway_token, status, platform_inbox_id,
connected_at, disconnected_at, profile_name, profile_avatar_url, phone_number,
is_business, platform_tag, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(s scanner) (Instance, error) {
	var (
		i       Instance
		token   sql.NullString
		inboxID sql.NullInt64
		connAt  sql.NullTime
		discAt  sql.NullTime
	)
	if err := s.Scan(
		&i.ID,
		&i.TenantID,
		&i.Label,
		&i.GatewayName,
		&token,
		&i.Status,
		&inboxID,
		&connAt,
		&discAt,
		&i.ProfileName,
		&i.ProfileAvatarURL,
		&i.PhoneNumber,
		&i.IsBusiness,
		&i.PlatformTag,
		&i.CreatedAt,
		&i.UpdatedAt,
	); err != nil {
		return Instance{}, err
	}
	if token.Valid {
		i.GatewayToken = &token.String
	}
	if inboxID.Valid {
		i.PlatformInboxID = &inboxID.Int64
	}
	if connAt.Valid {
		t := connAt.Time
		i.ConnectedAt = &t
	}
	if discAt.Valid {
		t := discAt.Time
		i.DisconnectedAt = &t
	}
	return i, nil
}

func (r *PostgresRepo) Create(ctx context.Context, i Instance) error {
	q := `INSERT INTO channel_instances (` + instanceColumns + `
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := r.db.ExecContext(ctx, q,
		i.ID,
		i.TenantID,
		i.Label,
		i.GatewayName,
		i.GatewayToken,
		i.Status,
		i.PlatformInboxID,
		i.ConnectedAt,
		i.DisconnectedAt,
		i.ProfileName,
		i.ProfileAvatarURL,
		i.PhoneNumber,
		i.IsBusiness,
		i.PlatformTag,
		i.CreatedAt,
		i.UpdatedAt,
	)
	if utils.IsUniqueViolation(err, "") {
		return ErrDuplicateName
	}
	return err
}

func (r *PostgresRepo) queryOne(ctx context.Context, where string, args ...any) (Instance, error) {
	q := `SELECT ` + instanceColumns + ` FROM channel_instances WHERE ` + where
	i, err := scanInstance(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instance{}, ErrNotFound
		}
		return Instance{}, err
	}
	return i, nil
}

func (r *PostgresRepo) queryMany(ctx context.Context, where string, args ...any) ([]Instance, error) {
	q := `SELECT ` + instanceColumns + ` FROM channel_instances WHERE ` + where + ` ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, id string) (Instance, error) {
	return r.queryOne(ctx, `tenant_id = $1 AND id = $2`, tenantID, id)
}

func (r *PostgresRepo) GetByLabel(ctx context.Context, tenantID, label string) (Instance, error) {
	return r.queryOne(ctx, `tenant_id = $1 AND label = $2`, tenantID, label)
}

func (r *PostgresRepo) GetByGatewayName(ctx context.Context, name string) (Instance, error) {
	return r.queryOne(ctx, `gateway_name = $1`, name)
}

func (r *PostgresRepo) List(ctx context.Context, tenantID string) ([]Instance, error) {
	return r.queryMany(ctx, `tenant_id = $1`, tenantID)
}

func (r *PostgresRepo) ListPollable(ctx context.Context) ([]Instance, error) {
	return r.queryMany(ctx, `gateway_token IS NOT NULL AND status IN ('pending','qr_ready','connecting','connected')`)
}

func (r *PostgresRepo) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM channel_instances WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, from Status, i Instance) (bool, error) {
	const q = `
UPDATE channel_instances SET
  status = $4,
  connected_at = $5,
  disconnected_at = $6,
  profile_name = $7,
  profile_avatar_url = $8,
  phone_number = $9,
  is_business = $10,
  platform_tag = $11,
  updated_at = $12
WHERE tenant_id = $1 AND id = $2 AND status = $3
`
	res, err := r.db.ExecContext(ctx, q,
		i.TenantID,
		i.ID,
		from,
		i.Status,
		i.ConnectedAt,
		i.DisconnectedAt,
		i.ProfileName,
		i.ProfileAvatarURL,
		i.PhoneNumber,
		i.IsBusiness,
		i.PlatformTag,
		i.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) FillProvisioning(ctx context.Context, tenantID, id string, token *string, inboxID *int64, at time.Time) (Instance, error) {
	q := `
UPDATE channel_instances SET
  gateway_token = COALESCE(gateway_token, $3),
  platform_inbox_id = COALESCE(platform_inbox_id, $4),
  updated_at = $5
WHERE tenant_id = $1 AND id = $2
RETURNING ` + instanceColumns
	i, err := scanInstance(r.db.QueryRowContext(ctx, q, tenantID, id, token, inboxID, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instance{}, ErrNotFound
		}
		return Instance{}, err
	}
	return i, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM channel_instances WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
