package conversation

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"crm-platform/pkg/utils"
)

// Repository is the persistence contract for contacts, conversations, stages
// and agent mappings. Every method is tenant-scoped.
//
// Inserts return ErrConflict when a uniqueness constraint lost a race, so the
// caller can re-read the winning row.
type Repository interface {
	GetContactByPhone(ctx context.Context, tenantID, normalized string) (Contact, error)
	GetContact(ctx context.Context, tenantID, id string) (Contact, error)
	InsertContact(ctx context.Context, c Contact) error
	UpdateContact(ctx context.Context, c Contact) error

	GetConversation(ctx context.Context, tenantID, id string) (Conversation, error)
	GetConversationByPlatformID(ctx context.Context, tenantID string, platformID int64) (Conversation, error)
	InsertConversation(ctx context.Context, c Conversation) error
	UpdateConversation(ctx context.Context, c Conversation) error
	// SetStage writes only the stage. A stage of another tenant matches no
	// row and yields ErrNotFound.
	SetStage(ctx context.Context, tenantID, id, stageID string, updatedAt time.Time) error
	// RecordActivity writes the preview and last activity only when at is not
	// older than the stored activity, and reports whether it wrote.
	RecordActivity(ctx context.Context, tenantID, id string, at time.Time, preview string, updatedAt time.Time) (bool, error)

	GetRow(ctx context.Context, tenantID, id string) (Row, error)
	ListRows(ctx context.Context, tenantID string, f ListFilter) ([]Row, error)

	ListStages(ctx context.Context, tenantID string) ([]Stage, error)
	ResolveAgent(ctx context.Context, tenantID string, platformAgentID int64) (string, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const contactColumns = `id, tenant_id, phone_raw, phone_normalized, name, email, avatar_url, platform_contact_id, source, created_at, updated_at`

func scanContact(s interface{ Scan(...any) error }) (Contact, error) {
	var (
		c   Contact
		pid sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.TenantID, &c.PhoneRaw, &c.PhoneNormalized, &c.Name, &c.Email, &c.AvatarURL, &pid, &c.Source, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Contact{}, err
	}
	if pid.Valid {
		c.PlatformContactID = &pid.Int64
	}
	return c, nil
}

func (r *PostgresRepo) GetContactByPhone(ctx context.Context, tenantID, normalized string) (Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1 AND phone_normalized = $2`
	c, err := scanContact(r.db.QueryRowContext(ctx, q, tenantID, normalized))
	return c, notFound(err)
}

func (r *PostgresRepo) GetContact(ctx context.Context, tenantID, id string) (Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1 AND id = $2`
	c, err := scanContact(r.db.QueryRowContext(ctx, q, tenantID, id))
	return c, notFound(err)
}

func (r *PostgresRepo) InsertContact(ctx context.Context, c Contact) error {
	q := `INSERT INTO contacts (` + contactColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.db.ExecContext(ctx, q, c.ID, c.TenantID, c.PhoneRaw, c.PhoneNormalized, c.Name, c.Email, c.AvatarURL, c.PlatformContactID, c.Source, c.CreatedAt, c.UpdatedAt)
	if utils.IsUniqueViolation(err, "contacts_tenant_phone_key") {
		return ErrConflict
	}
	return err
}

func (r *PostgresRepo) UpdateContact(ctx context.Context, c Contact) error {
	const q = `
UPDATE contacts SET phone_raw = $3, name = $4, email = $5, avatar_url = $6, platform_contact_id = $7, updated_at = $8
WHERE tenant_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q, c.TenantID, c.ID, c.PhoneRaw, c.Name, c.Email, c.AvatarURL, c.PlatformContactID, c.UpdatedAt)
	if err != nil {
		return err
	}
	return oneRow(res)
}

const conversationColumns = `
c.id, c.tenant_id, c.contact_id, c.platform_conversation_id, c.platform_inbox_id, c.stage_id,
c.assignee_user_id, c.status, c.priority, c.last_message_preview, c.unread_count,
c.last_activity_at, c.created_at, c.updated_at`

func scanConversation(dest []any, c *Conversation) []any {
	return append(dest,
		&c.ID,
		&c.TenantID,
		&c.ContactID,
		nullInt{&c.PlatformConversationID},
		nullInt{&c.PlatformInboxID},
		nullString{&c.StageID},
		nullString{&c.AssigneeUserID},
		&c.Status,
		&c.Priority,
		&c.LastMessagePreview,
		&c.UnreadCount,
		nullTime{&c.LastActivityAt},
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}

func (r *PostgresRepo) getConversation(ctx context.Context, where string, args ...any) (Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations c WHERE ` + where
	var c Conversation
	err := r.db.QueryRowContext(ctx, q, args...).Scan(scanConversation(nil, &c)...)
	return c, notFound(err)
}

func (r *PostgresRepo) GetConversation(ctx context.Context, tenantID, id string) (Conversation, error) {
	return r.getConversation(ctx, `c.tenant_id = $1 AND c.id = $2`, tenantID, id)
}

func (r *PostgresRepo) GetConversationByPlatformID(ctx context.Context, tenantID string, platformID int64) (Conversation, error) {
	return r.getConversation(ctx, `c.tenant_id = $1 AND c.platform_conversation_id = $2`, tenantID, platformID)
}

func (r *PostgresRepo) InsertConversation(ctx context.Context, c Conversation) error {
	const q = `
INSERT INTO conversations (
  id, tenant_id, contact_id, platform_conversation_id, platform_inbox_id, stage_id,
  assignee_user_id, status, priority, last_message_preview, unread_count,
  last_activity_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`
	_, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.TenantID,
		c.ContactID,
		c.PlatformConversationID,
		c.PlatformInboxID,
		c.StageID,
		c.AssigneeUserID,
		c.Status,
		c.Priority,
		c.LastMessagePreview,
		c.UnreadCount,
		c.LastActivityAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if utils.IsUniqueViolation(err, "conversations_tenant_platform_key") {
		return ErrConflict
	}
	return err
}

func (r *PostgresRepo) UpdateConversation(ctx context.Context, c Conversation) error {
	// The stage must belong to the same tenant; the subquery stores a foreign
	// stage id as NULL instead of crossing tenants.
	const q = `
UPDATE conversations SET
  contact_id = $3,
  platform_inbox_id = $4,
  stage_id = (SELECT s.id FROM stages s WHERE s.id = $5 AND s.tenant_id = $1),
  assignee_user_id = $6,
  status = $7,
  priority = $8,
  last_message_preview = $9,
  unread_count = $10,
  last_activity_at = $11,
  updated_at = $12
WHERE tenant_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q,
		c.TenantID,
		c.ID,
		c.ContactID,
		c.PlatformInboxID,
		c.StageID,
		c.AssigneeUserID,
		c.Status,
		c.Priority,
		c.LastMessagePreview,
		c.UnreadCount,
		c.LastActivityAt,
		c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (r *PostgresRepo) SetStage(ctx context.Context, tenantID, id, stageID string, updatedAt time.Time) error {
	const q = `
UPDATE conversations SET stage_id = s.id, updated_at = $4
FROM stages s
WHERE conversations.tenant_id = $1 AND conversations.id = $2
  AND s.id = $3 AND s.tenant_id = $1
`
	res, err := r.db.ExecContext(ctx, q, tenantID, id, stageID, updatedAt)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (r *PostgresRepo) RecordActivity(ctx context.Context, tenantID, id string, at time.Time, preview string, updatedAt time.Time) (bool, error) {
	const q = `
UPDATE conversations SET last_activity_at = $3, last_message_preview = $4, updated_at = $5
WHERE tenant_id = $1 AND id = $2
  AND (last_activity_at IS NULL OR last_activity_at <= $3)
`
	res, err := r.db.ExecContext(ctx, q, tenantID, id, at, preview, updatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const rowSelect = `SELECT ` + conversationColumns + `, ct.name, ct.phone_normalized
FROM conversations c JOIN contacts ct ON ct.id = c.contact_id AND ct.tenant_id = c.tenant_id
WHERE c.tenant_id = $1`

func scanRow(s interface{ Scan(...any) error }) (Row, error) {
	var r Row
	dest := scanConversation(nil, &r.Conversation)
	dest = append(dest, &r.ContactName, &r.ContactPhone)
	if err := s.Scan(dest...); err != nil {
		return Row{}, err
	}
	return r, nil
}

func (r *PostgresRepo) GetRow(ctx context.Context, tenantID, id string) (Row, error) {
	row, err := scanRow(r.db.QueryRowContext(ctx, rowSelect+` AND c.id = $2`, tenantID, id))
	return row, notFound(err)
}

func (r *PostgresRepo) ListRows(ctx context.Context, tenantID string, f ListFilter) ([]Row, error) {
	var b strings.Builder
	b.WriteString(rowSelect)
	args := []any{tenantID}
	if f.Status != "" {
		args = append(args, f.Status)
		b.WriteString(` AND c.status = $` + strconv.Itoa(len(args)))
	}
	if f.StageID != "" {
		args = append(args, f.StageID)
		b.WriteString(` AND c.stage_id = $` + strconv.Itoa(len(args)))
	}
	b.WriteString(` ORDER BY c.last_activity_at DESC NULLS LAST, c.id`)
	args = append(args, f.Limit, f.Offset)
	b.WriteString(` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args)))

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListStages(ctx context.Context, tenantID string) ([]Stage, error) {
	const q = `SELECT id, tenant_id, name, slug, position, is_initial FROM stages WHERE tenant_id = $1 ORDER BY position, id`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Stage
	for rows.Next() {
		var s Stage
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Name, &s.Slug, &s.Position, &s.IsInitial); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ResolveAgent(ctx context.Context, tenantID string, platformAgentID int64) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM agent_mappings WHERE tenant_id = $1 AND platform_agent_id = $2`,
		tenantID, platformAgentID,
	).Scan(&userID)
	return userID, notFound(err)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Nullable column adapters for Scan.

type nullInt struct{ p **int64 }

func (n nullInt) Scan(src any) error {
	var v sql.NullInt64
	if err := v.Scan(src); err != nil {
		return err
	}
	*n.p = nil
	if v.Valid {
		*n.p = &v.Int64
	}
	return nil
}

type nullString struct{ p **string }

func (n nullString) Scan(src any) error {
	var v sql.NullString
	if err := v.Scan(src); err != nil {
		return err
	}
	*n.p = nil
	if v.Valid {
		*n.p = &v.String
	}
	return nil
}

type nullTime struct{ p **time.Time }

func (n nullTime) Scan(src any) error {
	var v sql.NullTime
	if err := v.Scan(src); err != nil {
		return err
	}
	*n.p = nil
	if v.Valid {
		t := v.Time
		*n.p = &t
	}
	return nil
}
