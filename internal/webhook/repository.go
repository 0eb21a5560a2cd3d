package webhook

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists webhook events. Claims are atomic so any number of
// sweepers can run against the same table.
type Repository interface {
	Insert(ctx context.Context, e Event) error
	Get(ctx context.Context, tenantID, id string) (Event, error)

	// Claim moves one event from `from` to processing and increments its
	// attempt count, if it is still below maxAttempts. ok is false when
	// another worker got there first or the ceiling is reached.
	Claim(ctx context.Context, tenantID, id string, from Status, maxAttempts int, now time.Time) (Event, bool, error)
	// ClaimRetryable claims failed events below the ceiling and pending
	// events untouched since pendingBefore.
	ClaimRetryable(ctx context.Context, maxAttempts int, pendingBefore time.Time, limit int, now time.Time) ([]Event, error)
	Finish(ctx context.Context, id string, status Status, lastErr string, now time.Time) error
	// FailStale marks events stuck in processing since before as failed and
	// returns them.
	FailStale(ctx context.Context, before, now time.Time) ([]Event, error)

	Counts(ctx context.Context, tenantID string) (map[Status]int, error)
	ListExhausted(ctx context.Context, tenantID string, maxAttempts, limit int) ([]Event, error)
	// ListRetryable returns failed events the sweep will still pick up, oldest first.
	ListRetryable(ctx context.Context, tenantID string, maxAttempts, limit int) ([]Event, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const eventColumns = `id, tenant_id, source, event_type, payload, status, attempt_count, last_error, created_at, updated_at`

func scanEvent(s interface{ Scan(...any) error }) (Event, error) {
	var (
		e       Event
		payload []byte
	)
	if err := s.Scan(&e.ID, &e.TenantID, &e.Source, &e.EventType, &payload, &e.Status, &e.AttemptCount, &e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Event{}, err
	}
	e.Payload = payload
	return e, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, e Event) error {
	q := `INSERT INTO webhook_events (` + eventColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.TenantID,
		e.Source,
		e.EventType,
		string(e.Payload),
		e.Status,
		e.AttemptCount,
		e.LastError,
		e.CreatedAt,
		e.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, id string) (Event, error) {
	q := `SELECT ` + eventColumns + ` FROM webhook_events WHERE tenant_id = $1 AND id = $2`
	e, err := scanEvent(r.db.QueryRowContext(ctx, q, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	return e, err
}

func (r *PostgresRepo) Claim(ctx context.Context, tenantID, id string, from Status, maxAttempts int, now time.Time) (Event, bool, error) {
	q := `
UPDATE webhook_events
SET status = 'processing', attempt_count = attempt_count + 1, updated_at = $5
WHERE tenant_id = $1 AND id = $2 AND status = $3 AND attempt_count < $4
RETURNING ` + eventColumns
	e, err := scanEvent(r.db.QueryRowContext(ctx, q, tenantID, id, from, maxAttempts, now))
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return e, true, nil
}

func (r *PostgresRepo) ClaimRetryable(ctx context.Context, maxAttempts int, pendingBefore time.Time, limit int, now time.Time) ([]Event, error) {
	q := `
WITH picked AS (
  SELECT id FROM webhook_events
  WHERE attempt_count < $1
    AND (status = 'failed' OR (status = 'pending' AND updated_at < $2))
  ORDER BY updated_at
  LIMIT $3
  FOR UPDATE SKIP LOCKED
)
UPDATE webhook_events w
SET status = 'processing', attempt_count = w.attempt_count + 1, updated_at = $4
FROM picked
WHERE w.id = picked.id
RETURNING w.id, w.tenant_id, w.source, w.event_type, w.payload, w.status, w.attempt_count, w.last_error, w.created_at, w.updated_at`
	rows, err := r.db.QueryContext(ctx, q, maxAttempts, pendingBefore, limit, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *PostgresRepo) Finish(ctx context.Context, id string, status Status, lastErr string, now time.Time) error {
	const q = `UPDATE webhook_events SET status = $2, last_error = $3, updated_at = $4 WHERE id = $1 AND status = 'processing'`
	res, err := r.db.ExecContext(ctx, q, id, status, lastErr, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) FailStale(ctx context.Context, before, now time.Time) ([]Event, error) {
	q := `
UPDATE webhook_events SET status = 'failed', last_error = 'processing timed out', updated_at = $2
WHERE status = 'processing' AND updated_at < $1
RETURNING ` + eventColumns
	rows, err := r.db.QueryContext(ctx, q, before, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *PostgresRepo) Counts(ctx context.Context, tenantID string) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, count(*) FROM webhook_events WHERE tenant_id = $1 GROUP BY status`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Status]int{}
	for rows.Next() {
		var (
			s Status
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListExhausted(ctx context.Context, tenantID string, maxAttempts, limit int) ([]Event, error) {
	q := `SELECT ` + eventColumns + ` FROM webhook_events
WHERE tenant_id = $1 AND status = 'failed' AND attempt_count >= $2
ORDER BY updated_at DESC LIMIT $3`
	rows, err := r.db.QueryContext(ctx, q, tenantID, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *PostgresRepo) ListRetryable(ctx context.Context, tenantID string, maxAttempts, limit int) ([]Event, error) {
	q := `SELECT ` + eventColumns + ` FROM webhook_events
WHERE tenant_id = $1 AND status = 'failed' AND attempt_count < $2
ORDER BY updated_at LIMIT $3`
	rows, err := r.db.QueryContext(ctx, q, tenantID, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
