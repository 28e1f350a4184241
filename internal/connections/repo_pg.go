package connections

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// staleSyncAfter lets a scan take over a connection left in syncing by a crashed process.
const staleSyncAfter = 2 * time.Hour

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const connectionColumns = `id, workspace_id, user_id, provider, account_email, account_name,
    is_active, scan_period_months, status, last_sync_at, last_error, total_scanned, total_found,
    access_token_enc, refresh_token_enc, token_expiry, created_at, updated_at`

// Upsert links a mailbox, reusing the live row for the same account.
func (r *PGRepo) Upsert(ctx context.Context, conn Connection) (Connection, error) {
	if conn.ID == "" || conn.WorkspaceID == "" || conn.AccountEmail == "" {
		return Connection{}, ErrInvalidInput
	}
	if conn.Provider == "" {
		conn.Provider = ProviderGmail
	}
	if conn.ScanPeriodMonths == 0 {
		conn.ScanPeriodMonths = DefaultScanMonths
	}
	now := time.Now().UTC()

	const query = `
INSERT INTO mail_connections (
    id, workspace_id, user_id, provider, account_email, account_name, is_active,
    scan_period_months, status, access_token_enc, refresh_token_enc, token_expiry,
    created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, 'active', $8, $9, $10, $11, $11)
ON CONFLICT (workspace_id, provider, account_email) WHERE status <> 'disconnected'
DO UPDATE SET
    user_id = EXCLUDED.user_id,
    account_name = EXCLUDED.account_name,
    is_active = TRUE,
    status = CASE WHEN mail_connections.status = 'syncing' THEN 'syncing' ELSE 'active' END,
    last_error = NULL,
    access_token_enc = EXCLUDED.access_token_enc,
    refresh_token_enc = CASE
        WHEN EXCLUDED.refresh_token_enc = '' THEN mail_connections.refresh_token_enc
        ELSE EXCLUDED.refresh_token_enc
    END,
    token_expiry = EXCLUDED.token_expiry,
    updated_at = EXCLUDED.updated_at
RETURNING ` + connectionColumns

	out, err := scanConnection(r.DB.QueryRowContext(
		ctx,
		query,
		conn.ID,
		conn.WorkspaceID,
		conn.UserID,
		conn.Provider,
		conn.AccountEmail,
		conn.AccountName,
		ClampMonths(conn.ScanPeriodMonths),
		conn.AccessTokenEnc,
		conn.RefreshTokenEnc,
		nullTime(conn.TokenExpiry),
		now,
	))
	if err != nil {
		return Connection{}, err
	}
	return out, nil
}

// Get fetches a connection by ID.
func (r *PGRepo) Get(ctx context.Context, id string) (Connection, error) {
	const query = `
SELECT ` + connectionColumns + `
FROM mail_connections
WHERE id::text = $1`
	conn, err := scanConnection(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, err
	}
	return conn, nil
}

// ListByWorkspace lists the workspace's connections, newest first.
func (r *PGRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]Connection, error) {
	const query = `
SELECT ` + connectionColumns + `
FROM mail_connections
WHERE workspace_id = $1
ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// ListSchedulable returns connections eligible for periodic scans, including ones left
// in syncing past staleSyncAfter.
func (r *PGRepo) ListSchedulable(ctx context.Context) ([]Connection, error) {
	const query = `
SELECT ` + connectionColumns + `
FROM mail_connections
WHERE is_active
  AND (status IN ('active', 'error') OR (status = 'syncing' AND updated_at < $1))
ORDER BY last_sync_at ASC NULLS FIRST`
	rows, err := r.DB.QueryContext(ctx, query, time.Now().UTC().Add(-staleSyncAfter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// MarkSyncing enters the syncing state unless a fresh scan already holds it.
func (r *PGRepo) MarkSyncing(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	const query = `
UPDATE mail_connections
SET status = 'syncing', last_error = NULL, updated_at = $2
WHERE id::text = $1
  AND status <> 'disconnected'
  AND (status <> 'syncing' OR updated_at < $3)`
	res, err := r.DB.ExecContext(ctx, query, id, now, now.Add(-staleSyncAfter))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteSync records the scan outcome and accumulates lifetime counters. A connection
// disconnected during the scan stays disconnected.
func (r *PGRepo) CompleteSync(ctx context.Context, id string, outcome SyncOutcome) error {
	const query = `
UPDATE mail_connections
SET status = CASE WHEN status = 'disconnected' THEN status ELSE $2 END,
    last_sync_at = COALESCE($3, last_sync_at),
    last_error = $4,
    total_scanned = total_scanned + $5,
    total_found = total_found + $6,
    updated_at = $7
WHERE id::text = $1`
	return r.execOne(ctx, query,
		id,
		string(outcome.Status),
		nullTime(outcome.SyncedAt),
		nullString(outcome.LastError),
		outcome.Scanned,
		outcome.Found,
		time.Now().UTC(),
	)
}

// UpdateTokens stores a refreshed token pair.
func (r *PGRepo) UpdateTokens(ctx context.Context, id, accessEnc, refreshEnc string, expiry time.Time) error {
	const query = `
UPDATE mail_connections
SET access_token_enc = $2, refresh_token_enc = $3, token_expiry = $4, updated_at = $5
WHERE id::text = $1`
	return r.execOne(ctx, query, id, accessEnc, refreshEnc, expiry.UTC(), time.Now().UTC())
}

// UpdateScanWindow sets the lookback window, clamped to 1..12 months.
func (r *PGRepo) UpdateScanWindow(ctx context.Context, id string, months int) error {
	const query = `
UPDATE mail_connections
SET scan_period_months = $2, updated_at = $3
WHERE id::text = $1`
	return r.execOne(ctx, query, id, ClampMonths(months), time.Now().UTC())
}

// Disconnect marks the connection disconnected and wipes its tokens.
func (r *PGRepo) Disconnect(ctx context.Context, id string) error {
	const query = `
UPDATE mail_connections
SET status = 'disconnected', is_active = FALSE, access_token_enc = '', refresh_token_enc = '',
    token_expiry = NULL, updated_at = $2
WHERE id::text = $1`
	return r.execOne(ctx, query, id, time.Now().UTC())
}

func (r *PGRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func collect(rows *sql.Rows) ([]Connection, error) {
	var out []Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

func scanConnection(row rowScanner) (Connection, error) {
	var conn Connection
	var status string
	var lastSync, expiry sql.NullTime
	var lastError sql.NullString
	err := row.Scan(
		&conn.ID,
		&conn.WorkspaceID,
		&conn.UserID,
		&conn.Provider,
		&conn.AccountEmail,
		&conn.AccountName,
		&conn.IsActive,
		&conn.ScanPeriodMonths,
		&status,
		&lastSync,
		&lastError,
		&conn.TotalScanned,
		&conn.TotalFound,
		&conn.AccessTokenEnc,
		&conn.RefreshTokenEnc,
		&expiry,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return Connection{}, err
	}
	conn.Status = Status(status)
	if lastSync.Valid {
		t := lastSync.Time
		conn.LastSyncAt = &t
	}
	if lastError.Valid {
		conn.LastError = lastError.String
	}
	if expiry.Valid {
		t := expiry.Time
		conn.TokenExpiry = &t
	}
	return conn, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
