package processed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// FilterUnprocessed runs one IN query for the whole candidate list.
func (r *PGRepo) FilterUnprocessed(ctx context.Context, workspaceID string, messageIDs []string) ([]string, error) {
	ids := dedupeIDs(messageIDs)
	if len(ids) == 0 {
		return []string{}, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, workspaceID)
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := `
SELECT message_id
FROM processed_messages
WHERE workspace_id = $1 AND message_id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		done[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := done[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Insert writes a record. A conflicting (workspace, message) pair yields ErrAlreadyProcessed.
func (r *PGRepo) Insert(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	attachments := rec.Attachments
	if attachments == nil {
		attachments = []AttachmentRef{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var receivedAt sql.NullTime
	if rec.ReceivedAt != nil {
		receivedAt = sql.NullTime{Time: rec.ReceivedAt.UTC(), Valid: true}
	}
	var errorDetail sql.NullString
	if rec.ErrorDetail != "" {
		errorDetail = sql.NullString{String: rec.ErrorDetail, Valid: true}
	}
	// Imported .eml files have no mailbox connection.
	var connectionID sql.NullString
	if rec.ConnectionID != "" {
		connectionID = sql.NullString{String: rec.ConnectionID, Valid: true}
	}

	const query = `
INSERT INTO processed_messages (
    id, workspace_id, connection_id, message_id, thread_id, subject, sender, received_at,
    has_invoice, attachment_count, attachments, status, error_detail, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (workspace_id, message_id) DO NOTHING`

	res, err := r.DB.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.WorkspaceID,
		connectionID,
		rec.MessageID,
		rec.ThreadID,
		rec.Subject,
		rec.Sender,
		receivedAt,
		rec.HasInvoice,
		rec.AttachmentCount,
		attachmentsJSON,
		string(rec.Status),
		errorDetail,
		createdAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

// ListByConnection returns the most recent records of a connection.
func (r *PGRepo) ListByConnection(ctx context.Context, connectionID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `
SELECT id, workspace_id, connection_id, message_id, thread_id, subject, sender, received_at,
       has_invoice, attachment_count, attachments, status, error_detail, created_at
FROM processed_messages
WHERE connection_id::text = $1
ORDER BY created_at DESC
LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, connectionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var status string
		var receivedAt sql.NullTime
		var attachmentsJSON []byte
		var errorDetail, connectionID sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.WorkspaceID,
			&connectionID,
			&rec.MessageID,
			&rec.ThreadID,
			&rec.Subject,
			&rec.Sender,
			&receivedAt,
			&rec.HasInvoice,
			&rec.AttachmentCount,
			&attachmentsJSON,
			&status,
			&errorDetail,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		rec.ConnectionID = connectionID.String
		if receivedAt.Valid {
			t := receivedAt.Time
			rec.ReceivedAt = &t
		}
		if len(attachmentsJSON) > 0 {
			if err := json.Unmarshal(attachmentsJSON, &rec.Attachments); err != nil {
				return nil, fmt.Errorf("decode attachments: %w", err)
			}
		}
		if errorDetail.Valid {
			rec.ErrorDetail = errorDetail.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ Repo = (*PGRepo)(nil)
