package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// AuditRepository defines the interface for the append-only audit log.
// There is deliberately no update or single-row delete: entries are written
// once and only the archiver removes exported ranges.
type AuditRepository interface {
	Insert(ctx context.Context, entry *AuditLogEntry) error
	List(ctx context.Context, params ListAuditParams) ([]AuditLogEntry, int, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditLogEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRepo implements AuditRepository using PostgreSQL
type AuditRepo struct {
	db *sqlx.DB
}

// NewAuditRepo creates a new AuditRepo instance
func NewAuditRepo(db *sqlx.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Insert appends a new audit log entry
func (r *AuditRepo) Insert(ctx context.Context, entry *AuditLogEntry) error {
	query := `
		INSERT INTO audit_logs (user_id, action, ip_address, user_agent, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	return r.db.QueryRowxContext(ctx, query,
		entry.UserID,
		entry.Action,
		entry.IPAddress,
		entry.UserAgent,
		entry.Details,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// List retrieves audit log entries with pagination and filtering
func (r *AuditRepo) List(ctx context.Context, params ListAuditParams) ([]AuditLogEntry, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = 50
	}
	if params.Limit > 200 {
		params.Limit = 200
	}

	baseQuery := ` FROM audit_logs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if params.UserID != nil {
		baseQuery += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, *params.UserID)
		argIdx++
	}
	if params.Action != nil {
		baseQuery += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, *params.Action)
		argIdx++
	}
	if params.After != nil {
		baseQuery += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *params.After)
		argIdx++
	}
	if params.Before != nil {
		baseQuery += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, *params.Before)
		argIdx++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+baseQuery, args...); err != nil {
		return nil, 0, err
	}

	query := "SELECT id, user_id, action, ip_address, user_agent, details, created_at" +
		baseQuery +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, params.Limit, (params.Page-1)*params.Limit)

	var entries []AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// ListBefore returns the oldest entries before the cutoff, for archive export
func (r *AuditRepo) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditLogEntry, error) {
	query := `
		SELECT id, user_id, action, ip_address, user_agent, details, created_at
		FROM audit_logs
		WHERE created_at < $1
		ORDER BY created_at
		LIMIT $2
	`

	var entries []AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, cutoff, limit); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteBefore removes entries older than the cutoff. Called by the archiver
// only after the same range has been exported.
func (r *AuditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
