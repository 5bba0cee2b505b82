package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository defines the interface for session registry access.
// Rows are never hard-deleted on revocation; is_active goes false and the
// row stays behind for audit. Only the archiver removes old rows.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)

	// FindActiveByTokenHash returns the session for a token hash, ignoring
	// rows that are revoked or past expiry.
	FindActiveByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Revoke marks a session inactive. Returns ErrSessionNotFound if the
	// session does not exist or is already inactive.
	Revoke(ctx context.Context, id uuid.UUID) error

	// RevokeAllForUser marks every active session for the user inactive and
	// returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]*Session, error)
	TouchActivity(ctx context.Context, id uuid.UUID) error

	// UpdateToken swaps the stored token hash and expiry on re-mint.
	UpdateToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error

	// DeleteDeadBefore removes revoked or expired rows older than the cutoff.
	// Used only by the maintenance archiver, never on the request path.
	DeleteDeadBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListDeadBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Session, error)
}

// sessionRepository implements SessionRepository using PostgreSQL
type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, token_hash, issued_at, expires_at,
	last_activity_at, device_id, ip_address, user_agent, is_active`

func scanSession(row pgx.Row) (*Session, error) {
	session := &Session{}
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.IssuedAt,
		&session.ExpiresAt,
		&session.LastActivityAt,
		&session.DeviceID,
		&session.IPAddress,
		&session.UserAgent,
		&session.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// Create inserts a new session. The token_hash unique index guards against
// two logins ever sharing a token.
func (r *sessionRepository) Create(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (user_id, token_hash, expires_at, device_id, ip_address, user_agent, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING id, issued_at, last_activity_at
	`

	err := r.pool.QueryRow(ctx, query,
		session.UserID,
		session.TokenHash,
		session.ExpiresAt,
		session.DeviceID,
		session.IPAddress,
		session.UserAgent,
	).Scan(&session.ID, &session.IssuedAt, &session.LastActivityAt)

	if err != nil {
		return err
	}

	session.IsActive = true
	return nil
}

// GetByID retrieves a session regardless of state
func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

// FindActiveByTokenHash looks up a live session by token hash. Expiry is
// checked in the query so stale rows are invisible without any sweeper.
func (r *sessionRepository) FindActiveByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE token_hash = $1 AND is_active = TRUE AND expires_at > NOW()
	`
	return scanSession(r.pool.QueryRow(ctx, query, tokenHash))
}

// Revoke marks a session inactive
func (r *sessionRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET is_active = FALSE WHERE id = $1 AND is_active = TRUE`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAllForUser marks all active sessions for a user inactive
func (r *sessionRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`

	result, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ListActiveForUser returns all live sessions for the device-management view
func (r *sessionRepository) ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active = TRUE AND expires_at > NOW()
		ORDER BY last_activity_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// TouchActivity refreshes last_activity_at
func (r *sessionRepository) TouchActivity(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET last_activity_at = NOW() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// UpdateToken swaps the stored token hash and expiry after a re-mint
func (r *sessionRepository) UpdateToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	query := `
		UPDATE sessions
		SET token_hash = $2, expires_at = $3, last_activity_at = NOW()
		WHERE id = $1 AND is_active = TRUE
	`

	result, err := r.pool.Exec(ctx, query, id, tokenHash, expiresAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListDeadBefore returns revoked or expired sessions older than the cutoff
func (r *sessionRepository) ListDeadBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE (is_active = FALSE OR expires_at < NOW()) AND issued_at < $1
		ORDER BY issued_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// DeleteDeadBefore removes revoked or expired rows older than the cutoff
func (r *sessionRepository) DeleteDeadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE (is_active = FALSE OR expires_at < NOW()) AND issued_at < $1
	`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
