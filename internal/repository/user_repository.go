package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrEmailAlreadyExists    = errors.New("email already exists")
	ErrUsernameAlreadyExists = errors.New("username already exists")
)

// UserRepository defines the interface for credential store access
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)

	// RecordFailedAttempt atomically increments the failed-login counter and,
	// when the new count reaches threshold, sets locked_until. The returned
	// count and lock reflect the row after this attempt; locked reports
	// whether this call moved the row from unlocked to locked, so exactly one
	// of any set of concurrent callers observes the transition. A re-lock
	// after an expired lock counts as a transition too.
	RecordFailedAttempt(ctx context.Context, id uuid.UUID, threshold int, lockout time.Duration) (attempts int, lockedUntil *time.Time, locked bool, err error)

	// RecordSuccessfulLogin resets the counter, clears any lock, and stamps
	// last_login_at. Called only after a correct password on an unlocked row.
	RecordSuccessfulLogin(ctx context.Context, id uuid.UUID) error

	// Unlock clears the lock and counter ahead of expiry (admin action).
	Unlock(ctx context.Context, id uuid.UUID) error

	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetEmailVerified(ctx context.Context, id uuid.UUID) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, email, username, password_hash, full_name, role,
	organization_id, store_id, email_verified, is_active, login_attempts,
	locked_until, password_changed_at, created_at, updated_at, last_login_at`

func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&user.FullName,
		&user.Role,
		&user.OrganizationID,
		&user.StoreID,
		&user.EmailVerified,
		&user.IsActive,
		&user.LoginAttempts,
		&user.LockedUntil,
		&user.PasswordChangedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// Create inserts a new user into the database
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (email, username, password_hash, full_name, role, organization_id, store_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		strings.ToLower(user.Email),
		user.Username,
		user.PasswordHash,
		user.FullName,
		user.Role,
		user.OrganizationID,
		user.StoreID,
		true,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if strings.Contains(err.Error(), "idx_users_email") {
			return ErrEmailAlreadyExists
		}
		if strings.Contains(err.Error(), "idx_users_username") {
			return ErrUsernameAlreadyExists
		}
		return err
	}

	user.IsActive = true
	return nil
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by their email address (case-insensitive)
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetByUsername retrieves a user by their username (case-insensitive, to
// match the unique index on LOWER(username))
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1)`
	return scanUser(r.pool.QueryRow(ctx, query, username))
}

// EmailExists checks if an email address is already registered (case-insensitive)
func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`

	var exists bool
	err := r.pool.QueryRow(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// RecordFailedAttempt increments login_attempts and locks the row when the
// threshold is reached, in a single statement. Two concurrent failures can
// never both read the same counter value: the increment happens inside the
// UPDATE and the returned values are the row after this attempt. The CTE
// takes the row lock first, so prev holds the committed pre-update lock even
// when callers race; the returned flag is true only for the caller whose
// statement turned an inactive lock into an active one.
func (r *userRepository) RecordFailedAttempt(ctx context.Context, id uuid.UUID, threshold int, lockout time.Duration) (int, *time.Time, bool, error) {
	query := `
		WITH prev AS (
			SELECT locked_until FROM users WHERE id = $1 FOR UPDATE
		)
		UPDATE users u
		SET login_attempts = u.login_attempts + 1,
		    locked_until = CASE
		        WHEN u.login_attempts + 1 >= $2 THEN $3::timestamptz
		        ELSE u.locked_until
		    END,
		    updated_at = NOW()
		FROM prev
		WHERE u.id = $1
		RETURNING u.login_attempts, u.locked_until,
		    (u.locked_until IS NOT NULL AND u.locked_until > NOW()
		     AND (prev.locked_until IS NULL OR prev.locked_until <= NOW()))
	`

	lockUntil := time.Now().UTC().Add(lockout)

	var attempts int
	var lockedUntil *time.Time
	var locked bool
	err := r.pool.QueryRow(ctx, query, id, threshold, lockUntil).Scan(&attempts, &lockedUntil, &locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, false, ErrUserNotFound
		}
		return 0, nil, false, err
	}

	return attempts, lockedUntil, locked, nil
}

// RecordSuccessfulLogin resets the failed-attempt counter and stamps last_login_at
func (r *userRepository) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET login_attempts = 0, locked_until = NULL, last_login_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Unlock clears the lock and counter ahead of expiry
func (r *userRepository) Unlock(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePassword replaces the password hash and stamps password_changed_at
func (r *userRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_changed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetEmailVerified marks the user's email address as verified
func (r *userRepository) SetEmailVerified(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetActive toggles the account's active flag
func (r *userRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, active)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
