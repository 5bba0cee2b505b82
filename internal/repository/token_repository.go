package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Token repository errors
var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrTokenAlreadyUsed = errors.New("token already used")
)

// TokenRepository defines the interface for single-use token storage
// (password reset and email verification).
type TokenRepository interface {
	CreateResetToken(ctx context.Context, token *PasswordResetToken) error
	GetResetToken(ctx context.Context, token string) (*PasswordResetToken, error)

	// ClaimResetToken flips used to true for an unused token in one
	// statement. ErrTokenAlreadyUsed means another request claimed it first.
	ClaimResetToken(ctx context.Context, token string) error

	// InvalidateResetTokensForUser marks every outstanding unused reset
	// token for the user as used, returning how many were invalidated.
	InvalidateResetTokensForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	CreateVerificationToken(ctx context.Context, token *EmailVerificationToken) error
	GetVerificationToken(ctx context.Context, token string) (*EmailVerificationToken, error)
	ClaimVerificationToken(ctx context.Context, token string) error
}

// tokenRepository implements TokenRepository using PostgreSQL
type tokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository creates a new TokenRepository instance
func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepository{pool: pool}
}

// CreateResetToken inserts a new password reset token
func (r *tokenRepository) CreateResetToken(ctx context.Context, token *PasswordResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	return r.pool.QueryRow(ctx, query,
		token.UserID,
		token.Token,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
}

// GetResetToken retrieves a reset token by its value, regardless of state
func (r *tokenRepository) GetResetToken(ctx context.Context, token string) (*PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token, expires_at, used, created_at
		FROM password_reset_tokens
		WHERE token = $1
	`

	t := &PasswordResetToken{}
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&t.ID,
		&t.UserID,
		&t.Token,
		&t.ExpiresAt,
		&t.Used,
		&t.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	return t, nil
}

// ClaimResetToken marks a reset token used. The used = FALSE predicate makes
// the check-and-set a single atomic step: of any number of concurrent claims
// for the same token, exactly one updates a row.
func (r *tokenRepository) ClaimResetToken(ctx context.Context, token string) error {
	query := `
		UPDATE password_reset_tokens
		SET used = TRUE
		WHERE token = $1 AND used = FALSE
	`

	result, err := r.pool.Exec(ctx, query, token)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTokenAlreadyUsed
	}
	return nil
}

// InvalidateResetTokensForUser marks all outstanding unused reset tokens used
func (r *tokenRepository) InvalidateResetTokensForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		UPDATE password_reset_tokens
		SET used = TRUE
		WHERE user_id = $1 AND used = FALSE
	`

	result, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// CreateVerificationToken inserts a new email verification token
func (r *tokenRepository) CreateVerificationToken(ctx context.Context, token *EmailVerificationToken) error {
	query := `
		INSERT INTO email_verification_tokens (user_id, email, token, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	return r.pool.QueryRow(ctx, query,
		token.UserID,
		token.Email,
		token.Token,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
}

// GetVerificationToken retrieves a verification token by its value
func (r *tokenRepository) GetVerificationToken(ctx context.Context, token string) (*EmailVerificationToken, error) {
	query := `
		SELECT id, user_id, email, token, expires_at, verified, created_at
		FROM email_verification_tokens
		WHERE token = $1
	`

	t := &EmailVerificationToken{}
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&t.ID,
		&t.UserID,
		&t.Email,
		&t.Token,
		&t.ExpiresAt,
		&t.Verified,
		&t.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	return t, nil
}

// ClaimVerificationToken marks a verification token consumed, atomically
func (r *tokenRepository) ClaimVerificationToken(ctx context.Context, token string) error {
	query := `
		UPDATE email_verification_tokens
		SET verified = TRUE
		WHERE token = $1 AND verified = FALSE
	`

	result, err := r.pool.Exec(ctx, query, token)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTokenAlreadyUsed
	}
	return nil
}
