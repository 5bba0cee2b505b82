package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/velorapos/backend/internal/audit"
	"github.com/velorapos/backend/internal/metrics"
	"github.com/velorapos/backend/internal/repository"
)

// resetTokenBytes is the entropy of a reset token before hex encoding
const resetTokenBytes = 32

// ResetService issues and consumes single-use password reset tokens
type ResetService struct {
	userRepo          repository.UserRepository
	sessionRepo       repository.SessionRepository
	tokenRepo         repository.TokenRepository
	passwordValidator *PasswordValidator
	auditor           audit.Recorder
	tokenExpiry       time.Duration
	logger            *slog.Logger
}

// NewResetService creates a new ResetService instance
func NewResetService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokenRepo repository.TokenRepository,
	passwordValidator *PasswordValidator,
	auditor audit.Recorder,
	tokenExpiry time.Duration,
	logger *slog.Logger,
) *ResetService {
	if logger == nil {
		logger = slog.Default()
	}
	if tokenExpiry <= 0 {
		tokenExpiry = 15 * time.Minute
	}
	return &ResetService{
		userRepo:          userRepo,
		sessionRepo:       sessionRepo,
		tokenRepo:         tokenRepo,
		passwordValidator: passwordValidator,
		auditor:           auditor,
		tokenExpiry:       tokenExpiry,
		logger:            logger,
	}
}

// RequestReset issues a new reset token for the account with the given
// email. Any outstanding unused token is invalidated first, so at most one
// reset token is live per account. The caller always gets a nil error for an
// unknown email; the returned token is empty in that case. Delivery of the
// token (mail) is outside this service.
func (s *ResetService) RequestReset(ctx context.Context, email string, device DeviceInfo) (string, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Indistinguishable from success to the caller.
			return "", nil
		}
		return "", err
	}

	if _, err := s.tokenRepo.InvalidateResetTokensForUser(ctx, user.ID); err != nil {
		return "", err
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	reset := &repository.PasswordResetToken{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(s.tokenExpiry),
	}
	if err := s.tokenRepo.CreateResetToken(ctx, reset); err != nil {
		return "", err
	}

	s.auditor.Record(ctx, repository.ActionPasswordResetRequested, &user.ID, audit.Metadata{
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
	})

	return token, nil
}

// Consume spends a reset token exactly once: validates it, claims it
// atomically, replaces the password, and revokes every active session so all
// devices must re-authenticate.
func (s *ResetService) Consume(ctx context.Context, token, newPassword string, device DeviceInfo) ([]ValidationError, error) {
	reset, err := s.tokenRepo.GetResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	meta := audit.Metadata{IPAddress: device.IPAddress, UserAgent: device.UserAgent}

	if reset.Used {
		meta.Details = "reset token replay"
		s.auditor.Record(ctx, repository.ActionTokenReplayBlocked, &reset.UserID, meta)
		return nil, ErrTokenAlreadyUsed
	}
	if time.Now().After(reset.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	if errs := s.passwordValidator.ValidatePassword(newPassword); len(errs) > 0 {
		validationErrors := make([]ValidationError, 0, len(errs))
		for _, e := range errs {
			validationErrors = append(validationErrors, ValidationError{Field: e.Field, Message: e.Message})
		}
		return validationErrors, nil
	}

	passwordHash, err := s.passwordValidator.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	// The claim is the commit point: of two concurrent consumers of the
	// same token, the loser gets ErrTokenAlreadyUsed here.
	if err := s.tokenRepo.ClaimResetToken(ctx, token); err != nil {
		if errors.Is(err, repository.ErrTokenAlreadyUsed) {
			meta.Details = "reset token replay"
			s.auditor.Record(ctx, repository.ActionTokenReplayBlocked, &reset.UserID, meta)
			return nil, ErrTokenAlreadyUsed
		}
		return nil, err
	}

	if err := s.userRepo.UpdatePassword(ctx, reset.UserID, passwordHash); err != nil {
		return nil, err
	}

	revoked, err := s.sessionRepo.RevokeAllForUser(ctx, reset.UserID)
	if err != nil {
		// Password already changed; surface the error but log the partial state.
		s.logger.Error("failed to revoke sessions after password reset", "user_id", reset.UserID, "error", err)
		return nil, err
	}
	if revoked > 0 {
		metrics.SessionsRevokedTotal.WithLabelValues("password_reset").Add(float64(revoked))
	}

	s.auditor.Record(ctx, repository.ActionPasswordResetCompleted, &reset.UserID, meta)

	return nil, nil
}

// generateToken returns a hex-encoded high-entropy random token
func generateToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
