package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/velorapos/backend/internal/audit"
	"github.com/velorapos/backend/internal/repository"
)

// VerificationService issues and consumes single-use email verification
// tokens. Unlike password reset, multiple outstanding tokens per user are
// tolerated: verifying through an older link is harmless as long as it
// targets the account's current email.
type VerificationService struct {
	userRepo    repository.UserRepository
	tokenRepo   repository.TokenRepository
	auditor     audit.Recorder
	tokenExpiry time.Duration
	logger      *slog.Logger
}

// NewVerificationService creates a new VerificationService instance
func NewVerificationService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	auditor audit.Recorder,
	tokenExpiry time.Duration,
	logger *slog.Logger,
) *VerificationService {
	if logger == nil {
		logger = slog.Default()
	}
	if tokenExpiry <= 0 {
		tokenExpiry = 7 * 24 * time.Hour
	}
	return &VerificationService{
		userRepo:    userRepo,
		tokenRepo:   tokenRepo,
		auditor:     auditor,
		tokenExpiry: tokenExpiry,
		logger:      logger,
	}
}

// RequestVerification issues a verification token targeting the user's
// current email address. Delivery is outside this service.
func (s *VerificationService) RequestVerification(ctx context.Context, userID string) (string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", ErrUserNotFound
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	verification := &repository.EmailVerificationToken{
		UserID:    user.ID,
		Email:     user.Email,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(s.tokenExpiry),
	}
	if err := s.tokenRepo.CreateVerificationToken(ctx, verification); err != nil {
		return "", err
	}

	return token, nil
}

// Consume spends a verification token exactly once and marks the account's
// email verified. A token targeting a stale email (changed since issuance)
// is rejected as invalid.
func (s *VerificationService) Consume(ctx context.Context, token string, device DeviceInfo) error {
	verification, err := s.tokenRepo.GetVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return ErrTokenInvalid
		}
		return err
	}

	if verification.Verified {
		return ErrTokenAlreadyUsed
	}
	if time.Now().After(verification.ExpiresAt) {
		return ErrTokenExpired
	}

	user, err := s.userRepo.GetByID(ctx, verification.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrTokenInvalid
		}
		return err
	}
	if user.Email != verification.Email {
		return ErrTokenInvalid
	}

	if err := s.tokenRepo.ClaimVerificationToken(ctx, token); err != nil {
		if errors.Is(err, repository.ErrTokenAlreadyUsed) {
			return ErrTokenAlreadyUsed
		}
		return err
	}

	if err := s.userRepo.SetEmailVerified(ctx, verification.UserID); err != nil {
		return err
	}

	s.auditor.Record(ctx, repository.ActionEmailVerified, &verification.UserID, audit.Metadata{
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
	})

	return nil
}
