package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/velorapos/backend/internal/appctx"
	"github.com/velorapos/backend/internal/audit"
	"github.com/velorapos/backend/internal/metrics"
	"github.com/velorapos/backend/internal/repository"
	"github.com/velorapos/backend/internal/sanitizer"
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required"`
	FullName string `json:"full_name" validate:"required,max=120"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	DeviceID string `json:"device_id,omitempty"`
}

// DeviceInfo carries per-login client details into the session registry
type DeviceInfo struct {
	DeviceID  string
	IPAddress string
	UserAgent string
}

// UserResponse represents the user data in responses
type UserResponse struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Username       string     `json:"username"`
	FullName       string     `json:"full_name"`
	Role           string     `json:"role"`
	OrganizationID *string    `json:"organization_id,omitempty"`
	StoreID        *string    `json:"store_id,omitempty"`
	EmailVerified  bool       `json:"email_verified"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
}

// LoginResponse represents a successful authentication
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	SessionID string       `json:"session_id"`
	User      UserResponse `json:"user"`
}

// TokenRefreshResponse carries a re-minted token
type TokenRefreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionResponse represents one active session in the device list
type SessionResponse struct {
	ID             string    `json:"id"`
	DeviceID       *string   `json:"device_id,omitempty"`
	IPAddress      *string   `json:"ip_address,omitempty"`
	UserAgent      *string   `json:"user_agent,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AuthService handles authentication business logic. All coordination between
// concurrent requests happens through the datastore; the service itself holds
// no mutable state.
type AuthService struct {
	userRepo          repository.UserRepository
	sessionRepo       repository.SessionRepository
	tokenService      *TokenService
	passwordValidator *PasswordValidator
	auditor           audit.Recorder
	sanitizer         *sanitizer.Sanitizer
	maxLoginAttempts  int
	lockoutDuration   time.Duration
	logger            *slog.Logger
}

// AuthServiceConfig holds the collaborators and policy for AuthService
type AuthServiceConfig struct {
	UserRepo          repository.UserRepository
	SessionRepo       repository.SessionRepository
	TokenService      *TokenService
	PasswordValidator *PasswordValidator
	Auditor           audit.Recorder
	Sanitizer         *sanitizer.Sanitizer
	MaxLoginAttempts  int
	LockoutDuration   time.Duration
	Logger            *slog.Logger
}

// NewAuthService creates a new AuthService instance
func NewAuthService(cfg AuthServiceConfig) *AuthService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = sanitizer.New()
	}
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	return &AuthService{
		userRepo:          cfg.UserRepo,
		sessionRepo:       cfg.SessionRepo,
		tokenService:      cfg.TokenService,
		passwordValidator: cfg.PasswordValidator,
		auditor:           cfg.Auditor,
		sanitizer:         cfg.Sanitizer,
		maxLoginAttempts:  cfg.MaxLoginAttempts,
		lockoutDuration:   cfg.LockoutDuration,
		logger:            cfg.Logger,
	}
}

// Register creates a new user account
func (s *AuthService) Register(ctx context.Context, req RegisterRequest, device DeviceInfo) (*UserResponse, []ValidationError, error) {
	var validationErrors []ValidationError

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !isValidEmail(email) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "email",
			Message: "Invalid email format",
		})
	}

	username := strings.TrimSpace(req.Username)
	if len(username) < 3 {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "username",
			Message: "Username must be at least 3 characters",
		})
	}

	for _, err := range s.passwordValidator.ValidatePassword(req.Password) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field,
			Message: err.Message,
		})
	}

	if len(validationErrors) > 0 {
		return nil, validationErrors, nil
	}

	exists, err := s.userRepo.EmailExists(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, ErrEmailExists
	}

	if _, err := s.userRepo.GetByUsername(ctx, username); err == nil {
		return nil, nil, ErrUsernameExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, nil, err
	}

	passwordHash, err := s.passwordValidator.HashPassword(req.Password)
	if err != nil {
		return nil, nil, err
	}

	user := &repository.User{
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		FullName:     s.sanitizer.CleanTruncated(req.FullName, 120),
		Role:         repository.RoleCashier,
		IsActive:     true,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailAlreadyExists) {
			return nil, nil, ErrEmailExists
		}
		if errors.Is(err, repository.ErrUsernameAlreadyExists) {
			return nil, nil, ErrUsernameExists
		}
		return nil, nil, err
	}

	s.auditor.Record(ctx, repository.ActionCreate, &user.ID, audit.Metadata{
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Details:   "account registered",
	})

	resp := toUserResponse(user)
	return &resp, nil, nil
}

// Login authenticates a user, enforcing the lockout policy, and on success
// mints a token and opens a session.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, device DeviceInfo) (*LoginResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	meta := audit.Metadata{IPAddress: device.IPAddress, UserAgent: device.UserAgent}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Same response as a wrong password: no enumeration.
			meta.Details = "unknown email"
			s.auditor.Record(ctx, repository.ActionLoginFailed, nil, meta)
			metrics.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	// An active lock rejects every attempt, correct password included, and
	// never increments the counter.
	if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		meta.Details = "attempt while locked"
		s.auditor.Record(ctx, repository.ActionLoginFailed, &user.ID, meta)
		metrics.LoginsTotal.WithLabelValues("locked").Inc()
		return nil, &AccountLockedError{Until: *user.LockedUntil}
	}

	if !user.IsActive {
		meta.Details = "account deactivated"
		s.auditor.Record(ctx, repository.ActionLoginFailed, &user.ID, meta)
		metrics.LoginsTotal.WithLabelValues("inactive").Inc()
		return nil, ErrAccountInactive
	}

	if err := s.passwordValidator.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		return nil, s.handleFailedAttempt(ctx, user, meta)
	}

	// Correct password on an unlocked row: counter back to zero.
	if err := s.userRepo.RecordSuccessfulLogin(ctx, user.ID); err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokenService.Mint(mintInputFor(user))
	if err != nil {
		return nil, err
	}

	session := &repository.Session{
		UserID:    user.ID,
		TokenHash: s.tokenService.HashToken(token),
		ExpiresAt: expiresAt,
	}
	if d := s.sanitizer.CleanTruncated(device.DeviceID, 128); d != "" {
		session.DeviceID = &d
	}
	if device.IPAddress != "" {
		session.IPAddress = &device.IPAddress
	}
	if ua := s.sanitizer.CleanTruncated(device.UserAgent, 512); ua != "" {
		session.UserAgent = &ua
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, repository.ActionLogin, &user.ID, meta)
	metrics.LoginsTotal.WithLabelValues("success").Inc()

	user, err = s.userRepo.GetByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		SessionID: session.ID.String(),
		User:      toUserResponse(user),
	}, nil
}

// handleFailedAttempt runs the governor's atomic increment and decides
// whether this failure tipped the account into the locked state.
func (s *AuthService) handleFailedAttempt(ctx context.Context, user *repository.User, meta audit.Metadata) error {
	attempts, _, locked, err := s.userRepo.RecordFailedAttempt(ctx, user.ID, s.maxLoginAttempts, s.lockoutDuration)
	if err != nil {
		return err
	}

	meta.Details = "wrong password"
	s.auditor.Record(ctx, repository.ActionLoginFailed, &user.ID, meta)
	metrics.LoginsTotal.WithLabelValues("invalid_credentials").Inc()

	// The repository reports the unlocked-to-locked transition, so exactly
	// one concurrent failure writes the lock audit entry. Covers the re-lock
	// after an expired lock as well, where the counter is already past the
	// threshold.
	if locked {
		s.auditor.Record(ctx, repository.ActionAccountLocked, &user.ID, audit.Metadata{
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Details:   "failed attempt threshold reached",
		})
		metrics.LockoutsTotal.Inc()
		s.logger.Warn("account locked after repeated failures", "user_id", user.ID, "attempts", attempts)
	}

	return ErrInvalidCredentials
}

// Logout revokes the session backing the current request. The registry
// update completes before this returns; a successful logout means the
// session is already unusable.
func (s *AuthService) Logout(ctx context.Context, sessionID string, device DeviceInfo) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return ErrSessionNotFound
	}

	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	if err := s.sessionRepo.Revoke(ctx, id); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	s.auditor.Record(ctx, repository.ActionLogout, &session.UserID, audit.Metadata{
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
	})
	metrics.SessionsRevokedTotal.WithLabelValues("logout").Inc()
	return nil
}

// RevokeSession revokes a session by ID. Users may revoke their own
// sessions (device management); admins may revoke anyone's.
func (s *AuthService) RevokeSession(ctx context.Context, sessionID string, requestor appctx.Identity, device DeviceInfo) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return ErrSessionNotFound
	}

	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	if session.UserID.String() != requestor.UserID && requestor.Role != repository.RoleAdmin {
		return ErrUnauthorized
	}

	if err := s.sessionRepo.Revoke(ctx, id); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	s.auditor.Record(ctx, repository.ActionSessionRevoked, &session.UserID, audit.Metadata{
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Details:   "session " + sessionID,
	})
	metrics.SessionsRevokedTotal.WithLabelValues("admin").Inc()
	return nil
}

// ListSessions returns the user's active sessions for the device view
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]SessionResponse, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	sessions, err := s.sessionRepo.ListActiveForUser(ctx, id)
	if err != nil {
		return nil, err
	}

	responses := make([]SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		responses = append(responses, SessionResponse{
			ID:             session.ID.String(),
			DeviceID:       session.DeviceID,
			IPAddress:      session.IPAddress,
			UserAgent:      session.UserAgent,
			IssuedAt:       session.IssuedAt,
			ExpiresAt:      session.ExpiresAt,
			LastActivityAt: session.LastActivityAt,
		})
	}
	return responses, nil
}

// RefreshToken re-mints a token for the current session after a claim change
// (organization or store assignment). The session row is rotated to the new
// token hash and expiry; the old token stops matching immediately.
func (s *AuthService) RefreshToken(ctx context.Context, userID, sessionID string) (*TokenRefreshResponse, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.userRepo.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	token, expiresAt, err := s.tokenService.Mint(mintInputFor(user))
	if err != nil {
		return nil, err
	}

	if err := s.sessionRepo.UpdateToken(ctx, sid, s.tokenService.HashToken(token), expiresAt); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionRevoked
		}
		return nil, err
	}

	return &TokenRefreshResponse{Token: token, ExpiresAt: expiresAt}, nil
}

// GetProfile returns the user's own account data
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*UserResponse, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	resp := toUserResponse(user)
	return &resp, nil
}

// Unlock clears an account lock ahead of expiry (admin action)
func (s *AuthService) Unlock(ctx context.Context, userID string, device DeviceInfo) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return ErrUserNotFound
	}

	if err := s.userRepo.Unlock(ctx, id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	s.auditor.Record(ctx, repository.ActionAccountUnlocked, &id, audit.Metadata{
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Details:   "unlocked by administrator",
	})
	return nil
}

func mintInputFor(user *repository.User) MintInput {
	in := MintInput{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   user.Role,
	}
	if user.OrganizationID != nil {
		orgID := user.OrganizationID.String()
		in.OrganizationID = &orgID
	}
	if user.StoreID != nil {
		storeID := user.StoreID.String()
		in.StoreID = &storeID
	}
	return in
}

func toUserResponse(user *repository.User) UserResponse {
	resp := UserResponse{
		ID:            user.ID.String(),
		Email:         user.Email,
		Username:      user.Username,
		FullName:      user.FullName,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		CreatedAt:     user.CreatedAt,
		LastLogin:     user.LastLoginAt,
	}
	if user.OrganizationID != nil {
		orgID := user.OrganizationID.String()
		resp.OrganizationID = &orgID
	}
	if user.StoreID != nil {
		storeID := user.StoreID.String()
		resp.StoreID = &storeID
	}
	return resp
}

// isValidEmail checks if the email format is valid
func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}
