package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velorapos/backend/internal/audit"
	"github.com/velorapos/backend/internal/repository"
)

// MockUserRepository implements repository.UserRepository in memory
type MockUserRepository struct {
	mu    sync.Mutex
	users map[uuid.UUID]*repository.User
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[uuid.UUID]*repository.User)}
}

func cloneUser(u *repository.User) *repository.User {
	c := *u
	return &c
}

func (m *MockUserRepository) AddUser(u *repository.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.users[u.ID] = cloneUser(u)
}

func (m *MockUserRepository) Get(id uuid.UUID) *repository.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return cloneUser(u)
	}
	return nil
}

func (m *MockUserRepository) Create(ctx context.Context, user *repository.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrEmailAlreadyExists
		}
		if strings.EqualFold(u.Username, user.Username) {
			return repository.ErrUsernameAlreadyExists
		}
	}
	user.ID = uuid.New()
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *MockUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockUserRepository) RecordFailedAttempt(ctx context.Context, id uuid.UUID, threshold int, lockout time.Duration) (int, *time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, nil, false, repository.ErrUserNotFound
	}
	now := time.Now().UTC()
	wasLocked := u.LockedUntil != nil && u.LockedUntil.After(now)
	u.LoginAttempts++
	if u.LoginAttempts >= threshold {
		until := now.Add(lockout)
		u.LockedUntil = &until
	}
	isLocked := u.LockedUntil != nil && u.LockedUntil.After(now)
	return u.LoginAttempts, u.LockedUntil, isLocked && !wasLocked, nil
}

func (m *MockUserRepository) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	now := time.Now().UTC()
	u.LoginAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &now
	return nil
}

func (m *MockUserRepository) Unlock(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.LoginAttempts = 0
	u.LockedUntil = nil
	return nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	now := time.Now().UTC()
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = &now
	return nil
}

func (m *MockUserRepository) SetEmailVerified(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.EmailVerified = true
	return nil
}

func (m *MockUserRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

// MockSessionRepository implements repository.SessionRepository in memory
type MockSessionRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*repository.Session
}

func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{sessions: make(map[uuid.UUID]*repository.Session)}
}

func cloneSession(s *repository.Session) *repository.Session {
	c := *s
	return &c
}

func (m *MockSessionRepository) Create(ctx context.Context, session *repository.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session.ID = uuid.New()
	now := time.Now().UTC()
	session.IssuedAt = now
	session.LastActivityAt = now
	session.IsActive = true
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (m *MockSessionRepository) FindActiveByTokenHash(ctx context.Context, tokenHash string) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TokenHash == tokenHash && s.IsActive && s.ExpiresAt.After(time.Now()) {
			return cloneSession(s), nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (m *MockSessionRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.IsActive {
		return repository.ErrSessionNotFound
	}
	s.IsActive = false
	return nil
}

func (m *MockSessionRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var revoked int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			revoked++
		}
	}
	return revoked, nil
}

func (m *MockSessionRepository) ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*repository.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && s.ExpiresAt.After(time.Now()) {
			result = append(result, cloneSession(s))
		}
	}
	return result, nil
}

func (m *MockSessionRepository) TouchActivity(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastActivityAt = time.Now().UTC()
	}
	return nil
}

func (m *MockSessionRepository) UpdateToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.IsActive {
		return repository.ErrSessionNotFound
	}
	s.TokenHash = tokenHash
	s.ExpiresAt = expiresAt
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *MockSessionRepository) ListDeadBefore(ctx context.Context, cutoff time.Time, limit int) ([]*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*repository.Session
	for _, s := range m.sessions {
		if (!s.IsActive || s.ExpiresAt.Before(time.Now())) && s.IssuedAt.Before(cutoff) {
			result = append(result, cloneSession(s))
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MockSessionRepository) DeleteDeadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, s := range m.sessions {
		if (!s.IsActive || s.ExpiresAt.Before(time.Now())) && s.IssuedAt.Before(cutoff) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// MockTokenRepository implements repository.TokenRepository in memory.
// Claims happen under the mutex so the single-winner guarantee of the real
// UPDATE ... WHERE used = FALSE holds here too.
type MockTokenRepository struct {
	mu            sync.Mutex
	resetTokens   map[string]*repository.PasswordResetToken
	verifications map[string]*repository.EmailVerificationToken
}

func NewMockTokenRepository() *MockTokenRepository {
	return &MockTokenRepository{
		resetTokens:   make(map[string]*repository.PasswordResetToken),
		verifications: make(map[string]*repository.EmailVerificationToken),
	}
}

func (m *MockTokenRepository) CreateResetToken(ctx context.Context, token *repository.PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token.ID = uuid.New()
	token.CreatedAt = time.Now().UTC()
	c := *token
	m.resetTokens[token.Token] = &c
	return nil
}

func (m *MockTokenRepository) GetResetToken(ctx context.Context, token string) (*repository.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.resetTokens[token]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	c := *t
	return &c, nil
}

func (m *MockTokenRepository) ClaimResetToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.resetTokens[token]
	if !ok || t.Used {
		return repository.ErrTokenAlreadyUsed
	}
	t.Used = true
	return nil
}

func (m *MockTokenRepository) InvalidateResetTokensForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var invalidated int64
	for _, t := range m.resetTokens {
		if t.UserID == userID && !t.Used {
			t.Used = true
			invalidated++
		}
	}
	return invalidated, nil
}

func (m *MockTokenRepository) CreateVerificationToken(ctx context.Context, token *repository.EmailVerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token.ID = uuid.New()
	token.CreatedAt = time.Now().UTC()
	c := *token
	m.verifications[token.Token] = &c
	return nil
}

func (m *MockTokenRepository) GetVerificationToken(ctx context.Context, token string) (*repository.EmailVerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.verifications[token]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	c := *t
	return &c, nil
}

func (m *MockTokenRepository) ClaimVerificationToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.verifications[token]
	if !ok || t.Verified {
		return repository.ErrTokenAlreadyUsed
	}
	t.Verified = true
	return nil
}

// ExpireResetToken backdates a reset token's expiry for tests
func (m *MockTokenRepository) ExpireResetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.resetTokens[token]; ok {
		t.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	}
}

// ExpireVerificationToken backdates a verification token's expiry for tests
func (m *MockTokenRepository) ExpireVerificationToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.verifications[token]; ok {
		t.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	}
}

// RecordedEvent is one captured audit emission
type RecordedEvent struct {
	Action repository.AuditAction
	UserID *uuid.UUID
	Meta   audit.Metadata
}

// MockRecorder captures audit events for assertions
type MockRecorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

func NewMockRecorder() *MockRecorder {
	return &MockRecorder{}
}

func (m *MockRecorder) Record(ctx context.Context, action repository.AuditAction, userID *uuid.UUID, meta audit.Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, RecordedEvent{Action: action, UserID: userID, Meta: meta})
}

// Count returns how many events with the given action were recorded
func (m *MockRecorder) Count(action repository.AuditAction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.events {
		if e.Action == action {
			count++
		}
	}
	return count
}

// Last returns the most recent event with the given action, or nil
func (m *MockRecorder) Last(action repository.AuditAction) *RecordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Action == action {
			e := m.events[i]
			return &e
		}
	}
	return nil
}
