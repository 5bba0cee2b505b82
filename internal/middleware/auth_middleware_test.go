package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/velorapos/backend/internal/appctx"
	"github.com/velorapos/backend/internal/auth"
	"github.com/velorapos/backend/internal/repository"
)

// stubSessionRepo implements repository.SessionRepository with just enough
// behavior for the guard: active lookup by token hash and activity touch.
type stubSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*repository.Session
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{sessions: make(map[string]*repository.Session)}
}

func (s *stubSessionRepo) add(tokenHash string, userID uuid.UUID) *repository.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := &repository.Session{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokenHash,
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: time.Now().Add(time.Hour),
		IsActive:  true,
	}
	s.sessions[tokenHash] = session
	return session
}

func (s *stubSessionRepo) FindActiveByTokenHash(ctx context.Context, tokenHash string) (*repository.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[tokenHash]
	if !ok || !session.IsActive || !session.ExpiresAt.After(time.Now()) {
		return nil, repository.ErrSessionNotFound
	}
	c := *session
	return &c, nil
}

func (s *stubSessionRepo) TouchActivity(ctx context.Context, id uuid.UUID) error { return nil }

func (s *stubSessionRepo) Create(ctx context.Context, session *repository.Session) error { return nil }

func (s *stubSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Session, error) {
	return nil, repository.ErrSessionNotFound
}

func (s *stubSessionRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.ID == id {
			session.IsActive = false
			return nil
		}
	}
	return repository.ErrSessionNotFound
}

func (s *stubSessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	return 0, nil
}

func (s *stubSessionRepo) ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]*repository.Session, error) {
	return nil, nil
}

func (s *stubSessionRepo) UpdateToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	return nil
}

func (s *stubSessionRepo) ListDeadBefore(ctx context.Context, cutoff time.Time, limit int) ([]*repository.Session, error) {
	return nil, nil
}

func (s *stubSessionRepo) DeleteDeadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type guardFixture struct {
	guard    *AuthMiddleware
	tokens   *auth.TokenService
	sessions *stubSessionRepo
}

func newGuardFixture() *guardFixture {
	tokens := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:      "test-secret",
		TokenExpiry: time.Hour,
		Issuer:      "velora-pos",
	})
	sessions := newStubSessionRepo()
	return &guardFixture{
		guard:    NewAuthMiddleware(tokens, sessions),
		tokens:   tokens,
		sessions: sessions,
	}
}

// login mints a token and registers a matching live session
func (f *guardFixture) login(t *testing.T, role string) (string, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	token, _, err := f.tokens.Mint(auth.MintInput{
		UserID: userID.String(),
		Email:  "user@store.example",
		Role:   role,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.sessions.add(f.tokens.HashToken(token), userID)
	return token, userID
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error.Code
}

func TestAuthenticateMissingToken(t *testing.T) {
	f := newGuardFixture()

	handler := f.guard.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without a token")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != auth.CodeAuthTokenMissing {
		t.Errorf("code = %q, want %q", code, auth.CodeAuthTokenMissing)
	}
}

func TestAuthenticateBearerToken(t *testing.T) {
	f := newGuardFixture()
	token, userID := f.login(t, repository.RoleCashier)

	var got appctx.Identity
	handler := f.guard.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := appctx.IdentityFromContext(r.Context())
		if !ok {
			t.Error("no identity in context")
		}
		got = identity
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.UserID != userID.String() {
		t.Errorf("identity user = %q, want %q", got.UserID, userID)
	}
	if got.Role != repository.RoleCashier {
		t.Errorf("identity role = %q", got.Role)
	}
	if got.SessionID == "" {
		t.Error("identity carries no session ID")
	}
}

func TestAuthenticateCookieToken(t *testing.T) {
	f := newGuardFixture()
	token, _ := f.login(t, repository.RoleCashier)

	reached := false
	handler := f.guard.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.AuthCookieName, Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !reached {
		t.Errorf("status = %d, reached = %v", rec.Code, reached)
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	f := newGuardFixture()

	expiredMinter := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:      "test-secret",
		TokenExpiry: -time.Minute,
		Issuer:      "velora-pos",
	})
	token, _, err := expiredMinter.Mint(auth.MintInput{UserID: uuid.NewString(), Email: "a@b.co", Role: "cashier"})
	if err != nil {
		t.Fatal(err)
	}

	handler := f.guard.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with an expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != auth.CodeTokenExpired {
		t.Errorf("code = %q, want %q", code, auth.CodeTokenExpired)
	}
}

func TestAuthenticateForgedToken(t *testing.T) {
	f := newGuardFixture()

	forger := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:      "attacker-secret",
		TokenExpiry: time.Hour,
		Issuer:      "velora-pos",
	})
	token, _, err := forger.Mint(auth.MintInput{UserID: uuid.NewString(), Email: "a@b.co", Role: "admin"})
	if err != nil {
		t.Fatal(err)
	}

	handler := f.guard.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with a forged token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != auth.CodeTokenInvalidSignature {
		t.Errorf("code = %q, want %q", code, auth.CodeTokenInvalidSignature)
	}
}

func TestAuthenticateRevokedSession(t *testing.T) {
	f := newGuardFixture()
	token, _ := f.login(t, repository.RoleCashier)

	// The token stays cryptographically valid; only the session dies.
	session := f.sessions.sessions[f.tokens.HashToken(token)]
	if err := f.sessions.Revoke(context.Background(), session.ID); err != nil {
		t.Fatal(err)
	}

	handler := f.guard.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with a revoked session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != auth.CodeSessionRevoked {
		t.Errorf("code = %q, want %q", code, auth.CodeSessionRevoked)
	}
}

func TestRequireRole(t *testing.T) {
	f := newGuardFixture()

	adminOnly := f.guard.Authenticate(f.guard.RequireRole(repository.RoleAdmin)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	))

	cashierToken, _ := f.login(t, repository.RoleCashier)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	req.Header.Set("Authorization", "Bearer "+cashierToken)
	rec := httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("cashier: status = %d, want 403", rec.Code)
	}
	if code := errorCode(t, rec); code != auth.CodeUnauthorized {
		t.Errorf("cashier: code = %q, want %q", code, auth.CodeUnauthorized)
	}

	adminToken, _ := f.login(t, repository.RoleAdmin)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", rec.Code)
	}
}

func TestRequireRoleNoImplicitHierarchy(t *testing.T) {
	f := newGuardFixture()

	managerOnly := f.guard.Authenticate(f.guard.RequireRole(repository.RoleManager)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	))

	// Roles are flat: admin does not pass a manager gate.
	adminToken, _ := f.login(t, repository.RoleAdmin)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	managerOnly.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("admin at manager gate: status = %d, want 403", rec.Code)
	}
}
