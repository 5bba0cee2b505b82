package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/velorapos/backend/internal/appctx"
	"github.com/velorapos/backend/internal/auth"
	"github.com/velorapos/backend/internal/repository"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMiddleware is the request guard: it verifies the inbound token
// cryptographically, then confirms a live session backs it, and only then
// exposes the identity to handlers. Either check failing means the request
// proceeds with no identity at all.
type AuthMiddleware struct {
	tokenService *auth.TokenService
	sessionRepo  repository.SessionRepository
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(tokenService *auth.TokenService, sessionRepo repository.SessionRepository) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
		sessionRepo:  sessionRepo,
	}
}

// Authenticate validates the token and session for protected routes
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r)
		if tokenString == "" {
			m.writeError(w, http.StatusUnauthorized, auth.CodeAuthTokenMissing, "Authentication token is required")
			return
		}

		claims, err := m.tokenService.Verify(tokenString)
		if err != nil {
			code, message := verifyFailure(err)
			m.writeError(w, http.StatusUnauthorized, code, message)
			return
		}

		// A cryptographically valid token is not enough: logout and admin
		// revocation work by killing the session row, so the registry is
		// consulted on every request.
		session, err := m.sessionRepo.FindActiveByTokenHash(r.Context(), m.tokenService.HashToken(tokenString))
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				m.writeError(w, http.StatusUnauthorized, auth.CodeSessionRevoked, "Session has been revoked or expired")
				return
			}
			m.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
			return
		}

		// Best-effort activity refresh; a miss never fails the request.
		_ = m.sessionRepo.TouchActivity(r.Context(), session.ID)

		identity := appctx.Identity{
			UserID:    claims.UserID(),
			Email:     claims.Email,
			Role:      claims.Role,
			SessionID: session.ID.String(),
		}
		if claims.OrganizationID != nil {
			identity.OrganizationID = *claims.OrganizationID
		}
		if claims.StoreID != nil {
			identity.StoreID = *claims.StoreID
		}

		next.ServeHTTP(w, r.WithContext(appctx.WithIdentity(r.Context(), identity)))
	})
}

// RequireRole gates a route on the role claim. Roles are flat capabilities;
// an admin is not implicitly a manager.
func (m *AuthMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := appctx.ExtractRole(r.Context())
			if !ok || !allowed[role] {
				m.writeError(w, http.StatusForbidden, auth.CodeUnauthorized, "Insufficient role for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken pulls the token from the auth cookie or bearer header
func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(auth.AuthCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// verifyFailure maps codec errors to API codes
func verifyFailure(err error) (code, message string) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return auth.CodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenInvalidSignature):
		return auth.CodeTokenInvalidSignature, "Token signature is invalid"
	default:
		return auth.CodeTokenMalformed, "Token could not be parsed"
	}
}

// writeError writes a JSON error response
func (m *AuthMiddleware) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}
