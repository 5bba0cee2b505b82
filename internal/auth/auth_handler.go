package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/velorapos/backend/internal/appctx"
)

// Validator instance for request payload validation
var validate = validator.New()

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// ResetRequestPayload is the body of a password reset request
type ResetRequestPayload struct {
	Email string `json:"email" validate:"required"`
}

// ResetCompletePayload is the body of a password reset completion
type ResetCompletePayload struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// VerifyCompletePayload is the body of an email verification completion
type VerifyCompletePayload struct {
	Token string `json:"token" validate:"required"`
}

// AuthHandler handles HTTP requests for authentication endpoints
type AuthHandler struct {
	authService         *AuthService
	resetService        *ResetService
	verificationService *VerificationService
	secureCookies       bool
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(
	authService *AuthService,
	resetService *ResetService,
	verificationService *VerificationService,
	secureCookies bool,
) *AuthHandler {
	return &AuthHandler{
		authService:         authService,
		resetService:        resetService,
		verificationService: verificationService,
		secureCookies:       secureCookies,
	}
}

// Register handles user registration
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(err))
		return
	}

	response, validationErrors, err := h.authService.Register(r.Context(), req, deviceInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailExists):
			h.writeError(w, http.StatusConflict, CodeEmailExists, "An account with this email already exists", nil)
		case errors.Is(err, ErrUsernameExists):
			h.writeError(w, http.StatusConflict, CodeUsernameExists, "This username is already taken", nil)
		default:
			h.internalError(w)
		}
		return
	}

	if len(validationErrors) > 0 {
		details := make(map[string][]string)
		for _, ve := range validationErrors {
			details[ve.Field] = append(details[ve.Field], ve.Message)
		}
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	h.writeSuccess(w, http.StatusCreated, map[string]interface{}{"user": response})
}

// Login handles user authentication
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "email and password are required", nil)
		return
	}

	device := deviceInfo(r)
	device.DeviceID = req.DeviceID

	response, err := h.authService.Login(r.Context(), req, device)
	if err != nil {
		var locked *AccountLockedError
		switch {
		case errors.As(err, &locked):
			details := map[string][]string{
				"retry_after": {strconv.Itoa(int(locked.Remaining().Seconds()))},
			}
			h.writeError(w, http.StatusForbidden, CodeAccountLocked, "Account is temporarily locked. Please try again later.", details)
		case errors.Is(err, ErrInvalidCredentials):
			h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", nil)
		case errors.Is(err, ErrAccountInactive):
			h.writeError(w, http.StatusForbidden, CodeAccountInactive, "Account has been deactivated", nil)
		default:
			h.internalError(w)
		}
		return
	}

	h.setAuthCookie(w, response.Token, response.ExpiresAt)
	h.writeSuccess(w, http.StatusOK, response)
}

// Logout revokes the session backing the current request
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := appctx.ExtractSessionID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeSessionRevoked, "No active session", nil)
		return
	}

	if err := h.authService.Logout(r.Context(), sessionID, deviceInfo(r)); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			h.writeError(w, http.StatusUnauthorized, CodeSessionRevoked, "Session has been revoked or expired", nil)
			return
		}
		h.internalError(w)
		return
	}

	h.clearAuthCookie(w)
	h.writeSuccess(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

// RequestPasswordReset issues a reset token
// POST /api/v1/auth/password-reset/request
// Always returns ok, whether or not the email is known.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "email is required", nil)
		return
	}

	if _, err := h.resetService.RequestReset(r.Context(), req.Email, deviceInfo(r)); err != nil {
		h.internalError(w)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "If the email is registered, a reset link has been sent",
	})
}

// CompletePasswordReset consumes a reset token
// POST /api/v1/auth/password-reset/complete
func (h *AuthHandler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetCompletePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "token and new_password are required", nil)
		return
	}

	validationErrors, err := h.resetService.Consume(r.Context(), req.Token, req.NewPassword, deviceInfo(r))
	if err != nil {
		h.writeTokenError(w, err)
		return
	}

	if len(validationErrors) > 0 {
		details := make(map[string][]string)
		for _, ve := range validationErrors {
			details[ve.Field] = append(details[ve.Field], ve.Message)
		}
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Password does not meet requirements", details)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Password has been reset. Please log in again on all devices.",
	})
}

// RequestEmailVerification issues a verification token for the current user
// POST /api/v1/auth/verify-email/request
func (h *AuthHandler) RequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenMissing, "Authentication required", nil)
		return
	}

	if _, err := h.verificationService.RequestVerification(r.Context(), userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
			return
		}
		h.internalError(w)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Verification email has been sent",
	})
}

// CompleteEmailVerification consumes a verification token
// POST /api/v1/auth/verify-email/complete
func (h *AuthHandler) CompleteEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req VerifyCompletePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "token is required", nil)
		return
	}

	if err := h.verificationService.Consume(r.Context(), req.Token, deviceInfo(r)); err != nil {
		h.writeTokenError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{"message": "Email verified"})
}

// Refresh re-mints the token for the current session
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.IdentityFromContext(r.Context())
	if !ok || identity.SessionID == "" {
		h.writeError(w, http.StatusUnauthorized, CodeSessionRevoked, "No active session", nil)
		return
	}

	response, err := h.authService.RefreshToken(r.Context(), identity.UserID, identity.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionRevoked):
			h.writeError(w, http.StatusUnauthorized, CodeSessionRevoked, "Session has been revoked or expired", nil)
		case errors.Is(err, ErrAccountInactive):
			h.writeError(w, http.StatusForbidden, CodeAccountInactive, "Account has been deactivated", nil)
		case errors.Is(err, ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
		default:
			h.internalError(w)
		}
		return
	}

	h.setAuthCookie(w, response.Token, response.ExpiresAt)
	h.writeSuccess(w, http.StatusOK, response)
}

// ListSessions returns the caller's active sessions
// GET /api/v1/auth/sessions
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenMissing, "Authentication required", nil)
		return
	}

	sessions, err := h.authService.ListSessions(r.Context(), userID)
	if err != nil {
		h.internalError(w)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// RevokeSession revokes one of the caller's sessions (or any session for admins)
// DELETE /api/v1/auth/sessions/{sessionID}
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenMissing, "Authentication required", nil)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	err := h.authService.RevokeSession(r.Context(), sessionID, identity, deviceInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			h.writeError(w, http.StatusForbidden, CodeUnauthorized, "Cannot revoke another user's session", nil)
		case errors.Is(err, ErrSessionNotFound):
			h.writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
		default:
			h.internalError(w)
		}
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{"message": "Session revoked"})
}

// GetMe returns the caller's profile
// GET /api/v1/auth/me
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenMissing, "Authentication required", nil)
		return
	}

	profile, err := h.authService.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
			return
		}
		h.internalError(w)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{"user": profile})
}

// UnlockUser clears another account's lockout (admin only)
// POST /api/v1/auth/users/{userID}/unlock
func (h *AuthHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.authService.Unlock(r.Context(), userID, deviceInfo(r)); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
			return
		}
		h.internalError(w)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{"message": "Account unlocked"})
}

// writeTokenError maps single-use token failures to API responses
func (h *AuthHandler) writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenInvalid):
		h.writeError(w, http.StatusBadRequest, CodeTokenInvalid, "Token is not recognized", nil)
	case errors.Is(err, ErrTokenExpired):
		h.writeError(w, http.StatusBadRequest, CodeTokenExpired, "Token has expired", nil)
	case errors.Is(err, ErrTokenAlreadyUsed):
		h.writeError(w, http.StatusBadRequest, CodeTokenAlreadyUsed, "Token has already been used", nil)
	default:
		h.internalError(w)
	}
}

// setAuthCookie delivers the token as an http-only cookie for browsers
func (h *AuthHandler) setAuthCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearAuthCookie expires the auth cookie
func (h *AuthHandler) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// deviceInfo extracts client details from the request
func deviceInfo(r *http.Request) DeviceInfo {
	return DeviceInfo{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// clientIP returns the remote address without the port
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx > 0 && !strings.HasSuffix(addr, "]") {
		host := addr[:idx]
		if host != "" {
			return strings.Trim(host, "[]")
		}
	}
	return addr
}

// validationDetails flattens validator errors into field -> messages
func validationDetails(err error) map[string][]string {
	details := make(map[string][]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			field := strings.ToLower(fe.Field())
			details[field] = append(details[field], "failed validation on "+fe.Tag())
		}
	}
	return details
}

// writeSuccess writes a JSON success response
func (h *AuthHandler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// writeError writes a JSON error response
func (h *AuthHandler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	})
}

// internalError writes the generic 500 response
func (h *AuthHandler) internalError(w http.ResponseWriter) {
	h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
