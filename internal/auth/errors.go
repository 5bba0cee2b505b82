package auth

import (
	"errors"
	"fmt"
	"time"
)

// Auth service errors
var (
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrAccountLocked         = errors.New("account locked")
	ErrAccountInactive       = errors.New("account deactivated")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	ErrSessionRevoked        = errors.New("session revoked or expired")
	ErrTokenInvalid          = errors.New("token not recognized")
	ErrTokenAlreadyUsed      = errors.New("token already used")
	ErrUnauthorized          = errors.New("insufficient role for operation")
	ErrEmailExists           = errors.New("email already exists")
	ErrUsernameExists        = errors.New("username already exists")
	ErrUserNotFound          = errors.New("user not found")
	ErrSessionNotFound       = errors.New("session not found")
)

// AuthCookieName is the http-only cookie carrying the token for browsers.
// Non-browser clients use a bearer Authorization header instead.
const AuthCookieName = "auth-token"

// Error codes for API responses
const (
	CodeValidationError       = "VALIDATION_ERROR"
	CodeInvalidCredentials    = "INVALID_CREDENTIALS"
	CodeAccountLocked         = "ACCOUNT_LOCKED"
	CodeAccountInactive       = "ACCOUNT_INACTIVE"
	CodeTokenExpired          = "TOKEN_EXPIRED"
	CodeTokenMalformed        = "TOKEN_MALFORMED"
	CodeTokenInvalidSignature = "TOKEN_INVALID_SIGNATURE"
	CodeSessionRevoked        = "SESSION_REVOKED"
	CodeTokenInvalid          = "TOKEN_INVALID"
	CodeTokenAlreadyUsed      = "TOKEN_ALREADY_USED"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeEmailExists           = "EMAIL_EXISTS"
	CodeUsernameExists        = "USERNAME_EXISTS"
	CodeAuthTokenMissing      = "AUTH_TOKEN_MISSING"
)

// AccountLockedError carries the lockout deadline so handlers can report
// remaining time. The attempt counter is never surfaced.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked for another %s", e.Remaining().Round(time.Second))
}

// Is makes errors.Is(err, ErrAccountLocked) match
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// Remaining returns the time left on the lock, never negative
func (e *AccountLockedError) Remaining() time.Duration {
	d := time.Until(e.Until)
	if d < 0 {
		return 0
	}
	return d
}
