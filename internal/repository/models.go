package repository

import (
	"time"

	"github.com/google/uuid"
)

// Role values assignable to a user
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

// AuditAction is a security-relevant event type recorded in the audit log
type AuditAction string

// Audit actions. The set is append-only; values are stored as-is.
const (
	ActionLogin                  AuditAction = "LOGIN"
	ActionLogout                 AuditAction = "LOGOUT"
	ActionLoginFailed            AuditAction = "LOGIN_FAILED"
	ActionPasswordResetRequested AuditAction = "PASSWORD_RESET_REQUESTED"
	ActionPasswordResetCompleted AuditAction = "PASSWORD_RESET_COMPLETED"
	ActionTokenReplayBlocked     AuditAction = "TOKEN_REPLAY_BLOCKED"
	ActionEmailVerified          AuditAction = "EMAIL_VERIFIED"
	ActionAccountLocked          AuditAction = "ACCOUNT_LOCKED"
	ActionAccountUnlocked        AuditAction = "ACCOUNT_UNLOCKED"
	ActionCreate                 AuditAction = "CREATE"
	ActionRead                   AuditAction = "READ"
	ActionUpdate                 AuditAction = "UPDATE"
	ActionDelete                 AuditAction = "DELETE"
	ActionRestore                AuditAction = "RESTORE"
	ActionRoleChanged            AuditAction = "ROLE_CHANGED"
	ActionOrganizationChanged    AuditAction = "ORGANIZATION_CHANGED"
	ActionStoreChanged           AuditAction = "STORE_CHANGED"
	ActionSessionRevoked         AuditAction = "SESSION_REVOKED"
)

// User represents an account in the database. Rows are never hard-deleted;
// deactivation flips is_active only.
type User struct {
	ID                uuid.UUID  `db:"id"`
	Email             string     `db:"email"`
	Username          string     `db:"username"`
	PasswordHash      string     `db:"password_hash"`
	FullName          string     `db:"full_name"`
	Role              string     `db:"role"`
	OrganizationID    *uuid.UUID `db:"organization_id"`
	StoreID           *uuid.UUID `db:"store_id"`
	EmailVerified     bool       `db:"email_verified"`
	IsActive          bool       `db:"is_active"`
	LoginAttempts     int        `db:"login_attempts"`
	LockedUntil       *time.Time `db:"locked_until"`
	PasswordChangedAt *time.Time `db:"password_changed_at"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	LastLoginAt       *time.Time `db:"last_login_at"`
}

// Session represents one live login. Revoked and expired rows are retained
// for audit and excluded from active lookups.
type Session struct {
	ID             uuid.UUID  `db:"id"`
	UserID         uuid.UUID  `db:"user_id"`
	TokenHash      string     `db:"token_hash"`
	IssuedAt       time.Time  `db:"issued_at"`
	ExpiresAt      time.Time  `db:"expires_at"`
	LastActivityAt time.Time  `db:"last_activity_at"`
	DeviceID       *string    `db:"device_id"`
	IPAddress      *string    `db:"ip_address"`
	UserAgent      *string    `db:"user_agent"`
	IsActive       bool       `db:"is_active"`
}

// PasswordResetToken is a single-use secret for completing a password reset.
// At most one unused, unexpired row exists per user.
type PasswordResetToken struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Token     string    `db:"token"`
	ExpiresAt time.Time `db:"expires_at"`
	Used      bool      `db:"used"`
	CreatedAt time.Time `db:"created_at"`
}

// EmailVerificationToken is a single-use secret for confirming an email
// address. Multiple outstanding rows per user are tolerated.
type EmailVerificationToken struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Email     string    `db:"email"`
	Token     string    `db:"token"`
	ExpiresAt time.Time `db:"expires_at"`
	Verified  bool      `db:"verified"`
	CreatedAt time.Time `db:"created_at"`
}

// AuditLogEntry is one append-only record of a security-relevant event.
// UserID is nil for events with no known identity (failed login for an
// unknown email).
type AuditLogEntry struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	UserID    *uuid.UUID  `db:"user_id" json:"user_id,omitempty"`
	Action    AuditAction `db:"action" json:"action"`
	IPAddress *string     `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent *string     `db:"user_agent" json:"user_agent,omitempty"`
	Details   *string     `db:"details" json:"details,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// ListAuditParams holds parameters for listing audit log entries
type ListAuditParams struct {
	Page   int
	Limit  int
	UserID *uuid.UUID
	Action *AuditAction
	Before *time.Time
	After  *time.Time
}
