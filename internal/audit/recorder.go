// Package audit writes the append-only trail of security-relevant events.
// Writes are best-effort: a failed audit insert never fails the operation
// that triggered it, but it is counted and logged so it can be alerted on.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/velorapos/backend/internal/metrics"
	"github.com/velorapos/backend/internal/repository"
)

// writeTimeout bounds how long a single audit insert may hold up a request
const writeTimeout = 2 * time.Second

// Metadata carries the request context attached to an audit entry
type Metadata struct {
	IPAddress string
	UserAgent string
	Details   string
}

// Recorder is the interface services use to emit audit events
type Recorder interface {
	// Record appends one entry. userID is nil for events with no known
	// identity, such as a failed login for an unknown email.
	Record(ctx context.Context, action repository.AuditAction, userID *uuid.UUID, meta Metadata)
}

// Service implements Recorder against the audit repository
type Service struct {
	repo   repository.AuditRepository
	logger *slog.Logger
}

// NewService creates a new audit Service instance
func NewService(repo repository.AuditRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Record appends one audit entry with a short timeout. The write runs on a
// context detached from the request so a client disconnect cannot drop it,
// but still bounded so a slow database cannot stall the error response.
func (s *Service) Record(ctx context.Context, action repository.AuditAction, userID *uuid.UUID, meta Metadata) {
	entry := &repository.AuditLogEntry{
		UserID: userID,
		Action: action,
	}
	if meta.IPAddress != "" {
		entry.IPAddress = &meta.IPAddress
	}
	if meta.UserAgent != "" {
		entry.UserAgent = &meta.UserAgent
	}
	if meta.Details != "" {
		entry.Details = &meta.Details
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := s.repo.Insert(writeCtx, entry); err != nil {
		metrics.AuditDroppedTotal.Inc()
		s.logger.Warn("audit write dropped",
			"action", string(action),
			"error", err,
		)
	}
}
