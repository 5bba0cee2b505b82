package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/velorapos/backend/internal/config"
	"github.com/velorapos/backend/internal/repository"
)

// archiveBatchSize caps how many rows one export cycle moves
const archiveBatchSize = 10000

// Archiver moves old audit entries and dead session rows out of the hot
// tables into S3 objects. It runs off the request path entirely; the
// request-path queries never sweep anything.
type Archiver struct {
	client      *s3.Client
	bucket      string
	retention   time.Duration
	interval    time.Duration
	auditRepo   repository.AuditRepository
	sessionRepo repository.SessionRepository
	logger      *slog.Logger
}

// NewArchiver creates an Archiver from the archive configuration.
// Returns nil when archiving is not configured.
func NewArchiver(
	cfg *config.ArchiveConfig,
	auditRepo repository.AuditRepository,
	sessionRepo repository.SessionRepository,
	logger *slog.Logger,
) *Archiver {
	if !cfg.Enabled() {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	endpointURL := cfg.Endpoint
	if !strings.HasPrefix(endpointURL, "http://") && !strings.HasPrefix(endpointURL, "https://") {
		protocol := "http"
		if cfg.UseSSL {
			protocol = "https"
		}
		endpointURL = protocol + "://" + endpointURL
	}

	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		BaseEndpoint: aws.String(endpointURL),
		UsePathStyle: true, // required for MinIO
	})

	return &Archiver{
		client:      client,
		bucket:      cfg.Bucket,
		retention:   cfg.Retention,
		interval:    cfg.Interval,
		auditRepo:   auditRepo,
		sessionRepo: sessionRepo,
		logger:      logger,
	}
}

// Run executes archive cycles on the configured interval until the context
// is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.Error("archive cycle failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single archive cycle: export, then purge. Purge only
// happens after a successful export, so a failed upload loses nothing.
func (a *Archiver) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.retention)

	if err := a.archiveAuditEntries(ctx, cutoff); err != nil {
		return fmt.Errorf("archive audit entries: %w", err)
	}
	if err := a.archiveSessions(ctx, cutoff); err != nil {
		return fmt.Errorf("archive sessions: %w", err)
	}
	return nil
}

func (a *Archiver) archiveAuditEntries(ctx context.Context, cutoff time.Time) error {
	entries, err := a.auditRepo.ListBefore(ctx, cutoff, archiveBatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	key := fmt.Sprintf("audit/%s.json", time.Now().UTC().Format("2006-01-02T15-04-05"))
	if err := a.upload(ctx, key, entries); err != nil {
		return err
	}

	// Purge only rows covered by the exported batch.
	purgeCutoff := entries[len(entries)-1].CreatedAt.Add(time.Millisecond)
	if purgeCutoff.After(cutoff) {
		purgeCutoff = cutoff
	}
	deleted, err := a.auditRepo.DeleteBefore(ctx, purgeCutoff)
	if err != nil {
		return err
	}

	a.logger.Info("archived audit entries", "exported", len(entries), "purged", deleted, "key", key)
	return nil
}

func (a *Archiver) archiveSessions(ctx context.Context, cutoff time.Time) error {
	sessions, err := a.sessionRepo.ListDeadBefore(ctx, cutoff, archiveBatchSize)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}

	key := fmt.Sprintf("sessions/%s.json", time.Now().UTC().Format("2006-01-02T15-04-05"))
	if err := a.upload(ctx, key, sessions); err != nil {
		return err
	}

	deleted, err := a.sessionRepo.DeleteDeadBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	a.logger.Info("archived dead sessions", "exported", len(sessions), "purged", deleted, "key", key)
	return nil
}

func (a *Archiver) upload(ctx context.Context, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}
