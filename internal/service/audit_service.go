package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/docvault-api/internal/models"
	"github.com/noah-isme/docvault-api/pkg/jobs"
)

const auditJobType = "audit_log"

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type requestMetaKey struct{}

// RequestMeta is client information attached to audit records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// WithRequestMeta stores client information on ctx for later audit records.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

func requestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// AuditService writes audit records in the background. Failures are logged
// and never reach the caller whose mutation already succeeded.
type AuditService struct {
	repo   auditLogger
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService constructs the service and its worker queue.
func NewAuditService(repo auditLogger, cfg jobs.QueueConfig, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{repo: repo, logger: logger}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	s.queue = jobs.NewQueue("audit", s.handle, cfg)
	return s
}

// Start launches the workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop waits for the workers to exit.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// LogAction records action on doc by actor.
func (s *AuditService) LogAction(ctx context.Context, doc *models.Document, actor models.Actor, action string, metadata map[string]interface{}) {
	if s == nil || doc == nil {
		return
	}
	s.record(ctx, actor, doc.TeamID, action, models.AuditResourceDocument, doc.ID, metadata)
}

// LogRetentionTag records action on a retention tag.
func (s *AuditService) LogRetentionTag(ctx context.Context, tag *models.RetentionTag, actor models.Actor, action string) {
	if s == nil || tag == nil {
		return
	}
	s.record(ctx, actor, tag.TeamID, action, models.AuditResourceRetentionTag, tag.ID, map[string]interface{}{
		"name":                  tag.Name,
		"retention_period_days": tag.RetentionPeriodDays,
	})
}

func (s *AuditService) record(ctx context.Context, actor models.Actor, teamID, action, resource, resourceID string, metadata map[string]interface{}) {
	entry := &models.AuditLog{
		ID:         uuid.NewString(),
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		CreatedAt:  time.Now().UTC(),
	}
	if actor.UserID != "" {
		userID := actor.UserID
		entry.UserID = &userID
	}
	if teamID != "" {
		entry.TeamID = &teamID
	}
	meta := requestMetaFrom(ctx)
	entry.IPAddress = meta.IPAddress
	entry.UserAgent = meta.UserAgent
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			s.logger.Warn("failed to encode audit metadata", zap.String("action", action), zap.Error(err))
		} else {
			entry.Metadata = raw
		}
	}

	if err := s.queue.Submit(jobs.Job{ID: entry.ID, Type: auditJobType, Payload: entry}); err != nil {
		s.logger.Debug("audit queue unavailable, writing inline", zap.Error(err))
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.repo.CreateAuditLog(writeCtx, entry); err != nil {
			s.logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
		}
	}
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditLog)
	if !ok {
		return fmt.Errorf("unexpected audit payload %T", job.Payload)
	}
	return s.repo.CreateAuditLog(ctx, entry)
}
