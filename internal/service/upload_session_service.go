package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/docvault-api/internal/dto"
	"github.com/noah-isme/docvault-api/internal/models"
	"github.com/noah-isme/docvault-api/internal/repository"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
)

type uploadSessionStore interface {
	Create(ctx context.Context, session *models.UploadSession) error
	Get(ctx context.Context, id string) (*models.UploadSession, error)
	Update(ctx context.Context, id string, mutate func(*models.UploadSession) error) (*models.UploadSession, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// UploadSessionConfig bounds what a client may declare when opening a session.
type UploadSessionConfig struct {
	ChunkSize   int64
	MaxFileSize int64
	MaxChunks   int
	TTL         time.Duration
}

// UploadSessionService tracks chunk arrival for in-flight uploads.
type UploadSessionService struct {
	store     uploadSessionStore
	validator *validator.Validate
	cfg       UploadSessionConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewUploadSessionService constructs the service.
func NewUploadSessionService(store uploadSessionStore, validate *validator.Validate, cfg UploadSessionConfig, logger *zap.Logger) *UploadSessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 5 * 1024 * 1024
	}
	return &UploadSessionService{
		store:     store,
		validator: validate,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ChunkSize returns the per-chunk byte ceiling.
func (s *UploadSessionService) ChunkSize() int64 {
	return s.cfg.ChunkSize
}

// Initiate opens a new session owned by actor.
func (s *UploadSessionService) Initiate(ctx context.Context, actor models.Actor, req dto.InitiateUploadRequest) (*models.UploadSession, error) {
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	req.Filename = strings.TrimSpace(req.Filename)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid upload payload")
	}
	if actor.Role != models.RoleSuperAdmin && req.TeamID != actor.TeamID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot upload on behalf of another team")
	}
	if s.cfg.MaxFileSize > 0 && req.TotalSize > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("total_size exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	if s.cfg.MaxChunks > 0 && req.TotalChunks > s.cfg.MaxChunks {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("total_chunks exceeds %d limit", s.cfg.MaxChunks))
	}
	if int64(req.TotalChunks)*s.cfg.ChunkSize < req.TotalSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, "total_chunks too small for total_size at the configured chunk size")
	}

	now := s.now()
	session := &models.UploadSession{
		ID:                  uuid.NewString(),
		TeamID:              req.TeamID,
		OwnerID:             actor.UserID,
		Filename:            req.Filename,
		MimeType:            req.MimeType,
		DeclaredTotalChunks: req.TotalChunks,
		DeclaredTotalSize:   req.TotalSize,
		ReceivedChunks:      []int{},
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.cfg.TTL),
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrStorageUnavailable, err, "failed to create upload session")
	}
	s.logger.Info("upload session initiated",
		zap.String("upload_id", session.ID),
		zap.String("team_id", session.TeamID),
		zap.Int("total_chunks", session.DeclaredTotalChunks),
		zap.Int64("total_size", session.DeclaredTotalSize),
	)
	return session, nil
}

// Get loads a live session. Sessions past their expiry report SessionExpired.
func (s *UploadSessionService) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		return nil, appErrors.ErrSessionExpired
	}
	return session, nil
}

func (s *UploadSessionService) load(ctx context.Context, id string) (*models.UploadSession, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.mapStoreError(err, "failed to load upload session")
	}
	return session, nil
}

// RecordChunk marks index as received. Recording the same index twice is a no-op.
func (s *UploadSessionService) RecordChunk(ctx context.Context, id string, index int, size int64) (*models.UploadSession, error) {
	now := s.now()
	session, err := s.store.Update(ctx, id, func(session *models.UploadSession) error {
		if session.Expired(now) {
			return appErrors.ErrSessionExpired
		}
		if index < 0 || index >= session.DeclaredTotalChunks {
			return appErrors.Clone(appErrors.ErrIndexOutOfRange,
				fmt.Sprintf("chunk index %d outside [0, %d)", index, session.DeclaredTotalChunks))
		}
		if !session.AddChunk(index, size) {
			return repository.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, s.mapStoreError(err, "failed to record chunk")
	}
	return session, nil
}

// Status reports progress for a session.
func (s *UploadSessionService) Status(ctx context.Context, id string) (*models.UploadStatus, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.UploadStatus{
		UploadID:        session.ID,
		UploadedChunks:  session.ReceivedCount(),
		TotalChunks:     session.DeclaredTotalChunks,
		ProgressPercent: session.Percent(),
		Complete:        session.IsComplete(),
	}, nil
}

// Forget removes the session record and reports whether it still existed.
func (s *UploadSessionService) Forget(ctx context.Context, id string) (bool, error) {
	existed, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, appErrors.WrapAs(appErrors.ErrStorageUnavailable, err, "failed to delete upload session")
	}
	return existed, nil
}

func (s *UploadSessionService) mapStoreError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Error(message, zap.Error(err))
	return appErrors.WrapAs(appErrors.ErrStorageUnavailable, err, message)
}
