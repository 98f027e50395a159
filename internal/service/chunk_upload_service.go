package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/docvault-api/internal/models"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
	"github.com/noah-isme/docvault-api/pkg/storage"
)

const (
	uploadsPrefix   = "uploads/"
	assembledPrefix = "uploads/assembled/"
	markerSuffix    = ".expires"
)

func chunkPrefix(sessionID string) string {
	return uploadsPrefix + sessionID + "/"
}

func chunkKey(sessionID string, index int) string {
	return fmt.Sprintf("%schunk_%d", chunkPrefix(sessionID), index)
}

// AssembledPrefix is the staging area of a team's assembled uploads.
func AssembledPrefix(teamID string) string {
	return assembledPrefix + teamID + "/"
}

// ownerPrefix is the part of the team staging area a single user writes to.
func ownerPrefix(teamID, ownerID string) string {
	return AssembledPrefix(teamID) + storage.SanitizeFilename(ownerID) + "/"
}

// StagingKey is where Complete assembles an upload when no final key is given.
func StagingKey(teamID, ownerID, sessionID, filename string) string {
	return ownerPrefix(teamID, ownerID) + sessionID + "/" + storage.SanitizeFilename(filename)
}

// assembledKey confines a caller supplied final path to the owner's staging area.
func assembledKey(teamID, ownerID, finalPath string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+finalPath), "/")
	if cleaned == "" {
		return ""
	}
	return ownerPrefix(teamID, ownerID) + cleaned
}

// checkSessionID rejects ids that cannot name a session. Session ids become
// storage prefixes, so anything but a canonical uuid is refused up front.
func checkSessionID(sessionID string) error {
	parsed, err := uuid.Parse(sessionID)
	if err != nil || parsed.String() != sessionID {
		return appErrors.Clone(appErrors.ErrSessionNotFound, "malformed upload id")
	}
	return nil
}

// SweepReport summarises one sweep over abandoned uploads.
type SweepReport struct {
	MarkersScanned  int      `json:"markers_scanned"`
	ExpiredSessions []string `json:"expired_sessions"`
	ObjectsDeleted  int      `json:"objects_deleted"`
	StagedDeleted   []string `json:"staged_deleted"`
}

// staleRemover is implemented by stores that can age out objects by write time.
type staleRemover interface {
	RemoveStale(ctx context.Context, prefix string, cutoff time.Time) ([]string, error)
}

var (
	_ staleRemover = (*storage.LocalStorage)(nil)
	_ staleRemover = (*storage.S3Storage)(nil)
)

// ChunkUploadService stores chunk bytes, assembles completed uploads and
// reclaims abandoned ones.
type ChunkUploadService struct {
	sessions      *UploadSessionService
	store         storage.ObjectStore
	metrics       *MetricsService
	logger        *zap.Logger
	sweepInterval time.Duration
}

// NewChunkUploadService constructs the service. store holds chunks and assembled uploads.
func NewChunkUploadService(sessions *UploadSessionService, store storage.ObjectStore, metrics *MetricsService, sweepInterval time.Duration, logger *zap.Logger) *ChunkUploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sweepInterval <= 0 {
		sweepInterval = 15 * time.Minute
	}
	return &ChunkUploadService{
		sessions:      sessions,
		store:         store,
		metrics:       metrics,
		logger:        logger,
		sweepInterval: sweepInterval,
	}
}

// UploadChunk stores one chunk and records its index on the session.
func (s *ChunkUploadService) UploadChunk(ctx context.Context, actor models.Actor, sessionID string, index int, r io.Reader, size int64) (*models.UploadSession, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "chunk is empty")
	}
	if size > s.sessions.ChunkSize() {
		return nil, appErrors.Clone(appErrors.ErrChunkTooLarge, fmt.Sprintf("chunk exceeds %d bytes", s.sessions.ChunkSize()))
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ensureSessionOwner(session, actor); err != nil {
		return nil, err
	}
	if index < 0 || index >= session.DeclaredTotalChunks {
		return nil, appErrors.Clone(appErrors.ErrIndexOutOfRange,
			fmt.Sprintf("chunk index %d outside [0, %d)", index, session.DeclaredTotalChunks))
	}

	key := chunkKey(sessionID, index)
	if err := s.store.Put(ctx, key, io.LimitReader(r, size), size); err != nil {
		return nil, storageError(err, "failed to store chunk")
	}
	marker := strconv.FormatInt(session.ExpiresAt.Unix(), 10)
	if err := s.store.Put(ctx, key+markerSuffix, strings.NewReader(marker), int64(len(marker))); err != nil {
		return nil, storageError(err, "failed to store chunk marker")
	}

	updated, err := s.sessions.RecordChunk(ctx, sessionID, index, size)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordChunk(size)
	s.logger.Debug("chunk stored",
		zap.String("upload_id", sessionID),
		zap.Int("index", index),
		zap.Int64("size", size),
		zap.Int("received", updated.ReceivedCount()),
	)
	return updated, nil
}

// Status reports progress of a session owned by actor. Expired sessions
// read as not found.
func (s *ChunkUploadService) Status(ctx context.Context, actor models.Actor, sessionID string) (*models.UploadStatus, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, expiredAsNotFound(err)
	}
	if err := ensureSessionOwner(session, actor); err != nil {
		return nil, err
	}
	return s.sessions.Status(ctx, sessionID)
}

// Complete concatenates every chunk in index order into the team's staging
// area, then drops the chunks and the session. finalKey names the object
// relative to that area. A failed write leaves chunks and session in place so
// the call can be retried.
func (s *ChunkUploadService) Complete(ctx context.Context, actor models.Actor, sessionID, finalKey string) (*models.AssembledUpload, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, expiredAsNotFound(err)
	}
	if err := ensureSessionOwner(session, actor); err != nil {
		return nil, err
	}
	if !session.IsComplete() {
		s.metrics.RecordAssembly(AssemblyIncomplete, 0, 0)
		return nil, appErrors.WithDetails(appErrors.ErrIncompleteUpload,
			fmt.Sprintf("received %d of %d chunks", session.ReceivedCount(), session.DeclaredTotalChunks),
			map[string]interface{}{
				"uploaded": session.ReceivedCount(),
				"expected": session.DeclaredTotalChunks,
			})
	}

	finalKey = assembledKey(session.TeamID, session.OwnerID, strings.TrimSpace(finalKey))
	if finalKey == "" {
		finalKey = StagingKey(session.TeamID, session.OwnerID, session.ID, session.Filename)
	}

	keys := make([]string, session.DeclaredTotalChunks)
	for i := range keys {
		keys[i] = chunkKey(session.ID, i)
	}

	start := time.Now()
	size, err := s.store.Compose(ctx, finalKey, keys)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid final_path")
		}
		if _, lookupErr := s.sessions.Get(ctx, session.ID); errors.Is(lookupErr, appErrors.ErrSessionNotFound) {
			return nil, appErrors.ErrSessionNotFound
		}
		s.metrics.RecordAssembly(AssemblyFailed, time.Since(start), 0)
		s.logger.Error("upload assembly failed", zap.String("upload_id", session.ID), zap.Error(err))
		return nil, appErrors.WrapAs(appErrors.ErrAssemblyFailed, err, "")
	}
	if size != session.DeclaredTotalSize {
		s.logger.Warn("assembled size differs from declared size",
			zap.String("upload_id", session.ID),
			zap.Int64("declared", session.DeclaredTotalSize),
			zap.Int64("assembled", size),
		)
	}

	existed, err := s.sessions.Forget(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if !existed {
		// A concurrent cancel removed the session first and owns the cleanup.
		if delErr := s.store.Delete(context.WithoutCancel(ctx), finalKey); delErr != nil {
			s.logger.Warn("failed to remove assembled object of cancelled upload", zap.String("key", finalKey), zap.Error(delErr))
		}
		s.metrics.RecordAssembly(AssemblyCancelled, 0, 0)
		return nil, appErrors.ErrSessionNotFound
	}
	if _, err := storage.DeletePrefix(ctx, s.store, chunkPrefix(session.ID)); err != nil {
		s.logger.Warn("failed to delete chunks after assembly", zap.String("upload_id", session.ID), zap.Error(err))
	}

	s.metrics.RecordAssembly(AssemblySucceeded, time.Since(start), size)
	s.logger.Info("upload assembled",
		zap.String("upload_id", session.ID),
		zap.String("key", finalKey),
		zap.Int64("size", size),
	)
	return &models.AssembledUpload{
		StorageKey: finalKey,
		Filename:   session.Filename,
		MimeType:   session.MimeType,
		Size:       size,
	}, nil
}

// Cancel drops the chunks and the session. It reports whether a session
// existed. Without a session nothing is deleted; leftover chunks age out
// through their expiry markers.
func (s *ChunkUploadService) Cancel(ctx context.Context, actor models.Actor, sessionID string) (bool, error) {
	if err := checkSessionID(sessionID); err != nil {
		return false, nil
	}
	session, err := s.sessions.load(ctx, sessionID)
	if errors.Is(err, appErrors.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := ensureSessionOwner(session, actor); err != nil {
		return false, err
	}

	existed, err := s.sessions.Forget(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if _, err := storage.DeletePrefix(ctx, s.store, chunkPrefix(sessionID)); err != nil {
		return existed, storageError(err, "failed to delete chunks")
	}
	if existed {
		s.metrics.RecordAssembly(AssemblyCancelled, 0, 0)
		s.logger.Info("upload cancelled", zap.String("upload_id", sessionID))
	}
	return existed, nil
}

// SweepExpired deletes chunks and sessions whose expiry markers have passed now.
func (s *ChunkUploadService) SweepExpired(ctx context.Context, now time.Time) (*SweepReport, error) {
	keys, err := s.store.List(ctx, uploadsPrefix)
	if err != nil {
		return nil, storageError(err, "failed to list upload chunks")
	}
	report := &SweepReport{ExpiredSessions: []string{}}
	checked := make(map[string]bool)
	for _, key := range keys {
		if !strings.HasSuffix(key, markerSuffix) || strings.HasPrefix(key, assembledPrefix) {
			continue
		}
		sessionID := path.Base(path.Dir(key))
		if _, seen := checked[sessionID]; seen {
			continue
		}
		report.MarkersScanned++
		expiresAt, err := s.readMarker(ctx, key)
		if err != nil {
			s.logger.Warn("unreadable upload marker", zap.String("key", key), zap.Error(err))
			continue
		}
		expired := !now.Before(expiresAt)
		checked[sessionID] = expired
		if !expired {
			continue
		}
		if _, err := s.sessions.Forget(ctx, sessionID); err != nil {
			return report, err
		}
		n, err := storage.DeletePrefix(ctx, s.store, chunkPrefix(sessionID))
		report.ObjectsDeleted += n
		if err != nil {
			return report, storageError(err, "failed to delete expired chunks")
		}
		report.ExpiredSessions = append(report.ExpiredSessions, sessionID)
	}
	// Assembled uploads never attached to a document live one session TTL.
	if remover, ok := s.store.(staleRemover); ok {
		stale, err := remover.RemoveStale(ctx, assembledPrefix, now.Add(-s.sessions.cfg.TTL))
		report.StagedDeleted = stale
		if err != nil {
			return report, storageError(err, "failed to remove stale assembled uploads")
		}
	}
	s.metrics.RecordSweep(len(report.ExpiredSessions))
	if len(report.ExpiredSessions) > 0 || len(report.StagedDeleted) > 0 {
		s.logger.Info("expired uploads swept",
			zap.Int("sessions", len(report.ExpiredSessions)),
			zap.Int("objects", report.ObjectsDeleted),
			zap.Int("staged", len(report.StagedDeleted)),
		)
	}
	return report, nil
}

// StartSweeper runs SweepExpired every sweep interval until ctx is done.
func (s *ChunkUploadService) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if _, err := s.SweepExpired(ctx, now.UTC()); err != nil && ctx.Err() == nil {
					s.logger.Error("upload sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *ChunkUploadService) readMarker(ctx context.Context, key string) (time.Time, error) {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	defer rc.Close() //nolint:errcheck
	raw, err := io.ReadAll(io.LimitReader(rc, 32))
	if err != nil {
		return time.Time{}, err
	}
	unix, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0).UTC(), nil
}

func expiredAsNotFound(err error) error {
	if errors.Is(err, appErrors.ErrSessionExpired) {
		return appErrors.Clone(appErrors.ErrSessionNotFound, "upload session expired")
	}
	return err
}

func ensureSessionOwner(session *models.UploadSession, actor models.Actor) error {
	if actor.UserID == "" {
		return appErrors.ErrUnauthorized
	}
	if session.OwnerID == actor.UserID || actor.Role == models.RoleSuperAdmin {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "upload session belongs to another user")
}

func storageError(err error, message string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, storage.ErrInvalidKey) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	if errors.Is(err, storage.ErrObjectNotFound) {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, message)
	}
	return appErrors.WrapAs(appErrors.ErrStorageUnavailable, err, message)
}
