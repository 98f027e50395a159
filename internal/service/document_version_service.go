package service

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/noah-isme/docvault-api/internal/models"
	"github.com/noah-isme/docvault-api/internal/repository"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
	"github.com/noah-isme/docvault-api/pkg/storage"
)

type documentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	GetForUpdate(ctx context.Context, id string) (*models.Document, error)
	Update(ctx context.Context, doc *models.Document) error
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error)
	Delete(ctx context.Context, id string) error
}

type versionStore interface {
	CreateNext(ctx context.Context, v *models.DocumentVersion) error
	ListByDocument(ctx context.Context, documentID string) ([]models.DocumentVersion, error)
	GetByNumber(ctx context.Context, documentID string, number int) (*models.DocumentVersion, error)
	ExistsByStorageKey(ctx context.Context, documentID, key string) (bool, error)
	MaxNumber(ctx context.Context, documentID string) (int, error)
}

type transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CreateVersionInput describes content to append to a document's ledger.
type CreateVersionInput struct {
	DocumentID    string
	StorageKey    string
	SizeBytes     int64
	MimeType      string
	Filename      string
	Checksum      string
	CreatedBy     string
	ChangeSummary *string
}

// DocumentVersionService maintains the append-only version ledger.
type DocumentVersionService struct {
	docs     documentStore
	versions versionStore
	tx       transactor
	disks    *storage.Disks
	paths    *storage.PathGenerator
	metrics  *MetricsService
	logger   *zap.Logger
	retries  int
}

// NewDocumentVersionService constructs the ledger.
func NewDocumentVersionService(docs documentStore, versions versionStore, tx transactor, disks *storage.Disks, paths *storage.PathGenerator, metrics *MetricsService, logger *zap.Logger) *DocumentVersionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentVersionService{
		docs:     docs,
		versions: versions,
		tx:       tx,
		disks:    disks,
		paths:    paths,
		metrics:  metrics,
		logger:   logger,
		retries:  5,
	}
}

// CreateVersion appends a version numbered max+1. The number is assigned
// while the document row is locked; when the ledger owns the transaction it
// retries on a lost numbering race.
func (s *DocumentVersionService) CreateVersion(ctx context.Context, in CreateVersionInput) (*models.DocumentVersion, error) {
	attempts := 1
	if !repository.InTx(ctx) {
		attempts = s.retries
	}
	var (
		version *models.DocumentVersion
		err     error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := s.docs.GetForUpdate(ctx, in.DocumentID); err != nil {
				return err
			}
			version, err = s.insert(ctx, in)
			return err
		})
		if !errors.Is(err, repository.ErrVersionConflict) {
			break
		}
		s.logger.Debug("version number race, retrying", zap.String("document_id", in.DocumentID), zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, mapLedgerError(err, "failed to create document version")
	}
	return version, nil
}

func (s *DocumentVersionService) insert(ctx context.Context, in CreateVersionInput) (*models.DocumentVersion, error) {
	version := &models.DocumentVersion{
		DocumentID:    in.DocumentID,
		StorageKey:    in.StorageKey,
		SizeBytes:     in.SizeBytes,
		MimeType:      in.MimeType,
		Filename:      in.Filename,
		Checksum:      in.Checksum,
		CreatedBy:     in.CreatedBy,
		ChangeSummary: in.ChangeSummary,
	}
	if err := s.versions.CreateNext(ctx, version); err != nil {
		return nil, err
	}
	s.metrics.RecordVersion()
	return version, nil
}

// ListVersions returns a document's versions, newest first.
func (s *DocumentVersionService) ListVersions(ctx context.Context, documentID string) ([]models.DocumentVersion, error) {
	versions, err := s.versions.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list document versions")
	}
	if versions == nil {
		versions = []models.DocumentVersion{}
	}
	return versions, nil
}

// SnapshotIfMissing records the document's current content as a version when
// no version points at it yet. It must run inside a transaction holding the
// document lock and returns nil when a version already exists.
func (s *DocumentVersionService) SnapshotIfMissing(ctx context.Context, doc *models.Document, actorID string) (*models.DocumentVersion, error) {
	exists, err := s.versions.ExistsByStorageKey(ctx, doc.ID, doc.StorageKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}
	store, err := s.disks.Disk(doc.StorageDisk)
	if err != nil {
		return nil, err
	}
	checksum, err := checksumObject(ctx, store, doc.StorageKey)
	if err != nil {
		return nil, storageError(err, "failed to read current content")
	}
	summary := "snapshot of unversioned content"
	version, err := s.insert(ctx, CreateVersionInput{
		DocumentID:    doc.ID,
		StorageKey:    doc.StorageKey,
		SizeBytes:     doc.SizeBytes,
		MimeType:      doc.MimeType,
		Filename:      doc.Filename,
		Checksum:      checksum,
		CreatedBy:     actorID,
		ChangeSummary: &summary,
	})
	if err != nil {
		return nil, err
	}
	doc.CurrentVersionNumber = version.VersionNumber
	s.logger.Info("snapshotted unversioned content", zap.String("document_id", doc.ID), zap.Int("version", version.VersionNumber))
	return version, nil
}

// NextVersionKey returns the storage key and number the next version of doc
// will receive. Only stable while the document row is locked.
func (s *DocumentVersionService) NextVersionKey(ctx context.Context, doc *models.Document, filename string) (string, int, error) {
	max, err := s.versions.MaxNumber(ctx, doc.ID)
	if err != nil {
		return "", 0, err
	}
	next := max + 1
	created := doc.CreatedAt.UTC()
	key := s.paths.GenerateVersioned(doc.TeamID, doc.ID, filename, created.Year(), int(created.Month()), next)
	return key, next, nil
}

// Restore makes a copy of version target the document's current content.
// Prior versions are never removed or renumbered.
func (s *DocumentVersionService) Restore(ctx context.Context, actorID, documentID string, target int) (*models.Document, *models.DocumentVersion, error) {
	var (
		doc      *models.Document
		restored *models.DocumentVersion
		written  string
		store    storage.ObjectStore
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.docs.GetForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.State != models.DocumentStateActive {
			return appErrors.ErrNotFound
		}
		source, err := s.versions.GetByNumber(ctx, documentID, target)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrVersionNotFound, fmt.Sprintf("version %d not found", target))
			}
			return err
		}
		if _, err := s.SnapshotIfMissing(ctx, doc, actorID); err != nil {
			return err
		}
		store, err = s.disks.Disk(doc.StorageDisk)
		if err != nil {
			return err
		}
		key, next, err := s.NextVersionKey(ctx, doc, source.Filename)
		if err != nil {
			return err
		}
		if err := store.Copy(ctx, source.StorageKey, key); err != nil {
			return storageError(err, "failed to copy version content")
		}
		written = key

		summary := fmt.Sprintf("restored from version %d", target)
		restored, err = s.insert(ctx, CreateVersionInput{
			DocumentID:    documentID,
			StorageKey:    key,
			SizeBytes:     source.SizeBytes,
			MimeType:      source.MimeType,
			Filename:      source.Filename,
			Checksum:      source.Checksum,
			CreatedBy:     actorID,
			ChangeSummary: &summary,
		})
		if err != nil {
			return err
		}
		if restored.VersionNumber != next {
			return repository.ErrVersionConflict
		}

		doc.StorageKey = key
		doc.SizeBytes = source.SizeBytes
		doc.MimeType = source.MimeType
		doc.Filename = source.Filename
		doc.CurrentVersionNumber = restored.VersionNumber
		doc.UpdaterID = &actorID
		return s.docs.Update(ctx, doc)
	})
	if err != nil {
		if written != "" {
			discardObject(ctx, s.logger, store, written)
		}
		return nil, nil, mapLedgerError(err, "failed to restore document version")
	}
	s.logger.Info("document version restored",
		zap.String("document_id", documentID),
		zap.Int("from", target),
		zap.Int("version", restored.VersionNumber),
	)
	return doc, restored, nil
}

func mapLedgerError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.ErrNotFound
	case errors.Is(err, repository.ErrVersionConflict):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "document was modified concurrently")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}

func discardObject(ctx context.Context, logger *zap.Logger, store storage.ObjectStore, key string) {
	if store == nil || key == "" {
		return
	}
	if err := store.Delete(context.WithoutCancel(ctx), key); err != nil {
		logger.Warn("failed to discard object", zap.String("key", key), zap.Error(err))
	}
}

func newChecksum() hash.Hash {
	h, _ := blake2b.New256(nil)
	return h
}

func checksumObject(ctx context.Context, store storage.ObjectStore, key string) (string, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close() //nolint:errcheck
	h := newChecksum()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
