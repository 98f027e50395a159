package service

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/docvault-api/internal/dto"
	"github.com/noah-isme/docvault-api/internal/models"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
	"github.com/noah-isme/docvault-api/pkg/export"
	"github.com/noah-isme/docvault-api/pkg/storage"
)

type documentAuditor interface {
	LogAction(ctx context.Context, doc *models.Document, actor models.Actor, action string, metadata map[string]interface{})
}

type retentionLookup interface {
	Lookup(ctx context.Context, teamID, id string) (*models.RetentionTag, error)
}

// DocumentContent is new content supplied directly with a request.
type DocumentContent struct {
	Reader   io.Reader
	Size     int64
	Filename string
	MimeType string
}

// DocumentServiceConfig tunes the coordinator.
type DocumentServiceConfig struct {
	DownloadURLTTL time.Duration
	PurgeWorkers   int
}

// DocumentService coordinates document rows, their stored content and the
// version ledger. Each mutation is a single unit of work.
type DocumentService struct {
	docs      documentStore
	ledger    *DocumentVersionService
	tags      retentionLookup
	policy    DocumentPolicy
	audit     documentAuditor
	tx        transactor
	disks     *storage.Disks
	paths     *storage.PathGenerator
	renderer  *export.Renderer
	validator *validator.Validate
	cfg       DocumentServiceConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewDocumentService constructs the coordinator.
func NewDocumentService(
	docs documentStore,
	ledger *DocumentVersionService,
	tags retentionLookup,
	policy DocumentPolicy,
	audit documentAuditor,
	tx transactor,
	disks *storage.Disks,
	paths *storage.PathGenerator,
	validate *validator.Validate,
	cfg DocumentServiceConfig,
	logger *zap.Logger,
) *DocumentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DownloadURLTTL <= 0 {
		cfg.DownloadURLTTL = 15 * time.Minute
	}
	if cfg.PurgeWorkers <= 0 {
		cfg.PurgeWorkers = 8
	}
	return &DocumentService{
		docs:      docs,
		ledger:    ledger,
		tags:      tags,
		policy:    policy,
		audit:     audit,
		tx:        tx,
		disks:     disks,
		paths:     paths,
		renderer:  export.NewRenderer(),
		validator: validate,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// contentSource is either direct bytes or an assembled upload in staging.
type contentSource struct {
	reader     io.Reader
	size       int64
	filename   string
	mimeType   string
	stagedKey  string
	stagedDisk string
}

type storedContent struct {
	size     int64
	checksum string
}

// Create stores a new document with version 1. Either content or
// req.UploadPath supplies the bytes; both paths yield the same document state.
func (s *DocumentService) Create(ctx context.Context, actor models.Actor, req dto.CreateDocumentRequest, content *DocumentContent) (*models.Document, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid document payload")
	}
	if !s.policy.CanCreate(actor, req.TeamID, req.FolderID) {
		return nil, appErrors.ErrForbidden
	}
	src, err := s.resolveSource(ctx, req.TeamID, req.UploadPath, content)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file or upload_path is required")
	}
	var tag *models.RetentionTag
	if req.RetentionTagID != nil && *req.RetentionTagID != "" {
		if tag, err = s.tags.Lookup(ctx, req.TeamID, *req.RetentionTagID); err != nil {
			return nil, err
		}
	}
	diskName := req.StorageDisk
	if diskName == "" {
		diskName = s.disks.Default()
	}
	store, err := s.disks.Disk(diskName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "storage disk unavailable")
	}

	original := firstNonEmpty(req.Filename, src.filename)
	now := s.now()
	doc := &models.Document{
		ID:               uuid.NewString(),
		TeamID:           req.TeamID,
		FolderID:         req.FolderID,
		Name:             req.Name,
		Filename:         storage.SanitizeFilename(original),
		OriginalFilename: original,
		MimeType:         detectMimeType(req.MimeType, src.mimeType, original),
		StorageDisk:      diskName,
		CreatorID:        actor.UserID,
		State:            models.DocumentStateCreating,
		CreatedAt:        now,
	}
	doc.StorageKey = "pending/" + doc.ID
	if tag != nil {
		expires := tag.ExpiresFrom(now)
		doc.RetentionTagID = &tag.ID
		doc.RetentionExpiresAt = &expires
	}

	var written string
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.docs.Create(ctx, doc); err != nil {
			return err
		}
		key := s.paths.Generate(doc.TeamID, doc.ID, doc.Filename, now.Year(), int(now.Month()))
		stored, err := s.writeContent(ctx, diskName, store, key, src)
		if err != nil {
			return err
		}
		written = key
		version, err := s.ledger.CreateVersion(ctx, CreateVersionInput{
			DocumentID:    doc.ID,
			StorageKey:    key,
			SizeBytes:     stored.size,
			MimeType:      doc.MimeType,
			Filename:      doc.Filename,
			Checksum:      stored.checksum,
			CreatedBy:     actor.UserID,
			ChangeSummary: req.ChangeSummary,
		})
		if err != nil {
			return err
		}
		doc.StorageKey = key
		doc.SizeBytes = stored.size
		doc.CurrentVersionNumber = version.VersionNumber
		doc.State = models.DocumentStateActive
		return s.docs.Update(ctx, doc)
	})
	if err != nil {
		discardObject(ctx, s.logger, store, written)
		return nil, mapLedgerError(err, "failed to create document")
	}
	s.releaseSource(ctx, src)

	s.logger.Info("document created",
		zap.String("document_id", doc.ID),
		zap.String("team_id", doc.TeamID),
		zap.String("disk", doc.StorageDisk),
		zap.Int64("size", doc.SizeBytes),
	)
	s.audit.LogAction(ctx, doc, actor, models.AuditActionDocumentCreate, map[string]interface{}{
		"version": doc.CurrentVersionNumber,
		"size":    doc.SizeBytes,
		"source":  sourceLabel(src),
	})
	return doc, nil
}

// Update changes attributes and, when content is supplied, appends a version
// stored at a fresh key and repoints the document at it.
func (s *DocumentService) Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateDocumentRequest, content *DocumentContent) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid document payload")
	}
	current, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanEdit(actor, current) {
		return nil, appErrors.ErrForbidden
	}
	src, err := s.resolveSource(ctx, current.TeamID, req.UploadPath, content)
	if err != nil {
		return nil, err
	}
	var tag *models.RetentionTag
	if req.RetentionTagID != nil && *req.RetentionTagID != "" {
		if tag, err = s.tags.Lookup(ctx, current.TeamID, *req.RetentionTagID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	var (
		doc     *models.Document
		written string
		store   storage.ObjectStore
		changes = map[string]interface{}{}
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.docs.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.State != models.DocumentStateActive {
			return appErrors.ErrNotFound
		}
		if req.Name != nil {
			locked.Name = strings.TrimSpace(*req.Name)
			changes["name"] = locked.Name
		}
		if req.FolderID != nil {
			locked.FolderID = nilIfEmpty(*req.FolderID)
			changes["folder_id"] = *req.FolderID
		}
		if req.RetentionTagID != nil {
			if err := applyRetention(locked, tag, now); err != nil {
				return err
			}
			changes["retention_tag_id"] = *req.RetentionTagID
		}

		if src != nil {
			store, err = s.disks.Disk(locked.StorageDisk)
			if err != nil {
				return err
			}
			if _, err := s.ledger.SnapshotIfMissing(ctx, locked, actor.UserID); err != nil {
				return err
			}
			original := firstNonEmpty(req.Filename, src.filename, locked.OriginalFilename)
			filename := storage.SanitizeFilename(original)
			key, _, err := s.ledger.NextVersionKey(ctx, locked, filename)
			if err != nil {
				return err
			}
			stored, err := s.writeContent(ctx, locked.StorageDisk, store, key, src)
			if err != nil {
				return err
			}
			written = key
			mimeType := detectMimeType(req.MimeType, src.mimeType, original)
			version, err := s.ledger.CreateVersion(ctx, CreateVersionInput{
				DocumentID:    locked.ID,
				StorageKey:    key,
				SizeBytes:     stored.size,
				MimeType:      mimeType,
				Filename:      filename,
				Checksum:      stored.checksum,
				CreatedBy:     actor.UserID,
				ChangeSummary: req.ChangeSummary,
			})
			if err != nil {
				return err
			}
			locked.StorageKey = key
			locked.SizeBytes = stored.size
			locked.MimeType = mimeType
			locked.Filename = filename
			locked.OriginalFilename = original
			locked.CurrentVersionNumber = version.VersionNumber
			changes["version"] = version.VersionNumber
		}
		locked.UpdaterID = &actor.UserID
		doc = locked
		return s.docs.Update(ctx, locked)
	})
	if err != nil {
		discardObject(ctx, s.logger, store, written)
		return nil, mapLedgerError(err, "failed to update document")
	}
	s.releaseSource(ctx, src)
	s.audit.LogAction(ctx, doc, actor, models.AuditActionDocumentUpdate, changes)
	return doc, nil
}

// Delete soft deletes a document, or purges it with every stored version when
// permanent is set. A purge under active retention is refused before anything
// is touched.
func (s *DocumentService) Delete(ctx context.Context, actor models.Actor, id string, permanent bool) (*models.Document, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanDelete(actor, doc) {
		return nil, appErrors.ErrForbidden
	}
	now := s.now()
	if !permanent {
		return s.softDelete(ctx, actor, doc, now)
	}
	if doc.RetentionActive(now) {
		return nil, retentionError(doc)
	}

	var versions []models.DocumentVersion
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.docs.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.RetentionActive(now) {
			return retentionError(locked)
		}
		if versions, err = s.ledger.ListVersions(ctx, id); err != nil {
			return err
		}
		doc = locked
		return s.docs.Delete(ctx, id)
	})
	if err != nil {
		return nil, mapLedgerError(err, "failed to delete document")
	}

	keys := map[string]struct{}{doc.StorageKey: {}}
	for _, v := range versions {
		keys[v.StorageKey] = struct{}{}
	}
	if err := s.purgeObjects(ctx, doc.StorageDisk, keys); err != nil {
		s.logger.Error("document purged but objects remain", zap.String("document_id", doc.ID), zap.Error(err))
	}

	doc.State = models.DocumentStatePurged
	s.audit.LogAction(ctx, doc, actor, models.AuditActionDocumentPurge, map[string]interface{}{
		"versions": len(versions),
		"objects":  len(keys),
	})
	return doc, nil
}

func (s *DocumentService) softDelete(ctx context.Context, actor models.Actor, doc *models.Document, now time.Time) (*models.Document, error) {
	if doc.State == models.DocumentStateSoftDeleted {
		return doc, nil
	}
	doc.State = models.DocumentStateSoftDeleted
	doc.DeletedAt = &now
	doc.UpdaterID = &actor.UserID
	if err := s.docs.Update(ctx, doc); err != nil {
		return nil, mapLedgerError(err, "failed to delete document")
	}
	s.audit.LogAction(ctx, doc, actor, models.AuditActionDocumentDelete, nil)
	return doc, nil
}

func (s *DocumentService) purgeObjects(ctx context.Context, disk string, keys map[string]struct{}) error {
	store, err := s.disks.Disk(disk)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(s.cfg.PurgeWorkers)
	for key := range keys {
		key := key
		g.Go(func() error {
			if err := store.Delete(gctx, key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// RestoreDeleted undoes a soft delete.
func (s *DocumentService) RestoreDeleted(ctx context.Context, actor models.Actor, id string) (*models.Document, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanDelete(actor, doc) {
		return nil, appErrors.ErrForbidden
	}
	if doc.State == models.DocumentStateActive {
		return doc, nil
	}
	doc.State = models.DocumentStateActive
	doc.DeletedAt = nil
	doc.UpdaterID = &actor.UserID
	if err := s.docs.Update(ctx, doc); err != nil {
		return nil, mapLedgerError(err, "failed to restore document")
	}
	s.audit.LogAction(ctx, doc, actor, models.AuditActionDocumentRestore, nil)
	return doc, nil
}

// Get returns a document with its version history.
func (s *DocumentService) Get(ctx context.Context, actor models.Actor, id string) (*dto.DocumentResponse, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanView(actor, doc) {
		return nil, appErrors.ErrForbidden
	}
	versions, err := s.ledger.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.DocumentResponse{Document: *doc, Versions: versions}, nil
}

// List returns a page of a team's documents.
func (s *DocumentService) List(ctx context.Context, actor models.Actor, query dto.DocumentListQuery) ([]models.Document, *models.Pagination, error) {
	teamID := query.TeamID
	if teamID == "" {
		teamID = actor.TeamID
	}
	if !s.policy.CanView(actor, &models.Document{TeamID: teamID}) {
		return nil, nil, appErrors.ErrForbidden
	}
	filter := models.DocumentFilter{
		TeamID:         teamID,
		FolderID:       query.FolderID,
		Search:         strings.TrimSpace(query.Search),
		IncludeDeleted: query.IncludeDeleted,
		Page:           query.Page,
		PageSize:       query.PageSize,
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 20
	}
	docs, total, err := s.docs.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ListVersions returns the version history of a document, newest first.
func (s *DocumentService) ListVersions(ctx context.Context, actor models.Actor, id string) ([]models.DocumentVersion, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanView(actor, doc) {
		return nil, appErrors.ErrForbidden
	}
	return s.ledger.ListVersions(ctx, id)
}

// RestoreVersion makes a copy of an earlier version current.
func (s *DocumentService) RestoreVersion(ctx context.Context, actor models.Actor, id string, version int) (*models.Document, error) {
	doc, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanEdit(actor, doc) {
		return nil, appErrors.ErrForbidden
	}
	restoredDoc, restored, err := s.ledger.Restore(ctx, actor.UserID, id, version)
	if err != nil {
		return nil, err
	}
	s.audit.LogAction(ctx, restoredDoc, actor, models.AuditActionVersionRestore, map[string]interface{}{
		"from":    version,
		"version": restored.VersionNumber,
	})
	return restoredDoc, nil
}

// DownloadURL returns a temporary link to the document's current content.
func (s *DocumentService) DownloadURL(ctx context.Context, actor models.Actor, id string) (*dto.DownloadURLResponse, error) {
	doc, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanView(actor, doc) {
		return nil, appErrors.ErrForbidden
	}
	store, err := s.disks.Disk(doc.StorageDisk)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrStorageUnavailable, err, "storage disk unavailable")
	}
	url, err := store.TemporaryURL(ctx, doc.StorageKey, s.cfg.DownloadURLTTL)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupported) {
			return nil, appErrors.WrapAs(appErrors.ErrStorageUnavailable, err, "temporary links are not enabled for this disk")
		}
		return nil, storageError(err, "failed to create download link")
	}
	return &dto.DownloadURLResponse{URL: url, ExpiresAt: s.now().Add(s.cfg.DownloadURLTTL)}, nil
}

// VersionExport is a rendered version history report.
type VersionExport struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportVersions renders the version history of a document as CSV or PDF.
func (s *DocumentService) ExportVersions(ctx context.Context, actor models.Actor, id, format string) (*VersionExport, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format")
	}
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanView(actor, doc) {
		return nil, appErrors.ErrForbidden
	}
	versions, err := s.ledger.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	data := export.Dataset{
		Headers: []string{"version", "filename", "size_bytes", "mime_type", "checksum", "created_by", "created_at", "change_summary"},
		Rows:    make([]map[string]string, 0, len(versions)),
	}
	for _, v := range versions {
		summary := ""
		if v.ChangeSummary != nil {
			summary = *v.ChangeSummary
		}
		data.Rows = append(data.Rows, map[string]string{
			"version":        strconv.Itoa(v.VersionNumber),
			"filename":       v.Filename,
			"size_bytes":     strconv.FormatInt(v.SizeBytes, 10),
			"mime_type":      v.MimeType,
			"checksum":       v.Checksum,
			"created_by":     v.CreatedBy,
			"created_at":     v.CreatedAt.UTC().Format(time.RFC3339),
			"change_summary": summary,
		})
	}
	content, err := s.renderer.Render(parsed, data, "Version history: "+doc.Name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render version history")
	}
	return &VersionExport{
		Content:     content,
		ContentType: parsed.ContentType(),
		Filename:    fmt.Sprintf("%s_versions.%s", strings.TrimSuffix(doc.Filename, path.Ext(doc.Filename)), parsed),
	}, nil
}

func (s *DocumentService) load(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if doc.State == models.DocumentStateCreating {
		return nil, appErrors.ErrNotFound
	}
	return doc, nil
}

func (s *DocumentService) loadActive(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.State != models.DocumentStateActive {
		return nil, appErrors.ErrNotFound
	}
	return doc, nil
}

// resolveSource returns nil when neither content nor uploadPath is given.
func (s *DocumentService) resolveSource(ctx context.Context, teamID, uploadPath string, content *DocumentContent) (*contentSource, error) {
	uploadPath = strings.TrimSpace(uploadPath)
	switch {
	case content != nil && uploadPath != "":
		return nil, appErrors.Clone(appErrors.ErrValidation, "provide either a file or upload_path, not both")
	case content != nil:
		if content.Reader == nil || content.Size <= 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
		}
		return &contentSource{
			reader:   content.Reader,
			size:     content.Size,
			filename: content.Filename,
			mimeType: content.MimeType,
		}, nil
	case uploadPath != "":
		key := strings.TrimPrefix(path.Clean("/"+uploadPath), "/")
		if !strings.HasPrefix(key, AssembledPrefix(teamID)) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "upload_path is not an assembled upload of this team")
		}
		diskName := s.disks.Default()
		store, err := s.disks.Disk(diskName)
		if err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrStorageUnavailable, err, "staging disk unavailable")
		}
		ok, err := store.Exists(ctx, key)
		if err != nil {
			return nil, storageError(err, "failed to check upload_path")
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "upload_path does not exist")
		}
		return &contentSource{filename: path.Base(key), stagedKey: key, stagedDisk: diskName}, nil
	}
	return nil, nil
}

// writeContent places src at key on store and returns its size and checksum.
func (s *DocumentService) writeContent(ctx context.Context, disk string, store storage.ObjectStore, key string, src *contentSource) (*storedContent, error) {
	if src.stagedKey == "" {
		h := newChecksum()
		counter := &countingWriter{}
		body := io.TeeReader(src.reader, io.MultiWriter(h, counter))
		if err := store.Put(ctx, key, body, src.size); err != nil {
			return nil, storageError(err, "failed to store document content")
		}
		return &storedContent{size: counter.n, checksum: hex.EncodeToString(h.Sum(nil))}, nil
	}

	if src.stagedDisk == disk {
		if err := store.Copy(ctx, src.stagedKey, key); err != nil {
			return nil, storageError(err, "failed to move assembled upload")
		}
	} else {
		staging, err := s.disks.Disk(src.stagedDisk)
		if err != nil {
			return nil, err
		}
		size, err := staging.Size(ctx, src.stagedKey)
		if err != nil {
			return nil, storageError(err, "failed to stat assembled upload")
		}
		rc, err := staging.Get(ctx, src.stagedKey)
		if err != nil {
			return nil, storageError(err, "failed to read assembled upload")
		}
		err = store.Put(ctx, key, rc, size)
		_ = rc.Close()
		if err != nil {
			return nil, storageError(err, "failed to move assembled upload")
		}
	}
	size, err := store.Size(ctx, key)
	if err != nil {
		return nil, storageError(err, "failed to stat document content")
	}
	checksum, err := checksumObject(ctx, store, key)
	if err != nil {
		return nil, storageError(err, "failed to checksum document content")
	}
	return &storedContent{size: size, checksum: checksum}, nil
}

// releaseSource drops the staged upload once its content is committed.
func (s *DocumentService) releaseSource(ctx context.Context, src *contentSource) {
	if src == nil || src.stagedKey == "" {
		return
	}
	staging, err := s.disks.Disk(src.stagedDisk)
	if err != nil {
		return
	}
	discardObject(ctx, s.logger, staging, src.stagedKey)
}

func applyRetention(doc *models.Document, tag *models.RetentionTag, now time.Time) error {
	var expires *time.Time
	if tag != nil {
		t := tag.ExpiresFrom(now)
		expires = &t
	}
	if doc.RetentionActive(now) && (expires == nil || expires.Before(*doc.RetentionExpiresAt)) {
		return appErrors.Clone(appErrors.ErrRetentionProtected, "retention cannot be shortened while it is active")
	}
	if tag == nil {
		doc.RetentionTagID = nil
	} else {
		doc.RetentionTagID = &tag.ID
	}
	doc.RetentionExpiresAt = expires
	return nil
}

func retentionError(doc *models.Document) error {
	return appErrors.WithDetails(appErrors.ErrRetentionProtected,
		fmt.Sprintf("document is under retention until %s", doc.RetentionExpiresAt.UTC().Format(time.RFC3339)),
		map[string]interface{}{"retention_expires_at": doc.RetentionExpiresAt.UTC()})
}

func detectMimeType(candidates ...string) string {
	filename := candidates[len(candidates)-1]
	for _, c := range candidates[:len(candidates)-1] {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(filename))); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

func sourceLabel(src *contentSource) string {
	if src.stagedKey != "" {
		return "chunked_upload"
	}
	return "direct"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func nilIfEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
