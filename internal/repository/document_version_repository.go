package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/docvault-api/internal/models"
)

const versionColumns = `id, document_id, version_number, storage_key, size_bytes, mime_type, filename, checksum,
       created_by, change_summary, created_at`

// DocumentVersionRepository persists the append-only version ledger.
type DocumentVersionRepository struct {
	db *sqlx.DB
}

// NewDocumentVersionRepository constructs the repository.
func NewDocumentVersionRepository(db *sqlx.DB) *DocumentVersionRepository {
	return &DocumentVersionRepository{db: db}
}

// CreateNext inserts v with version_number = max(existing)+1 computed in the
// same statement, and writes the assigned number back into v. A concurrent
// insert that claimed the number first surfaces as ErrVersionConflict.
func (r *DocumentVersionRepository) CreateNext(ctx context.Context, v *models.DocumentVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO document_versions
	(id, document_id, version_number, storage_key, size_bytes, mime_type, filename, checksum, created_by, change_summary, created_at)
	SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3, $4, $5, $6, $7, $8, $9, $10
	FROM document_versions WHERE document_id = $2
	RETURNING version_number`
	var number int
	err := conn(ctx, r.db).GetContext(ctx, &number, query,
		v.ID, v.DocumentID, v.StorageKey, v.SizeBytes, v.MimeType, v.Filename, v.Checksum, v.CreatedBy, v.ChangeSummary, v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("create document version: %w", err)
	}
	v.VersionNumber = number
	return nil
}

// ListByDocument returns every version of a document, newest first.
func (r *DocumentVersionRepository) ListByDocument(ctx context.Context, documentID string) ([]models.DocumentVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM document_versions WHERE document_id = $1 ORDER BY version_number DESC`
	var versions []models.DocumentVersion
	if err := conn(ctx, r.db).SelectContext(ctx, &versions, query, documentID); err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	return versions, nil
}

// GetByNumber returns one version of a document.
func (r *DocumentVersionRepository) GetByNumber(ctx context.Context, documentID string, number int) (*models.DocumentVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM document_versions WHERE document_id = $1 AND version_number = $2`
	var v models.DocumentVersion
	if err := conn(ctx, r.db).GetContext(ctx, &v, query, documentID, number); err != nil {
		return nil, err
	}
	return &v, nil
}

// ExistsByStorageKey reports whether a version of the document already points at key.
func (r *DocumentVersionRepository) ExistsByStorageKey(ctx context.Context, documentID, key string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM document_versions WHERE document_id = $1 AND storage_key = $2)`
	var exists bool
	if err := conn(ctx, r.db).GetContext(ctx, &exists, query, documentID, key); err != nil {
		return false, fmt.Errorf("check document version key: %w", err)
	}
	return exists, nil
}

// MaxNumber returns the highest version number of a document, 0 when it has none.
func (r *DocumentVersionRepository) MaxNumber(ctx context.Context, documentID string) (int, error) {
	const query = `SELECT COALESCE(MAX(version_number), 0) FROM document_versions WHERE document_id = $1`
	var max int
	if err := conn(ctx, r.db).GetContext(ctx, &max, query, documentID); err != nil {
		return 0, fmt.Errorf("max document version: %w", err)
	}
	return max, nil
}
