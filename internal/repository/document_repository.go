package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/docvault-api/internal/models"
)

const documentColumns = `id, team_id, folder_id, name, filename, original_filename, mime_type, size_bytes,
       storage_key, storage_disk, current_version_number, creator_id, updater_id, retention_tag_id,
       retention_expires_at, state, deleted_at, created_at, updated_at`

// DocumentRepository persists document rows.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a document row.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = doc.CreatedAt
	const query = `INSERT INTO documents
	(id, team_id, folder_id, name, filename, original_filename, mime_type, size_bytes, storage_key, storage_disk,
	 current_version_number, creator_id, updater_id, retention_tag_id, retention_expires_at, state, deleted_at, created_at, updated_at)
	VALUES (:id, :team_id, :folder_id, :name, :filename, :original_filename, :mime_type, :size_bytes, :storage_key, :storage_disk,
	 :current_version_number, :creator_id, :updater_id, :retention_tag_id, :retention_expires_at, :state, :deleted_at, :created_at, :updated_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID retrieves one document.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	var doc models.Document
	if err := conn(ctx, r.db).GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetForUpdate retrieves a document and locks its row until the surrounding
// transaction ends. Concurrent writers to the same document queue behind it.
func (r *DocumentRepository) GetForUpdate(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 FOR UPDATE`
	var doc models.Document
	if err := conn(ctx, r.db).GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Update persists mutable document fields.
func (r *DocumentRepository) Update(ctx context.Context, doc *models.Document) error {
	doc.UpdatedAt = time.Now().UTC()
	const query = `UPDATE documents SET
	folder_id = :folder_id, name = :name, filename = :filename, original_filename = :original_filename,
	mime_type = :mime_type, size_bytes = :size_bytes, storage_key = :storage_key, storage_disk = :storage_disk,
	current_version_number = :current_version_number, updater_id = :updater_id, retention_tag_id = :retention_tag_id,
	retention_expires_at = :retention_expires_at, state = :state, deleted_at = :deleted_at, updated_at = :updated_at
	WHERE id = :id`
	res, err := conn(ctx, r.db).NamedExecContext(ctx, query, doc)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireAffected(res, "update document")
}

// List returns documents matching filter and the total count.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	conditions := []string{"team_id = $1"}
	args := []interface{}{filter.TeamID}
	if filter.IncludeDeleted {
		conditions = append(conditions, "state IN ('ACTIVE', 'SOFT_DELETED')")
	} else {
		conditions = append(conditions, "state = 'ACTIVE'")
	}
	if filter.FolderID != nil {
		args = append(args, *filter.FolderID)
		conditions = append(conditions, fmt.Sprintf("folder_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := conn(ctx, r.db).GetContext(ctx, &total, `SELECT COUNT(*) FROM documents`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 20
	}
	query := `SELECT ` + documentColumns + ` FROM documents` + where +
		fmt.Sprintf(" ORDER BY updated_at DESC LIMIT %d OFFSET %d", size, (page-1)*size)

	var docs []models.Document
	if err := conn(ctx, r.db).SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return docs, total, nil
}

// Delete removes the document row; versions cascade.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(res, "delete document")
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
