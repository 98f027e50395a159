package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/docvault-api/internal/models"
)

// RetentionTagRepository persists team retention tags.
type RetentionTagRepository struct {
	db *sqlx.DB
}

// NewRetentionTagRepository constructs the repository.
func NewRetentionTagRepository(db *sqlx.DB) *RetentionTagRepository {
	return &RetentionTagRepository{db: db}
}

// Create inserts a tag. A name already used by the team yields ErrDuplicate.
func (r *RetentionTagRepository) Create(ctx context.Context, tag *models.RetentionTag) error {
	if tag.ID == "" {
		tag.ID = uuid.NewString()
	}
	if tag.CreatedAt.IsZero() {
		tag.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO retention_tags (id, team_id, name, color, retention_period_days, created_at)
	VALUES (:id, :team_id, :name, :color, :retention_period_days, :created_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, tag); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create retention tag: %w", err)
	}
	return nil
}

// GetByID retrieves one tag.
func (r *RetentionTagRepository) GetByID(ctx context.Context, id string) (*models.RetentionTag, error) {
	const query = `SELECT id, team_id, name, color, retention_period_days, created_at FROM retention_tags WHERE id = $1`
	var tag models.RetentionTag
	if err := conn(ctx, r.db).GetContext(ctx, &tag, query, id); err != nil {
		return nil, err
	}
	return &tag, nil
}

// ListByTeam returns a team's tags ordered by name.
func (r *RetentionTagRepository) ListByTeam(ctx context.Context, teamID string) ([]models.RetentionTag, error) {
	const query = `SELECT id, team_id, name, color, retention_period_days, created_at
	FROM retention_tags WHERE team_id = $1 ORDER BY name`
	var tags []models.RetentionTag
	if err := conn(ctx, r.db).SelectContext(ctx, &tags, query, teamID); err != nil {
		return nil, fmt.Errorf("list retention tags: %w", err)
	}
	return tags, nil
}
