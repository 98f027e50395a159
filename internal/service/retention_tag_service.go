package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/docvault-api/internal/dto"
	"github.com/noah-isme/docvault-api/internal/models"
	"github.com/noah-isme/docvault-api/internal/repository"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
)

type retentionTagStore interface {
	Create(ctx context.Context, tag *models.RetentionTag) error
	GetByID(ctx context.Context, id string) (*models.RetentionTag, error)
	ListByTeam(ctx context.Context, teamID string) ([]models.RetentionTag, error)
}

// RetentionTagService manages team retention tags.
type RetentionTagService struct {
	repo      retentionTagStore
	policy    DocumentPolicy
	audit     *AuditService
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRetentionTagService constructs the service. cache may be nil.
func NewRetentionTagService(repo retentionTagStore, policy DocumentPolicy, audit *AuditService, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *RetentionTagService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionTagService{repo: repo, policy: policy, audit: audit, cache: cache, validator: validate, logger: logger}
}

// Create defines a tag. Names are unique per team.
func (s *RetentionTagService) Create(ctx context.Context, actor models.Actor, req dto.CreateRetentionTagRequest) (*models.RetentionTag, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid retention tag payload")
	}
	if !s.policy.CanManageTeam(actor, req.TeamID) {
		return nil, appErrors.ErrForbidden
	}
	tag := &models.RetentionTag{
		TeamID:              req.TeamID,
		Name:                req.Name,
		Color:               req.Color,
		RetentionPeriodDays: req.RetentionPeriodDays,
	}
	if err := s.repo.Create(ctx, tag); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateName, "retention tag name already used by this team")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create retention tag")
	}
	s.cache.Invalidate(ctx, teamTagsKey(tag.TeamID))
	s.audit.LogRetentionTag(ctx, tag, actor, models.AuditActionRetentionTagCreate)
	return tag, nil
}

// List returns the tags of a team.
func (s *RetentionTagService) List(ctx context.Context, actor models.Actor, teamID string) ([]models.RetentionTag, error) {
	if teamID == "" {
		teamID = actor.TeamID
	}
	if !sameTeam(actor, teamID) {
		return nil, appErrors.ErrForbidden
	}
	var tags []models.RetentionTag
	err := s.cache.Remember(ctx, teamTagsKey(teamID), &tags, func() error {
		var err error
		tags, err = s.repo.ListByTeam(ctx, teamID)
		return err
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list retention tags")
	}
	if tags == nil {
		tags = []models.RetentionTag{}
	}
	return tags, nil
}

// Lookup resolves a tag for assignment to a document of teamID.
func (s *RetentionTagService) Lookup(ctx context.Context, teamID, id string) (*models.RetentionTag, error) {
	var tag *models.RetentionTag
	err := s.cache.Remember(ctx, tagKey(id), &tag, func() error {
		var err error
		tag, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "retention tag not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load retention tag")
	}
	if tag.TeamID != teamID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "retention tag belongs to another team")
	}
	return tag, nil
}

func teamTagsKey(teamID string) string {
	return fmt.Sprintf("retention_tags:team:%s", teamID)
}

func tagKey(id string) string {
	return fmt.Sprintf("retention_tags:id:%s", id)
}
