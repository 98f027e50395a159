package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/docvault-api/internal/dto"
	"github.com/noah-isme/docvault-api/internal/models"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
	"github.com/noah-isme/docvault-api/pkg/response"
)

type retentionTagService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateRetentionTagRequest) (*models.RetentionTag, error)
	List(ctx context.Context, actor models.Actor, teamID string) ([]models.RetentionTag, error)
}

// RetentionTagHandler exposes retention tag endpoints.
type RetentionTagHandler struct {
	service retentionTagService
}

// NewRetentionTagHandler constructs the handler.
func NewRetentionTagHandler(service retentionTagService) *RetentionTagHandler {
	return &RetentionTagHandler{service: service}
}

// Create godoc
// @Summary Create a retention tag
// @Tags RetentionTags
// @Accept json
// @Produce json
// @Param payload body dto.CreateRetentionTagRequest true "Tag"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /retention-tags [post]
func (h *RetentionTagHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.CreateRetentionTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid retention tag payload"))
		return
	}
	tag, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tag)
}

// List godoc
// @Summary List retention tags
// @Tags RetentionTags
// @Produce json
// @Param team_id query string false "Team, defaults to the caller's"
// @Success 200 {object} response.Envelope
// @Router /retention-tags [get]
func (h *RetentionTagHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	tags, err := h.service.List(c.Request.Context(), actor, c.Query("team_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tags, nil)
}
