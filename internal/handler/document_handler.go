package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/docvault-api/internal/dto"
	"github.com/noah-isme/docvault-api/internal/models"
	"github.com/noah-isme/docvault-api/internal/service"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
	"github.com/noah-isme/docvault-api/pkg/response"
)

type documentService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateDocumentRequest, content *service.DocumentContent) (*models.Document, error)
	Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateDocumentRequest, content *service.DocumentContent) (*models.Document, error)
	Delete(ctx context.Context, actor models.Actor, id string, permanent bool) (*models.Document, error)
	RestoreDeleted(ctx context.Context, actor models.Actor, id string) (*models.Document, error)
	Get(ctx context.Context, actor models.Actor, id string) (*dto.DocumentResponse, error)
	List(ctx context.Context, actor models.Actor, query dto.DocumentListQuery) ([]models.Document, *models.Pagination, error)
	ListVersions(ctx context.Context, actor models.Actor, id string) ([]models.DocumentVersion, error)
	RestoreVersion(ctx context.Context, actor models.Actor, id string, version int) (*models.Document, error)
	DownloadURL(ctx context.Context, actor models.Actor, id string) (*dto.DownloadURLResponse, error)
	ExportVersions(ctx context.Context, actor models.Actor, id, format string) (*service.VersionExport, error)
}

// DocumentHandler exposes document endpoints.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(service documentService) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// Create godoc
// @Summary Create a document
// @Description Accepts either a multipart file or JSON referencing an assembled upload via upload_path.
// @Tags Documents
// @Accept multipart/form-data
// @Accept json
// @Produce json
// @Param team_id formData string true "Team"
// @Param name formData string true "Display name"
// @Param file formData file false "Content"
// @Param upload_path formData string false "Assembled upload"
// @Param retention_tag_id formData string false "Retention tag"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.CreateDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid document payload"))
		return
	}
	content, closeFn, err := contentFromRequest(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeFn()

	doc, err := h.service.Create(c.Request.Context(), actor, req, content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// List godoc
// @Summary List documents
// @Tags Documents
// @Produce json
// @Param team_id query string false "Team, defaults to the caller's"
// @Param folder_id query string false "Folder"
// @Param search query string false "Name contains"
// @Param include_deleted query bool false "Include soft deleted documents"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var query dto.DocumentListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	docs, pagination, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, pagination)
}

// Get godoc
// @Summary Get a document with its versions
// @Tags Documents
// @Produce json
// @Param id path string true "Document"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	doc, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Update godoc
// @Summary Update a document
// @Description Changes attributes; supplying a file or upload_path appends a new version.
// @Tags Documents
// @Accept multipart/form-data
// @Accept json
// @Produce json
// @Param id path string true "Document"
// @Success 200 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /documents/{id} [put]
func (h *DocumentHandler) Update(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.UpdateDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid document payload"))
		return
	}
	content, closeFn, err := contentFromRequest(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeFn()

	doc, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req, content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Delete godoc
// @Summary Delete a document
// @Tags Documents
// @Produce json
// @Param id path string true "Document"
// @Param permanent query bool false "Purge the document and every stored version"
// @Success 200 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	permanent := false
	if raw := c.Query("permanent"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "permanent must be a boolean"))
			return
		}
		permanent = parsed
	}
	doc, err := h.service.Delete(c.Request.Context(), actor, c.Param("id"), permanent)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Restore godoc
// @Summary Undo a soft delete
// @Tags Documents
// @Produce json
// @Param id path string true "Document"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/restore [post]
func (h *DocumentHandler) Restore(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	doc, err := h.service.RestoreDeleted(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Versions godoc
// @Summary List document versions
// @Tags Documents
// @Produce json
// @Param id path string true "Document"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/versions [get]
func (h *DocumentHandler) Versions(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	versions, err := h.service.ListVersions(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, versions, nil)
}

// RestoreVersion godoc
// @Summary Restore an earlier version
// @Description Copies the version's content into a new version and makes it current.
// @Tags Documents
// @Produce json
// @Param id path string true "Document"
// @Param version path int true "Version number"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id}/versions/{version}/restore [post]
func (h *DocumentHandler) RestoreVersion(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "version must be a positive integer"))
		return
	}
	doc, err := h.service.RestoreVersion(c.Request.Context(), actor, c.Param("id"), version)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// ExportVersions godoc
// @Summary Export version history
// @Tags Documents
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Document"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /documents/{id}/versions/export [get]
func (h *DocumentHandler) ExportVersions(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	out, err := h.service.ExportVersions(c.Request.Context(), actor, c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.AttachmentBytes(c, out.Filename, out.ContentType, out.Content)
}

// DownloadURL godoc
// @Summary Temporary download link
// @Tags Documents
// @Produce json
// @Param id path string true "Document"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /documents/{id}/download-url [get]
func (h *DocumentHandler) DownloadURL(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	link, err := h.service.DownloadURL(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// contentFromRequest opens the optional multipart "file" field.
func contentFromRequest(c *gin.Context) (*service.DocumentContent, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return nil, noop, nil
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, noop, nil
		}
		return nil, noop, appErrors.Clone(appErrors.ErrValidation, "invalid file field")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return nil, noop, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return &service.DocumentContent{
		Reader:   src,
		Size:     fileHeader.Size,
		Filename: fileHeader.Filename,
		MimeType: partContentType(fileHeader),
	}, func() { _ = src.Close() }, nil
}

func partContentType(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if ct == "application/octet-stream" {
		return ""
	}
	return ct
}
