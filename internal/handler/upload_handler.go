package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/docvault-api/internal/dto"
	"github.com/noah-isme/docvault-api/internal/models"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
	"github.com/noah-isme/docvault-api/pkg/response"
)

type uploadSessionService interface {
	Initiate(ctx context.Context, actor models.Actor, req dto.InitiateUploadRequest) (*models.UploadSession, error)
	ChunkSize() int64
}

type chunkUploadService interface {
	UploadChunk(ctx context.Context, actor models.Actor, sessionID string, index int, r io.Reader, size int64) (*models.UploadSession, error)
	Status(ctx context.Context, actor models.Actor, sessionID string) (*models.UploadStatus, error)
	Complete(ctx context.Context, actor models.Actor, sessionID, finalKey string) (*models.AssembledUpload, error)
	Cancel(ctx context.Context, actor models.Actor, sessionID string) (bool, error)
}

// UploadHandler exposes the chunked upload endpoints.
type UploadHandler struct {
	sessions uploadSessionService
	chunks   chunkUploadService
}

// NewUploadHandler constructs the handler.
func NewUploadHandler(sessions uploadSessionService, chunks chunkUploadService) *UploadHandler {
	return &UploadHandler{sessions: sessions, chunks: chunks}
}

// Initiate godoc
// @Summary Open a chunked upload session
// @Tags Uploads
// @Accept json
// @Produce json
// @Param payload body dto.InitiateUploadRequest true "Upload declaration"
// @Success 201 {object} response.Envelope
// @Router /uploads/initiate [post]
func (h *UploadHandler) Initiate(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.InitiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid upload payload"))
		return
	}
	session, err := h.sessions.Initiate(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.InitiateUploadResponse{
		UploadID:  session.ID,
		ChunkSize: h.sessions.ChunkSize(),
		ExpiresAt: session.ExpiresAt,
	})
}

// Chunk godoc
// @Summary Upload one chunk
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Param upload_id formData string true "Upload session"
// @Param chunk_number formData int true "Zero based chunk index"
// @Param chunk formData file true "Chunk bytes"
// @Success 200 {object} response.Envelope
// @Router /uploads/chunk [post]
func (h *UploadHandler) Chunk(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.ChunkUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "upload_id and chunk_number are required"))
		return
	}
	fileHeader, err := c.FormFile("chunk")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "chunk is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open chunk"))
		return
	}
	defer src.Close()

	session, err := h.chunks.UploadChunk(c.Request.Context(), actor, req.UploadID, *req.ChunkNumber, src, fileHeader.Size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ChunkUploadResponse{
		UploadedChunks: session.ReceivedCount(),
		TotalChunks:    session.DeclaredTotalChunks,
		Complete:       session.IsComplete(),
	}, nil)
}

// Complete godoc
// @Summary Assemble an uploaded file
// @Tags Uploads
// @Accept json
// @Produce json
// @Param payload body dto.CompleteUploadRequest true "Session to assemble"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /uploads/complete [post]
func (h *UploadHandler) Complete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "upload_id is required"))
		return
	}
	assembled, err := h.chunks.Complete(c.Request.Context(), actor, req.UploadID, req.FinalPath)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assembled, nil)
}

// Cancel godoc
// @Summary Abandon an upload session
// @Tags Uploads
// @Accept json
// @Produce json
// @Param payload body dto.CancelUploadRequest true "Session to cancel"
// @Success 200 {object} response.Envelope
// @Router /uploads/cancel [post]
func (h *UploadHandler) Cancel(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.CancelUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "upload_id is required"))
		return
	}
	cancelled, err := h.chunks.Cancel(c.Request.Context(), actor, req.UploadID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.CancelUploadResponse{Cancelled: cancelled}, nil)
}

// Status godoc
// @Summary Upload progress
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload session"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /uploads/status/{id} [get]
func (h *UploadHandler) Status(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	status, err := h.chunks.Status(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}
