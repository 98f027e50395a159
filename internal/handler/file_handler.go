package handler

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
	"github.com/noah-isme/docvault-api/pkg/response"
	"github.com/noah-isme/docvault-api/pkg/storage"
)

type signedOpener interface {
	OpenSigned(ctx context.Context, token string) (string, io.ReadCloser, error)
}

// FileHandler serves signed download links of the local disk.
type FileHandler struct {
	files signedOpener
}

// NewFileHandler constructs the handler.
func NewFileHandler(files signedOpener) *FileHandler {
	return &FileHandler{files: files}
}

// Download godoc
// @Summary Download through a signed link
// @Tags Files
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /files/download [get]
func (h *FileHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	key, rc, err := h.files.OpenSigned(c.Request.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidKey):
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired link"))
		case errors.Is(err, storage.ErrObjectNotFound):
			response.Error(c, appErrors.ErrNotFound)
		case errors.Is(err, storage.ErrUnsupported):
			response.Error(c, appErrors.Clone(appErrors.ErrStorageUnavailable, "signed downloads are disabled"))
		default:
			response.Error(c, appErrors.WrapAs(appErrors.ErrStorageUnavailable, err, "failed to open file"))
		}
		return
	}
	defer rc.Close()

	response.Attachment(c, path.Base(key), "", -1, rc)
}
