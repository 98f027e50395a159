package dto

import (
	"time"

	"github.com/noah-isme/docvault-api/internal/models"
)

// CreateDocumentRequest contains document metadata. Content arrives either as a
// multipart file or as UploadPath pointing at an assembled chunked upload.
type CreateDocumentRequest struct {
	TeamID         string  `form:"team_id" json:"team_id" validate:"required"`
	FolderID       *string `form:"folder_id" json:"folder_id"`
	Name           string  `form:"name" json:"name" validate:"required,max=255"`
	Filename       string  `form:"filename" json:"filename" validate:"omitempty,max=255"`
	MimeType       string  `form:"mime_type" json:"mime_type" validate:"omitempty,max=255"`
	RetentionTagID *string `form:"retention_tag_id" json:"retention_tag_id"`
	UploadPath     string  `form:"upload_path" json:"upload_path"`
	StorageDisk    string  `form:"storage_disk" json:"storage_disk" validate:"omitempty,oneof=local s3"`
	ChangeSummary  *string `form:"change_summary" json:"change_summary"`
}

// UpdateDocumentRequest changes attributes and optionally replaces content.
type UpdateDocumentRequest struct {
	Name           *string `form:"name" json:"name" validate:"omitempty,min=1,max=255"`
	FolderID       *string `form:"folder_id" json:"folder_id"`
	RetentionTagID *string `form:"retention_tag_id" json:"retention_tag_id"`
	Filename       string  `form:"filename" json:"filename" validate:"omitempty,max=255"`
	MimeType       string  `form:"mime_type" json:"mime_type" validate:"omitempty,max=255"`
	UploadPath     string  `form:"upload_path" json:"upload_path"`
	ChangeSummary  *string `form:"change_summary" json:"change_summary"`
}

// DocumentListQuery captures list query parameters.
type DocumentListQuery struct {
	TeamID         string  `form:"team_id"`
	FolderID       *string `form:"folder_id"`
	Search         string  `form:"search"`
	IncludeDeleted bool    `form:"include_deleted"`
	Page           int     `form:"page"`
	PageSize       int     `form:"page_size"`
}

// DownloadURLResponse carries a temporary link to the current content.
type DownloadURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DocumentResponse enriches a document with its version history.
type DocumentResponse struct {
	models.Document
	Versions []models.DocumentVersion `json:"versions,omitempty"`
}

// CreateRetentionTagRequest defines a team retention policy.
type CreateRetentionTagRequest struct {
	TeamID              string `json:"team_id" validate:"required"`
	Name                string `json:"name" validate:"required,max=100"`
	Color               string `json:"color" validate:"omitempty,max=32"`
	RetentionPeriodDays int    `json:"retention_period_days" validate:"min=0,max=36500"`
}
