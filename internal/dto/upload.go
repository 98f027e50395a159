package dto

import "time"

// InitiateUploadRequest opens a chunked upload session.
type InitiateUploadRequest struct {
	Filename    string `json:"filename" validate:"required,max=255"`
	TotalChunks int    `json:"total_chunks" validate:"required,min=1"`
	TotalSize   int64  `json:"total_size" validate:"required,min=1"`
	TeamID      string `json:"team_id" validate:"required"`
	MimeType    string `json:"mime_type" validate:"omitempty,max=255"`
}

// InitiateUploadResponse returns the session handle and the chunk size clients must honour.
type InitiateUploadResponse struct {
	UploadID  string    `json:"upload_id"`
	ChunkSize int64     `json:"chunk_size"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChunkUploadRequest carries the form fields of a chunk upload.
type ChunkUploadRequest struct {
	UploadID    string `form:"upload_id" binding:"required"`
	ChunkNumber *int   `form:"chunk_number" binding:"required"`
}

// ChunkUploadResponse reports progress after a chunk is stored.
type ChunkUploadResponse struct {
	UploadedChunks int  `json:"uploaded_chunks"`
	TotalChunks    int  `json:"total_chunks"`
	Complete       bool `json:"complete"`
}

// CompleteUploadRequest assembles a session. FinalPath is optional.
type CompleteUploadRequest struct {
	UploadID  string `json:"upload_id" binding:"required"`
	FinalPath string `json:"final_path"`
}

// CancelUploadRequest abandons a session.
type CancelUploadRequest struct {
	UploadID string `json:"upload_id" binding:"required"`
}

// CancelUploadResponse reports whether a live session was removed.
type CancelUploadResponse struct {
	Cancelled bool `json:"cancelled"`
}
