package models

import "time"

// DocumentState tracks a document through its lifecycle.
type DocumentState string

const (
	DocumentStateCreating    DocumentState = "CREATING"
	DocumentStateActive      DocumentState = "ACTIVE"
	DocumentStateSoftDeleted DocumentState = "SOFT_DELETED"
	DocumentStatePurged      DocumentState = "PURGED"
)

// Document is the durable record of a stored file.
type Document struct {
	ID                   string        `db:"id" json:"id"`
	TeamID               string        `db:"team_id" json:"team_id"`
	FolderID             *string       `db:"folder_id" json:"folder_id,omitempty"`
	Name                 string        `db:"name" json:"name"`
	Filename             string        `db:"filename" json:"filename"`
	OriginalFilename     string        `db:"original_filename" json:"original_filename"`
	MimeType             string        `db:"mime_type" json:"mime_type"`
	SizeBytes            int64         `db:"size_bytes" json:"size_bytes"`
	StorageKey           string        `db:"storage_key" json:"storage_key"`
	StorageDisk          string        `db:"storage_disk" json:"storage_disk"`
	CurrentVersionNumber int           `db:"current_version_number" json:"current_version_number"`
	CreatorID            string        `db:"creator_id" json:"creator_id"`
	UpdaterID            *string       `db:"updater_id" json:"updater_id,omitempty"`
	RetentionTagID       *string       `db:"retention_tag_id" json:"retention_tag_id,omitempty"`
	RetentionExpiresAt   *time.Time    `db:"retention_expires_at" json:"retention_expires_at,omitempty"`
	State                DocumentState `db:"state" json:"state"`
	DeletedAt            *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt            time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updated_at"`
}

// RetentionActive reports whether the document is under retention at now.
func (d *Document) RetentionActive(now time.Time) bool {
	return d.RetentionExpiresAt != nil && now.Before(*d.RetentionExpiresAt)
}

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	TeamID         string
	FolderID       *string
	Search         string
	IncludeDeleted bool
	Page           int
	PageSize       int
}

// DocumentVersion is an immutable snapshot of a document's content.
type DocumentVersion struct {
	ID            string    `db:"id" json:"id"`
	DocumentID    string    `db:"document_id" json:"document_id"`
	VersionNumber int       `db:"version_number" json:"version_number"`
	StorageKey    string    `db:"storage_key" json:"storage_key"`
	SizeBytes     int64     `db:"size_bytes" json:"size_bytes"`
	MimeType      string    `db:"mime_type" json:"mime_type"`
	Filename      string    `db:"filename" json:"filename"`
	Checksum      string    `db:"checksum" json:"checksum"`
	CreatedBy     string    `db:"created_by" json:"created_by"`
	ChangeSummary *string   `db:"change_summary" json:"change_summary,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// RetentionTag defines how long tagged documents are protected from purge.
type RetentionTag struct {
	ID                  string    `db:"id" json:"id"`
	TeamID              string    `db:"team_id" json:"team_id"`
	Name                string    `db:"name" json:"name"`
	Color               string    `db:"color" json:"color"`
	RetentionPeriodDays int       `db:"retention_period_days" json:"retention_period_days"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// ExpiresFrom returns the retention expiry for an assignment made at t.
func (r *RetentionTag) ExpiresFrom(t time.Time) time.Time {
	return t.AddDate(0, 0, r.RetentionPeriodDays)
}
