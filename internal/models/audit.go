package models

import (
	"encoding/json"
	"time"
)

// AuditAction constants represent actions to be logged.
const (
	AuditActionDocumentCreate     = "DOCUMENT_CREATE"
	AuditActionDocumentUpdate     = "DOCUMENT_UPDATE"
	AuditActionDocumentDelete     = "DOCUMENT_DELETE"
	AuditActionDocumentPurge      = "DOCUMENT_PURGE"
	AuditActionDocumentRestore    = "DOCUMENT_RESTORE"
	AuditActionVersionRestore     = "VERSION_RESTORE"
	AuditActionRetentionTagCreate = "RETENTION_TAG_CREATE"
	AuditResourceDocument         = "document"
	AuditResourceRetentionTag     = "retention_tag"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string          `db:"id" json:"id"`
	UserID     *string         `db:"user_id" json:"user_id,omitempty"`
	TeamID     *string         `db:"team_id" json:"team_id,omitempty"`
	Action     string          `db:"action" json:"action"`
	Resource   string          `db:"resource" json:"resource"`
	ResourceID *string         `db:"resource_id" json:"resource_id,omitempty"`
	Metadata   json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	IPAddress  string          `db:"ip_address" json:"ip_address"`
	UserAgent  string          `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
