package models

import (
	"time"

	"github.com/google/uuid"
)

// DocType classifies what corpus a document belongs to
type DocType string

const (
	DocTypeContract         DocType = "contract"
	DocTypeStandardContract DocType = "standard_contract"
	DocTypeExecutedContract DocType = "executed_contract"
	DocTypeLaw              DocType = "law"
	DocTypeGuideline        DocType = "guideline"
)

// ValidDocTypes lists every accepted doc_type value
var ValidDocTypes = []DocType{
	DocTypeContract,
	DocTypeStandardContract,
	DocTypeExecutedContract,
	DocTypeLaw,
	DocTypeGuideline,
}

// IsValidDocType checks whether the given string is an accepted doc_type
func IsValidDocType(s string) bool {
	for _, t := range ValidDocTypes {
		if string(t) == s {
			return true
		}
	}
	return false
}

// ProcessingStatus represents the ingestion state of a document
type ProcessingStatus string

const (
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// Document represents an ingested legal document. A nil WorkspaceID marks
// the document as part of the shared system corpus (laws, standard
// contracts); a non-nil WorkspaceID scopes it to a single workspace.
type Document struct {
	ID               uuid.UUID              `json:"id"`
	WorkspaceID      *uuid.UUID             `json:"workspace_id,omitempty"`
	DocType          DocType                `json:"doc_type"`
	Category         *string                `json:"category,omitempty"`
	Filename         string                 `json:"filename"`
	Content          string                 `json:"content,omitempty"`
	PageCount        *int                   `json:"page_count,omitempty"`
	ProcessingStatus ProcessingStatus       `json:"processing_status"`
	StoragePath      *string                `json:"storage_path,omitempty"`
	AutoTags         []string               `json:"auto_tags,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	DeletedAt        *time.Time             `json:"-"`
}
