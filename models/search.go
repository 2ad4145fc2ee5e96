package models

import (
	"github.com/google/uuid"
)

// SourceType indicates which corpus a search hit came from
type SourceType string

const (
	SourceTypeSystem    SourceType = "system"
	SourceTypeWorkspace SourceType = "workspace"
)

// SearchHit is one scored result from a vector search
type SearchHit struct {
	ChunkID       uuid.UUID  `json:"chunk_id"`
	DocumentID    uuid.UUID  `json:"document_id"`
	Filename      string     `json:"filename"`
	DocType       DocType    `json:"doc_type"`
	Category      *string    `json:"category,omitempty"`
	Kind          ChunkKind  `json:"kind"`
	ParentRef     string     `json:"parent_ref"`
	Ordinal       int        `json:"ordinal"`
	Header1       string     `json:"header_1,omitempty"`
	Content       string     `json:"content"`
	Similarity    float64    `json:"similarity"`
	WeightedScore float64    `json:"weighted_score"`
	SourceType    SourceType `json:"source_type"`
}
