package models

import (
	"time"

	"github.com/google/uuid"
)

// ChunkKind distinguishes parent sections from their fixed-size children
type ChunkKind string

const (
	ChunkKindParent ChunkKind = "parent"
	ChunkKindChild  ChunkKind = "child"
)

// Chunk is one segmented piece of a document. Every chunk carries a
// ParentRef of the form "<documentID>_parent_<n>"; children share the ref
// of the parent they were split from, so a child hit can always be widened
// back to its full clause without a join.
type Chunk struct {
	ID                uuid.UUID              `json:"id"`
	DocumentID        uuid.UUID              `json:"document_id"`
	Ordinal           int                    `json:"ordinal"`
	Kind              ChunkKind              `json:"kind"`
	ParentRef         string                 `json:"parent_ref"`
	Header1           string                 `json:"header_1,omitempty"`
	Header2           string                 `json:"header_2,omitempty"`
	Header3           string                 `json:"header_3,omitempty"`
	Header4           string                 `json:"header_4,omitempty"`
	Content           string                 `json:"content"`
	IsEmbeddingTarget bool                   `json:"is_embedding_target"`
	Embedding         []float64              `json:"-"`
	WordCount         int                    `json:"word_count"`
	CharCount         int                    `json:"char_count"`
	AutoTags          []string               `json:"auto_tags,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	DeletedAt         *time.Time             `json:"-"`
}

// Title returns the most specific non-empty header of the chunk
func (c *Chunk) Title() string {
	for _, h := range []string{c.Header4, c.Header3, c.Header2, c.Header1} {
		if h != "" {
			return h
		}
	}
	return ""
}
