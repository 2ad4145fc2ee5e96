package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/bsg-jongho/smartclm-eval/models"
	"github.com/bsg-jongho/smartclm-eval/storage"

	"github.com/google/uuid"
)

var (
	// ErrEmptyDocument is returned when ingestion receives no text
	ErrEmptyDocument = errors.New("document content is empty")
	// ErrInvalidDocType is returned for an unknown doc_type value
	ErrInvalidDocType = errors.New("invalid doc_type")
)

// DocumentStore is the document persistence surface ingestion depends on
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	ListGlobal(ctx context.Context, docType string) ([]models.Document, error)
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]models.Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus) error
	UpdateStoragePath(ctx context.Context, id uuid.UUID, storagePath string) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// ChunkWriter is the chunk persistence surface ingestion depends on
type ChunkWriter interface {
	CreateBatch(ctx context.Context, chunks []models.Chunk) error
	GetByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error)
	SoftDeleteByDocument(ctx context.Context, documentID uuid.UUID) error
}

// ChunkEmbedder fills vectors into embedding-target chunks
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []models.Chunk) []models.Chunk
}

// DocumentService orchestrates ingestion: persist the document, archive
// the raw markdown, segment it into chunks, embed the targets and store
// the result.
type DocumentService struct {
	documents DocumentStore
	chunks    ChunkWriter
	chunker   *ChunkingService
	embedder  ChunkEmbedder
	archive   storage.Storage
}

// DocumentOption configures a DocumentService
type DocumentOption func(*DocumentService)

// DocumentWithDocumentRepository sets the document store
func DocumentWithDocumentRepository(documents DocumentStore) DocumentOption {
	return func(s *DocumentService) {
		s.documents = documents
	}
}

// DocumentWithChunkRepository sets the chunk store
func DocumentWithChunkRepository(chunks ChunkWriter) DocumentOption {
	return func(s *DocumentService) {
		s.chunks = chunks
	}
}

// DocumentWithChunker sets the segmentation service
func DocumentWithChunker(chunker *ChunkingService) DocumentOption {
	return func(s *DocumentService) {
		s.chunker = chunker
	}
}

// DocumentWithEmbedder sets the chunk embedder
func DocumentWithEmbedder(embedder ChunkEmbedder) DocumentOption {
	return func(s *DocumentService) {
		s.embedder = embedder
	}
}

// DocumentWithArchive enables raw markdown archiving
func DocumentWithArchive(archive storage.Storage) DocumentOption {
	return func(s *DocumentService) {
		s.archive = archive
	}
}

// NewDocumentService creates a document service
func NewDocumentService(opts ...DocumentOption) *DocumentService {
	s := &DocumentService{
		chunker: NewChunkingService(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// IngestRequest describes one document to ingest
type IngestRequest struct {
	Filename    string
	DocType     string
	Category    *string
	WorkspaceID *uuid.UUID
	Content     string
	AutoTags    []string
	PageCount   *int
}

// Ingest persists and indexes one document. Segmentation and embedding
// failures degrade: the document row survives with whatever chunks could
// be produced.
func (s *DocumentService) Ingest(ctx context.Context, req IngestRequest) (*models.Document, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyDocument
	}
	if !models.IsValidDocType(req.DocType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDocType, req.DocType)
	}

	doc := &models.Document{
		ID:               uuid.New(),
		WorkspaceID:      req.WorkspaceID,
		DocType:          models.DocType(req.DocType),
		Category:         req.Category,
		Filename:         req.Filename,
		Content:          req.Content,
		PageCount:        req.PageCount,
		AutoTags:         req.AutoTags,
		ProcessingStatus: models.ProcessingStatusProcessing,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	if s.archive != nil {
		path, err := s.archive.Upload(ctx, "documents", doc.ID, req.Filename+".md", strings.NewReader(req.Content))
		if err != nil {
			log.Printf("Warning: failed to archive document %s: %v", doc.ID, err)
		} else if err := s.documents.UpdateStoragePath(ctx, doc.ID, path); err != nil {
			log.Printf("Warning: failed to record storage path for document %s: %v", doc.ID, err)
		} else {
			doc.StoragePath = &path
		}
	}

	chunks := s.chunker.SegmentDocument(doc.ID, req.Content)
	if len(chunks) == 0 {
		log.Printf("Warning: document %s produced no chunks, stored without index", doc.ID)
		s.markStatus(ctx, doc, models.ProcessingStatusCompleted)
		return doc, nil
	}

	for i := range chunks {
		chunks[i].AutoTags = req.AutoTags
	}
	chunks = s.embedder.EmbedChunks(ctx, chunks)

	if err := s.chunks.CreateBatch(ctx, chunks); err != nil {
		log.Printf("Warning: failed to store chunks for document %s: %v", doc.ID, err)
		s.markStatus(ctx, doc, models.ProcessingStatusFailed)
		return doc, nil
	}

	s.markStatus(ctx, doc, models.ProcessingStatusCompleted)
	return doc, nil
}

func (s *DocumentService) markStatus(ctx context.Context, doc *models.Document, status models.ProcessingStatus) {
	if err := s.documents.UpdateStatus(ctx, doc.ID, status); err != nil {
		log.Printf("Warning: failed to update status of document %s: %v", doc.ID, err)
		return
	}
	doc.ProcessingStatus = status
}

// Get returns one document by ID
func (s *DocumentService) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return s.documents.GetByID(ctx, id)
}

// GetChunks returns every chunk of a document in document order
func (s *DocumentService) GetChunks(ctx context.Context, id uuid.UUID) ([]models.Chunk, error) {
	return s.chunks.GetByDocument(ctx, id)
}

// List returns system corpus documents or, with a workspace ID, that
// workspace's documents
func (s *DocumentService) List(ctx context.Context, workspaceID *uuid.UUID, docType string) ([]models.Document, error) {
	if workspaceID != nil {
		return s.documents.ListByWorkspace(ctx, *workspaceID)
	}
	return s.documents.ListGlobal(ctx, docType)
}

// Delete soft-deletes a document together with its chunks
func (s *DocumentService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.documents.GetByID(ctx, id); err != nil {
		return err
	}

	if err := s.chunks.SoftDeleteByDocument(ctx, id); err != nil {
		return err
	}

	return s.documents.SoftDelete(ctx, id)
}
