package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bsg-jongho/smartclm-eval/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocumentStore struct {
	created  []*models.Document
	statuses map[uuid.UUID]models.ProcessingStatus
	deleted  []uuid.UUID
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{statuses: map[uuid.UUID]models.ProcessingStatus{}}
}

func (f *fakeDocumentStore) Create(ctx context.Context, doc *models.Document) error {
	f.created = append(f.created, doc)
	return nil
}

func (f *fakeDocumentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	for _, d := range f.created {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, errors.New("document not found")
}

func (f *fakeDocumentStore) ListGlobal(ctx context.Context, docType string) ([]models.Document, error) {
	return nil, nil
}

func (f *fakeDocumentStore) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]models.Document, error) {
	return nil, nil
}

func (f *fakeDocumentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeDocumentStore) UpdateStoragePath(ctx context.Context, id uuid.UUID, storagePath string) error {
	return nil
}

func (f *fakeDocumentStore) SoftDelete(ctx context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeChunkWriter struct {
	stored    []models.Chunk
	createErr error
	deleted   []uuid.UUID
}

func (f *fakeChunkWriter) CreateBatch(ctx context.Context, chunks []models.Chunk) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.stored = append(f.stored, chunks...)
	return nil
}

func (f *fakeChunkWriter) GetByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	return f.stored, nil
}

func (f *fakeChunkWriter) SoftDeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

type passthroughEmbedder struct{}

func (passthroughEmbedder) EmbedChunks(ctx context.Context, chunks []models.Chunk) []models.Chunk {
	return chunks
}

func newTestDocumentService(docs *fakeDocumentStore, chunks *fakeChunkWriter) *DocumentService {
	return NewDocumentService(
		DocumentWithDocumentRepository(docs),
		DocumentWithChunkRepository(chunks),
		DocumentWithChunker(NewChunkingService()),
		DocumentWithEmbedder(passthroughEmbedder{}),
	)
}

func TestIngestStoresDocumentAndChunks(t *testing.T) {
	docs := newFakeDocumentStore()
	chunks := &fakeChunkWriter{}
	s := newTestDocumentService(docs, chunks)

	doc, err := s.Ingest(context.Background(), IngestRequest{
		Filename: "용역계약서",
		DocType:  string(models.DocTypeContract),
		Content:  "제1조 (목적)\n이 계약은 용역의 범위와 대가를 정한다. 양 당사자는 신의성실 원칙에 따른다.\n",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ProcessingStatusCompleted, doc.ProcessingStatus)
	require.NotEmpty(t, chunks.stored)
	for _, c := range chunks.stored {
		assert.Equal(t, doc.ID, c.DocumentID)
	}
}

func TestIngestRejectsEmptyContent(t *testing.T) {
	s := newTestDocumentService(newFakeDocumentStore(), &fakeChunkWriter{})
	_, err := s.Ingest(context.Background(), IngestRequest{
		Filename: "empty",
		DocType:  string(models.DocTypeContract),
		Content:  "  \n ",
	})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestIngestRejectsUnknownDocType(t *testing.T) {
	s := newTestDocumentService(newFakeDocumentStore(), &fakeChunkWriter{})
	_, err := s.Ingest(context.Background(), IngestRequest{
		Filename: "x",
		DocType:  "novel",
		Content:  "some content",
	})
	assert.ErrorIs(t, err, ErrInvalidDocType)
}

func TestIngestSurvivesZeroChunks(t *testing.T) {
	docs := newFakeDocumentStore()
	chunks := &fakeChunkWriter{}
	s := newTestDocumentService(docs, chunks)

	// Too short for the paragraph fallback, so segmentation yields nothing
	doc, err := s.Ingest(context.Background(), IngestRequest{
		Filename: "tiny",
		DocType:  string(models.DocTypeContract),
		Content:  "짧은 메모",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ProcessingStatusCompleted, doc.ProcessingStatus)
	assert.Empty(t, chunks.stored)
}

func TestIngestChunkStoreFailureDegrades(t *testing.T) {
	docs := newFakeDocumentStore()
	chunks := &fakeChunkWriter{createErr: errors.New("deadlock detected")}
	s := newTestDocumentService(docs, chunks)

	doc, err := s.Ingest(context.Background(), IngestRequest{
		Filename: "계약서",
		DocType:  string(models.DocTypeContract),
		Content:  "제1조 (목적)\n" + strings.Repeat("이 계약의 목적 조항. ", 10),
	})
	require.NoError(t, err)

	// The document row survives, only its status records the failure
	require.Len(t, docs.created, 1)
	assert.Equal(t, models.ProcessingStatusFailed, doc.ProcessingStatus)
}

func TestDeleteCascadesToChunks(t *testing.T) {
	docs := newFakeDocumentStore()
	chunks := &fakeChunkWriter{}
	s := newTestDocumentService(docs, chunks)

	doc, err := s.Ingest(context.Background(), IngestRequest{
		Filename: "계약서",
		DocType:  string(models.DocTypeContract),
		Content:  "제1조 (목적)\n이 계약은 용역의 범위를 정한다. 세부 사항은 별첨에 따른다.\n",
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), doc.ID))
	assert.Equal(t, []uuid.UUID{doc.ID}, chunks.deleted)
	assert.Equal(t, []uuid.UUID{doc.ID}, docs.deleted)
}
