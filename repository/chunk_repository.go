package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bsg-jongho/smartclm-eval/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EmbeddingDimensions is the expected size of every stored vector
const EmbeddingDimensions = 1024

// ErrChunkNotFound is returned when a chunk lookup matches nothing
var ErrChunkNotFound = errors.New("chunk not found")

// ChunkRepository handles database operations for document chunks
type ChunkRepository struct {
	db *pgxpool.Pool
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// formatVector formats an embedding vector as a string for pgx
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	var parts []string
	for _, v := range embedding {
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// CreateBatch inserts all chunks of a document in a single transaction.
// Chunks without a vector are stored with a NULL embedding.
func (r *ChunkRepository) CreateBatch(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO chunks (
			id, document_id, ordinal, kind, parent_ref,
			header_1, header_2, header_3, header_4,
			content, is_embedding_target, embedding,
			word_count, char_count, auto_tags, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::vector, $13, $14, $15, $16)`

	for i := range chunks {
		c := &chunks[i]
		var vector interface{}
		if len(c.Embedding) > 0 {
			if len(c.Embedding) != EmbeddingDimensions {
				return fmt.Errorf("chunk %d: embedding must be %d dimensions, got %d", c.Ordinal, EmbeddingDimensions, len(c.Embedding))
			}
			vector = formatVector(c.Embedding)
		}

		_, err := tx.Exec(ctx, query,
			c.ID, c.DocumentID, c.Ordinal, c.Kind, c.ParentRef,
			c.Header1, c.Header2, c.Header3, c.Header4,
			c.Content, c.IsEmbeddingTarget, vector,
			c.WordCount, c.CharCount, c.AutoTags, c.Metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.Ordinal, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	return nil
}

const chunkColumns = `
	id, document_id, ordinal, kind, parent_ref,
	header_1, header_2, header_3, header_4,
	content, is_embedding_target, word_count, char_count,
	auto_tags, metadata, created_at`

func scanChunk(row pgx.Row) (*models.Chunk, error) {
	var c models.Chunk
	err := row.Scan(
		&c.ID, &c.DocumentID, &c.Ordinal, &c.Kind, &c.ParentRef,
		&c.Header1, &c.Header2, &c.Header3, &c.Header4,
		&c.Content, &c.IsEmbeddingTarget, &c.WordCount, &c.CharCount,
		&c.AutoTags, &c.Metadata, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByDocument returns every chunk of a document in document order
func (r *ChunkRepository) GetByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM chunks
		WHERE document_id = $1 AND deleted_at IS NULL
		ORDER BY ordinal`, chunkColumns)

	return r.queryChunks(ctx, query, documentID)
}

// GetParentsByDocument returns the parent chunks of a document in document
// order, which mirrors the clause order of the original text.
func (r *ChunkRepository) GetParentsByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM chunks
		WHERE document_id = $1 AND kind = 'parent' AND deleted_at IS NULL
		ORDER BY ordinal`, chunkColumns)

	return r.queryChunks(ctx, query, documentID)
}

// GetParentByRef fetches the parent chunk carrying the given parent_ref
func (r *ChunkRepository) GetParentByRef(ctx context.Context, parentRef string) (*models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM chunks
		WHERE parent_ref = $1 AND kind = 'parent' AND deleted_at IS NULL`, chunkColumns)

	chunk, err := scanChunk(r.db.QueryRow(ctx, query, parentRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChunkNotFound
		}
		return nil, fmt.Errorf("failed to get parent chunk: %w", err)
	}

	return chunk, nil
}

func (r *ChunkRepository) queryChunks(ctx context.Context, query string, args ...interface{}) ([]models.Chunk, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, *chunk)
	}

	return chunks, rows.Err()
}

// SearchGlobal performs a cosine similarity search over the shared system
// corpus (documents with no workspace), optionally restricted to doc types.
func (r *ChunkRepository) SearchGlobal(ctx context.Context, embedding []float64, docTypes []string, topK int) ([]models.SearchHit, error) {
	return r.search(ctx, embedding, nil, docTypes, topK)
}

// SearchWorkspace performs a cosine similarity search over a workspace's
// own documents.
func (r *ChunkRepository) SearchWorkspace(ctx context.Context, embedding []float64, workspaceID uuid.UUID, docTypes []string, topK int) ([]models.SearchHit, error) {
	return r.search(ctx, embedding, &workspaceID, docTypes, topK)
}

func (r *ChunkRepository) search(ctx context.Context, embedding []float64, workspaceID *uuid.UUID, docTypes []string, topK int) ([]models.SearchHit, error) {
	if len(embedding) != EmbeddingDimensions {
		return nil, fmt.Errorf("embedding must be %d dimensions, got %d", EmbeddingDimensions, len(embedding))
	}

	vectorStr := formatVector(embedding)

	scopeFilter := "d.workspace_id IS NULL"
	args := []interface{}{vectorStr}
	if workspaceID != nil {
		scopeFilter = "d.workspace_id = $2"
		args = append(args, *workspaceID)
	}

	typeFilter := ""
	if len(docTypes) > 0 {
		args = append(args, docTypes)
		typeFilter = fmt.Sprintf("AND d.doc_type = ANY($%d)", len(args))
	}

	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT
			c.id, c.document_id, d.filename, d.doc_type, d.category,
			c.kind, c.parent_ref, c.ordinal, c.header_1, c.content,
			1 - (c.embedding <=> $1::vector) AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE %s
			%s
			AND c.embedding IS NOT NULL
			AND c.deleted_at IS NULL
			AND d.deleted_at IS NULL
		ORDER BY c.embedding <=> $1::vector
		LIMIT $%d`, scopeFilter, typeFilter, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	sourceType := models.SourceTypeSystem
	if workspaceID != nil {
		sourceType = models.SourceTypeWorkspace
	}

	var hits []models.SearchHit
	for rows.Next() {
		var hit models.SearchHit
		err := rows.Scan(
			&hit.ChunkID, &hit.DocumentID, &hit.Filename, &hit.DocType, &hit.Category,
			&hit.Kind, &hit.ParentRef, &hit.Ordinal, &hit.Header1, &hit.Content,
			&hit.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hit.SourceType = sourceType
		hits = append(hits, hit)
	}

	return hits, rows.Err()
}

// SearchDocumentParents searches embedded chunks of a single document and
// returns the closest parents, excluding the anchor parent itself. Child
// hits are collapsed onto their parent ref so each parent appears once.
func (r *ChunkRepository) SearchDocumentParents(ctx context.Context, embedding []float64, documentID uuid.UUID, excludeRef string, topK int) ([]models.SearchHit, error) {
	if len(embedding) != EmbeddingDimensions {
		return nil, fmt.Errorf("embedding must be %d dimensions, got %d", EmbeddingDimensions, len(embedding))
	}

	vectorStr := formatVector(embedding)

	query := `
		SELECT DISTINCT ON (c.parent_ref)
			p.id, p.document_id, d.filename, d.doc_type, d.category,
			p.kind, p.parent_ref, p.ordinal, p.header_1, p.content,
			1 - (c.embedding <=> $1::vector) AS similarity
		FROM chunks c
		JOIN chunks p ON p.parent_ref = c.parent_ref AND p.kind = 'parent'
		JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = $2
			AND c.parent_ref != $3
			AND c.embedding IS NOT NULL
			AND c.deleted_at IS NULL
			AND p.deleted_at IS NULL
		ORDER BY c.parent_ref, c.embedding <=> $1::vector`

	rows, err := r.db.Query(ctx, query, vectorStr, documentID, excludeRef)
	if err != nil {
		return nil, fmt.Errorf("failed to search document parents: %w", err)
	}
	defer rows.Close()

	var hits []models.SearchHit
	for rows.Next() {
		var hit models.SearchHit
		err := rows.Scan(
			&hit.ChunkID, &hit.DocumentID, &hit.Filename, &hit.DocType, &hit.Category,
			&hit.Kind, &hit.ParentRef, &hit.Ordinal, &hit.Header1, &hit.Content,
			&hit.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hit.SourceType = models.SourceTypeWorkspace
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DISTINCT ON loses the global similarity order, restore it
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	return hits, nil
}

// SoftDeleteByDocument marks every chunk of a document as deleted
func (r *ChunkRepository) SoftDeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	query := `
		UPDATE chunks
		SET deleted_at = NOW()
		WHERE document_id = $1 AND deleted_at IS NULL`

	_, err := r.db.Exec(ctx, query, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	return nil
}
