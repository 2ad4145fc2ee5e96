package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bsg-jongho/smartclm-eval/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDocumentNotFound is returned when a document does not exist or is deleted
var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository handles database operations for documents
type DocumentRepository struct {
	db *pgxpool.Pool
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document row
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (
			id, workspace_id, doc_type, category, filename, content,
			page_count, processing_status, storage_path, auto_tags, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		doc.ID,
		doc.WorkspaceID,
		doc.DocType,
		doc.Category,
		doc.Filename,
		doc.Content,
		doc.PageCount,
		doc.ProcessingStatus,
		doc.StoragePath,
		doc.AutoTags,
		doc.Metadata,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// GetByID fetches a document by its ID, excluding soft-deleted rows
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	query := `
		SELECT id, workspace_id, doc_type, category, filename, content,
		       page_count, processing_status, storage_path, auto_tags, metadata,
		       created_at, updated_at
		FROM documents
		WHERE id = $1 AND deleted_at IS NULL`

	var doc models.Document
	err := r.db.QueryRow(ctx, query, id).Scan(
		&doc.ID,
		&doc.WorkspaceID,
		&doc.DocType,
		&doc.Category,
		&doc.Filename,
		&doc.Content,
		&doc.PageCount,
		&doc.ProcessingStatus,
		&doc.StoragePath,
		&doc.AutoTags,
		&doc.Metadata,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// ListGlobal returns system corpus documents (workspace_id IS NULL),
// optionally filtered by doc type. Content is omitted to keep listings light.
func (r *DocumentRepository) ListGlobal(ctx context.Context, docType string) ([]models.Document, error) {
	query := `
		SELECT id, workspace_id, doc_type, category, filename,
		       page_count, processing_status, storage_path, auto_tags,
		       created_at, updated_at
		FROM documents
		WHERE workspace_id IS NULL AND deleted_at IS NULL`
	args := []interface{}{}
	if docType != "" {
		query += " AND doc_type = $1"
		args = append(args, docType)
	}
	query += " ORDER BY created_at DESC"

	return r.listDocuments(ctx, query, args...)
}

// ListByWorkspace returns documents scoped to a single workspace
func (r *DocumentRepository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]models.Document, error) {
	query := `
		SELECT id, workspace_id, doc_type, category, filename,
		       page_count, processing_status, storage_path, auto_tags,
		       created_at, updated_at
		FROM documents
		WHERE workspace_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC`

	return r.listDocuments(ctx, query, workspaceID)
}

func (r *DocumentRepository) listDocuments(ctx context.Context, query string, args ...interface{}) ([]models.Document, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		err := rows.Scan(
			&doc.ID,
			&doc.WorkspaceID,
			&doc.DocType,
			&doc.Category,
			&doc.Filename,
			&doc.PageCount,
			&doc.ProcessingStatus,
			&doc.StoragePath,
			&doc.AutoTags,
			&doc.CreatedAt,
			&doc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// UpdateStatus sets the processing status of a document
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus) error {
	query := `
		UPDATE documents
		SET processing_status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}

	return nil
}

// UpdateStoragePath records where the raw document artifact was archived
func (r *DocumentRepository) UpdateStoragePath(ctx context.Context, id uuid.UUID, storagePath string) error {
	query := `
		UPDATE documents
		SET storage_path = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	_, err := r.db.Exec(ctx, query, id, storagePath)
	if err != nil {
		return fmt.Errorf("failed to update storage path: %w", err)
	}

	return nil
}

// SoftDelete marks a document as deleted without removing the row
func (r *DocumentRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE documents
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}

	return nil
}
