package repository

import (
	"context"
	"fmt"

	"github.com/bsg-jongho/smartclm-eval/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenUsageRepository persists per-call model usage accounting
type TokenUsageRepository struct {
	db *pgxpool.Pool
}

// NewTokenUsageRepository creates a new token usage repository
func NewTokenUsageRepository(db *pgxpool.Pool) *TokenUsageRepository {
	return &TokenUsageRepository{db: db}
}

// Record inserts one usage row
func (r *TokenUsageRepository) Record(ctx context.Context, usage *models.TokenUsage) error {
	query := `
		INSERT INTO token_usage (
			id, operation_type, model_name, document_id,
			input_tokens, output_tokens, total_tokens,
			processing_time_ms, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		usage.ID,
		usage.OperationType,
		usage.ModelName,
		usage.DocumentID,
		usage.InputTokens,
		usage.OutputTokens,
		usage.TotalTokens,
		usage.ProcessingTimeMS,
		usage.Status,
		usage.ErrorMessage,
	).Scan(&usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record token usage: %w", err)
	}

	return nil
}

// Totals sums token usage across all recorded calls
func (r *TokenUsageRepository) Totals(ctx context.Context) (*models.TokenCounts, error) {
	query := `
		SELECT
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM token_usage`

	var totals models.TokenCounts
	err := r.db.QueryRow(ctx, query).Scan(
		&totals.InputTokens,
		&totals.OutputTokens,
		&totals.TotalTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sum token usage: %w", err)
	}

	return &totals, nil
}
