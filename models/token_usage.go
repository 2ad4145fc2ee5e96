package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenUsage is one persisted accounting row for a single model call
type TokenUsage struct {
	ID               uuid.UUID  `json:"id"`
	OperationType    string     `json:"operation_type"` // "risk_scan", "verdict_detail", "embedding"
	ModelName        string     `json:"model_name"`
	DocumentID       *uuid.UUID `json:"document_id,omitempty"`
	InputTokens      int        `json:"input_tokens"`
	OutputTokens     int        `json:"output_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
	Status           string     `json:"status"` // "success" or "failed"
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
