package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisState tracks progress through the three-stage risk analysis chain
type AnalysisState string

const (
	AnalysisStateScanning          AnalysisState = "SCANNING"
	AnalysisStateEvidenceGathering AnalysisState = "EVIDENCE_GATHERING"
	AnalysisStateDetailing         AnalysisState = "DETAILING"
	AnalysisStateDone              AnalysisState = "DONE"
	AnalysisStateFailed            AnalysisState = "FAILED"
)

// RiskCandidate is one suspected violation produced by the scan stage
type RiskCandidate struct {
	ClauseNumber string `json:"clause_number"`
	ClauseTitle  string `json:"clause_title"`
	RiskType     string `json:"risk_type"`
	RiskLevel    string `json:"risk_level"`
	BriefReason  string `json:"brief_reason"`

	// Resolved during the scan stage, filled during evidence gathering
	ClauseOrdinal int               `json:"-"`
	ClauseText    string            `json:"-"`
	Evidence      []EvidenceExcerpt `json:"-"`
}

// ScanResult is the strict JSON shape the scan stage expects from the model
type ScanResult struct {
	ViolationsFound bool            `json:"violations_found"`
	TotalViolations int             `json:"total_violations"`
	Violations      []RiskCandidate `json:"violations"`
}

// EvidenceExcerpt is one statutory passage retrieved for a candidate
type EvidenceExcerpt struct {
	Filename   string  `json:"filename"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// FinalVerdict is the detailed judgement for one confirmed violation
type FinalVerdict struct {
	ClauseLocation string   `json:"clause_location"`
	RiskType       string   `json:"risk_type"`
	RiskLevel      string   `json:"risk_level"`
	Justification  string   `json:"justification"`
	Recommendation string   `json:"recommendation"`
	CitedLaws      []string `json:"cited_laws"`
	Fallback       bool     `json:"fallback,omitempty"`
}

// StageTimings reports per-stage wall clock durations in milliseconds
type StageTimings struct {
	ScanMS     int64 `json:"scan_ms"`
	EvidenceMS int64 `json:"evidence_ms"`
	DetailMS   int64 `json:"detail_ms"`
	TotalMS    int64 `json:"total_ms"`
}

// TokenCounts accumulates model token usage across calls
type TokenCounts struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add folds another usage sample into the running totals
func (t *TokenCounts) Add(other TokenCounts) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.TotalTokens += other.TotalTokens
}

// AnalysisSummary holds headline numbers for a finished run
type AnalysisSummary struct {
	CandidatesIdentified int `json:"candidates_identified"`
	TotalViolations      int `json:"total_violations"`
	EvidenceHits         int `json:"evidence_hits"`
}

// AnalysisReport is the full output of one contract risk analysis run
type AnalysisReport struct {
	RunID        uuid.UUID       `json:"run_id"`
	DocumentID   uuid.UUID       `json:"document_id"`
	DocumentName string          `json:"document_name"`
	State        AnalysisState   `json:"state"`
	AnalyzedAt   time.Time       `json:"analyzed_at"`
	Violations   []FinalVerdict  `json:"violations"`
	Summary      AnalysisSummary `json:"summary"`
	Timings      StageTimings    `json:"timings"`
	TokenUsage   TokenCounts     `json:"token_usage"`
}
