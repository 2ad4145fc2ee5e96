package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bsg-jongho/smartclm-eval/models"
	"github.com/bsg-jongho/smartclm-eval/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocumentReader struct {
	doc *models.Document
	err error
}

func (f *fakeDocumentReader) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return f.doc, f.err
}

type fakeRetriever struct {
	hits    []models.SearchHit
	err     error
	queries []string
}

func (f *fakeRetriever) Search(ctx context.Context, req SearchRequest) ([]models.SearchHit, error) {
	f.queries = append(f.queries, req.Query)
	return f.hits, f.err
}

type fakeLLM struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (f *fakeLLM) Invoke(ctx context.Context, prompt string, maxTokens int, temperature float64) (*LLMResult, error) {
	idx := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	reply := ""
	if idx < len(f.replies) {
		reply = f.replies[idx]
	}
	return &LLMResult{
		Text:  reply,
		Usage: models.TokenCounts{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
	}, nil
}

func (f *fakeLLM) ModelName() string { return "fake-model" }

type fakeUsageRecorder struct {
	rows []*models.TokenUsage
}

func (f *fakeUsageRecorder) Record(ctx context.Context, usage *models.TokenUsage) error {
	f.rows = append(f.rows, usage)
	return nil
}

func contractParents(docID uuid.UUID) []models.Chunk {
	titles := []string{"", "제1조 (목적)", "제2조 (손해배상)", "제3조 (비밀유지)"}
	var parents []models.Chunk
	for i, title := range titles {
		parents = append(parents, models.Chunk{
			ID:         uuid.New(),
			DocumentID: docID,
			Ordinal:    i,
			Kind:       models.ChunkKindParent,
			ParentRef:  fmt.Sprintf("%s_parent_%d", docID, i),
			Header1:    title,
			Content:    fmt.Sprintf("clause body %d", i),
		})
	}
	return parents
}

func newTestAnalysisService(docID uuid.UUID, llm LLMClient, retriever Retriever, usage UsageRecorder) *AnalysisService {
	docs := &fakeDocumentReader{doc: &models.Document{ID: docID, Filename: "용역계약서.md"}}
	chunks := &fakeChunkSearcher{parents: contractParents(docID)}

	opts := []AnalysisOption{
		AnalysisWithDocumentRepository(docs),
		AnalysisWithChunkRepository(chunks),
		AnalysisWithRetriever(retriever),
		AnalysisWithLLMClient(llm),
	}
	if usage != nil {
		opts = append(opts, AnalysisWithUsageRecorder(usage))
	}
	return NewAnalysisService(opts...)
}

const scanReplyOneViolation = "```json\n" + `{
  "violations_found": true,
  "total_violations": 1,
  "violations": [
    {
      "clause_number": "제2조",
      "clause_title": "손해배상",
      "risk_type": "unlimited liability",
      "risk_level": "HIGH",
      "brief_reason": "Liability is uncapped."
    }
  ]
}` + "\n```"

const verdictReply = `{
  "clause_location": "제2조 (손해배상)",
  "risk_type": "unlimited liability",
  "risk_level": "HIGH",
  "justification": "The clause conflicts with the statutory cap.",
  "recommendation": "Cap liability at the contract value.",
  "cited_laws": ["민법"]
}`

func TestAnalyzeContractNoViolationsShortCircuits(t *testing.T) {
	docID := uuid.New()
	llm := &fakeLLM{replies: []string{`{"violations_found": false, "total_violations": 0, "violations": []}`}}
	retriever := &fakeRetriever{}
	s := newTestAnalysisService(docID, llm, retriever, nil)

	report, err := s.AnalyzeContract(context.Background(), docID)
	require.NoError(t, err)

	assert.Equal(t, models.AnalysisStateDone, report.State)
	assert.Empty(t, report.Violations)
	assert.Zero(t, report.Summary.CandidatesIdentified)
	assert.Equal(t, 1, llm.calls)
	assert.Empty(t, retriever.queries)
}

func TestAnalyzeContractFullChain(t *testing.T) {
	docID := uuid.New()
	llm := &fakeLLM{replies: []string{scanReplyOneViolation, verdictReply}}
	retriever := &fakeRetriever{hits: []models.SearchHit{
		{Filename: "민법.md", Content: "손해배상 조문", Similarity: 0.82},
		{Filename: "상법.md", Content: "책임 제한 조문", Similarity: 0.71},
	}}
	usage := &fakeUsageRecorder{}
	s := newTestAnalysisService(docID, llm, retriever, usage)

	report, err := s.AnalyzeContract(context.Background(), docID)
	require.NoError(t, err)

	assert.Equal(t, models.AnalysisStateDone, report.State)
	assert.Equal(t, 1, report.Summary.CandidatesIdentified)
	assert.Equal(t, 1, report.Summary.TotalViolations)
	assert.Equal(t, 2, report.Summary.EvidenceHits)
	require.Len(t, report.Violations, 1)

	verdict := report.Violations[0]
	assert.Equal(t, "제2조 (손해배상)", verdict.ClauseLocation)
	assert.Equal(t, []string{"민법"}, verdict.CitedLaws)
	assert.False(t, verdict.Fallback)

	// One scan call plus one detailing call, both accounted
	assert.Equal(t, 2, llm.calls)
	assert.Equal(t, 300, report.TokenUsage.TotalTokens)
	require.Len(t, usage.rows, 2)
	assert.Equal(t, "risk_scan", usage.rows[0].OperationType)
	assert.Equal(t, "verdict_detail", usage.rows[1].OperationType)

	// The detailing prompt quotes the retrieved evidence
	assert.Contains(t, llm.prompts[1], "민법.md")
	assert.Contains(t, llm.prompts[1], "similarity: 0.820")
}

func TestAnalyzeContractScanFailureDegrades(t *testing.T) {
	docID := uuid.New()
	llm := &fakeLLM{errs: []error{errors.New("model overloaded")}}
	s := newTestAnalysisService(docID, llm, &fakeRetriever{}, nil)

	report, err := s.AnalyzeContract(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStateDone, report.State)
	assert.Empty(t, report.Violations)
}

func TestAnalyzeContractMalformedScanReplyDegrades(t *testing.T) {
	docID := uuid.New()
	llm := &fakeLLM{replies: []string{"I could not find any structured output to give you."}}
	s := newTestAnalysisService(docID, llm, &fakeRetriever{}, nil)

	report, err := s.AnalyzeContract(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStateDone, report.State)
	assert.Empty(t, report.Violations)
}

func TestAnalyzeContractUnresolvableLocatorDropped(t *testing.T) {
	docID := uuid.New()
	scanReply := `{
  "violations_found": true,
  "total_violations": 1,
  "violations": [
    {"clause_number": "제99조", "clause_title": "없는 조항", "risk_type": "x", "risk_level": "LOW", "brief_reason": "y"}
  ]
}`
	llm := &fakeLLM{replies: []string{scanReply}}
	retriever := &fakeRetriever{}
	s := newTestAnalysisService(docID, llm, retriever, nil)

	report, err := s.AnalyzeContract(context.Background(), docID)
	require.NoError(t, err)
	assert.Zero(t, report.Summary.CandidatesIdentified)
	assert.Empty(t, report.Violations)
	assert.Empty(t, retriever.queries)
}

func TestAnalyzeContractEvidenceFailureIsolated(t *testing.T) {
	docID := uuid.New()
	llm := &fakeLLM{replies: []string{scanReplyOneViolation, verdictReply}}
	retriever := &fakeRetriever{err: errors.New("search index offline")}
	s := newTestAnalysisService(docID, llm, retriever, nil)

	report, err := s.AnalyzeContract(context.Background(), docID)
	require.NoError(t, err)

	// The candidate still reaches detailing, just without evidence
	assert.Equal(t, models.AnalysisStateDone, report.State)
	assert.Zero(t, report.Summary.EvidenceHits)
	require.Len(t, report.Violations, 1)
	assert.Contains(t, llm.prompts[1], "no statutory excerpts")
}

func TestAnalyzeContractDetailFailureYieldsFallbackVerdict(t *testing.T) {
	docID := uuid.New()
	llm := &fakeLLM{
		replies: []string{scanReplyOneViolation, ""},
		errs:    []error{nil, errors.New("model overloaded")},
	}
	retriever := &fakeRetriever{hits: []models.SearchHit{
		{Filename: "민법.pdf", Content: "a", Similarity: 0.8},
		{Filename: "상법.pdf", Content: "b", Similarity: 0.7},
		{Filename: "근로기준법.pdf", Content: "c", Similarity: 0.6},
	}}
	s := newTestAnalysisService(docID, llm, retriever, nil)

	report, err := s.AnalyzeContract(context.Background(), docID)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)

	verdict := report.Violations[0]
	assert.True(t, verdict.Fallback)
	assert.Equal(t, "제2조 (손해배상)", verdict.ClauseLocation)
	assert.Equal(t, "unlimited liability", verdict.RiskType)
	assert.Equal(t, "Liability is uncapped.", verdict.Justification)
	assert.Equal(t, []string{"민법", "상법"}, verdict.CitedLaws)
}

func TestAnalyzeContractDocumentNotFound(t *testing.T) {
	docID := uuid.New()
	s := NewAnalysisService(
		AnalysisWithDocumentRepository(&fakeDocumentReader{err: repository.ErrDocumentNotFound}),
		AnalysisWithChunkRepository(&fakeChunkSearcher{}),
		AnalysisWithRetriever(&fakeRetriever{}),
		AnalysisWithLLMClient(&fakeLLM{}),
	)

	_, err := s.AnalyzeContract(context.Background(), docID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestAnalyzeContractStoreOutageIsFatal(t *testing.T) {
	docID := uuid.New()
	outage := errors.New("connection refused")
	s := NewAnalysisService(
		AnalysisWithDocumentRepository(&fakeDocumentReader{err: outage}),
		AnalysisWithChunkRepository(&fakeChunkSearcher{}),
		AnalysisWithRetriever(&fakeRetriever{}),
		AnalysisWithLLMClient(&fakeLLM{}),
	)

	_, err := s.AnalyzeContract(context.Background(), docID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDocumentNotFound)
}

func TestAnalyzeContractNoClauses(t *testing.T) {
	docID := uuid.New()
	s := NewAnalysisService(
		AnalysisWithDocumentRepository(&fakeDocumentReader{doc: &models.Document{ID: docID}}),
		AnalysisWithChunkRepository(&fakeChunkSearcher{}),
		AnalysisWithRetriever(&fakeRetriever{}),
		AnalysisWithLLMClient(&fakeLLM{}),
	)

	_, err := s.AnalyzeContract(context.Background(), docID)
	assert.ErrorIs(t, err, ErrNoClauses)
}

func TestExtractModelJSON(t *testing.T) {
	fenced := "Here is the result:\n```json\n{\"a\": 1}\n```\nDone."
	r := extractModelJSON(fenced)
	assert.False(t, r.Malformed)
	assert.JSONEq(t, `{"a": 1}`, r.Object)

	bare := `The model says {"found": true, "n": 2} and nothing else.`
	r = extractModelJSON(bare)
	assert.False(t, r.Malformed)
	assert.JSONEq(t, `{"found": true, "n": 2}`, r.Object)

	r = extractModelJSON("no structured content here")
	assert.True(t, r.Malformed)
}

func TestResolveClauseLocator(t *testing.T) {
	docID := uuid.New()
	parents := contractParents(docID)

	ordinal, ok := resolveClauseLocator("제2조", parents)
	require.True(t, ok)
	assert.Equal(t, 2, ordinal)

	ordinal, ok = resolveClauseLocator("제 3 조 (비밀유지)", parents)
	require.True(t, ok)
	assert.Equal(t, 3, ordinal)

	// Synthesized positional labels resolve by position
	ordinal, ok = resolveClauseLocator("Clause 1", parents)
	require.True(t, ok)
	assert.Equal(t, 0, ordinal)

	_, ok = resolveClauseLocator("제99조", parents)
	assert.False(t, ok)

	_, ok = resolveClauseLocator("somewhere in the middle", parents)
	assert.False(t, ok)
}

func TestBuildScanPromptLabels(t *testing.T) {
	docID := uuid.New()
	parents := contractParents(docID)
	prompt := buildScanPrompt("용역계약서.md", parents)

	// Native numbering is preserved, headerless clauses get positional labels
	assert.Contains(t, prompt, "제1조 (목적):")
	assert.Contains(t, prompt, "Clause 1:")
}
