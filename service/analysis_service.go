package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bsg-jongho/smartclm-eval/models"
	"github.com/bsg-jongho/smartclm-eval/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	evidenceTopK        = 3
	clausePreviewRunes  = 200
	evidenceExcerptMax  = 300
	scanMaxTokens       = 2000
	verdictMaxTokens    = 1500
	defaultLLMTimeout   = 120 * time.Second
	analysisTemperature = 0.0
)

var (
	// ErrDocumentNotFound mirrors the repository sentinel at the service level
	ErrDocumentNotFound = errors.New("document not found")
	// ErrNoClauses is returned when a document has no parent chunks to scan
	ErrNoClauses = errors.New("document has no clause chunks")
)

var (
	fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	hangulClauseRef = regexp.MustCompile(`제\s*(\d+)\s*조`)
	latinClauseRef  = regexp.MustCompile(`(?i)(?:article|clause|section)\s*(\d+)`)
)

// DocumentReader is the document lookup surface the analyzer needs
type DocumentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
}

// Retriever runs a hybrid text search for statutory evidence
type Retriever interface {
	Search(ctx context.Context, req SearchRequest) ([]models.SearchHit, error)
}

// UsageRecorder persists token usage rows for individual model calls
type UsageRecorder interface {
	Record(ctx context.Context, usage *models.TokenUsage) error
}

// AnalysisService runs the three-stage contract risk analysis: a single
// full-document scan for candidates, concurrent statutory evidence
// retrieval per candidate, then a sequential detailing pass that turns
// each candidate into a final verdict.
type AnalysisService struct {
	documents  DocumentReader
	chunks     ChunkSearcher
	retriever  Retriever
	llm        LLMClient
	usage      UsageRecorder
	llmTimeout time.Duration
}

// AnalysisOption configures an AnalysisService
type AnalysisOption func(*AnalysisService)

// AnalysisWithDocumentRepository sets the document store
func AnalysisWithDocumentRepository(documents DocumentReader) AnalysisOption {
	return func(s *AnalysisService) {
		s.documents = documents
	}
}

// AnalysisWithChunkRepository sets the chunk store
func AnalysisWithChunkRepository(chunks ChunkSearcher) AnalysisOption {
	return func(s *AnalysisService) {
		s.chunks = chunks
	}
}

// AnalysisWithRetriever sets the evidence retriever
func AnalysisWithRetriever(retriever Retriever) AnalysisOption {
	return func(s *AnalysisService) {
		s.retriever = retriever
	}
}

// AnalysisWithLLMClient sets the generation client
func AnalysisWithLLMClient(llm LLMClient) AnalysisOption {
	return func(s *AnalysisService) {
		s.llm = llm
	}
}

// AnalysisWithUsageRecorder enables token usage persistence
func AnalysisWithUsageRecorder(usage UsageRecorder) AnalysisOption {
	return func(s *AnalysisService) {
		s.usage = usage
	}
}

// AnalysisWithLLMTimeout overrides the per-call model timeout
func AnalysisWithLLMTimeout(timeout time.Duration) AnalysisOption {
	return func(s *AnalysisService) {
		s.llmTimeout = timeout
	}
}

// NewAnalysisService creates an analysis service
func NewAnalysisService(opts ...AnalysisOption) *AnalysisService {
	s := &AnalysisService{
		llmTimeout: defaultLLMTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// AnalyzeContract runs the full chain against one contract document.
// Model-level failures degrade inside each stage; only missing documents,
// missing chunks or cancellation surface as errors.
func (s *AnalysisService) AnalyzeContract(ctx context.Context, documentID uuid.UUID) (*models.AnalysisReport, error) {
	started := time.Now()

	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrDocumentNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	parents, err := s.chunks.GetParentsByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load clause chunks: %w", err)
	}
	if len(parents) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoClauses, documentID)
	}

	report := &models.AnalysisReport{
		RunID:        uuid.New(),
		DocumentID:   documentID,
		DocumentName: doc.Filename,
		State:        models.AnalysisStateScanning,
		AnalyzedAt:   started,
		Violations:   []models.FinalVerdict{},
	}
	var totals models.TokenCounts

	scanStart := time.Now()
	candidates := s.scanForRisks(ctx, doc, parents, &totals)
	report.Timings.ScanMS = time.Since(scanStart).Milliseconds()
	report.Summary.CandidatesIdentified = len(candidates)

	if err := ctx.Err(); err != nil {
		report.State = models.AnalysisStateFailed
		return report, err
	}

	if len(candidates) > 0 {
		report.State = models.AnalysisStateEvidenceGathering
		evidenceStart := time.Now()
		candidates, err = s.gatherEvidence(ctx, candidates)
		report.Timings.EvidenceMS = time.Since(evidenceStart).Milliseconds()
		if err != nil {
			report.State = models.AnalysisStateFailed
			return report, err
		}
		for _, c := range candidates {
			report.Summary.EvidenceHits += len(c.Evidence)
		}

		report.State = models.AnalysisStateDetailing
		detailStart := time.Now()
		report.Violations = s.detailVerdicts(ctx, doc, candidates, &totals)
		report.Timings.DetailMS = time.Since(detailStart).Milliseconds()

		if err := ctx.Err(); err != nil {
			report.State = models.AnalysisStateFailed
			return report, err
		}
	}

	report.State = models.AnalysisStateDone
	report.Summary.TotalViolations = len(report.Violations)
	report.Timings.TotalMS = time.Since(started).Milliseconds()
	report.TokenUsage = totals

	return report, nil
}

// scanForRisks runs the single full-document scan. Any model failure or
// malformed reply degrades to zero candidates.
func (s *AnalysisService) scanForRisks(ctx context.Context, doc *models.Document, parents []models.Chunk, totals *models.TokenCounts) []models.RiskCandidate {
	prompt := buildScanPrompt(doc.Filename, parents)

	raw, err := s.invokeLLM(ctx, "risk_scan", doc.ID, prompt, scanMaxTokens, totals)
	if err != nil {
		log.Printf("Warning: risk scan failed for document %s: %v", doc.ID, err)
		return nil
	}

	extracted := extractModelJSON(raw)
	if extracted.Malformed {
		log.Printf("Warning: risk scan reply for document %s carried no JSON object", doc.ID)
		return nil
	}

	var result models.ScanResult
	if err := json.Unmarshal([]byte(extracted.Object), &result); err != nil {
		log.Printf("Warning: failed to parse risk scan reply for document %s: %v", doc.ID, err)
		return nil
	}
	if !result.ViolationsFound {
		return nil
	}

	var candidates []models.RiskCandidate
	for _, c := range result.Violations {
		ordinal, ok := resolveClauseLocator(c.ClauseNumber, parents)
		if !ok {
			log.Printf("Warning: dropping candidate with unresolvable clause locator %q", c.ClauseNumber)
			continue
		}
		c.ClauseOrdinal = ordinal
		c.ClauseText = parents[ordinal].Content
		candidates = append(candidates, c)
	}

	return candidates
}

// gatherEvidence retrieves statutory evidence for every candidate
// concurrently. A failed search leaves that candidate with no evidence
// instead of failing the stage; the only group error is cancellation.
func (s *AnalysisService) gatherEvidence(ctx context.Context, candidates []models.RiskCandidate) ([]models.RiskCandidate, error) {
	g, gctx := errgroup.WithContext(ctx)

	for i := range candidates {
		i := i
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			cand := &candidates[i]
			query := strings.TrimSpace(cand.ClauseTitle + " " + cand.BriefReason)
			hits, err := s.retriever.Search(gctx, SearchRequest{
				Query:    query,
				DocTypes: []string{string(models.DocTypeLaw)},
				TopK:     evidenceTopK,
			})
			if err != nil {
				log.Printf("Warning: evidence search failed for clause %q: %v", cand.ClauseNumber, err)
				return nil
			}

			for _, hit := range hits {
				cand.Evidence = append(cand.Evidence, models.EvidenceExcerpt{
					Filename:   hit.Filename,
					Content:    hit.Content,
					Similarity: hit.Similarity,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return candidates, nil
}

// detailVerdicts runs the sequential detailing pass. A failed or
// malformed model reply for a candidate yields a fallback verdict built
// from the scan output, so no candidate is silently lost.
func (s *AnalysisService) detailVerdicts(ctx context.Context, doc *models.Document, candidates []models.RiskCandidate, totals *models.TokenCounts) []models.FinalVerdict {
	verdicts := make([]models.FinalVerdict, 0, len(candidates))
	for i := range candidates {
		cand := &candidates[i]
		if ctx.Err() != nil {
			verdicts = append(verdicts, fallbackVerdict(cand))
			continue
		}

		prompt := buildVerdictPrompt(cand)
		raw, err := s.invokeLLM(ctx, "verdict_detail", doc.ID, prompt, verdictMaxTokens, totals)
		if err != nil {
			log.Printf("Warning: verdict detailing failed for clause %q: %v", cand.ClauseNumber, err)
			verdicts = append(verdicts, fallbackVerdict(cand))
			continue
		}

		extracted := extractModelJSON(raw)
		if extracted.Malformed {
			log.Printf("Warning: verdict reply for clause %q carried no JSON object", cand.ClauseNumber)
			verdicts = append(verdicts, fallbackVerdict(cand))
			continue
		}

		var verdict models.FinalVerdict
		if err := json.Unmarshal([]byte(extracted.Object), &verdict); err != nil {
			log.Printf("Warning: failed to parse verdict for clause %q: %v", cand.ClauseNumber, err)
			verdicts = append(verdicts, fallbackVerdict(cand))
			continue
		}

		if verdict.ClauseLocation == "" {
			verdict.ClauseLocation = clauseLocation(cand)
		}
		if verdict.RiskType == "" {
			verdict.RiskType = cand.RiskType
		}
		if verdict.RiskLevel == "" {
			verdict.RiskLevel = cand.RiskLevel
		}
		verdicts = append(verdicts, verdict)
	}

	return verdicts
}

// fallbackVerdict assembles a verdict from scan-stage material alone
func fallbackVerdict(cand *models.RiskCandidate) models.FinalVerdict {
	var laws []string
	for i, ev := range cand.Evidence {
		if i >= 2 {
			break
		}
		laws = append(laws, trimFileExtension(ev.Filename))
	}

	return models.FinalVerdict{
		ClauseLocation: clauseLocation(cand),
		RiskType:       cand.RiskType,
		RiskLevel:      cand.RiskLevel,
		Justification:  cand.BriefReason,
		Recommendation: "Detailed review unavailable; verdict assembled from the initial scan only.",
		CitedLaws:      laws,
		Fallback:       true,
	}
}

func clauseLocation(cand *models.RiskCandidate) string {
	if cand.ClauseTitle != "" && cand.ClauseTitle != cand.ClauseNumber {
		return fmt.Sprintf("%s (%s)", cand.ClauseNumber, cand.ClauseTitle)
	}
	return cand.ClauseNumber
}

func trimFileExtension(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx > 0 {
		return filename[:idx]
	}
	return filename
}

// invokeLLM wraps a model call with the per-call timeout, usage recording
// and token accumulation
func (s *AnalysisService) invokeLLM(ctx context.Context, operation string, documentID uuid.UUID, prompt string, maxTokens int, totals *models.TokenCounts) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()

	result, err := s.llm.Invoke(callCtx, prompt, maxTokens, analysisTemperature)

	if s.usage != nil {
		row := &models.TokenUsage{
			ID:            uuid.New(),
			OperationType: operation,
			ModelName:     s.llm.ModelName(),
			DocumentID:    &documentID,
			Status:        "success",
		}
		if err != nil {
			row.Status = "failed"
			msg := err.Error()
			row.ErrorMessage = &msg
		} else {
			row.InputTokens = result.Usage.InputTokens
			row.OutputTokens = result.Usage.OutputTokens
			row.TotalTokens = result.Usage.TotalTokens
			row.ProcessingTimeMS = result.ProcessingTimeMS
		}
		if recordErr := s.usage.Record(ctx, row); recordErr != nil {
			log.Printf("Warning: failed to record token usage: %v", recordErr)
		}
	}

	if err != nil {
		return "", err
	}
	totals.Add(result.Usage)

	return result.Text, nil
}

// buildScanPrompt renders every clause with its native number when one
// exists, otherwise a synthesized positional label, each previewed to a
// fixed length.
func buildScanPrompt(filename string, parents []models.Chunk) string {
	var sb strings.Builder
	for i, p := range parents {
		title := p.Title()
		preview := truncateRunes(p.Content, clausePreviewRunes)

		switch {
		case title != "" && (hangulClauseRef.MatchString(title) || latinClauseRef.MatchString(title)):
			fmt.Fprintf(&sb, "%s: %s\n", title, preview)
		case title != "":
			fmt.Fprintf(&sb, "Clause %d (%s): %s\n", i+1, title, preview)
		default:
			fmt.Fprintf(&sb, "Clause %d: %s\n", i+1, preview)
		}
	}

	return fmt.Sprintf(`You are a contract compliance reviewer. Scan the contract below and identify every clause that plausibly violates statutory requirements or shifts unreasonable risk onto one party.

Contract: %s

Clauses:
%s
Respond with ONLY a JSON object in exactly this shape, no prose before or after:
{
  "violations_found": true,
  "total_violations": 2,
  "violations": [
    {
      "clause_number": "the clause identifier exactly as shown above",
      "clause_title": "short clause title",
      "risk_type": "category of the risk",
      "risk_level": "HIGH, MEDIUM or LOW",
      "brief_reason": "one sentence on why this clause is suspect"
    }
  ]
}

If no clause is suspect, respond with {"violations_found": false, "total_violations": 0, "violations": []}.`, filename, sb.String())
}

// buildVerdictPrompt assembles the detailing prompt for one candidate,
// quoting the full clause and the retrieved statutory excerpts.
func buildVerdictPrompt(cand *models.RiskCandidate) string {
	var evidence strings.Builder
	if len(cand.Evidence) == 0 {
		evidence.WriteString("(no statutory excerpts were retrieved for this clause)\n")
	}
	for i, ev := range cand.Evidence {
		excerpt := truncateRunes(ev.Content, evidenceExcerptMax)
		fmt.Fprintf(&evidence, "[%d] %s (similarity: %.3f)\n%s\n\n", i+1, ev.Filename, ev.Similarity, excerpt)
	}

	return fmt.Sprintf(`You are a contract compliance reviewer writing the final assessment for one suspect clause.

Clause %s (%s), flagged as %s / %s:
%s

Initial concern: %s

Statutory excerpts retrieved for this clause:
%s
Respond with ONLY a JSON object in exactly this shape, no prose before or after:
{
  "clause_location": "where the clause sits in the contract",
  "risk_type": "category of the risk",
  "risk_level": "HIGH, MEDIUM or LOW",
  "justification": "why this clause is or is not a violation, citing the excerpts",
  "recommendation": "concrete redline or negotiation advice",
  "cited_laws": ["names of the statutes relied on"]
}`, cand.ClauseNumber, cand.ClauseTitle, cand.RiskType, cand.RiskLevel, cand.ClauseText, cand.BriefReason, evidence.String())
}

// modelJSON is the outcome of tolerant JSON extraction from a model reply
type modelJSON struct {
	Object    string
	Malformed bool
}

// extractModelJSON pulls a JSON object out of a model reply. It prefers a
// fenced json block, then falls back to the outermost brace pair, and
// marks the reply malformed when neither exists.
func extractModelJSON(raw string) modelJSON {
	if m := fencedJSONBlock.FindStringSubmatch(raw); m != nil {
		return modelJSON{Object: m[1]}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return modelJSON{Object: raw[start : end+1]}
	}

	return modelJSON{Malformed: true}
}

// resolveClauseLocator maps a model-reported clause identifier back to a
// position among the document's parents. Native clause numbers are matched
// against the parent titles; synthesized "Clause k" labels fall back to
// position. Locators with no number, or a number the document does not
// have, resolve to nothing.
func resolveClauseLocator(locator string, parents []models.Chunk) (int, bool) {
	if m := hangulClauseRef.FindStringSubmatch(locator); m != nil {
		for i := range parents {
			if pm := hangulClauseRef.FindStringSubmatch(parents[i].Title()); pm != nil && pm[1] == m[1] {
				return i, true
			}
		}
		return 0, false
	}

	if m := latinClauseRef.FindStringSubmatch(locator); m != nil {
		for i := range parents {
			if pm := latinClauseRef.FindStringSubmatch(parents[i].Title()); pm != nil && pm[1] == m[1] {
				return i, true
			}
		}
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 && n <= len(parents) {
			return n - 1, true
		}
	}

	return 0, false
}

// truncateRunes shortens text to the given rune count, marking the cut
func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
