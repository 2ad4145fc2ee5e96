package service

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bsg-jongho/smartclm-eval/models"

	"github.com/google/uuid"
)

const (
	defaultChunkSize      = 500
	defaultChunkOverlap   = 50
	minParagraphChars     = 50
	maxFallbackParagraphs = 10
)

var (
	// Korean statute style clause headers: 제1조, 제 12 조 ...
	hangulClauseLine = regexp.MustCompile(`^제\s*\d+\s*조`)
	// Western style clause headers: Article 1, Clause 2, Section 3 ...
	latinClauseLine = regexp.MustCompile(`(?i)^(article|clause|section)\s+\d+`)
	// Bare numbered section lines used by contracts without markdown headers
	numberedLine = regexp.MustCompile(`^\d+\.\s+\S`)

	markdownHeader = regexp.MustCompile(`^(#{1,4})\s+(.*)$`)

	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
)

// section is one header-delimited region of a document
type section struct {
	headers [4]string
	body    string
}

// ChunkingService segments normalized markdown into parent/child chunks.
// Clauses become parents; parents longer than the chunk size are split into
// overlapping children that carry the vectors, while the parent itself
// stays as retrieval context.
type ChunkingService struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunkingService creates a chunking service with the default window
func NewChunkingService() *ChunkingService {
	return &ChunkingService{
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
}

// SegmentDocument splits a document into ordered chunks. It never returns
// an error: any panic in the splitting logic degrades to zero chunks so
// the document itself survives ingestion.
func (s *ChunkingService) SegmentDocument(documentID uuid.UUID, markdown string) (chunks []models.Chunk) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Warning: segmentation failed for document %s: %v", documentID, r)
			chunks = nil
		}
	}()

	prepared := promoteClauseHeaders(markdown)
	sections := splitByHeaders(prepared)
	if len(sections) == 0 {
		return s.segmentParagraphs(documentID, markdown)
	}

	ordinal := 0
	for i, sec := range sections {
		parentRef := fmt.Sprintf("%s_parent_%d", documentID, i)
		content := strings.TrimSpace(sec.body)

		parent := models.Chunk{
			ID:         uuid.New(),
			DocumentID: documentID,
			Ordinal:    ordinal,
			Kind:       models.ChunkKindParent,
			ParentRef:  parentRef,
			Header1:    sec.headers[0],
			Header2:    sec.headers[1],
			Header3:    sec.headers[2],
			Header4:    sec.headers[3],
			Content:    content,
			WordCount:  len(strings.Fields(content)),
			CharCount:  utf8.RuneCountInString(content),
		}

		if utf8.RuneCountInString(content) > s.chunkSize {
			// Children carry the vectors, the parent stays as context
			parent.IsEmbeddingTarget = false
			parent.Metadata = map[string]interface{}{"embedding_skipped": "split into children"}
			chunks = append(chunks, parent)
			ordinal++

			for _, piece := range splitFixedSize(content, s.chunkSize, s.chunkOverlap) {
				child := models.Chunk{
					ID:                uuid.New(),
					DocumentID:        documentID,
					Ordinal:           ordinal,
					Kind:              models.ChunkKindChild,
					ParentRef:         parentRef,
					Header1:           sec.headers[0],
					Header2:           sec.headers[1],
					Header3:           sec.headers[2],
					Header4:           sec.headers[3],
					Content:           piece,
					IsEmbeddingTarget: true,
					WordCount:         len(strings.Fields(piece)),
					CharCount:         utf8.RuneCountInString(piece),
				}
				chunks = append(chunks, child)
				ordinal++
			}
			continue
		}

		parent.IsEmbeddingTarget = content != ""
		if content == "" {
			parent.Metadata = map[string]interface{}{"embedding_skipped": "empty section body"}
		}
		chunks = append(chunks, parent)
		ordinal++
	}

	return chunks
}

// segmentParagraphs is the fallback for documents with no recognizable
// headers: blank-line separated paragraphs become standalone parents.
func (s *ChunkingService) segmentParagraphs(documentID uuid.UUID, markdown string) []models.Chunk {
	var chunks []models.Chunk
	ordinal := 0
	for _, para := range paragraphSplit.Split(markdown, -1) {
		para = strings.TrimSpace(para)
		if utf8.RuneCountInString(para) < minParagraphChars {
			continue
		}
		if len(chunks) >= maxFallbackParagraphs {
			break
		}

		chunks = append(chunks, models.Chunk{
			ID:                uuid.New(),
			DocumentID:        documentID,
			Ordinal:           ordinal,
			Kind:              models.ChunkKindParent,
			ParentRef:         fmt.Sprintf("%s_parent_%d", documentID, ordinal),
			Content:           para,
			IsEmbeddingTarget: true,
			WordCount:         len(strings.Fields(para)),
			CharCount:         utf8.RuneCountInString(para),
			Metadata:          map[string]interface{}{"segmentation": "paragraph_fallback"},
		})
		ordinal++
	}

	return chunks
}

// promoteClauseHeaders rewrites bare clause lines (제N조, Article N) into
// level two markdown headers so the header splitter picks them up. Lines
// that are already headers are left alone.
func promoteClauseHeaders(markdown string) string {
	lines := strings.Split(markdown, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") &&
			(hangulClauseLine.MatchString(trimmed) || latinClauseLine.MatchString(trimmed)) {
			out = append(out, "## "+trimmed)
			continue
		}
		out = append(out, line)
	}

	return strings.Join(out, "\n")
}

// splitByHeaders walks the document line by line and cuts a new section at
// every markdown header. A bare numbered line ("1. Scope of Work") also
// opens a section, but only while the current section body is still empty
// so numbered list items inside a clause never split it. Returns nil when
// the document has no headers at all.
func splitByHeaders(markdown string) []section {
	var sections []section
	var headerPath [4]string
	var body []string
	var preamble string
	sawHeader := false

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		body = nil
		if !sawHeader {
			// Text before the first header becomes a headerless section
			preamble = text
			return
		}
		sections = append(sections, section{headers: normalizeHeaders(headerPath), body: text})
	}

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)

		if m := markdownHeader.FindStringSubmatch(trimmed); m != nil {
			flush()
			level := len(m[1])
			headerPath[level-1] = strings.TrimSpace(m[2])
			for l := level; l < 4; l++ {
				headerPath[l] = ""
			}
			sawHeader = true
			continue
		}

		if numberedLine.MatchString(trimmed) && utf8.RuneCountInString(trimmed) > 10 &&
			strings.TrimSpace(strings.Join(body, "\n")) == "" {
			headerPath[1] = trimmed
			headerPath[2], headerPath[3] = "", ""
			sawHeader = true
			continue
		}

		body = append(body, line)
	}
	flush()

	if len(sections) > 0 && preamble != "" {
		sections = append([]section{{body: preamble}}, sections...)
	}

	return sections
}

// normalizeHeaders promotes a clause-numbered level two header to the
// primary header slot so every clause chunk is addressable by its native
// number.
func normalizeHeaders(path [4]string) [4]string {
	if path[1] != "" && (hangulClauseLine.MatchString(path[1]) || latinClauseLine.MatchString(path[1]) || numberedLine.MatchString(path[1])) {
		path[0] = path[1]
	}
	return path
}

// splitFixedSize cuts text into rune windows of the given size with the
// given overlap between consecutive windows
func splitFixedSize(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	var pieces []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(runes) {
			break
		}
	}

	return pieces
}
