package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/bsg-jongho/smartclm-eval/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentDocumentKoreanClauses(t *testing.T) {
	docID := uuid.New()
	longBody := strings.Repeat("가", 600)
	markdown := "## 서문\n" +
		"제1조 (목적)\n" + longBody + "\n" +
		"제2조 (정의)\n" + strings.Repeat("나", 100) + "\n"

	chunks := NewChunkingService().SegmentDocument(docID, markdown)
	require.NotEmpty(t, chunks)

	var parents, children []models.Chunk
	for _, c := range chunks {
		switch c.Kind {
		case models.ChunkKindParent:
			parents = append(parents, c)
		case models.ChunkKindChild:
			children = append(children, c)
		}
	}

	require.Len(t, parents, 3)
	assert.Equal(t, "제1조 (목적)", parents[1].Header1)
	assert.Equal(t, "제2조 (정의)", parents[2].Header1)

	// The long clause is context only, its children carry the vectors
	assert.False(t, parents[1].IsEmbeddingTarget)
	require.Len(t, children, 2)
	for _, ch := range children {
		assert.True(t, ch.IsEmbeddingTarget)
		assert.Equal(t, parents[1].ParentRef, ch.ParentRef)
		assert.LessOrEqual(t, ch.CharCount, 500)
	}

	// The short clause embeds as itself
	assert.True(t, parents[2].IsEmbeddingTarget)

	// The empty preamble section is kept but never embedded
	assert.False(t, parents[0].IsEmbeddingTarget)
	assert.Empty(t, parents[0].Content)
}

func TestSegmentDocumentOrdinalsAndRefs(t *testing.T) {
	docID := uuid.New()
	markdown := "## 서문\n" +
		"제1조 (목적)\n" + strings.Repeat("가", 600) + "\n" +
		"제2조 (정의)\n" + strings.Repeat("나", 100) + "\n"

	chunks := NewChunkingService().SegmentDocument(docID, markdown)
	require.NotEmpty(t, chunks)

	parentIdx := 0
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		if c.Kind == models.ChunkKindParent {
			assert.Equal(t, fmt.Sprintf("%s_parent_%d", docID, parentIdx), c.ParentRef)
			parentIdx++
		}
	}

	// Children immediately follow the parent they were split from
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Kind == models.ChunkKindChild {
			assert.Equal(t, chunks[i].ParentRef, chunks[i-1].ParentRef)
		}
	}
}

func TestSegmentDocumentExactlyOneEmbeddingPath(t *testing.T) {
	docID := uuid.New()
	markdown := "제1조 (목적)\n" + strings.Repeat("가", 600) + "\n" +
		"제2조 (정의)\n" + strings.Repeat("나", 100) + "\n" +
		"제3조 (해석)\n" + strings.Repeat("다", 499) + "\n"

	chunks := NewChunkingService().SegmentDocument(docID, markdown)
	require.NotEmpty(t, chunks)

	childTargets := map[string]int{}
	for _, c := range chunks {
		if c.Kind == models.ChunkKindChild && c.IsEmbeddingTarget {
			childTargets[c.ParentRef]++
		}
	}

	for _, c := range chunks {
		if c.Kind != models.ChunkKindParent || c.Content == "" {
			continue
		}
		if c.IsEmbeddingTarget {
			assert.Zero(t, childTargets[c.ParentRef], "parent %s embeds itself but has embedded children", c.ParentRef)
		} else {
			assert.Positive(t, childTargets[c.ParentRef], "parent %s embeds nothing", c.ParentRef)
		}
	}
}

func TestSegmentDocumentIdempotent(t *testing.T) {
	docID := uuid.New()
	markdown := "## 서문\n도입부 설명입니다.\n" +
		"제1조 (목적)\n" + strings.Repeat("가", 600) + "\n" +
		"제2조 (정의)\n짧은 조항\n"

	s := NewChunkingService()
	first := s.SegmentDocument(docID, markdown)
	second := s.SegmentDocument(docID, markdown)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Ordinal, second[i].Ordinal)
		assert.Equal(t, first[i].Kind, second[i].Kind)
		assert.Equal(t, first[i].ParentRef, second[i].ParentRef)
		assert.Equal(t, first[i].Header1, second[i].Header1)
		assert.Equal(t, first[i].Content, second[i].Content)
		assert.Equal(t, first[i].IsEmbeddingTarget, second[i].IsEmbeddingTarget)
	}
}

func TestSegmentDocumentLatinArticles(t *testing.T) {
	docID := uuid.New()
	markdown := "Article 1. Scope\nThis agreement covers consulting services.\n\n" +
		"Article 2. Payment\nPayment is due within thirty days of invoice.\n"

	chunks := NewChunkingService().SegmentDocument(docID, markdown)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Article 1. Scope", chunks[0].Header1)
	assert.Equal(t, "Article 2. Payment", chunks[1].Header1)
	assert.True(t, chunks[0].IsEmbeddingTarget)
	assert.True(t, chunks[1].IsEmbeddingTarget)
}

func TestSegmentDocumentNumberedListItemsDoNotSplit(t *testing.T) {
	docID := uuid.New()
	markdown := "# Agreement\n" +
		"1. Payment terms apply as follows\n" +
		"The parties agree to the schedule below.\n" +
		"1. first installment\n" +
		"2. second installment\n"

	chunks := NewChunkingService().SegmentDocument(docID, markdown)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "1. first installment")
	assert.Contains(t, chunks[0].Content, "2. second installment")
}

func TestSegmentDocumentParagraphFallback(t *testing.T) {
	docID := uuid.New()
	long := "This paragraph describes the obligations of the receiving party in detail."
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&sb, "%s Number %d.\n\n", long, i)
	}
	sb.WriteString("short\n\n")

	chunks := NewChunkingService().SegmentDocument(docID, sb.String())
	require.Len(t, chunks, maxFallbackParagraphs)
	for _, c := range chunks {
		assert.Equal(t, models.ChunkKindParent, c.Kind)
		assert.True(t, c.IsEmbeddingTarget)
		assert.GreaterOrEqual(t, c.CharCount, minParagraphChars)
	}
}

func TestSegmentDocumentEmptyInput(t *testing.T) {
	chunks := NewChunkingService().SegmentDocument(uuid.New(), "")
	assert.Empty(t, chunks)
}

func TestSplitFixedSizeOverlap(t *testing.T) {
	text := strings.Repeat("a", 600)
	pieces := splitFixedSize(text, 500, 50)
	require.Len(t, pieces, 2)
	assert.Len(t, pieces[0], 500)
	assert.Len(t, pieces[1], 150)

	// Text within the window stays whole
	assert.Equal(t, []string{"short"}, splitFixedSize("short", 500, 50))
}
