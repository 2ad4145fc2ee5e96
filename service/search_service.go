package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/bsg-jongho/smartclm-eval/models"
	"github.com/bsg-jongho/smartclm-eval/repository"

	"github.com/google/uuid"
)

const (
	defaultSystemWeight    = 0.6
	defaultWorkspaceWeight = 0.4
	defaultSearchTopK      = 5
	defaultNeighborCount   = 2
)

// ErrEmptyQuery is returned when a search is requested with no query text
var ErrEmptyQuery = errors.New("search query is empty")

// ErrParentNotFound is returned when a parent ref resolves to nothing
var ErrParentNotFound = errors.New("parent chunk not found")

// ChunkSearcher is the chunk store surface the retrieval services depend on
type ChunkSearcher interface {
	SearchGlobal(ctx context.Context, embedding []float64, docTypes []string, topK int) ([]models.SearchHit, error)
	SearchWorkspace(ctx context.Context, embedding []float64, workspaceID uuid.UUID, docTypes []string, topK int) ([]models.SearchHit, error)
	SearchDocumentParents(ctx context.Context, embedding []float64, documentID uuid.UUID, excludeRef string, topK int) ([]models.SearchHit, error)
	GetParentsByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error)
	GetParentByRef(ctx context.Context, parentRef string) (*models.Chunk, error)
}

// SearchService fuses vector search over the shared system corpus with a
// workspace's own documents. System hits are weighted above workspace hits
// so statutory sources dominate ties.
type SearchService struct {
	chunks          ChunkSearcher
	embedder        Embedder
	systemWeight    float64
	workspaceWeight float64
}

// SearchOption configures a SearchService
type SearchOption func(*SearchService)

// SearchWithChunkRepository sets the chunk store
func SearchWithChunkRepository(chunks ChunkSearcher) SearchOption {
	return func(s *SearchService) {
		s.chunks = chunks
	}
}

// SearchWithEmbedder sets the query embedder
func SearchWithEmbedder(embedder Embedder) SearchOption {
	return func(s *SearchService) {
		s.embedder = embedder
	}
}

// SearchWithWeights overrides the system/workspace fusion weights
func SearchWithWeights(system, workspace float64) SearchOption {
	return func(s *SearchService) {
		s.systemWeight = system
		s.workspaceWeight = workspace
	}
}

// NewSearchService creates a search service
func NewSearchService(opts ...SearchOption) *SearchService {
	s := &SearchService{
		systemWeight:    defaultSystemWeight,
		workspaceWeight: defaultWorkspaceWeight,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SearchRequest describes one hybrid retrieval
type SearchRequest struct {
	Query       string
	WorkspaceID *uuid.UUID
	DocTypes    []string
	TopK        int
}

// Search embeds the query and runs the hybrid retrieval
func (s *SearchService) Search(ctx context.Context, req SearchRequest) ([]models.SearchHit, error) {
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	if req.TopK <= 0 {
		req.TopK = defaultSearchTopK
	}

	embedding, err := s.embedder.EmbedOne(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return s.SearchByVector(ctx, embedding, req.WorkspaceID, req.DocTypes, req.TopK)
}

// SearchByVector runs the hybrid retrieval with a precomputed query vector.
// The system corpus search must succeed; a workspace search failure only
// narrows the result to system hits.
func (s *SearchService) SearchByVector(ctx context.Context, embedding []float64, workspaceID *uuid.UUID, docTypes []string, topK int) ([]models.SearchHit, error) {
	systemHits, err := s.chunks.SearchGlobal(ctx, embedding, docTypes, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search system corpus: %w", err)
	}

	var workspaceHits []models.SearchHit
	if workspaceID != nil {
		workspaceHits, err = s.chunks.SearchWorkspace(ctx, embedding, *workspaceID, docTypes, topK)
		if err != nil {
			log.Printf("Warning: workspace search failed for %s, falling back to system corpus only: %v", workspaceID, err)
			workspaceHits = nil
		}
	}

	return fuseHits(systemHits, workspaceHits, s.systemWeight, s.workspaceWeight, topK), nil
}

// fuseHits merges two ranked hit lists by weighted score. Raw similarity
// breaks ties so a stronger match never loses to a weaker one from the
// heavier corpus at equal weighted score.
func fuseHits(systemHits, workspaceHits []models.SearchHit, systemWeight, workspaceWeight float64, topK int) []models.SearchHit {
	merged := make([]models.SearchHit, 0, len(systemHits)+len(workspaceHits))
	for _, h := range systemHits {
		h.SourceType = models.SourceTypeSystem
		h.WeightedScore = h.Similarity * systemWeight
		merged = append(merged, h)
	}
	for _, h := range workspaceHits {
		h.SourceType = models.SourceTypeWorkspace
		h.WeightedScore = h.Similarity * workspaceWeight
		merged = append(merged, h)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].WeightedScore != merged[j].WeightedScore {
			return merged[i].WeightedScore > merged[j].WeightedScore
		}
		return merged[i].Similarity > merged[j].Similarity
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}

	return merged
}

// ExpandToParent widens a hit to the full text of its owning parent. For
// parent hits this is the hit content itself.
func (s *SearchService) ExpandToParent(ctx context.Context, hit models.SearchHit) (string, error) {
	if hit.Kind == models.ChunkKindParent {
		return hit.Content, nil
	}

	parent, err := s.chunks.GetParentByRef(ctx, hit.ParentRef)
	if err != nil {
		if errors.Is(err, repository.ErrChunkNotFound) {
			return "", ErrParentNotFound
		}
		return "", fmt.Errorf("failed to expand hit %s: %w", hit.ChunkID, err)
	}

	return parent.Content, nil
}

// NeighborContext returns clauses of the same document related to the
// anchor parent. It prefers semantic neighbors found by searching the
// document with the anchor's own text; if embedding or search fails it
// falls back to the positional window around the anchor.
func (s *SearchService) NeighborContext(ctx context.Context, documentID uuid.UUID, parentRef string, count int) ([]models.SearchHit, error) {
	if count <= 0 {
		count = defaultNeighborCount
	}

	anchor, err := s.chunks.GetParentByRef(ctx, parentRef)
	if err != nil {
		if errors.Is(err, repository.ErrChunkNotFound) {
			return nil, ErrParentNotFound
		}
		return nil, fmt.Errorf("failed to load anchor parent: %w", err)
	}

	if anchor.Content != "" {
		embedding, err := s.embedder.EmbedOne(ctx, anchor.Content)
		if err == nil {
			hits, err := s.chunks.SearchDocumentParents(ctx, embedding, documentID, parentRef, count)
			if err == nil {
				return hits, nil
			}
			log.Printf("Warning: semantic neighbor search failed for %s: %v", parentRef, err)
		} else {
			log.Printf("Warning: failed to embed anchor %s for neighbor search: %v", parentRef, err)
		}
	}

	return s.positionalNeighbors(ctx, documentID, parentRef, count)
}

// positionalNeighbors returns up to count parents on each side of the
// anchor in document order
func (s *SearchService) positionalNeighbors(ctx context.Context, documentID uuid.UUID, parentRef string, count int) ([]models.SearchHit, error) {
	parents, err := s.chunks.GetParentsByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document parents: %w", err)
	}

	anchorIdx := -1
	for i := range parents {
		if parents[i].ParentRef == parentRef {
			anchorIdx = i
			break
		}
	}
	if anchorIdx == -1 {
		return nil, ErrParentNotFound
	}

	var hits []models.SearchHit
	for i := anchorIdx - count; i <= anchorIdx+count; i++ {
		if i < 0 || i >= len(parents) || i == anchorIdx {
			continue
		}
		p := parents[i]
		hits = append(hits, models.SearchHit{
			ChunkID:    p.ID,
			DocumentID: p.DocumentID,
			Kind:       p.Kind,
			ParentRef:  p.ParentRef,
			Ordinal:    p.Ordinal,
			Header1:    p.Header1,
			Content:    p.Content,
			SourceType: models.SourceTypeWorkspace,
		})
	}

	return hits, nil
}
