package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bsg-jongho/smartclm-eval/models"
)

const (
	embeddingModel        = "gemini-embedding-001"
	defaultEmbedEndpoint  = "https://generativelanguage.googleapis.com/v1beta/models/" + embeddingModel
	embeddingDimensions   = 1024
	embeddingBatchSize    = 100
	embeddingMaxRetries   = 3
	embeddingInitialDelay = 1 * time.Second
)

// ErrMissingAPIKey is returned when no Gemini API key is configured
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY environment variable not set")

// Embedder produces a single query vector for a piece of text
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float64, error)
}

// embedContent is the request payload for a single embedding call
type embedContent struct {
	Model                string       `json:"model"`
	Content              embedPayload `json:"content"`
	TaskType             string       `json:"taskType,omitempty"`
	OutputDimensionality int          `json:"outputDimensionality,omitempty"`
}

type embedPayload struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}

type embedResponse struct {
	Embedding embedValues `json:"embedding"`
}

type batchEmbedRequest struct {
	Requests []embedContent `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []embedValues `json:"embeddings"`
}

// EmbeddingService calls the Gemini embedding API over HTTP with retry
// and exponential backoff. All vectors are L2 normalized before use.
type EmbeddingService struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	dimensions int
}

// EmbeddingOption configures an EmbeddingService
type EmbeddingOption func(*EmbeddingService)

// EmbeddingWithHTTPClient overrides the HTTP client used for API calls
func EmbeddingWithHTTPClient(client *http.Client) EmbeddingOption {
	return func(s *EmbeddingService) {
		s.httpClient = client
	}
}

// EmbeddingWithEndpoint overrides the API base endpoint
func EmbeddingWithEndpoint(endpoint string) EmbeddingOption {
	return func(s *EmbeddingService) {
		s.endpoint = endpoint
	}
}

// NewEmbeddingService creates an embedding service configured from the
// environment
func NewEmbeddingService(opts ...EmbeddingOption) (*EmbeddingService, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	s := &EmbeddingService{
		apiKey:     apiKey,
		endpoint:   defaultEmbedEndpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		dimensions: embeddingDimensions,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// EmbedOne embeds a single query string using the retrieval query task type
func (s *EmbeddingService) EmbedOne(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("cannot embed empty text")
	}

	reqBody := embedContent{
		Model:                "models/" + embeddingModel,
		Content:              embedPayload{Parts: []embedPart{{Text: text}}},
		TaskType:             "RETRIEVAL_QUERY",
		OutputDimensionality: s.dimensions,
	}

	var resp embedResponse
	url := fmt.Sprintf("%s:embedContent?key=%s", s.endpoint, s.apiKey)
	if err := s.post(ctx, url, reqBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, errors.New("embedding API returned no values")
	}

	return normalizeVector(resp.Embedding.Values), nil
}

// EmbedMany embeds document texts in batches using the retrieval document
// task type. Blank inputs are skipped before the API call and come back as
// nil vectors at their original positions.
func (s *EmbeddingService) EmbedMany(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))

	var indices []int
	var payload []string
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		indices = append(indices, i)
		payload = append(payload, t)
	}
	if len(payload) == 0 {
		return vectors, nil
	}

	for start := 0; start < len(payload); start += embeddingBatchSize {
		end := start + embeddingBatchSize
		if end > len(payload) {
			end = len(payload)
		}

		batch := batchEmbedRequest{}
		for _, t := range payload[start:end] {
			batch.Requests = append(batch.Requests, embedContent{
				Model:                "models/" + embeddingModel,
				Content:              embedPayload{Parts: []embedPart{{Text: t}}},
				TaskType:             "RETRIEVAL_DOCUMENT",
				OutputDimensionality: s.dimensions,
			})
		}

		var resp batchEmbedResponse
		url := fmt.Sprintf("%s:batchEmbedContents?key=%s", s.endpoint, s.apiKey)
		if err := s.post(ctx, url, batch, &resp); err != nil {
			return nil, fmt.Errorf("failed to embed batch starting at %d: %w", start, err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(resp.Embeddings), end-start)
		}

		for j, e := range resp.Embeddings {
			vectors[indices[start+j]] = normalizeVector(e.Values)
		}
	}

	return vectors, nil
}

// EmbedChunks fills in vectors for every embedding-target chunk. Failures
// degrade rather than abort: on API error the chunks survive without
// vectors and the reason lands in their metadata.
func (s *EmbeddingService) EmbedChunks(ctx context.Context, chunks []models.Chunk) []models.Chunk {
	var indices []int
	var texts []string
	for i := range chunks {
		if !chunks[i].IsEmbeddingTarget {
			continue
		}
		indices = append(indices, i)
		texts = append(texts, chunks[i].Content)
	}
	if len(texts) == 0 {
		return chunks
	}

	vectors, err := s.EmbedMany(ctx, texts)
	if err != nil {
		log.Printf("Warning: embedding failed for %d chunks: %v", len(texts), err)
		for _, i := range indices {
			if chunks[i].Metadata == nil {
				chunks[i].Metadata = map[string]interface{}{}
			}
			chunks[i].Metadata["embedding_error"] = err.Error()
		}
		return chunks
	}

	for j, i := range indices {
		chunks[i].Embedding = vectors[j]
	}

	return chunks
}

// post sends a JSON request with retry and exponential backoff
func (s *EmbeddingService) post(ctx context.Context, url string, reqBody interface{}, out interface{}) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := embeddingInitialDelay
	for attempt := 0; attempt < embeddingMaxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("Warning: embedding API retry %d/%d after error: %v", attempt, embeddingMaxRetries-1, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(respBody))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return lastErr
			}
			continue
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			lastErr = fmt.Errorf("failed to parse response: %w", err)
			continue
		}

		return nil
	}

	return lastErr
}

// normalizeVector scales a vector to unit length so cosine distance and
// dot product agree
func normalizeVector(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}

	return out
}
