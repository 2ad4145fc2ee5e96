package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsg-jongho/smartclm-eval/models"

	"github.com/google/generative-ai-go/genai"
)

const defaultGenerationModel = "gemini-2.0-flash"

// ErrEmptyCompletion is returned when the model produces no usable text
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// LLMResult carries the text of a completion together with its usage
// accounting
type LLMResult struct {
	Text             string
	Usage            models.TokenCounts
	ProcessingTimeMS int64
}

// LLMClient is the minimal generation surface the analysis chain needs
type LLMClient interface {
	Invoke(ctx context.Context, prompt string, maxTokens int, temperature float64) (*LLMResult, error)
	ModelName() string
}

// GeminiService wraps the Gemini SDK for text generation
type GeminiService struct {
	client    *genai.Client
	modelName string
}

// GeminiOption configures a GeminiService
type GeminiOption func(*GeminiService)

// GeminiWithModel overrides the generation model name
func GeminiWithModel(name string) GeminiOption {
	return func(s *GeminiService) {
		s.modelName = name
	}
}

// NewGeminiService creates a generation service backed by the given client
func NewGeminiService(client *genai.Client, opts ...GeminiOption) *GeminiService {
	s := &GeminiService{
		client:    client,
		modelName: defaultGenerationModel,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ModelName returns the configured generation model
func (s *GeminiService) ModelName() string {
	return s.modelName
}

// Invoke sends a prompt and returns the completion text with token usage
func (s *GeminiService) Invoke(ctx context.Context, prompt string, maxTokens int, temperature float64) (*LLMResult, error) {
	model := s.client.GenerativeModel(s.modelName)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.SetTemperature(float32(temperature))

	started := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	result := &LLMResult{ProcessingTimeMS: elapsed}
	if resp.UsageMetadata != nil {
		result.Usage = models.TokenCounts{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				result.Text += string(text)
			}
		}
	}
	if result.Text == "" {
		return nil, ErrEmptyCompletion
	}

	return result, nil
}
