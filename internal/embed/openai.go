package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"golang.org/x/time/rate"
)

// OpenAIEmbedder generates embeddings via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	apiKey  string
	model   string
	client  openai.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewOpenAIEmbedder creates an OpenAIEmbedder with the given API key and model.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		apiKey:  apiKey,
		model:   model,
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		timeout: 30 * time.Second,
	}
}

// Available returns true if the API key is configured.
func (e *OpenAIEmbedder) Available() bool {
	return e.apiKey != ""
}

// EmbedBatch generates embeddings for multiple texts. Inputs are split into
// chunks to respect API limits; each chunk carries its own timeout so one
// slow call cannot stall the whole batch indefinitely.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))

	const chunkSize = 100
	for chunkStart := 0; chunkStart < len(texts); chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > len(texts) {
			chunkEnd = len(texts)
		}
		chunk := texts[chunkStart:chunkEnd]

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embed: rate limiter wait failed: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		resp, err := e.client.Embeddings.New(callCtx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: chunk,
			},
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("embed: batch chunk starting at %d failed: %w", chunkStart, err)
		}

		// Use the Index field to place embeddings in order within the chunk.
		for _, item := range resp.Data {
			idx := int(item.Index)
			if idx < 0 || idx >= len(chunk) {
				return nil, fmt.Errorf("embed: out-of-range index %d for chunk of size %d", idx, len(chunk))
			}
			vec := make([]float32, len(item.Embedding))
			for i, v := range item.Embedding {
				vec[i] = float32(v)
			}
			results[chunkStart+idx] = vec
		}
	}

	for i, r := range results {
		if r == nil {
			return nil, fmt.Errorf("embed: missing embedding for index %d", i)
		}
	}

	return results, nil
}

// Compile-time interface check.
var _ Embedder = (*OpenAIEmbedder)(nil)
