package ai

import (
	"context"
	"math"

	"study-analyzer-platform/internal/logger"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// EmbeddingService produces fixed-dimension normalized vectors for text.
// The primary path calls the Gemini embedding model; when the model is
// unavailable or returns a wrong-shaped result, a deterministic hash-based
// vector is substituted so that Embed never fails and output is always
// well-shaped.
type EmbeddingService struct {
	client        *genai.Client
	model         string
	dimensions    int
	maxInputChars int
}

func NewEmbeddingService(ctx context.Context, apiKey, model string, dimensions, maxInputChars int) *EmbeddingService {
	svc := &EmbeddingService{
		model:         model,
		dimensions:    dimensions,
		maxInputChars: maxInputChars,
	}

	if apiKey == "" {
		logger.Warn("No API key for embeddings, using deterministic fallback only")
		return svc
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		logger.Warn("Failed to create embeddings client, using deterministic fallback only", "error", err)
		return svc
	}
	svc.client = client

	return svc
}

// Dimensions returns the fixed output vector length.
func (es *EmbeddingService) Dimensions() int {
	return es.dimensions
}

// Embed converts texts to vectors. The result always has len(texts) elements
// and every vector has exactly Dimensions() components.
func (es *EmbeddingService) Embed(ctx context.Context, texts []string) [][]float32 {
	embeddings := make([][]float32, 0, len(texts))

	for _, text := range texts {
		if len(text) > es.maxInputChars {
			text = text[:es.maxInputChars]
		}

		vec := es.embedOne(ctx, text)
		if len(vec) != es.dimensions {
			vec = es.fallbackEmbedding(text)
		}
		embeddings = append(embeddings, vec)
	}

	return embeddings
}

// EmbedQuery embeds a single query string.
func (es *EmbeddingService) EmbedQuery(ctx context.Context, text string) []float32 {
	return es.Embed(ctx, []string{text})[0]
}

func (es *EmbeddingService) embedOne(ctx context.Context, text string) []float32 {
	if es.client == nil {
		return es.fallbackEmbedding(text)
	}

	model := es.client.EmbeddingModel(es.model)
	resp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		logger.Warn("Embedding request failed, using fallback", "error", err)
		return es.fallbackEmbedding(text)
	}
	if resp.Embedding == nil {
		return es.fallbackEmbedding(text)
	}

	return resp.Embedding.Values
}

// fallbackEmbedding builds a deterministic vector seeded from the text's
// character codes. Same text always yields the same vector.
func (es *EmbeddingService) fallbackEmbedding(text string) []float32 {
	var hash int32
	for _, r := range text {
		hash = (hash << 5) - hash + int32(r)
	}

	embedding := make([]float32, es.dimensions)
	for i := range embedding {
		embedding[i] = float32(math.Sin(float64(hash)+float64(i)) * 0.1)
	}
	return embedding
}

// Close releases the underlying client.
func (es *EmbeddingService) Close() error {
	if es.client != nil {
		return es.client.Close()
	}
	return nil
}
