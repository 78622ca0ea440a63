package embeddings

import (
	"context"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Dimensions is the fixed embedding vector length the index schema uses.
const Dimensions = 1536

// Embedder converts text into a fixed-length vector. Implementations
// must return an empty vector (never an error) on empty input or
// provider failure so callers can fall back to lexical-only search.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// OpenAIEmbedder computes embeddings through the OpenAI API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAI creates an embedder using text-embedding-3-small.
func NewOpenAI(apiKey string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  openai.SmallEmbedding3,
	}
}

// Embed returns the embedding for text. Empty or whitespace-only input
// returns an empty vector without calling the provider.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) []float32 {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if text == "" {
		return []float32{}
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		log.Printf("embeddings: request failed: %v", err)
		return []float32{}
	}
	if len(resp.Data) == 0 {
		return []float32{}
	}
	return resp.Data[0].Embedding
}

// None is an Embedder that always returns an empty vector, used when no
// API key is configured. Search degrades to lexical-only.
type None struct{}

// Embed implements Embedder.
func (None) Embed(context.Context, string) []float32 { return []float32{} }
