package embedding

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

const defaultGeminiEmbeddingModel = "text-embedding-004"

// GeminiClient generates embeddings with the Gemini API.
type GeminiClient struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGeminiClient creates a Gemini-backed Embedder.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("Gemini API key is required", nil)
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, domain.ConfigError("failed to create Gemini client", err)
	}
	model := cfg.Model
	if model == "" || strings.Contains(model, "/") {
		model = defaultGeminiEmbeddingModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 768
	}
	return &GeminiClient{client: cl, model: model, dimension: dim}, nil
}

// Close releases the underlying client.
func (g *GeminiClient) Close() error {
	return g.client.Close()
}

// Embed embeds texts in one batch call.
func (g *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, domain.TransportError("gemini embed", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, domain.TransportError("gemini returned a partial embedding batch", nil)
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (g *GeminiClient) Model() string  { return g.model }
func (g *GeminiClient) Dimension() int { return g.dimension }
