package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEngine generates embeddings through the OpenAI API.
type OpenAIEngine struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dims   int
}

// NewOpenAIEngine creates an OpenAI embedding engine.
func NewOpenAIEngine(apiKey, model string) (*OpenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai provider requires an api key")
	}
	m := openai.EmbeddingModel(model)
	dims := 1536
	if m == "" {
		m = openai.SmallEmbedding3
	}
	if m == openai.LargeEmbedding3 {
		dims = 3072
	}
	return &OpenAIEngine{
		client: openai.NewClient(apiKey),
		model:  m,
		dims:   dims,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: e.model,
		Input: []string{text},
	})
	if err != nil {
		var netErr net.Error
		var apiErr *openai.APIError
		switch {
		case errors.As(err, &netErr):
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		case errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 500:
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		case errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429:
			return nil, fmt.Errorf("%w: rate limited", ErrUnavailable)
		}
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned empty embedding")
	}
	return resp.Data[0].Embedding, nil
}

// HealthCheck issues a minimal embedding request to verify reachability.
func (e *OpenAIEngine) HealthCheck(ctx context.Context) error {
	_, err := e.client.ListModels(ctx)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	return nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *OpenAIEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *OpenAIEngine) Name() string {
	return fmt.Sprintf("openai:%s", e.model)
}
