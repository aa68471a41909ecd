// Package embedding provides vector generation for chunk content.
// Supports two backends: Ollama (local) and OpenAI (cloud).
package embedding

import (
	"context"
	"errors"
	"fmt"

	"cogkernel/internal/config"
	"cogkernel/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// HealthChecker is an optional interface for engines that can report
// availability. The queue worker skips a cycle entirely when the provider
// is down, instead of burning entry retries.
type HealthChecker interface {
	// HealthCheck returns nil if the provider is reachable.
	HealthCheck(ctx context.Context) error
}

// ErrUnavailable wraps provider-down conditions so callers can tell them
// apart from content-level failures.
var ErrUnavailable = errors.New("embedding provider unavailable")

// IsUnavailable reports whether err represents provider unavailability.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// NewEngine creates an embedding engine from configuration.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("Creating embedding engine: provider=%s", cfg.Provider)

	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "openai":
		return NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'openai')", cfg.Provider)
	}
}
