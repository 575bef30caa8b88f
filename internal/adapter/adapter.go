// Package adapter provides a unified interface for the text generators and
// embedders the companion can use.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider name constants.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// ErrEmptyCompletion is returned by Generate when the generator produced no text.
var ErrEmptyCompletion = errors.New("adapter: empty completion")

// StreamChunk is a single token or error delivered during streaming.
type StreamChunk struct {
	Text  string
	Error error
}

// CompletionRequest holds the parameters for a completion call.
type CompletionRequest struct {
	SystemPrompt string
	Context      string
	UserMessage  string
	Model        string
	MaxTokens    int
	Temperature  float64
	Stream       bool
}

// ModelInfo describes the capabilities of a model.
type ModelInfo struct {
	Name               string
	Provider           string
	MaxContextWindow   int
	SupportsStreaming  bool
	EmbeddingDimension int // 0 if not an embedding model
}

// LLMAdapter is the common interface all provider adapters implement.
type LLMAdapter interface {
	// Complete sends a prompt and streams the response.
	Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Info returns metadata about the adapter/model.
	Info() ModelInfo
}

// Options selects and configures a provider. Empty fields use each
// provider's defaults.
type Options struct {
	Provider string
	Model    string
	// APIKey empty means the provider's conventional environment variable.
	APIKey string
	// BaseURL overrides the API endpoint. For Ollama it is the server host.
	BaseURL    string
	EmbedModel string
	Timeout    time.Duration
}

// New constructs the LLMAdapter for opts.Provider.
func New(opts Options) (LLMAdapter, error) {
	switch opts.Provider {
	case ProviderClaude:
		return NewClaude(opts.APIKey, opts.Model, opts.BaseURL), nil
	case ProviderOpenAI:
		return NewOpenAI(opts.APIKey, opts.Model, opts.BaseURL), nil
	case ProviderOllama:
		host := opts.BaseURL
		if host == "" {
			host = "http://localhost:11434"
		}
		embedModel := opts.EmbedModel
		if embedModel == "" {
			embedModel = "nomic-embed-text"
		}
		return NewOllama(host, opts.Model, embedModel, opts.Timeout), nil
	case ProviderGemini:
		return NewGemini(opts.APIKey, opts.Model, opts.BaseURL, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("adapter: unknown provider %q; valid providers: claude, openai, ollama, gemini", opts.Provider)
	}
}

// Generate runs a completion and returns the whole reply.
func Generate(ctx context.Context, llm LLMAdapter, req CompletionRequest) (string, error) {
	ch, err := llm.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var firstErr error
	for chunk := range ch {
		if chunk.Error != nil {
			if firstErr == nil {
				firstErr = chunk.Error
			}
			continue
		}
		b.WriteString(chunk.Text)
	}
	if firstErr != nil {
		return "", firstErr
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}
