package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

const defaultClaudeModel = "claude-sonnet-4-6"

// claudeAdapter implements LLMAdapter for Anthropic Claude.
type claudeAdapter struct {
	client *anthropic.Client
	model  string
}

// NewClaude creates a Claude adapter. If apiKey is empty, ANTHROPIC_API_KEY
// is used. An empty baseURL keeps the public endpoint.
func NewClaude(apiKey, model, baseURL string) LLMAdapter {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if model == "" {
		model = defaultClaudeModel
	}
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &claudeAdapter{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (c *claudeAdapter) Info() ModelInfo {
	return ModelInfo{
		Name:               c.model,
		Provider:           ProviderClaude,
		MaxContextWindow:   200000,
		SupportsStreaming:  true,
		EmbeddingDimension: 0,
	}
}

func (c *claudeAdapter) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, errors.New("claude adapter: embeddings not supported; use openai or ollama for embeddings")
}

func (c *claudeAdapter) Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	// Background facts travel ahead of the user's words.
	userContent := req.UserMessage
	if req.Context != "" {
		userContent = fmt.Sprintf("<context>\n%s\n</context>\n\n%s", req.Context, req.UserMessage)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	base := anthropic.MessagesRequest{
		Model: anthropic.Model(model),
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(userContent)},
			},
		},
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		base.Temperature = &t
	}

	ch := make(chan StreamChunk, 64)

	if !req.Stream {
		go func() {
			defer close(ch)
			resp, err := c.client.CreateMessages(ctx, base)
			if err != nil {
				ch <- StreamChunk{Error: fmt.Errorf("claude complete: %w", err)}
				return
			}
			for _, part := range resp.Content {
				if part.Type == anthropic.MessagesContentTypeText {
					ch <- StreamChunk{Text: part.GetText()}
				}
			}
		}()
		return ch, nil
	}

	go func() {
		defer close(ch)

		streamReq := anthropic.MessagesStreamRequest{
			MessagesRequest: base,
			OnContentBlockDelta: func(delta anthropic.MessagesEventContentBlockDeltaData) {
				if delta.Delta.Type == anthropic.MessagesContentTypeTextDelta {
					ch <- StreamChunk{Text: delta.Delta.GetText()}
				}
			},
		}

		_, err := c.client.CreateMessagesStream(ctx, streamReq)
		if err != nil && !errors.Is(err, io.EOF) {
			ch <- StreamChunk{Error: fmt.Errorf("claude stream: %w", err)}
		}
	}()

	return ch, nil
}
