package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultOllamaModel = "llama3.2"

// ollamaAdapter implements LLMAdapter for a local Ollama instance.
type ollamaAdapter struct {
	client     *resty.Client
	model      string
	embedModel string
}

// NewOllama creates an Ollama adapter talking to host.
func NewOllama(host, model, embedModel string, timeout time.Duration) LLMAdapter {
	if model == "" {
		model = defaultOllamaModel
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(host, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &ollamaAdapter{client: c, model: model, embedModel: embedModel}
}

func (o *ollamaAdapter) Info() ModelInfo {
	return ModelInfo{
		Name:               o.model,
		Provider:           ProviderOllama,
		MaxContextWindow:   32768,
		SupportsStreaming:  true,
		EmbeddingDimension: 768,
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *ollamaAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var result ollamaEmbedResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(ollamaEmbedRequest{Model: o.embedModel, Input: texts}).
		SetResult(&result).
		Post("/api/embed")
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: unexpected status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaChatChunk is one NDJSON line of a chat response, or the whole
// response when not streaming.
type ollamaChatChunk struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error,omitempty"`
}

func (o *ollamaAdapter) Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	messages := []ollamaChatMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	if req.Context != "" {
		messages = append(messages, ollamaChatMessage{
			Role:    "system",
			Content: fmt.Sprintf("<context>\n%s\n</context>", req.Context),
		})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: req.UserMessage})

	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	body := ollamaChatRequest{Model: model, Messages: messages, Stream: req.Stream, Options: options}

	ch := make(chan StreamChunk, 64)

	go func() {
		defer close(ch)

		resp, err := o.client.R().
			SetContext(ctx).
			SetBody(body).
			SetDoNotParseResponse(true).
			Post("/api/chat")
		if err != nil {
			ch <- StreamChunk{Error: fmt.Errorf("ollama complete: %w", err)}
			return
		}
		raw := resp.RawBody()
		defer raw.Close()

		if resp.StatusCode() != http.StatusOK {
			ch <- StreamChunk{Error: fmt.Errorf("ollama complete: status %d", resp.StatusCode())}
			return
		}

		scanner := bufio.NewScanner(raw)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				ch <- StreamChunk{Error: fmt.Errorf("ollama stream decode: %w", err)}
				return
			}
			if chunk.Error != "" {
				ch <- StreamChunk{Error: fmt.Errorf("ollama complete: %s", chunk.Error)}
				return
			}
			if chunk.Message.Content != "" {
				ch <- StreamChunk{Text: chunk.Message.Content}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- StreamChunk{Error: fmt.Errorf("ollama stream scan: %w", err)}
		}
	}()

	return ch, nil
}
