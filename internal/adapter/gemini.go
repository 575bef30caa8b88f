package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultGeminiModel      = "gemini-2.0-flash"
	defaultGeminiEmbedModel = "text-embedding-004"
	defaultGeminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
)

// geminiAdapter implements LLMAdapter for Google Gemini via the REST API.
type geminiAdapter struct {
	client *resty.Client
	model  string
}

// NewGemini creates a Gemini adapter. If apiKey is empty, GEMINI_API_KEY is used.
func NewGemini(apiKey, model, baseURL string, timeout time.Duration) LLMAdapter {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", apiKey).
		SetTimeout(timeout)
	return &geminiAdapter{client: c, model: model}
}

func (g *geminiAdapter) Info() ModelInfo {
	return ModelInfo{
		Name:               g.model,
		Provider:           ProviderGemini,
		MaxContextWindow:   1000000,
		SupportsStreaming:  true,
		EmbeddingDimension: 768, // text-embedding-004
	}
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func (g *geminiAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := geminiBatchEmbedRequest{Requests: make([]geminiEmbedRequest, len(texts))}
	for i, text := range texts {
		body.Requests[i] = geminiEmbedRequest{
			Model:   "models/" + defaultGeminiEmbedModel,
			Content: geminiContent{Parts: []geminiPart{{Text: text}}},
		}
	}

	var result geminiBatchEmbedResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/models/" + defaultGeminiEmbedModel + ":batchEmbedContents")
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("gemini embed: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// geminiGenerateRequest is the request body for generateContent and streamGenerateContent.
type geminiGenerateRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (r geminiGenerateResponse) text() (string, error) {
	if r.Error != nil {
		return "", fmt.Errorf("gemini api error %d: %s", r.Error.Code, r.Error.Message)
	}
	var b strings.Builder
	for _, cand := range r.Candidates {
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

func (g *geminiAdapter) Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	systemText := req.SystemPrompt
	if req.Context != "" {
		systemText += fmt.Sprintf("\n\n<context>\n%s\n</context>", req.Context)
	}
	body := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.UserMessage}}}},
		GenerationConfig: &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	if strings.TrimSpace(systemText) != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemText}}}
	}

	ch := make(chan StreamChunk, 64)

	if !req.Stream {
		go func() {
			defer close(ch)
			var result geminiGenerateResponse
			resp, err := g.client.R().
				SetContext(ctx).
				SetBody(body).
				SetResult(&result).
				SetError(&result).
				Post("/models/" + model + ":generateContent")
			if err != nil {
				ch <- StreamChunk{Error: fmt.Errorf("gemini complete: %w", err)}
				return
			}
			if resp.StatusCode() != http.StatusOK && result.Error == nil {
				ch <- StreamChunk{Error: fmt.Errorf("gemini complete: status %d: %s", resp.StatusCode(), resp.String())}
				return
			}
			text, err := result.text()
			if err != nil {
				ch <- StreamChunk{Error: err}
				return
			}
			ch <- StreamChunk{Text: text}
		}()
		return ch, nil
	}

	go func() {
		defer close(ch)

		resp, err := g.client.R().
			SetContext(ctx).
			SetBody(body).
			SetQueryParam("alt", "sse").
			SetDoNotParseResponse(true).
			Post("/models/" + model + ":streamGenerateContent")
		if err != nil {
			ch <- StreamChunk{Error: fmt.Errorf("gemini stream: %w", err)}
			return
		}
		raw := resp.RawBody()
		defer raw.Close()

		if resp.StatusCode() != http.StatusOK {
			ch <- StreamChunk{Error: fmt.Errorf("gemini stream: status %d", resp.StatusCode())}
			return
		}

		// Each SSE event is "data: {json}".
		scanner := bufio.NewScanner(raw)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var event geminiGenerateResponse
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				ch <- StreamChunk{Error: fmt.Errorf("gemini stream decode: %w", err)}
				return
			}
			text, err := event.text()
			if err != nil {
				ch <- StreamChunk{Error: err}
				return
			}
			if text != "" {
				ch <- StreamChunk{Text: text}
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- StreamChunk{Error: fmt.Errorf("gemini stream scan: %w", err)}
		}
	}()

	return ch, nil
}
