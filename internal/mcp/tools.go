package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/memvra/companion/internal/analysis"
	"github.com/memvra/companion/internal/memory"
)

// RegisterTools adds the companion tools to s.
func (s *Server) RegisterTools(ms *server.MCPServer) {
	ms.AddTool(mcp.NewTool("analyze_message",
		mcp.WithDescription("Classify a user message: health, mood, situation and life-event signals plus its best topic and importance score"),
		mcp.WithString("text", mcp.Required(), mcp.Description("The message to analyze")),
	), s.handleAnalyze)

	ms.AddTool(mcp.NewTool("list_memories",
		mcp.WithDescription("List what the companion remembers about a user, most important first"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User id")),
	), s.handleListMemories)

	ms.AddTool(mcp.NewTool("remember",
		mcp.WithDescription("Store a memory for a user. Topic and importance are derived from the content when omitted"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("What the user said")),
		mcp.WithString("topic", mcp.Description("Short topic label, e.g. \"your trip\"")),
		mcp.WithNumber("importance", mcp.Min(1), mcp.Max(10), mcp.Description("Importance from 1 to 10")),
	), s.handleRemember)

	ms.AddTool(mcp.NewTool("get_user_context",
		mcp.WithDescription("Show a user's background and activity timeline as the companion sees it"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User id")),
	), s.handleGetUserContext)

	ms.AddTool(mcp.NewTool("assemble_prompt",
		mcp.WithDescription("Build the generator prompt for a message without storing it or generating a reply"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User id")),
		mcp.WithString("companion_id", mcp.Required(), mcp.Description("Companion id")),
		mcp.WithString("message", mcp.Required(), mcp.Description("The user's message, or [AUTO_START]")),
	), s.handleAssemblePrompt)
}

type analyzeResult struct {
	Analysis analysis.Analysis   `json:"analysis"`
	Topic    analysis.TopicScore `json:"topic"`
}

func (s *Server) handleAnalyze(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	out, err := json.MarshalIndent(analyzeResult{
		Analysis: analysis.Analyze(text),
		Topic:    analysis.Score(text),
	}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode analysis: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) handleListMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	mems := memory.ByImportance(s.memories.Fetch(ctx, userID))
	if len(mems) == 0 {
		return mcp.NewToolResultText("No memories stored."), nil
	}

	now := s.now()
	var sb strings.Builder
	for _, m := range mems {
		fmt.Fprintf(&sb, "[%d] %s: %s\n  id: %s | context: %s | created: %s",
			m.Importance, m.Topic, m.Content, m.ID, m.Context, m.CreatedAt.Format("2006-01-02 15:04"))
		if m.Deferred(now) {
			fmt.Fprintf(&sb, " | not before: %s", m.RemindAfter.Format("2006-01-02"))
		}
		sb.WriteString("\n\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleRemember(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: content"), nil
	}

	score := analysis.Score(content)
	topic := req.GetString("topic", score.Topic)
	importance := req.GetInt("importance", score.Score)

	stored, err := s.memories.Remember(ctx, userID, topic, content, importance)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store memory: %v", err)), nil
	}
	if !stored {
		if s.memories.Knows(ctx, userID, topic) {
			return mcp.NewToolResultText(fmt.Sprintf("Already remembered recently: %s", topic)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Not stored: %s is outranked by more important memories", topic)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Remembered %q (importance %d)", topic, importance)), nil
}

func (s *Server) handleGetUserContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}

	var sb strings.Builder
	if p := s.formatter.FormatProfile(s.profiles.Get(ctx, userID)); p != "" {
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	sb.WriteString(s.formatter.FormatActivities(s.timeline.Snapshot(ctx, userID)))
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleAssemblePrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	companionID, err := req.RequireString("companion_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: companion_id"), nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: message"), nil
	}

	p, err := s.engine.Preview(ctx, userID, companionID, message)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to assemble prompt: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(p.SystemText())
	if p.Context != "" {
		sb.WriteString("\n\n")
		sb.WriteString(p.Context)
	}
	fmt.Fprintf(&sb, "\n\n---\nUser message: %s\nTokens: %d | Sources: %s\n",
		p.UserMessage, p.TokensUsed, strings.Join(p.Sources, ", "))
	return mcp.NewToolResultText(sb.String()), nil
}
