// Package conversation stores the messages exchanged between a user and the companion.
package conversation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInvalidInput is returned for missing ids or empty content.
	ErrInvalidInput = errors.New("conversation: invalid input")
	// ErrUnknownConversation is returned when appending to a conversation
	// that was never created with Ensure.
	ErrUnknownConversation = errors.New("conversation: unknown conversation")
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
)

// Order selects chronological or most-recent-first results.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Message is one stored utterance. Messages are immutable once appended.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CreatedAt      time.Time   `json:"timestamp"`
	// Seq breaks timestamp ties in insertion order.
	Seq int64 `json:"seq"`
}

// ID derives the conversation id for two participants. The result does not
// depend on argument order.
func ID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "-")
}

// Store is the conversation persistence contract the companion depends on.
type Store interface {
	// Ensure creates the conversation between a and b if needed and returns its id.
	Ensure(ctx context.Context, a, b string) (string, error)
	// Append stores msg in conversation id and returns the message id.
	Append(ctx context.Context, id string, msg Message) (string, error)
	// Recent returns up to limit messages. Descending returns the newest first.
	Recent(ctx context.Context, id string, limit int, order Order) ([]Message, error)
	// Subscribe calls fn with the conversation's recent messages, oldest
	// first, once on subscription and again after every append. Calls for one
	// subscription never overlap.
	Subscribe(id string, fn func([]Message)) (unsubscribe func())
	// ConversationsFor lists the ids of every conversation userID takes part in.
	ConversationsFor(ctx context.Context, userID string) ([]string, error)
}
