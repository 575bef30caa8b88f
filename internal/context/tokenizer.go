// Package context assembles the generator prompt for one companion turn from
// history, timeline, memories, the user's background and ambient facts.
package context

import (
	"fmt"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer wraps tiktoken for approximate token counting.
// A nil *Tokenizer estimates four runes per token.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer creates a Tokenizer using the cl100k_base encoding.
func NewTokenizer() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("tokenizer: get encoding: %w", err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Count returns the approximate number of tokens in s.
func (t *Tokenizer) Count(s string) int {
	if t == nil || t.enc == nil {
		return (utf8.RuneCountInString(s) + 3) / 4
	}
	return len(t.enc.Encode(s, nil, nil))
}

// Truncate truncates s to at most maxTokens tokens, returning the result.
func (t *Tokenizer) Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if t == nil || t.enc == nil {
		r := []rune(s)
		if len(r) <= maxTokens*4 {
			return s
		}
		return string(r[:maxTokens*4])
	}
	tokens := t.enc.Encode(s, nil, nil)
	if len(tokens) <= maxTokens {
		return s
	}
	return t.enc.Decode(tokens[:maxTokens])
}
