// Package tokenizer counts and trims text by model tokens.
package tokenizer

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding is the tiktoken encoding used for GPT-4 class models.
const Encoding = "cl100k_base"

// Tokenizer wraps a tiktoken encoder. A nil *Tokenizer is usable and falls
// back to a length-based estimate.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New loads the cl100k_base encoding. The first call may download the BPE
// ranks, so callers should treat an error as "estimate instead".
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", Encoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	if t == nil || t.enc == nil {
		return estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate cuts text so that it fits in maxTokens, appending a marker when
// something was dropped. maxTokens <= 0 disables truncation.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || t.CountTokens(text) <= maxTokens {
		return text
	}
	const marker = "\n...[truncated]"

	if t == nil || t.enc == nil {
		// Roughly four bytes per token; keep rune boundaries intact.
		limit := maxTokens * 4
		for limit > 0 && !utf8.RuneStart(text[limit]) {
			limit--
		}
		return text[:limit] + marker
	}

	tokens := t.enc.Encode(text, nil, nil)
	return validPrefix(t.enc.Decode(tokens[:maxTokens])) + marker
}

// validPrefix drops a trailing partial rune left by cutting between the
// byte-level tokens of one character.
func validPrefix(s string) string {
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
