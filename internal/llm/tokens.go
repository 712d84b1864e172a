package llm

import (
	"github.com/tiktoken-go/tokenizer"
)

// perMessageOverhead approximates the role/separator tokens of chat formatting
const perMessageOverhead = 4

// TokenCounter counts prompt tokens with the cl100k encoding
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter; if the codec cannot be loaded it
// falls back to a character estimate.
func NewTokenCounter() *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// Count returns the number of tokens in text
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len([]rune(text)) / 4
	}
	ids, _, err := tc.codec.Encode(text)
	if err != nil {
		return len([]rune(text)) / 4
	}
	return len(ids)
}

// CountMessages returns the token cost of a message list
func (tc *TokenCounter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += tc.Count(m.Content) + perMessageOverhead
	}
	return total
}

// Fit keeps the leading system messages and the most recent messages that
// fit within budget. The final message is always kept.
func (tc *TokenCounter) Fit(messages []Message, budget int) []Message {
	if tc.CountMessages(messages) <= budget {
		return messages
	}

	lead := 0
	for lead < len(messages) && messages[lead].Role == RoleSystem {
		lead++
	}
	head := messages[:lead]
	tail := messages[lead:]

	used := tc.CountMessages(head)
	keep := len(tail)
	for i := len(tail) - 1; i >= 0; i-- {
		cost := tc.Count(tail[i].Content) + perMessageOverhead
		if used+cost > budget && i < len(tail)-1 {
			break
		}
		used += cost
		keep = i
	}

	out := make([]Message, 0, len(head)+len(tail)-keep)
	out = append(out, head...)
	return append(out, tail[keep:]...)
}

// TailWithin returns the longest suffix of lines whose token count fits budget
func (tc *TokenCounter) TailWithin(lines []string, budget int) []string {
	if budget <= 0 {
		return lines
	}
	used := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		cost := tc.Count(lines[i]) + 1
		if used+cost > budget && i < len(lines)-1 {
			break
		}
		used += cost
		start = i
	}
	return lines[start:]
}
