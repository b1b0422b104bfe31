package pipeline

import "strings"

// Reasoning span markers emitted by chain-of-thought models.
const (
	reasoningOpen  = "<think>"
	reasoningClose = "</think>"
)

// StripReasoning removes every span from an opening reasoning marker to the
// next closing marker, markers included. Matching is ASCII case-insensitive
// and spans may cross lines. An opening marker with no closing marker after
// it is kept as literal text, as is a stray closing marker.
func StripReasoning(s string) string {
	lower := asciiLower(s)
	var b strings.Builder
	pos := 0
	for {
		open := strings.Index(lower[pos:], reasoningOpen)
		if open < 0 {
			break
		}
		open += pos
		end := strings.Index(lower[open+len(reasoningOpen):], reasoningClose)
		if end < 0 {
			break
		}
		end += open + len(reasoningOpen) + len(reasoningClose)
		b.WriteString(s[pos:open])
		pos = end
	}
	b.WriteString(s[pos:])
	return b.String()
}

// ReplyText picks the spoken reply from an inference response: content, or
// the reasoning text when content is empty, with reasoning spans stripped and
// whitespace trimmed. An empty result yields fallback.
func ReplyText(content, reasoning, fallback string) string {
	raw := content
	if strings.TrimSpace(raw) == "" {
		raw = reasoning
	}
	reply := strings.TrimSpace(StripReasoning(raw))
	if reply == "" {
		return fallback
	}
	return reply
}

// asciiLower lowercases ASCII letters only, so byte offsets in the result
// match the input exactly.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
