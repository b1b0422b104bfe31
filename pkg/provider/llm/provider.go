// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local chat-completion API (e.g., a
// llama.cpp server, Ollama, or OpenAI) and exposes a single blocking
// completion call. The bridge asks one question per utterance, so there is no
// streaming, tool calling, or conversation memory.
//
// Implementors must be safe for concurrent use and must return promptly when
// ctx is cancelled or its deadline passes.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is the user's
	// transcribed question.
	Messages []Message

	// SystemPrompt is an optional instruction injected before Messages as a
	// "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the server default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means use the
	// provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the assistant's reply as returned by the server. It may
	// still contain inline reasoning markup.
	Content string

	// Reasoning is the separate reasoning text some servers return next to
	// Content (e.g., llama.cpp's "reasoning_content"). Empty when the server
	// does not split reasoning out.
	Reasoning string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails, the response carries no
	// choices, or ctx is done before the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
