// Package llm defines the text-completion boundary used by the diagnosis
// engine and the SMS assistant. The live voice path does not go through this
// package; it speaks to the realtime session directly.
package llm

import "context"

// Message is one turn of a chat-style completion request.
type Message struct {
	// Role is "user", "assistant", or "system".
	Role string

	// Content is the message text. Images are embedded as data URLs inside
	// the text content.
	Content string
}

// Request describes one completion call.
type Request struct {
	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Temperature controls sampling randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the result of one completion call.
type Response struct {
	// Content is the assistant's reply text.
	Content string

	// Usage is the token accounting, when the provider reports it.
	Usage Usage
}

// Completer produces chat completions. Implementations must be safe for
// concurrent use.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
