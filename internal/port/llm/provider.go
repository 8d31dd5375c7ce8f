// Package llm defines the port interface for chat-completion providers.
package llm

import (
	"context"

	"github.com/consilium-health/consilium/internal/domain/consult"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Request describes one chat-completion call.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Response is a completed (non-streaming) model answer with billed usage.
type Response struct {
	Content string             `json:"content"`
	Model   string             `json:"model"`
	Usage   consult.TokenUsage `json:"usage"`
}

// Chunk is one streamed fragment of an answer. Done marks the final chunk,
// which also carries the total usage.
type Chunk struct {
	Text  string             `json:"text"`
	Done  bool               `json:"done"`
	Usage consult.TokenUsage `json:"usage"`
}

// Invoker is the port interface for model invocation.
type Invoker interface {
	// Invoke runs one chat completion to completion.
	Invoke(ctx context.Context, req Request) (*Response, error)

	// InvokeStream runs one chat completion, delivering fragments to emit as
	// they arrive. emit is called from a single goroutine.
	InvokeStream(ctx context.Context, req Request, emit func(Chunk)) (*Response, error)
}
