package llm

import (
	"context"
	"iter"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)

	// Stream sends a chat completion request and returns a lazy sequence of
	// incremental deltas. A non-nil error ends the sequence. The upstream
	// connection is released as soon as the consumer stops iterating.
	Stream(ctx context.Context, messages []Message, tools []Tool) iter.Seq2[Delta, error]
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
