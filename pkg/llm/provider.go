package llm

import (
	"context"
	"time"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	// opts may be nil.
	Complete(ctx context.Context, messages []Message, opts *Options) (*Response, error)
}

// Options adjust a single completion request.
type Options struct {
	// JSON asks the backend to answer with a single JSON object.
	JSON bool
	// MaxTokens overrides Config.MaxTokens when positive.
	MaxTokens int
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}
