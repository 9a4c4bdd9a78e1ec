// Package providers contains the model-provider clients the enricher calls.
// Two wire dialects cover the fleet: anthropic-style (haiku-class models)
// and openai-compatible (the nova-class endpoints).
package providers

import (
	"context"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic completion request.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
}

// ChatResponse carries the completion text plus observed token usage, which
// feeds actual-cost accounting.
type ChatResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Provider defines the interface for model providers.
type Provider interface {
	// Chat sends a chat request and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Probe validates that the given model is invocable with a minimal
	// 1-token request.
	Probe(ctx context.Context, model string) error

	// Name returns the provider name.
	Name() string
}
