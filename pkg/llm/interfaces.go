// Package llm provides the model clients kb-engine uses to judge
// resolution reports and score candidate articles: an OpenAI-compatible
// client, an Anthropic client, and the retry, circuit breaker and
// worker pool plumbing around them.
package llm

import (
	"context"
)

// GenerateResponseResult contains a chat completion response with usage stats.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMClient is the provider-neutral surface the matcher and the
// resolution judge program against. Inject mocks through this
// interface in tests.
type LLMClient interface {
	// GenerateResponse generates a chat completion response with usage stats.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// CreateEmbedding generates an embedding vector for the input text.
	// Pass an empty model to use the provider default.
	CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error)
}

var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
)
