package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/config"
)

// LLMClientFactory is the interface for creating LLM clients.
// Use this interface for dependency injection and testing.
type LLMClientFactory interface {
	CreateChatClient() (LLMClient, error)
	CreateEmbeddingClient() (LLMClient, error)
}

// ClientFactory creates LLM clients based on engine AI configuration.
// Chat clients target the configured provider (OpenAI-compatible or
// Anthropic); embedding clients always target an OpenAI-compatible
// embeddings endpoint.
type ClientFactory struct {
	cfg    *config.AIConfig
	logger *zap.Logger
}

// NewClientFactory creates a new factory.
func NewClientFactory(cfg *config.AIConfig, logger *zap.Logger) *ClientFactory {
	return &ClientFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateChatClient creates an LLM client for chat completions.
// Returns LLMClient interface to enable dependency injection of mocks.
func (f *ClientFactory) CreateChatClient() (LLMClient, error) {
	if f.cfg.Provider == config.AIProviderAnthropic {
		client, err := NewAnthropicClient(f.cfg.AnthropicAPIKey, f.cfg.AnthropicModel, f.logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	}

	client, err := NewClient(&Config{
		Endpoint: f.cfg.LLMBaseURL,
		Model:    f.cfg.LLMModel,
		APIKey:   f.cfg.LLMAPIKey,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return client, nil
}

// CreateEmbeddingClient creates a client specifically for embeddings.
// Uses embedding-specific config if available, falls back to LLM config.
// Returns LLMClient interface to enable dependency injection of mocks.
func (f *ClientFactory) CreateEmbeddingClient() (LLMClient, error) {
	client, err := NewClient(&Config{
		Endpoint: f.cfg.EffectiveEmbeddingBaseURL(),
		Model:    f.cfg.EmbeddingModel,
		APIKey:   f.cfg.EffectiveEmbeddingAPIKey(),
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	return client, nil
}

// Ensure ClientFactory implements LLMClientFactory at compile time.
var _ LLMClientFactory = (*ClientFactory)(nil)
