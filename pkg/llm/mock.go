package llm

import (
	"context"
)

// MockLLMClient is a configurable LLMClient for tests. Set the function
// fields to script behavior; the call counters are plain ints, so tests
// that share one mock across worker pool goroutines should run the pool
// with MaxConcurrent of 1.
type MockLLMClient struct {
	// GenerateResponseFunc is called when GenerateResponse is invoked.
	// If nil, returns an empty result and nil error.
	GenerateResponseFunc func(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// CreateEmbeddingFunc is called when CreateEmbedding is invoked.
	// If nil, returns a nil vector and nil error.
	CreateEmbeddingFunc func(ctx context.Context, input string, model string) ([]float32, error)

	GenerateResponseCalls int
	CreateEmbeddingCalls  int
}

// NewMockLLMClient creates a mock that succeeds with empty results.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{}
}

// GenerateResponse implements LLMClient.
func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	m.GenerateResponseCalls++
	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, prompt, systemMessage, temperature)
	}
	return &GenerateResponseResult{}, nil
}

// CreateEmbedding implements LLMClient.
func (m *MockLLMClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	m.CreateEmbeddingCalls++
	if m.CreateEmbeddingFunc != nil {
		return m.CreateEmbeddingFunc(ctx, input, model)
	}
	return nil, nil
}

var _ LLMClient = (*MockLLMClient)(nil)

// MockClientFactory is a configurable LLMClientFactory for tests.
// By default both create methods hand out the shared MockClient.
type MockClientFactory struct {
	CreateChatClientFunc      func() (LLMClient, error)
	CreateEmbeddingClientFunc func() (LLMClient, error)

	// MockClient is returned when the function fields are nil.
	MockClient *MockLLMClient
}

// NewMockClientFactory creates a factory around a fresh MockLLMClient.
func NewMockClientFactory() *MockClientFactory {
	return &MockClientFactory{
		MockClient: NewMockLLMClient(),
	}
}

// CreateChatClient implements LLMClientFactory.
func (f *MockClientFactory) CreateChatClient() (LLMClient, error) {
	if f.CreateChatClientFunc != nil {
		return f.CreateChatClientFunc()
	}
	return f.MockClient, nil
}

// CreateEmbeddingClient implements LLMClientFactory.
func (f *MockClientFactory) CreateEmbeddingClient() (LLMClient, error) {
	if f.CreateEmbeddingClientFunc != nil {
		return f.CreateEmbeddingClientFunc()
	}
	return f.MockClient, nil
}

var _ LLMClientFactory = (*MockClientFactory)(nil)
