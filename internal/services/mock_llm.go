package services

import (
	"context"
	"sync"

	"github.com/jwebster45206/screenplay-engine/pkg/chat"
)

// MockLLMAPI is a mock implementation of LLMService for testing
type MockLLMAPI struct {
	InitModelFunc    func(ctx context.Context, modelName string) error
	CompleteFunc     func(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error)
	StreamFunc       func(ctx context.Context, req chat.CompletionRequest) (<-chan chat.StreamChunk, error)
	IsModelReadyFunc func(ctx context.Context, modelName string) (bool, error)

	// Track calls for testing
	InitModelCalls    []string
	CompleteCalls     []chat.CompletionRequest
	StreamCalls       []chat.CompletionRequest
	IsModelReadyCalls []string

	mu sync.Mutex // protects all fields above
}

var _ LLMService = (*MockLLMAPI)(nil)

// NewMockLLMAPI creates a new mock LLM service
func NewMockLLMAPI() *MockLLMAPI {
	return &MockLLMAPI{
		InitModelCalls:    make([]string, 0),
		CompleteCalls:     make([]chat.CompletionRequest, 0),
		StreamCalls:       make([]chat.CompletionRequest, 0),
		IsModelReadyCalls: make([]string, 0),
	}
}

// InitModel mocks model initialization
func (m *MockLLMAPI) InitModel(ctx context.Context, modelName string) error {
	m.mu.Lock()
	m.InitModelCalls = append(m.InitModelCalls, modelName)
	fn := m.InitModelFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, modelName)
	}
	return nil
}

// Complete mocks a single-shot completion
func (m *MockLLMAPI) Complete(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, req)
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &chat.CompletionResponse{Content: "Mock response", Model: "mock"}, nil
}

// Stream mocks a streamed completion. Without a StreamFunc it streams the
// Complete result as a single chunk.
func (m *MockLLMAPI) Stream(ctx context.Context, req chat.CompletionRequest) (<-chan chat.StreamChunk, error) {
	m.mu.Lock()
	m.StreamCalls = append(m.StreamCalls, req)
	fn := m.StreamFunc
	complete := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	content := "Mock response"
	if complete != nil {
		resp, err := complete(ctx, req)
		if err != nil {
			return nil, err
		}
		content = resp.Content
	}
	return StreamOf(content), nil
}

// IsModelReady mocks model readiness check
func (m *MockLLMAPI) IsModelReady(ctx context.Context, modelName string) (bool, error) {
	m.mu.Lock()
	m.IsModelReadyCalls = append(m.IsModelReadyCalls, modelName)
	fn := m.IsModelReadyFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, modelName)
	}
	return true, nil
}

// StreamOf returns a closed stream that yields each part and then Done.
func StreamOf(parts ...string) <-chan chat.StreamChunk {
	ch := make(chan chat.StreamChunk, len(parts)+1)
	for _, p := range parts {
		ch <- chat.StreamChunk{Content: p}
	}
	ch <- chat.StreamChunk{Done: true}
	close(ch)
	return ch
}

// Reset clears all call tracking
func (m *MockLLMAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitModelCalls = make([]string, 0)
	m.CompleteCalls = make([]chat.CompletionRequest, 0)
	m.StreamCalls = make([]chat.CompletionRequest, 0)
	m.IsModelReadyCalls = make([]string, 0)
}

// SetCompleteResponse makes Complete return the given content
func (m *MockLLMAPI) SetCompleteResponse(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = func(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		return &chat.CompletionResponse{Content: content, Model: "mock"}, nil
	}
}

// SetToolCalls makes Complete return the given tool calls and no text
func (m *MockLLMAPI) SetToolCalls(calls ...chat.ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = func(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		return &chat.CompletionResponse{ToolCalls: calls, Model: "mock"}, nil
	}
}

// SetCompleteError sets up the mock to return an error on Complete
func (m *MockLLMAPI) SetCompleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = func(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		return nil, err
	}
}

// SetStreamResponse makes Stream yield the given parts
func (m *MockLLMAPI) SetStreamResponse(parts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamFunc = func(ctx context.Context, req chat.CompletionRequest) (<-chan chat.StreamChunk, error) {
		return StreamOf(parts...), nil
	}
}

// SetStreamError sets up the mock to return an error on Stream
func (m *MockLLMAPI) SetStreamError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamFunc = func(ctx context.Context, req chat.CompletionRequest) (<-chan chat.StreamChunk, error) {
		return nil, err
	}
}

// SetInitModelError sets up the mock to return an error on InitModel
func (m *MockLLMAPI) SetInitModelError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitModelFunc = func(ctx context.Context, modelName string) error {
		return err
	}
}

// SetModelNotReady sets up the mock to return false for IsModelReady
func (m *MockLLMAPI) SetModelNotReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IsModelReadyFunc = func(ctx context.Context, modelName string) (bool, error) {
		return false, nil
	}
}

// GetCalls returns a copy of the call tracking data in a thread-safe way
func (m *MockLLMAPI) GetCalls() (complete []chat.CompletionRequest, stream []chat.CompletionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	complete = make([]chat.CompletionRequest, len(m.CompleteCalls))
	copy(complete, m.CompleteCalls)

	stream = make([]chat.CompletionRequest, len(m.StreamCalls))
	copy(stream, m.StreamCalls)

	return complete, stream
}
