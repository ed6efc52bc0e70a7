package services

import (
	"context"

	"github.com/jwebster45206/screenplay-engine/pkg/chat"
)

// LLMService defines the interface for interacting with the LLM API
type LLMService interface {
	// InitModel prepares the model on startup. Hosted providers treat it as a no-op.
	InitModel(ctx context.Context, modelName string) error

	// Complete runs a single-shot completion, optionally in JSON mode or with tools.
	Complete(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error)

	// Stream runs a completion and delivers text as it arrives. The channel is
	// closed after a chunk with Done or Error set.
	Stream(ctx context.Context, req chat.CompletionRequest) (<-chan chat.StreamChunk, error)

	// IsModelReady checks if the specified model is ready for use
	IsModelReady(ctx context.Context, modelName string) (bool, error)
}

const (
	defaultMaxTokens  = 1024
	streamChannelSize = 16
)

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

// splitSystem pulls system messages out of a conversation for providers that
// take the system prompt as a separate field.
func splitSystem(messages []chat.ChatMessage) (string, []chat.ChatMessage) {
	var system string
	rest := make([]chat.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == chat.ChatRoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func sendChunk(ctx context.Context, ch chan<- chat.StreamChunk, chunk chat.StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
