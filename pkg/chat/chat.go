package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ChatRoleUser   = "user"      // prompt context
	ChatRoleAgent  = "assistant" // model output
	ChatRoleSystem = "system"    // persona and rules
)

// ChatMessage represents a single chat message in the conversation sent to the LLM.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ToolDefinition describes a function the model may call. Parameters is a JSON schema.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is one function call returned by the model, with raw JSON arguments.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionRequest is a provider-neutral completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	JSONMode    bool // response must be a bare JSON object
	Temperature float64
	MaxTokens   int
	Tools       []ToolDefinition
}

func (r CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("no messages provided")
	}
	if r.JSONMode && len(r.Tools) > 0 {
		return fmt.Errorf("json mode and tools cannot be combined")
	}
	return nil
}

// CompletionResponse carries the text of a single-shot completion and any tool calls.
type CompletionResponse struct {
	Content   string
	ToolCalls []ToolCall
	Model     string
}

// StreamChunk is one piece of a streamed completion. The final chunk has Done set.
type StreamChunk struct {
	Content string
	Done    bool
	Error   error
}

// Collect drains a stream and concatenates its content.
func Collect(ctx context.Context, ch <-chan StreamChunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Error != nil {
				return sb.String(), chunk.Error
			}
			sb.WriteString(chunk.Content)
			if chunk.Done {
				return sb.String(), nil
			}
		}
	}
}
