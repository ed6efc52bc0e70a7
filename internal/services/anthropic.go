package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/jwebster45206/screenplay-engine/pkg/chat"
)

// Anthropic has no response-format switch, so JSON mode is requested in the system prompt.
const anthropicJSONInstruction = "只输出一个JSON对象，不要输出任何其他文字。"

// AnthropicService implements LLMService on the Anthropic messages API.
type AnthropicService struct {
	client    *anthropic.Client
	modelName string
	logger    *slog.Logger
}

var _ LLMService = (*AnthropicService)(nil)

func NewAnthropicService(apiKey, baseURL, modelName string, logger *slog.Logger) *AnthropicService {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicService{
		client:    anthropic.NewClient(apiKey, opts...),
		modelName: modelName,
		logger:    logger,
	}
}

func (a *AnthropicService) InitModel(ctx context.Context, modelName string) error {
	return nil
}

// IsModelReady reports true when a model name is configured; the API has no cheap readiness check.
func (a *AnthropicService) IsModelReady(ctx context.Context, modelName string) (bool, error) {
	return modelName != "", nil
}

func (a *AnthropicService) buildRequest(req chat.CompletionRequest) anthropic.MessagesRequest {
	model := req.Model
	if model == "" {
		model = a.modelName
	}

	system, rest := splitSystem(req.Messages)
	if req.JSONMode {
		if system != "" {
			system += "\n\n"
		}
		system += anthropicJSONInstruction
	}

	messages := make([]anthropic.Message, 0, len(rest))
	for _, m := range rest {
		if m.Role == chat.ChatRoleAgent {
			messages = append(messages, anthropic.NewAssistantTextMessage(m.Content))
			continue
		}
		messages = append(messages, anthropic.NewUserTextMessage(m.Content))
	}

	out := anthropic.MessagesRequest{
		Model:     anthropic.Model(model),
		Messages:  messages,
		System:    system,
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		out.Temperature = &temp
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, anthropic.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}
	return out
}

func (a *AnthropicService) Complete(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, err := a.client.CreateMessages(ctx, a.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic completion failed: %w", err)
	}

	out := &chat.CompletionResponse{Model: string(resp.Model)}
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				out.Content += *block.Text
			}
		case anthropic.MessagesContentTypeToolUse:
			if block.MessageContentToolUse == nil {
				continue
			}
			args := json.RawMessage(block.MessageContentToolUse.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, chat.ToolCall{
				ID:        block.MessageContentToolUse.ID,
				Name:      block.MessageContentToolUse.Name,
				Arguments: args,
			})
		}
	}

	a.logger.Debug("anthropic completion", "model", resp.Model,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens,
		"tool_calls", len(out.ToolCalls))
	return out, nil
}

func (a *AnthropicService) Stream(ctx context.Context, req chat.CompletionRequest) (<-chan chat.StreamChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("streaming does not support tools")
	}

	ch := make(chan chat.StreamChunk, streamChannelSize)
	streamReq := anthropic.MessagesStreamRequest{
		MessagesRequest: a.buildRequest(req),
		OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
			if data.Delta.Text == nil || *data.Delta.Text == "" {
				return
			}
			sendChunk(ctx, ch, chat.StreamChunk{Content: *data.Delta.Text})
		},
	}

	go func() {
		defer close(ch)
		if _, err := a.client.CreateMessagesStream(ctx, streamReq); err != nil {
			sendChunk(ctx, ch, chat.StreamChunk{Error: fmt.Errorf("anthropic stream: %w", err)})
			return
		}
		sendChunk(ctx, ch, chat.StreamChunk{Done: true})
	}()
	return ch, nil
}
