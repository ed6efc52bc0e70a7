package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/jwebster45206/screenplay-engine/pkg/chat"
)

// GeminiService implements LLMService on the Gemini API.
type GeminiService struct {
	client    *genai.Client
	modelName string
	logger    *slog.Logger
}

var _ LLMService = (*GeminiService)(nil)

func NewGeminiService(ctx context.Context, apiKey, modelName string, logger *slog.Logger) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiService{client: client, modelName: modelName, logger: logger}, nil
}

func (g *GeminiService) Close() error {
	return g.client.Close()
}

func (g *GeminiService) InitModel(ctx context.Context, modelName string) error {
	return nil
}

func (g *GeminiService) IsModelReady(ctx context.Context, modelName string) (bool, error) {
	if _, err := g.client.GenerativeModel(modelName).Info(ctx); err != nil {
		return false, fmt.Errorf("gemini model %s: %w", modelName, err)
	}
	return true, nil
}

// prepare configures a model for the request and returns a chat session whose
// history holds every message except the last, which is returned as the prompt.
func (g *GeminiService) prepare(req chat.CompletionRequest) (*genai.ChatSession, string, string, error) {
	name := req.Model
	if name == "" {
		name = g.modelName
	}
	model := g.client.GenerativeModel(name)

	system, rest := splitSystem(req.Messages)
	if len(rest) == 0 {
		return nil, "", "", fmt.Errorf("gemini request needs at least one non-system message")
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if req.JSONMode {
		model.ResponseMIMEType = "application/json"
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	model.SetMaxOutputTokens(int32(maxTokensOrDefault(req.MaxTokens)))

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  toGeminiSchema(tool.Parameters),
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	session := model.StartChat()
	for _, m := range rest[:len(rest)-1] {
		role := "user"
		if m.Role == chat.ChatRoleAgent {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return session, rest[len(rest)-1].Content, name, nil
}

func (g *GeminiService) Complete(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	session, prompt, name, err := g.prepare(req)
	if err != nil {
		return nil, err
	}

	resp, err := session.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini completion failed: %w", err)
	}

	out := &chat.CompletionResponse{Model: name}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				out.Content += string(p)
			case genai.FunctionCall:
				args, err := json.Marshal(p.Args)
				if err != nil {
					return nil, fmt.Errorf("encode gemini function args: %w", err)
				}
				out.ToolCalls = append(out.ToolCalls, chat.ToolCall{Name: p.Name, Arguments: args})
			}
		}
		break
	}

	g.logger.Debug("gemini completion", "model", name, "tool_calls", len(out.ToolCalls))
	return out, nil
}

func (g *GeminiService) Stream(ctx context.Context, req chat.CompletionRequest) (<-chan chat.StreamChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("streaming does not support tools")
	}
	session, prompt, _, err := g.prepare(req)
	if err != nil {
		return nil, err
	}

	iter := session.SendMessageStream(ctx, genai.Text(prompt))
	ch := make(chan chat.StreamChunk, streamChannelSize)
	go func() {
		defer close(ch)
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				sendChunk(ctx, ch, chat.StreamChunk{Done: true})
				return
			}
			if err != nil {
				sendChunk(ctx, ch, chat.StreamChunk{Error: fmt.Errorf("gemini stream: %w", err)})
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if text, ok := part.(genai.Text); ok && text != "" {
						if !sendChunk(ctx, ch, chat.StreamChunk{Content: string(text)}) {
							return
						}
					}
				}
			}
		}
	}()
	return ch, nil
}

// toGeminiSchema converts the JSON-schema subset used by tool definitions.
func toGeminiSchema(raw map[string]any) *genai.Schema {
	if raw == nil {
		return nil
	}
	s := &genai.Schema{}
	switch raw["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	if desc, ok := raw["description"].(string); ok {
		s.Description = desc
	}
	if enum, ok := raw["enum"].([]string); ok {
		s.Enum = enum
	}
	if required, ok := raw["required"].([]string); ok {
		s.Required = required
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = toGeminiSchema(pm)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	return s
}
