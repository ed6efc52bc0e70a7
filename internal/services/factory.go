package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jwebster45206/screenplay-engine/internal/config"
)

const defaultOllamaURL = "http://localhost:11434"

// NewLLMService builds the provider selected by cfg.LLMProvider.
func NewLLMService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (LLMService, error) {
	provider := strings.ToLower(cfg.LLMProvider)
	switch provider {
	case "openai":
		return NewOpenAIService(cfg.OpenAIAPIKey, cfg.LLMBaseURL, cfg.ModelName, logger), nil
	case "ollama":
		baseURL := cfg.LLMBaseURL
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = strings.TrimRight(baseURL, "/") + "/v1"
		}
		return NewOpenAIService("ollama", baseURL, cfg.ModelName, logger), nil
	case "anthropic", "claude":
		return NewAnthropicService(cfg.AnthropicAPIKey, cfg.LLMBaseURL, cfg.ModelName, logger), nil
	case "gemini":
		return NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.ModelName, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}
