package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Port         string     `env:"PORT" envDefault:"8080"`
	Environment  string     `env:"ENVIRONMENT" envDefault:"development"`
	LogLevelName string     `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel     slog.Level `env:"-"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/screenplay.db"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	LLMProvider     string `env:"LLM_PROVIDER" envDefault:"openai"`
	LLMBaseURL      string `env:"LLM_BASE_URL"`
	ModelName       string `env:"MODEL_NAME" envDefault:"gpt-4o-mini"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	WorkerID     string `env:"WORKER_ID"`

	// EngineConfigFile is an optional TOML file whose values override Engine.
	EngineConfigFile string `env:"ENGINE_CONFIG_FILE"`
	Engine           Engine `envPrefix:"ENGINE_"`
}

// Engine holds the turn-loop tuning knobs.
type Engine struct {
	MaxSceneTurns           int `env:"MAX_SCENE_TURNS" envDefault:"20" toml:"max_scene_turns"`
	RecentWindow            int `env:"RECENT_WINDOW" envDefault:"10" toml:"recent_window"`
	TurnDelayMS             int `env:"TURN_DELAY_MS" envDefault:"1000" toml:"turn_delay_ms"`
	NarrationAfterDialogues int `env:"NARRATION_AFTER_DIALOGUES" envDefault:"3" toml:"narration_after_dialogues"`
	NarrationMaxDistance    int `env:"NARRATION_MAX_DISTANCE" envDefault:"4" toml:"narration_max_distance"`
	LockTTLSeconds          int `env:"LOCK_TTL_SECONDS" envDefault:"30" toml:"lock_ttl_seconds"`
}

func (e Engine) TurnDelay() time.Duration {
	return time.Duration(e.TurnDelayMS) * time.Millisecond
}

func (e Engine) LockTTL() time.Duration {
	return time.Duration(e.LockTTLSeconds) * time.Second
}

// DefaultEngine returns the engine settings used when nothing is configured.
func DefaultEngine() Engine {
	return Engine{
		MaxSceneTurns:           20,
		RecentWindow:            10,
		TurnDelayMS:             1000,
		NarrationAfterDialogues: 3,
		NarrationMaxDistance:    4,
		LockTTLSeconds:          30,
	}
}

// Load reads .env (if present), the process environment, and the optional
// engine TOML file, in that order of precedence from lowest to highest.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)

	if cfg.EngineConfigFile != "" {
		if err := loadEngineFile(cfg.EngineConfigFile, &cfg.Engine); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEngineFile(path string, engine *Engine) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read engine config file '%s': %w", path, err)
	}
	if err := toml.Unmarshal(data, engine); err != nil {
		return fmt.Errorf("failed to parse engine TOML: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.LLMProvider) {
	case "openai", "ollama", "anthropic", "claude", "gemini":
	default:
		return fmt.Errorf("unsupported llm provider: %s", c.LLMProvider)
	}
	if c.Engine.MaxSceneTurns <= 0 {
		return fmt.Errorf("max_scene_turns must be positive")
	}
	if c.Engine.RecentWindow <= 0 {
		return fmt.Errorf("recent_window must be positive")
	}
	if c.Engine.NarrationAfterDialogues <= 0 || c.Engine.NarrationMaxDistance <= 0 {
		return fmt.Errorf("narration thresholds must be positive")
	}
	return nil
}

// APIKey returns the key for the configured provider.
func (c *Config) APIKey() string {
	switch strings.ToLower(c.LLMProvider) {
	case "anthropic", "claude":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
