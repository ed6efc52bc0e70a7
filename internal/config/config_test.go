package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.Engine != DefaultEngine() {
		t.Errorf("Engine = %+v, want %+v", cfg.Engine, DefaultEngine())
	}
	if cfg.Engine.TurnDelay() != time.Second {
		t.Errorf("TurnDelay() = %v", cfg.Engine.TurnDelay())
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "warning")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("ENGINE_MAX_SCENE_TURNS", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %s", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel = %v, want warn", cfg.LogLevel)
	}
	if cfg.APIKey() != "sk-test" {
		t.Errorf("APIKey() = %q", cfg.APIKey())
	}
	if cfg.Engine.MaxSceneTurns != 12 {
		t.Errorf("MaxSceneTurns = %d, want 12", cfg.Engine.MaxSceneTurns)
	}
}

func TestLoadEngineFileOverridesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	content := "max_scene_turns = 8\nrecent_window = 6\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("ENGINE_MAX_SCENE_TURNS", "12")
	t.Setenv("ENGINE_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.MaxSceneTurns != 8 {
		t.Errorf("MaxSceneTurns = %d, want 8", cfg.Engine.MaxSceneTurns)
	}
	if cfg.Engine.RecentWindow != 6 {
		t.Errorf("RecentWindow = %d, want 6", cfg.Engine.RecentWindow)
	}
	if cfg.Engine.NarrationAfterDialogues != 3 {
		t.Errorf("NarrationAfterDialogues = %d, want untouched default 3", cfg.Engine.NarrationAfterDialogues)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "parrot")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
