package logger

import (
	"log/slog"
	"os"

	"github.com/jwebster45206/screenplay-engine/internal/config"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// Setup configures the global slog logger based on environment
func Setup(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// WithRequestID adds request ID to logger context
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

// WithScene tags every record with the screenplay and scene being played.
func WithScene(logger *slog.Logger, ref screenplay.SceneRef) *slog.Logger {
	return logger.With("screenplay_id", ref.ScreenplayID, "scene_id", ref.SceneID)
}

// WithError adds error to logger context
func WithError(logger *slog.Logger, err error) *slog.Logger {
	return logger.With("error", err.Error())
}
