// Package agents implements the director, narrator and role protocols on top of
// an LLMService. Each call opens one trace span.
package agents

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jwebster45206/screenplay-engine/internal/telemetry"
	"github.com/jwebster45206/screenplay-engine/pkg/prompts"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// Options tune the agents. Zero values fall back to defaults.
type Options struct {
	HistoryLimit int
}

func (o Options) historyLimit() int {
	if o.HistoryLimit > 0 {
		return o.HistoryLimit
	}
	return prompts.DefaultHistoryLimit
}

func startSpan(ctx context.Context, name string, sc *screenplay.SceneContext, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if sc != nil {
		attrs = append(attrs,
			attribute.String("screenplay.id", sc.Screenplay.ID),
			attribute.String("scene.id", sc.Scene.ID),
		)
	}
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
