package agents

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/ledger"
	"github.com/jwebster45206/screenplay-engine/internal/services"
	"github.com/jwebster45206/screenplay-engine/pkg/chat"
	"github.com/jwebster45206/screenplay-engine/pkg/narrator"
	"github.com/jwebster45206/screenplay-engine/pkg/prompts"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
	"github.com/jwebster45206/screenplay-engine/pkg/textfilter"
)

// NarrateInput selects the task and trigger of one narrator insertion.
type NarrateInput struct {
	Scene         *screenplay.SceneContext
	Task          narrator.Task
	TriggerReason string
	Roles         []screenplay.Role // overrides the present roles when set
}

// Narrator streams narration from the narrator role and appends it to the ledger.
type Narrator struct {
	llm    services.LLMService
	ledger *ledger.Ledger
	opts   Options
	logger *slog.Logger
}

func NewNarrator(llm services.LLMService, l *ledger.Ledger, opts Options, logger *slog.Logger) *Narrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Narrator{llm: llm, ledger: l, opts: opts, logger: logger}
}

// Narrate generates text for the task and appends it as a narrator dialogue
// with empty role and action. The dialogue is also added to in.Scene.Recent.
func (n *Narrator) Narrate(ctx context.Context, in NarrateInput) (d screenplay.Dialogue, err error) {
	if in.Scene == nil || in.Scene.Scene.ID == "" {
		return screenplay.Dialogue{}, apperrors.NewValidationError("scene is required")
	}
	if !in.Task.Valid() {
		return screenplay.Dialogue{}, apperrors.NewValidationError("unknown narrator task: %q", in.Task)
	}
	role, ok := in.Scene.Narrator()
	if !ok {
		return screenplay.Dialogue{}, apperrors.NewValidationError("screenplay %s has no narrator role", in.Scene.Screenplay.ID)
	}

	ctx, span := startSpan(ctx, "narrator.narrate", in.Scene, attribute.String("narrator.task", string(in.Task)))
	defer func() { endSpan(span, err) }()

	messages, err := prompts.NewNarrator().
		WithScene(in.Scene).
		WithNarrator(role).
		WithRoles(in.Roles).
		WithTask(in.Task, in.TriggerReason).
		WithHistoryLimit(n.opts.historyLimit()).
		Build()
	if err != nil {
		return screenplay.Dialogue{}, apperrors.NewValidationError("%v", err)
	}

	stream, err := n.llm.Stream(ctx, chat.CompletionRequest{
		Model:       role.Model,
		Messages:    messages,
		Temperature: role.Temperature,
	})
	if err != nil {
		return screenplay.Dialogue{}, fmt.Errorf("narrator stream: %w", err)
	}
	raw, err := chat.Collect(ctx, stream)
	if err != nil {
		return screenplay.Dialogue{}, fmt.Errorf("narrator stream: %w", err)
	}

	text := textfilter.CleanNarration(raw)
	if text == "" {
		return screenplay.Dialogue{}, apperrors.NewProcessingError("narrator returned empty text", nil)
	}

	d, err = n.ledger.AppendDialogue(ctx, in.Scene.Ref(), screenplay.Dialogue{
		Type: screenplay.DialogueTypeNarrator,
		Text: text,
	})
	if err != nil {
		return screenplay.Dialogue{}, err
	}
	in.Scene.Recent = append(in.Scene.Recent, d)

	n.logger.Debug("narration appended", "scene", in.Scene.Ref().String(),
		"task", in.Task, "turn_order", d.TurnOrder, "chars", len([]rune(text)))
	return d, nil
}
