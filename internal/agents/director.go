package agents

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/logger"
	"github.com/jwebster45206/screenplay-engine/internal/services"
	"github.com/jwebster45206/screenplay-engine/pkg/chat"
	"github.com/jwebster45206/screenplay-engine/pkg/director"
	"github.com/jwebster45206/screenplay-engine/pkg/prompts"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// DirectorInput is everything the director sees for one decision.
type DirectorInput struct {
	Scene         *screenplay.SceneContext
	Emotions      map[string]screenplay.RoleEmotion
	Beliefs       map[string][]screenplay.RoleBelief
	Counters      director.Counters
	MaxSceneTurns int
	Skipped       []string // roles barred from speaking this turn
}

// Director asks the director role for the next-turn decision.
type Director struct {
	llm    services.LLMService
	rhythm director.Rhythm
	opts   Options
	logger *slog.Logger
}

func NewDirector(llm services.LLMService, rhythm director.Rhythm, opts Options, logger *slog.Logger) *Director {
	if logger == nil {
		logger = slog.Default()
	}
	return &Director{llm: llm, rhythm: rhythm, opts: opts, logger: logger}
}

// Decide returns the director's decision. Completion errors are returned;
// undecodable output yields director.Fallback() with a nil error.
func (d *Director) Decide(ctx context.Context, in DirectorInput) (dec director.Decision, err error) {
	if in.Scene == nil || in.Scene.Scene.ID == "" {
		return director.Decision{}, apperrors.NewValidationError("scene is required")
	}
	role, ok := in.Scene.Director()
	if !ok {
		return director.Decision{}, apperrors.NewValidationError("screenplay %s has no director role", in.Scene.Screenplay.ID)
	}

	ctx, span := startSpan(ctx, "director.decide", in.Scene,
		attribute.Int("counters.continuous_dialogue", in.Counters.ContinuousDialogueCount),
		attribute.Int("counters.narration_distance", in.Counters.LastNarrationDistance))
	defer func() { endSpan(span, err) }()

	messages, err := prompts.NewDirector().
		WithScene(in.Scene).
		WithDirector(role).
		WithEmotions(in.Emotions).
		WithBeliefs(in.Beliefs).
		WithCounters(in.Counters, in.MaxSceneTurns).
		WithRhythm(d.rhythm).
		WithSkipped(in.Skipped...).
		WithHistoryLimit(d.opts.historyLimit()).
		Build()
	if err != nil {
		return director.Decision{}, apperrors.NewValidationError("%v", err)
	}

	resp, err := d.llm.Complete(ctx, chat.CompletionRequest{
		Model:       role.Model,
		Messages:    messages,
		JSONMode:    true,
		Temperature: role.Temperature,
	})
	if err != nil {
		return director.Decision{}, fmt.Errorf("director completion: %w", err)
	}

	log := logger.WithScene(d.logger, in.Scene.Ref())
	dec, decodeErr := director.Decode(resp.Content)
	if decodeErr != nil {
		log.Warn("director decision could not be decoded, falling back",
			"raw", resp.Content, "error", decodeErr)
		span.SetAttributes(attribute.Bool("decision.fallback", true))
		return director.Fallback(), nil
	}

	dec = d.normalize(log, in, dec)
	span.SetAttributes(
		attribute.String("decision.next_speaker", dec.NextSpeaker),
		attribute.Bool("decision.insert_narration", dec.InsertNarration),
	)
	return dec, nil
}

// normalize applies the rhythm rule and drops references the scene cannot honor.
func (d *Director) normalize(log *slog.Logger, in DirectorInput, dec director.Decision) director.Decision {
	sc := in.Scene
	if d.rhythm.NarrationRequired(in.Counters) && !dec.InsertNarration {
		log.Debug("rhythm rule forces narration", "counters", in.Counters)
		dec.InsertNarration = true
	}

	if dec.RoleEnter != nil {
		r, known := sc.Role(dec.RoleEnter.RoleID)
		if !known || !r.IsCharacter() || sc.IsPresent(r.ID) {
			log.Warn("director asked an unavailable role to enter", "role_id", dec.RoleEnter.RoleID)
			dec.RoleEnter = nil
		}
	}
	if dec.RoleExit != nil && !sc.IsPresent(dec.RoleExit.RoleID) {
		log.Warn("director asked an absent role to exit", "role_id", dec.RoleExit.RoleID)
		dec.RoleExit = nil
	}

	if dec.NextSpeaker != "" {
		entering := dec.RoleEnter != nil && dec.RoleEnter.RoleID == dec.NextSpeaker
		exiting := dec.RoleExit != nil && dec.RoleExit.RoleID == dec.NextSpeaker
		switch {
		case exiting || (!sc.IsPresent(dec.NextSpeaker) && !entering):
			log.Warn("director chose a speaker who is not on stage", "role_id", dec.NextSpeaker)
			dec.NextSpeaker = ""
		case contains(in.Skipped, dec.NextSpeaker):
			log.Info("director chose a skipped speaker", "role_id", dec.NextSpeaker)
			dec.NextSpeaker = ""
		}
	}
	return dec
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
