package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/ledger"
	"github.com/jwebster45206/screenplay-engine/internal/logger"
	"github.com/jwebster45206/screenplay-engine/internal/services"
	"github.com/jwebster45206/screenplay-engine/internal/sidestate"
	"github.com/jwebster45206/screenplay-engine/pkg/chat"
	"github.com/jwebster45206/screenplay-engine/pkg/narrator"
	"github.com/jwebster45206/screenplay-engine/pkg/prompts"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
	"github.com/jwebster45206/screenplay-engine/pkg/textfilter"
)

// RoleInput asks one on-stage role to act. A non-empty ForcedDialogue replaces
// whatever the model would have done.
type RoleInput struct {
	Scene                 *screenplay.SceneContext
	RoleID                string
	ForcedDialogue        string
	DirectorInstructionID string
}

// RoleTurn reports what a role did.
type RoleTurn struct {
	RoleID    string                `json:"role_id"`
	Dialogues []screenplay.Dialogue `json:"dialogues"`
	Tools     []string              `json:"tools"`
	Skipped   []string              `json:"skipped,omitempty"` // tool calls that could not be applied
	Forced    bool                  `json:"forced"`
}

// Role runs a character turn through tool calls.
type Role struct {
	llm      services.LLMService
	ledger   *ledger.Ledger
	trackers *sidestate.Trackers
	narrator *Narrator
	opts     Options
	logger   *slog.Logger
}

func NewRole(llm services.LLMService, l *ledger.Ledger, trackers *sidestate.Trackers, n *Narrator, opts Options, logger *slog.Logger) *Role {
	if logger == nil {
		logger = slog.Default()
	}
	return &Role{llm: llm, ledger: l, trackers: trackers, narrator: n, opts: opts, logger: logger}
}

// Act runs one turn for in.RoleID. Dialogues it appends are also added to in.Scene.Recent.
func (r *Role) Act(ctx context.Context, in RoleInput) (turn RoleTurn, err error) {
	if in.Scene == nil || in.Scene.Scene.ID == "" {
		return RoleTurn{}, apperrors.NewValidationError("scene is required")
	}
	role, ok := in.Scene.Role(in.RoleID)
	if !ok || !role.IsCharacter() {
		return RoleTurn{}, apperrors.NewValidationError("role %s is not a character of this screenplay", in.RoleID)
	}
	if !in.Scene.IsPresent(role.ID) {
		return RoleTurn{}, apperrors.NewValidationError("role %s is not on stage", role.Name)
	}

	ctx, span := startSpan(ctx, "role.act", in.Scene,
		attribute.String("role.id", role.ID),
		attribute.Bool("role.forced", in.ForcedDialogue != ""))
	defer func() { endSpan(span, err) }()

	ref := in.Scene.Ref()
	log := logger.WithScene(r.logger, ref).With("role_id", role.ID, "role", role.Name)
	turn = RoleTurn{RoleID: role.ID}

	if in.ForcedDialogue != "" {
		d, err := r.appendSpeech(ctx, in, role, in.ForcedDialogue)
		if err != nil {
			return RoleTurn{}, err
		}
		log.Info("forced dialogue applied", "instruction_id", in.DirectorInstructionID)
		turn.Dialogues = append(turn.Dialogues, d)
		turn.Forced = true
		return turn, nil
	}

	emotion, err := r.trackers.Emotion(ctx, ref, role.ID)
	if err != nil {
		return RoleTurn{}, err
	}
	beliefs, err := r.trackers.ActiveBeliefs(ctx, ref.ScreenplayID, role.ID)
	if err != nil {
		return RoleTurn{}, err
	}
	clues, err := r.trackers.ActiveClues(ctx, ref, role.ID)
	if err != nil {
		return RoleTurn{}, err
	}

	messages, err := prompts.NewRole().
		WithScene(in.Scene).
		WithRole(role).
		WithState(&emotion, beliefs, clues).
		WithHistoryLimit(r.opts.historyLimit()).
		Build()
	if err != nil {
		return RoleTurn{}, apperrors.NewValidationError("%v", err)
	}

	resp, err := r.llm.Complete(ctx, chat.CompletionRequest{
		Model:       role.Model,
		Messages:    messages,
		Temperature: role.Temperature,
		Tools:       prompts.RoleTools(),
	})
	if err != nil {
		return RoleTurn{}, fmt.Errorf("role completion: %w", err)
	}

	var speak, action *chat.ToolCall
	var rest []chat.ToolCall
	for i := range resp.ToolCalls {
		call := resp.ToolCalls[i]
		log.Debug("role tool call", "tool", call.Name, "arguments", string(call.Arguments))
		turn.Tools = append(turn.Tools, call.Name)
		switch call.Name {
		case prompts.ToolSpeak:
			speak = &call
		case prompts.ToolPerformAction:
			action = &call
		default:
			rest = append(rest, call)
		}
	}

	// Models that ignore tools still produce usable speech.
	if len(resp.ToolCalls) == 0 && strings.TrimSpace(resp.Content) != "" {
		args, _ := json.Marshal(speakArgs{Text: resp.Content})
		speak = &chat.ToolCall{Name: prompts.ToolSpeak, Arguments: args}
		turn.Tools = append(turn.Tools, prompts.ToolSpeak)
	}

	if action != nil {
		var args actionArgs
		if err := json.Unmarshal(action.Arguments, &args); err != nil || strings.TrimSpace(args.RawAction) == "" {
			log.Warn("skipping perform_action with bad arguments", "arguments", string(action.Arguments))
			turn.Skipped = append(turn.Skipped, prompts.ToolPerformAction)
		} else {
			d, err := r.narrator.Narrate(ctx, NarrateInput{
				Scene:         in.Scene,
				Task:          narrator.TaskDescribeAction,
				TriggerReason: args.RawAction,
				Roles:         []screenplay.Role{role},
			})
			if err != nil {
				log.Error("action narration failed", "error", err)
				turn.Skipped = append(turn.Skipped, prompts.ToolPerformAction)
			} else {
				turn.Dialogues = append(turn.Dialogues, d)
			}
		}
	}

	var sourceDialogueID string
	if speak != nil {
		var args speakArgs
		if err := json.Unmarshal(speak.Arguments, &args); err != nil {
			log.Warn("skipping speak with bad arguments", "arguments", string(speak.Arguments))
			turn.Skipped = append(turn.Skipped, prompts.ToolSpeak)
		} else if text := textfilter.CleanUtterance(role.Name, args.Text); text != "" {
			d, err := r.appendSpeech(ctx, in, role, text)
			if err != nil {
				return turn, err
			}
			sourceDialogueID = d.ID
			turn.Dialogues = append(turn.Dialogues, d)
		} else {
			log.Debug("role stays silent")
		}
	}

	for _, call := range rest {
		if err := r.applySideState(ctx, ref, role, call, sourceDialogueID); err != nil {
			log.Warn("skipping tool call", "tool", call.Name, "arguments", string(call.Arguments), "error", err)
			turn.Skipped = append(turn.Skipped, call.Name)
		}
	}

	span.SetAttributes(attribute.Int("role.dialogues", len(turn.Dialogues)))
	return turn, nil
}

func (r *Role) appendSpeech(ctx context.Context, in RoleInput, role screenplay.Role, text string) (screenplay.Dialogue, error) {
	d, err := r.ledger.AppendDialogue(ctx, in.Scene.Ref(), screenplay.Dialogue{
		Type:                  screenplay.DialogueTypeRole,
		RoleID:                role.ID,
		Text:                  text,
		DirectorInstructionID: in.DirectorInstructionID,
	})
	if err != nil {
		return screenplay.Dialogue{}, err
	}
	in.Scene.Recent = append(in.Scene.Recent, d)
	return d, nil
}

type speakArgs struct {
	Text string `json:"text"`
}

type actionArgs struct {
	RawAction string `json:"raw_action"`
}

type emotionArgs struct {
	Intensity   *int   `json:"intensity"`
	EmotionType string `json:"emotion_type"`
}

type beliefArgs struct {
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence"`
}

type idArgs struct {
	ID     flexID                `json:"id"`
	Status screenplay.ClueStatus `json:"status"`
}

type clueArgs struct {
	Content string `json:"content"`
}

// flexID accepts ids sent as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	*f = flexID(n.String())
	return nil
}

func (r *Role) applySideState(ctx context.Context, ref screenplay.SceneRef, role screenplay.Role, call chat.ToolCall, sourceDialogueID string) error {
	switch call.Name {
	case prompts.ToolUpdateEmotion:
		var args emotionArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return err
		}
		if args.Intensity == nil {
			return fmt.Errorf("intensity is required")
		}
		emotionType := args.EmotionType
		if strings.TrimSpace(emotionType) == "" {
			current, err := r.trackers.Emotion(ctx, ref, role.ID)
			if err != nil {
				return err
			}
			emotionType = current.EmotionType
		}
		_, err := r.trackers.UpsertEmotion(ctx, ref, role.ID, emotionType, *args.Intensity)
		return err

	case prompts.ToolAddBelief:
		var args beliefArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return err
		}
		if args.Confidence == nil {
			return fmt.Errorf("confidence is required")
		}
		_, err := r.trackers.AddBelief(ctx, ref.ScreenplayID, role.ID, args.Content, *args.Confidence, sourceDialogueID)
		return err

	case prompts.ToolRetractBelief:
		var args idArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return err
		}
		return r.trackers.RetractBelief(ctx, ref.ScreenplayID, string(args.ID))

	case prompts.ToolAddLatentClue:
		var args clueArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return err
		}
		_, err := r.trackers.AddClue(ctx, ref.ScreenplayID, role.ID, ref.SceneID, args.Content, sourceDialogueID)
		return err

	case prompts.ToolRetractLatentClue:
		var args idArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return err
		}
		if args.Status == "" {
			args.Status = screenplay.ClueResolved
		}
		return r.trackers.RetractClue(ctx, ref.ScreenplayID, string(args.ID), args.Status)

	default:
		return fmt.Errorf("unknown tool %q", call.Name)
	}
}
