// Package instructions stores manual director overrides and applies them on
// the next turn of their scene.
package instructions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/screenplay-engine/internal/agents"
	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/ledger"
	"github.com/jwebster45206/screenplay-engine/internal/logger"
	"github.com/jwebster45206/screenplay-engine/internal/sidestate"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/narrator"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

const (
	revealPrefix = "物品发现："
	eventPrefix  = "环境事件："
)

// Processor issues instructions and applies pending ones.
type Processor struct {
	store    storage.Store
	ledger   *ledger.Ledger
	trackers *sidestate.Trackers
	narrator *agents.Narrator
	role     *agents.Role
	logger   *slog.Logger
}

func New(store storage.Store, l *ledger.Ledger, trackers *sidestate.Trackers, n *agents.Narrator, r *agents.Role, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, ledger: l, trackers: trackers, narrator: n, role: r, logger: logger}
}

// Issue validates the params and stores a pending instruction anchored to the
// scene's last dialogue. Every role the params reference must be on stage.
func (p *Processor) Issue(ctx context.Context, ref screenplay.SceneRef, kind screenplay.InstructionKind, raw json.RawMessage) (screenplay.DirectorInstruction, error) {
	if err := ref.Validate(); err != nil {
		return screenplay.DirectorInstruction{}, apperrors.NewValidationError("%v", err)
	}
	params, err := screenplay.DecodeInstructionParams(kind, raw)
	if err != nil {
		return screenplay.DirectorInstruction{}, apperrors.NewValidationError("%v", err)
	}

	active, err := p.ledger.ActiveRoles(ctx, ref)
	if err != nil {
		return screenplay.DirectorInstruction{}, err
	}
	onStage := make(map[string]bool, len(active))
	for _, a := range active {
		onStage[a.RoleID] = true
	}
	for _, id := range params.RoleRefs() {
		if !onStage[id] {
			return screenplay.DirectorInstruction{}, apperrors.NewValidationError("role %s is not on stage in scene %s", id, ref.SceneID)
		}
	}

	var anchor string
	last, err := p.store.LastDialogue(ctx, ref)
	switch {
	case err == nil:
		anchor = last.ID
	case !errors.Is(err, storage.ErrNotFound):
		return screenplay.DirectorInstruction{}, fmt.Errorf("load anchor dialogue: %w", err)
	}

	canonical, err := json.Marshal(params)
	if err != nil {
		return screenplay.DirectorInstruction{}, fmt.Errorf("encode params: %w", err)
	}
	in := screenplay.DirectorInstruction{
		ScreenplayID: ref.ScreenplayID,
		SceneID:      ref.SceneID,
		Kind:         kind,
		Params:       canonical,
		DialogueID:   anchor,
	}
	if err := p.store.InsertInstruction(ctx, &in); err != nil {
		return screenplay.DirectorInstruction{}, fmt.Errorf("insert instruction: %w", err)
	}

	logger.WithScene(p.logger, ref).Info("director instruction issued",
		"instruction_id", in.ID, "instruction", kind, "anchor", anchor)
	return in, nil
}

// List returns the scene's instructions in creation order.
func (p *Processor) List(ctx context.Context, ref screenplay.SceneRef, pendingOnly bool) ([]screenplay.DirectorInstruction, error) {
	return p.store.ListInstructions(ctx, ref, pendingOnly)
}

// Outcome summarizes one ApplyPending pass.
type Outcome struct {
	Applied   []screenplay.DirectorInstruction `json:"applied"`
	Failed    []screenplay.DirectorInstruction `json:"failed,omitempty"`
	Dialogues []screenplay.Dialogue            `json:"dialogues"`
	// Skipped holds roles barred from the next speaker selection.
	Skipped []string `json:"skipped,omitempty"`
}

// Processed reports whether at least one instruction took effect.
func (o Outcome) Processed() bool {
	return len(o.Applied) > 0
}

// ApplyPending applies every pending instruction of the scene in creation
// order. A failing instruction is logged, recorded in the screenplay log and
// left pending; the rest still run.
func (p *Processor) ApplyPending(ctx context.Context, sc *screenplay.SceneContext) (Outcome, error) {
	var out Outcome
	if sc == nil || sc.Scene.ID == "" {
		return out, apperrors.NewValidationError("scene is required")
	}
	ref := sc.Ref()
	log := logger.WithScene(p.logger, ref)

	pending, err := p.store.ListInstructions(ctx, ref, true)
	if err != nil {
		return out, fmt.Errorf("list pending instructions: %w", err)
	}
	if len(pending) == 0 {
		return out, nil
	}
	log.Info("applying director instructions", "count", len(pending))

	for _, in := range pending {
		eff, err := p.apply(ctx, sc, in)
		if err == nil && !eff.marked {
			err = p.store.MarkInstructionApplied(ctx, ref, in.ID)
		}
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			log.Error("director instruction failed", "instruction_id", in.ID, "instruction", in.Kind, "error", err)
			p.recordFailure(ctx, in, err)
			out.Failed = append(out.Failed, in)
			continue
		}
		in.IsActive = true
		out.Applied = append(out.Applied, in)
		out.Dialogues = append(out.Dialogues, eff.dialogues...)
		out.Skipped = append(out.Skipped, eff.skipped...)
		log.Info("director instruction applied", "instruction_id", in.ID, "instruction", in.Kind)
	}
	return out, nil
}

// effect is what applying one instruction produced. marked is set when the
// instruction was already flagged applied part way through.
type effect struct {
	dialogues []screenplay.Dialogue
	skipped   []string
	marked    bool
}

func (p *Processor) apply(ctx context.Context, sc *screenplay.SceneContext, in screenplay.DirectorInstruction) (effect, error) {
	params, err := in.DecodeParams()
	if err != nil {
		return effect{}, apperrors.NewValidationError("%v", err)
	}

	switch prm := params.(type) {
	case screenplay.CharacterSlipParams:
		turn, err := p.role.Act(ctx, agents.RoleInput{
			Scene:                 sc,
			RoleID:                prm.TargetRoleID,
			ForcedDialogue:        prm.Content,
			DirectorInstructionID: in.ID,
		})
		if err != nil {
			return effect{}, err
		}
		return effect{dialogues: turn.Dialogues}, nil

	case screenplay.RevealItemParams:
		roles := sc.Present
		if r, ok := sc.Role(prm.DiscovererID); ok {
			roles = []screenplay.Role{r}
		}
		return p.narrateEvent(ctx, sc, in, narrator.TaskPolishPlot, revealPrefix+prm.ItemDesc, prm.DiscovererID, roles)

	case screenplay.ExternalEventParams:
		return p.narrateEvent(ctx, sc, in, narrator.TaskInsertAtmosphere, eventPrefix+prm.Description, "", sc.Present)

	case screenplay.SkipTurnParams:
		if _, ok := sc.Role(prm.RoleID); !ok {
			return effect{}, apperrors.NewNotFoundError("role %s not found", prm.RoleID)
		}
		return effect{skipped: []string{prm.RoleID}}, nil

	case screenplay.TriggerEmotionParams:
		if _, ok := sc.Role(prm.RoleID); !ok {
			return effect{}, apperrors.NewNotFoundError("role %s not found", prm.RoleID)
		}
		_, err := p.trackers.AdjustEmotion(ctx, sc.Ref(), prm.RoleID, prm.Emotion, prm.Delta)
		return effect{}, err

	default:
		return effect{}, fmt.Errorf("unhandled instruction %q", in.Kind)
	}
}

// narrateEvent narrates the trigger, then records it as an event dialogue.
// Narration runs first so a failed call leaves the ledger untouched. Once the
// narration is in the ledger the instruction is marked applied; a lost event
// row is logged, never retried.
func (p *Processor) narrateEvent(ctx context.Context, sc *screenplay.SceneContext, in screenplay.DirectorInstruction, task narrator.Task, trigger, roleID string, roles []screenplay.Role) (effect, error) {
	narration, err := p.narrator.Narrate(ctx, agents.NarrateInput{
		Scene:         sc,
		Task:          task,
		TriggerReason: trigger,
		Roles:         roles,
	})
	if err != nil {
		return effect{}, err
	}
	if err := p.store.MarkInstructionApplied(ctx, sc.Ref(), in.ID); err != nil {
		return effect{}, fmt.Errorf("mark instruction applied: %w", err)
	}
	eff := effect{dialogues: []screenplay.Dialogue{narration}, marked: true}

	event, err := p.ledger.AppendDialogue(ctx, sc.Ref(), screenplay.Dialogue{
		Type:                  screenplay.DialogueTypeEvent,
		RoleID:                roleID,
		Text:                  trigger,
		DirectorInstructionID: in.ID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return eff, ctx.Err()
		}
		logger.WithScene(p.logger, sc.Ref()).Error("event dialogue not recorded",
			"instruction_id", in.ID, "instruction", in.Kind, "error", err)
		p.writeLog(ctx, in.ScreenplayID, fmt.Sprintf("指令 %s（%s）的事件记录写入失败：%v", in.Kind, in.ID, err))
		return eff, nil
	}
	sc.Recent = append(sc.Recent, event)
	eff.dialogues = append(eff.dialogues, event)
	return eff, nil
}

func (p *Processor) recordFailure(ctx context.Context, in screenplay.DirectorInstruction, cause error) {
	p.writeLog(ctx, in.ScreenplayID, fmt.Sprintf("指令 %s（%s）执行失败：%v", in.Kind, in.ID, cause))
}

func (p *Processor) writeLog(ctx context.Context, screenplayID, content string) {
	row := screenplay.Log{
		ScreenplayID: screenplayID,
		Level:        screenplay.LogLevelError,
		Content:      content,
	}
	if err := p.store.InsertLog(ctx, &row); err != nil {
		p.logger.Error("failed to write screenplay log", "screenplay_id", screenplayID, "error", err)
	}
}
