// Package orchestrator drives a scene turn by turn: pending director
// instructions first, then the director's decision, then narration and the
// chosen role.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/screenplay-engine/internal/agents"
	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/config"
	"github.com/jwebster45206/screenplay-engine/internal/instructions"
	"github.com/jwebster45206/screenplay-engine/internal/ledger"
	"github.com/jwebster45206/screenplay-engine/internal/logger"
	"github.com/jwebster45206/screenplay-engine/internal/sidestate"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/director"
	"github.com/jwebster45206/screenplay-engine/pkg/narrator"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// Trigger reasons handed to the narrator.
const (
	triggerSceneChange = "场景切换"
	triggerAtmosphere  = "导演要求插入氛围描写"
)

// PauseMaxTurns is the pause reason once a scene reaches its turn limit.
const PauseMaxTurns = "已达到场景最大轮数"

// Settings tune the turn loop.
type Settings struct {
	MaxSceneTurns int
	RecentWindow  int
	TurnDelay     time.Duration
	Rhythm        director.Rhythm
}

// SettingsFromConfig maps the engine config onto Settings.
func SettingsFromConfig(e config.Engine) Settings {
	return Settings{
		MaxSceneTurns: e.MaxSceneTurns,
		RecentWindow:  e.RecentWindow,
		TurnDelay:     e.TurnDelay(),
		Rhythm: director.Rhythm{
			AfterDialogues: e.NarrationAfterDialogues,
			MaxDistance:    e.NarrationMaxDistance,
		},
	}
}

func (s Settings) withDefaults() Settings {
	if s.MaxSceneTurns <= 0 {
		s.MaxSceneTurns = 20
	}
	if s.RecentWindow <= 0 {
		s.RecentWindow = 10
	}
	if s.Rhythm.AfterDialogues <= 0 || s.Rhythm.MaxDistance <= 0 {
		s.Rhythm = director.DefaultRhythm
	}
	return s
}

// TurnResult describes one completed turn.
type TurnResult struct {
	Ref          screenplay.SceneRef   `json:"ref"`
	Instructions *instructions.Outcome `json:"instructions,omitempty"`
	Decision     *director.Decision    `json:"decision,omitempty"`
	Dialogues    []screenplay.Dialogue `json:"dialogues"`
	RoleTurn     *agents.RoleTurn      `json:"role_turn,omitempty"`
	Entered      string                `json:"entered,omitempty"`
	Exited       string                `json:"exited,omitempty"`
	Counters     director.Counters     `json:"counters"`
	Paused       bool                  `json:"paused"`
	PauseReason  string                `json:"pause_reason,omitempty"`
}

// Orchestrator plays scenes. It holds no per-scene state; callers pass a Session.
type Orchestrator struct {
	store        storage.Store
	ledger       *ledger.Ledger
	trackers     *sidestate.Trackers
	director     *agents.Director
	narrator     *agents.Narrator
	role         *agents.Role
	instructions *instructions.Processor
	settings     Settings
	logger       *slog.Logger
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Store        storage.Store
	Ledger       *ledger.Ledger
	Trackers     *sidestate.Trackers
	Director     *agents.Director
	Narrator     *agents.Narrator
	Role         *agents.Role
	Instructions *instructions.Processor
}

func New(deps Deps, settings Settings, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:        deps.Store,
		ledger:       deps.Ledger,
		trackers:     deps.Trackers,
		director:     deps.Director,
		narrator:     deps.Narrator,
		role:         deps.Role,
		instructions: deps.Instructions,
		settings:     settings.withDefaults(),
		logger:       logger,
	}
}

// NextTurn plays one turn of the session's scene and updates its counters.
func (o *Orchestrator) NextTurn(ctx context.Context, s *Session) (TurnResult, error) {
	if s == nil {
		return TurnResult{}, apperrors.NewValidationError("session is required")
	}
	if err := s.Ref.Validate(); err != nil {
		return TurnResult{}, apperrors.NewValidationError("%v", err)
	}
	if s.Paused {
		return TurnResult{}, apperrors.NewConflictError("scene %s is paused: %s", s.Ref.SceneID, s.PauseReason)
	}
	log := logger.WithScene(o.logger, s.Ref)
	result := TurnResult{Ref: s.Ref}

	sc, err := o.ledger.SceneContext(ctx, s.Ref, o.settings.RecentWindow)
	if err != nil {
		return result, err
	}

	outcome, err := o.instructions.ApplyPending(ctx, sc)
	if err != nil {
		return result, fmt.Errorf("apply instructions: %w", err)
	}
	if outcome.Processed() {
		s.Skipped = append(s.Skipped, outcome.Skipped...)
		s.Counters.DialogueLength++
		result.Instructions = &outcome
		result.Dialogues = outcome.Dialogues
		return o.finish(log, s, result), nil
	}

	in, err := o.directorInput(ctx, sc, s)
	if err != nil {
		return result, err
	}
	dec, err := o.director.Decide(ctx, in)
	if err != nil {
		return result, err
	}
	s.Skipped = nil
	result.Decision = &dec
	log.Info("director decision",
		"next_speaker", dec.NextSpeaker,
		"insert_narration", dec.InsertNarration,
		"suggest_scene_change", dec.SuggestSceneChange,
		"dialogue_length", s.Counters.DialogueLength,
		"continuous_dialogue", s.Counters.ContinuousDialogueCount,
		"narration_distance", s.Counters.LastNarrationDistance)

	if dec.NeedsIntervention() {
		s.pause(dec.RequestDirectorIntervention)
		o.logIntervention(ctx, sc, dec.RequestDirectorIntervention)
		return o.finish(log, s, result), nil
	}

	if dec.SuggestSceneChange {
		d, err := o.narrator.Narrate(ctx, agents.NarrateInput{
			Scene:         sc,
			Task:          narrator.TaskDescribeScene,
			TriggerReason: triggerSceneChange,
		})
		if err != nil {
			return result, err
		}
		result.Dialogues = append(result.Dialogues, d)
		s.pause(triggerSceneChange)
		return o.finish(log, s, result), nil
	}

	if dec.RoleExit != nil {
		if err := o.ledger.RetractActiveRole(ctx, s.Ref, dec.RoleExit.RoleID); err != nil {
			return result, err
		}
		removePresent(sc, dec.RoleExit.RoleID)
		result.Exited = dec.RoleExit.RoleID
	}

	if dec.RoleEnter != nil {
		if err := o.enter(ctx, sc, dec.RoleEnter, &result); err != nil {
			return result, err
		}
		if dec.NextSpeaker != "" {
			if err := o.roleTurn(ctx, sc, dec.NextSpeaker, s, &result); err != nil {
				return result, err
			}
		} else {
			s.Counters.ContinuousDialogueCount = 0
		}
	} else {
		if dec.InsertNarration {
			d, err := o.narrator.Narrate(ctx, agents.NarrateInput{
				Scene:         sc,
				Task:          narrator.TaskInsertAtmosphere,
				TriggerReason: triggerAtmosphere,
			})
			if err != nil {
				return result, err
			}
			result.Dialogues = append(result.Dialogues, d)
			s.Counters.ContinuousDialogueCount = 0
			s.Counters.LastNarrationDistance = 0
		}
		if dec.NextSpeaker != "" {
			if err := o.roleTurn(ctx, sc, dec.NextSpeaker, s, &result); err != nil {
				return result, err
			}
		} else {
			s.Counters.ContinuousDialogueCount = 0
		}
	}

	s.Counters.DialogueLength++
	return o.finish(log, s, result), nil
}

func (o *Orchestrator) finish(log *slog.Logger, s *Session, result TurnResult) TurnResult {
	if !s.Paused && s.Counters.DialogueLength >= o.settings.MaxSceneTurns {
		s.pause(PauseMaxTurns)
	}
	result.Counters = s.Counters
	result.Paused = s.Paused
	result.PauseReason = s.PauseReason
	log.Info("turn complete",
		"dialogues", len(result.Dialogues),
		"dialogue_length", s.Counters.DialogueLength,
		"continuous_dialogue", s.Counters.ContinuousDialogueCount,
		"narration_distance", s.Counters.LastNarrationDistance,
		"paused", s.Paused)
	return result
}

func (o *Orchestrator) directorInput(ctx context.Context, sc *screenplay.SceneContext, s *Session) (agents.DirectorInput, error) {
	emotions, err := o.trackers.EmotionsByRole(ctx, s.Ref)
	if err != nil {
		return agents.DirectorInput{}, err
	}
	ids := make([]string, 0, len(sc.Present))
	for _, r := range sc.Present {
		ids = append(ids, r.ID)
	}
	beliefs, err := o.trackers.BeliefsByRole(ctx, s.Ref.ScreenplayID, ids)
	if err != nil {
		return agents.DirectorInput{}, err
	}
	return agents.DirectorInput{
		Scene:         sc,
		Emotions:      emotions,
		Beliefs:       beliefs,
		Counters:      s.Counters,
		MaxSceneTurns: o.settings.MaxSceneTurns,
		Skipped:       s.Skipped,
	}, nil
}

func (o *Orchestrator) enter(ctx context.Context, sc *screenplay.SceneContext, enter *director.RoleEnter, result *TurnResult) error {
	role, ok := sc.Role(enter.RoleID)
	if !ok {
		return apperrors.NewNotFoundError("role %s not found", enter.RoleID)
	}
	if _, err := o.ledger.AdmitRole(ctx, sc.Ref(), role.ID, enter.EntryType); err != nil {
		return err
	}
	sc.Present = append(sc.Present, role)
	result.Entered = role.ID

	d, err := o.narrator.Narrate(ctx, agents.NarrateInput{
		Scene:         sc,
		Task:          narrator.TaskDescribeRoleEntry,
		TriggerReason: role.Name + enter.EntryType.Label(),
		Roles:         []screenplay.Role{role},
	})
	if err != nil {
		return err
	}
	result.Dialogues = append(result.Dialogues, d)
	return nil
}

func (o *Orchestrator) roleTurn(ctx context.Context, sc *screenplay.SceneContext, roleID string, s *Session, result *TurnResult) error {
	turn, err := o.role.Act(ctx, agents.RoleInput{Scene: sc, RoleID: roleID})
	if err != nil {
		return err
	}
	result.RoleTurn = &turn
	result.Dialogues = append(result.Dialogues, turn.Dialogues...)
	s.Counters.ContinuousDialogueCount++
	s.Counters.LastNarrationDistance++
	return nil
}

func (o *Orchestrator) logIntervention(ctx context.Context, sc *screenplay.SceneContext, reason string) {
	row := screenplay.Log{
		ScreenplayID: sc.Screenplay.ID,
		Level:        screenplay.LogLevelInfo,
		Content:      "导演请求人工介入：" + reason,
	}
	if r, ok := sc.Director(); ok {
		row.RoleID = r.ID
	}
	if err := o.store.InsertLog(ctx, &row); err != nil {
		o.logger.Error("failed to write screenplay log", "error", err)
	}
}

func removePresent(sc *screenplay.SceneContext, roleID string) {
	kept := sc.Present[:0]
	for _, r := range sc.Present {
		if r.ID != roleID {
			kept = append(kept, r)
		}
	}
	sc.Present = kept
}

// Run plays turns until the session pauses, turns is reached (when positive)
// or ctx is cancelled. observe, when set, is called after every turn.
func (o *Orchestrator) Run(ctx context.Context, s *Session, turns int, observe func(TurnResult)) (int, error) {
	played := 0
	for !s.Paused && (turns <= 0 || played < turns) {
		if played > 0 && o.settings.TurnDelay > 0 {
			timer := time.NewTimer(o.settings.TurnDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return played, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return played, err
		}

		result, err := o.NextTurn(ctx, s)
		if err != nil {
			return played, err
		}
		played++
		if observe != nil {
			observe(result)
		}
	}
	return played, nil
}

// SwitchScene moves the session to another scene of the same screenplay and
// resets its counters.
func (o *Orchestrator) SwitchScene(ctx context.Context, s *Session, sceneID string) error {
	if _, err := o.store.GetScene(ctx, s.Ref.ScreenplayID, sceneID); err != nil {
		return err
	}
	s.Ref.SceneID = sceneID
	s.Counters = director.Counters{}
	s.Skipped = nil
	s.Resume()
	logger.WithScene(o.logger, s.Ref).Info("scene switched")
	return nil
}
