package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/screenplay-engine/internal/orchestrator"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/director"
	"github.com/jwebster45206/screenplay-engine/pkg/queue"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// Publisher is the subset of the event broadcaster the worker uses.
type Publisher interface {
	PublishRequestProcessing(ctx context.Context, ref screenplay.SceneRef, requestID, requestType, workerID string) error
	PublishRequestCompleted(ctx context.Context, ref screenplay.SceneRef, requestID string, turns int, counters director.Counters) error
	PublishRequestFailed(ctx context.Context, ref screenplay.SceneRef, requestID, errorMsg string) error
	PublishDialogue(ctx context.Context, requestID string, d screenplay.Dialogue, speaker string) error
	PublishDecision(ctx context.Context, ref screenplay.SceneRef, requestID string, dec director.Decision) error
	PublishScenePaused(ctx context.Context, ref screenplay.SceneRef, requestID, reason string) error
}

// TurnProcessor plays the turns a request asks for and streams the results
// as scene events. It is used by the worker and by synchronous API calls.
type TurnProcessor struct {
	orch      *orchestrator.Orchestrator
	sessions  *orchestrator.SessionStore
	store     storage.Store
	publisher Publisher
	logger    *slog.Logger
}

func NewTurnProcessor(orch *orchestrator.Orchestrator, sessions *orchestrator.SessionStore, store storage.Store, publisher Publisher, logger *slog.Logger) *TurnProcessor {
	return &TurnProcessor{
		orch:      orch,
		sessions:  sessions,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Process runs the request to completion and returns the number of turns played.
// A new request resumes a paused scene: queuing it is the human decision the
// pause was waiting for.
func (p *TurnProcessor) Process(ctx context.Context, req *queue.Request) (int, error) {
	ref := screenplay.SceneRef{ScreenplayID: req.ScreenplayID, SceneID: req.SceneID}
	log := p.logger.With("request_id", req.RequestID, "screenplay_id", ref.ScreenplayID, "scene_id", ref.SceneID)
	start := time.Now()

	sess, err := p.sessions.Load(ctx, ref)
	if err != nil {
		return 0, err
	}
	if sess.Paused {
		log.Info("Resuming paused scene", "reason", sess.PauseReason)
		sess.Resume()
	}

	names, err := p.roleNames(ctx, ref.ScreenplayID)
	if err != nil {
		return 0, err
	}

	played, runErr := p.orch.Run(ctx, sess, req.TurnBudget(), func(result orchestrator.TurnResult) {
		p.publishTurn(ctx, req.RequestID, result, names)
		if err := p.sessions.Save(ctx, sess); err != nil {
			log.Error("Failed to save session", "error", err)
		}
	})
	if err := p.sessions.Save(ctx, sess); err != nil {
		log.Error("Failed to save session", "error", err)
	}
	if runErr != nil {
		return played, fmt.Errorf("turn %d failed: %w", played+1, runErr)
	}

	log.Info("Turn request processed",
		"turns", played,
		"dialogue_length", sess.Counters.DialogueLength,
		"paused", sess.Paused,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err := p.publisher.PublishRequestCompleted(ctx, ref, req.RequestID, played, sess.Counters); err != nil {
		log.Error("Failed to publish completion event", "error", err)
	}
	return played, nil
}

func (p *TurnProcessor) publishTurn(ctx context.Context, requestID string, result orchestrator.TurnResult, names map[string]string) {
	if result.Decision != nil {
		if err := p.publisher.PublishDecision(ctx, result.Ref, requestID, *result.Decision); err != nil {
			p.logger.Error("Failed to publish decision", "error", err)
		}
	}
	for _, d := range result.Dialogues {
		if err := p.publisher.PublishDialogue(ctx, requestID, d, speakerName(d, names)); err != nil {
			p.logger.Error("Failed to publish dialogue", "error", err)
		}
	}
	if result.Paused {
		if err := p.publisher.PublishScenePaused(ctx, result.Ref, requestID, result.PauseReason); err != nil {
			p.logger.Error("Failed to publish pause", "error", err)
		}
	}
}

func (p *TurnProcessor) roleNames(ctx context.Context, screenplayID string) (map[string]string, error) {
	roles, err := p.store.ListRoles(ctx, screenplayID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	names := make(map[string]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
	}
	return names, nil
}

func speakerName(d screenplay.Dialogue, names map[string]string) string {
	switch d.Type {
	case screenplay.DialogueTypeNarrator:
		return "旁白"
	case screenplay.DialogueTypeEvent:
		return "事件"
	case screenplay.DialogueTypeSystem:
		return "系统"
	}
	if name, ok := names[d.RoleID]; ok {
		return name
	}
	return d.RoleID
}
