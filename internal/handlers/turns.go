package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwebster45206/screenplay-engine/internal/orchestrator"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/internal/worker"
	"github.com/jwebster45206/screenplay-engine/pkg/queue"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// Enqueuer accepts turn requests for the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *queue.Request) error
}

// QueuedPublisher announces accepted requests on the scene channel.
type QueuedPublisher interface {
	PublishRequestQueued(ctx context.Context, ref screenplay.SceneRef, requestID, requestType string) error
}

// Locker is the distributed scene lock shared with the workers.
type Locker = worker.SceneLocker

// TurnHandler drives play: queuing turns for the workers, playing a turn in
// the request, and managing the scene's session.
type TurnHandler struct {
	store     storage.Store
	orch      *orchestrator.Orchestrator
	sessions  *orchestrator.SessionStore
	queue     Enqueuer
	publisher QueuedPublisher
	processor *worker.TurnProcessor
	lock      Locker
	logger    *slog.Logger
}

type TurnHandlerDeps struct {
	Store     storage.Store
	Orch      *orchestrator.Orchestrator
	Sessions  *orchestrator.SessionStore
	Queue     Enqueuer
	Publisher QueuedPublisher
	Processor *worker.TurnProcessor
	Lock      Locker
}

func NewTurnHandler(deps TurnHandlerDeps, logger *slog.Logger) *TurnHandler {
	return &TurnHandler{
		store:     deps.Store,
		orch:      deps.Orch,
		sessions:  deps.Sessions,
		queue:     deps.Queue,
		publisher: deps.Publisher,
		processor: deps.Processor,
		lock:      deps.Lock,
		logger:    logger,
	}
}

// TurnRequest asks for one turn (next_turn) or an auto-play run.
type TurnRequest struct {
	Type  queue.RequestType `json:"type"`
	Turns int               `json:"turns"`
}

type TurnAcceptedResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// EnqueueTurn queues a turn request for the workers.
// POST /v1/screenplays/:screenplayID/scenes/:sceneID/turns
func (h *TurnHandler) EnqueueTurn(c *gin.Context) {
	ctx := c.Request.Context()
	ref := sceneRef(c)

	var body TurnRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}
	if body.Type == "" {
		body.Type = queue.RequestTypeNextTurn
	}
	req := queue.NewRequest(body.Type, ref.ScreenplayID, ref.SceneID, body.Turns)
	if err := req.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if _, err := h.store.GetScene(ctx, ref.ScreenplayID, ref.SceneID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	if err := h.queue.Enqueue(ctx, req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.publisher.PublishRequestQueued(ctx, ref, req.RequestID, string(req.Type)); err != nil {
		h.logger.Error("Failed to publish queued event", "error", err, "request_id", req.RequestID)
	}

	h.logger.Info("Turn request queued",
		"request_id", req.RequestID,
		"type", req.Type,
		"screenplay_id", ref.ScreenplayID,
		"scene_id", ref.SceneID)
	c.JSON(http.StatusAccepted, TurnAcceptedResponse{RequestID: req.RequestID, Status: "queued"})
}

type PlayTurnResponse struct {
	Turns   int                   `json:"turns"`
	Session *orchestrator.Session `json:"session"`
}

// PlayTurn plays a single turn within the request. It takes the same scene
// lock as the workers, so it fails with 409 while a worker drives the scene.
// POST /v1/screenplays/:screenplayID/scenes/:sceneID/turns/play
func (h *TurnHandler) PlayTurn(c *gin.Context) {
	ctx := c.Request.Context()
	ref := sceneRef(c)
	if _, err := h.store.GetScene(ctx, ref.ScreenplayID, ref.SceneID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	owner := "api-" + uuid.NewString()[:8]
	locked, err := h.lock.Acquire(ctx, ref.SceneID, owner)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !locked {
		c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{Error: "scene is being played", Type: "conflict"})
		return
	}
	defer func() {
		if err := h.lock.Release(context.WithoutCancel(ctx), ref.SceneID, owner); err != nil {
			h.logger.Error("Failed to release scene lock", "error", err, "scene_id", ref.SceneID)
		}
	}()
	playCtx, stop := worker.HoldLock(ctx, h.lock, ref.SceneID, owner, h.logger)
	defer stop()

	req := queue.NewRequest(queue.RequestTypeNextTurn, ref.ScreenplayID, ref.SceneID, 1)
	played, err := h.processor.Process(playCtx, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	sess, err := h.sessions.Load(ctx, ref)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, PlayTurnResponse{Turns: played, Session: sess})
}

// GetSession returns the scene's counters and pause state.
func (h *TurnHandler) GetSession(c *gin.Context) {
	sess, err := h.sessions.Load(c.Request.Context(), sceneRef(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// ResetSession drops the scene's counters and pause state.
func (h *TurnHandler) ResetSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), sceneRef(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type SwitchSceneRequest struct {
	SceneID string `json:"scene_id" binding:"required"`
}

// SwitchScene moves play from the route's scene to another scene of the
// screenplay, starting it with fresh counters.
func (h *TurnHandler) SwitchScene(c *gin.Context) {
	ctx := c.Request.Context()
	var body SwitchSceneRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	from := sceneRef(c)
	if body.SceneID == from.SceneID {
		badRequest(c, "scene_id must name a different scene")
		return
	}
	sess, err := h.sessions.Load(ctx, from)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.orch.SwitchScene(ctx, sess, body.SceneID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.sessions.Save(ctx, sess); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.sessions.Delete(ctx, from); err != nil {
		h.logger.Warn("Failed to drop previous session", "error", err, "scene_id", from.SceneID)
	}
	c.JSON(http.StatusOK, sess)
}
