package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwebster45206/screenplay-engine/internal/instructions"
	"github.com/jwebster45206/screenplay-engine/internal/ledger"
	"github.com/jwebster45206/screenplay-engine/internal/sidestate"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// SceneHandler serves the live state of a scene: its ledger, who is on stage,
// the roles' side-state and pending director instructions.
type SceneHandler struct {
	ledger       *ledger.Ledger
	trackers     *sidestate.Trackers
	instructions *instructions.Processor
	logger       *slog.Logger
}

func NewSceneHandler(l *ledger.Ledger, trackers *sidestate.Trackers, proc *instructions.Processor, logger *slog.Logger) *SceneHandler {
	return &SceneHandler{
		ledger:       l,
		trackers:     trackers,
		instructions: proc,
		logger:       logger,
	}
}

// ListDialogues returns the scene ledger in turn order.
func (h *SceneHandler) ListDialogues(c *gin.Context) {
	list, err := h.ledger.Dialogues(c.Request.Context(), sceneRef(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

// AppendDialogueRequest is a manually authored ledger row.
type AppendDialogueRequest struct {
	Type   screenplay.DialogueType `json:"type"`
	RoleID string                  `json:"role_id"`
	Action string                  `json:"action"`
	Text   string                  `json:"dialogue"`
}

func (h *SceneHandler) AppendDialogue(c *gin.Context) {
	var req AppendDialogueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	d, err := h.ledger.AppendDialogue(c.Request.Context(), sceneRef(c), screenplay.Dialogue{
		Type:   req.Type,
		RoleID: req.RoleID,
		Action: req.Action,
		Text:   req.Text,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// ListAppearances returns every appearance, or only roles on stage with ?active=true.
func (h *SceneHandler) ListAppearances(c *gin.Context) {
	ref := sceneRef(c)
	var (
		list []screenplay.RoleAppearance
		err  error
	)
	if c.Query("active") == "true" {
		list, err = h.ledger.ActiveRoles(c.Request.Context(), ref)
	} else {
		list, err = h.ledger.Appearances(c.Request.Context(), ref)
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

type AdmitRoleRequest struct {
	RoleID    string               `json:"role_id" binding:"required"`
	EntryType screenplay.EntryType `json:"entry_type"`
}

func (h *SceneHandler) AdmitRole(c *gin.Context) {
	var req AdmitRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	a, err := h.ledger.AdmitRole(c.Request.Context(), sceneRef(c), req.RoleID, req.EntryType)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *SceneHandler) RetractRole(c *gin.Context) {
	if err := h.ledger.RetractRole(c.Request.Context(), sceneRef(c), c.Param("appearanceID")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Emotions returns the current emotion of every role in the scene, keyed by role id.
func (h *SceneHandler) Emotions(c *gin.Context) {
	emotions, err := h.trackers.EmotionsByRole(c.Request.Context(), sceneRef(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, emotions)
}

// Beliefs returns a role's belief history, or only active beliefs with ?active=true.
func (h *SceneHandler) Beliefs(c *gin.Context) {
	ctx := c.Request.Context()
	sp, roleID := c.Param("screenplayID"), c.Param("roleID")
	var (
		list []screenplay.RoleBelief
		err  error
	)
	if c.Query("active") == "true" {
		list, err = h.trackers.ActiveBeliefs(ctx, sp, roleID)
	} else {
		list, err = h.trackers.BeliefHistory(ctx, sp, roleID)
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

// Clues returns a role's latent clue history.
func (h *SceneHandler) Clues(c *gin.Context) {
	list, err := h.trackers.ClueHistory(c.Request.Context(), c.Param("screenplayID"), c.Param("roleID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

// IssueInstructionRequest carries a director instruction and its kind-specific params.
type IssueInstructionRequest struct {
	Kind   string          `json:"kind" binding:"required"`
	Params json.RawMessage `json:"params"`
}

// IssueInstruction stores a pending instruction, applied at the start of the next turn.
func (h *SceneHandler) IssueInstruction(c *gin.Context) {
	var req IssueInstructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	kind, err := screenplay.ParseInstructionKind(req.Kind)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	in, err := h.instructions.Issue(c.Request.Context(), sceneRef(c), kind, req.Params)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("Instruction issued", "scene_id", in.SceneID, "instruction_id", in.ID, "kind", kind)
	c.JSON(http.StatusCreated, in)
}

// ListInstructions lists the scene's instructions, or only pending ones with ?pending=true.
func (h *SceneHandler) ListInstructions(c *gin.Context) {
	list, err := h.instructions.List(c.Request.Context(), sceneRef(c), c.Query("pending") == "true")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}
