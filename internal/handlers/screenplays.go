package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// ScreenplayHandler serves authoring of screenplays, chapters, scenes and roles.
type ScreenplayHandler struct {
	store  storage.Store
	logger *slog.Logger
}

func NewScreenplayHandler(store storage.Store, logger *slog.Logger) *ScreenplayHandler {
	return &ScreenplayHandler{store: store, logger: logger}
}

// Screenplays

func (h *ScreenplayHandler) CreateScreenplay(c *gin.Context) {
	var sp screenplay.Screenplay
	if err := c.ShouldBindJSON(&sp); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(sp.Title) == "" {
		badRequest(c, "title is required")
		return
	}
	sp.ID = ""
	if err := h.store.CreateScreenplay(c.Request.Context(), &sp); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("Screenplay created", "screenplay_id", sp.ID, "title", sp.Title)
	c.JSON(http.StatusCreated, sp)
}

func (h *ScreenplayHandler) ListScreenplays(c *gin.Context) {
	list, err := h.store.ListScreenplays(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

func (h *ScreenplayHandler) GetScreenplay(c *gin.Context) {
	sp, err := h.store.GetScreenplay(c.Request.Context(), c.Param("screenplayID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sp)
}

func (h *ScreenplayHandler) UpdateScreenplay(c *gin.Context) {
	var sp screenplay.Screenplay
	if err := c.ShouldBindJSON(&sp); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	sp.ID = c.Param("screenplayID")
	if err := h.store.UpdateScreenplay(c.Request.Context(), &sp); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sp)
}

// Chapters

// CreateChapterRequest creates a chapter together with its first scene, which
// inherits the chapter's goal.
type CreateChapterRequest struct {
	screenplay.Chapter
	SceneName string `json:"scene_name"`
}

// CreateChapter creates the chapter and its first scene. If the scene cannot
// be created the chapter is removed again.
func (h *ScreenplayHandler) CreateChapter(c *gin.Context) {
	ctx := c.Request.Context()
	var req CreateChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if err := h.requireScreenplay(ctx, c.Param("screenplayID")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	ch := req.Chapter
	ch.ID = ""
	ch.ScreenplayID = c.Param("screenplayID")
	if err := ch.Goal.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.store.CreateChapter(ctx, &ch); err != nil {
		respondError(c, h.logger, err)
		return
	}

	scene := screenplay.Scene{
		ScreenplayID: ch.ScreenplayID,
		ChapterID:    ch.ID,
		Name:         req.SceneName,
		Description:  ch.Description,
		Goal:         ch.Goal,
	}
	if err := h.store.CreateScene(ctx, &scene); err != nil {
		if delErr := h.store.DeleteChapter(ctx, ch.ScreenplayID, ch.ID); delErr != nil {
			h.logger.Error("Failed to roll back chapter", "error", delErr, "chapter_id", ch.ID)
		}
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Chapter created", "screenplay_id", ch.ScreenplayID, "chapter_id", ch.ID, "index", ch.Index)
	c.JSON(http.StatusCreated, gin.H{"chapter": ch, "scene": scene})
}

func (h *ScreenplayHandler) ListChapters(c *gin.Context) {
	list, err := h.store.ListChapters(c.Request.Context(), c.Param("screenplayID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

func (h *ScreenplayHandler) UpdateChapter(c *gin.Context) {
	var ch screenplay.Chapter
	if err := c.ShouldBindJSON(&ch); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	ch.ID = c.Param("chapterID")
	ch.ScreenplayID = c.Param("screenplayID")
	if err := ch.Goal.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.store.UpdateChapter(c.Request.Context(), &ch); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// DeleteChapter removes the last chapter of a screenplay.
func (h *ScreenplayHandler) DeleteChapter(c *gin.Context) {
	if err := h.store.DeleteChapter(c.Request.Context(), c.Param("screenplayID"), c.Param("chapterID")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Scenes

func (h *ScreenplayHandler) CreateScene(c *gin.Context) {
	var sc screenplay.Scene
	if err := c.ShouldBindJSON(&sc); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	sc.ID = ""
	sc.ScreenplayID = c.Param("screenplayID")
	if sc.ChapterID == "" {
		badRequest(c, "chapter_id is required")
		return
	}
	if err := sc.Goal.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if _, err := h.store.GetChapter(c.Request.Context(), sc.ScreenplayID, sc.ChapterID); err != nil {
		if apperrors.IsNotFound(err) {
			badRequest(c, "chapter "+sc.ChapterID+" does not exist")
			return
		}
		respondError(c, h.logger, err)
		return
	}
	if err := h.store.CreateScene(c.Request.Context(), &sc); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sc)
}

// ListScenes lists the screenplay's scenes, optionally filtered by ?chapter_id=.
func (h *ScreenplayHandler) ListScenes(c *gin.Context) {
	list, err := h.store.ListScenes(c.Request.Context(), c.Param("screenplayID"), c.Query("chapter_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

func (h *ScreenplayHandler) GetScene(c *gin.Context) {
	sc, err := h.store.GetScene(c.Request.Context(), c.Param("screenplayID"), c.Param("sceneID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (h *ScreenplayHandler) UpdateScene(c *gin.Context) {
	ctx := c.Request.Context()
	var sc screenplay.Scene
	if err := c.ShouldBindJSON(&sc); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	existing, err := h.store.GetScene(ctx, c.Param("screenplayID"), c.Param("sceneID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	sc.ID = existing.ID
	sc.ScreenplayID = existing.ScreenplayID
	sc.ChapterID = existing.ChapterID
	sc.OrderIndex = existing.OrderIndex
	if err := sc.Goal.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.store.UpdateScene(ctx, &sc); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

// Roles

func (h *ScreenplayHandler) CreateRole(c *gin.Context) {
	ctx := c.Request.Context()
	var r screenplay.Role
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	r.ID = ""
	r.ScreenplayID = c.Param("screenplayID")
	if r.Type == "" {
		r.Type = screenplay.RoleTypeMember
	}
	if err := r.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.requireScreenplay(ctx, r.ScreenplayID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.store.CreateRole(ctx, &r); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("Role created", "screenplay_id", r.ScreenplayID, "role_id", r.ID, "type", r.Type)
	c.JSON(http.StatusCreated, r)
}

func (h *ScreenplayHandler) ListRoles(c *gin.Context) {
	list, err := h.store.ListRoles(c.Request.Context(), c.Param("screenplayID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

func (h *ScreenplayHandler) GetRole(c *gin.Context) {
	r, err := h.store.GetRole(c.Request.Context(), c.Param("screenplayID"), c.Param("roleID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ScreenplayHandler) UpdateRole(c *gin.Context) {
	var r screenplay.Role
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	r.ID = c.Param("roleID")
	r.ScreenplayID = c.Param("screenplayID")
	if err := r.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.store.UpdateRole(c.Request.Context(), &r); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Logs lists the screenplay's audit log.
func (h *ScreenplayHandler) Logs(c *gin.Context) {
	logs, err := h.store.ListLogs(c.Request.Context(), c.Param("screenplayID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(logs))
}

func (h *ScreenplayHandler) requireScreenplay(ctx context.Context, id string) error {
	_, err := h.store.GetScreenplay(ctx, id)
	return err
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
