package handlers

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Health      *HealthHandler
	Screenplays *ScreenplayHandler
	Scenes      *SceneHandler
	Turns       *TurnHandler
	Events      *EventsHandler
	WebSocket   *WebSocketHandler
}

// NewRouter builds the gin engine with request logging and every route.
func NewRouter(h Handlers, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))

	r.GET("/health", h.Health.Check)

	v1 := r.Group("/v1")
	v1.GET("/screenplays", h.Screenplays.ListScreenplays)
	v1.POST("/screenplays", h.Screenplays.CreateScreenplay)

	sp := v1.Group("/screenplays/:screenplayID")
	sp.GET("", h.Screenplays.GetScreenplay)
	sp.PUT("", h.Screenplays.UpdateScreenplay)
	sp.GET("/logs", h.Screenplays.Logs)

	sp.GET("/chapters", h.Screenplays.ListChapters)
	sp.POST("/chapters", h.Screenplays.CreateChapter)
	sp.PUT("/chapters/:chapterID", h.Screenplays.UpdateChapter)
	sp.DELETE("/chapters/:chapterID", h.Screenplays.DeleteChapter)

	sp.GET("/roles", h.Screenplays.ListRoles)
	sp.POST("/roles", h.Screenplays.CreateRole)
	sp.GET("/roles/:roleID", h.Screenplays.GetRole)
	sp.PUT("/roles/:roleID", h.Screenplays.UpdateRole)
	sp.GET("/roles/:roleID/beliefs", h.Scenes.Beliefs)
	sp.GET("/roles/:roleID/clues", h.Scenes.Clues)

	sp.GET("/scenes", h.Screenplays.ListScenes)
	sp.POST("/scenes", h.Screenplays.CreateScene)

	scene := sp.Group("/scenes/:sceneID")
	scene.GET("", h.Screenplays.GetScene)
	scene.PUT("", h.Screenplays.UpdateScene)
	scene.GET("/dialogues", h.Scenes.ListDialogues)
	scene.POST("/dialogues", h.Scenes.AppendDialogue)
	scene.GET("/appearances", h.Scenes.ListAppearances)
	scene.POST("/appearances", h.Scenes.AdmitRole)
	scene.DELETE("/appearances/:appearanceID", h.Scenes.RetractRole)
	scene.GET("/emotions", h.Scenes.Emotions)
	scene.GET("/instructions", h.Scenes.ListInstructions)
	scene.POST("/instructions", h.Scenes.IssueInstruction)
	scene.POST("/turns", h.Turns.EnqueueTurn)
	scene.POST("/turns/play", h.Turns.PlayTurn)
	scene.GET("/session", h.Turns.GetSession)
	scene.DELETE("/session", h.Turns.ResetSession)
	scene.POST("/switch", h.Turns.SwitchScene)

	if h.Events != nil {
		v1.GET("/events/scenes/:sceneID", h.Events.Stream)
	}
	if h.WebSocket != nil {
		v1.GET("/ws/scenes/:sceneID", h.WebSocket.Relay)
	}
	return r
}

// RequestLogger logs one line per request and tags it with an X-Request-ID.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "HTTP request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", c.ClientIP())
	}
}
