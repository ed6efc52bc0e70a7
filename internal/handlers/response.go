package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

// statusFor maps an application error to its HTTP status.
func statusFor(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeConflict, apperrors.ErrorTypeNotActive:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Server errors are logged and their detail
// is not sent to the client.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			"error", err,
			"method", c.Request.Method,
			"path", c.FullPath())
		c.AbortWithStatusJSON(status, ErrorResponse{Error: "Internal server error"})
		return
	}
	logger.Debug("Request rejected", "error", err, "status", status, "path", c.FullPath())
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Type: string(apperrors.TypeOf(err))})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: message, Type: string(apperrors.ErrorTypeValidation)})
}

// sceneRef reads the screenplay and scene ids from the route.
func sceneRef(c *gin.Context) screenplay.SceneRef {
	return screenplay.SceneRef{ScreenplayID: c.Param("screenplayID"), SceneID: c.Param("sceneID")}
}
