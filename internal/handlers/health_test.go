package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwebster45206/screenplay-engine/internal/services"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
)

func TestHealthHandler_Check(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // Reduce noise in tests
	}))

	tests := []struct {
		name             string
		cacheErr         error
		storeErr         error
		expectedStatus   int
		expectedHealth   string
		expectedCache    string
		expectedDatabase string
	}{
		{
			name:             "all healthy",
			expectedStatus:   http.StatusOK,
			expectedHealth:   "healthy",
			expectedCache:    "healthy",
			expectedDatabase: "healthy",
		},
		{
			name:             "unhealthy cache",
			cacheErr:         errors.New("connection failed"),
			expectedStatus:   http.StatusServiceUnavailable,
			expectedHealth:   "degraded",
			expectedCache:    "unhealthy",
			expectedDatabase: "healthy",
		},
		{
			name:             "unhealthy database",
			storeErr:         errors.New("database is locked"),
			expectedStatus:   http.StatusServiceUnavailable,
			expectedHealth:   "degraded",
			expectedCache:    "healthy",
			expectedDatabase: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := services.NewMockCache()
			if tt.cacheErr != nil {
				cache.SetPingError(tt.cacheErr)
			}
			store := storage.NewMockStorage()
			if tt.storeErr != nil {
				store.SetPingError(tt.storeErr)
			}

			router := gin.New()
			router.GET("/health", NewHealthHandler(cache, store, logger).Check)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if contentType := w.Header().Get("Content-Type"); contentType != "application/json; charset=utf-8" {
				t.Errorf("Expected Content-Type application/json; charset=utf-8, got %s", contentType)
			}

			var response HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				t.Fatalf("Failed to unmarshal response: %v", err)
			}

			if response.Status != tt.expectedHealth {
				t.Errorf("Expected health status %s, got %s", tt.expectedHealth, response.Status)
			}
			if response.Components["cache"] != tt.expectedCache {
				t.Errorf("Expected cache status %s, got %s", tt.expectedCache, response.Components["cache"])
			}
			if response.Components["database"] != tt.expectedDatabase {
				t.Errorf("Expected database status %s, got %s", tt.expectedDatabase, response.Components["database"])
			}
			if response.Service != "screenplay-engine" {
				t.Errorf("Expected service screenplay-engine, got %s", response.Service)
			}
			if time.Since(response.Timestamp) > time.Minute {
				t.Errorf("Timestamp looks stale: %v", response.Timestamp)
			}
		})
	}
}
