package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwebster45206/screenplay-engine/internal/config"
	"github.com/jwebster45206/screenplay-engine/internal/handlers"
	"github.com/jwebster45206/screenplay-engine/internal/logger"
	"github.com/jwebster45206/screenplay-engine/internal/orchestrator"
	"github.com/jwebster45206/screenplay-engine/internal/services"
	"github.com/jwebster45206/screenplay-engine/internal/services/events"
	"github.com/jwebster45206/screenplay-engine/internal/services/queue"
	"github.com/jwebster45206/screenplay-engine/internal/storage/sqlite"
	"github.com/jwebster45206/screenplay-engine/internal/telemetry"
	"github.com/jwebster45206/screenplay-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting Screenplay Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", cfg.ModelName)

	shutdownTracing, err := telemetry.Setup(context.Background(), "screenplay-api", cfg.OTelEndpoint)
	if err != nil {
		log.Error("Failed to set up tracing", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.Open(context.Background(), cfg.DatabasePath)
	if err != nil {
		log.Error("Failed to open database", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	log.Info("Database opened", "path", cfg.DatabasePath)

	cache, err := services.NewRedisService(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create redis client", "error", err)
		os.Exit(1)
	}
	cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cacheCancel()
	if err := cache.WaitForConnection(cacheCtx); err != nil {
		log.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}

	llmService, err := services.NewLLMService(context.Background(), cfg, log)
	if err != nil {
		log.Error("Failed to create LLM service", "error", err, "provider", cfg.LLMProvider)
		os.Exit(1)
	}
	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer initCancel()
	if err := llmService.InitModel(initCtx, cfg.ModelName); err != nil {
		log.Error("Failed to initialize LLM model", "error", err, "model", cfg.ModelName)
		os.Exit(1)
	}

	engine := orchestrator.Wire(store, llmService, cfg.Engine, log)
	sessions := orchestrator.NewSessionStore(cache, log)

	queueClient := queue.NewClientFromRedis(cache.GetClient(), log)
	broadcaster := events.NewBroadcaster(cache.GetClient(), log)

	router := handlers.NewRouter(handlers.Handlers{
		Health:      handlers.NewHealthHandler(cache, store, log),
		Screenplays: handlers.NewScreenplayHandler(store, log),
		Scenes:      handlers.NewSceneHandler(engine.Ledger, engine.Trackers, engine.Instructions, log),
		Turns: handlers.NewTurnHandler(handlers.TurnHandlerDeps{
			Store:     store,
			Orch:      engine.Orchestrator,
			Sessions:  sessions,
			Queue:     queue.NewTurnQueue(queueClient),
			Publisher: broadcaster,
			Processor: worker.NewTurnProcessor(engine.Orchestrator, sessions, store, broadcaster, log),
			Lock:      queue.NewSceneLock(queueClient, cfg.Engine.LockTTL(), log),
		}, log),
		Events:    handlers.NewEventsHandler(broadcaster, log),
		WebSocket: handlers.NewWebSocketHandler(broadcaster, log),
	}, log)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE and websocket relays stay open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := cache.Close(); err != nil {
		log.Error("Error closing redis connection", "error", err)
	}
	if err := store.Close(); err != nil {
		log.Error("Error closing database", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error flushing traces", "error", err)
	}

	log.Info("Server exited")
}
