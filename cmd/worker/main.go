package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/screenplay-engine/internal/config"
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

	log.Info("Starting Screenplay Engine Worker",
		"environment", cfg.Environment,
		"redis_url", cfg.RedisURL,
		"max_scene_turns", cfg.Engine.MaxSceneTurns)

	shutdownTracing, err := telemetry.Setup(context.Background(), "screenplay-worker", cfg.OTelEndpoint)
	if err != nil {
		log.Error("Failed to set up tracing", "error", err)
		os.Exit(1)
	}

	// Initialize queue service
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer connectCancel()
	queueClient, err := queue.NewClient(connectCtx, cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			log.Error("Error closing queue client", "error", err)
		}
	}()
	turnQueue := queue.NewTurnQueue(queueClient)
	sceneLock := queue.NewSceneLock(queueClient, cfg.Engine.LockTTL(), log)
	broadcaster := events.NewBroadcaster(queueClient.GetRedisClient(), log)
	log.Info("Queue service initialized successfully")

	// Sessions live in their own connection so a blocking dequeue never stalls them.
	cache, err := services.NewRedisService(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create session cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Error("Error closing session cache", "error", err)
		}
	}()

	store, err := sqlite.Open(context.Background(), cfg.DatabasePath)
	if err != nil {
		log.Error("Failed to open database", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing database", "error", err)
		}
	}()
	log.Info("Storage service initialized successfully")

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
	log.Info("LLM service initialized successfully", "model", cfg.ModelName)

	engine := orchestrator.Wire(store, llmService, cfg.Engine, log)
	processor := worker.NewTurnProcessor(engine.Orchestrator, orchestrator.NewSessionStore(cache, log), store, broadcaster, log)

	w := worker.New(turnQueue, sceneLock, processor, broadcaster, log, cfg.WorkerID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("Worker started, waiting for turn requests...", "worker_id", w.ID())

	<-quit
	log.Info("Worker shutdown signal received")

	w.Stop()

	// Give the worker time to finish its current turn
	time.Sleep(2 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error flushing traces", "error", err)
	}

	log.Info("Worker exited")
}
