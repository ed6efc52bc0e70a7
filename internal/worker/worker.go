package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/screenplay-engine/internal/services/queue"
	queuePkg "github.com/jwebster45206/screenplay-engine/pkg/queue"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

const (
	workerTimeout = 5 * time.Second

	// requeueDelay spaces out retries of a request whose scene is busy.
	requeueDelay = 250 * time.Millisecond
)

// Worker pulls turn requests and drives one scene at a time
type Worker struct {
	id          string
	queue       *queue.TurnQueue
	lock        SceneLocker
	processor   *TurnProcessor
	broadcaster Publisher
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a new worker instance
func New(turnQueue *queue.TurnQueue, lock SceneLocker, processor *TurnProcessor, broadcaster Publisher, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:          workerID,
		queue:       turnQueue,
		lock:        lock,
		processor:   processor,
		broadcaster: broadcaster,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (w *Worker) ID() string { return w.id }

// Start begins processing requests from the queue
func (w *Worker) Start() error {
	w.log.Info("Worker starting", "worker_id", w.id)

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down", "worker_id", w.id)
			return nil
		default:
			if err := w.processNextRequest(); err != nil {
				w.log.Error("Error processing request", "error", err, "worker_id", w.id)
				// Continue processing even on error
				select {
				case <-w.ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested", "worker_id", w.id)
	w.cancel()
}

// processNextRequest pulls the next request from the queue and processes it
func (w *Worker) processNextRequest() error {
	// Block waiting for next request (timeout to check for shutdown)
	req, err := w.queue.BlockingDequeue(w.ctx, workerTimeout)
	if err != nil {
		if w.ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to dequeue request: %w", err)
	}
	if req == nil {
		return nil
	}

	log := w.log.With("worker_id", w.id, "request_id", req.RequestID, "scene_id", req.SceneID)
	log.Info("Received request from queue", "type", req.Type, "attempts", req.Attempts)

	locked, err := w.lock.Acquire(w.ctx, req.SceneID, w.id)
	if err != nil {
		return err
	}
	if !locked {
		// Another worker is driving this scene; put the request back.
		log.Info("Scene already locked, re-queueing request")
		if err := w.queue.Requeue(w.ctx, req); err != nil {
			return fmt.Errorf("failed to re-queue request: %w", err)
		}
		select {
		case <-w.ctx.Done():
		case <-time.After(requeueDelay):
		}
		return nil
	}
	defer func() {
		// Release with a fresh context so shutdown does not leak the lock.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.lock.Release(ctx, req.SceneID, w.id); err != nil {
			log.Error("Failed to release scene lock", "error", err)
		}
	}()

	return w.processRequest(req)
}

// processRequest runs the request while keeping the scene lock alive.
func (w *Worker) processRequest(req *queuePkg.Request) error {
	ref := screenplay.SceneRef{ScreenplayID: req.ScreenplayID, SceneID: req.SceneID}
	ctx, cancel := HoldLock(w.ctx, w.lock, req.SceneID, w.id, w.log)
	defer cancel()

	if err := w.broadcaster.PublishRequestProcessing(ctx, ref, req.RequestID, string(req.Type), w.id); err != nil {
		w.log.Error("Failed to publish processing event", "error", err)
	}

	if _, err := w.processor.Process(ctx, req); err != nil {
		if pubErr := w.broadcaster.PublishRequestFailed(w.ctx, ref, req.RequestID, err.Error()); pubErr != nil {
			w.log.Error("Failed to publish failure event", "error", pubErr)
		}
		return fmt.Errorf("failed to process request %s: %w", req.RequestID, err)
	}
	return nil
}
