package worker

import (
	"context"
	"log/slog"
	"time"
)

// SceneLocker is the distributed scene lock held while a scene is played.
type SceneLocker interface {
	Acquire(ctx context.Context, sceneID, owner string) (bool, error)
	Extend(ctx context.Context, sceneID, owner string) (bool, error)
	Release(ctx context.Context, sceneID, owner string) error
	TTL() time.Duration
}

// HoldLock keeps owner's lock on sceneID alive until the returned stop is
// called or the lock is lost. The returned context is cancelled in both cases,
// so work running under it halts once another owner could take the scene.
func HoldLock(ctx context.Context, lock SceneLocker, sceneID, owner string, log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go keepLock(ctx, cancel, lock, sceneID, owner, log)
	return ctx, cancel
}

// keepLock extends the scene lock until ctx ends. Losing the lock cancels the run.
func keepLock(ctx context.Context, cancel context.CancelFunc, lock SceneLocker, sceneID, owner string, log *slog.Logger) {
	ticker := time.NewTicker(lockRefreshInterval(lock))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := lock.Extend(ctx, sceneID, owner)
			if err != nil {
				if ctx.Err() == nil {
					log.Error("Failed to extend scene lock", "error", err, "scene_id", sceneID, "owner", owner)
				}
				continue
			}
			if !held {
				log.Error("Lost scene lock, stopping request", "scene_id", sceneID, "owner", owner)
				cancel()
				return
			}
		}
	}
}

func lockRefreshInterval(l SceneLocker) time.Duration {
	return l.TTL() / 3
}
