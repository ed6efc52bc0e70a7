package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only while the lock still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// SceneLock ensures at most one worker drives a scene at a time.
type SceneLock struct {
	client *Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewSceneLock(client *Client, ttl time.Duration, logger *slog.Logger) *SceneLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SceneLock{client: client, ttl: ttl, logger: logger}
}

func (l *SceneLock) TTL() time.Duration { return l.ttl }

func lockKey(sceneID string) string {
	return fmt.Sprintf("scene-lock:%s", sceneID)
}

// Acquire takes the lock for owner. It reports false when another owner holds it.
func (l *SceneLock) Acquire(ctx context.Context, sceneID, owner string) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, lockKey(sceneID), owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire scene lock: %w", err)
	}
	if ok {
		l.logger.Debug("Acquired scene lock", "scene_id", sceneID, "owner", owner)
	}
	return ok, nil
}

// Extend refreshes the TTL while owner still holds the lock. It reports false
// once the lock has expired or passed to another owner.
func (l *SceneLock) Extend(ctx context.Context, sceneID, owner string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client.rdb, []string{lockKey(sceneID)}, owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to extend scene lock: %w", err)
	}
	return n == 1, nil
}

// Release frees the lock if owner still holds it.
func (l *SceneLock) Release(ctx context.Context, sceneID, owner string) error {
	n, err := releaseScript.Run(ctx, l.client.rdb, []string{lockKey(sceneID)}, owner).Int()
	if err != nil {
		return fmt.Errorf("failed to release scene lock: %w", err)
	}
	if n == 0 {
		l.logger.Warn("Scene lock was no longer held", "scene_id", sceneID, "owner", owner)
	}
	return nil
}
