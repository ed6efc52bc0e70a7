package services

import (
	"context"
	"time"
)

// Cache is the key/value store behind orchestrator sessions. Values are JSON
// strings kept under "session:<screenplay>:<scene>" with a sliding TTL.
type Cache interface {
	Pinger

	// Get returns "" and no error for a missing key.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Pinger is anything the health check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}
