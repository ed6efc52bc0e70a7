package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/screenplay-engine/internal/services"
	"github.com/jwebster45206/screenplay-engine/pkg/director"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// sessionTTL bounds how long an idle scene keeps its counters.
const sessionTTL = 24 * time.Hour

// Session is the explicit play state of one scene. It is threaded through
// every turn instead of living in package state.
type Session struct {
	Ref         screenplay.SceneRef `json:"ref"`
	Counters    director.Counters   `json:"counters"`
	Skipped     []string            `json:"skipped,omitempty"` // barred from the next speaker selection
	Paused      bool                `json:"paused"`
	PauseReason string              `json:"pause_reason,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func NewSession(ref screenplay.SceneRef) *Session {
	return &Session{Ref: ref}
}

func (s *Session) pause(reason string) {
	s.Paused = true
	s.PauseReason = reason
}

// Resume clears a pause so the scene can be played again.
func (s *Session) Resume() {
	s.Paused = false
	s.PauseReason = ""
}

// SessionStore persists sessions in the cache as JSON under session:<screenplay>:<scene>.
type SessionStore struct {
	cache  services.Cache
	logger *slog.Logger
}

func NewSessionStore(cache services.Cache, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{cache: cache, logger: logger}
}

func sessionKey(ref screenplay.SceneRef) string {
	return "session:" + ref.ScreenplayID + ":" + ref.SceneID
}

// Load returns the stored session, or a fresh one when none exists.
func (s *SessionStore) Load(ctx context.Context, ref screenplay.SceneRef) (*Session, error) {
	raw, err := s.cache.Get(ctx, sessionKey(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if raw == "" {
		return NewSession(ref), nil
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		s.logger.Warn("discarding unreadable session", "scene", ref.String(), "error", err)
		return NewSession(ref), nil
	}
	sess.Ref = ref
	return &sess, nil
}

func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.cache.Set(ctx, sessionKey(sess.Ref), string(data), sessionTTL); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, ref screenplay.SceneRef) error {
	return s.cache.Del(ctx, sessionKey(ref))
}
