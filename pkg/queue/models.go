package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestType identifies the type of request in the queue
type RequestType string

const (
	// RequestTypeNextTurn plays exactly one turn of a scene
	RequestTypeNextTurn RequestType = "next_turn"

	// RequestTypeAutoPlay plays turns until the scene pauses or Turns is reached
	RequestTypeAutoPlay RequestType = "auto_play"
)

// MaxAutoPlayTurns caps a single auto_play request.
const MaxAutoPlayTurns = 50

// Request asks a worker to drive one scene.
type Request struct {
	RequestID    string      `json:"request_id"`
	Type         RequestType `json:"type"`
	ScreenplayID string      `json:"screenplay_id"`
	SceneID      string      `json:"scene_id"`

	// Turns bounds auto_play; zero means play until the scene pauses.
	Turns int `json:"turns,omitempty"`

	// Attempts counts how often the request was re-queued because the scene was busy.
	Attempts int `json:"attempts,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewRequest builds a request with a fresh id.
func NewRequest(t RequestType, screenplayID, sceneID string, turns int) *Request {
	return &Request{
		RequestID:    uuid.New().String(),
		Type:         t,
		ScreenplayID: screenplayID,
		SceneID:      sceneID,
		Turns:        turns,
		EnqueuedAt:   time.Now(),
	}
}

// Validate checks the request before it is queued.
func (r *Request) Validate() error {
	switch r.Type {
	case RequestTypeNextTurn, RequestTypeAutoPlay:
	default:
		return fmt.Errorf("invalid request type: %q", r.Type)
	}
	if strings.TrimSpace(r.ScreenplayID) == "" {
		return fmt.Errorf("screenplay_id is required")
	}
	if strings.TrimSpace(r.SceneID) == "" {
		return fmt.Errorf("scene_id is required")
	}
	if r.Turns < 0 || r.Turns > MaxAutoPlayTurns {
		return fmt.Errorf("turns must be between 0 and %d", MaxAutoPlayTurns)
	}
	return nil
}

// TurnBudget is the number of turns the request may play; zero means unbounded.
func (r *Request) TurnBudget() int {
	if r.Type == RequestTypeNextTurn {
		return 1
	}
	return r.Turns
}

// ToJSON converts the request to JSON bytes for Redis
func (r *Request) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a request from JSON bytes
func FromJSON(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
