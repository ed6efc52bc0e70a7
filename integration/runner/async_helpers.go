package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jwebster45206/screenplay-engine/internal/orchestrator"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

const (
	// PollInterval is how often to check the scene for updates
	PollInterval = 1 * time.Second
	// TurnTimeout is max time to wait for a single queued turn to land
	TurnTimeout = 60 * time.Second
	// AutoPlayTurnBudget is the extra time allowed per turn of an auto-play run
	AutoPlayTurnBudget = 30 * time.Second
)

// TurnAccepted is the response from the async turns endpoint
type TurnAccepted struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// APIError carries a non-success status from the API so steps can assert on it.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.Status, e.Body)
}

// doJSON sends body (when not nil) and decodes the response into out (when not nil).
func doJSON(ctx context.Context, client *http.Client, method, url string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func scenePath(baseURL string, ref screenplay.SceneRef) string {
	return fmt.Sprintf("%s/v1/screenplays/%s/scenes/%s", baseURL, ref.ScreenplayID, ref.SceneID)
}

// PostTurnAsync queues one turn, or an auto-play run when turns > 0, and returns the request_id
func PostTurnAsync(ctx context.Context, client *http.Client, baseURL string, ref screenplay.SceneRef, turns int) (string, error) {
	body := map[string]any{"type": "next_turn"}
	if turns > 0 {
		body = map[string]any{"type": "auto_play", "turns": turns}
	}
	var accepted TurnAccepted
	if err := doJSON(ctx, client, http.MethodPost, scenePath(baseURL, ref)+"/turns", body, http.StatusAccepted, &accepted); err != nil {
		return "", err
	}
	return accepted.RequestID, nil
}

// GetDialogues retrieves the scene's full transcript in turn order
func GetDialogues(ctx context.Context, client *http.Client, baseURL string, ref screenplay.SceneRef) ([]screenplay.Dialogue, error) {
	var list []screenplay.Dialogue
	err := doJSON(ctx, client, http.MethodGet, scenePath(baseURL, ref)+"/dialogues", nil, http.StatusOK, &list)
	return list, err
}

// GetSession retrieves the scene's counters and pause state
func GetSession(ctx context.Context, client *http.Client, baseURL string, ref screenplay.SceneRef) (*orchestrator.Session, error) {
	var sess orchestrator.Session
	if err := doJSON(ctx, client, http.MethodGet, scenePath(baseURL, ref)+"/session", nil, http.StatusOK, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetOnStage retrieves the scene's active appearances
func GetOnStage(ctx context.Context, client *http.Client, baseURL string, ref screenplay.SceneRef) ([]screenplay.RoleAppearance, error) {
	var list []screenplay.RoleAppearance
	err := doJSON(ctx, client, http.MethodGet, scenePath(baseURL, ref)+"/appearances?active=true", nil, http.StatusOK, &list)
	return list, err
}

// PollForTurns waits until at least want new dialogues have landed after baseline
// and the transcript has stopped growing for one poll, or the session is saved
// as paused after since. A paused scene stops growing, sometimes without a row.
func PollForTurns(ctx context.Context, client *http.Client, baseURL string, ref screenplay.SceneRef, baseline, want int, since time.Time, timeout time.Duration) ([]screenplay.Dialogue, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	last := -1
	for {
		dialogues, err := GetDialogues(ctx, client, baseURL, ref)
		if err != nil {
			return nil, err
		}
		// A turn can append several rows (narration, event, the line itself).
		if len(dialogues)-baseline >= want && len(dialogues) == last {
			return dialogues, nil
		}
		last = len(dialogues)

		sess, err := GetSession(ctx, client, baseURL, ref)
		if err != nil {
			return nil, err
		}
		if sess.Paused && sess.UpdatedAt.After(since) {
			return dialogues, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for turns: have %d new dialogues, want %d", len(dialogues)-baseline, want)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
