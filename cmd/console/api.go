package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jwebster45206/screenplay-engine/internal/orchestrator"
	"github.com/jwebster45206/screenplay-engine/pkg/queue"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

// apiClient talks to the screenplay API on behalf of the console.
type apiClient struct {
	http    *http.Client
	baseURL string
}

func (a *apiClient) scenePath(ref screenplay.SceneRef) string {
	return fmt.Sprintf("%s/v1/screenplays/%s/scenes/%s", a.baseURL, ref.ScreenplayID, ref.SceneID)
}

func (a *apiClient) testConnection() bool {
	resp, err := a.http.Get(a.baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

// do sends a request and decodes a JSON response into out when out is not nil.
func (a *apiClient) do(method, url string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		var errorResp ErrorResponse
		if err := json.Unmarshal(data, &errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(data))
		}
		return fmt.Errorf("%s", errorResp.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (a *apiClient) listScreenplays() ([]screenplay.Screenplay, error) {
	var list []screenplay.Screenplay
	err := a.do(http.MethodGet, a.baseURL+"/v1/screenplays", nil, http.StatusOK, &list)
	return list, err
}

func (a *apiClient) listScenes(screenplayID string) ([]screenplay.Scene, error) {
	var list []screenplay.Scene
	err := a.do(http.MethodGet, fmt.Sprintf("%s/v1/screenplays/%s/scenes", a.baseURL, screenplayID), nil, http.StatusOK, &list)
	return list, err
}

func (a *apiClient) listRoles(screenplayID string) ([]screenplay.Role, error) {
	var list []screenplay.Role
	err := a.do(http.MethodGet, fmt.Sprintf("%s/v1/screenplays/%s/roles", a.baseURL, screenplayID), nil, http.StatusOK, &list)
	return list, err
}

func (a *apiClient) listDialogues(ref screenplay.SceneRef) ([]screenplay.Dialogue, error) {
	var list []screenplay.Dialogue
	err := a.do(http.MethodGet, a.scenePath(ref)+"/dialogues", nil, http.StatusOK, &list)
	return list, err
}

func (a *apiClient) listAppearances(ref screenplay.SceneRef) ([]screenplay.RoleAppearance, error) {
	var list []screenplay.RoleAppearance
	err := a.do(http.MethodGet, a.scenePath(ref)+"/appearances?active=true", nil, http.StatusOK, &list)
	return list, err
}

func (a *apiClient) admitRole(ref screenplay.SceneRef, roleID string) error {
	body := map[string]string{"role_id": roleID}
	return a.do(http.MethodPost, a.scenePath(ref)+"/appearances", body, http.StatusCreated, nil)
}

func (a *apiClient) getSession(ref screenplay.SceneRef) (*orchestrator.Session, error) {
	var sess orchestrator.Session
	if err := a.do(http.MethodGet, a.scenePath(ref)+"/session", nil, http.StatusOK, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

type turnAccepted struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// enqueueTurn asks the workers for one turn, or an auto-play run when turns > 0.
func (a *apiClient) enqueueTurn(ref screenplay.SceneRef, turns int) (string, error) {
	body := map[string]any{"type": queue.RequestTypeNextTurn}
	if turns > 0 {
		body = map[string]any{"type": queue.RequestTypeAutoPlay, "turns": turns}
	}
	var resp turnAccepted
	if err := a.do(http.MethodPost, a.scenePath(ref)+"/turns", body, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

func (a *apiClient) issueInstruction(ref screenplay.SceneRef, kind screenplay.InstructionKind, params any) error {
	body := map[string]any{"kind": kind, "params": params}
	return a.do(http.MethodPost, a.scenePath(ref)+"/instructions", body, http.StatusCreated, nil)
}

// SSEEvent represents an event from the SSE stream
type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// listenToSSE connects to the scene's SSE endpoint and streams events to a channel
func (a *apiClient) listenToSSE(ctx context.Context, sceneID string, eventChan chan<- SSEEvent) error {
	url := fmt.Sprintf("%s/v1/events/scenes/%s", a.baseURL, sceneID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The stream outlives the client's request timeout.
	streamClient := &http.Client{Transport: a.http.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("SSE connection failed with status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var current SSEEvent

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// Empty line signals end of event
			if current.Type != "" {
				select {
				case eventChan <- current:
				case <-ctx.Done():
					return ctx.Err()
				}
				current = SSEEvent{}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			current.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			var envelope SSEEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &envelope); err == nil {
				current.Data = envelope.Data
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return ctx.Err()
}
