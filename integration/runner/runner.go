package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running screenplay-engine API
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 60 * time.Second},
		Timeout:           TurnTimeout,
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file and checks its seed
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}
	if problems := suite.Seed.Problems(); len(problems) > 0 {
		return TestSuite{}, fmt.Errorf("invalid seed in %s: %s", filename, strings.Join(problems, "; "))
	}
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filename[strings.LastIndex(filename, "/")+1:], ".json")
	}
	return suite, nil
}

// cast maps role names from the case file to the ids the API assigned.
type cast map[string]string

func (c cast) id(name string) (string, error) {
	id, ok := c[name]
	if !ok {
		return "", fmt.Errorf("unknown role %q", name)
	}
	return id, nil
}

// RunSuite seeds the suite's screenplay and plays its first scene step by step
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results: make([]TestResult, 0, len(suite.Steps)),
	}

	ref, roles, err := r.seedScreenplay(ctx, suite.Seed)
	if err != nil {
		result.Error = fmt.Errorf("failed to seed screenplay: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}
	result.Ref = ref
	r.log("Seeded screenplay %s, playing scene %s", ref.ScreenplayID, ref.SceneID)

	for i, step := range suite.Steps {
		if step.Name == "" {
			step.Name = fmt.Sprintf("step %d (%s)", i+1, step.Action)
		}
		stepResult := r.runStep(ctx, ref, roles, step)
		stepResult.TestName = suite.Name
		result.Results = append(result.Results, stepResult)

		if stepResult.Success {
			r.log("  ✓ %s (%v)", step.Name, stepResult.Duration)
			continue
		}
		r.log("  ✗ %s: %v", step.Name, stepResult.Error)
		if result.Error == nil {
			result.Error = fmt.Errorf("step '%s' failed: %w", step.Name, stepResult.Error)
		}
		if r.ErrorHandlingMode == ErrorHandlingExit {
			break
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// seedScreenplay creates the screenplay, its cast and its first chapter
// through the API. Only the first scene is created since that is the one played.
func (r *Runner) seedScreenplay(ctx context.Context, seed screenplay.Seed) (screenplay.SceneRef, cast, error) {
	var ref screenplay.SceneRef

	sp := screenplay.Screenplay{Title: seed.Title, Background: seed.Background, Tags: seed.Tags}
	if err := doJSON(ctx, r.Client, http.MethodPost, r.BaseURL+"/v1/screenplays", sp, http.StatusCreated, &sp); err != nil {
		return ref, nil, fmt.Errorf("create screenplay: %w", err)
	}
	ref.ScreenplayID = sp.ID

	roles := make(cast, len(seed.Roles))
	rolesURL := fmt.Sprintf("%s/v1/screenplays/%s/roles", r.BaseURL, sp.ID)
	for _, sr := range seed.Roles {
		role := sr.Role(sp.ID)
		if err := doJSON(ctx, r.Client, http.MethodPost, rolesURL, role, http.StatusCreated, &role); err != nil {
			return ref, nil, fmt.Errorf("create role %s: %w", sr.Name, err)
		}
		roles[role.Name] = role.ID
	}

	first := &seed.Chapters[0]
	body := map[string]any{
		"title":                first.Title,
		"description":          first.Description,
		"narrative_goal":       first.NarrativeGoal,
		"key_clues":            first.KeyClues,
		"required_revelations": first.RequiredRevelations,
		"termination_strategy": first.TerminationStrategy,
		"scene_name":           first.Scenes[0].Name,
	}
	var created struct {
		Chapter screenplay.Chapter `json:"chapter"`
		Scene   screenplay.Scene   `json:"scene"`
	}
	chaptersURL := fmt.Sprintf("%s/v1/screenplays/%s/chapters", r.BaseURL, sp.ID)
	if err := doJSON(ctx, r.Client, http.MethodPost, chaptersURL, body, http.StatusCreated, &created); err != nil {
		return ref, nil, fmt.Errorf("create chapter %s: %w", first.Title, err)
	}
	ref.SceneID = created.Scene.ID
	return ref, roles, nil
}

// runStep executes a single test step and checks its expectations
func (r *Runner) runStep(ctx context.Context, ref screenplay.SceneRef, roles cast, step TestStep) TestResult {
	start := time.Now()
	result := TestResult{StepName: step.Name}

	baseline, err := GetDialogues(ctx, r.Client, r.BaseURL, ref)
	if err != nil {
		result.Error = fmt.Errorf("failed to read dialogues before step: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	err = r.executeStep(ctx, ref, roles, step, len(baseline))

	var apiErr *APIError
	switch {
	case step.Expectations.Status != nil:
		if !errors.As(err, &apiErr) || apiErr.Status != *step.Expectations.Status {
			result.Error = fmt.Errorf("expected API status %d, got %v", *step.Expectations.Status, err)
			result.Duration = time.Since(start)
			return result
		}
	case err != nil:
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	if err := r.checkExpectations(ctx, ref, roles, step.Expectations); err != nil {
		result.Error = fmt.Errorf("expectation failed: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) executeStep(ctx context.Context, ref screenplay.SceneRef, roles cast, step TestStep, baseline int) error {
	switch step.Action {
	case ActionAdmit:
		id, err := roles.id(step.Role)
		if err != nil {
			return err
		}
		body := map[string]string{"role_id": id}
		return doJSON(ctx, r.Client, http.MethodPost, scenePath(r.BaseURL, ref)+"/appearances", body, http.StatusCreated, nil)

	case ActionTurn, ActionAutoPlay:
		sess, err := GetSession(ctx, r.Client, r.BaseURL, ref)
		if err != nil {
			return fmt.Errorf("failed to read session: %w", err)
		}
		want, turns, timeout := 1, 0, r.Timeout
		if step.Action == ActionAutoPlay {
			want = max(step.Turns, 1)
			turns = want
			timeout += time.Duration(want) * AutoPlayTurnBudget
		}
		if _, err := PostTurnAsync(ctx, r.Client, r.BaseURL, ref, turns); err != nil {
			return err
		}
		if _, err := PollForTurns(ctx, r.Client, r.BaseURL, ref, baseline, want, sess.UpdatedAt, timeout); err != nil {
			return fmt.Errorf("failed to poll for turns: %w", err)
		}
		return nil

	case ActionInstruction:
		params, err := resolveRoleNames(step.Params, roles)
		if err != nil {
			return err
		}
		body := map[string]any{"kind": step.Instruction, "params": params}
		return doJSON(ctx, r.Client, http.MethodPost, scenePath(r.BaseURL, ref)+"/instructions", body, http.StatusCreated, nil)

	case ActionResetSession:
		return doJSON(ctx, r.Client, http.MethodDelete, scenePath(r.BaseURL, ref)+"/session", nil, http.StatusNoContent, nil)
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

// resolveRoleNames rewrites every *_id string in params that names a cast
// member into that member's id. Values that are not role names pass through.
func resolveRoleNames(params json.RawMessage, roles cast) (json.RawMessage, error) {
	if len(params) == 0 {
		return json.RawMessage("{}"), nil
	}
	var fields map[string]any
	if err := json.Unmarshal(params, &fields); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	for k, v := range fields {
		name, ok := v.(string)
		if !ok || !strings.HasSuffix(k, "_id") {
			continue
		}
		if id, known := roles[name]; known {
			fields[k] = id
		}
	}
	return json.Marshal(fields)
}

// checkExpectations validates the step's expectations against the scene as it is now
func (r *Runner) checkExpectations(ctx context.Context, ref screenplay.SceneRef, roles cast, exp Expectations) error {
	needDialogues := exp.MinDialogues != nil || len(exp.LastTypes) > 0 || len(exp.DialogueContains) > 0
	if needDialogues {
		dialogues, err := GetDialogues(ctx, r.Client, r.BaseURL, ref)
		if err != nil {
			return err
		}
		if err := checkDialogues(exp, dialogues); err != nil {
			return err
		}
	}

	if exp.Paused != nil {
		sess, err := GetSession(ctx, r.Client, r.BaseURL, ref)
		if err != nil {
			return err
		}
		if sess.Paused != *exp.Paused {
			return fmt.Errorf("expected paused to be %t, got %t (%s)", *exp.Paused, sess.Paused, sess.PauseReason)
		}
	}

	if len(exp.OnStage) > 0 {
		appearances, err := GetOnStage(ctx, r.Client, r.BaseURL, ref)
		if err != nil {
			return err
		}
		actual := make(map[string]bool, len(appearances))
		for _, a := range appearances {
			actual[a.RoleID] = true
		}
		for _, name := range exp.OnStage {
			id, err := roles.id(name)
			if err != nil {
				return err
			}
			if !actual[id] {
				return fmt.Errorf("expected %s to be on stage", name)
			}
		}
		if len(actual) != len(exp.OnStage) {
			return fmt.Errorf("expected %d roles on stage, got %d", len(exp.OnStage), len(actual))
		}
	}
	return nil
}

func checkDialogues(exp Expectations, dialogues []screenplay.Dialogue) error {
	if exp.MinDialogues != nil && len(dialogues) < *exp.MinDialogues {
		return fmt.Errorf("expected at least %d dialogues, got %d", *exp.MinDialogues, len(dialogues))
	}

	if n := len(exp.LastTypes); n > 0 {
		if len(dialogues) < n {
			return fmt.Errorf("expected last %d dialogue types %v, only %d dialogues exist", n, exp.LastTypes, len(dialogues))
		}
		tail := dialogues[len(dialogues)-n:]
		for i, want := range exp.LastTypes {
			if string(tail[i].Type) != want {
				return fmt.Errorf("expected dialogue %d from the end to be %s, got %s", n-i, want, tail[i].Type)
			}
		}
	}

	if len(exp.DialogueContains) > 0 {
		var sb strings.Builder
		for _, d := range dialogues {
			sb.WriteString(strings.ToLower(d.Action))
			sb.WriteByte('\n')
			sb.WriteString(strings.ToLower(d.Text))
			sb.WriteByte('\n')
		}
		transcript := sb.String()
		for _, want := range exp.DialogueContains {
			if !strings.Contains(transcript, strings.ToLower(want)) {
				return fmt.Errorf("expected transcript to contain '%s', but it didn't", want)
			}
		}
	}
	return nil
}

func (r *Runner) log(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger(format, args...)
	}
}
