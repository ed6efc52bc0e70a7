package runner

import (
	"encoding/json"
	"time"

	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// Step actions
const (
	ActionAdmit        = "admit"         // put Role on stage
	ActionTurn         = "turn"          // queue one turn and wait for it
	ActionAutoPlay     = "auto_play"     // queue Turns turns and wait for them
	ActionInstruction  = "instruction"   // issue Instruction with Params
	ActionResetSession = "reset_session" // drop the scene's counters and pause
)

// TestSuite seeds a screenplay through the API and plays its first scene.
type TestSuite struct {
	Name  string          `json:"name"`
	Seed  screenplay.Seed `json:"seed"`
	Steps []TestStep      `json:"steps"`
}

// TestStep is one action against the scene and its expected outcome.
// Role names in Role and Params are resolved to ids before the call.
type TestStep struct {
	Name         string          `json:"name,omitempty"`
	Action       string          `json:"action"`
	Role         string          `json:"role,omitempty"`
	Turns        int             `json:"turns,omitempty"`
	Instruction  string          `json:"instruction,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	Expectations Expectations    `json:"expect"`
}

// Expectations defines what to check after a step executes
type Expectations struct {
	// Error expects the API to reject the step with this HTTP status.
	Status *int `json:"status,omitempty"`

	MinDialogues     *int     `json:"min_dialogues,omitempty"`
	OnStage          []string `json:"on_stage,omitempty"` // role names, order independent
	Paused           *bool    `json:"paused,omitempty"`
	LastTypes        []string `json:"last_types,omitempty"` // dialogue types of the newest rows, oldest first
	DialogueContains []string `json:"dialogue_contains,omitempty"`
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	TestName string
	StepName string
	Success  bool
	Error    error
	Duration time.Duration
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job      TestJob
	Results  []TestResult
	Error    error
	Duration time.Duration
	Ref      screenplay.SceneRef
}
