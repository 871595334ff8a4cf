// Package workflow implements the branching, pausable workflow engine
// (component C3): a directed graph of steps connected by success/failure
// branches, driven by triggers and able to pause for user input mid-run.
package workflow

import "time"

// Action is the closed set of operations a workflow step can perform.
// Every dispatch site switches exhaustively over these values.
type Action string

const (
	ActionAskUser       Action = "ask-user"
	ActionAnalyzeCode   Action = "analyze-code"
	ActionGenerateCode  Action = "generate-code"
	ActionApplyChanges  Action = "apply-changes"
	ActionRunTests      Action = "run-tests"
	ActionSearchCode    Action = "search-codebase"
	ActionCreateFile    Action = "create-file"
	ActionModifyFile    Action = "modify-file"
	ActionCommitChanges Action = "commit-changes"
	ActionRunCommand    Action = "run-command"
	ActionWait          Action = "wait"
	ActionBranch        Action = "branch"
	ActionSetVariable   Action = "set-variable"
	ActionLog           Action = "log"
	ActionNotify        Action = "notify"
)

// ConditionType is the closed set of predicates a Condition evaluates
// against a run's context and most recent step result.
type ConditionType string

const (
	ConditionVariableSet     ConditionType = "variable-set"
	ConditionVariableEquals  ConditionType = "variable-equals"
	ConditionPreviousSuccess ConditionType = "previous-success"
	ConditionPreviousFailure ConditionType = "previous-failure"
	ConditionAlways          ConditionType = "always"
	ConditionNever           ConditionType = "never"
)

// Condition gates a branch rule or a step's eligibility to run.
type Condition struct {
	Type     ConditionType `yaml:"type" json:"type"`
	Variable string        `yaml:"variable,omitempty" json:"variable,omitempty"`
	Value    any           `yaml:"value,omitempty" json:"value,omitempty"`
}

// TriggerType is the closed set of ways a workflow run can be started.
type TriggerType string

const (
	TriggerManual        TriggerType = "manual"
	TriggerFileSave      TriggerType = "file-save"
	TriggerErrorDetected TriggerType = "error-detected"
	TriggerCommand       TriggerType = "command"
	TriggerSchedule      TriggerType = "schedule"
	TriggerWebhook       TriggerType = "webhook"
	TriggerGitHook       TriggerType = "git-hook"
)

// Trigger binds a workflow to an activation condition. Pattern is
// matched as a regex for file-save/git-hook, substring for
// error-detected, exact string for command/webhook. Schedule triggers
// carry a cron expression in Pattern and an optional Timezone.
type Trigger struct {
	Type     TriggerType `yaml:"type" json:"type"`
	Pattern  string      `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Timezone string      `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// BranchRule is one arm of a "branch" step: when Condition holds, the
// run continues at NextStepID.
type BranchRule struct {
	Condition  Condition `yaml:"condition" json:"condition"`
	NextStepID string    `yaml:"next_step_id" json:"next_step_id"`
}

// Step is one node of a workflow's directed graph. OnSuccess/OnFailure
// name the next step ID to run depending on this step's outcome; either
// may be empty to end the run on that outcome. Condition, if set, is
// checked before the step runs: if it does not hold the step is skipped
// and treated as if it had succeeded, advancing via OnSuccess.
type Step struct {
	ID         string         `yaml:"id" json:"id"`
	Name       string         `yaml:"name" json:"name"`
	Action     Action         `yaml:"action" json:"action"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Condition  *Condition     `yaml:"condition,omitempty" json:"condition,omitempty"`
	BranchTo   []BranchRule   `yaml:"branch_to,omitempty" json:"branch_to,omitempty"`
	OnSuccess  string         `yaml:"on_success,omitempty" json:"on_success,omitempty"`
	OnFailure  string         `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
}

// Workflow is the declarative definition of a directed graph of steps.
// MaxSteps caps the total number of step executions a single run may
// accumulate across its lifetime (including any pauses and resumes);
// zero means unbounded. It guards against a misconfigured branch/retry
// cycle running forever.
type Workflow struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	StartStepID string           `yaml:"start_step_id" json:"start_step_id"`
	Steps       []Step           `yaml:"steps" json:"steps"`
	Triggers    []Trigger        `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Variables   map[string]any   `yaml:"variables,omitempty" json:"variables,omitempty"`
	MaxSteps    int              `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	stepIndex   map[string]*Step `yaml:"-" json:"-"`
}

// index builds (or returns the cached) step-ID lookup for the workflow.
func (w *Workflow) index() map[string]*Step {
	if w.stepIndex != nil {
		return w.stepIndex
	}
	idx := make(map[string]*Step, len(w.Steps))
	for i := range w.Steps {
		idx[w.Steps[i].ID] = &w.Steps[i]
	}
	w.stepIndex = idx
	return idx
}

func (w *Workflow) step(id string) (*Step, bool) {
	s, ok := w.index()[id]
	return s, ok
}

// StepStatus is the outcome of a single executed step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepSkipped StepStatus = "skipped"
)

// StepResult records the outcome of one step execution within a run.
type StepResult struct {
	StepID      string     `json:"step_id"`
	Action      Action     `json:"action"`
	Status      StepStatus `json:"status"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
}

// WorkflowContext is the run-scoped mutable state threaded through every
// step: variables set by set-variable steps or seeded at start, and the
// history of every step executed so far.
type WorkflowContext struct {
	Variables map[string]any `json:"variables"`
	History   []StepResult   `json:"history"`
}

func newContext(initial map[string]any) *WorkflowContext {
	vars := make(map[string]any, len(initial))
	for k, v := range initial {
		vars[k] = v
	}
	return &WorkflowContext{Variables: vars}
}

func (c *WorkflowContext) lastResult() (StepResult, bool) {
	if len(c.History) == 0 {
		return StepResult{}, false
	}
	return c.History[len(c.History)-1], true
}

// Status is a run's place in its state machine. Terminal statuses are
// Completed, Failed, Cancelled and Timeout; WaitingUser and Paused are side
// states a run can return to Running from.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusWaitingUser Status = "waiting-user"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusTimeout     Status = "timeout"
)

// IsTerminal reports whether a run in this status can never transition
// again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// WorkflowRun is one execution of a Workflow.
type WorkflowRun struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	Status        Status          `json:"status"`
	CurrentStepID string          `json:"current_step_id"`
	PendingPrompt string          `json:"pending_prompt,omitempty"`
	Context       WorkflowContext `json:"context"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func (r *WorkflowRun) touch(now time.Time) {
	r.UpdatedAt = now
}
