package workflow

import "errors"

// Sentinel errors for the workflow engine's error taxonomy: Validation
// (malformed workflow/step definitions), NotFound (unknown workflow or
// run IDs), StateViolation (operation not legal in the run's current
// status), Downstream (an action executor returned an error, captured in
// the StepResult rather than propagated).
var (
	ErrInvalidWorkflow  = errors.New("workflow: invalid workflow definition")
	ErrUnknownWorkflow  = errors.New("workflow: unknown workflow id")
	ErrWorkflowExists   = errors.New("workflow: workflow id already registered")
	ErrUnknownStep      = errors.New("workflow: unknown step id")
	ErrUnknownRun       = errors.New("workflow: unknown run id")
	ErrNotWaitingUser   = errors.New("workflow: run is not waiting for user input")
	ErrRunTerminal      = errors.New("workflow: run has already reached a terminal status")
	ErrRunNotPaused     = errors.New("workflow: run is not paused")
	ErrRunNotActive     = errors.New("workflow: run is not in status running")
	ErrMaxStepsExceeded = errors.New("workflow: run exceeded its configured max steps")
)
