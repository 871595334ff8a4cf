package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/devassist/conductor/internal/concurrency"
	"github.com/devassist/conductor/internal/observability"
)

// Executor registers workflow definitions and drives runs through them.
// It owns the workflow registry and every in-flight run; callers never
// mutate a WorkflowRun directly, only through the methods below.
type Executor struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	runs      map[string]*WorkflowRun
	runLocks  *concurrency.KeyedMutex

	executor  ActionExecutor
	listeners *listenerSet
	metrics   *observability.Metrics
	schedules *scheduleCache

	log *slog.Logger
	now func() time.Time
}

// NewExecutor constructs an Executor. executor performs every
// side-effecting action; metrics may be nil to disable instrumentation.
func NewExecutor(executor ActionExecutor, metrics *observability.Metrics) *Executor {
	if executor == nil {
		executor = NoopActionExecutor{}
	}
	return &Executor{
		workflows: make(map[string]*Workflow),
		runs:      make(map[string]*WorkflowRun),
		runLocks:  concurrency.NewKeyedMutex(),
		executor:  executor,
		listeners: newListenerSet(),
		metrics:   metrics,
		schedules: newScheduleCache(),
		log:       slog.Default().With("component", "workflow"),
		now:       time.Now,
	}
}

// RegisterWorkflow validates and adds a workflow definition to the
// registry. It is an error to register a workflow ID that already
// exists; unregister it first to replace it.
func (e *Executor) RegisterWorkflow(w *Workflow) error {
	if err := validateWorkflow(w); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[w.ID]; exists {
		return fmt.Errorf("%w: %s", ErrWorkflowExists, w.ID)
	}
	e.workflows[w.ID] = w
	return nil
}

// UnregisterWorkflow removes a workflow definition. In-flight runs of it
// are unaffected.
func (e *Executor) UnregisterWorkflow(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workflows[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	delete(e.workflows, id)
	return nil
}

// GetWorkflow returns the registered workflow with the given ID.
func (e *Executor) GetWorkflow(id string) (*Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	return w, nil
}

// GetAllWorkflows returns every registered workflow definition.
func (e *Executor) GetAllWorkflows() []*Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Workflow, 0, len(e.workflows))
	for _, w := range e.workflows {
		out = append(out, w)
	}
	return out
}

// GetWorkflowsForTrigger returns every registered workflow that has at
// least one trigger of the given type.
func (e *Executor) GetWorkflowsForTrigger(t TriggerType) []*Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Workflow
	for _, w := range e.workflows {
		for _, trig := range w.Triggers {
			if trig.Type == t {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

func validateWorkflow(w *Workflow) error {
	if w == nil {
		return fmt.Errorf("%w: nil workflow", ErrInvalidWorkflow)
	}
	if w.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidWorkflow)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidWorkflow, w.ID)
	}
	idx := w.index()
	if _, ok := idx[w.StartStepID]; !ok {
		return fmt.Errorf("%w: %s start_step_id %q not found among steps", ErrInvalidWorkflow, w.ID, w.StartStepID)
	}
	for _, s := range w.Steps {
		if s.OnSuccess != "" {
			if _, ok := idx[s.OnSuccess]; !ok {
				return fmt.Errorf("%w: %s step %q on_success %q not found", ErrInvalidWorkflow, w.ID, s.ID, s.OnSuccess)
			}
		}
		if s.OnFailure != "" {
			if _, ok := idx[s.OnFailure]; !ok {
				return fmt.Errorf("%w: %s step %q on_failure %q not found", ErrInvalidWorkflow, w.ID, s.ID, s.OnFailure)
			}
		}
		for _, rule := range s.BranchTo {
			if _, ok := idx[rule.NextStepID]; !ok {
				return fmt.Errorf("%w: %s step %q branch target %q not found", ErrInvalidWorkflow, w.ID, s.ID, rule.NextStepID)
			}
		}
	}
	return nil
}

// StartRun creates a new run of workflowID with the given seed
// variables, positions it at the workflow's start step, and returns
// immediately with status Running. It does not execute any steps —
// callers drive the run forward with ExecuteNextStep or
// ExecuteUntilComplete once they've observed the freshly created run.
func (e *Executor) StartRun(ctx context.Context, workflowID string, variables map[string]any) (*WorkflowRun, error) {
	w, err := e.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	run := &WorkflowRun{
		ID:            uuid.NewString(),
		WorkflowID:    workflowID,
		Status:        StatusRunning,
		CurrentStepID: w.StartStepID,
		Context:       *newContext(variables),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	e.mu.Lock()
	e.runs[run.ID] = run
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.WorkflowRunsStarted.WithLabelValues(w.Name).Inc()
		e.metrics.WorkflowActiveRuns.Inc()
	}
	e.emit(Event{Kind: EventRunStarted, RunID: run.ID, Run: *run})
	e.log.Info("workflow run started", "run_id", run.ID, "workflow_id", workflowID)

	return run, nil
}

func (e *Executor) getRun(id string) (*WorkflowRun, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return r, nil
}

// GetRun returns the current state of a run.
func (e *Executor) GetRun(id string) (*WorkflowRun, error) {
	return e.getRun(id)
}

// ExecuteNextStep runs exactly one step of run and returns its result.
// The run must be in status Running.
func (e *Executor) ExecuteNextStep(ctx context.Context, runID string) (*StepResult, error) {
	e.runLocks.Lock(runID)
	defer e.runLocks.Unlock(runID)
	return e.executeNextStepLocked(ctx, runID)
}

func (e *Executor) executeNextStepLocked(ctx context.Context, runID string) (*StepResult, error) {
	run, err := e.getRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusRunning {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunNotActive, runID, run.Status)
	}

	w, err := e.GetWorkflow(run.WorkflowID)
	if err != nil {
		return nil, err
	}

	if w.MaxSteps > 0 && len(run.Context.History) >= w.MaxSteps {
		run.Status = StatusTimeout
		run.touch(e.now())
		e.finishRun(run, w)
		return nil, fmt.Errorf("%w: run %s reached %d steps", ErrMaxStepsExceeded, runID, w.MaxSteps)
	}

	step, ok := w.step(run.CurrentStepID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, run.CurrentStepID)
	}
	e.emit(Event{Kind: EventStepStarted, RunID: run.ID, Run: *run})

	if step.Condition != nil && !evaluate(*step.Condition, &run.Context) {
		result := StepResult{
			StepID:      step.ID,
			Action:      step.Action,
			Status:      StepSkipped,
			StartedAt:   e.now(),
			CompletedAt: e.now(),
		}
		e.recordResult(run, step, result)
		e.advance(run, step, true)
		return &result, nil
	}

	result := e.runStep(ctx, run, step)
	e.recordResult(run, step, result)

	if result.Status == StepSuccess || result.Status == StepSkipped {
		if step.Action == ActionAskUser {
			run.Status = StatusWaitingUser
			run.PendingPrompt = fmt.Sprint(step.Parameters["prompt"])
			run.touch(e.now())
			e.emit(Event{Kind: EventWaitingUser, RunID: run.ID, Run: *run, Result: &result})
			return &result, nil
		}
		e.advance(run, step, true)
	} else {
		e.advance(run, step, false)
	}

	if e.metrics != nil {
		e.metrics.WorkflowStepsExecuted.WithLabelValues(w.Name, string(step.Action)).Inc()
	}
	e.emit(Event{Kind: EventStepCompleted, RunID: run.ID, Run: *run, Result: &result})

	if run.Status.IsTerminal() {
		e.finishRun(run, w)
	}

	return &result, nil
}

func (e *Executor) runStep(ctx context.Context, run *WorkflowRun, step *Step) StepResult {
	started := e.now()

	switch step.Action {
	case ActionSetVariable:
		name, _ := step.Parameters["name"].(string)
		run.Context.Variables[name] = step.Parameters["value"]
		return StepResult{StepID: step.ID, Action: step.Action, Status: StepSuccess, Output: step.Parameters["value"], StartedAt: started, CompletedAt: e.now()}

	case ActionLog:
		e.log.Info("workflow log step", "run_id", run.ID, "step_id", step.ID, "message", step.Parameters["message"])
		return StepResult{StepID: step.ID, Action: step.Action, Status: StepSuccess, StartedAt: started, CompletedAt: e.now()}

	case ActionBranch:
		target, matched := resolveBranch(step.BranchTo, &run.Context)
		if !matched {
			return StepResult{StepID: step.ID, Action: step.Action, Status: StepFailure, Error: "no branch rule matched", StartedAt: started, CompletedAt: e.now()}
		}
		run.CurrentStepID = target
		return StepResult{StepID: step.ID, Action: step.Action, Status: StepSuccess, Output: target, StartedAt: started, CompletedAt: e.now()}

	case ActionAskUser:
		return StepResult{StepID: step.ID, Action: step.Action, Status: StepSuccess, StartedAt: started, CompletedAt: e.now()}

	default:
		output, err := e.executor.Execute(ctx, step.Action, step.Parameters, &run.Context)
		completed := e.now()
		if err != nil {
			return StepResult{StepID: step.ID, Action: step.Action, Status: StepFailure, Error: err.Error(), StartedAt: started, CompletedAt: completed}
		}
		return StepResult{StepID: step.ID, Action: step.Action, Status: StepSuccess, Output: output, StartedAt: started, CompletedAt: completed}
	}
}

func (e *Executor) recordResult(run *WorkflowRun, _ *Step, result StepResult) {
	run.Context.History = append(run.Context.History, result)
	run.touch(e.now())
}

// advance moves run.CurrentStepID to the appropriate next step (or ends
// the run if there is none) after step finished with the given success
// flag. A "branch" action step already set CurrentStepID itself in
// runStep, so advance leaves it alone for that action.
func (e *Executor) advance(run *WorkflowRun, step *Step, success bool) {
	if step.Action == ActionBranch && success {
		return
	}

	next := step.OnFailure
	if success {
		next = step.OnSuccess
	}

	if next == "" {
		if success {
			run.Status = StatusCompleted
		} else {
			run.Status = StatusFailed
		}
		run.touch(e.now())
		return
	}
	run.CurrentStepID = next
}

func (e *Executor) finishRun(run *WorkflowRun, w *Workflow) {
	now := e.now()
	run.CompletedAt = &now
	run.touch(now)

	if e.metrics != nil {
		e.metrics.WorkflowRunsCompleted.WithLabelValues(w.Name, string(run.Status)).Inc()
		e.metrics.WorkflowActiveRuns.Dec()
		e.metrics.WorkflowRunDuration.WithLabelValues(w.Name).Observe(run.CompletedAt.Sub(run.CreatedAt).Seconds())
	}

	kind := EventRunCompleted
	switch run.Status {
	case StatusFailed:
		kind = EventRunFailed
	case StatusCancelled:
		kind = EventRunCancelled
	case StatusTimeout:
		kind = EventRunTimeout
	}
	e.emit(Event{Kind: kind, RunID: run.ID, Run: *run})
}

// ExecuteUntilComplete repeatedly executes steps until the run reaches
// a terminal status or WaitingUser, or ctx is cancelled.
func (e *Executor) ExecuteUntilComplete(ctx context.Context, runID string) (*WorkflowRun, error) {
	e.runLocks.Lock(runID)
	defer e.runLocks.Unlock(runID)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run, err := e.getRun(runID)
		if err != nil {
			return nil, err
		}
		if run.Status != StatusRunning {
			return run, nil
		}
		if _, err := e.executeNextStepLocked(ctx, runID); err != nil {
			if errors.Is(err, ErrMaxStepsExceeded) {
				return e.getRun(runID)
			}
			return nil, err
		}
	}
}

func (e *Executor) driveRun(ctx context.Context, runID string) (*WorkflowRun, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run, err := e.getRun(runID)
		if err != nil {
			return nil, err
		}
		if run.Status != StatusRunning {
			return run, nil
		}
		if _, err := e.ExecuteNextStep(ctx, runID); err != nil {
			if errors.Is(err, ErrMaxStepsExceeded) {
				return e.getRun(runID)
			}
			return nil, err
		}
	}
}

// ContinueAfterUserInput answers a pending ask-user step and resumes
// execution. The run must be in status WaitingUser. If proceed is
// false, the user declined: the pending step is treated as failed, so
// a configured OnFailure branch is taken same as any other step
// failure; if the step has no OnFailure, the run ends as Cancelled
// rather than Failed, since declining isn't an execution error.
func (e *Executor) ContinueAfterUserInput(ctx context.Context, runID string, proceed bool, variable string, value any) (*WorkflowRun, error) {
	e.runLocks.Lock(runID)
	run, err := e.getRun(runID)
	if err != nil {
		e.runLocks.Unlock(runID)
		return nil, err
	}
	if run.Status != StatusWaitingUser {
		e.runLocks.Unlock(runID)
		return nil, fmt.Errorf("%w: run %s", ErrNotWaitingUser, runID)
	}

	w, err := e.GetWorkflow(run.WorkflowID)
	if err != nil {
		e.runLocks.Unlock(runID)
		return nil, err
	}
	step, ok := w.step(run.CurrentStepID)
	run.PendingPrompt = ""

	if !proceed {
		if ok && step.OnFailure != "" {
			run.Status = StatusRunning
			e.advance(run, step, false)
		} else {
			run.Status = StatusCancelled
		}
		run.touch(e.now())
		if run.Status.IsTerminal() {
			e.finishRun(run, w)
		}
		resumeStatus := run.Status
		e.runLocks.Unlock(runID)
		if resumeStatus == StatusRunning {
			return e.driveRun(ctx, runID)
		}
		return run, nil
	}

	if variable != "" {
		run.Context.Variables[variable] = value
	}
	run.Status = StatusRunning
	if ok {
		e.advance(run, step, true)
	}
	run.touch(e.now())
	e.runLocks.Unlock(runID)

	return e.driveRun(ctx, runID)
}

// PauseRun suspends a running run without discarding its state. A
// paused run does not execute steps until ResumeRun is called.
func (e *Executor) PauseRun(runID string) (*WorkflowRun, error) {
	e.runLocks.Lock(runID)
	defer e.runLocks.Unlock(runID)
	run, err := e.getRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}
	run.Status = StatusPaused
	run.touch(e.now())
	e.emit(Event{Kind: EventRunPaused, RunID: run.ID, Run: *run})
	return run, nil
}

// ResumeRun continues a paused run until it next pauses or terminates.
func (e *Executor) ResumeRun(ctx context.Context, runID string) (*WorkflowRun, error) {
	e.runLocks.Lock(runID)
	run, err := e.getRun(runID)
	if err != nil {
		e.runLocks.Unlock(runID)
		return nil, err
	}
	if run.Status != StatusPaused {
		e.runLocks.Unlock(runID)
		return nil, fmt.Errorf("%w: %s", ErrRunNotPaused, runID)
	}
	run.Status = StatusRunning
	run.touch(e.now())
	e.emit(Event{Kind: EventRunResumed, RunID: run.ID, Run: *run})
	e.runLocks.Unlock(runID)

	return e.driveRun(ctx, runID)
}

// CancelRun terminates a run regardless of its current non-terminal
// status. Cancelling an already-terminal run is an error.
func (e *Executor) CancelRun(runID string) (*WorkflowRun, error) {
	e.runLocks.Lock(runID)
	defer e.runLocks.Unlock(runID)
	run, err := e.getRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}
	run.Status = StatusCancelled
	run.touch(e.now())

	w, werr := e.GetWorkflow(run.WorkflowID)
	if werr == nil {
		e.finishRun(run, w)
	}
	return run, nil
}

// PurgeRun discards a terminal run's state and releases its keyed
// mutex. Intended for retention sweeps; returns an error if the run is
// still active.
func (e *Executor) PurgeRun(runID string) error {
	run, err := e.getRun(runID)
	if err != nil {
		return err
	}
	if !run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
	e.runLocks.Delete(runID)
	return nil
}

// ProcessTrigger finds every registered workflow whose trigger matches
// event and starts a run for each.
func (e *Executor) ProcessTrigger(ctx context.Context, event TriggerEvent) ([]*WorkflowRun, error) {
	candidates := e.GetWorkflowsForTrigger(event.Type)
	var started []*WorkflowRun
	for _, w := range candidates {
		for _, trig := range w.Triggers {
			ok, err := trig.matches(event)
			if err != nil {
				e.log.Warn("trigger pattern error", "workflow_id", w.ID, "error", err)
				continue
			}
			if ok {
				run, err := e.StartRun(ctx, w.ID, nil)
				if err != nil {
					return started, err
				}
				started = append(started, run)
				break
			}
		}
	}
	return started, nil
}

// CheckSchedules evaluates every registered workflow's schedule
// triggers and starts a run for each whose cron expression has an
// activation time in (since, now]. Callers typically invoke this once
// per scheduler tick with since set to the time of the previous tick.
func (e *Executor) CheckSchedules(ctx context.Context, since, now time.Time) ([]*WorkflowRun, error) {
	candidates := e.GetWorkflowsForTrigger(TriggerSchedule)
	var started []*WorkflowRun
	for _, w := range candidates {
		for _, trig := range w.Triggers {
			if trig.Type != TriggerSchedule {
				continue
			}
			sched, err := e.schedules.get(trig.Pattern, trig.Timezone)
			if err != nil {
				e.log.Warn("invalid schedule trigger", "workflow_id", w.ID, "error", err)
				continue
			}
			if sched.Due(since, now) {
				run, err := e.StartRun(ctx, w.ID, nil)
				if err != nil {
					return started, err
				}
				started = append(started, run)
			}
		}
	}
	return started, nil
}

// AddListener registers l to receive every Event the executor emits and
// returns a handle for RemoveListener.
func (e *Executor) AddListener(l Listener) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listeners.add(l)
}

// RemoveListener unregisters a listener added with AddListener.
func (e *Executor) RemoveListener(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners.remove(id)
}

func (e *Executor) emit(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.listeners.emit(event)
}

// workflowFile is the YAML document shape for ExportDefinitions and
// LoadDefinitions.
type workflowFile struct {
	Workflows []*Workflow `yaml:"workflows"`
}

// ExportDefinitions serializes every registered workflow definition to
// YAML.
func (e *Executor) ExportDefinitions(w io.Writer) error {
	e.mu.RLock()
	defs := make([]*Workflow, 0, len(e.workflows))
	for _, wf := range e.workflows {
		defs = append(defs, wf)
	}
	e.mu.RUnlock()

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(workflowFile{Workflows: defs})
}

// LoadDefinitions reads a YAML document produced by ExportDefinitions
// and registers every workflow it contains, skipping (and reporting)
// any whose ID is already registered.
func (e *Executor) LoadDefinitions(r io.Reader) error {
	var file workflowFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return fmt.Errorf("workflow: decoding definitions: %w", err)
	}
	for _, w := range file.Workflows {
		if err := e.RegisterWorkflow(w); err != nil {
			e.log.Warn("skipping workflow on load", "workflow_id", w.ID, "error", err)
		}
	}
	return nil
}
