package workflow

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func linearWorkflow() *Workflow {
	return &Workflow{
		ID:          "linear",
		Name:        "linear",
		StartStepID: "step1",
		Steps: []Step{
			{ID: "step1", Action: ActionLog, Parameters: map[string]any{"message": "start"}, OnSuccess: "step2"},
			{ID: "step2", Action: ActionSetVariable, Parameters: map[string]any{"name": "done", "value": true}, OnSuccess: "step3"},
			{ID: "step3", Action: ActionLog, Parameters: map[string]any{"message": "end"}},
		},
	}
}

func TestStartRun_DoesNotExecuteAnySteps(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	if err := e.RegisterWorkflow(linearWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	run, err := e.StartRun(context.Background(), "linear", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.Status != StatusRunning {
		t.Fatalf("expected status running immediately after start, got %s", run.Status)
	}
	if run.CurrentStepID != "step1" {
		t.Fatalf("expected current step to be the workflow's start step, got %s", run.CurrentStepID)
	}
	if len(run.Context.History) != 0 {
		t.Fatalf("expected no steps executed yet, got %d", len(run.Context.History))
	}
}

func TestExecuteUntilComplete_LinearWorkflow(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	if err := e.RegisterWorkflow(linearWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	run, err := e.StartRun(context.Background(), "linear", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, err = e.ExecuteUntilComplete(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ExecuteUntilComplete: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if len(run.Context.History) != 3 {
		t.Fatalf("expected 3 step results, got %d", len(run.Context.History))
	}
	if run.Context.Variables["done"] != true {
		t.Fatalf("expected done=true in context, got %v", run.Context.Variables["done"])
	}
}

func TestRegisterWorkflow_RejectsInvalidDefinitions(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)

	tests := []struct {
		name string
		w    *Workflow
	}{
		{"no id", &Workflow{StartStepID: "a", Steps: []Step{{ID: "a"}}}},
		{"no steps", &Workflow{ID: "x", StartStepID: "a"}},
		{"bad start step", &Workflow{ID: "x", StartStepID: "missing", Steps: []Step{{ID: "a"}}}},
		{"bad on_success", &Workflow{ID: "x", StartStepID: "a", Steps: []Step{{ID: "a", OnSuccess: "missing"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.RegisterWorkflow(tt.w); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestRegisterWorkflow_RejectsDuplicateID(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	w := linearWorkflow()
	if err := e.RegisterWorkflow(w); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	if err := e.RegisterWorkflow(w); err == nil {
		t.Fatal("expected error registering duplicate id")
	}
}

func conditionalWorkflow() *Workflow {
	// step2 only runs if skip_step2 is false; step1 sets it true, so
	// step2 must be skipped.
	skip := Condition{Type: ConditionVariableEquals, Variable: "skip_step2", Value: false}
	return &Workflow{
		ID:          "conditional",
		Name:        "conditional",
		StartStepID: "step1",
		Steps: []Step{
			{ID: "step1", Action: ActionSetVariable, Parameters: map[string]any{"name": "skip_step2", "value": true}, OnSuccess: "step2"},
			{ID: "step2", Action: ActionLog, Condition: &skip, Parameters: map[string]any{"message": "should be skipped"}, OnSuccess: "step3"},
			{ID: "step3", Action: ActionLog, Parameters: map[string]any{"message": "end"}},
		},
	}
}

func TestExecuteUntilComplete_ConditionSkipsStep(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	if err := e.RegisterWorkflow(conditionalWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	run, err := e.StartRun(context.Background(), "conditional", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, err = e.ExecuteUntilComplete(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ExecuteUntilComplete: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.Context.History[1].Status != StepSkipped {
		t.Fatalf("expected step2 skipped, got %s", run.Context.History[1].Status)
	}
}

func checkpointWorkflow() *Workflow {
	return &Workflow{
		ID:          "checkpoint",
		Name:        "checkpoint",
		StartStepID: "ask",
		Steps: []Step{
			{ID: "ask", Action: ActionAskUser, Parameters: map[string]any{"prompt": "continue?"}, OnSuccess: "after"},
			{ID: "after", Action: ActionLog, Parameters: map[string]any{"message": "resumed"}},
		},
	}
}

func TestAskUser_PausesForInputThenResumes(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	if err := e.RegisterWorkflow(checkpointWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	run, err := e.StartRun(context.Background(), "checkpoint", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, err = e.ExecuteUntilComplete(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ExecuteUntilComplete: %v", err)
	}
	if run.Status != StatusWaitingUser {
		t.Fatalf("expected waiting-user, got %s", run.Status)
	}
	if run.PendingPrompt != "continue?" {
		t.Fatalf("expected pending prompt, got %q", run.PendingPrompt)
	}

	resumed, err := e.ContinueAfterUserInput(context.Background(), run.ID, true, "answer", "yes")
	if err != nil {
		t.Fatalf("ContinueAfterUserInput: %v", err)
	}
	if resumed.Status != StatusCompleted {
		t.Fatalf("expected completed after resume, got %s", resumed.Status)
	}
	if resumed.Context.Variables["answer"] != "yes" {
		t.Fatalf("expected answer recorded, got %v", resumed.Context.Variables["answer"])
	}
}

func TestContinueAfterUserInput_DeclineWithoutFailureBranchCancels(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	if err := e.RegisterWorkflow(checkpointWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	run, err := e.StartRun(context.Background(), "checkpoint", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, err = e.ExecuteUntilComplete(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ExecuteUntilComplete: %v", err)
	}

	declined, err := e.ContinueAfterUserInput(context.Background(), run.ID, false, "", nil)
	if err != nil {
		t.Fatalf("ContinueAfterUserInput: %v", err)
	}
	if declined.Status != StatusCancelled {
		t.Fatalf("expected cancelled after declining with no failure branch, got %s", declined.Status)
	}
}

func TestContinueAfterUserInput_DeclineTakesFailureBranch(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	w := &Workflow{
		ID:          "checkpoint-with-failure",
		Name:        "checkpoint-with-failure",
		StartStepID: "ask",
		Steps: []Step{
			{ID: "ask", Action: ActionAskUser, OnSuccess: "accepted", OnFailure: "declined"},
			{ID: "accepted", Action: ActionLog},
			{ID: "declined", Action: ActionLog},
		},
	}
	if err := e.RegisterWorkflow(w); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	run, err := e.StartRun(context.Background(), "checkpoint-with-failure", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, err = e.ExecuteUntilComplete(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ExecuteUntilComplete: %v", err)
	}

	declined, err := e.ContinueAfterUserInput(context.Background(), run.ID, false, "", nil)
	if err != nil {
		t.Fatalf("ContinueAfterUserInput: %v", err)
	}
	if declined.Status != StatusCompleted {
		t.Fatalf("expected run to finish via the declared failure branch, got %s", declined.Status)
	}
	last := declined.Context.History[len(declined.Context.History)-1]
	if last.StepID != "declined" {
		t.Fatalf("expected the failure branch step to have run, got %s", last.StepID)
	}
}

func TestContinueAfterUserInput_RejectsWhenNotWaiting(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	if err := e.RegisterWorkflow(linearWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	run, err := e.StartRun(context.Background(), "linear", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if _, err := e.ContinueAfterUserInput(context.Background(), run.ID, true, "", nil); err == nil {
		t.Fatal("expected error continuing a non-waiting run")
	}
}

func TestCancelRun_FromWaitingUser(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	if err := e.RegisterWorkflow(checkpointWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	run, err := e.StartRun(context.Background(), "checkpoint", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, err = e.ExecuteUntilComplete(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ExecuteUntilComplete: %v", err)
	}

	cancelled, err := e.CancelRun(run.ID)
	if err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	if _, err := e.CancelRun(run.ID); err == nil {
		t.Fatal("expected error cancelling an already-terminal run")
	}
}

func TestPauseAndResumeRun(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	w := &Workflow{
		ID:          "pausable",
		Name:        "pausable",
		StartStepID: "ask",
		Steps: []Step{
			{ID: "ask", Action: ActionAskUser, OnSuccess: "done"},
			{ID: "done", Action: ActionLog},
		},
	}
	if err := e.RegisterWorkflow(w); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	run, err := e.StartRun(context.Background(), "pausable", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, err = e.ExecuteUntilComplete(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ExecuteUntilComplete: %v", err)
	}

	// Pause is only legal on non-terminal runs; waiting-user counts.
	paused, err := e.PauseRun(run.ID)
	if err != nil {
		t.Fatalf("PauseRun: %v", err)
	}
	if paused.Status != StatusPaused {
		t.Fatalf("expected paused, got %s", paused.Status)
	}

	if _, err := e.ResumeRun(context.Background(), run.ID); err != nil {
		t.Fatalf("ResumeRun: %v", err)
	}
}

func TestMaxSteps_StopsRunAsTimeout(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	w := &Workflow{
		ID:          "looping",
		Name:        "looping",
		StartStepID: "a",
		MaxSteps:    2,
		Steps: []Step{
			{ID: "a", Action: ActionLog, OnSuccess: "b"},
			{ID: "b", Action: ActionLog, OnSuccess: "a"},
		},
	}
	if err := e.RegisterWorkflow(w); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	run, err := e.StartRun(context.Background(), "looping", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, err = e.ExecuteUntilComplete(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ExecuteUntilComplete: %v", err)
	}
	if run.Status != StatusTimeout {
		t.Fatalf("expected timeout after exceeding max steps, got %s", run.Status)
	}
	if len(run.Context.History) != 2 {
		t.Fatalf("expected exactly 2 steps executed before the cap stopped the run, got %d", len(run.Context.History))
	}
}

func TestExecuteNextStep_EmitsStepStartedBeforeStepCompleted(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	if err := e.RegisterWorkflow(linearWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	run, err := e.StartRun(context.Background(), "linear", nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	var kinds []EventKind
	e.AddListener(func(ev Event) { kinds = append(kinds, ev.Kind) })

	if _, err := e.ExecuteNextStep(context.Background(), run.ID); err != nil {
		t.Fatalf("ExecuteNextStep: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != EventStepStarted || kinds[1] != EventStepCompleted {
		t.Fatalf("expected [step-started, step-completed], got %v", kinds)
	}
}

func TestProcessTrigger_StartsMatchingWorkflows(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	w := linearWorkflow()
	w.Triggers = []Trigger{{Type: TriggerFileSave, Pattern: `\.go$`}}
	if err := e.RegisterWorkflow(w); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	started, err := e.ProcessTrigger(context.Background(), TriggerEvent{Type: TriggerFileSave, Payload: "main.go"})
	if err != nil {
		t.Fatalf("ProcessTrigger: %v", err)
	}
	if len(started) != 1 {
		t.Fatalf("expected 1 run started, got %d", len(started))
	}

	none, err := e.ProcessTrigger(context.Background(), TriggerEvent{Type: TriggerFileSave, Payload: "main.py"})
	if err != nil {
		t.Fatalf("ProcessTrigger: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no runs for non-matching pattern, got %d", len(none))
	}
}

func TestProcessTrigger_EmptyCommandPatternMatchesAnyPayload(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	w := linearWorkflow()
	w.Triggers = []Trigger{{Type: TriggerCommand}}
	if err := e.RegisterWorkflow(w); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	started, err := e.ProcessTrigger(context.Background(), TriggerEvent{Type: TriggerCommand, Payload: "/anything"})
	if err != nil {
		t.Fatalf("ProcessTrigger: %v", err)
	}
	if len(started) != 1 {
		t.Fatalf("expected 1 run started for an absent command pattern, got %d", len(started))
	}
}

func TestCheckSchedules_StartsRunWhenDue(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	w := linearWorkflow()
	w.ID = "scheduled"
	w.Triggers = []Trigger{{Type: TriggerSchedule, Pattern: "* * * * *"}}
	if err := e.RegisterWorkflow(w); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	since := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)
	started, err := e.CheckSchedules(context.Background(), since, now)
	if err != nil {
		t.Fatalf("CheckSchedules: %v", err)
	}
	if len(started) != 1 {
		t.Fatalf("expected 1 run started, got %d", len(started))
	}
}

func TestExportAndLoadDefinitions_RoundTrip(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	if err := e.RegisterWorkflow(linearWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	var buf bytes.Buffer
	if err := e.ExportDefinitions(&buf); err != nil {
		t.Fatalf("ExportDefinitions: %v", err)
	}

	e2 := NewExecutor(NoopActionExecutor{}, nil)
	if err := e2.LoadDefinitions(&buf); err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	if _, err := e2.GetWorkflow("linear"); err != nil {
		t.Fatalf("expected loaded workflow to be registered: %v", err)
	}
}

func TestAddListener_ReceivesRunStartedEvent(t *testing.T) {
	e := NewExecutor(NoopActionExecutor{}, nil)
	if err := e.RegisterWorkflow(linearWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	var kinds []EventKind
	e.AddListener(func(ev Event) { kinds = append(kinds, ev.Kind) })

	if _, err := e.StartRun(context.Background(), "linear", nil); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	if len(kinds) == 0 || kinds[0] != EventRunStarted {
		t.Fatalf("expected first event to be run-started, got %v", kinds)
	}
}
