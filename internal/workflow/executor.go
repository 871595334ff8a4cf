package workflow

import "context"

// ActionExecutor performs the side-effecting work of a step (everything
// except ask-user, branch, set-variable and log, which the engine
// handles directly since they only touch run state). Implementations
// live outside this package: applying code changes, running tests,
// searching a codebase, shelling out to a command, and so on.
type ActionExecutor interface {
	Execute(ctx context.Context, action Action, params map[string]any, wctx *WorkflowContext) (any, error)
}

// NoopActionExecutor performs every action as a trivial success,
// echoing its parameters back as output. Useful for testing workflow
// control flow in isolation from real side effects, and for driving the
// CLI without a configured backend.
type NoopActionExecutor struct{}

// Execute implements ActionExecutor.
func (NoopActionExecutor) Execute(_ context.Context, _ Action, params map[string]any, _ *WorkflowContext) (any, error) {
	return params, nil
}
