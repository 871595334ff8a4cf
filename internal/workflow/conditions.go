package workflow

import "fmt"

// evaluate reports whether c holds against ctx's variables and the most
// recently completed step result.
func evaluate(c Condition, ctx *WorkflowContext) bool {
	switch c.Type {
	case ConditionAlways:
		return true
	case ConditionNever:
		return false
	case ConditionVariableSet:
		_, ok := ctx.Variables[c.Variable]
		return ok
	case ConditionVariableEquals:
		v, ok := ctx.Variables[c.Variable]
		if !ok {
			return false
		}
		return fmt.Sprint(v) == fmt.Sprint(c.Value)
	case ConditionPreviousSuccess:
		last, ok := ctx.lastResult()
		return ok && last.Status == StepSuccess
	case ConditionPreviousFailure:
		last, ok := ctx.lastResult()
		return ok && last.Status == StepFailure
	default:
		return false
	}
}

// resolveBranch evaluates rules in order and returns the next step ID
// for the first rule whose condition holds. ok is false if none match.
func resolveBranch(rules []BranchRule, ctx *WorkflowContext) (string, bool) {
	for _, rule := range rules {
		if evaluate(rule.Condition, ctx) {
			return rule.NextStepID, true
		}
	}
	return "", false
}
