package collab

import "errors"

// Sentinel errors for the orchestrator's error taxonomy: Validation
// (malformed session templates), NotFound (unknown session IDs),
// StateViolation (operation not legal in the session's current status),
// Downstream (an agent invoker returned an error, captured in the
// transcript as a system message rather than propagated).
var (
	ErrInvalidSession     = errors.New("collab: invalid session definition")
	ErrUnknownSession     = errors.New("collab: unknown session id")
	ErrSessionTerminal    = errors.New("collab: session has already reached a terminal status")
	ErrSessionNotPaused   = errors.New("collab: session is not paused")
	ErrSessionNotActive   = errors.New("collab: session is not in status running")
	ErrUnknownParticipant = errors.New("collab: unknown participant id")
	ErrNoActiveProposal   = errors.New("collab: no active proposal to vote on")
)
