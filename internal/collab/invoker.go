package collab

import "context"

// AgentInvoker generates one participant's turn given the assembled
// prompt for that turn. Implementations live outside this package and
// typically call into the provider manager (component C1).
type AgentInvoker interface {
	GenerateTurn(ctx context.Context, participant Participant, prompt string) (string, error)
}

// SpecialistService resolves a role to the agent handle that should
// speak for it. StartSession calls it once per participant that has no
// handle assigned yet. An empty handle with a nil error means no
// specialist exists for that role and the orchestrator synthesizes a
// default one.
type SpecialistService interface {
	GetSpecialist(ctx context.Context, role string) (AgentHandle, error)
}

// EchoAgentInvoker returns a fixed or templated reply for every turn,
// without calling out to a real model. Useful for testing orchestration
// logic and for driving the CLI without a configured provider.
type EchoAgentInvoker struct {
	// Reply, if non-empty, is returned verbatim for every turn. If
	// empty, the invoker echoes the participant's name and role.
	Reply string
}

// GenerateTurn implements AgentInvoker.
func (e EchoAgentInvoker) GenerateTurn(_ context.Context, participant Participant, _ string) (string, error) {
	if e.Reply != "" {
		return e.Reply, nil
	}
	return participant.Name + " (" + participant.Role + ") acknowledges.", nil
}

// StaticSpecialist resolves every role to the same agent handle.
type StaticSpecialist struct {
	Handle AgentHandle
}

// GetSpecialist implements SpecialistService.
func (s StaticSpecialist) GetSpecialist(_ context.Context, _ string) (AgentHandle, error) {
	return s.Handle, nil
}

// RoleSpecialist resolves roles to agent handles from a fixed table. For
// roles it doesn't recognize it returns an empty handle, so the
// orchestrator synthesizes its default per-role handle.
type RoleSpecialist map[string]AgentHandle

// GetSpecialist implements SpecialistService.
func (s RoleSpecialist) GetSpecialist(_ context.Context, role string) (AgentHandle, error) {
	if handle, ok := s[role]; ok {
		return handle, nil
	}
	return "", nil
}
