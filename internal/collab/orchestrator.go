package collab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devassist/conductor/internal/concurrency"
	"github.com/devassist/conductor/internal/observability"
)

// Orchestrator manages collaboration sessions across every protocol. It
// owns the session registry; callers never mutate a Session directly.
type Orchestrator struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	sessionLocks *concurrency.KeyedMutex

	invoker    AgentInvoker
	specialist SpecialistService
	listeners  *listenerSet
	metrics    *observability.Metrics

	log *slog.Logger
	now func() time.Time
}

// NewOrchestrator constructs an Orchestrator. invoker generates every
// participant turn; specialist may be nil, in which case every
// participant is bound to a default handle synthesized from its role.
// metrics may be nil to disable instrumentation.
func NewOrchestrator(invoker AgentInvoker, specialist SpecialistService, metrics *observability.Metrics) *Orchestrator {
	if invoker == nil {
		invoker = EchoAgentInvoker{}
	}
	return &Orchestrator{
		sessions:     make(map[string]*Session),
		sessionLocks: concurrency.NewKeyedMutex(),
		invoker:      invoker,
		specialist:   specialist,
		listeners:    newListenerSet(),
		metrics:      metrics,
		log:          slog.Default().With("component", "collab"),
		now:          time.Now,
	}
}

// CreateSession validates and registers a new session in status
// Pending. Participant IDs must be non-empty and unique, and
// leader-follower sessions must name exactly one leader.
func (o *Orchestrator) CreateSession(name, goal string, protocol Protocol, participants []Participant) (*Session, error) {
	if err := validateParticipants(protocol, participants); err != nil {
		return nil, err
	}

	now := o.now()
	session := &Session{
		ID:           uuid.NewString(),
		Name:         name,
		Goal:         goal,
		Protocol:     protocol,
		Participants: participants,
		Status:       SessionPending,
		Threshold:    DefaultThreshold,
		MaxRounds:    DefaultMaxRounds,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	o.mu.Lock()
	o.sessions[session.ID] = session
	o.mu.Unlock()

	return session, nil
}

// CreateDebate is a convenience constructor for a two-participant
// debate session between role1 and role2.
func (o *Orchestrator) CreateDebate(goal, role1, role2 string) (*Session, error) {
	participants := []Participant{
		{ID: uuid.NewString(), Name: role1, Role: role1},
		{ID: uuid.NewString(), Name: role2, Role: role2},
	}
	return o.CreateSession(fmt.Sprintf("debate: %s vs %s", role1, role2), goal, ProtocolDebate, participants)
}

// CreateReview is a convenience constructor for an author/reviewer
// round-robin session.
func (o *Orchestrator) CreateReview(goal string) (*Session, error) {
	participants := []Participant{
		{ID: uuid.NewString(), Name: "author", Role: "author"},
		{ID: uuid.NewString(), Name: "reviewer", Role: "reviewer"},
	}
	return o.CreateSession("review", goal, ProtocolRoundRobin, participants)
}

func validateParticipants(protocol Protocol, participants []Participant) error {
	if len(participants) == 0 {
		return fmt.Errorf("%w: no participants", ErrInvalidSession)
	}
	seen := make(map[string]bool, len(participants))
	leaders := 0
	for _, p := range participants {
		if p.ID == "" {
			return fmt.Errorf("%w: participant with empty id", ErrInvalidSession)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate participant id %q", ErrInvalidSession, p.ID)
		}
		seen[p.ID] = true
		if p.IsLeader {
			leaders++
		}
	}
	if protocol == ProtocolLeaderFollower && leaders != 1 {
		return fmt.Errorf("%w: leader-follower session requires exactly one leader, got %d", ErrInvalidSession, leaders)
	}
	return nil
}

func (o *Orchestrator) getSession(id string) (*Session, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// GetSession returns the current state of a session.
func (o *Orchestrator) GetSession(id string) (*Session, error) {
	return o.getSession(id)
}

// ListSessions returns every registered session.
func (o *Orchestrator) ListSessions() []*Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	return out
}

// StartSession transitions a pending session to Running and assigns
// every participant an agent handle via the specialist service (or a
// synthesized default), but does not execute any turns. Callers drive
// the session afterward with ExecuteTurn, RunRound, RunUntil, or
// ExecuteSession.
func (o *Orchestrator) StartSession(ctx context.Context, sessionID string) (*Session, error) {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	return o.startSessionLocked(ctx, sessionID)
}

func (o *Orchestrator) startSessionLocked(ctx context.Context, sessionID string) (*Session, error) {
	session, err := o.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionPending {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotActive, sessionID, session.Status)
	}
	if err := o.assignAgentHandles(ctx, session); err != nil {
		return nil, err
	}
	session.Status = SessionRunning
	session.touch(o.now())

	if o.metrics != nil {
		o.metrics.CollabActiveSessions.Inc()
	}
	o.emit(Event{Kind: EventSessionStarted, SessionID: session.ID, Session: *session})
	o.log.Info("collaboration session started", "session_id", session.ID, "protocol", session.Protocol)
	return session, nil
}

// assignAgentHandles binds every participant without a handle yet to
// one resolved through the specialist service, or a default handle
// keyed by role if none is configured or the service has no opinion.
func (o *Orchestrator) assignAgentHandles(ctx context.Context, session *Session) error {
	for i := range session.Participants {
		p := &session.Participants[i]
		if p.AgentHandle == "" {
			handle, err := o.resolveSpecialist(ctx, p.Role)
			if err != nil {
				return err
			}
			p.AgentHandle = handle
		}
		p.Status = ParticipantReady
	}
	return nil
}

func (o *Orchestrator) resolveSpecialist(ctx context.Context, role string) (AgentHandle, error) {
	if o.specialist != nil {
		handle, err := o.specialist.GetSpecialist(ctx, role)
		if err != nil {
			return "", err
		}
		if handle != "" {
			return handle, nil
		}
	}
	return AgentHandle("agent:" + role), nil
}

func isTurnBased(p Protocol) bool {
	switch p {
	case ProtocolConsensus, ProtocolVoting:
		return false
	default:
		return true
	}
}

// ExecuteTurn runs exactly one participant's turn for a turn-based
// session and appends the resulting message. userPrompt, if non-empty,
// is folded into the assembled turn prompt. Preconditions that aren't
// met (unknown session, inactive session, turn cap reached, no
// eligible speaker, speaker has no agent) are reported as a failed
// TurnResult rather than an error.
func (o *Orchestrator) ExecuteTurn(ctx context.Context, sessionID, userPrompt string) (TurnResult, error) {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)

	session, err := o.getSession(sessionID)
	if err != nil {
		return TurnResult{Success: false, Reason: "Session not found"}, nil
	}
	return o.executeTurnLocked(ctx, session, userPrompt)
}

func (o *Orchestrator) executeTurnLocked(ctx context.Context, session *Session, userPrompt string) (TurnResult, error) {
	if session.Status != SessionRunning {
		return TurnResult{Success: false, Reason: "Session is not active", Session: session}, nil
	}
	if session.MaxTurns > 0 && turnsExecuted(session) >= session.MaxTurns {
		return TurnResult{Success: false, Reason: "Max turns reached", Session: session}, nil
	}
	speaker, ok := nextSpeaker(session)
	if !ok {
		return TurnResult{Success: false, Reason: "No current participant", Session: session}, nil
	}
	if speaker.AgentHandle == "" {
		return TurnResult{Success: false, Reason: "Participant has no agent assigned", Session: session}, nil
	}

	msg := o.appendContributionLocked(ctx, session, speaker, userPrompt)
	advanceTurn(session)
	if o.metrics != nil {
		o.metrics.CollabTurnsAdvanced.WithLabelValues(string(session.Protocol)).Inc()
	}
	o.emit(Event{Kind: EventTurnAdvanced, SessionID: session.ID, Session: *session, Message: &msg})

	return TurnResult{Success: true, Message: &msg, Session: session}, nil
}

// appendContributionLocked generates and appends one participant's
// contribution message, without touching turn order. Shared by
// executeTurnLocked and the protocols (broadcast, leader summaries)
// that speak participants out of the normal rotation.
func (o *Orchestrator) appendContributionLocked(ctx context.Context, session *Session, participant Participant, userPrompt string) Message {
	if idx := session.participantIndex(participant.ID); idx >= 0 {
		session.Participants[idx].Status = ParticipantSpeaking
	}

	prompt := buildTurnPrompt(session, participant, userPrompt)
	content, err := o.invoker.GenerateTurn(ctx, participant, prompt)
	msg := Message{
		ID:            uuid.NewString(),
		SessionID:     session.ID,
		ParticipantID: participant.ID,
		SenderRole:    participant.Role,
		Type:          MessageContribution,
		CreatedAt:     o.now(),
	}
	if err != nil {
		msg.Type = MessageInfo
		msg.Content = fmt.Sprintf("turn generation failed for %s: %v", participant.Name, err)
	} else {
		msg.Content = content
	}

	session.Messages = append(session.Messages, msg)
	if idx := session.participantIndex(participant.ID); idx >= 0 {
		session.Participants[idx].MessageCount++
		session.Participants[idx].Status = ParticipantWaiting
	}
	session.touch(o.now())

	if o.metrics != nil {
		o.metrics.CollabMessagesSent.WithLabelValues(string(session.Protocol)).Inc()
	}
	o.emit(Event{Kind: EventMessageSent, SessionID: session.ID, Session: *session, Message: &msg})
	return msg
}

// RunRound executes exactly one turn per participant, unconditionally
// (it does not stop early on a failed turn).
func (o *Orchestrator) RunRound(ctx context.Context, sessionID string) (*Session, error) {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if err := o.runRoundLocked(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (o *Orchestrator) runRoundLocked(ctx context.Context, session *Session) error {
	if !isTurnBased(session.Protocol) {
		// Consensus and voting have no turn rotation: every participant
		// contributes once, in declaration order, without advancing turns.
		if session.Status != SessionRunning {
			return nil
		}
		for _, p := range session.Participants {
			if err := ctx.Err(); err != nil {
				return err
			}
			o.appendContributionLocked(ctx, session, p, "")
		}
		return nil
	}
	n := len(session.Participants)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, _ = o.executeTurnLocked(ctx, session, "")
	}
	return nil
}

// RunUntil executes turns until maxTurns is reached, a turn fails its
// preconditions, stop returns true for the message just produced, or
// ctx is cancelled.
func (o *Orchestrator) RunUntil(ctx context.Context, sessionID string, maxTurns int, stop func(*Session, Message) bool) (*Session, error) {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if err := o.runUntilLocked(ctx, session, maxTurns, stop); err != nil {
		return nil, err
	}
	return session, nil
}

func (o *Orchestrator) runUntilLocked(ctx context.Context, session *Session, maxTurns int, stop func(*Session, Message) bool) error {
	for i := 0; i < maxTurns; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := o.executeTurnLocked(ctx, session, "")
		if err != nil {
			return err
		}
		if !result.Success {
			return nil
		}
		if stop != nil && result.Message != nil && stop(session, *result.Message) {
			return nil
		}
	}
	return nil
}

// RunUntilDone repeatedly executes turns for a turn-based session until
// it ends or ctx is cancelled. Retained for callers that want simple
// "drive to completion" semantics against a session's own MaxRounds.
func (o *Orchestrator) RunUntilDone(ctx context.Context, sessionID string) (*Session, error) {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	n := len(session.Participants)
	if n == 0 {
		n = 1
	}
	stop := debateShouldStop
	if session.Protocol != ProtocolDebate {
		stop = nil
	}
	if err := o.runUntilLocked(ctx, session, defaultMaxRounds(session)*n, stop); err != nil {
		return nil, err
	}
	return session, nil
}

// ExecuteSession starts the session, runs its protocol-specific loop
// for up to maxRounds rounds (or the session's own MaxRounds if
// maxRounds <= 0), ends the session, and returns its final result.
func (o *Orchestrator) ExecuteSession(ctx context.Context, sessionID string, maxRounds int) (*CollaborationResult, error) {
	if _, err := o.StartSession(ctx, sessionID); err != nil {
		return nil, err
	}

	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds(session)
	}

	n := len(session.Participants)
	if n == 0 {
		n = 1
	}

	switch session.Protocol {
	case ProtocolRoundRobin, ProtocolFreeForm:
		_ = o.runUntilLocked(ctx, session, maxRounds*n, nil)
	case ProtocolDebate:
		_ = o.runUntilLocked(ctx, session, 2*maxRounds, debateShouldStop)
	case ProtocolBroadcast:
		o.executeBroadcastLocked(ctx, session)
	case ProtocolLeaderFollower:
		o.executeLeaderFollowerLocked(ctx, session, maxRounds)
	case ProtocolConsensus:
		o.executeConsensusLocked(ctx, session, maxRounds)
	case ProtocolVoting:
		o.executeVotingLocked(ctx, session)
	}

	return o.endSessionLocked(session, nil), nil
}

// executeBroadcastLocked has every participant speak once, in
// declaration order, without any turn advancement between speakers:
// the whole pass counts as a single turn.
func (o *Orchestrator) executeBroadcastLocked(ctx context.Context, session *Session) {
	for _, p := range session.Participants {
		if ctx.Err() != nil {
			return
		}
		o.appendContributionLocked(ctx, session, p, "")
	}
	session.Round++
	o.emit(Event{Kind: EventTurnAdvanced, SessionID: session.ID, Session: *session})
}

// executeLeaderFollowerLocked runs maxRounds rounds; each round the
// leader speaks, every follower speaks once, and the leader closes the
// round with a summary.
func (o *Orchestrator) executeLeaderFollowerLocked(ctx context.Context, session *Session, maxRounds int) {
	leader, ok := session.leader()
	if !ok {
		return
	}
	for round := 0; round < maxRounds; round++ {
		if ctx.Err() != nil {
			return
		}
		n := len(session.Participants)
		for i := 0; i < n; i++ {
			if _, err := o.executeTurnLocked(ctx, session, ""); err != nil {
				return
			}
		}
		o.appendContributionLocked(ctx, session, leader, "Summarize this round for the team.")
	}
}

// executeConsensusLocked runs one round to collect candidate messages,
// seizes the last message as the proposal and initializes consensus
// state from it, then runs further rounds checking the consensus state
// after each until it's accepted, rejected, or maxRounds is exhausted.
func (o *Orchestrator) executeConsensusLocked(ctx context.Context, session *Session, maxRounds int) {
	if err := o.runRoundLocked(ctx, session); err != nil {
		return
	}
	proposal, ok := lastProposal(session.Messages)
	if !ok {
		if len(session.Messages) == 0 {
			return
		}
		last := len(session.Messages) - 1
		session.Messages[last].Type = MessageProposal
		proposal = session.Messages[last]
	}
	session.Consensus = &ConsensusState{
		ProposalMessageID: proposal.ID,
		Votes:             make(map[string]Vote),
		CreatedAt:         o.now(),
	}

	for round := 1; round < maxRounds; round++ {
		if ctx.Err() != nil {
			return
		}
		if err := o.runRoundLocked(ctx, session); err != nil {
			return
		}
		outcome := evaluateConsensus(session.Consensus, len(session.Participants), session.Threshold)
		switch outcome {
		case ConsensusAccepted:
			o.emit(Event{Kind: EventConsensusReached, SessionID: session.ID, Session: *session})
			o.finishSession(session, SessionCompleted)
			return
		case ConsensusRejected:
			o.finishSession(session, SessionFailed)
			return
		}
	}
}

// executeVotingLocked runs one round to collect proposal messages,
// takes the first proposal, and has every non-proposer cast a default
// approve vote referencing it.
func (o *Orchestrator) executeVotingLocked(ctx context.Context, session *Session) {
	if err := o.runRoundLocked(ctx, session); err != nil {
		return
	}
	proposal, ok := firstProposal(session.Messages)
	if !ok {
		if len(session.Messages) == 0 {
			return
		}
		session.Messages[0].Type = MessageProposal
		proposal = session.Messages[0]
	}
	session.Consensus = &ConsensusState{
		ProposalMessageID: proposal.ID,
		Votes:             make(map[string]Vote),
		CreatedAt:         o.now(),
	}
	// The proposer is taken to approve their own proposal implicitly;
	// only non-proposers need to cast an explicit vote message.
	_ = recordVote(session, proposal.ParticipantID, true, Vote{ParticipantID: proposal.ParticipantID, Approve: true, CastAt: o.now()})

	for _, p := range session.Participants {
		if p.ID == proposal.ParticipantID {
			continue
		}
		now := o.now()
		vote := Message{
			ID:            uuid.NewString(),
			SessionID:     session.ID,
			ParticipantID: p.ID,
			SenderRole:    p.Role,
			Type:          MessageVote,
			Content:       fmt.Sprintf("approve:%s", proposal.ID),
			CreatedAt:     now,
		}
		session.Messages = append(session.Messages, vote)
		if idx := session.participantIndex(p.ID); idx >= 0 {
			session.Participants[idx].MessageCount++
		}
		o.emit(Event{Kind: EventMessageSent, SessionID: session.ID, Session: *session, Message: &vote})
		_ = recordVote(session, p.ID, true, Vote{ParticipantID: p.ID, Approve: true, CastAt: now})
	}

	outcome := evaluateConsensus(session.Consensus, len(session.Participants), session.Threshold)
	if outcome == ConsensusAccepted {
		o.emit(Event{Kind: EventConsensusReached, SessionID: session.ID, Session: *session})
		o.finishSession(session, SessionCompleted)
	} else if outcome == ConsensusRejected {
		o.finishSession(session, SessionFailed)
	}
}

// SendMessage appends an out-of-band message (e.g. a proposal that
// kicks off a consensus/voting session, or a user interjection) without
// advancing the turn order.
func (o *Orchestrator) SendMessage(sessionID, participantID string, msgType MessageType, content string) (*Message, error) {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)

	session, err := o.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrSessionTerminal, sessionID)
	}
	sender, ok := session.participant(participantID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}

	msg := Message{
		ID:            uuid.NewString(),
		SessionID:     session.ID,
		ParticipantID: participantID,
		SenderRole:    sender.Role,
		Type:          msgType,
		Content:       content,
		CreatedAt:     o.now(),
	}
	session.Messages = append(session.Messages, msg)
	if idx := session.participantIndex(participantID); idx >= 0 {
		session.Participants[idx].MessageCount++
	}
	session.touch(o.now())

	if o.metrics != nil {
		o.metrics.CollabMessagesSent.WithLabelValues(string(session.Protocol)).Inc()
	}
	o.emit(Event{Kind: EventMessageSent, SessionID: session.ID, Session: *session, Message: &msg})
	return &msg, nil
}

// RecordVote casts participantID's ballot on the session's active
// proposal (the most recent MessageProposal) and, once enough votes are
// in, resolves the session to Completed or Failed.
func (o *Orchestrator) RecordVote(sessionID, participantID string, approve bool) (*Session, ConsensusOutcome, error) {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)

	session, err := o.getSession(sessionID)
	if err != nil {
		return nil, ConsensusPending, err
	}
	if session.Status != SessionRunning {
		return nil, ConsensusPending, fmt.Errorf("%w: session %s is %s", ErrSessionNotActive, sessionID, session.Status)
	}
	if _, ok := session.participant(participantID); !ok {
		return nil, ConsensusPending, fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}

	now := o.now()
	if err := recordVote(session, participantID, approve, Vote{ParticipantID: participantID, Approve: approve, CastAt: now}); err != nil {
		return nil, ConsensusPending, err
	}
	session.touch(now)

	outcome := evaluateConsensus(session.Consensus, len(session.Participants), session.Threshold)
	if outcome != ConsensusPending {
		final := SessionCompleted
		if outcome == ConsensusRejected {
			final = SessionFailed
		}
		decision := Message{
			ID:            uuid.NewString(),
			SessionID:     session.ID,
			ParticipantID: "",
			Type:          MessageDecision,
			Content:       string(outcome),
			CreatedAt:     now,
		}
		session.Messages = append(session.Messages, decision)
		o.emit(Event{Kind: EventConsensusReached, SessionID: session.ID, Session: *session, Message: &decision})
		o.finishSession(session, final)
	}

	return session, outcome, nil
}

// RecordDecision appends a decision to the session's shared context and
// emits EventDecisionMade. Decisions don't terminate a session; pair
// with EndSession to do both.
func (o *Orchestrator) RecordDecision(sessionID, description, rationale, byRole string) error {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return err
	}
	now := o.now()
	session.SharedContext.Decisions = append(session.SharedContext.Decisions, Decision{
		Description: description,
		Rationale:   rationale,
		ByRole:      byRole,
		CreatedAt:   now,
	})
	session.touch(now)
	o.emit(Event{Kind: EventDecisionMade, SessionID: session.ID, Session: *session})
	return nil
}

// AddFact appends a fact to the session's shared context, visible to
// every subsequent turn prompt.
func (o *Orchestrator) AddFact(sessionID, fact string) error {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return err
	}
	session.SharedContext.Facts = append(session.SharedContext.Facts, fact)
	session.touch(o.now())
	return nil
}

// AddOpenQuestion appends an unresolved question to the session's
// shared context.
func (o *Orchestrator) AddOpenQuestion(sessionID, question string) error {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return err
	}
	session.SharedContext.OpenQuestions = append(session.SharedContext.OpenQuestions, question)
	session.touch(o.now())
	return nil
}

// AddArtifact records or overwrites a named artifact in the session's
// shared context.
func (o *Orchestrator) AddArtifact(sessionID, name, content string) error {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return err
	}
	if session.SharedContext.Artifacts == nil {
		session.SharedContext.Artifacts = make(map[string]string)
	}
	session.SharedContext.Artifacts[name] = content
	session.touch(o.now())
	return nil
}

// PauseSession suspends a running session without discarding state.
func (o *Orchestrator) PauseSession(sessionID string) (*Session, error) {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrSessionTerminal, sessionID)
	}
	session.Status = SessionPaused
	session.touch(o.now())
	o.emit(Event{Kind: EventSessionPaused, SessionID: session.ID, Session: *session})
	return session, nil
}

// ResumeSession continues a paused session. Callers drive it further
// with ExecuteTurn, RunRound, RunUntil, or ExecuteSession as before.
func (o *Orchestrator) ResumeSession(sessionID string) (*Session, error) {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionPaused {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotPaused, sessionID)
	}
	session.Status = SessionRunning
	session.touch(o.now())
	o.emit(Event{Kind: EventSessionResumed, SessionID: session.ID, Session: *session})
	return session, nil
}

// CancelSession terminates a session regardless of its current
// non-terminal status.
func (o *Orchestrator) CancelSession(sessionID string) (*Session, error) {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrSessionTerminal, sessionID)
	}
	o.finishSession(session, SessionCancelled)
	return session, nil
}

// EndSession finalizes a session. If success is nil, a non-terminal
// session is marked Completed; if non-nil, it forces Completed or
// Failed. A session that's already terminal keeps its status. Either
// way, EndSession returns the session's CollaborationResult.
func (o *Orchestrator) EndSession(sessionID string, success *bool) (*CollaborationResult, error) {
	o.sessionLocks.Lock(sessionID)
	defer o.sessionLocks.Unlock(sessionID)
	session, err := o.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	return o.endSessionLocked(session, success), nil
}

func (o *Orchestrator) endSessionLocked(session *Session, success *bool) *CollaborationResult {
	if !session.Status.IsTerminal() {
		final := SessionCompleted
		if success != nil && !*success {
			final = SessionFailed
		}
		o.finishSession(session, final)
	}
	for i := range session.Participants {
		session.Participants[i].Status = ParticipantDone
	}
	return buildResult(session)
}

func buildResult(session *Session) *CollaborationResult {
	byRole := make(map[string]int)
	for _, m := range session.Messages {
		if m.SenderRole != "" {
			byRole[m.SenderRole]++
		}
	}

	outcome := "Session completed"
	switch {
	case session.Protocol == ProtocolConsensus && session.Status == SessionCompleted:
		outcome = "Consensus reached"
	case len(session.SharedContext.Decisions) > 0:
		last := session.SharedContext.Decisions[len(session.SharedContext.Decisions)-1]
		outcome = "Decided: " + last.Description
	case len(session.Messages) > 0:
		outcome = truncate(session.Messages[len(session.Messages)-1].Content, 200)
	}

	var duration time.Duration
	if session.CompletedAt != nil {
		duration = session.CompletedAt.Sub(session.CreatedAt)
	}

	return &CollaborationResult{
		SessionID:    session.ID,
		Goal:         session.Goal,
		Success:      session.Status == SessionCompleted,
		Outcome:      outcome,
		Decisions:    session.SharedContext.Decisions,
		Artifacts:    session.SharedContext.Artifacts,
		TotalTurns:   turnsExecuted(session),
		MessageCount: len(session.Messages),
		ByRole:       byRole,
		Duration:     duration,
	}
}

func (o *Orchestrator) finishSession(session *Session, status SessionStatus) {
	now := o.now()
	session.Status = status
	session.CompletedAt = &now
	session.touch(now)

	if o.metrics != nil {
		o.metrics.CollabSessionsCompleted.WithLabelValues(string(session.Protocol), string(status)).Inc()
		o.metrics.CollabActiveSessions.Dec()
	}

	kind := EventSessionCompleted
	if status == SessionFailed {
		kind = EventSessionFailed
	} else if status == SessionCancelled {
		kind = EventSessionCancelled
	}
	o.emit(Event{Kind: kind, SessionID: session.ID, Session: *session})
}

// Stats summarizes registered sessions by status, for dashboards and
// the CLI's status command.
type Stats struct {
	Total      int
	ByStatus   map[SessionStatus]int
	ByProtocol map[Protocol]int
}

// GetStats computes a Stats snapshot across every registered session.
func (o *Orchestrator) GetStats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stats := Stats{
		ByStatus:   make(map[SessionStatus]int),
		ByProtocol: make(map[Protocol]int),
	}
	for _, s := range o.sessions {
		stats.Total++
		stats.ByStatus[s.Status]++
		stats.ByProtocol[s.Protocol]++
	}
	return stats
}

// ClearSessions removes every terminal session from the registry,
// returning how many were removed. Non-terminal sessions are untouched.
func (o *Orchestrator) ClearSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	removed := 0
	for id, s := range o.sessions {
		if s.Status.IsTerminal() {
			delete(o.sessions, id)
			o.sessionLocks.Delete(id)
			removed++
		}
	}
	return removed
}

// AddListener registers l to receive every Event the orchestrator
// emits and returns a handle for RemoveListener.
func (o *Orchestrator) AddListener(l Listener) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.listeners.add(l)
}

// RemoveListener unregisters a listener added with AddListener.
func (o *Orchestrator) RemoveListener(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners.remove(id)
}

func (o *Orchestrator) emit(event Event) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	o.listeners.emit(event)
}
