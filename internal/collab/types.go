// Package collab implements the multi-agent collaboration orchestrator
// (component C2): turn-taking sessions across several protocols, shared
// context, and lightweight consensus/voting.
package collab

import "time"

// Protocol is the closed set of turn-taking policies a session can run.
type Protocol string

const (
	ProtocolRoundRobin     Protocol = "round-robin"
	ProtocolDebate         Protocol = "debate"
	ProtocolConsensus      Protocol = "consensus"
	ProtocolBroadcast      Protocol = "broadcast"
	ProtocolLeaderFollower Protocol = "leader-follower"
	ProtocolVoting         Protocol = "voting"
	ProtocolFreeForm       Protocol = "free-form"
)

// MessageType classifies a message's role in the conversation.
type MessageType string

const (
	MessageContribution MessageType = "contribution"
	MessageProposal      MessageType = "proposal"
	MessageQuestion       MessageType = "question"
	MessageAnswer         MessageType = "answer"
	MessageCritique       MessageType = "critique"
	MessageVote           MessageType = "vote"
	MessageDecision       MessageType = "decision"
	MessageInfo           MessageType = "info"
)

// ParticipantStatus tracks a participant's place in the current turn
// cycle.
type ParticipantStatus string

const (
	ParticipantReady    ParticipantStatus = "ready"
	ParticipantSpeaking ParticipantStatus = "speaking"
	ParticipantWaiting  ParticipantStatus = "waiting"
	ParticipantBlocked  ParticipantStatus = "blocked"
	ParticipantDone     ParticipantStatus = "done"
)

// AgentHandle is an opaque reference to a role-specialized agent,
// assigned to a participant by the specialist service when a session
// starts.
type AgentHandle string

// Participant is one agent taking part in a session.
type Participant struct {
	ID           string            `yaml:"id" json:"id"`
	Name         string            `yaml:"name" json:"name"`
	Role         string            `yaml:"role,omitempty" json:"role,omitempty"`
	IsLeader     bool              `yaml:"is_leader,omitempty" json:"is_leader,omitempty"`
	Status       ParticipantStatus `yaml:"-" json:"status,omitempty"`
	AgentHandle  AgentHandle       `yaml:"-" json:"agent_handle,omitempty"`
	MessageCount int               `yaml:"-" json:"message_count"`
}

// Message is one turn's output, or a system/vote/decision entry, in a
// session's transcript.
type Message struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"session_id"`
	ParticipantID string      `json:"participant_id"`
	SenderRole    string      `json:"sender_role,omitempty"`
	Type          MessageType `json:"type"`
	Content       string      `json:"content"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Decision is one recorded outcome of a session's deliberation.
type Decision struct {
	Description string    `json:"description"`
	Rationale   string    `json:"rationale,omitempty"`
	ByRole      string    `json:"by_role,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SharedContext is the facts, artifacts, decisions and open questions
// accumulated during a session, visible to every participant's turn
// prompt.
type SharedContext struct {
	Facts         []string          `json:"facts,omitempty"`
	Artifacts     map[string]string `json:"artifacts,omitempty"`
	Decisions     []Decision        `json:"decisions,omitempty"`
	OpenQuestions []string          `json:"open_questions,omitempty"`
}

// Vote is one participant's ballot on the active proposal.
type Vote struct {
	ParticipantID string    `json:"participant_id"`
	Approve       bool      `json:"approve"`
	CastAt        time.Time `json:"cast_at"`
}

// ConsensusState tracks voting on the most recent proposal message in a
// consensus or voting protocol session.
type ConsensusState struct {
	ProposalMessageID string          `json:"proposal_message_id"`
	Votes             map[string]Vote `json:"votes"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ConsensusOutcome is the result of evaluating a ConsensusState against
// a participant count and threshold.
type ConsensusOutcome string

const (
	ConsensusPending  ConsensusOutcome = "pending"
	ConsensusAccepted ConsensusOutcome = "accepted"
	ConsensusRejected ConsensusOutcome = "rejected"
)

// SessionStatus is a session's place in its state machine. Terminal
// statuses are Completed, Failed and Cancelled.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether a session in this status can never
// transition again.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	default:
		return false
	}
}

// Session is one run of a collaboration protocol among participants.
type Session struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Goal          string          `json:"goal"`
	Protocol      Protocol        `json:"protocol"`
	Participants  []Participant   `json:"participants"`
	Messages      []Message       `json:"messages"`
	SharedContext SharedContext   `json:"shared_context"`
	Consensus     *ConsensusState `json:"consensus,omitempty"`
	Status        SessionStatus   `json:"status"`
	Round         int             `json:"round"`
	TurnIndex     int             `json:"turn_index"`
	MaxRounds     int             `json:"max_rounds"`
	// MaxTurns, if positive, caps the total number of contribution
	// turns ExecuteTurn will allow before failing with reason "Max
	// turns reached". Zero means no cap at this layer; protocol loops
	// (ExecuteSession, RunUntil) still bound themselves independently.
	MaxTurns  int        `json:"max_turns,omitempty"`
	Threshold float64    `json:"threshold"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *Session) touch(now time.Time) {
	s.UpdatedAt = now
}

func (s *Session) participant(id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func (s *Session) participantIndex(id string) int {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) leader() (Participant, bool) {
	for _, p := range s.Participants {
		if p.IsLeader {
			return p, true
		}
	}
	return Participant{}, false
}

// turnsExecuted counts how many contribution turns a session has run,
// its current-turn counter per §3.
func turnsExecuted(s *Session) int {
	n := 0
	for _, m := range s.Messages {
		if m.Type == MessageContribution {
			n++
		}
	}
	return n
}

// TurnResult is the outcome of one ExecuteTurn call: either a fresh
// message with the advanced session snapshot, or a failure reason
// naming exactly why the turn could not run.
type TurnResult struct {
	Success bool
	Reason  string
	Message *Message
	Session *Session
}

// CollaborationResult is produced by EndSession / ExecuteSession: the
// session's final tally.
type CollaborationResult struct {
	SessionID    string
	Goal         string
	Success      bool
	Outcome      string
	Decisions    []Decision
	Artifacts    map[string]string
	TotalTurns   int
	MessageCount int
	ByRole       map[string]int
	Duration     time.Duration
}

// DefaultThreshold is the approval fraction a consensus/voting proposal
// must clear to be accepted, absent an explicit Session.Threshold.
const DefaultThreshold = 0.66

// DefaultMaxRounds bounds round-robin/debate/leader-follower sessions
// that don't set an explicit MaxRounds, guaranteeing termination.
const DefaultMaxRounds = 10
