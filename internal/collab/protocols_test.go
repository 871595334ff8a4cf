package collab

import (
	"strings"
	"testing"
	"time"
)

func TestBuildTurnPrompt_Composition(t *testing.T) {
	session := &Session{
		Name:     "design review",
		Goal:     "agree on the API shape",
		Protocol: ProtocolRoundRobin,
		Participants: []Participant{
			{ID: "p1", Name: "Alice", Role: "architect"},
			{ID: "p2", Name: "Bob", Role: "reviewer"},
		},
		Messages: []Message{
			{ParticipantID: "p1", Content: "I propose a REST API.", CreatedAt: time.Now()},
			{ParticipantID: "p2", Content: "What about gRPC instead?", CreatedAt: time.Now()},
		},
		SharedContext: SharedContext{Facts: []string{"the client is a CLI"}},
	}

	prompt := buildTurnPrompt(session, session.Participants[1], "Please be concise.")

	for _, want := range []string{
		"Session: design review",
		"Goal: agree on the API shape",
		"You are Bob, role: reviewer. Protocol: round-robin.",
		"Alice: I propose a REST API.",
		"Bob: What about gRPC instead?",
		"Known facts:",
		"the client is a CLI",
		"Please be concise.",
		"Respond with your turn now.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing expected fragment %q\nprompt:\n%s", want, prompt)
		}
	}

	if strings.Index(prompt, "Session:") > strings.Index(prompt, "Goal:") {
		t.Error("expected Session line before Goal line")
	}
	if strings.Index(prompt, "Known facts:") > strings.Index(prompt, "Please be concise.") {
		t.Error("expected facts before the user prompt")
	}
}

func TestBuildTurnPrompt_TruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", 1000)
	session := &Session{
		Name:     "s",
		Goal:     "g",
		Protocol: ProtocolRoundRobin,
		Participants: []Participant{
			{ID: "p1", Name: "Alice"},
		},
		Messages: []Message{{ParticipantID: "p1", Content: long}},
	}
	prompt := buildTurnPrompt(session, session.Participants[0], "")
	if strings.Contains(prompt, long) {
		t.Fatal("expected long message to be truncated")
	}
	if !strings.Contains(prompt, strings.Repeat("x", 500)) {
		t.Fatal("expected 500-character excerpt to be present")
	}
}

func TestBuildTurnPrompt_OnlyLastFiveMessages(t *testing.T) {
	session := &Session{
		Name:     "s",
		Goal:     "g",
		Protocol: ProtocolRoundRobin,
		Participants: []Participant{
			{ID: "p1", Name: "Alice"},
		},
	}
	for i := 0; i < 8; i++ {
		session.Messages = append(session.Messages, Message{ParticipantID: "p1", Content: "msg" + string(rune('0'+i))})
	}
	prompt := buildTurnPrompt(session, session.Participants[0], "")
	if strings.Contains(prompt, "msg0") || strings.Contains(prompt, "msg2") {
		t.Fatal("expected earliest messages to be excluded from the excerpt window")
	}
	if !strings.Contains(prompt, "msg7") {
		t.Fatal("expected the most recent message to be present")
	}
}

func TestNextSpeaker_RoundRobinCyclesInOrder(t *testing.T) {
	session := &Session{
		Protocol: ProtocolRoundRobin,
		Participants: []Participant{
			{ID: "p1", Name: "Alice"},
			{ID: "p2", Name: "Bob"},
		},
	}
	first, ok := nextSpeaker(session)
	if !ok || first.ID != "p1" {
		t.Fatalf("expected p1 first, got %+v ok=%v", first, ok)
	}
	advanceTurn(session)
	second, ok := nextSpeaker(session)
	if !ok || second.ID != "p2" {
		t.Fatalf("expected p2 second, got %+v ok=%v", second, ok)
	}
	advanceTurn(session)
	if session.Round != 1 {
		t.Fatalf("expected round to advance to 1 after a full cycle, got %d", session.Round)
	}
}

func TestNextSpeaker_LeaderFollowerLeaderGoesFirst(t *testing.T) {
	session := &Session{
		Protocol: ProtocolLeaderFollower,
		Participants: []Participant{
			{ID: "p1", Name: "Alice"},
			{ID: "p2", Name: "Bob", IsLeader: true},
			{ID: "p3", Name: "Carol"},
		},
	}
	leader, ok := nextSpeaker(session)
	if !ok || !leader.IsLeader {
		t.Fatalf("expected leader first, got %+v ok=%v", leader, ok)
	}
	advanceTurn(session)
	f1, ok := nextSpeaker(session)
	if !ok || f1.IsLeader {
		t.Fatalf("expected a non-leader follower second, got %+v ok=%v", f1, ok)
	}
}

func TestNextSpeaker_ConsensusHasNoTurnOrder(t *testing.T) {
	session := &Session{Protocol: ProtocolConsensus, Participants: []Participant{{ID: "p1"}}}
	if _, ok := nextSpeaker(session); ok {
		t.Fatal("expected consensus protocol to have no turn-based speaker")
	}
}

func TestDebateShouldStop_RequiresAgreeAndFourMessages(t *testing.T) {
	session := &Session{Protocol: ProtocolDebate}
	session.Messages = []Message{{}, {}, {}}
	if debateShouldStop(session, Message{Content: "Yes, I agree with that."}) {
		t.Fatal("expected debate to continue before 4 messages, even on agreement")
	}
	session.Messages = append(session.Messages, Message{})
	if debateShouldStop(session, Message{Content: "I object strongly."}) {
		t.Fatal("expected session to continue on a message without agreement")
	}
	if !debateShouldStop(session, Message{Content: "Yes, I agree with that."}) {
		t.Fatal("expected session to end once a participant agrees after 4 messages")
	}
}

func TestDefaultMaxRounds_FallsBackWhenUnset(t *testing.T) {
	session := &Session{}
	if got := defaultMaxRounds(session); got != DefaultMaxRounds {
		t.Fatalf("expected default %d, got %d", DefaultMaxRounds, got)
	}
	session.MaxRounds = 5
	if got := defaultMaxRounds(session); got != 5 {
		t.Fatalf("expected configured 5, got %d", got)
	}
}

func TestFirstProposal_ReturnsEarliestProposalMessage(t *testing.T) {
	messages := []Message{
		{ID: "m1", Type: MessageContribution},
		{ID: "m2", Type: MessageProposal},
		{ID: "m3", Type: MessageProposal},
	}
	got, ok := firstProposal(messages)
	if !ok || got.ID != "m2" {
		t.Fatalf("expected earliest proposal m2, got %+v ok=%v", got, ok)
	}
}
