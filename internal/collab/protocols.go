package collab

import (
	"fmt"
	"strings"
)

// maxMessageExcerpt is the per-message truncation applied when
// assembling recent transcript context into a turn prompt.
const maxMessageExcerpt = 500

// recentMessageCount is how many of the most recent messages are
// included in a turn prompt.
const recentMessageCount = 5

// buildTurnPrompt assembles the prompt for one participant's turn. The
// composition is fixed: session name/goal, role/protocol, the last
// recentMessageCount messages (each truncated to maxMessageExcerpt
// characters), known facts, an optional extra user prompt, then a
// closing instruction. Callers that parse or compare prompts rely on
// this exact ordering.
func buildTurnPrompt(session *Session, participant Participant, userPrompt string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session: %s\nGoal: %s\n\n", session.Name, session.Goal)
	fmt.Fprintf(&b, "You are %s, role: %s. Protocol: %s.\n\n", participant.Name, participant.Role, session.Protocol)

	b.WriteString("Recent messages:\n")
	for _, m := range recentMessages(session.Messages, recentMessageCount) {
		speaker := m.ParticipantID
		if p, ok := session.participant(m.ParticipantID); ok {
			speaker = p.Name
		}
		fmt.Fprintf(&b, "- %s: %s\n", speaker, truncate(m.Content, maxMessageExcerpt))
	}
	b.WriteString("\n")

	if len(session.SharedContext.Facts) > 0 {
		b.WriteString("Known facts:\n")
		for _, f := range session.SharedContext.Facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	if userPrompt != "" {
		fmt.Fprintf(&b, "%s\n\n", userPrompt)
	}

	b.WriteString("Respond with your turn now.")
	return b.String()
}

func recentMessages(all []Message, n int) []Message {
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// nextSpeaker returns the participant whose turn it is under the
// session's protocol, and false if the protocol has no notion of a
// single next speaker (consensus, voting — those advance by vote, not
// by turn).
func nextSpeaker(s *Session) (Participant, bool) {
	if len(s.Participants) == 0 {
		return Participant{}, false
	}
	switch s.Protocol {
	case ProtocolRoundRobin, ProtocolDebate, ProtocolBroadcast, ProtocolFreeForm:
		idx := s.TurnIndex % len(s.Participants)
		return s.Participants[idx], true
	case ProtocolLeaderFollower:
		if s.TurnIndex == 0 {
			if leader, ok := s.leader(); ok {
				return leader, true
			}
		}
		// Followers take the remaining slots in a round, in
		// declaration order, skipping the leader.
		followerIdx := s.TurnIndex - 1
		followers := nonLeaders(s.Participants)
		if followerIdx < 0 || followerIdx >= len(followers) {
			return Participant{}, false
		}
		return followers[followerIdx], true
	default:
		return Participant{}, false
	}
}

func nonLeaders(all []Participant) []Participant {
	out := make([]Participant, 0, len(all))
	for _, p := range all {
		if !p.IsLeader {
			out = append(out, p)
		}
	}
	return out
}

// advanceTurn moves the session to its next turn index, incrementing
// Round whenever a full round (one turn per participant) completes.
func advanceTurn(s *Session) {
	s.TurnIndex++
	if s.TurnIndex >= len(s.Participants) {
		s.TurnIndex = 0
		s.Round++
	}
}

// defaultMaxRounds returns the session's configured round cap, or
// DefaultMaxRounds if unset.
func defaultMaxRounds(s *Session) int {
	if s.MaxRounds > 0 {
		return s.MaxRounds
	}
	return DefaultMaxRounds
}

// debateMinMessages is the minimum transcript length a debate must
// reach before an "agree" message is allowed to end it, so a single
// early pleasantry can't cut the exchange short.
const debateMinMessages = 4

// debateShouldStop reports whether a debate session should end after
// the given message: it must contain "agree" (case-insensitive) and at
// least debateMinMessages messages must already be in the transcript.
func debateShouldStop(s *Session, last Message) bool {
	return len(s.Messages) >= debateMinMessages && strings.Contains(strings.ToLower(last.Content), "agree")
}

// firstProposal returns the earliest proposal message in the
// transcript, used by the voting protocol to identify what's on the
// floor.
func firstProposal(messages []Message) (Message, bool) {
	for _, m := range messages {
		if m.Type == MessageProposal {
			return m, true
		}
	}
	return Message{}, false
}
