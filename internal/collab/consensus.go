package collab

import "math"

// recordVote casts or overwrites participantID's ballot on the
// session's active proposal. The consensus state is created on first
// vote if one doesn't already exist, targeting the most recent proposal
// message (an Open Question in the collaboration design, resolved this
// way: a session needn't call out to a separate "open proposal" step
// before voting begins).
func recordVote(s *Session, participantID string, approve bool, vote Vote) error {
	if s.Consensus == nil {
		proposal, ok := lastProposal(s.Messages)
		if !ok {
			return ErrNoActiveProposal
		}
		s.Consensus = &ConsensusState{
			ProposalMessageID: proposal.ID,
			Votes:             make(map[string]Vote),
			CreatedAt:         vote.CastAt,
		}
	}
	s.Consensus.Votes[participantID] = vote
	return nil
}

func lastProposal(messages []Message) (Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Type == MessageProposal {
			return messages[i], true
		}
	}
	return Message{}, false
}

// evaluateConsensus applies the approval-percentage rule from the
// collaboration design: with totalVotes votes cast out of
// participantCount participants, the approvalPercentage is
// approvals/totalVotes. The proposal is accepted once every participant
// has voted and approvalPercentage >= threshold. It is rejected early
// once enough rejections have accumulated that acceptance is no longer
// mathematically reachable: rejections > participantCount -
// ceil(participantCount*threshold).
func evaluateConsensus(cs *ConsensusState, participantCount int, threshold float64) ConsensusOutcome {
	if cs == nil || participantCount == 0 {
		return ConsensusPending
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var approvals, rejections int
	for _, v := range cs.Votes {
		if v.Approve {
			approvals++
		} else {
			rejections++
		}
	}
	totalVotes := approvals + rejections

	maxApprovalsNeeded := int(math.Ceil(float64(participantCount) * threshold))
	if rejections > participantCount-maxApprovalsNeeded {
		return ConsensusRejected
	}

	if totalVotes >= participantCount {
		approvalPercentage := float64(approvals) / float64(totalVotes)
		if approvalPercentage >= threshold {
			return ConsensusAccepted
		}
		return ConsensusRejected
	}

	return ConsensusPending
}
