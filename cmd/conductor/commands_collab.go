package main

import (
	"fmt"
	"strings"

	"github.com/devassist/conductor/internal/collab"
	"github.com/spf13/cobra"
)

func buildCollabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collab",
		Short: "Run a multi-agent collaboration session",
	}
	cmd.AddCommand(buildCollabDemoCmd())
	return cmd
}

func buildCollabDemoCmd() *cobra.Command {
	var protocol string
	var names string
	var goal string
	var maxRounds int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run participants through a protocol to completion using a scripted invoker",
		Long: "demo creates a session with the given participants and protocol, executes it " +
			"to completion with EchoAgentInvoker, and prints the resulting transcript and " +
			"collaboration result. Wire a real AgentInvoker (backed by the provider manager) " +
			"to replace the echo stub for production use.",
		RunE: func(cmd *cobra.Command, args []string) error {
			participants, err := parseParticipants(names)
			if err != nil {
				return err
			}

			orch := collab.NewOrchestrator(collab.EchoAgentInvoker{}, nil, nil)
			session, err := orch.CreateSession("demo", goal, collab.Protocol(protocol), participants)
			if err != nil {
				return err
			}
			result, err := orch.ExecuteSession(cmd.Context(), session.ID, maxRounds)
			if err != nil {
				return err
			}
			session, err = orch.GetSession(session.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s status=%s rounds=%d\n", session.ID, session.Status, session.Round)
			for _, m := range session.Messages {
				fmt.Fprintf(out, "  [%s] %s: %s\n", m.Type, m.ParticipantID, m.Content)
			}
			fmt.Fprintf(out, "outcome: %s (success=%v, turns=%d, messages=%d)\n", result.Outcome, result.Success, result.TotalTurns, result.MessageCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&protocol, "protocol", string(collab.ProtocolRoundRobin), "collaboration protocol")
	cmd.Flags().StringVar(&names, "participants", "alice:reviewer,bob:author", "comma-separated name:role pairs (first is leader for leader-follower)")
	cmd.Flags().StringVar(&goal, "goal", "reach a decision", "session goal shown to participants")
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "round cap for the protocol loop (0 uses the session default)")
	return cmd
}

func parseParticipants(spec string) ([]collab.Participant, error) {
	parts := strings.Split(spec, ",")
	participants := make([]collab.Participant, 0, len(parts))
	for i, raw := range parts {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		nameRole := strings.SplitN(raw, ":", 2)
		name := nameRole[0]
		role := "participant"
		if len(nameRole) == 2 {
			role = nameRole[1]
		}
		participants = append(participants, collab.Participant{
			ID:       fmt.Sprintf("p%d", i+1),
			Name:     name,
			Role:     role,
			IsLeader: i == 0,
		})
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("conductor: no participants parsed from %q", spec)
	}
	return participants, nil
}
