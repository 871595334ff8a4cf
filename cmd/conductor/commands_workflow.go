package main

import (
	"fmt"
	"os"

	"github.com/devassist/conductor/internal/workflow"
	"github.com/spf13/cobra"
)

func buildWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Register, run, and export branching workflows",
	}
	cmd.AddCommand(buildWorkflowRunCmd(), buildWorkflowExportCmd())
	return cmd
}

func loadWorkflowExecutor(definitionsPath string) (*workflow.Executor, error) {
	exec := workflow.NewExecutor(workflow.NoopActionExecutor{}, nil)
	f, err := os.Open(definitionsPath)
	if os.IsNotExist(err) {
		return exec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conductor: opening workflow definitions %s: %w", definitionsPath, err)
	}
	defer f.Close()
	if err := exec.LoadDefinitions(f); err != nil {
		return nil, fmt.Errorf("conductor: loading workflow definitions %s: %w", definitionsPath, err)
	}
	return exec, nil
}

func buildWorkflowRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Start a run of a registered workflow and drive it to completion or a pause point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			exec, err := loadWorkflowExecutor(cfg.Workflows.DefinitionsPath)
			if err != nil {
				return err
			}

			run, err := exec.StartRun(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			run, err = exec.ExecuteUntilComplete(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s status=%s step=%s\n", run.ID, run.Status, run.CurrentStepID)
			for _, result := range run.Context.History {
				fmt.Fprintf(out, "  step %s (%s): %s\n", result.StepID, result.Action, result.Status)
			}
			if run.Status == workflow.StatusWaitingUser {
				fmt.Fprintf(out, "waiting for user input: %s\n", run.PendingPrompt)
			}
			return nil
		},
	}
}

func buildWorkflowExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write every registered workflow definition to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			exec, err := loadWorkflowExecutor(cfg.Workflows.DefinitionsPath)
			if err != nil {
				return err
			}

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("conductor: creating %s: %w", args[0], err)
			}
			defer f.Close()
			if err := exec.ExportDefinitions(f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported workflow definitions to %s\n", args[0])
			return nil
		},
	}
}
