package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect and query registered LLM providers",
	}
	cmd.AddCommand(buildProvidersStatusCmd(), buildProvidersModelsCmd())
	return cmd
}

func buildProvidersStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check health of every configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			mgr, err := buildManager(cfg.Providers)
			if err != nil {
				return err
			}

			results := mgr.CheckAllHealth(cmd.Context())
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No providers configured.")
				return nil
			}
			for name, health := range results {
				state := "unhealthy"
				if health.Healthy {
					state = "healthy"
				}
				fmt.Fprintf(out, "%s: %s (latency %s)\n", name, state, health.Latency)
				if health.Error != "" {
					fmt.Fprintf(out, "  error: %s\n", health.Error)
				}
			}

			active, err := mgr.SelectProvider()
			if err == nil {
				fmt.Fprintf(out, "selected (%s strategy): %s\n", cfg.Providers.Strategy, active.Name())
			}
			return nil
		},
	}
}

func buildProvidersModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models across every configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			mgr, err := buildManager(cfg.Providers)
			if err != nil {
				return err
			}

			models, err := mgr.ListAllModels(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(models) == 0 {
				fmt.Fprintln(out, "No models found.")
				return nil
			}
			for _, m := range models {
				fmt.Fprintf(out, "%s/%s  family=%s  context=%d  tools=%v\n", m.Provider, m.ID, m.Family, m.ContextLength, m.SupportsTools)
			}
			return nil
		},
	}
}
