package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frankawp/data-agent/internal/config"
)

var (
	configInitOut   string
	configInitForce bool
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or scaffold agents.yaml",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter agents.yaml with default values",
		RunE:  runConfigInit,
	}
	cmd.Flags().StringVar(&configInitOut, "out", "agents.yaml", "path to write")
	cmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	return cmd
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.WriteTemplate(config.DefaultAgentSystemConfig(), configInitOut, configInitForce); err != nil {
		return err
	}
	fmt.Println("wrote", configInitOut)
	return nil
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (defaults merged with agents.yaml)",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	a, err := buildApp(homeDirFlag, configFlag, verboseFlag)
	if err != nil {
		return err
	}
	cfg := a.agents.Config()
	fmt.Printf("version: %s\n", cfg.Version)
	fmt.Printf("coordinator.llm: %s\n", cfg.Coordinator.LLM)
	fmt.Printf("tools.builtin: sql=%v python=%v ml=%v graph=%v\n",
		cfg.Tools.Builtin.SQLTools, cfg.Tools.Builtin.PythonTools, cfg.Tools.Builtin.MLTools, cfg.Tools.Builtin.GraphTools)
	fmt.Printf("subagents: %d configured\n", len(cfg.SubAgents))
	if path := a.agents.ConfigPath(); path != "" {
		fmt.Printf("loaded from: %s\n", path)
	} else {
		fmt.Println("loaded from: defaults (no agents.yaml found)")
	}
	return nil
}
