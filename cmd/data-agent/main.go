// Command data-agent is a CLI REPL that drives the Agent Runtime directly,
// plus a `serve` subcommand that exposes the same runtime over the
// HTTP/SSE/WebSocket surface in internal/api.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	homeDirFlag string
	configFlag  string
	verboseFlag bool
)

func main() {
	root := &cobra.Command{
		Use:   "data-agent",
		Short: "Conversational data-analysis agent",
		Long: `data-agent turns a user request into a DAG of tool invocations,
schedules them across isolated sessions, and streams progress to any
connected observer.

Run 'data-agent' with no subcommand to start the interactive REPL, or
'data-agent serve' to expose the HTTP/WebSocket API instead.`,
		RunE: runREPL,
	}

	root.PersistentFlags().StringVar(&homeDirFlag, "home", "", "state directory (default $HOME/.data_agent)")
	root.PersistentFlags().StringVar(&configFlag, "config", "", "path to agents.yaml (default: $DATA_AGENT_CONFIG or none)")
	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	root.AddCommand(replCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start the interactive REPL (default)",
		RunE:  runREPL,
	}
}
