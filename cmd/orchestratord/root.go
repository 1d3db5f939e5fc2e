package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "orchestratord",
	Short: "Autonomous multi-agent task-orchestration runtime",
	Long: `orchestratord runs the task-orchestration daemon: a market-style
dispatcher auctions tasks to capability-bidding worker agents, a DAG
executor runs dependent task graphs with progressive decomposition, and
a viewport bridge streams activity out to an operator-facing sink.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (default: built-in defaults + ORCH_ env overrides)")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
