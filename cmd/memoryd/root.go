package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const rootLongDesc string = `memoryd keeps conversation history bounded, promotes durable facts into
collective memory and reports how well memory works.

  memoryd serve                          Run analytics, maintenance jobs and the operator bot
  memoryd append --session s1 ...        Append a message to a session
  memoryd context --session s1           Print the prompt context of a session
  memoryd stats --days 7                 Print the analytics report
  memoryd aggregate --date 2024-05-09    Roll up one day of analytics`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "memoryd",
		Short:        "Conversation memory service",
		Long:         rootLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file")
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	cmd.AddCommand(
		newServeCmd(),
		newAppendCmd(),
		newContextCmd(),
		newSummarizeCmd(),
		newExtractCmd(),
		newStatsCmd(),
		newRealTimeCmd(),
		newAggregateCmd(),
		newCleanCmd(),
	)
	return cmd
}

func globalFlags(cmd *cobra.Command) (string, bool, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", false, fmt.Errorf("could not get config flag: %w", err)
	}
	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return "", false, fmt.Errorf("could not get debug flag: %w", err)
	}
	return configPath, debug, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
