package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	schemaPath string
)

var rootCmd = &cobra.Command{
	Use:   "responderd",
	Short: "Field responder telemetry agent",
	Long:  "responderd captures responder locations, queues them durably, and syncs them to dispatch.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/responderd.yaml", "Path to agent configuration YAML")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "schemas/responderd.cue", "Path to CUE schema file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(statusCmd)
}
