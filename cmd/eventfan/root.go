package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/eventfan/internal/app"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "eventfan",
	Short: "Event fan-out dispatcher with a demo shop",
	Long: `eventfan publishes domain events to ranked synchronous and asynchronous
listeners backed by a bounded worker pool.

Configuration is read from an optional YAML or JSON file, then from
EVENTFAN_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.yaml, .yml or .json)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(demoCmd)
}

func initialize() (*app.App, func(), error) {
	a, cleanup, err := app.InitializeApp(app.ConfigPath(configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("initializing: %w", err)
	}
	return a, cleanup, nil
}
