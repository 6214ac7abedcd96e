package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "plantlink",
	Short: "Industrial plant monitoring over Modbus TCP",
	Long: `plantlink polls sensor telemetry from Modbus TCP field devices and
redistributes processed reports to authenticated monitoring clients.

Examples:
  # Run the monitoring service with a config file
  plantlink run --config /etc/plantlink/config.yaml

  # Run a local Modbus device simulator for testing
  plantlink simulate --listen 127.0.0.1:1502`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simulateCmd)
}
