// Package cmd contains the CLI commands for origami.
package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/origami/internal/logging"
)

var (
	configFile string
	verbose    bool
	output     string
)

var rootCmd = &cobra.Command{
	Use:   "origami",
	Short: "Origami - multi-domain alert routing and escalation",
	Long: `Origami evaluates telemetry packets from several application domains,
raises alerts and escalates them through each subject's ranked contacts
until someone is reached.

Built-in domains:
  - elderly_care  (falls, vitals, missed medication, patient records)
  - agriculture   (soil, weather and farming events)
  - security      (access and motion events, rules from YAML)

Examples:
  # Run the service with a config file
  origami serve -c origami.yaml

  # Process packet files once and print the outcome
  origami ingest packets.jsonl more.yaml

  # Summarize persisted history for a subject
  origami summary --subject patient-17 --since 2026-01-01`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// loadConfig reads the --config file or falls back to defaults.
func loadConfig() (*Config, error) {
	var cfg *Config
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}
	cfg.Verbose = verbose
	if verbose {
		cfg.Log.Level = "debug"
		cfg.API.Verbose = true
	}
	return cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	return logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
