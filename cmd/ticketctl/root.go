package main

import (
	"fmt"
	"os"

	"milk-ticket-backend/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ticketctl",
	Short: "Import hauler exports into milk tickets from the command line",
	Long: `ticketctl runs the same reconciliation the server offers over HTTP.

Example Usage:
  ticketctl import --file vesseytransactions.xlsx
  ticketctl preview --file vesseytransactions.xlsx --limit 5
  ticketctl hash-password 'correct horse'`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			if err := os.Setenv("CONFIG_FILE", cfgFile); err != nil {
				return err
			}
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML file overriding environment settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

// loadConfig reads configuration and applies the log level flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	config.SetLogLevel(cfg.LogLevel)
	if verbose {
		config.SetLogLevel("debug")
	}
	return cfg, nil
}
