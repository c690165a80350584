package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:          "calscribe",
	Short:        "Calendar assistant that turns chat text into calendar events",
	Long:         "calscribe extracts calendar intents from chat messages, keeps them in a durable local ledger, and mirrors them to Google Calendar.",
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(extractionsCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
