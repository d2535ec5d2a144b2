package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cosched/cosched/internal/model"
)

var (
	configFlag string
	jsonFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "cosched",
	Short: "Email-based meeting coordination agent",
	Long: `cosched negotiates meeting times with other scheduling agents over
ordinary email. Both sides exchange structured coordination messages inside
human-readable mails, converge on a mutually acceptable slot, and put it on
their calendars.

It allows you to:
  - Run the agent loop that polls the inbox and answers counterparts
  - Send a schedule request to another agent
  - Inspect the agent's negotiation status
  - Update the contextual factors that drive slot scoring`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", model.DefaultConfigPath(), "path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output as JSON where supported")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
