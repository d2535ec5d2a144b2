package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single poll cycle",
	Long: `Fetch and handle pending coordination messages once, then exit.
Useful from cron or for debugging a negotiation step by step.`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	if err := a.poller.RunOnce(ctx); err != nil {
		return err
	}

	st := a.poller.GetStatus()
	fmt.Printf("handled %d envelope(s), dropped %d\n", st.Handled, st.Dropped)
	return nil
}
