package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status",
	Long: `Show the agent's identity, negotiation state, current context, and
upcoming coordinated events.

Examples:
  cosched status
  cosched status --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := a.coordinator.Status()
	archived, err := a.store.CountConversations(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	upcoming, err := a.store.EventsBetween(ctx, now, now.AddDate(0, 0, 14))
	if err != nil {
		return err
	}

	if jsonFlag {
		out := map[string]any{
			"status":                 st,
			"archived_conversations": archived,
			"upcoming_events":        upcoming,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Agent: %s <%s>\n", st.AgentID, st.Address)
	fmt.Printf("Protocol: %s\n", st.Protocol)
	fmt.Printf("Context: workload=%s energy=%s pressure=%s meetings_today=%d\n",
		st.Context.Workload, st.Context.Energy, st.Context.DeadlinePressure, st.Context.MeetingsToday)
	fmt.Printf("Conversations: %d active, %d archived\n", st.ActiveConversations, archived)

	if len(upcoming) == 0 {
		fmt.Println("No coordinated events in the next two weeks.")
		return nil
	}
	fmt.Println("Upcoming events:")
	for _, ev := range upcoming {
		fmt.Printf("  %s - %s  %s\n",
			ev.Start.Local().Format("Mon Jan 2 15:04"),
			ev.End.Local().Format("15:04"),
			ev.Title)
	}
	return nil
}
