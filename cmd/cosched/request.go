package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cosched/cosched/internal/model"
)

var (
	requestSubject     string
	requestDuration    int
	requestKind        string
	requestDayParts    []string
	requestDescription string
	requestEnergy      string
)

var requestCmd = &cobra.Command{
	Use:   "request TO_ADDRESS",
	Short: "Send a schedule request to another agent",
	Long: `Open a negotiation by emailing a schedule request to the agent at
TO_ADDRESS. The counterpart answers with its availability; run the agent
loop (or 'cosched once') to continue the exchange.

Examples:
  cosched request bob@example.org --subject "Q3 planning" --duration 60

  cosched request bob@example.org --subject "Standup" \
    --duration 30 --kind team_meeting --day-parts morning`,
	Args: cobra.ExactArgs(1),
	RunE: runRequest,
}

func init() {
	requestCmd.Flags().StringVar(&requestSubject, "subject", "", "meeting subject (required)")
	requestCmd.Flags().IntVar(&requestDuration, "duration", 30, "meeting duration in minutes")
	requestCmd.Flags().StringVar(&requestKind, "kind", "1:1", "meeting kind (1:1, team_meeting, review, ...)")
	requestCmd.Flags().StringSliceVar(&requestDayParts, "day-parts", nil, "preferred day parts (morning, afternoon, evening)")
	requestCmd.Flags().StringVar(&requestDescription, "description", "", "meeting description")
	requestCmd.Flags().StringVar(&requestEnergy, "energy", "medium", "energy requirement (low, medium, high)")
	_ = requestCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(requestCmd)
}

func runRequest(cmd *cobra.Command, args []string) error {
	toAddress := args[0]
	if err := model.ValidateAddress(toAddress); err != nil {
		return err
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	meeting := model.MeetingContext{
		MeetingKind:       requestKind,
		DurationMinutes:   requestDuration,
		Subject:           requestSubject,
		Description:       requestDescription,
		EnergyRequirement: model.EnergyRequirement(requestEnergy),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conversationID, err := a.coordinator.SendScheduleRequest(ctx, toAddress, meeting, requestDayParts)
	if err != nil {
		return err
	}

	fmt.Printf("schedule request sent to %s\nconversation: %s\n", toAddress, conversationID)
	fmt.Println("run 'cosched run' to negotiate the reply")
	return nil
}
