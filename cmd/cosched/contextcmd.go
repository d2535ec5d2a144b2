package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cosched/cosched/internal/model"
	"github.com/cosched/cosched/internal/watch"
)

var (
	ctxWorkload string
	ctxEnergy   string
	ctxPressure string
	ctxMeetings int
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Show the contextual factors that drive slot scoring",
	Long: `Show the agent's current contextual factors. A running agent picks
up edits to the context file automatically.

Examples:
  cosched context
  cosched context set --workload heavy --energy low`,
	Args: cobra.NoArgs,
	RunE: runContextShow,
}

var contextSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the contextual factors",
	Args:  cobra.NoArgs,
	RunE:  runContextSet,
}

func init() {
	contextSetCmd.Flags().StringVar(&ctxWorkload, "workload", "", "workload level (light, moderate, heavy, critical)")
	contextSetCmd.Flags().StringVar(&ctxEnergy, "energy", "", "energy level (low, medium, high)")
	contextSetCmd.Flags().StringVar(&ctxPressure, "pressure", "", "deadline pressure (low, medium, high)")
	contextSetCmd.Flags().IntVar(&ctxMeetings, "meetings", -1, "meetings already held today")
	contextCmd.AddCommand(contextSetCmd)
	rootCmd.AddCommand(contextCmd)
}

func runContextShow(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	factors, err := watch.LoadContextFile(a.contextPath)
	if err != nil {
		factors = model.DefaultContext()
	}

	if jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(factors)
	}

	fmt.Printf("Context file: %s\n", a.contextPath)
	fmt.Printf("  workload:          %s\n", factors.Workload)
	fmt.Printf("  energy:            %s\n", factors.Energy)
	fmt.Printf("  deadline pressure: %s\n", factors.DeadlinePressure)
	fmt.Printf("  meetings today:    %d\n", factors.MeetingsToday)
	return nil
}

func runContextSet(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	factors, err := watch.LoadContextFile(a.contextPath)
	if err != nil {
		factors = model.DefaultContext()
	}

	if ctxWorkload != "" {
		factors.Workload = model.WorkloadLevel(ctxWorkload)
	}
	if ctxEnergy != "" {
		factors.Energy = model.EnergyLevel(ctxEnergy)
	}
	if ctxPressure != "" {
		factors.DeadlinePressure = ctxPressure
	}
	if ctxMeetings >= 0 {
		factors.MeetingsToday = ctxMeetings
	}

	if err := factors.Validate(); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(a.contextPath)
	v.SetConfigType("yaml")
	v.Set("current_workload", string(factors.Workload))
	v.Set("energy_level", string(factors.Energy))
	v.Set("deadline_pressure", factors.DeadlinePressure)
	v.Set("meetings_today", factors.MeetingsToday)
	if err := v.WriteConfigAs(a.contextPath); err != nil {
		return fmt.Errorf("writing context file: %w", err)
	}

	fmt.Printf("context updated: workload=%s energy=%s pressure=%s meetings_today=%d\n",
		factors.Workload, factors.Energy, factors.DeadlinePressure, factors.MeetingsToday)
	return nil
}
