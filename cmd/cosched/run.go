package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cosched/cosched/internal/watch"
)

var (
	runForFlag      time.Duration
	runIntervalFlag time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent loop",
	Long: `Run the agent: poll the inbox on the configured interval, answer
coordination messages from counterpart agents, and watch the context file
for operator updates.

Examples:
  # Run until interrupted
  cosched run

  # Run for one hour, then exit
  cosched run --for 1h`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runForFlag, "for", 0, "stop after this duration (0 = run until interrupted)")
	runCmd.Flags().DurationVar(&runIntervalFlag, "interval", 0, "override the configured poll interval")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runIntervalFlag > 0 {
		a.poller.SetInterval(runIntervalFlag)
	}

	if runForFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runForFlag)
		defer cancel()
	}

	watcher, err := watch.NewContextWatcher(a.contextPath, a.coordinator.UpdateContext)
	if err != nil {
		fmt.Printf("context watcher unavailable, using static context: %v\n", err)
	} else {
		defer watcher.Close()
	}

	interval := time.Duration(a.cfg.PollIntervalSec) * time.Second
	if runIntervalFlag > 0 {
		interval = runIntervalFlag
	}
	fmt.Printf("agent %s <%s> polling every %s\n",
		a.identity.AgentID, a.identity.ContactAddress, interval)

	a.poller.Run(ctx)

	st := a.poller.GetStatus()
	fmt.Printf("stopped: handled %d envelope(s), dropped %d\n", st.Handled, st.Dropped)
	return nil
}
