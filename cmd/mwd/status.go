package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show queue depths, or one task's lifecycle record",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return showTaskStatus(args[0])
		}
		return showQueueStats()
	},
}

func showTaskStatus(id string) error {
	rec, err := sched.GetStatus(rootCtx, id)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(rec)
		return nil
	}

	fmt.Printf("%s  %s\n", rec.ID, statusStyle(string(rec.Status)))
	fmt.Printf("  attempts: %d\n", rec.Attempts)
	if rec.Progress > 0 {
		fmt.Printf("  progress: %d%%\n", rec.Progress)
	}
	if rec.LastAttemptAt != nil {
		fmt.Printf("  last attempt: %s\n", rec.LastAttemptAt.Format(time.RFC3339))
	}
	if rec.CompletedAt != nil {
		fmt.Printf("  completed: %s\n", rec.CompletedAt.Format(time.RFC3339))
	}
	if rec.Error != "" {
		fmt.Printf("  error: %s\n", rec.Error)
	}
	if rec.CorrelationID != "" {
		fmt.Printf("  correlation: %s\n", rec.CorrelationID)
	}
	return nil
}

func showQueueStats() error {
	stats, err := sched.QueueStats(rootCtx)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(stats)
		return nil
	}
	renderTable(
		[]string{"PARTITION", "DEPTH"},
		[][]string{
			{"ready", strconv.FormatInt(stats.Ready, 10)},
			{"scheduled", strconv.FormatInt(stats.Scheduled, 10)},
			{"processing", strconv.FormatInt(stats.Processing, 10)},
			{"failed", strconv.FormatInt(stats.Failed, 10)},
		},
	)
	return nil
}
