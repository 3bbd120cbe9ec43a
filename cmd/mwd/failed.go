package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var (
	failedLimit  int64
	failedOffset int64
	retryAll     bool
	purgeForce   bool
)

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Inspect and manage the dead-letter queue",
}

var failedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := sched.ListFailed(rootCtx, failedOffset, failedLimit, true)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(tasks)
			return nil
		}
		if len(tasks) == 0 {
			fmt.Println("dead-letter queue is empty")
			return nil
		}
		rows := make([][]string, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, []string{
				t.ID, string(t.Kind), string(t.Priority),
				strconv.Itoa(t.Attempts), truncate(t.Error, 60),
			})
		}
		renderTable([]string{"ID", "KIND", "PRIORITY", "ATTEMPTS", "ERROR"}, rows)
		return nil
	},
}

var failedRetryCmd = &cobra.Command{
	Use:   "retry [task-id]",
	Short: "Move a failed task (or --all) back to the ready set",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if retryAll {
			return retryAllFailed()
		}
		if len(args) != 1 {
			return fmt.Errorf("task id required (or --all)")
		}
		if err := sched.RequeueFailed(rootCtx, args[0]); err != nil {
			return err
		}
		fmt.Printf("requeued %s\n", args[0])
		return nil
	},
}

func retryAllFailed() error {
	requeued := 0
	for {
		tasks, err := sched.ListFailed(rootCtx, 0, 100, false)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			break
		}
		for _, t := range tasks {
			if err := sched.RequeueFailed(rootCtx, t.ID); err != nil {
				return fmt.Errorf("requeue %s: %w", t.ID, err)
			}
			requeued++
		}
	}
	fmt.Printf("requeued %d task(s)\n", requeued)
	return nil
}

var failedPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently delete every dead-lettered task",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !purgeForce {
			var confirmed bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title("Purge the dead-letter queue?").
					Description("Failed tasks and their payloads are deleted permanently.").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("aborted")
				return nil
			}
		}
		n, err := sched.PurgeFailed(rootCtx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d task(s)\n", n)
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	failedListCmd.Flags().Int64Var(&failedLimit, "limit", 50, "Maximum tasks to list")
	failedListCmd.Flags().Int64Var(&failedOffset, "offset", 0, "Listing offset")
	failedRetryCmd.Flags().BoolVar(&retryAll, "all", false, "Requeue every failed task")
	failedPurgeCmd.Flags().BoolVar(&purgeForce, "force", false, "Skip the confirmation prompt")
	failedCmd.AddCommand(failedListCmd, failedRetryCmd, failedPurgeCmd)
}
