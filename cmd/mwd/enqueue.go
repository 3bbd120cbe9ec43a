package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailworks/mailworks/internal/queue"
	"github.com/mailworks/mailworks/internal/timeparsing"
	"github.com/mailworks/mailworks/internal/types"
)

var (
	enqueueAt          string
	enqueuePriority    string
	enqueueMaxAttempts int
	enqueueTimeoutMS   int64
	enqueueCorrelation string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <kind> [payload-json]",
	Short: "Enqueue a task (payload as argument or on stdin)",
	Long: `Enqueue a task for background processing.

The payload is a JSON object, passed as the second argument or piped on
stdin. --at accepts compact durations (+6h, -1d), RFC3339 timestamps,
dates (2026-08-25) and natural language ("tomorrow", "in 5 minutes").`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := types.TaskKind(args[0])
		if !kind.Valid() {
			return fmt.Errorf("unknown task kind %q (known: %v)", args[0], types.Kinds)
		}

		var payload []byte
		if len(args) == 2 {
			payload = []byte(args[1])
		} else {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			payload = raw
		}
		if !json.Valid(payload) {
			return fmt.Errorf("payload is not valid JSON")
		}

		opts := queue.EnqueueOptions{
			MaxAttempts:   enqueueMaxAttempts,
			TimeoutMS:     enqueueTimeoutMS,
			CorrelationID: enqueueCorrelation,
		}
		if enqueuePriority != "" {
			p := types.Priority(enqueuePriority)
			if !p.Valid() {
				return fmt.Errorf("invalid priority %q (high, normal, low)", enqueuePriority)
			}
			opts.Priority = p
		}
		if enqueueAt != "" {
			at, err := timeparsing.ParseRelativeTime(enqueueAt, time.Now())
			if err != nil {
				return fmt.Errorf("parse --at: %w", err)
			}
			opts.ScheduledFor = at
		}

		id, err := sched.Enqueue(rootCtx, kind, payload, opts)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]string{"id": id})
			return nil
		}
		if opts.ScheduledFor.IsZero() {
			fmt.Printf("enqueued %s (%s)\n", id, kind)
		} else {
			fmt.Printf("enqueued %s (%s) for %s\n", id, kind, opts.ScheduledFor.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueAt, "at", "", "When the task becomes due (default: now)")
	enqueueCmd.Flags().StringVar(&enqueuePriority, "priority", "", "Scheduling class: high, normal, low (default: normal)")
	enqueueCmd.Flags().IntVar(&enqueueMaxAttempts, "max-attempts", 0, "Retry budget override (default: 3)")
	enqueueCmd.Flags().Int64Var(&enqueueTimeoutMS, "timeout-ms", 0, "Per-attempt handler timeout in milliseconds")
	enqueueCmd.Flags().StringVar(&enqueueCorrelation, "correlation-id", "", "Correlation id shared by related tasks")
}
