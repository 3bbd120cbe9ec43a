package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailworks/mailworks/internal/config"
	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/queue"
	"github.com/mailworks/mailworks/internal/telemetry"
)

var (
	cfgPath     string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	cfg   *config.Loader
	store kv.Store
	sched *queue.Scheduler

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// noStoreCommands run without a KV connection.
var noStoreCommands = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
}

var rootCmd = &cobra.Command{
	Use:   "mwd",
	Short: "mwd - email processing backend",
	Long:  `Durable task queue, inverted-index search and health monitoring for email pipelines, coordinated through Redis.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("mwd version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)

		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		if err := telemetry.Init(rootCtx, "mwd", Version); err != nil {
			return err
		}

		if noStoreCommands[cmd.Name()] {
			return nil
		}

		store, err = kv.NewRedis(cfg.Current().RedisURL, kv.WithNamespace(cfg.Current().Namespace))
		if err != nil {
			return fmt.Errorf("connect kv: %w", err)
		}
		store = telemetry.WrapStore(store)
		sched = queue.New(store, queue.WithRetryPolicy(retryPolicy(cfg.Current())))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		telemetry.Shutdown(shutdownCtx)
		cancel()
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func retryPolicy(c *config.Config) queue.RetryPolicy {
	return queue.RetryPolicy{
		Strategy: queue.Strategy(c.Backoff.Strategy),
		Initial:  c.Backoff.Initial,
		Cap:      c.Backoff.Cap,
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default: ./config.yaml, /etc/mailworks/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddCommand(
		serveCmd,
		enqueueCmd,
		statusCmd,
		failedCmd,
		searchCmd,
		indexCmd,
		optimizeCmd,
		healthCmd,
		alertsCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
