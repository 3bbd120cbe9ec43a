package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailworks/mailworks/internal/alerts"
	"github.com/mailworks/mailworks/internal/config"
	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/handlers"
	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/lock"
	"github.com/mailworks/mailworks/internal/queue"
	"github.com/mailworks/mailworks/internal/search"
	"github.com/mailworks/mailworks/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker pool, lease reaper and health monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := cfg.Current()

		alertStore := alerts.NewStore(store)
		// Dead-lettered high-priority tasks page the on-call.
		served := queue.New(store,
			queue.WithRetryPolicy(retryPolicy(c)),
			queue.WithDeadLetterHook(alerts.DeadLetterHook(alertStore)),
		)

		index := kv.NewIndexStore(store)
		locks := lock.NewManager(store)
		indexer := search.NewIndexer(index, locks)
		health := search.NewHealth(index)

		docs := handlers.NewKVDocumentStore(store)
		blobs, err := handlers.NewFSBlobStore(c.BlobRoot)
		if err != nil {
			return err
		}
		var mail handlers.MailTransport = handlers.LogMailTransport{}
		if c.SMTPAddr != "" {
			mail = &handlers.SMTPTransport{Addr: c.SMTPAddr}
		}
		env := handlers.NewEnv(docs, blobs, mail, handlers.NewKVNotificationGateway(store),
			served, indexer, locks, store, handlers.Settings{
				FromAddress:       c.FromAddress,
				FromName:          c.FromName,
				EmailDomain:       c.EmailDomain,
				MaxAttachmentSize: c.MaxAttachmentSize,
			})

		registry := worker.NewRegistry()
		if err := handlers.RegisterAll(registry, env); err != nil {
			return err
		}

		pool := worker.NewPool(served, registry,
			worker.WithConcurrency(c.Workers),
			worker.WithPollInterval(c.PollInterval),
			worker.WithLeaseTimeout(c.LeaseTimeout),
		)

		monitor := alerts.NewMonitor(alertStore)
		monitor.Register(alerts.KVCheck(store))
		monitor.Register(alerts.DocStoreCheck(docs))
		monitor.Register(alerts.QueueDepthCheck(served, c.Thresholds.QueueDepth))
		monitor.Register(alerts.DLQDepthCheck(served, c.Thresholds.DLQDepth))
		monitor.Register(alerts.IndexHealthCheck(health))
		go monitor.Run(rootCtx, c.MonitorInterval)

		// Tunables follow the file; a restart is only needed for the
		// connection-level settings.
		cfg.Watch(func(next *config.Config) {
			debug.Logf("serve: config reloaded (workers=%d poll=%s)\n", next.Workers, next.PollInterval)
		})

		fmt.Printf("mwd %s serving: %d workers, poll %s, lease timeout %s\n",
			Version, c.Workers, c.PollInterval, c.LeaseTimeout)
		return pool.Run(rootCtx)
	},
}
