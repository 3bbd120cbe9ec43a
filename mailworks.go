// Package mailworks provides a minimal public API for embedding the task
// queue and search engine in other Go programs.
//
// Most deployments run the mwd binary; this package exports only the types
// and constructors an embedding program needs to enqueue work, query task
// status and search the index against a shared Redis instance.
package mailworks

import (
	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/lock"
	"github.com/mailworks/mailworks/internal/queue"
	"github.com/mailworks/mailworks/internal/search"
	"github.com/mailworks/mailworks/internal/types"
)

// Core types for working with tasks.
type (
	Task           = types.Task
	TaskKind       = types.TaskKind
	Priority       = types.Priority
	Status         = types.Status
	StatusRecord   = types.StatusRecord
	Scheduler      = queue.Scheduler
	EnqueueOptions = queue.EnqueueOptions
	Engine         = search.Engine
	Indexer        = search.Indexer
	Document       = search.Document
	QueryOptions   = search.QueryOptions
)

// Task kinds.
const (
	KindProcessEmail       = types.KindProcessEmail
	KindSendEmail          = types.KindSendEmail
	KindProcessAttachments = types.KindProcessAttachments
	KindGenerateAnalytics  = types.KindGenerateAnalytics
	KindCleanupStorage     = types.KindCleanupStorage
	KindIndexSearch        = types.KindIndexSearch
	KindUpdateThread       = types.KindUpdateThread
	KindSendNotification   = types.KindSendNotification
)

// Priorities.
const (
	PriorityHigh   = types.PriorityHigh
	PriorityNormal = types.PriorityNormal
	PriorityLow    = types.PriorityLow
)

// Lifecycle states.
const (
	StatusPending    = types.StatusPending
	StatusScheduled  = types.StatusScheduled
	StatusProcessing = types.StatusProcessing
	StatusCompleted  = types.StatusCompleted
	StatusFailed     = types.StatusFailed
	StatusCancelled  = types.StatusCancelled
)

// NewScheduler connects to Redis and returns a scheduler for enqueueing
// tasks and reading status. The caller owns the underlying connection via
// the returned close function.
func NewScheduler(redisURL string) (*Scheduler, func() error, error) {
	store, err := kv.NewRedis(redisURL)
	if err != nil {
		return nil, nil, err
	}
	return queue.New(store), store.Close, nil
}

// NewSearch connects to Redis and returns the query engine and indexer
// sharing one connection.
func NewSearch(redisURL string) (*Engine, *Indexer, func() error, error) {
	store, err := kv.NewRedis(redisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	index := kv.NewIndexStore(store)
	return search.NewEngine(index), search.NewIndexer(index, lock.NewManager(store)), store.Close, nil
}
