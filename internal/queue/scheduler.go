// Package queue implements the durable, priority-ordered, retry-aware task
// scheduler. Tasks live in four sorted-set partitions (ready, scheduled,
// processing, failed) plus a status hash and a per-task mirror key; every
// partition transition is a single pipelined remove-then-add so a task id is
// in at most one partition outside the transition window.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/idgen"
	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/types"
)

// ErrInvalidArgument is returned by Enqueue for unknown kinds or bad options.
var ErrInvalidArgument = errors.New("queue: invalid argument")

// ErrNotFound is returned when a task id has no durable record.
var ErrNotFound = errors.New("queue: task not found")

const (
	// DefaultMaxAttempts bounds retries unless the caller overrides it.
	DefaultMaxAttempts = 3
	// promoteBatch caps how many due scheduled tasks one Lease call promotes.
	promoteBatch = 100
)

// EnqueueOptions tune a single enqueue.
type EnqueueOptions struct {
	Priority      types.Priority
	ScheduledFor  time.Time
	MaxAttempts   int
	TimeoutMS     int64
	CorrelationID string
	Metadata      types.TaskMetadata
}

// Scheduler owns the queue partitions.
type Scheduler struct {
	store  kv.Store
	policy RetryPolicy
	now    func() time.Time

	// onDeadLetter fires after a task lands in the DLQ. High-priority
	// failures are surfaced as alerts through this hook.
	onDeadLetter func(task *types.Task)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRetryPolicy overrides the default backoff policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithClock substitutes the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithDeadLetterHook registers a callback fired when a task exhausts its
// attempts.
func WithDeadLetterHook(fn func(task *types.Task)) Option {
	return func(s *Scheduler) { s.onDeadLetter = fn }
}

// New creates a Scheduler over the substrate.
func New(store kv.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		policy: DefaultRetryPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// priorityScore orders the ready set. Smallest score pops first: older
// scheduled_for values sink, and the priority weight separates classes so a
// high-priority task beats a simultaneously due normal one.
func (s *Scheduler) priorityScore(t *types.Task, now time.Time) float64 {
	return float64(t.ScheduledFor.UnixMilli() - now.UnixMilli() - t.Priority.Weight())
}

// Enqueue validates, persists and queues a new task, returning its id.
func (s *Scheduler) Enqueue(ctx context.Context, kind types.TaskKind, payload []byte, opts EnqueueOptions) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidArgument, kind)
	}
	if opts.MaxAttempts < 0 {
		return "", fmt.Errorf("%w: max_attempts must be >= 1", ErrInvalidArgument)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	priority := opts.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}
	if !priority.Valid() {
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, priority)
	}

	now := s.now().UTC()
	scheduledFor := opts.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	wirePayload, err := types.InjectEnvelope(payload, correlationID, now)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	task := &types.Task{
		ID:            idgen.NewTaskID(),
		Kind:          kind,
		Payload:       wirePayload,
		Priority:      priority,
		Status:        types.StatusPending,
		MaxAttempts:   maxAttempts,
		TimeoutMS:     opts.TimeoutMS,
		CreatedAt:     now,
		ScheduledFor:  scheduledFor.UTC(),
		CorrelationID: correlationID,
		Metadata:      opts.Metadata,
	}

	partition := kv.KeyReady
	score := s.priorityScore(task, now)
	if scheduledFor.After(now) {
		partition = kv.KeyScheduled
		task.Status = types.StatusScheduled
		score = float64(task.ScheduledFor.UnixMilli())
	}

	raw, err := task.Encode()
	if err != nil {
		return "", err
	}
	task.Raw = raw

	statusRaw, err := s.statusRecord(task).Encode()
	if err != nil {
		return "", err
	}

	pipe := s.store.Pipeline()
	pipe.ZAdd(partition, kv.Z{Score: score, Member: raw})
	pipe.Set(kv.JobKey(task.ID), raw, 0)
	pipe.HSet(kv.KeyStatus, task.ID, statusRaw)
	if err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}

	tasksEnqueuedTotal.WithLabelValues(string(kind), string(priority)).Inc()
	debug.Logf("queue: enqueued %s kind=%s priority=%s at=%s\n", task.ID, kind, priority, task.ScheduledFor.Format(time.RFC3339))
	return task.ID, nil
}

func (s *Scheduler) statusRecord(t *types.Task) *types.StatusRecord {
	return &types.StatusRecord{
		ID:            t.ID,
		Status:        t.Status,
		Attempts:      t.Attempts,
		LastAttemptAt: t.LastAttemptAt,
		CompletedAt:   t.CompletedAt,
		Error:         t.Error,
		CorrelationID: t.CorrelationID,
	}
}

// promoteDue moves every scheduled task whose due time has passed into the
// ready set with its priority score. One pipelined write per batch.
func (s *Scheduler) promoteDue(ctx context.Context, now time.Time) error {
	due, err := s.store.ZRangeByScore(ctx, kv.KeyScheduled, kv.NegInf, float64(now.UnixMilli()), 0, promoteBatch)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	pipe := s.store.Pipeline()
	for _, z := range due {
		task, err := types.DecodeTask(z.Member)
		if err != nil {
			// A corrupt member would wedge the scheduled set; drop it.
			debug.Logf("queue: dropping malformed scheduled entry: %v\n", err)
			pipe.ZRem(kv.KeyScheduled, z.Member)
			continue
		}
		task.Status = types.StatusPending
		raw, err := task.Encode()
		if err != nil {
			return err
		}
		pipe.ZRem(kv.KeyScheduled, z.Member)
		pipe.ZAdd(kv.KeyReady, kv.Z{Score: s.priorityScore(task, now), Member: raw})
		pipe.Set(kv.JobKey(task.ID), raw, 0)
	}
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("promote due: %w", err)
	}
	debug.Logf("queue: promoted %d due task(s)\n", len(due))
	return nil
}

// Lease promotes due tasks, then pops the best ready task into processing
// and returns it. Returns (nil, nil) when nothing is ready.
func (s *Scheduler) Lease(ctx context.Context) (*types.Task, error) {
	now := s.now().UTC()
	if err := s.promoteDue(ctx, now); err != nil {
		return nil, err
	}

	z, err := s.store.ZPopMin(ctx, kv.KeyReady)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task, err := types.DecodeTask(z.Member)
	if err != nil {
		return nil, fmt.Errorf("lease: %w", err)
	}

	attemptAt := now
	task.Status = types.StatusProcessing
	task.Attempts++
	task.LastAttemptAt = &attemptAt

	raw, err := task.Encode()
	if err != nil {
		return nil, err
	}
	task.Raw = raw

	statusRaw, err := s.statusRecord(task).Encode()
	if err != nil {
		return nil, err
	}

	pipe := s.store.Pipeline()
	pipe.ZAdd(kv.KeyProcessing, kv.Z{Score: float64(now.UnixMilli()), Member: raw})
	pipe.Set(kv.JobKey(task.ID), raw, 0)
	pipe.HSet(kv.KeyStatus, task.ID, statusRaw)
	if err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("lease %s: %w", task.ID, err)
	}

	debug.Logf("queue: leased %s kind=%s attempt=%d/%d\n", task.ID, task.Kind, task.Attempts, task.MaxAttempts)
	return task, nil
}

func (s *Scheduler) member(t *types.Task) (string, error) {
	if t.Raw != "" {
		return t.Raw, nil
	}
	return t.Encode()
}

// Complete removes the task from processing, records completion, then fires
// the completion hook for any dependent tasks (best effort).
func (s *Scheduler) Complete(ctx context.Context, task *types.Task) error {
	member, err := s.member(task)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	task.Status = types.StatusCompleted
	task.CompletedAt = &now
	task.Error = ""

	raw, err := task.Encode()
	if err != nil {
		return err
	}
	statusRaw, err := s.statusRecord(task).Encode()
	if err != nil {
		return err
	}

	pipe := s.store.Pipeline()
	pipe.ZRem(kv.KeyProcessing, member)
	pipe.Set(kv.JobKey(task.ID), raw, 0)
	pipe.HSet(kv.KeyStatus, task.ID, statusRaw)
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete %s: %w", task.ID, err)
	}
	task.Raw = raw

	tasksCompletedTotal.WithLabelValues(string(task.Kind), string(types.StatusCompleted)).Inc()
	taskDurationSeconds.WithLabelValues(string(task.Kind)).Observe(now.Sub(task.CreatedAt).Seconds())
	debug.Logf("queue: completed %s kind=%s attempts=%d\n", task.ID, task.Kind, task.Attempts)

	// Dependent enqueues are observed only after the partition transition
	// above. Failures are logged, the parent stays completed.
	for _, dep := range task.Metadata.DependentTasks {
		opts := EnqueueOptions{
			Priority:      dep.Priority,
			CorrelationID: task.CorrelationID,
		}
		if dep.DelayMS > 0 {
			opts.ScheduledFor = now.Add(time.Duration(dep.DelayMS) * time.Millisecond)
		}
		if _, err := s.Enqueue(ctx, dep.Kind, dep.Payload, opts); err != nil {
			debug.Logf("queue: dependent enqueue %s after %s failed: %v\n", dep.Kind, task.ID, err)
		}
	}
	return nil
}

// Fail removes the task from processing and either reschedules it under the
// backoff policy or quarantines it in the DLQ. Set fatal to skip retries.
func (s *Scheduler) Fail(ctx context.Context, task *types.Task, taskErr error, fatal bool) error {
	member, err := s.member(task)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	task.Error = taskErr.Error()

	retry := !fatal && task.Attempts < task.MaxAttempts
	if retry {
		delay := s.policy.Delay(task.Attempts)
		task.Status = types.StatusScheduled
		task.ScheduledFor = now.Add(delay)

		raw, err := task.Encode()
		if err != nil {
			return err
		}
		statusRaw, err := s.statusRecord(task).Encode()
		if err != nil {
			return err
		}

		pipe := s.store.Pipeline()
		pipe.ZRem(kv.KeyProcessing, member)
		pipe.ZAdd(kv.KeyScheduled, kv.Z{Score: float64(task.ScheduledFor.UnixMilli()), Member: raw})
		pipe.Set(kv.JobKey(task.ID), raw, 0)
		pipe.HSet(kv.KeyStatus, task.ID, statusRaw)
		if err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("retry %s: %w", task.ID, err)
		}
		task.Raw = raw

		tasksRetriedTotal.WithLabelValues(string(task.Kind)).Inc()
		debug.Logf("queue: retry %s in %s (attempt %d/%d): %v\n", task.ID, delay, task.Attempts, task.MaxAttempts, taskErr)
		return nil
	}

	task.Status = types.StatusFailed
	raw, err := task.Encode()
	if err != nil {
		return err
	}
	statusRaw, err := s.statusRecord(task).Encode()
	if err != nil {
		return err
	}

	pipe := s.store.Pipeline()
	pipe.ZRem(kv.KeyProcessing, member)
	pipe.ZAdd(kv.KeyFailed, kv.Z{Score: float64(now.UnixMilli()), Member: raw})
	pipe.Set(kv.JobKey(task.ID), raw, 0)
	pipe.HSet(kv.KeyStatus, task.ID, statusRaw)
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fail %s: %w", task.ID, err)
	}
	task.Raw = raw

	tasksCompletedTotal.WithLabelValues(string(task.Kind), string(types.StatusFailed)).Inc()
	debug.Logf("queue: dead-lettered %s kind=%s after %d attempt(s): %v\n", task.ID, task.Kind, task.Attempts, taskErr)
	if s.onDeadLetter != nil {
		s.onDeadLetter(task)
	}
	return nil
}

// Cancel marks a task cancelled and removes it from whichever partition
// holds it. Cancelled is terminal.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	raw, err := s.store.Get(ctx, kv.JobKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	task, err := types.DecodeTask(raw)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("%w: task %s is %s", ErrInvalidArgument, id, task.Status)
	}

	task.Status = types.StatusCancelled
	newRaw, err := task.Encode()
	if err != nil {
		return err
	}
	statusRaw, err := s.statusRecord(task).Encode()
	if err != nil {
		return err
	}

	pipe := s.store.Pipeline()
	// The mirror tracks the partition member exactly, so one ZRem per
	// partition with the old serialized form clears it wherever it lives.
	pipe.ZRem(kv.KeyReady, raw)
	pipe.ZRem(kv.KeyScheduled, raw)
	pipe.ZRem(kv.KeyProcessing, raw)
	pipe.ZRem(kv.KeyFailed, raw)
	pipe.Set(kv.JobKey(id), newRaw, 0)
	pipe.HSet(kv.KeyStatus, id, statusRaw)
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}

	tasksCompletedTotal.WithLabelValues(string(task.Kind), string(types.StatusCancelled)).Inc()
	debug.Logf("queue: cancelled %s\n", id)
	return nil
}

// GetStatus returns the observability record for a task id.
func (s *Scheduler) GetStatus(ctx context.Context, id string) (*types.StatusRecord, error) {
	raw, err := s.store.HGet(ctx, kv.KeyStatus, id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return types.DecodeStatusRecord(raw)
}

// GetTask returns the full durable record for a task id.
func (s *Scheduler) GetTask(ctx context.Context, id string) (*types.Task, error) {
	raw, err := s.store.Get(ctx, kv.JobKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	task, err := types.DecodeTask(raw)
	if err != nil {
		return nil, err
	}
	task.Raw = raw
	return task, nil
}

// ListFailed pages through the DLQ.
func (s *Scheduler) ListFailed(ctx context.Context, offset, limit int64, newestFirst bool) ([]*types.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	members, err := s.store.ZRange(ctx, kv.KeyFailed, offset, offset+limit-1, newestFirst)
	if err != nil {
		return nil, err
	}
	tasks := make([]*types.Task, 0, len(members))
	for _, z := range members {
		task, err := types.DecodeTask(z.Member)
		if err != nil {
			debug.Logf("queue: skipping malformed DLQ entry: %v\n", err)
			continue
		}
		task.Raw = z.Member
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// RequeueFailed moves a dead-lettered task back to ready with its attempts
// counter reset.
func (s *Scheduler) RequeueFailed(ctx context.Context, id string) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != types.StatusFailed {
		return fmt.Errorf("%w: task %s is %s, not failed", ErrInvalidArgument, id, task.Status)
	}

	member := task.Raw
	now := s.now().UTC()
	task.Status = types.StatusPending
	task.Attempts = 0
	task.Error = ""
	task.ScheduledFor = now

	raw, err := task.Encode()
	if err != nil {
		return err
	}
	statusRaw, err := s.statusRecord(task).Encode()
	if err != nil {
		return err
	}

	pipe := s.store.Pipeline()
	pipe.ZRem(kv.KeyFailed, member)
	pipe.ZAdd(kv.KeyReady, kv.Z{Score: s.priorityScore(task, now), Member: raw})
	pipe.Set(kv.JobKey(id), raw, 0)
	pipe.HSet(kv.KeyStatus, id, statusRaw)
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}
	debug.Logf("queue: requeued %s from DLQ\n", id)
	return nil
}

// PurgeFailed drops every DLQ entry, returning how many were removed.
func (s *Scheduler) PurgeFailed(ctx context.Context) (int64, error) {
	members, err := s.store.ZRange(ctx, kv.KeyFailed, 0, -1, false)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}
	pipe := s.store.Pipeline()
	for _, z := range members {
		pipe.ZRem(kv.KeyFailed, z.Member)
		if task, err := types.DecodeTask(z.Member); err == nil {
			pipe.Del(kv.JobKey(task.ID))
			pipe.HDel(kv.KeyStatus, task.ID)
		}
	}
	if err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("purge failed: %w", err)
	}
	return int64(len(members)), nil
}

// UpdateProgress records a handler's progress percentage, clamped to
// [0, 100], in the status hash.
func (s *Scheduler) UpdateProgress(ctx context.Context, id string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	rec, err := s.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	rec.Progress = percent
	raw, err := rec.Encode()
	if err != nil {
		return err
	}
	return s.store.HSet(ctx, kv.KeyStatus, id, raw)
}

// Stats is a point-in-time partition depth snapshot.
type Stats struct {
	Ready      int64 `json:"ready"`
	Scheduled  int64 `json:"scheduled"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed"`
}

// QueueStats reports the depth of each partition.
func (s *Scheduler) QueueStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	var err error
	if stats.Ready, err = s.store.ZCard(ctx, kv.KeyReady); err != nil {
		return nil, err
	}
	if stats.Scheduled, err = s.store.ZCard(ctx, kv.KeyScheduled); err != nil {
		return nil, err
	}
	if stats.Processing, err = s.store.ZCard(ctx, kv.KeyProcessing); err != nil {
		return nil, err
	}
	if stats.Failed, err = s.store.ZCard(ctx, kv.KeyFailed); err != nil {
		return nil, err
	}
	return &stats, nil
}
