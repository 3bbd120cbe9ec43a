// Package types defines core data structures for the mailworks backend.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskKind identifies the handler a task is dispatched to.
// The set is closed; Valid rejects anything else.
type TaskKind string

const (
	KindProcessEmail       TaskKind = "process_email"
	KindSendEmail          TaskKind = "send_email"
	KindProcessAttachments TaskKind = "process_attachments"
	KindGenerateAnalytics  TaskKind = "generate_analytics"
	KindCleanupStorage     TaskKind = "cleanup_storage"
	KindIndexSearch        TaskKind = "index_search"
	KindUpdateThread       TaskKind = "update_thread"
	KindSendNotification   TaskKind = "send_notification"
)

// Kinds lists every known task kind in dispatch-table order.
var Kinds = []TaskKind{
	KindProcessEmail,
	KindSendEmail,
	KindProcessAttachments,
	KindGenerateAnalytics,
	KindCleanupStorage,
	KindIndexSearch,
	KindUpdateThread,
	KindSendNotification,
}

// Valid reports whether k is a known task kind.
func (k TaskKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Priority is the scheduling class of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Weight returns the class-separation weight used by the ready-set score.
// Higher weight sorts earlier (the scheduler subtracts it from the score).
func (p Priority) Weight() int64 {
	switch p {
	case PriorityHigh:
		return 1_000_000
	case PriorityLow:
		return 10_000
	default:
		return 100_000
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a task in this status can transition further.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// DependentSpec describes a follow-up task enqueued by the completion hook.
type DependentSpec struct {
	Kind     TaskKind        `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	Priority Priority        `json:"priority,omitempty"`
	DelayMS  int64           `json:"delay_ms,omitempty"`
}

// Task is the durable record moved between queue partitions.
// The serialized form is the sorted-set member; the status hash carries a
// trimmed StatusRecord for cheap observability reads.
type Task struct {
	ID            string          `json:"id"`
	Kind          TaskKind        `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Priority      Priority        `json:"priority"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	TimeoutMS     int64           `json:"timeout_ms,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ScheduledFor  time.Time       `json:"scheduled_for"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Error         string          `json:"error,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	Metadata      TaskMetadata    `json:"metadata,omitempty"`

	// Raw is the serialized form currently stored in the task's partition.
	// Partition transitions remove by this exact member value.
	Raw string `json:"-"`
}

// TaskMetadata is the opaque per-task map. DependentTasks is the only field
// the scheduler itself interprets (completion hook).
type TaskMetadata struct {
	DependentTasks []DependentSpec   `json:"dependent_tasks,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// DefaultTimeout bounds handler execution when a task carries no timeout.
const DefaultTimeout = 5 * time.Minute

// Timeout returns the handler execution bound for this task.
func (t *Task) Timeout() time.Duration {
	if t.TimeoutMS > 0 {
		return time.Duration(t.TimeoutMS) * time.Millisecond
	}
	return DefaultTimeout
}

// Encode serializes the task to its durable JSON form.
func (t *Task) Encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return string(b), nil
}

// DecodeTask parses a serialized task record.
func DecodeTask(raw string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}

// StatusRecord is the trimmed view written to the status hash on every
// transition. Clients poll this instead of scanning partitions.
type StatusRecord struct {
	ID            string     `json:"id"`
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	Progress      int        `json:"progress,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

// Encode serializes the status record for the status hash.
func (r *StatusRecord) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode status %s: %w", r.ID, err)
	}
	return string(b), nil
}

// DecodeStatusRecord parses a status hash entry.
func DecodeStatusRecord(raw string) (*StatusRecord, error) {
	var r StatusRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode status record: %w", err)
	}
	return &r, nil
}
