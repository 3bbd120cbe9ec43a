package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/queue"
	"github.com/mailworks/mailworks/internal/search"
	"github.com/mailworks/mailworks/internal/types"
)

// Violation is a failed health check, ready to become an alert.
type Violation struct {
	Severity  types.Severity
	Message   string
	Value     float64
	Threshold float64
}

// Check is one registered health probe. Run returns nil when healthy.
type Check struct {
	Name string
	Run  func(ctx context.Context) (*Violation, error)
}

// Monitor runs registered checks and converts violations into alerts.
// A check that passes auto-resolves its previously raised alert.
type Monitor struct {
	alerts *Store
	checks []Check
}

// NewMonitor creates a monitor over the alert store.
func NewMonitor(alerts *Store) *Monitor {
	return &Monitor{alerts: alerts}
}

// Register adds a health check.
func (m *Monitor) Register(check Check) {
	m.checks = append(m.checks, check)
}

// RunOnce executes every check. Check errors are logged, not fatal to the
// sweep; a failing probe is itself a violation.
func (m *Monitor) RunOnce(ctx context.Context) error {
	for _, check := range m.checks {
		violation, err := check.Run(ctx)
		if err != nil {
			debug.Logf("alerts: check %s errored: %v\n", check.Name, err)
			violation = &Violation{
				Severity: types.SeverityHigh,
				Message:  fmt.Sprintf("check failed: %v", err),
			}
		}
		if violation != nil {
			if _, err := m.alerts.Raise(ctx, check.Name, violation.Severity, violation.Message, violation.Value, violation.Threshold); err != nil {
				return err
			}
			continue
		}
		if err := m.resolveIfActive(ctx, check.Name); err != nil {
			return err
		}
	}
	return nil
}

// Run sweeps every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil {
				debug.Logf("alerts: sweep failed: %v\n", err)
			}
		}
	}
}

func (m *Monitor) resolveIfActive(ctx context.Context, check string) error {
	alert, err := m.alerts.findActive(ctx, check)
	if err != nil || alert == nil {
		return err
	}
	_, err = m.alerts.Resolve(ctx, alert.ID)
	return err
}

// ladder maps how far a value overshoots its threshold to a severity.
func ladder(value, threshold float64) types.Severity {
	switch {
	case value >= 8*threshold:
		return types.SeverityCritical
	case value >= 4*threshold:
		return types.SeverityHigh
	case value >= 2*threshold:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

// Pinger is anything with a reachability probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVCheck probes substrate reachability. Unreachable KV is critical: every
// component coordinates through it.
func KVCheck(store kv.Store) Check {
	return Check{Name: "kv_reachable", Run: func(ctx context.Context) (*Violation, error) {
		if err := store.Ping(ctx); err != nil {
			return &Violation{
				Severity: types.SeverityCritical,
				Message:  fmt.Sprintf("kv unreachable: %v", err),
			}, nil
		}
		return nil, nil
	}}
}

// DocStoreCheck probes the document store.
func DocStoreCheck(docs Pinger) Check {
	return Check{Name: "docstore_reachable", Run: func(ctx context.Context) (*Violation, error) {
		if err := docs.Ping(ctx); err != nil {
			return &Violation{
				Severity: types.SeverityHigh,
				Message:  fmt.Sprintf("document store unreachable: %v", err),
			}, nil
		}
		return nil, nil
	}}
}

// QueueDepthCheck flags a backlog of ready+scheduled tasks above threshold.
func QueueDepthCheck(sched *queue.Scheduler, threshold int64) Check {
	return Check{Name: "queue_depth", Run: func(ctx context.Context) (*Violation, error) {
		stats, err := sched.QueueStats(ctx)
		if err != nil {
			return nil, err
		}
		depth := stats.Ready + stats.Scheduled
		if depth <= threshold {
			return nil, nil
		}
		return &Violation{
			Severity:  ladder(float64(depth), float64(threshold)),
			Message:   fmt.Sprintf("queue backlog %d exceeds %d", depth, threshold),
			Value:     float64(depth),
			Threshold: float64(threshold),
		}, nil
	}}
}

// DLQDepthCheck flags dead-lettered tasks above threshold.
func DLQDepthCheck(sched *queue.Scheduler, threshold int64) Check {
	return Check{Name: "dlq_depth", Run: func(ctx context.Context) (*Violation, error) {
		stats, err := sched.QueueStats(ctx)
		if err != nil {
			return nil, err
		}
		if stats.Failed <= threshold {
			return nil, nil
		}
		return &Violation{
			Severity:  ladder(float64(stats.Failed), float64(threshold)),
			Message:   fmt.Sprintf("%d task(s) in the dead-letter queue", stats.Failed),
			Value:     float64(stats.Failed),
			Threshold: float64(threshold),
		}, nil
	}}
}

// IndexHealthCheck surfaces a degraded or unhealthy search index.
func IndexHealthCheck(health *search.Health) Check {
	return Check{Name: "index_health", Run: func(ctx context.Context) (*Violation, error) {
		report, err := health.Report(ctx, false)
		if err != nil {
			return nil, err
		}
		switch report.Status {
		case search.StatusUnhealthy:
			return &Violation{
				Severity: types.SeverityHigh,
				Message:  fmt.Sprintf("search index unhealthy: %v", report.Issues),
			}, nil
		case search.StatusDegraded:
			return &Violation{
				Severity: types.SeverityMedium,
				Message:  fmt.Sprintf("search index degraded: %v", report.Issues),
			}, nil
		}
		return nil, nil
	}}
}

// DeadLetterHook returns a scheduler hook that raises a high-severity
// alert when a high-priority task dead-letters. Registered via
// queue.WithDeadLetterHook.
func DeadLetterHook(alerts *Store) func(task *types.Task) {
	return func(task *types.Task) {
		if task.Priority != types.PriorityHigh {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := alerts.Raise(ctx, "task_failed:"+string(task.Kind), types.SeverityHigh,
			fmt.Sprintf("high-priority task %s failed after %d attempt(s): %s", task.ID, task.Attempts, task.Error), 0, 0)
		if err != nil {
			debug.Logf("alerts: dead-letter alert for %s failed: %v\n", task.ID, err)
		}
	}
}
