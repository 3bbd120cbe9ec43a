package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/queue"
	"github.com/mailworks/mailworks/internal/types"
)

func newTestStore(t *testing.T) (*Store, kv.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := kv.NewRedisFromClient(client)
	require.NoError(t, err)
	return NewStore(store), store
}

func TestRaiseAcknowledgeResolve(t *testing.T) {
	alerts, _ := newTestStore(t)
	ctx := context.Background()

	alert, err := alerts.Raise(ctx, "queue_depth", types.SeverityMedium, "backlog", 120, 50)
	require.NoError(t, err)
	assert.Equal(t, types.AlertActive, alert.State)
	assert.NotEmpty(t, alert.ID)

	acked, err := alerts.Acknowledge(ctx, alert.ID, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, types.AlertAcknowledged, acked.State)
	assert.Equal(t, "ops@example.com", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)

	// Second acknowledger does not displace the first.
	again, err := alerts.Acknowledge(ctx, alert.ID, "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", again.AcknowledgedBy)

	resolved, err := alerts.Resolve(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AlertResolved, resolved.State)
	require.NotNil(t, resolved.ResolvedAt)

	// Resolution is terminal.
	_, err = alerts.Acknowledge(ctx, alert.ID, "late@example.com")
	assert.ErrorIs(t, err, ErrResolved)
}

func TestRaiseRefreshesActiveAlert(t *testing.T) {
	alerts, _ := newTestStore(t)
	ctx := context.Background()

	first, err := alerts.Raise(ctx, "dlq_depth", types.SeverityLow, "3 tasks", 3, 1)
	require.NoError(t, err)
	second, err := alerts.Raise(ctx, "dlq_depth", types.SeverityHigh, "9 tasks", 9, 1)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "no duplicate alerts per check")
	assert.Equal(t, types.SeverityHigh, second.Severity)

	listed, err := alerts.List(ctx, true, 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestListActiveOnly(t *testing.T) {
	alerts, _ := newTestStore(t)
	ctx := context.Background()

	a, err := alerts.Raise(ctx, "check_a", types.SeverityLow, "a", 0, 0)
	require.NoError(t, err)
	_, err = alerts.Raise(ctx, "check_b", types.SeverityLow, "b", 0, 0)
	require.NoError(t, err)
	_, err = alerts.Resolve(ctx, a.ID)
	require.NoError(t, err)

	active, err := alerts.List(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "check_b", active[0].Check)

	all, err := alerts.List(ctx, false, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetUnknownAlert(t *testing.T) {
	alerts, _ := newTestStore(t)
	_, err := alerts.Get(context.Background(), "al-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLadder(t *testing.T) {
	assert.Equal(t, types.SeverityLow, ladder(60, 50))
	assert.Equal(t, types.SeverityMedium, ladder(100, 50))
	assert.Equal(t, types.SeverityHigh, ladder(200, 50))
	assert.Equal(t, types.SeverityCritical, ladder(400, 50))
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(context.Context) error { return p.err }

func TestMonitorRaisesAndAutoResolves(t *testing.T) {
	alerts, _ := newTestStore(t)
	ctx := context.Background()

	probe := &failingPinger{err: errors.New("connection refused")}
	monitor := NewMonitor(alerts)
	monitor.Register(DocStoreCheck(probe))

	require.NoError(t, monitor.RunOnce(ctx))
	active, err := alerts.List(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "docstore_reachable", active[0].Check)
	assert.Equal(t, types.SeverityHigh, active[0].Severity)

	// The store recovers; the next sweep resolves the alert.
	probe.err = nil
	require.NoError(t, monitor.RunOnce(ctx))
	active, err = alerts.List(ctx, true, 10)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestQueueDepthCheck(t *testing.T) {
	alerts, store := newTestStore(t)
	ctx := context.Background()
	sched := queue.New(store)

	monitor := NewMonitor(alerts)
	monitor.Register(QueueDepthCheck(sched, 2))

	payload, _ := json.Marshal(map[string]any{"older_than_days": 30})
	for i := 0; i < 5; i++ {
		_, err := sched.Enqueue(ctx, types.KindCleanupStorage, payload, queue.EnqueueOptions{})
		require.NoError(t, err)
	}

	require.NoError(t, monitor.RunOnce(ctx))
	active, err := alerts.List(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "queue_depth", active[0].Check)
	assert.Equal(t, types.SeverityMedium, active[0].Severity, "5 over threshold 2 is a 2x overshoot")
	assert.Equal(t, float64(5), active[0].Value)
}

func TestDeadLetterHookHighPriorityOnly(t *testing.T) {
	alerts, store := newTestStore(t)
	ctx := context.Background()

	sched := queue.New(store, queue.WithDeadLetterHook(DeadLetterHook(alerts)))

	payload, _ := json.Marshal(map[string]any{"older_than_days": 30})
	_, err := sched.Enqueue(ctx, types.KindCleanupStorage, payload, queue.EnqueueOptions{
		Priority:    types.PriorityHigh,
		MaxAttempts: 1,
	})
	require.NoError(t, err)
	_, err = sched.Enqueue(ctx, types.KindCleanupStorage, payload, queue.EnqueueOptions{
		Priority:    types.PriorityLow,
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		task, err := sched.Lease(ctx)
		require.NoError(t, err)
		require.NotNil(t, task)
		require.NoError(t, sched.Fail(ctx, task, errors.New("boom"), false))
	}

	active, err := alerts.List(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, active, 1, "only the high-priority failure alerts")
	assert.Contains(t, active[0].Check, "task_failed:cleanup_storage")
	assert.Equal(t, types.SeverityHigh, active[0].Severity)
}

func TestAlertTimestampsUseInjectedClock(t *testing.T) {
	alerts, _ := newTestStore(t)
	fixed := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	alerts.WithClock(func() time.Time { return fixed })

	alert, err := alerts.Raise(context.Background(), "kv_reachable", types.SeverityCritical, "down", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, fixed, alert.RaisedAt)
}
