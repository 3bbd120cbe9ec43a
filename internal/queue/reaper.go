package queue

import (
	"context"
	"errors"
	"time"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/types"
)

// DefaultLeaseTimeout is how long a processing entry may sit untouched
// before the reaper treats its worker as dead.
const DefaultLeaseTimeout = 10 * time.Minute

// ReapStale returns processing entries older than leaseTimeout to the
// scheduled set with an incremented attempts counter, or dead-letters them
// when attempts are exhausted. Reports how many entries were reclaimed.
func (s *Scheduler) ReapStale(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	now := s.now().UTC()
	cutoff := float64(now.Add(-leaseTimeout).UnixMilli())

	stale, err := s.store.ZRangeByScore(ctx, kv.KeyProcessing, kv.NegInf, cutoff, 0, promoteBatch)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	reaped := 0
	for _, z := range stale {
		task, err := types.DecodeTask(z.Member)
		if err != nil {
			debug.Logf("queue: reaper dropping malformed processing entry: %v\n", err)
			pipe := s.store.Pipeline()
			pipe.ZRem(kv.KeyProcessing, z.Member)
			if err := pipe.Exec(ctx); err != nil {
				return reaped, err
			}
			continue
		}
		task.Raw = z.Member

		// The leasing worker already charged this attempt; the stale lease
		// consumes it. Fail decides between reschedule and DLQ.
		if err := s.Fail(ctx, task, errLeaseExpired, false); err != nil {
			return reaped, err
		}
		leasesReapedTotal.Inc()
		reaped++
	}
	if reaped > 0 {
		debug.Logf("queue: reaped %d stale lease(s)\n", reaped)
	}
	return reaped, nil
}

// RunReaper scans for stale leases every interval until ctx is cancelled.
func (s *Scheduler) RunReaper(ctx context.Context, interval, leaseTimeout time.Duration) {
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
			if _, err := s.ReapStale(ctx, leaseTimeout); err != nil {
				debug.Logf("queue: reaper scan failed: %v\n", err)
			}
		}
	}
}

var errLeaseExpired = errors.New("lease expired")
