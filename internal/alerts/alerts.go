// Package alerts turns health-check threshold violations into durable alert
// records: raise, acknowledge, resolve. Alert ids live in the alerts sorted
// set scored by raise time; detail records sit under alert:{id}.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/idgen"
	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/types"
)

// ErrNotFound is returned for unknown alert ids.
var ErrNotFound = errors.New("alerts: not found")

// ErrResolved is returned when mutating a resolved alert.
var ErrResolved = errors.New("alerts: already resolved")

// Store persists and lists alert records.
type Store struct {
	store kv.Store
	now   func() time.Time
}

// NewStore creates an alert store over the substrate.
func NewStore(store kv.Store) *Store {
	return &Store{store: store, now: time.Now}
}

// WithClock substitutes the time source (tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Raise records a new active alert and returns it. When an active alert
// for the same check already exists, it is refreshed instead of duplicated.
func (s *Store) Raise(ctx context.Context, check string, severity types.Severity, message string, value, threshold float64) (*types.Alert, error) {
	if existing, err := s.findActive(ctx, check); err != nil {
		return nil, err
	} else if existing != nil {
		existing.Severity = severity
		existing.Message = message
		existing.Value = value
		existing.Threshold = threshold
		if err := s.put(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	now := s.now().UTC()
	alert := &types.Alert{
		ID:        idgen.NewAlertID(),
		Check:     check,
		Severity:  severity,
		State:     types.AlertActive,
		Message:   message,
		Value:     value,
		Threshold: threshold,
		RaisedAt:  now,
	}
	raw, err := alert.Encode()
	if err != nil {
		return nil, err
	}

	pipe := s.store.Pipeline()
	pipe.ZAdd(kv.KeyAlerts, kv.Z{Score: float64(now.UnixMilli()), Member: alert.ID})
	pipe.Set(kv.AlertKey(alert.ID), raw, 0)
	if err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("raise alert %s: %w", check, err)
	}
	debug.Logf("alerts: raised %s check=%s severity=%s: %s\n", alert.ID, check, severity, message)
	return alert, nil
}

// Get returns one alert by id.
func (s *Store) Get(ctx context.Context, id string) (*types.Alert, error) {
	raw, err := s.store.Get(ctx, kv.AlertKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return types.DecodeAlert(raw)
}

// List returns alerts newest-first, optionally only unresolved ones.
func (s *Store) List(ctx context.Context, activeOnly bool, limit int64) ([]*types.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	members, err := s.store.ZRange(ctx, kv.KeyAlerts, 0, limit-1, true)
	if err != nil {
		return nil, err
	}
	alerts := make([]*types.Alert, 0, len(members))
	for _, z := range members {
		alert, err := s.Get(ctx, z.Member)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if activeOnly && alert.State == types.AlertResolved {
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// Acknowledge records who took ownership and when. Acknowledging twice
// keeps the first acknowledger.
func (s *Store) Acknowledge(ctx context.Context, id, who string) (*types.Alert, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.State == types.AlertResolved {
		return nil, ErrResolved
	}
	if alert.State == types.AlertAcknowledged {
		return alert, nil
	}
	now := s.now().UTC()
	alert.State = types.AlertAcknowledged
	alert.AcknowledgedBy = who
	alert.AcknowledgedAt = &now
	if err := s.put(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// Resolve marks the alert resolved. Resolution is terminal.
func (s *Store) Resolve(ctx context.Context, id string) (*types.Alert, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.State == types.AlertResolved {
		return alert, nil
	}
	now := s.now().UTC()
	alert.State = types.AlertResolved
	alert.ResolvedAt = &now
	if err := s.put(ctx, alert); err != nil {
		return nil, err
	}
	debug.Logf("alerts: resolved %s check=%s\n", alert.ID, alert.Check)
	return alert, nil
}

func (s *Store) put(ctx context.Context, alert *types.Alert) error {
	raw, err := alert.Encode()
	if err != nil {
		return err
	}
	return s.store.Set(ctx, kv.AlertKey(alert.ID), raw, 0)
}

// findActive scans recent alerts for an unresolved one on the same check.
func (s *Store) findActive(ctx context.Context, check string) (*types.Alert, error) {
	alerts, err := s.List(ctx, true, 200)
	if err != nil {
		return nil, err
	}
	for _, alert := range alerts {
		if alert.Check == check {
			return alert, nil
		}
	}
	return nil, nil
}
