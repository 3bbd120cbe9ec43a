// Package lock implements named, fenced, timed-out leases over the KV
// substrate. Acquisition is a single SET-if-absent-with-expiry; release and
// renewal compare the fencing token first, so a lock that expired and was
// re-acquired elsewhere is never clobbered.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/kv"
)

// ErrHeld is returned by Acquire when the lock is owned elsewhere.
var ErrHeld = errors.New("lock: held elsewhere")

// Well-known lock names and TTLs.
const (
	OptimizerLock = "search:optimization:lock"
	OptimizerTTL  = time.Hour

	DocLockTTL = 30 * time.Second
)

// DocLock names the per-document indexing lock.
func DocLock(id string) string {
	return "doc:" + id
}

// Manager hands out fenced leases backed by the substrate.
type Manager struct {
	store kv.Store
}

// NewManager creates a lock manager over store.
func NewManager(store kv.Store) *Manager {
	return &Manager{store: store}
}

// Acquire takes the named lock for ttl and returns its fencing token.
// Returns ErrHeld when someone else owns it.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := m.store.SetNX(ctx, kv.LockKey(name), token, ttl)
	if err != nil {
		return "", fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return "", ErrHeld
	}
	debug.Logf("lock: acquired %s (ttl=%s)\n", name, ttl)
	return token, nil
}

// Release drops the lock if token still owns it. Releasing a lock that
// expired or changed hands is a no-op.
func (m *Manager) Release(ctx context.Context, name, token string) error {
	key := kv.LockKey(name)
	current, err := m.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	if current != token {
		debug.Logf("lock: release %s skipped, token changed hands\n", name)
		return nil
	}
	if err := m.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	return nil
}

// Renew extends the lease if token still owns it. Returns false when the
// lock expired or was taken by another holder.
func (m *Manager) Renew(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	key := kv.LockKey(name)
	current, err := m.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("renew %s: %w", name, err)
	}
	if current != token {
		return false, nil
	}
	if err := m.store.Set(ctx, key, token, ttl); err != nil {
		return false, fmt.Errorf("renew %s: %w", name, err)
	}
	return true, nil
}

// WithLock runs fn while holding the named lock, releasing it afterwards.
// Returns ErrHeld without running fn when the lock is owned elsewhere.
func (m *Manager) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, err := m.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := m.Release(context.WithoutCancel(ctx), name, token); relErr != nil {
			debug.Logf("lock: release %s failed: %v\n", name, relErr)
		}
	}()
	return fn(ctx)
}
