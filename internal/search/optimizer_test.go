package search

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/lock"
)

func newTestOptimizer(t *testing.T) (*kv.IndexStore, *lock.Manager, *Optimizer) {
	t.Helper()
	store, locks := newTestIndex(t)
	opt := NewOptimizer(store, locks).WithPause(func(context.Context, time.Duration) {})
	return store, locks, opt
}

func TestOptimizeRecalibratesScores(t *testing.T) {
	store, _, opt := newTestOptimizer(t)
	ctx := context.Background()

	require.NoError(t, store.AddPostings(ctx, "email", "d1", map[string]float64{"report": 0.4}))
	require.NoError(t, store.AddPostings(ctx, "email", "d2", map[string]float64{"report": 0.2}))

	report, err := opt.Optimize(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.PostingsRescored)

	// n=2, idf=log(3): each score becomes (score/2)*log(3).
	postings, err := store.Postings(ctx, "report")
	require.NoError(t, err)
	require.Len(t, postings, 2)
	byMember := map[string]float64{}
	for _, z := range postings {
		byMember[z.Member] = z.Score
	}
	assert.InDelta(t, 0.4/2*math.Log(3), byMember["email:d1"], 1e-9)
	assert.InDelta(t, 0.2/2*math.Log(3), byMember["email:d2"], 1e-9)
}

func TestOptimizeSkipsWhenLockHeld(t *testing.T) {
	store, locks, opt := newTestOptimizer(t)
	ctx := context.Background()

	require.NoError(t, store.AddPostings(ctx, "email", "d1", map[string]float64{"report": 0.4}))
	_, err := locks.Acquire(ctx, lock.OptimizerLock, lock.OptimizerTTL)
	require.NoError(t, err)

	report, err := opt.Optimize(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, report.PostingsRescored)

	// Untouched while skipped.
	postings, err := store.Postings(ctx, "report")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, postings[0].Score, 1e-9)
}

func TestOptimizeReleasesLock(t *testing.T) {
	store, _, opt := newTestOptimizer(t)
	ctx := context.Background()

	require.NoError(t, store.AddPostings(ctx, "email", "d1", map[string]float64{"report": 0.4}))
	_, err := opt.Optimize(ctx)
	require.NoError(t, err)

	// A second run can take the lock again.
	second, err := opt.Optimize(ctx)
	require.NoError(t, err)
	assert.False(t, second.Skipped)
}

func TestOptimizeMetadataStripsNullsAndTruncates(t *testing.T) {
	store, _, opt := newTestOptimizer(t)
	ctx := context.Background()

	oversized := strings.Repeat("x", 1500)
	meta := map[string]any{"subject": oversized, "spam": nil, "kept": "short"}
	raw, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, store.PutDocument(ctx, "email", "d1", `{"id":"d1"}`, string(raw)))

	report, err := opt.Optimize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MetadataOptimized)

	cleanedRaw, err := store.GetMeta(ctx, "email", "d1")
	require.NoError(t, err)
	var cleaned map[string]any
	require.NoError(t, json.Unmarshal([]byte(cleanedRaw), &cleaned))
	assert.NotContains(t, cleaned, "spam")
	assert.Equal(t, "short", cleaned["kept"])
	subject, _ := cleaned["subject"].(string)
	assert.Len(t, subject, 1003, "1000 chars plus ellipsis")
	assert.True(t, strings.HasSuffix(subject, "..."))
}

func TestOptimizeMetadataLeavesCleanEntriesAlone(t *testing.T) {
	store, _, opt := newTestOptimizer(t)
	ctx := context.Background()

	require.NoError(t, store.PutDocument(ctx, "email", "d1", `{"id":"d1"}`, `{"type":"business"}`))

	report, err := opt.Optimize(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.MetadataOptimized)
}

func TestOptimizeKeepsMemberSetStable(t *testing.T) {
	store, locks := newTestIndex(t)
	ctx := context.Background()
	ix := NewIndexer(store, locks)
	opt := NewOptimizer(store, locks).WithPause(func(context.Context, time.Duration) {})

	require.NoError(t, ix.Index(ctx, &Document{ID: "d1", Type: "email", Content: "quarterly report attached"}))
	require.NoError(t, ix.Index(ctx, &Document{ID: "d2", Type: "email", Content: "expense report overdue"}))

	_, err := opt.Optimize(ctx)
	require.NoError(t, err)
	first, err := store.Postings(ctx, "report")
	require.NoError(t, err)

	// Each run recalibrates scores; the member set must be stable.
	_, err = opt.Optimize(ctx)
	require.NoError(t, err)
	second, err := store.Postings(ctx, "report")
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Member, second[i].Member)
	}
}
