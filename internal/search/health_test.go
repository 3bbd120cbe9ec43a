package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailworks/mailworks/internal/kv"
)

func TestHealthReportHealthy(t *testing.T) {
	store, locks := newTestIndex(t)
	ctx := context.Background()
	ix := NewIndexer(store, locks)
	h := NewHealth(store)

	require.NoError(t, ix.Index(ctx, &Document{ID: "d1", Type: "email", Content: "quarterly report attached"}))
	require.NoError(t, ix.Index(ctx, &Document{ID: "d2", Type: "email", Content: "expense report overdue"}))

	report, err := h.Report(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Empty(t, report.Issues)
	assert.Equal(t, int64(2), report.TotalDocuments)
	// Terms: quarterly, report, attached, expense, overdue.
	assert.Equal(t, int64(5), report.TotalTerms)
	// "report" appears in both docs: 6 members over 5 terms.
	assert.InDelta(t, 1.2, report.AvgTermFrequency, 1e-9)
	assert.Positive(t, report.Storage.PostingsBytes)
	assert.Positive(t, report.Storage.MetadataBytes)
}

func TestHealthUnbalancedDistributionDegrades(t *testing.T) {
	store, _ := newTestIndex(t)
	ctx := context.Background()
	h := NewHealth(store)

	// One dominant term with 12 docs against three singletons: avg 3.75,
	// one high-bucket term, zero medium.
	for i := 0; i < 12; i++ {
		id := string(rune('a' + i))
		require.NoError(t, store.AddPostings(ctx, "email", id, map[string]float64{"alpha": 0.1}))
	}
	require.NoError(t, store.AddPostings(ctx, "email", "x", map[string]float64{"beta": 0.1}))
	require.NoError(t, store.AddPostings(ctx, "email", "y", map[string]float64{"gamma": 0.1}))
	require.NoError(t, store.AddPostings(ctx, "email", "z", map[string]float64{"delta": 0.1}))

	report, err := h.Report(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, []string{"unbalanced term distribution"}, report.Issues)
	assert.Equal(t, 1, report.Buckets.High)
	assert.Equal(t, 0, report.Buckets.Medium)
	assert.Equal(t, 3, report.Buckets.Low)
}

func TestHealthReportCached(t *testing.T) {
	store, locks := newTestIndex(t)
	ctx := context.Background()
	ix := NewIndexer(store, locks)
	h := NewHealth(store)

	require.NoError(t, ix.Index(ctx, &Document{ID: "d1", Type: "email", Content: "cached snapshot test"}))
	first, err := h.Report(ctx, false)
	require.NoError(t, err)

	// The index grows, but the cached snapshot is served until it expires.
	require.NoError(t, ix.Index(ctx, &Document{ID: "d2", Type: "email", Content: "another message entirely"}))
	cached, err := h.Report(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first.TotalDocuments, cached.TotalDocuments)
	assert.Equal(t, first.GeneratedAt, cached.GeneratedAt)

	forced, err := h.Report(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), forced.TotalDocuments)

	ttl, err := store.Store().TTL(ctx, kv.KeySearchStats)
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestHealthEmptyIndex(t *testing.T) {
	store, _ := newTestIndex(t)
	h := NewHealth(store)

	report, err := h.Report(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Zero(t, report.TotalTerms)
	assert.Zero(t, report.TotalDocuments)
	assert.Zero(t, report.Storage.TotalBytes)
}
