package search

import (
	"context"
	"math"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/lock"
	"github.com/mailworks/mailworks/internal/taskerr"
)

func newTestIndex(t *testing.T) (*kv.IndexStore, *lock.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := kv.NewRedisFromClient(client)
	require.NoError(t, err)
	return kv.NewIndexStore(store), lock.NewManager(store)
}

func TestIndexSearchRoundTrip(t *testing.T) {
	store, locks := newTestIndex(t)
	ctx := context.Background()
	ix := NewIndexer(store, locks)
	eng := NewEngine(store)

	content := "Hello world hello"
	require.NoError(t, ix.Index(ctx, &Document{
		ID:       "d1",
		Type:     "email",
		Content:  content,
		Metadata: map[string]any{"type": "business"},
	}))

	// tf(hello)=2, length-normalized by the content size.
	wantScore := math.Log(3) / math.Sqrt(float64(len(content)))
	postings, err := store.Postings(ctx, "hello")
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, "email:d1", postings[0].Member)
	assert.InDelta(t, wantScore, postings[0].Score, 1e-9)

	res, err := eng.Search(ctx, "hello", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "d1", res.Hits[0].ID)
	assert.Equal(t, "email", res.Hits[0].Type)
	assert.InDelta(t, wantScore, res.Hits[0].Score, 1e-9)
	require.NotNil(t, res.Hits[0].Document)
	assert.Equal(t, content, res.Hits[0].Document.Content)

	// Filter mismatch drops the doc even though it scored.
	res, err = eng.Search(ctx, "hello", QueryOptions{Filters: map[string]string{"type": "marketing"}})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	res, err = eng.Search(ctx, "hello", QueryOptions{Filters: map[string]string{"type": "business"}})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 1)
}

func TestDeleteConsistency(t *testing.T) {
	store, locks := newTestIndex(t)
	ctx := context.Background()
	ix := NewIndexer(store, locks)
	eng := NewEngine(store)

	require.NoError(t, ix.Index(ctx, &Document{ID: "d1", Type: "email", Content: "Hello world hello"}))
	require.NoError(t, ix.Delete(ctx, "email", "d1"))

	postings, err := store.Postings(ctx, "hello")
	require.NoError(t, err)
	assert.Empty(t, postings)

	_, err = store.GetDocument(ctx, "email", "d1")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = store.GetMeta(ctx, "email", "d1")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	res, err := eng.Search(ctx, "hello", QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	// Deleting again is a no-op.
	assert.NoError(t, ix.Delete(ctx, "email", "d1"))
}

func TestIndexValidation(t *testing.T) {
	store, locks := newTestIndex(t)
	ix := NewIndexer(store, locks)
	ctx := context.Background()

	err := ix.Index(ctx, &Document{Type: "email", Content: "x y z"})
	assert.Equal(t, taskerr.Validation, taskerr.KindOf(err))

	err = ix.Index(ctx, &Document{ID: "d1", Type: "email", Content: "hola mundo", Language: "pt"})
	assert.Equal(t, taskerr.Validation, taskerr.KindOf(err))
	assert.True(t, taskerr.Fatal(err))
}

func TestIndexLockContention(t *testing.T) {
	store, locks := newTestIndex(t)
	ctx := context.Background()
	ix := NewIndexer(store, locks)

	_, err := locks.Acquire(ctx, lock.DocLock("d1"), lock.DocLockTTL)
	require.NoError(t, err)

	err = ix.Index(ctx, &Document{ID: "d1", Type: "email", Content: "contended document"})
	require.Error(t, err)
	assert.Equal(t, taskerr.LockContention, taskerr.KindOf(err))
	assert.False(t, taskerr.Fatal(err), "contention retries")
}

func TestReindexReplacesPostings(t *testing.T) {
	store, locks := newTestIndex(t)
	ctx := context.Background()
	ix := NewIndexer(store, locks)

	require.NoError(t, ix.Index(ctx, &Document{ID: "d1", Type: "email", Content: "quarterly budget numbers"}))
	require.NoError(t, ix.Reindex(ctx, &Document{ID: "d1", Type: "email", Content: "holiday schedule update"}))

	stale, err := store.Postings(ctx, "budget")
	require.NoError(t, err)
	assert.Empty(t, stale, "old terms removed on reindex")

	fresh, err := store.Postings(ctx, "holiday")
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "email:d1", fresh[0].Member)
}

func TestFuzzySearch(t *testing.T) {
	store, locks := newTestIndex(t)
	ctx := context.Background()
	ix := NewIndexer(store, locks)
	eng := NewEngine(store)

	require.NoError(t, ix.Index(ctx, &Document{ID: "d1", Type: "email", Content: "kubernetes deployment failed"}))

	exact, err := eng.Search(ctx, "kubernetez", QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, exact.Hits, "misspelling finds nothing without fuzzy")

	fuzzy, err := eng.Search(ctx, "kubernetez", QueryOptions{Fuzzy: true})
	require.NoError(t, err)
	require.Len(t, fuzzy.Hits, 1)
	assert.Equal(t, "d1", fuzzy.Hits[0].ID)

	// Fuzzy contribution is half-weighted against the exact score.
	direct, err := eng.Search(ctx, "kubernetes", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, direct.Hits, 1)
	assert.InDelta(t, direct.Hits[0].Score*0.5, fuzzy.Hits[0].Score, 1e-9)

	// An exact token is not double-counted by its own expansion.
	both, err := eng.Search(ctx, "kubernetes", QueryOptions{Fuzzy: true})
	require.NoError(t, err)
	require.Len(t, both.Hits, 1)
	assert.InDelta(t, direct.Hits[0].Score, both.Hits[0].Score, 1e-9)
}

func TestSearchPaginationAndHighlight(t *testing.T) {
	store, locks := newTestIndex(t)
	ctx := context.Background()
	ix := NewIndexer(store, locks)
	eng := NewEngine(store)

	// d-long repeats the term, so TF saturation still ranks it first.
	long := "meeting meeting meeting"
	require.NoError(t, ix.Index(ctx, &Document{ID: "d-long", Type: "email", Content: long}))
	require.NoError(t, ix.Index(ctx, &Document{ID: "d-a", Type: "email", Content: "meeting notes attached for review"}))
	require.NoError(t, ix.Index(ctx, &Document{ID: "d-b", Type: "email", Content: "please reschedule our meeting to another different timeslot"}))

	page1, err := eng.Search(ctx, "meeting", QueryOptions{Size: 2, Highlight: true})
	require.NoError(t, err)
	assert.Equal(t, 3, page1.Total)
	require.Len(t, page1.Hits, 2)
	assert.Equal(t, "d-long", page1.Hits[0].ID)
	assert.NotEmpty(t, page1.Hits[0].Highlight)

	page2, err := eng.Search(ctx, "meeting", QueryOptions{From: 2, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page2.Total)
	require.Len(t, page2.Hits, 1)

	ids := map[string]bool{page1.Hits[0].ID: true, page1.Hits[1].ID: true, page2.Hits[0].ID: true}
	assert.Len(t, ids, 3, "pages do not overlap")
}

func TestSearchMissingMetadataDropsDocUnderFilter(t *testing.T) {
	store, locks := newTestIndex(t)
	ctx := context.Background()
	ix := NewIndexer(store, locks)
	eng := NewEngine(store)

	require.NoError(t, ix.Index(ctx, &Document{ID: "d1", Type: "email", Content: "orphan metadata case"}))
	require.NoError(t, store.Store().HDel(ctx, kv.MetaKey("email"), "d1"))

	res, err := eng.Search(ctx, "orphan", QueryOptions{Filters: map[string]string{"type": "business"}})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	// Without filters the doc still scores.
	res, err = eng.Search(ctx, "orphan", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 1)
}

func TestChunkedIndexing(t *testing.T) {
	store, locks := newTestIndex(t)
	ctx := context.Background()
	ix := NewIndexer(store, locks)

	content := ""
	for i := 0; i < 250; i++ {
		content += "alpha beta gamma delta epsilon zeta eta theta iota kappa " // 57 chars
	}
	doc := &Document{ID: "big1", Type: "email", Content: content}

	var progress [][2]int
	require.NoError(t, ix.IndexChunked(ctx, doc, 1000, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	}))

	wantChunks := (len(content) + 999) / 1000
	require.Len(t, progress, wantChunks)
	assert.Equal(t, [2]int{1, wantChunks}, progress[0])
	assert.Equal(t, [2]int{wantChunks, wantChunks}, progress[len(progress)-1])

	raw, err := store.GetDocument(ctx, ChunkDocType, "big1_chunk_0")
	require.NoError(t, err)
	assert.Contains(t, raw, `"parent_id":"big1"`)

	n, err := store.DocumentCount(ctx, ChunkDocType)
	require.NoError(t, err)
	assert.Equal(t, int64(wantChunks), n)
}

func TestSplitChunks(t *testing.T) {
	chunks := SplitChunks("abcdefghij", 4)
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, chunks)
	assert.Nil(t, SplitChunks("", 4))
	assert.Len(t, SplitChunks("abc", 0), 1, "non-positive size falls back to the default")
}

func TestChunkVector(t *testing.T) {
	vec := ChunkVector("alpha beta alpha", LangEnglish)
	require.Len(t, vec, VectorDims)

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-9, "L2-normalized")

	// First-seen order: alpha twice, beta once.
	assert.Greater(t, vec[0], vec[1])
	assert.Zero(t, vec[2])

	empty := ChunkVector("", LangEnglish)
	require.Len(t, empty, VectorDims)
	assert.Zero(t, empty[0])
}
