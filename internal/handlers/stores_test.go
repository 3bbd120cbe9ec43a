package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailworks/mailworks/internal/kv"
)

func newKVStore(t *testing.T) kv.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := kv.NewRedisFromClient(client)
	require.NoError(t, err)
	return store
}

func TestKVDocumentStoreEmailRoundTrip(t *testing.T) {
	docs := NewKVDocumentStore(newKVStore(t))
	ctx := context.Background()

	missing, err := docs.GetEmailByMessageID(ctx, "<nope@example.com>")
	require.NoError(t, err)
	assert.Nil(t, missing)

	email := &Email{
		ID:        "em-1",
		MessageID: "<m1@example.com>",
		From:      "alice@example.com",
		To:        []string{"bob@example.com"},
		Subject:   "Quarterly report",
	}
	require.NoError(t, docs.PutEmail(ctx, email))

	got, err := docs.GetEmailByMessageID(ctx, "<m1@example.com>")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "em-1", got.ID)
	assert.Equal(t, "Quarterly report", got.Subject)
}

func TestKVDocumentStoreThreadLookupByMessageID(t *testing.T) {
	docs := NewKVDocumentStore(newKVStore(t))
	ctx := context.Background()

	thread := &Thread{
		ID:         "th-1",
		Subject:    "planning",
		MessageIDs: []string{"<a@x>", "<b@x>"},
	}
	require.NoError(t, docs.PutThread(ctx, thread))

	// Any message id in the chain resolves the thread.
	found, err := docs.FindThreadByMessageIDs(ctx, []string{"<unknown@x>", "<b@x>"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "th-1", found.ID)

	none, err := docs.FindThreadByMessageIDs(ctx, []string{"<unknown@x>"})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestKVDocumentStoreAnalyticsPruning(t *testing.T) {
	docs := NewKVDocumentStore(newKVStore(t))
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		end := base.AddDate(0, 0, i)
		require.NoError(t, docs.PutAnalytics(ctx, &AnalyticsRecord{
			ID:    end.Format("analytics_20060102"),
			Start: end.Add(-24 * time.Hour),
			End:   end,
		}))
	}

	cutoff := base.AddDate(0, 0, 2)
	counted, err := docs.DeleteAnalyticsBefore(ctx, cutoff, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counted, "dry run counts without deleting")

	deleted, err := docs.DeleteAnalyticsBefore(ctx, cutoff, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	again, err := docs.DeleteAnalyticsBefore(ctx, cutoff, false)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestFSBlobStoreRoundTrip(t *testing.T) {
	blobs, err := NewFSBlobStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	body := []byte("%PDF-1.4 fake")
	require.NoError(t, blobs.Put(ctx, "attachments/u1/report.pdf", body, "application/pdf", map[string]string{"email_id": "em-1"}))

	got, meta, err := blobs.Get(ctx, "attachments/u1/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, "application/pdf", meta.ContentType)
	assert.Equal(t, int64(len(body)), meta.Size)
	assert.Equal(t, "em-1", meta.CustomMetadata["email_id"])

	_, _, err = blobs.Get(ctx, "attachments/u1/missing.pdf")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFSBlobStoreListByPrefix(t *testing.T) {
	blobs, err := NewFSBlobStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, blobs.Put(ctx, "attachments/a/x.txt", []byte("x"), "text/plain", nil))
	require.NoError(t, blobs.Put(ctx, "attachments/b/y.txt", []byte("y"), "text/plain", nil))
	require.NoError(t, blobs.Put(ctx, "exports/z.txt", []byte("z"), "text/plain", nil))

	var keys []string
	require.NoError(t, blobs.List(ctx, "attachments/", func(metas []BlobMeta) error {
		for _, m := range metas {
			keys = append(keys, m.Key)
		}
		return nil
	}))
	assert.ElementsMatch(t, []string{"attachments/a/x.txt", "attachments/b/y.txt"}, keys)

	require.NoError(t, blobs.Delete(ctx, "attachments/a/x.txt"))
	_, err = blobs.Head(ctx, "attachments/a/x.txt")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestKVNotificationGatewayPrefs(t *testing.T) {
	store := newKVStore(t)
	gw := NewKVNotificationGateway(store)
	ctx := context.Background()

	prefs, err := gw.Prefs(ctx, "u-1")
	require.NoError(t, err)
	assert.Nil(t, prefs, "unknown user has no preferences")

	require.NoError(t, store.HSet(ctx, keyNotifyPrefs, "u-1",
		`{"Channels":{"email":true},"QuietStart":"22:00","QuietEnd":"07:00","Timezone":"UTC"}`))
	prefs, err = gw.Prefs(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, prefs)
	assert.True(t, prefs.Channels["email"])
	assert.Equal(t, "22:00", prefs.QuietStart)
}
