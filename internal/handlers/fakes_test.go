package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/lock"
	"github.com/mailworks/mailworks/internal/queue"
	"github.com/mailworks/mailworks/internal/search"
)

type fakeDocs struct {
	mu        sync.Mutex
	emails    map[string]*Email // keyed by message id
	threads   map[string]*Thread
	analytics map[string]*AnalyticsRecord
	events    map[string]int64
	failing   bool
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		emails:    map[string]*Email{},
		threads:   map[string]*Thread{},
		analytics: map[string]*AnalyticsRecord{},
		events:    map[string]int64{},
	}
}

var errFakeDown = errors.New("store unavailable")

func (f *fakeDocs) GetEmailByMessageID(_ context.Context, messageID string) (*Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errFakeDown
	}
	return f.emails[messageID], nil
}

func (f *fakeDocs) PutEmail(_ context.Context, email *Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errFakeDown
	}
	f.emails[email.MessageID] = email
	return nil
}

func (f *fakeDocs) GetThread(_ context.Context, id string) (*Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errFakeDown
	}
	return f.threads[id], nil
}

func (f *fakeDocs) FindThreadByMessageIDs(_ context.Context, messageIDs []string) (*Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errFakeDown
	}
	for _, thread := range f.threads {
		for _, have := range thread.MessageIDs {
			for _, want := range messageIDs {
				if have == want {
					return thread, nil
				}
			}
		}
	}
	return nil, nil
}

func (f *fakeDocs) PutThread(_ context.Context, thread *Thread) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errFakeDown
	}
	f.threads[thread.ID] = thread
	return nil
}

func (f *fakeDocs) PutAnalytics(_ context.Context, rec *AnalyticsRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analytics[rec.ID] = rec
	return nil
}

func (f *fakeDocs) CountEventsInRange(_ context.Context, _, _ time.Time) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errFakeDown
	}
	out := make(map[string]int64, len(f.events))
	for k, v := range f.events {
		out[k] = v
	}
	return out, nil
}

func (f *fakeDocs) DeleteAnalyticsBefore(_ context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, rec := range f.analytics {
		if rec.GeneratedAt.Before(cutoff) {
			n++
			if !dryRun {
				delete(f.analytics, id)
			}
		}
	}
	return n, nil
}

func (f *fakeDocs) Ping(context.Context) error {
	if f.failing {
		return errFakeDown
	}
	return nil
}

type fakeBlob struct {
	body []byte
	meta BlobMeta
}

type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string]fakeBlob
	now   time.Time
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: map[string]fakeBlob{}, now: time.Now()}
}

func (f *fakeBlobs) Put(_ context.Context, key string, body []byte, contentType string, customMetadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = fakeBlob{body: body, meta: BlobMeta{
		Key:            key,
		Size:           int64(len(body)),
		Uploaded:       f.now,
		ContentType:    contentType,
		CustomMetadata: customMetadata,
	}}
	return nil
}

func (f *fakeBlobs) putAged(key string, body []byte, uploaded time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = fakeBlob{body: body, meta: BlobMeta{Key: key, Size: int64(len(body)), Uploaded: uploaded}}
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, *BlobMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.blobs[key]
	if !ok {
		return nil, nil, errors.New("no such blob: " + key)
	}
	meta := blob.meta
	return blob.body, &meta, nil
}

func (f *fakeBlobs) Head(_ context.Context, key string) (*BlobMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.blobs[key]
	if !ok {
		return nil, errors.New("no such blob: " + key)
	}
	meta := blob.meta
	return &meta, nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	return nil
}

func (f *fakeBlobs) List(_ context.Context, prefix string, fn func(metas []BlobMeta) error) error {
	f.mu.Lock()
	var metas []BlobMeta
	for key, blob := range f.blobs {
		if strings.HasPrefix(key, prefix) {
			metas = append(metas, blob.meta)
		}
	}
	f.mu.Unlock()
	sort.Slice(metas, func(i, j int) bool { return metas[i].Key < metas[j].Key })
	return fn(metas)
}

func (f *fakeBlobs) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.blobs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type fakeMail struct {
	mu   sync.Mutex
	sent []*OutboundMessage
	err  error
}

func (f *fakeMail) Send(_ context.Context, msg *OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type delivery struct {
	UserID, Channel, Title, Body string
	Data                         map[string]string
}

type fakeNotifier struct {
	mu        sync.Mutex
	prefs     map[string]*UserPrefs
	delivered []delivery
	err       error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{prefs: map[string]*UserPrefs{}}
}

func (f *fakeNotifier) Prefs(_ context.Context, userID string) (*UserPrefs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs[userID], nil
}

func (f *fakeNotifier) Deliver(_ context.Context, userID, channel, title, body string, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, delivery{userID, channel, title, body, data})
	return nil
}

type testEnv struct {
	env      *Env
	docs     *fakeDocs
	blobs    *fakeBlobs
	mail     *fakeMail
	notifier *fakeNotifier
	sched    *queue.Scheduler
	store    kv.Store
	index    *kv.IndexStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := kv.NewRedisFromClient(client)
	require.NoError(t, err)

	docs := newFakeDocs()
	blobs := newFakeBlobs()
	mail := &fakeMail{}
	notifier := newFakeNotifier()
	sched := queue.New(store)
	locks := lock.NewManager(store)
	indexStore := kv.NewIndexStore(store)
	indexer := search.NewIndexer(indexStore, locks)

	env := NewEnv(docs, blobs, mail, notifier, sched, indexer, locks, store, Settings{
		FromAddress: "noreply@mailworks.example",
		FromName:    "Mailworks",
		EmailDomain: "mailworks.example",
	})
	return &testEnv{env: env, docs: docs, blobs: blobs, mail: mail, notifier: notifier, sched: sched, store: store, index: indexStore}
}
