package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/types"
)

// KV document store layout. Emails and threads live in hashes for random
// access; analytics ids sit in a zset scored by window end so age-based
// pruning is a range query.
const (
	keyEmails          = "docs:emails"           // message_id -> email json
	keyThreads         = "docs:threads"          // thread_id -> thread json
	keyThreadByMessage = "docs:threads:by_msg"   // message_id -> thread_id
	keyAnalytics       = "docs:analytics"        // zset: id scored by window end ms
	keyAnalyticsRecs   = "docs:analytics:record" // id -> record json
)

// KVDocumentStore keeps emails, threads and analytics windows in the KV
// substrate. It is the store mwd serve runs with out of the box; deployments
// with an external document database implement DocumentStore against that
// instead.
type KVDocumentStore struct {
	store kv.Store
}

// NewKVDocumentStore creates a document store over the substrate.
func NewKVDocumentStore(store kv.Store) *KVDocumentStore {
	return &KVDocumentStore{store: store}
}

func (d *KVDocumentStore) GetEmailByMessageID(ctx context.Context, messageID string) (*Email, error) {
	raw, err := d.store.HGet(ctx, keyEmails, messageID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var email Email
	if err := json.Unmarshal([]byte(raw), &email); err != nil {
		return nil, fmt.Errorf("decode email %s: %w", messageID, err)
	}
	return &email, nil
}

func (d *KVDocumentStore) PutEmail(ctx context.Context, email *Email) error {
	raw, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("encode email %s: %w", email.ID, err)
	}
	return d.store.HSet(ctx, keyEmails, email.MessageID, string(raw))
}

func (d *KVDocumentStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	raw, err := d.store.HGet(ctx, keyThreads, id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var thread Thread
	if err := json.Unmarshal([]byte(raw), &thread); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", id, err)
	}
	return &thread, nil
}

func (d *KVDocumentStore) FindThreadByMessageIDs(ctx context.Context, messageIDs []string) (*Thread, error) {
	for _, mid := range messageIDs {
		threadID, err := d.store.HGet(ctx, keyThreadByMessage, mid)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return d.GetThread(ctx, threadID)
	}
	return nil, nil
}

func (d *KVDocumentStore) PutThread(ctx context.Context, thread *Thread) error {
	raw, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", thread.ID, err)
	}
	pipe := d.store.Pipeline()
	pipe.HSet(keyThreads, thread.ID, string(raw))
	for _, mid := range thread.MessageIDs {
		pipe.HSet(keyThreadByMessage, mid, thread.ID)
	}
	return pipe.Exec(ctx)
}

func (d *KVDocumentStore) PutAnalytics(ctx context.Context, rec *AnalyticsRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode analytics %s: %w", rec.ID, err)
	}
	pipe := d.store.Pipeline()
	pipe.ZAdd(keyAnalytics, kv.Z{Score: float64(rec.End.UnixMilli()), Member: rec.ID})
	pipe.HSet(keyAnalyticsRecs, rec.ID, string(raw))
	return pipe.Exec(ctx)
}

// CountEventsInRange derives event counts from the task status hash: each
// status record whose last attempt falls inside [start, end) counts toward
// its status bucket.
func (d *KVDocumentStore) CountEventsInRange(ctx context.Context, start, end time.Time) (map[string]int64, error) {
	records, err := d.store.HGetAll(ctx, kv.KeyStatus)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for id, raw := range records {
		var rec types.StatusRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode status %s: %w", id, err)
		}
		at := rec.LastAttemptAt
		if rec.CompletedAt != nil {
			at = rec.CompletedAt
		}
		if at == nil || at.Before(start) || !at.Before(end) {
			continue
		}
		counts["tasks_"+string(rec.Status)]++
	}
	return counts, nil
}

func (d *KVDocumentStore) DeleteAnalyticsBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	old, err := d.store.ZRangeByScore(ctx, keyAnalytics, kv.NegInf, float64(cutoff.UnixMilli()-1), 0, -1)
	if err != nil {
		return 0, err
	}
	if dryRun || len(old) == 0 {
		return int64(len(old)), nil
	}
	pipe := d.store.Pipeline()
	for _, z := range old {
		pipe.ZRem(keyAnalytics, z.Member)
		pipe.HDel(keyAnalyticsRecs, z.Member)
	}
	if err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int64(len(old)), nil
}

func (d *KVDocumentStore) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}
