package kv

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// IndexStore is the thin view of the substrate shared by the indexer, the
// query engine and the optimizer. Defining it once here keeps those three
// packages independent of each other.
type IndexStore struct {
	store Store
}

// NewIndexStore wraps a Store.
func NewIndexStore(store Store) *IndexStore {
	return &IndexStore{store: store}
}

// Store exposes the underlying substrate for callers that need primitives
// outside the index schema (locks, stats caching).
func (s *IndexStore) Store() Store { return s.store }

// DocRef is a "type:id" posting member.
func DocRef(docType, id string) string { return docType + ":" + id }

// SplitDocRef breaks a posting member back into type and id. The id may
// itself contain colons (chunk ids do not, but be permissive).
func SplitDocRef(ref string) (docType, id string, ok bool) {
	i := strings.Index(ref, ":")
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

// PutDocument writes the full document and its metadata in one pipelined
// batch.
func (s *IndexStore) PutDocument(ctx context.Context, docType, id, doc, meta string) error {
	pipe := s.store.Pipeline()
	pipe.HSet(DocKey(docType), id, doc)
	pipe.HSet(MetaKey(docType), id, meta)
	return pipe.Exec(ctx)
}

// GetDocument reads a full document.
func (s *IndexStore) GetDocument(ctx context.Context, docType, id string) (string, error) {
	return s.store.HGet(ctx, DocKey(docType), id)
}

// GetMeta reads document metadata.
func (s *IndexStore) GetMeta(ctx context.Context, docType, id string) (string, error) {
	return s.store.HGet(ctx, MetaKey(docType), id)
}

// AddPostings writes term scores for one document in a single batch.
func (s *IndexStore) AddPostings(ctx context.Context, docType, id string, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	ref := DocRef(docType, id)
	pipe := s.store.Pipeline()
	for term, score := range scores {
		pipe.ZAdd(PostingKey(term), Z{Score: score, Member: ref})
	}
	return pipe.Exec(ctx)
}

// RemoveDocument deletes the document from every given posting list and
// drops its doc and meta entries in one pipelined write.
func (s *IndexStore) RemoveDocument(ctx context.Context, docType, id string, terms []string) error {
	ref := DocRef(docType, id)
	pipe := s.store.Pipeline()
	for _, term := range terms {
		pipe.ZRem(PostingKey(term), ref)
	}
	pipe.HDel(DocKey(docType), id)
	pipe.HDel(MetaKey(docType), id)
	return pipe.Exec(ctx)
}

// Postings returns all members of a term's posting list with scores.
// A missing posting list is an empty result, not an error.
func (s *IndexStore) Postings(ctx context.Context, term string) ([]Z, error) {
	return s.store.ZRange(ctx, PostingKey(term), 0, -1, false)
}

// PostingCount returns the member count of a term's posting list.
func (s *IndexStore) PostingCount(ctx context.Context, term string) (int64, error) {
	return s.store.ZCard(ctx, PostingKey(term))
}

// ScanPostingTerms walks every posting key, invoking fn with batches of
// bare terms.
func (s *IndexStore) ScanPostingTerms(ctx context.Context, batch int64, fn func(terms []string) error) error {
	return s.store.Scan(ctx, "posting:*", batch, func(keys []string) error {
		terms := make([]string, 0, len(keys))
		for _, k := range keys {
			terms = append(terms, strings.TrimPrefix(k, "posting:"))
		}
		return fn(terms)
	})
}

// ScanMetaTypes walks every meta hash key, invoking fn with batches of
// document types.
func (s *IndexStore) ScanMetaTypes(ctx context.Context, batch int64, fn func(types []string) error) error {
	return s.store.Scan(ctx, "meta:*", batch, func(keys []string) error {
		types := make([]string, 0, len(keys))
		for _, k := range keys {
			types = append(types, strings.TrimPrefix(k, "meta:"))
		}
		return fn(types)
	})
}

// DocumentCount returns the number of indexed documents of one type.
func (s *IndexStore) DocumentCount(ctx context.Context, docType string) (int64, error) {
	return s.store.HLen(ctx, DocKey(docType))
}

// BumpCounter increments a short-lived metrics counter.
func (s *IndexStore) BumpCounter(ctx context.Context, name string, ttl time.Duration) error {
	key := MetricsKey(name)
	cur, err := s.store.Get(ctx, key)
	if err != nil && err != ErrNotFound {
		return err
	}
	n := int64(0)
	if cur != "" {
		fmt.Sscanf(cur, "%d", &n)
	}
	return s.store.Set(ctx, key, fmt.Sprintf("%d", n+1), ttl)
}
