package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/lock"
	"github.com/mailworks/mailworks/internal/taskerr"
)

const (
	// DefaultChunkSize is the fixed slice length for chunked indexing.
	DefaultChunkSize = 1000
	// ChunkDocType marks synthetic chunk documents in the index.
	ChunkDocType = "document_chunk"
	// VectorDims is the fixed dimensionality of chunk vectors.
	VectorDims = 1536
)

// Document is the unit of indexing.
type Document struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Language Language       `json:"language,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Vector is populated on chunk documents only: a bag-of-words
	// frequency vector over the chunk, fixed-width and L2-normalized.
	Vector []float64 `json:"vector,omitempty"`
}

// Score is the per-term posting weight: TF saturation via log(1+f), length
// normalization via 1/sqrt(len(content)). Stable across re-indexing.
func Score(freq, contentLen int) float64 {
	if freq <= 0 || contentLen <= 0 {
		return 0
	}
	return math.Log(1+float64(freq)) / math.Sqrt(float64(contentLen))
}

// Indexer writes documents into the inverted index.
type Indexer struct {
	store *kv.IndexStore
	locks *lock.Manager
	now   func() time.Time
}

// NewIndexer creates an Indexer over the shared index store.
func NewIndexer(store *kv.IndexStore, locks *lock.Manager) *Indexer {
	return &Indexer{store: store, locks: locks, now: time.Now}
}

// WithClock substitutes the time source (tests).
func (ix *Indexer) WithClock(now func() time.Time) *Indexer {
	ix.now = now
	return ix
}

func (ix *Indexer) validate(doc *Document) error {
	if doc.ID == "" || doc.Type == "" {
		return taskerr.Newf(taskerr.Validation, "document id and type are required")
	}
	if doc.Content == "" {
		return taskerr.Newf(taskerr.Validation, "document %s has no content", doc.ID)
	}
	if doc.Language != "" && !doc.Language.Valid() {
		return taskerr.Newf(taskerr.Validation, "unsupported language %q", doc.Language)
	}
	return nil
}

// Index writes one document: full record, postings scored per term, merged
// metadata with a lastIndexed stamp, and the indexed-documents counter. The
// whole sequence runs under the per-document lock; contention is surfaced
// as retryable so the caller's task comes back later.
func (ix *Indexer) Index(ctx context.Context, doc *Document) error {
	if err := ix.validate(doc); err != nil {
		return err
	}
	err := ix.locks.WithLock(ctx, lock.DocLock(doc.ID), lock.DocLockTTL, func(ctx context.Context) error {
		return ix.indexLocked(ctx, doc)
	})
	if err == lock.ErrHeld {
		return taskerr.Newf(taskerr.LockContention, "document %s is being indexed elsewhere", doc.ID)
	}
	return err
}

func (ix *Indexer) indexLocked(ctx context.Context, doc *Document) error {
	docRaw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}

	meta := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["lastIndexed"] = ix.now().UTC().UnixMilli()
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata %s: %w", doc.ID, err)
	}

	if err := ix.store.PutDocument(ctx, doc.Type, doc.ID, string(docRaw), string(metaRaw)); err != nil {
		return taskerr.New(taskerr.Transient, err)
	}

	tf := TermFrequencies(doc.Content, doc.Language)
	scores := make(map[string]float64, len(tf))
	for term, freq := range tf {
		scores[term] = Score(freq, len(doc.Content))
	}
	if err := ix.store.AddPostings(ctx, doc.Type, doc.ID, scores); err != nil {
		return taskerr.New(taskerr.Transient, err)
	}

	if err := ix.store.BumpCounter(ctx, "documents_indexed", time.Hour); err != nil {
		debug.Logf("search: counter bump failed for %s: %v\n", doc.ID, err)
	}
	debug.Logf("search: indexed %s:%s terms=%d\n", doc.Type, doc.ID, len(scores))
	return nil
}

// Delete removes a document: its ref leaves every posting for its unique
// terms, then doc and meta entries drop, all in one pipelined write.
// Deleting an unknown document is a no-op.
func (ix *Indexer) Delete(ctx context.Context, docType, id string) error {
	raw, err := ix.store.GetDocument(ctx, docType, id)
	if err == kv.ErrNotFound {
		return nil
	}
	if err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return taskerr.Newf(taskerr.Integrity, "malformed stored document %s:%s: %v", docType, id, err)
	}

	terms := UniqueTerms(doc.Content, doc.Language)
	if err := ix.store.RemoveDocument(ctx, docType, id, terms); err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	debug.Logf("search: deleted %s:%s terms=%d\n", docType, id, len(terms))
	return nil
}

// Reindex replaces a document's index entries under one lock hold: delete
// the stored version, then index the new one.
func (ix *Indexer) Reindex(ctx context.Context, doc *Document) error {
	if err := ix.validate(doc); err != nil {
		return err
	}
	err := ix.locks.WithLock(ctx, lock.DocLock(doc.ID), lock.DocLockTTL, func(ctx context.Context) error {
		if err := ix.Delete(ctx, doc.Type, doc.ID); err != nil {
			return err
		}
		return ix.indexLocked(ctx, doc)
	})
	if err == lock.ErrHeld {
		return taskerr.Newf(taskerr.LockContention, "document %s is being indexed elsewhere", doc.ID)
	}
	return err
}

// SplitChunks slices content into fixed-size pieces. The final chunk keeps
// the remainder.
func SplitChunks(content string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if content == "" {
		return nil
	}
	chunks := make([]string, 0, len(content)/size+1)
	for start := 0; start < len(content); start += size {
		end := start + size
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, content[start:end])
	}
	return chunks
}

// ChunkVector builds the dense representation of one chunk: term counts in
// first-seen order, truncated or zero-padded to VectorDims, L2-normalized.
func ChunkVector(content string, lang Language) []float64 {
	vec := make([]float64, VectorDims)
	seen := make(map[string]int)
	next := 0
	for _, tok := range Tokenize(content, lang) {
		slot, ok := seen[tok]
		if !ok {
			if next >= VectorDims {
				continue
			}
			slot = next
			seen[tok] = slot
			next++
		}
		vec[slot]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// IndexChunked splits a long document into fixed-size chunks and indexes
// each as a synthetic document_chunk carrying its dense vector. progress,
// when non-nil, is called after every chunk with done and total counts.
func (ix *Indexer) IndexChunked(ctx context.Context, doc *Document, chunkSize int, progress func(done, total int)) error {
	if err := ix.validate(doc); err != nil {
		return err
	}
	chunks := SplitChunks(doc.Content, chunkSize)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunkDoc := &Document{
			ID:       fmt.Sprintf("%s_chunk_%d", doc.ID, i),
			Type:     ChunkDocType,
			Content:  chunk,
			Language: doc.Language,
			Metadata: map[string]any{
				"parent_id":   doc.ID,
				"parent_type": doc.Type,
				"position":    i,
			},
			Vector: ChunkVector(chunk, doc.Language),
		}
		if err := ix.Index(ctx, chunkDoc); err != nil {
			return fmt.Errorf("chunk %d/%d of %s: %w", i+1, len(chunks), doc.ID, err)
		}
		if progress != nil {
			progress(i+1, len(chunks))
		}
	}
	return nil
}
