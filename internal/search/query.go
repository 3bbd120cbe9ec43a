package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/kv"
)

const (
	// maxFuzzyDistance bounds the edit distance for fuzzy term expansion.
	maxFuzzyDistance = 2
	// fuzzyWeight discounts scores contributed by fuzzy-matched terms.
	fuzzyWeight = 0.5
	// vocabularyTTL bounds how stale the cached term list may get. Fuzzy
	// expansion reads the whole vocabulary, so it must not hit the KV on
	// every query.
	vocabularyTTL = time.Minute
	// highlightLen is the snippet length emitted for highlighted hits.
	highlightLen = 160
	// DefaultPageSize applies when QueryOptions.Size is unset.
	DefaultPageSize = 10
)

// QueryOptions tune a single search.
type QueryOptions struct {
	From      int
	Size      int
	Filters   map[string]string
	Highlight bool
	Fuzzy     bool
	Language  Language
}

// Hit is one scored search result.
type Hit struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Score     float64   `json:"score"`
	Document  *Document `json:"document,omitempty"`
	Highlight string    `json:"highlight,omitempty"`
}

// Result is a search response page.
type Result struct {
	Total int   `json:"total"`
	From  int   `json:"from"`
	Hits  []Hit `json:"hits"`
}

// Engine answers queries against the inverted index.
type Engine struct {
	store *kv.IndexStore
	now   func() time.Time

	mu        sync.Mutex
	vocab     []string
	vocabLoad time.Time
}

// NewEngine creates a query engine over the shared index store.
func NewEngine(store *kv.IndexStore) *Engine {
	return &Engine{store: store, now: time.Now}
}

// WithClock substitutes the time source (tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Search tokenizes the query, gathers postings (optionally fuzzy-expanded),
// sums scores per document, applies exact-match metadata filters, then pages
// and hydrates the survivors.
func (e *Engine) Search(ctx context.Context, query string, opts QueryOptions) (*Result, error) {
	if opts.Size <= 0 {
		opts.Size = DefaultPageSize
	}
	if opts.From < 0 {
		opts.From = 0
	}

	tokens := Tokenize(query, opts.Language)
	if len(tokens) == 0 {
		return &Result{From: opts.From, Hits: []Hit{}}, nil
	}

	scores, err := e.gather(ctx, tokens, opts.Fuzzy)
	if err != nil {
		return nil, err
	}

	survivors, err := e.filter(ctx, scores, opts.Filters)
	if err != nil {
		return nil, err
	}

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].Score != survivors[j].Score {
			return survivors[i].Score > survivors[j].Score
		}
		return survivors[i].ID < survivors[j].ID
	})

	total := len(survivors)
	page := paginate(survivors, opts.From, opts.Size)
	for i := range page {
		doc, err := e.hydrate(ctx, page[i].Type, page[i].ID)
		if err != nil {
			debug.Logf("search: dropping unreadable hit %s:%s: %v\n", page[i].Type, page[i].ID, err)
			continue
		}
		page[i].Document = doc
		if opts.Highlight {
			page[i].Highlight = snippet(doc.Content, highlightLen)
		}
	}
	return &Result{Total: total, From: opts.From, Hits: page}, nil
}

// gather sums posting scores per doc ref across all query tokens. Fuzzy
// expansion adds near-miss terms at half weight; an exact token is never
// double-counted by its own fuzzy expansion.
func (e *Engine) gather(ctx context.Context, tokens []string, fuzzy bool) (map[string]float64, error) {
	weights := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		weights[tok] = 1.0
	}
	if fuzzy {
		vocab, err := e.vocabulary(ctx)
		if err != nil {
			return nil, err
		}
		for _, term := range vocab {
			if _, exact := weights[term]; exact {
				continue
			}
			for _, tok := range tokens {
				if levenshtein.ComputeDistance(tok, term) <= maxFuzzyDistance {
					weights[term] = fuzzyWeight
					break
				}
			}
		}
	}

	scores := make(map[string]float64)
	for term, weight := range weights {
		postings, err := e.store.Postings(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("postings for %q: %w", term, err)
		}
		for _, z := range postings {
			scores[z.Member] += z.Score * weight
		}
	}
	return scores, nil
}

// filter keeps docs whose metadata matches every filter exactly. A doc with
// missing metadata matches no filter; malformed metadata is logged and the
// doc is dropped.
func (e *Engine) filter(ctx context.Context, scores map[string]float64, filters map[string]string) ([]Hit, error) {
	hits := make([]Hit, 0, len(scores))
	for ref, score := range scores {
		docType, id, ok := kv.SplitDocRef(ref)
		if !ok {
			debug.Logf("search: skipping malformed posting member %q\n", ref)
			continue
		}
		if len(filters) > 0 {
			match, err := e.metaMatches(ctx, docType, id, filters)
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		hits = append(hits, Hit{ID: id, Type: docType, Score: score})
	}
	return hits, nil
}

func (e *Engine) metaMatches(ctx context.Context, docType, id string, filters map[string]string) (bool, error) {
	raw, err := e.store.GetMeta(ctx, docType, id)
	if err == kv.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		debug.Logf("search: malformed metadata for %s:%s, dropping: %v\n", docType, id, err)
		return false, nil
	}
	for field, want := range filters {
		got, present := meta[field]
		if !present || fmt.Sprint(got) != want {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) hydrate(ctx context.Context, docType, id string) (*Document, error) {
	raw, err := e.store.GetDocument(ctx, docType, id)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("malformed stored document: %w", err)
	}
	return &doc, nil
}

// vocabulary returns the full term list, refreshed from a posting-key scan
// at most once per vocabularyTTL.
func (e *Engine) vocabulary(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.vocab != nil && e.now().Sub(e.vocabLoad) < vocabularyTTL {
		return e.vocab, nil
	}

	terms := make([]string, 0, len(e.vocab))
	err := e.store.ScanPostingTerms(ctx, 1000, func(batch []string) error {
		terms = append(terms, batch...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vocabulary scan: %w", err)
	}
	e.vocab = terms
	e.vocabLoad = e.now()
	debug.Logf("search: vocabulary cache refreshed, %d term(s)\n", len(terms))
	return terms, nil
}

// InvalidateVocabulary drops the cached term list. The optimizer calls this
// after deleting postings.
func (e *Engine) InvalidateVocabulary() {
	e.mu.Lock()
	e.vocab = nil
	e.mu.Unlock()
}

func paginate(hits []Hit, from, size int) []Hit {
	if from >= len(hits) {
		return []Hit{}
	}
	end := from + size
	if end > len(hits) {
		end = len(hits)
	}
	page := make([]Hit, end-from)
	copy(page, hits[from:end])
	return page
}

// snippet truncates content to at most n runes with an ellipsis.
func snippet(content string, n int) string {
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n]) + "..."
}
