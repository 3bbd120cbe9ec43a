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
)

const (
	// optimizeBatch is how many items each pass touches between pauses.
	optimizeBatch = 50
	// optimizePause throttles the passes between batches.
	optimizePause = 100 * time.Millisecond
	// scanBatch sizes the key scans feeding the passes.
	scanBatch = 1000
	// maxMetaStringLen truncates oversized metadata string values.
	maxMetaStringLen = 1000
)

// OptimizeReport summarizes one maintenance run.
type OptimizeReport struct {
	Skipped           bool `json:"skipped"`
	EmptyPostings     int  `json:"empty_postings_removed"`
	PostingsRescored  int  `json:"postings_rescored"`
	MetadataOptimized int  `json:"metadata_optimized"`
}

// Optimizer runs the index maintenance passes.
type Optimizer struct {
	store *kv.IndexStore
	locks *lock.Manager
	pause func(ctx context.Context, d time.Duration)
}

// NewOptimizer creates an Optimizer over the shared index store.
func NewOptimizer(store *kv.IndexStore, locks *lock.Manager) *Optimizer {
	return &Optimizer{
		store: store,
		locks: locks,
		pause: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
	}
}

// WithPause substitutes the inter-batch throttle (tests).
func (o *Optimizer) WithPause(pause func(ctx context.Context, d time.Duration)) *Optimizer {
	o.pause = pause
	return o
}

// Optimize runs the three maintenance passes under the global optimization
// lock. When another node holds the lock the run is skipped, not failed.
func (o *Optimizer) Optimize(ctx context.Context) (*OptimizeReport, error) {
	report := &OptimizeReport{}
	err := o.locks.WithLock(ctx, lock.OptimizerLock, lock.OptimizerTTL, func(ctx context.Context) error {
		var err error
		if report.EmptyPostings, err = o.cleanupEmptyPostings(ctx); err != nil {
			return fmt.Errorf("cleanup postings: %w", err)
		}
		if report.PostingsRescored, err = o.recomputeScores(ctx); err != nil {
			return fmt.Errorf("recompute scores: %w", err)
		}
		if report.MetadataOptimized, err = o.optimizeMetadata(ctx); err != nil {
			return fmt.Errorf("optimize metadata: %w", err)
		}
		return nil
	})
	if err == lock.ErrHeld {
		debug.Logf("search: optimization skipped, lock held elsewhere\n")
		report.Skipped = true
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	debug.Logf("search: optimization done: -%d empty, %d rescored, %d meta\n",
		report.EmptyPostings, report.PostingsRescored, report.MetadataOptimized)
	return report, nil
}

// eachBatch walks items in optimizeBatch-sized slices with a pause between
// them, checking cancellation at every boundary.
func (o *Optimizer) eachBatch(ctx context.Context, items []string, fn func(item string) error) error {
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && i%optimizeBatch == 0 {
			o.pause(ctx, optimizePause)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// cleanupEmptyPostings deletes posting lists with zero members.
func (o *Optimizer) cleanupEmptyPostings(ctx context.Context) (int, error) {
	var terms []string
	if err := o.store.ScanPostingTerms(ctx, scanBatch, func(batch []string) error {
		terms = append(terms, batch...)
		return nil
	}); err != nil {
		return 0, err
	}

	removed := 0
	err := o.eachBatch(ctx, terms, func(term string) error {
		n, err := o.store.PostingCount(ctx, term)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		pipe := o.store.Store().Pipeline()
		pipe.Del(kv.PostingKey(term))
		if err := pipe.Exec(ctx); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// recomputeScores recalibrates every posting: with n members and
// idf = log(n+1), each member's score becomes (score/n)*idf. Running the
// pass twice over an unchanged index is not a further change only when
// n stays fixed, so it runs under the same lock as the other passes.
func (o *Optimizer) recomputeScores(ctx context.Context) (int, error) {
	var terms []string
	if err := o.store.ScanPostingTerms(ctx, scanBatch, func(batch []string) error {
		terms = append(terms, batch...)
		return nil
	}); err != nil {
		return 0, err
	}

	rescored := 0
	err := o.eachBatch(ctx, terms, func(term string) error {
		postings, err := o.store.Postings(ctx, term)
		if err != nil {
			return err
		}
		if len(postings) == 0 {
			return nil
		}
		n := float64(len(postings))
		idf := math.Log(n + 1)
		pipe := o.store.Store().Pipeline()
		for _, z := range postings {
			pipe.ZAdd(kv.PostingKey(term), kv.Z{Score: (z.Score / n) * idf, Member: z.Member})
		}
		if err := pipe.Exec(ctx); err != nil {
			return err
		}
		rescored++
		return nil
	})
	return rescored, err
}

// optimizeMetadata strips null fields and truncates oversized string values
// in every metadata entry. Each rewritten hash field is deleted then re-set
// in one pipelined batch.
func (o *Optimizer) optimizeMetadata(ctx context.Context) (int, error) {
	var docTypes []string
	if err := o.store.ScanMetaTypes(ctx, scanBatch, func(batch []string) error {
		docTypes = append(docTypes, batch...)
		return nil
	}); err != nil {
		return 0, err
	}

	optimized := 0
	err := o.eachBatch(ctx, docTypes, func(docType string) error {
		entries, err := o.store.Store().HGetAll(ctx, kv.MetaKey(docType))
		if err != nil {
			return err
		}
		for id, raw := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			cleaned, changed := cleanMetadata(raw)
			if !changed {
				continue
			}
			pipe := o.store.Store().Pipeline()
			pipe.HDel(kv.MetaKey(docType), id)
			pipe.HSet(kv.MetaKey(docType), id, cleaned)
			if err := pipe.Exec(ctx); err != nil {
				return err
			}
			optimized++
		}
		return nil
	})
	return optimized, err
}

// cleanMetadata drops null values and ellipsizes long strings. Malformed
// entries are left untouched.
func cleanMetadata(raw string) (string, bool) {
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		debug.Logf("search: leaving malformed metadata as-is: %v\n", err)
		return raw, false
	}
	changed := false
	for k, v := range meta {
		if v == nil {
			delete(meta, k)
			changed = true
			continue
		}
		if s, ok := v.(string); ok && len(s) > maxMetaStringLen {
			meta[k] = s[:maxMetaStringLen] + "..."
			changed = true
		}
	}
	if !changed {
		return raw, false
	}
	cleaned, err := json.Marshal(meta)
	if err != nil {
		return raw, false
	}
	return string(cleaned), true
}
