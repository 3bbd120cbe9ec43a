package handlers

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/taskerr"
	"github.com/mailworks/mailworks/internal/types"
)

// CleanupStats is the per-run tally, persisted to a short-lived metrics
// key so operators can inspect the last sweep.
type CleanupStats struct {
	BlobsDeleted     int64     `json:"blobs_deleted"`
	CacheKeysDeleted int64     `json:"cache_keys_deleted"`
	AnalyticsDeleted int64     `json:"analytics_deleted"`
	BytesReclaimed   int64     `json:"bytes_reclaimed"`
	DryRun           bool      `json:"dry_run"`
	Cutoff           time.Time `json:"cutoff"`
}

// CleanupStorage deletes blobs, cache keys and analytics records older
// than the cutoff. Exclude patterns win over the selected types; a dry run
// tallies without deleting. Idempotent: nothing newer than the cutoff is
// ever touched.
type CleanupStorage struct {
	env *Env
}

func (h *CleanupStorage) Kind() types.TaskKind { return types.KindCleanupStorage }

func (h *CleanupStorage) Handle(ctx context.Context, task *types.Task) error {
	var p types.CleanupStoragePayload
	if err := types.DecodePayload(task.Payload, &p); err != nil {
		return taskerr.New(taskerr.Validation, err)
	}

	cutoff := h.env.now().UTC().AddDate(0, 0, -p.OlderThanDays)
	stats := &CleanupStats{DryRun: p.DryRun, Cutoff: cutoff}

	targets := p.Types
	if len(targets) == 0 {
		targets = []string{"blobs", "cache", "analytics"}
	}
	for _, target := range targets {
		var err error
		switch target {
		case "blobs":
			err = h.cleanBlobs(ctx, &p, cutoff, stats)
		case "cache":
			err = h.cleanCache(ctx, &p, stats)
		case "analytics":
			stats.AnalyticsDeleted, err = h.env.Docs.DeleteAnalyticsBefore(ctx, cutoff, p.DryRun)
		default:
			return taskerr.Newf(taskerr.Validation, "cleanup_storage: unknown type %q", target)
		}
		if err != nil {
			return taskerr.New(taskerr.Transient, err)
		}
	}

	if raw, err := json.Marshal(stats); err == nil {
		if err := h.env.Store.Set(ctx, kv.MetricsKey("cleanup:last"), string(raw), time.Hour); err != nil {
			debug.Logf("handlers: persisting cleanup stats failed: %v\n", err)
		}
	}
	debug.Logf("handlers: cleanup dry_run=%t blobs=%d cache=%d analytics=%d bytes=%d\n",
		p.DryRun, stats.BlobsDeleted, stats.CacheKeysDeleted, stats.AnalyticsDeleted, stats.BytesReclaimed)
	return nil
}

func (h *CleanupStorage) cleanBlobs(ctx context.Context, p *types.CleanupStoragePayload, cutoff time.Time, stats *CleanupStats) error {
	var doomed []BlobMeta
	err := h.env.Blobs.List(ctx, "", func(metas []BlobMeta) error {
		for _, meta := range metas {
			if !meta.Uploaded.Before(cutoff) {
				continue
			}
			if excluded(meta.Key, p.ExcludePatterns) {
				continue
			}
			doomed = append(doomed, meta)
		}
		return ctx.Err()
	})
	if err != nil {
		return err
	}

	for _, meta := range doomed {
		if !p.DryRun {
			if err := h.env.Blobs.Delete(ctx, meta.Key); err != nil {
				return err
			}
		}
		stats.BlobsDeleted++
		stats.BytesReclaimed += meta.Size
	}
	return nil
}

// cleanCache sweeps expendable metrics keys. Their age is not tracked, so
// the cutoff does not apply; they are rebuilt on demand.
func (h *CleanupStorage) cleanCache(ctx context.Context, p *types.CleanupStoragePayload, stats *CleanupStats) error {
	return h.env.Store.Scan(ctx, "metrics:*", 1000, func(keys []string) error {
		for _, key := range keys {
			if excluded(key, p.ExcludePatterns) {
				continue
			}
			if !p.DryRun {
				if err := h.env.Store.Del(ctx, key); err != nil {
					return err
				}
			}
			stats.CacheKeysDeleted++
		}
		return nil
	})
}

// excluded reports whether name matches any glob pattern. A pattern that
// fails to compile is ignored.
func excluded(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
