package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/kv"
)

const (
	// healthCacheTTL bounds how often the full index walk runs.
	healthCacheTTL = time.Hour
	// storageSampleLimit caps the keys sampled for the storage estimate.
	storageSampleLimit = 100
	// storageAlarmBytes is the estimate above which storage is flagged.
	storageAlarmBytes = 1 << 30 // 1 GiB
)

// TermBuckets counts terms by posting-list size relative to the average.
type TermBuckets struct {
	High   int `json:"high"`   // > 2x average
	Medium int `json:"medium"` // between half and 2x average
	Low    int `json:"low"`    // < half average
}

// StorageEstimate is a sampled size proxy, not an exact byte count.
type StorageEstimate struct {
	PostingsBytes int64 `json:"postings_bytes"`
	MetadataBytes int64 `json:"metadata_bytes"`
	TotalBytes    int64 `json:"total_bytes"`
}

// HealthReport is the cached index health snapshot.
type HealthReport struct {
	TotalTerms       int64           `json:"total_terms"`
	TotalDocuments   int64           `json:"total_documents"`
	AvgTermFrequency float64         `json:"avg_term_frequency"`
	Buckets          TermBuckets     `json:"term_buckets"`
	Storage          StorageEstimate `json:"storage"`
	Issues           []string        `json:"issues"`
	Status           string          `json:"status"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Health computes and caches index health reports.
type Health struct {
	store *kv.IndexStore
	now   func() time.Time
}

// NewHealth creates a Health analyzer over the shared index store.
func NewHealth(store *kv.IndexStore) *Health {
	return &Health{store: store, now: time.Now}
}

// WithClock substitutes the time source (tests).
func (h *Health) WithClock(now func() time.Time) *Health {
	h.now = now
	return h
}

// Report returns the health snapshot, serving the cached copy when present
// unless force is set. Fresh reports are cached for an hour.
func (h *Health) Report(ctx context.Context, force bool) (*HealthReport, error) {
	if !force {
		if cached, err := h.store.Store().Get(ctx, kv.KeySearchStats); err == nil {
			var report HealthReport
			if err := json.Unmarshal([]byte(cached), &report); err == nil {
				return &report, nil
			}
			debug.Logf("search: discarding malformed cached health report\n")
		}
	}

	report, err := h.analyze(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(report); err == nil {
		if err := h.store.Store().Set(ctx, kv.KeySearchStats, string(raw), healthCacheTTL); err != nil {
			debug.Logf("search: caching health report failed: %v\n", err)
		}
	}
	return report, nil
}

func (h *Health) analyze(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{GeneratedAt: h.now().UTC(), Issues: []string{}}

	// One pass over every term collects counts for the average and the
	// buckets; bucket boundaries need the average, so sizes are retained.
	var termSizes []int64
	var memberTotal int64
	err := h.store.ScanPostingTerms(ctx, scanBatch, func(terms []string) error {
		for _, term := range terms {
			n, err := h.store.PostingCount(ctx, term)
			if err != nil {
				return err
			}
			termSizes = append(termSizes, n)
			memberTotal += n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.TotalTerms = int64(len(termSizes))
	if report.TotalTerms > 0 {
		report.AvgTermFrequency = float64(memberTotal) / float64(report.TotalTerms)
	}
	for _, n := range termSizes {
		f := float64(n)
		switch {
		case f > 2*report.AvgTermFrequency:
			report.Buckets.High++
		case f < report.AvgTermFrequency/2:
			report.Buckets.Low++
		default:
			report.Buckets.Medium++
		}
	}

	err = h.store.ScanMetaTypes(ctx, scanBatch, func(docTypes []string) error {
		for _, docType := range docTypes {
			n, err := h.store.DocumentCount(ctx, docType)
			if err != nil {
				return err
			}
			report.TotalDocuments += n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if report.Storage, err = h.estimateStorage(ctx); err != nil {
		return nil, err
	}

	if report.TotalTerms > 0 && report.AvgTermFrequency < 1 {
		report.Issues = append(report.Issues, "low average term frequency")
	}
	if report.Buckets.High > 2*report.Buckets.Medium {
		report.Issues = append(report.Issues, "unbalanced term distribution")
	}
	if report.Storage.TotalBytes > storageAlarmBytes {
		report.Issues = append(report.Issues, "high storage usage")
	}
	switch len(report.Issues) {
	case 0:
		report.Status = StatusHealthy
	case 1:
		report.Status = StatusDegraded
	default:
		report.Status = StatusUnhealthy
	}
	return report, nil
}

// estimateStorage samples up to storageSampleLimit keys per class and
// extrapolates: average sampled entry size times the total key count.
func (h *Health) estimateStorage(ctx context.Context) (StorageEstimate, error) {
	var est StorageEstimate

	postingSample, postingTotal, err := h.sampleKeys(ctx, "posting:*")
	if err != nil {
		return est, err
	}
	var postingBytes int64
	for _, key := range postingSample {
		size := int64(len(key))
		members, err := h.store.Store().ZRange(ctx, key, 0, -1, false)
		if err != nil {
			return est, err
		}
		for _, z := range members {
			size += int64(len(z.Member)) + 8 // 8 bytes for the float score
		}
		postingBytes += size
	}
	est.PostingsBytes = extrapolate(postingBytes, len(postingSample), postingTotal)

	metaSample, metaTotal, err := h.sampleKeys(ctx, "meta:*")
	if err != nil {
		return est, err
	}
	var metaBytes int64
	for _, key := range metaSample {
		size := int64(len(key))
		entries, err := h.store.Store().HGetAll(ctx, key)
		if err != nil {
			return est, err
		}
		for id, raw := range entries {
			size += int64(len(id) + len(raw))
		}
		metaBytes += size
	}
	est.MetadataBytes = extrapolate(metaBytes, len(metaSample), metaTotal)

	est.TotalBytes = est.PostingsBytes + est.MetadataBytes
	return est, nil
}

// sampleKeys scans keys matching pattern, keeping the first
// storageSampleLimit while still counting the rest.
func (h *Health) sampleKeys(ctx context.Context, pattern string) ([]string, int, error) {
	var sample []string
	total := 0
	err := h.store.Store().Scan(ctx, pattern, scanBatch, func(keys []string) error {
		for _, key := range keys {
			total++
			if len(sample) < storageSampleLimit {
				sample = append(sample, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return sample, total, nil
}

func extrapolate(sampledBytes int64, sampled, total int) int64 {
	if sampled == 0 {
		return 0
	}
	avg := float64(sampledBytes) / float64(sampled)
	return int64(avg * float64(total))
}
