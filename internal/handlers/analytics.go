package handlers

import (
	"context"
	"fmt"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/taskerr"
	"github.com/mailworks/mailworks/internal/types"
)

// GenerateAnalytics aggregates event counts over a [start, end) window and
// persists the aggregate. Pure over the inputs at execution time, so a
// retry regenerates the same window.
type GenerateAnalytics struct {
	env *Env
}

func (h *GenerateAnalytics) Kind() types.TaskKind { return types.KindGenerateAnalytics }

func (h *GenerateAnalytics) Handle(ctx context.Context, task *types.Task) error {
	var p types.GenerateAnalyticsPayload
	if err := types.DecodePayload(task.Payload, &p); err != nil {
		return taskerr.New(taskerr.Validation, err)
	}

	counts, err := h.env.Docs.CountEventsInRange(ctx, p.Start, p.End)
	if err != nil {
		return taskerr.New(taskerr.Transient, err)
	}

	rec := &AnalyticsRecord{
		// Window-derived id keeps the record idempotent under replay.
		ID:          fmt.Sprintf("analytics_%d_%d", p.Start.UnixMilli(), p.End.UnixMilli()),
		Start:       p.Start.UTC(),
		End:         p.End.UTC(),
		Counts:      counts,
		GeneratedAt: h.env.now().UTC(),
	}
	if err := h.env.Docs.PutAnalytics(ctx, rec); err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	debug.Logf("handlers: analytics %s: %d event class(es)\n", rec.ID, len(counts))
	return nil
}
