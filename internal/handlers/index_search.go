package handlers

import (
	"context"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/search"
	"github.com/mailworks/mailworks/internal/taskerr"
	"github.com/mailworks/mailworks/internal/types"
)

// chunkThreshold is the content length above which indexing goes through
// the chunked path even when the payload does not ask for it.
const chunkThreshold = 10_000

// IndexSearch writes a document into the inverted index, chunking long
// content and reporting progress per chunk.
type IndexSearch struct {
	env *Env
}

func (h *IndexSearch) Kind() types.TaskKind { return types.KindIndexSearch }

func (h *IndexSearch) Handle(ctx context.Context, task *types.Task) error {
	var p types.IndexSearchPayload
	if err := types.DecodePayload(task.Payload, &p); err != nil {
		return taskerr.New(taskerr.Validation, err)
	}

	meta := make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}
	doc := &search.Document{
		ID:       p.DocID,
		Type:     p.DocType,
		Content:  p.Content,
		Language: search.Language(p.Options.Language),
		Metadata: meta,
	}

	if p.Options.Chunked || len(p.Content) > chunkThreshold {
		return h.env.Indexer.IndexChunked(ctx, doc, p.Options.ChunkSize, func(done, total int) {
			percent := done * 100 / total
			if err := h.env.Scheduler.UpdateProgress(ctx, task.ID, percent); err != nil {
				debug.Logf("handlers: progress update for %s failed: %v\n", task.ID, err)
			}
		})
	}
	return h.env.Indexer.Index(ctx, doc)
}
