package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mailworks/mailworks/internal/lock"
	"github.com/mailworks/mailworks/internal/queue"
	"github.com/mailworks/mailworks/internal/taskerr"
	"github.com/mailworks/mailworks/internal/types"
)

// UpdateThread applies a partial mutation to a thread record under the
// thread's lock, then optionally re-enqueues indexing of the thread.
type UpdateThread struct {
	env *Env
}

func (h *UpdateThread) Kind() types.TaskKind { return types.KindUpdateThread }

func (h *UpdateThread) Handle(ctx context.Context, task *types.Task) error {
	var p types.UpdateThreadPayload
	if err := types.DecodePayload(task.Payload, &p); err != nil {
		return taskerr.New(taskerr.Validation, err)
	}

	err := h.env.Locks.WithLock(ctx, lock.DocLock("thread_"+p.ThreadID), lock.DocLockTTL, func(ctx context.Context) error {
		return h.apply(ctx, &p)
	})
	if err == lock.ErrHeld {
		return taskerr.Newf(taskerr.LockContention, "thread %s is being mutated elsewhere", p.ThreadID)
	}
	if err != nil {
		return err
	}

	if p.Reindex {
		return h.reindex(ctx, task, &p)
	}
	return nil
}

func (h *UpdateThread) apply(ctx context.Context, p *types.UpdateThreadPayload) error {
	thread, err := h.env.Docs.GetThread(ctx, p.ThreadID)
	if err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	if thread == nil {
		return taskerr.Newf(taskerr.Validation, "thread %s does not exist", p.ThreadID)
	}

	if thread.Fields == nil && len(p.Set) > 0 {
		thread.Fields = make(map[string]string, len(p.Set))
	}
	for k, v := range p.Set {
		thread.Fields[k] = v
	}
	if p.AddMessageID != "" && !contains(thread.MessageIDs, p.AddMessageID) {
		thread.MessageIDs = append(thread.MessageIDs, p.AddMessageID)
	}
	thread.UpdatedAt = h.env.now().UTC()

	if err := h.env.Docs.PutThread(ctx, thread); err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	return nil
}

func (h *UpdateThread) reindex(ctx context.Context, task *types.Task, p *types.UpdateThreadPayload) error {
	thread, err := h.env.Docs.GetThread(ctx, p.ThreadID)
	if err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	if thread == nil {
		return nil
	}

	meta := make(map[string]string, len(thread.Fields)+1)
	for k, v := range thread.Fields {
		meta[k] = v
	}
	meta["message_count"] = strconv.Itoa(len(thread.MessageIDs))

	payload := &types.IndexSearchPayload{
		DocID:    thread.ID,
		DocType:  "thread",
		Content:  thread.Subject + " " + strings.Join(thread.MessageIDs, " "),
		Metadata: meta,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return taskerr.New(taskerr.Integrity, err)
	}
	if _, err := h.env.Scheduler.Enqueue(ctx, types.KindIndexSearch, raw, queue.EnqueueOptions{
		CorrelationID: task.CorrelationID,
	}); err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	return nil
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
