package handlers

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/queue"
	"github.com/mailworks/mailworks/internal/taskerr"
	"github.com/mailworks/mailworks/internal/types"
)

// ProcessEmail normalizes an incoming email: thread detection by reference
// chain, triage classification, attachment fan-out and content indexing.
// Idempotent on message id.
type ProcessEmail struct {
	env *Env
}

func (h *ProcessEmail) Kind() types.TaskKind { return types.KindProcessEmail }

func (h *ProcessEmail) Handle(ctx context.Context, task *types.Task) error {
	var p types.ProcessEmailPayload
	if err := types.DecodePayload(task.Payload, &p); err != nil {
		return taskerr.New(taskerr.Validation, err)
	}

	existing, err := h.env.Docs.GetEmailByMessageID(ctx, p.MessageID)
	if err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	if existing != nil {
		debug.Logf("handlers: email %s already processed as %s, skipping\n", p.MessageID, existing.ID)
		return nil
	}

	thread, err := h.detectThread(ctx, &p)
	if err != nil {
		return taskerr.New(taskerr.Transient, err)
	}

	email := &Email{
		ID:             uuid.NewString(),
		MessageID:      p.MessageID,
		ThreadID:       thread.ID,
		From:           p.From,
		To:             p.To,
		Subject:        p.Subject,
		TextContent:    p.TextContent,
		HTMLContent:    p.HTMLContent,
		Classification: classify(&p),
		ReceivedAt:     p.ReceivedAt,
	}
	if err := h.env.Docs.PutEmail(ctx, email); err != nil {
		return taskerr.New(taskerr.Transient, err)
	}

	thread.MessageIDs = append(thread.MessageIDs, p.MessageID)
	thread.LastMessageAt = p.ReceivedAt
	thread.UpdatedAt = h.env.now().UTC()
	if err := h.env.Docs.PutThread(ctx, thread); err != nil {
		return taskerr.New(taskerr.Transient, err)
	}

	if len(p.Attachments) > 0 {
		if err := h.enqueueNext(ctx, task, types.KindProcessAttachments, &types.ProcessAttachmentsPayload{
			EmailID:     email.ID,
			Attachments: p.Attachments,
		}); err != nil {
			return err
		}
	}

	content := p.Subject + " " + p.TextContent
	if strings.TrimSpace(content) != "" {
		if err := h.enqueueNext(ctx, task, types.KindIndexSearch, &types.IndexSearchPayload{
			DocID:   email.ID,
			DocType: "email",
			Content: content,
			Metadata: map[string]string{
				"thread_id": thread.ID,
				"from":      p.From,
				"priority":  email.Classification.Priority,
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// enqueueNext schedules a follow-up task under the same correlation id.
func (h *ProcessEmail) enqueueNext(ctx context.Context, parent *types.Task, kind types.TaskKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return taskerr.New(taskerr.Integrity, err)
	}
	if _, err := h.env.Scheduler.Enqueue(ctx, kind, raw, queue.EnqueueOptions{
		CorrelationID: parent.CorrelationID,
	}); err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	return nil
}

// detectThread finds the thread this message belongs to by its reference
// chain, or starts a new one. One thread per reference chain.
func (h *ProcessEmail) detectThread(ctx context.Context, p *types.ProcessEmailPayload) (*Thread, error) {
	refs := make([]string, 0, len(p.References)+1)
	if p.InReplyTo != "" {
		refs = append(refs, p.InReplyTo)
	}
	refs = append(refs, p.References...)

	if len(refs) > 0 {
		thread, err := h.env.Docs.FindThreadByMessageIDs(ctx, refs)
		if err != nil {
			return nil, err
		}
		if thread != nil {
			return thread, nil
		}
	}
	return &Thread{
		ID:      uuid.NewString(),
		Subject: normalizeSubject(p.Subject),
	}, nil
}

// normalizeSubject strips reply/forward prefixes for thread grouping.
func normalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		trimmed := s
		for _, prefix := range []string{"re:", "fwd:", "fw:"} {
			if strings.HasPrefix(lower, prefix) {
				trimmed = strings.TrimSpace(s[len(prefix):])
				break
			}
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

var (
	urgentMarkers = []string{"urgent", "asap", "immediately", "action required", "critical"}
	spamMarkers   = []string{"lottery", "winner", "free money", "click here", "act now", "viagra", "limited offer"}

	categoryMarkers = map[string][]string{
		"finance": {"invoice", "payment", "receipt", "billing"},
		"meeting": {"meeting", "calendar", "schedule", "invite"},
		"support": {"ticket", "issue", "bug", "error"},
	}
)

// classify runs the keyword triage over subject and body.
func classify(p *types.ProcessEmailPayload) Classification {
	text := strings.ToLower(p.Subject + " " + p.TextContent)

	c := Classification{Priority: "normal"}
	for _, marker := range urgentMarkers {
		if strings.Contains(text, marker) {
			c.Priority = "high"
			break
		}
	}
	for _, marker := range spamMarkers {
		if strings.Contains(text, marker) {
			c.SpamScore += 0.25
		}
	}
	if c.SpamScore > 1 {
		c.SpamScore = 1
	}
	if c.SpamScore >= 0.5 {
		c.Priority = "low"
	}
	for category, markers := range categoryMarkers {
		for _, marker := range markers {
			if strings.Contains(text, marker) {
				c.Categories = append(c.Categories, category)
				break
			}
		}
	}
	sort.Strings(c.Categories)
	return c
}
