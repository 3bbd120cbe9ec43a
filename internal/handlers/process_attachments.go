package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/taskerr"
	"github.com/mailworks/mailworks/internal/types"
)

// allowedMIMETypes is the attachment whitelist.
var allowedMIMETypes = map[string]bool{
	"application/pdf":    true,
	"application/zip":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
	"text/plain": true,
	"text/csv":   true,
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeFilename strips path components and unsafe characters.
func sanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	clean := unsafeFilenameChars.ReplaceAllString(base, "_")
	clean = strings.Trim(clean, "._")
	if clean == "" {
		return "attachment"
	}
	return clean
}

// ProcessAttachments validates, hashes and stores a batch of attachments.
// A batch is all-or-nothing on validation: one rejected attachment fails
// the task fatally before anything is written.
type ProcessAttachments struct {
	env *Env
}

func (h *ProcessAttachments) Kind() types.TaskKind { return types.KindProcessAttachments }

func (h *ProcessAttachments) Handle(ctx context.Context, task *types.Task) error {
	var p types.ProcessAttachmentsPayload
	if err := types.DecodePayload(task.Payload, &p); err != nil {
		return taskerr.New(taskerr.Validation, err)
	}

	for i := range p.Attachments {
		if err := h.validate(&p.Attachments[i]); err != nil {
			return err
		}
	}

	for i := range p.Attachments {
		att := &p.Attachments[i]
		body, err := h.fetchBody(ctx, att)
		if err != nil {
			return err
		}

		sum := sha256.Sum256(body)
		key := fmt.Sprintf("attachments/%s/%s", uuid.NewString(), sanitizeFilename(att.Filename))
		err = h.env.Blobs.Put(ctx, key, body, att.ContentType, map[string]string{
			"email_id": p.EmailID,
			"sha256":   hex.EncodeToString(sum[:]),
		})
		if err != nil {
			return taskerr.New(taskerr.Transient, err)
		}
		debug.Logf("handlers: stored attachment %s (%d bytes) for email %s\n", key, len(body), p.EmailID)
	}
	return nil
}

func (h *ProcessAttachments) validate(att *types.IncomingAttachment) error {
	if !allowedMIMETypes[strings.ToLower(att.ContentType)] {
		return taskerr.Newf(taskerr.Validation, "attachment %q: content type %q not allowed", att.Filename, att.ContentType)
	}
	if att.Size > h.env.Settings.MaxAttachmentSize {
		return taskerr.Newf(taskerr.Validation, "attachment %q: %d bytes exceeds limit %d",
			att.Filename, att.Size, h.env.Settings.MaxAttachmentSize)
	}
	if len(att.Content) == 0 && att.StagingKey == "" {
		return taskerr.Newf(taskerr.Validation, "attachment %q: no content or staging key", att.Filename)
	}
	return nil
}

// fetchBody returns the attachment bytes, reading staged blobs when the
// body was not inlined. A staged blob whose size disagrees with the
// declared size is an integrity failure.
func (h *ProcessAttachments) fetchBody(ctx context.Context, att *types.IncomingAttachment) ([]byte, error) {
	if len(att.Content) > 0 {
		return att.Content, nil
	}
	body, _, err := h.env.Blobs.Get(ctx, att.StagingKey)
	if err != nil {
		return nil, taskerr.New(taskerr.Transient, err)
	}
	if att.Size > 0 && int64(len(body)) != att.Size {
		return nil, taskerr.Newf(taskerr.Integrity, "attachment %q: staged body is %d bytes, declared %d",
			att.Filename, len(body), att.Size)
	}
	return body, nil
}
