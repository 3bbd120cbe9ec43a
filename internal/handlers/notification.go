package handlers

import (
	"context"
	"time"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/taskerr"
	"github.com/mailworks/mailworks/internal/types"
)

// SendNotification delivers a user notification over one channel, honoring
// per-channel preferences and quiet hours. A delivery suppressed by
// preferences counts as success, not failure.
type SendNotification struct {
	env *Env
}

func (h *SendNotification) Kind() types.TaskKind { return types.KindSendNotification }

func (h *SendNotification) Handle(ctx context.Context, task *types.Task) error {
	var p types.SendNotificationPayload
	if err := types.DecodePayload(task.Payload, &p); err != nil {
		return taskerr.New(taskerr.Validation, err)
	}

	prefs, err := h.env.Notifier.Prefs(ctx, p.UserID)
	if err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	if prefs != nil {
		if enabled, known := prefs.Channels[string(p.Channel)]; known && !enabled {
			debug.Logf("handlers: notification to %s skipped, channel %s disabled\n", p.UserID, p.Channel)
			return nil
		}
		if inQuietHours(h.env.now(), prefs) {
			debug.Logf("handlers: notification to %s skipped, quiet hours\n", p.UserID)
			return nil
		}
	}

	if err := h.env.Notifier.Deliver(ctx, p.UserID, string(p.Channel), p.Title, p.Body, p.Data); err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	return nil
}

// inQuietHours checks the user's daily do-not-disturb window, which may
// wrap midnight. An unparseable window or timezone disables the check.
func inQuietHours(now time.Time, prefs *UserPrefs) bool {
	if prefs.QuietStart == "" || prefs.QuietEnd == "" {
		return false
	}
	loc := time.UTC
	if prefs.Timezone != "" {
		parsed, err := time.LoadLocation(prefs.Timezone)
		if err != nil {
			return false
		}
		loc = parsed
	}
	start, err1 := time.Parse("15:04", prefs.QuietStart)
	end, err2 := time.Parse("15:04", prefs.QuietEnd)
	if err1 != nil || err2 != nil {
		return false
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	if startMin <= endMin {
		return minute >= startMin && minute < endMin
	}
	// Window wraps midnight, e.g. 22:00-07:00.
	return minute >= startMin || minute < endMin
}
