package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/mailworks/mailworks/internal/taskerr"
	"github.com/mailworks/mailworks/internal/types"
)

// SendEmail renders and transmits an outbound message through the mail
// transport. Delivery is at-least-once; the Message-ID header is derived
// from the task's correlation id so retries collapse to one message at a
// deduplicating sink.
type SendEmail struct {
	env *Env
}

func (h *SendEmail) Kind() types.TaskKind { return types.KindSendEmail }

func (h *SendEmail) Handle(ctx context.Context, task *types.Task) error {
	var p types.SendEmailPayload
	if err := types.DecodePayload(task.Payload, &p); err != nil {
		return taskerr.New(taskerr.Validation, err)
	}

	msg := h.build(&p, task.CorrelationID)
	_, err := h.env.mailBreaker.Execute(func() (any, error) {
		return nil, h.env.Mail.Send(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return taskerr.Newf(taskerr.Transient, "mail transport circuit open")
	}
	if err != nil {
		return taskerr.New(taskerr.Transient, err)
	}
	return nil
}

func (h *SendEmail) build(p *types.SendEmailPayload, correlationID string) *OutboundMessage {
	from := OutboundAddress{Email: p.FromEmail, Name: p.FromName}
	if from.Email == "" {
		from.Email = h.env.Settings.FromAddress
		if from.Name == "" {
			from.Name = h.env.Settings.FromName
		}
	}

	msg := &OutboundMessage{
		To:      addresses(p.To),
		CC:      addresses(p.CC),
		BCC:     addresses(p.BCC),
		From:    from,
		Subject: p.Subject,
		Headers: map[string]string{
			"Message-ID": fmt.Sprintf("<%s@%s>", correlationID, h.env.Settings.EmailDomain),
		},
	}
	for k, v := range p.Headers {
		msg.Headers[k] = v
	}
	if p.TextBody != "" {
		msg.Content = append(msg.Content, OutboundContent{Type: "text/plain", Value: p.TextBody})
	}
	if p.HTMLBody != "" {
		msg.Content = append(msg.Content, OutboundContent{Type: "text/html", Value: p.HTMLBody})
	}
	return msg
}

func addresses(emails []string) []OutboundAddress {
	if len(emails) == 0 {
		return nil
	}
	out := make([]OutboundAddress, len(emails))
	for i, e := range emails {
		out[i] = OutboundAddress{Email: e}
	}
	return out
}
