package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/kv"
)

// SMTPTransport delivers outbound messages over plain SMTP. Addr is
// host:port; Auth may be nil for unauthenticated relays.
type SMTPTransport struct {
	Addr string
	Auth smtp.Auth
}

func (t *SMTPTransport) Send(ctx context.Context, msg *OutboundMessage) error {
	if len(msg.To) == 0 {
		return errors.New("smtp: no recipients")
	}
	var rcpts []string
	for _, lists := range [][]OutboundAddress{msg.To, msg.CC, msg.BCC} {
		for _, a := range lists {
			rcpts = append(rcpts, a.Email)
		}
	}

	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", formatAddress(msg.From))
	fmt.Fprintf(&body, "To: %s\r\n", joinAddresses(msg.To))
	if len(msg.CC) > 0 {
		fmt.Fprintf(&body, "Cc: %s\r\n", joinAddresses(msg.CC))
	}
	fmt.Fprintf(&body, "Subject: %s\r\n", msg.Subject)
	for k, v := range msg.Headers {
		fmt.Fprintf(&body, "%s: %s\r\n", k, v)
	}
	// Single-part body: prefer html when present, else the first part.
	part := pickBody(msg.Content)
	fmt.Fprintf(&body, "Content-Type: %s; charset=utf-8\r\n\r\n%s\r\n", part.Type, part.Value)

	return smtp.SendMail(t.Addr, t.Auth, msg.From.Email, rcpts, []byte(body.String()))
}

func pickBody(parts []OutboundContent) OutboundContent {
	for _, p := range parts {
		if p.Type == "text/html" {
			return p
		}
	}
	if len(parts) > 0 {
		return parts[0]
	}
	return OutboundContent{Type: "text/plain"}
}

func formatAddress(a OutboundAddress) string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

func joinAddresses(addrs []OutboundAddress) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = formatAddress(a)
	}
	return strings.Join(parts, ", ")
}

// LogMailTransport writes outbound mail to the debug log instead of
// sending. Default transport when no SMTP relay is configured.
type LogMailTransport struct{}

func (LogMailTransport) Send(ctx context.Context, msg *OutboundMessage) error {
	debug.Logf("mail: would send %q to %s\n", msg.Subject, joinAddresses(msg.To))
	return nil
}

// keyNotifyPrefs holds per-user preference json, field = user id.
const keyNotifyPrefs = "notify:prefs"

// KVNotificationGateway reads preferences from the substrate and logs
// deliveries. Real deployments swap in a push/webhook gateway.
type KVNotificationGateway struct {
	store kv.Store
}

// NewKVNotificationGateway creates a gateway over the substrate.
func NewKVNotificationGateway(store kv.Store) *KVNotificationGateway {
	return &KVNotificationGateway{store: store}
}

func (g *KVNotificationGateway) Prefs(ctx context.Context, userID string) (*UserPrefs, error) {
	raw, err := g.store.HGet(ctx, keyNotifyPrefs, userID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var prefs UserPrefs
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return nil, fmt.Errorf("decode prefs %s: %w", userID, err)
	}
	return &prefs, nil
}

func (g *KVNotificationGateway) Deliver(ctx context.Context, userID, channel, title, body string, data map[string]string) error {
	debug.Logf("notify: user=%s channel=%s title=%q\n", userID, channel, title)
	return nil
}
