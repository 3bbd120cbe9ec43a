package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope carries the fields the scheduler injects into every payload at
// enqueue time. Handlers embed it in their typed payloads.
type Envelope struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"` // epoch ms
}

// InjectEnvelope merges correlation id and timestamp into a raw payload at
// the wire boundary. The payload keeps its kind-specific shape; unknown
// fields are preserved.
func InjectEnvelope(raw json.RawMessage, correlationID string, at time.Time) (json.RawMessage, error) {
	m := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("payload is not a JSON object: %w", err)
		}
	}
	m["correlation_id"] = correlationID
	m["timestamp"] = at.UnixMilli()
	out, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncomingAttachment describes an attachment on a received email, before
// it has been validated and stored.
type IncomingAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Content     []byte `json:"content,omitempty"`     // inline body, small attachments
	StagingKey  string `json:"staging_key,omitempty"` // blob key when staged out-of-band
}

// ProcessEmailPayload normalizes an incoming email.
type ProcessEmailPayload struct {
	Envelope
	MessageID   string               `json:"message_id"`
	From        string               `json:"from"`
	To          []string             `json:"to"`
	Subject     string               `json:"subject"`
	TextContent string               `json:"text_content,omitempty"`
	HTMLContent string               `json:"html_content,omitempty"`
	InReplyTo   string               `json:"in_reply_to,omitempty"`
	References  []string             `json:"references,omitempty"`
	Attachments []IncomingAttachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time            `json:"received_at"`
}

func (p *ProcessEmailPayload) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("process_email: message_id is required")
	}
	if p.From == "" {
		return fmt.Errorf("process_email: from is required")
	}
	if len(p.To) == 0 {
		return fmt.Errorf("process_email: at least one recipient is required")
	}
	return nil
}

// SendEmailPayload renders and transmits an outbound message.
type SendEmailPayload struct {
	Envelope
	To        []string          `json:"to"`
	CC        []string          `json:"cc,omitempty"`
	BCC       []string          `json:"bcc,omitempty"`
	FromEmail string            `json:"from_email,omitempty"` // default from config when empty
	FromName  string            `json:"from_name,omitempty"`
	Subject   string            `json:"subject"`
	TextBody  string            `json:"text_body,omitempty"`
	HTMLBody  string            `json:"html_body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	ThreadID  string            `json:"thread_id,omitempty"`
}

func (p *SendEmailPayload) Validate() error {
	if len(p.To) == 0 {
		return fmt.Errorf("send_email: at least one recipient is required")
	}
	if p.Subject == "" {
		return fmt.Errorf("send_email: subject is required")
	}
	if p.TextBody == "" && p.HTMLBody == "" {
		return fmt.Errorf("send_email: text_body or html_body is required")
	}
	return nil
}

// ProcessAttachmentsPayload validates and stores a batch of attachments.
type ProcessAttachmentsPayload struct {
	Envelope
	EmailID     string               `json:"email_id"`
	Attachments []IncomingAttachment `json:"attachments"`
}

func (p *ProcessAttachmentsPayload) Validate() error {
	if p.EmailID == "" {
		return fmt.Errorf("process_attachments: email_id is required")
	}
	if len(p.Attachments) == 0 {
		return fmt.Errorf("process_attachments: attachments list is empty")
	}
	return nil
}

// GenerateAnalyticsPayload aggregates event counts over [Start, End).
type GenerateAnalyticsPayload struct {
	Envelope
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p *GenerateAnalyticsPayload) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("generate_analytics: start and end are required")
	}
	if !p.End.After(p.Start) {
		return fmt.Errorf("generate_analytics: end must be after start")
	}
	return nil
}

// CleanupStoragePayload deletes blobs/cache/records older than a cutoff.
type CleanupStoragePayload struct {
	Envelope
	OlderThanDays   int      `json:"older_than_days"`
	Types           []string `json:"types,omitempty"` // blobs, cache, analytics
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	DryRun          bool     `json:"dry_run,omitempty"`
}

func (p *CleanupStoragePayload) Validate() error {
	if p.OlderThanDays < 1 {
		return fmt.Errorf("cleanup_storage: older_than_days must be >= 1")
	}
	return nil
}

// IndexOptions tune a single indexing run.
type IndexOptions struct {
	Language  string `json:"language,omitempty"`   // en, es, fr, de; en is the fallback
	ChunkSize int    `json:"chunk_size,omitempty"` // chars; 0 = default
	Chunked   bool   `json:"chunked,omitempty"`
}

// IndexSearchPayload writes a document into the inverted index.
type IndexSearchPayload struct {
	Envelope
	DocID    string            `json:"doc_id"`
	DocType  string            `json:"doc_type"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Options  IndexOptions      `json:"options,omitempty"`
}

func (p *IndexSearchPayload) Validate() error {
	if p.DocID == "" || p.DocType == "" {
		return fmt.Errorf("index_search: doc_id and doc_type are required")
	}
	if p.Content == "" {
		return fmt.Errorf("index_search: content is empty")
	}
	switch p.Options.Language {
	case "", "en", "es", "fr", "de":
	default:
		return fmt.Errorf("index_search: unsupported language %q", p.Options.Language)
	}
	return nil
}

// UpdateThreadPayload applies a partial mutation to a thread record.
type UpdateThreadPayload struct {
	Envelope
	ThreadID     string            `json:"thread_id"`
	Set          map[string]string `json:"set,omitempty"`
	AddMessageID string            `json:"add_message_id,omitempty"`
	Reindex      bool              `json:"reindex,omitempty"`
}

func (p *UpdateThreadPayload) Validate() error {
	if p.ThreadID == "" {
		return fmt.Errorf("update_thread: thread_id is required")
	}
	if len(p.Set) == 0 && p.AddMessageID == "" {
		return fmt.Errorf("update_thread: nothing to update")
	}
	return nil
}

// NotificationChannel is the delivery mechanism for a user notification.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelPush  NotificationChannel = "push"
	ChannelSMS   NotificationChannel = "sms"
	ChannelInApp NotificationChannel = "in_app"
)

func (c NotificationChannel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelPush, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// SendNotificationPayload delivers a user notification on one channel.
type SendNotificationPayload struct {
	Envelope
	UserID  string              `json:"user_id"`
	Channel NotificationChannel `json:"channel"`
	Title   string              `json:"title"`
	Body    string              `json:"body,omitempty"`
	Data    map[string]string   `json:"data,omitempty"`
}

func (p *SendNotificationPayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("send_notification: user_id is required")
	}
	if !p.Channel.Valid() {
		return fmt.Errorf("send_notification: unknown channel %q", p.Channel)
	}
	if p.Title == "" {
		return fmt.Errorf("send_notification: title is required")
	}
	return nil
}

// DecodePayload unmarshals raw into dst and runs its validation.
// Validation failures are fatal at the handler boundary (no retry).
func DecodePayload(raw json.RawMessage, dst interface{ Validate() error }) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return dst.Validate()
}
