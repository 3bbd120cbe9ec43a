// Package handlers implements the task handlers behind each task kind,
// plus the collaborator interfaces they reach external systems through.
package handlers

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/lock"
	"github.com/mailworks/mailworks/internal/queue"
	"github.com/mailworks/mailworks/internal/search"
	"github.com/mailworks/mailworks/internal/worker"
)

// Email is the normalized stored form of a received message.
type Email struct {
	ID             string         `json:"id"`
	MessageID      string         `json:"message_id"`
	ThreadID       string         `json:"thread_id,omitempty"`
	From           string         `json:"from"`
	To             []string       `json:"to"`
	Subject        string         `json:"subject"`
	TextContent    string         `json:"text_content,omitempty"`
	HTMLContent    string         `json:"html_content,omitempty"`
	Classification Classification `json:"classification"`
	AttachmentKeys []string       `json:"attachment_keys,omitempty"`
	ReceivedAt     time.Time      `json:"received_at"`
}

// Classification is the triage result for an incoming email.
type Classification struct {
	Priority   string   `json:"priority"` // high, normal, low
	Categories []string `json:"categories,omitempty"`
	SpamScore  float64  `json:"spam_score"`
}

// Thread groups emails by reference chain.
type Thread struct {
	ID            string            `json:"id"`
	Subject       string            `json:"subject"`
	MessageIDs    []string          `json:"message_ids"`
	Fields        map[string]string `json:"fields,omitempty"`
	LastMessageAt time.Time         `json:"last_message_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// AnalyticsRecord is one persisted aggregation window.
type AnalyticsRecord struct {
	ID          string           `json:"id"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	Counts      map[string]int64 `json:"counts"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// DocumentStore is the external record store for emails, threads and
// analytics. Lookup misses return (nil, nil).
type DocumentStore interface {
	GetEmailByMessageID(ctx context.Context, messageID string) (*Email, error)
	PutEmail(ctx context.Context, email *Email) error

	GetThread(ctx context.Context, id string) (*Thread, error)
	// FindThreadByMessageIDs returns the thread containing any of the
	// given message ids, or nil.
	FindThreadByMessageIDs(ctx context.Context, messageIDs []string) (*Thread, error)
	PutThread(ctx context.Context, thread *Thread) error

	PutAnalytics(ctx context.Context, rec *AnalyticsRecord) error
	// CountEventsInRange aggregates named event counts over [start, end).
	CountEventsInRange(ctx context.Context, start, end time.Time) (map[string]int64, error)
	// DeleteAnalyticsBefore drops aggregate records older than cutoff,
	// returning how many went away. Dry runs count without deleting.
	DeleteAnalyticsBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error)

	Ping(ctx context.Context) error
}

// BlobMeta describes one stored blob.
type BlobMeta struct {
	Key            string
	Size           int64
	Uploaded       time.Time
	ContentType    string
	CustomMetadata map[string]string
}

// BlobStore is the external object store holding attachment bodies.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string, customMetadata map[string]string) error
	Get(ctx context.Context, key string) ([]byte, *BlobMeta, error)
	Head(ctx context.Context, key string) (*BlobMeta, error)
	Delete(ctx context.Context, key string) error
	// List walks blobs under prefix, invoking fn per page.
	List(ctx context.Context, prefix string, fn func(metas []BlobMeta) error) error
}

// OutboundAddress is one named email address.
type OutboundAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// OutboundContent is one MIME part of an outbound message.
type OutboundContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// OutboundMessage is the transport-level form of an email to send.
type OutboundMessage struct {
	To          []OutboundAddress `json:"to"`
	CC          []OutboundAddress `json:"cc,omitempty"`
	BCC         []OutboundAddress `json:"bcc,omitempty"`
	From        OutboundAddress   `json:"from"`
	Subject     string            `json:"subject"`
	Content     []OutboundContent `json:"content"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
}

// Attachment is an outbound attachment part.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// MailTransport delivers outbound messages.
type MailTransport interface {
	Send(ctx context.Context, msg *OutboundMessage) error
}

// UserPrefs gates notification delivery per user.
type UserPrefs struct {
	// Channels maps channel name to enabled.
	Channels map[string]bool
	// QuietStart/QuietEnd define a daily do-not-disturb window in the
	// user's local time, "HH:MM". Empty means no quiet hours.
	QuietStart string
	QuietEnd   string
	Timezone   string
}

// NotificationGateway delivers user notifications and exposes preferences.
type NotificationGateway interface {
	Prefs(ctx context.Context, userID string) (*UserPrefs, error)
	Deliver(ctx context.Context, userID, channel, title, body string, data map[string]string) error
}

// Settings carries the environment inputs handlers need.
type Settings struct {
	FromAddress string
	FromName    string
	EmailDomain string
	// MaxAttachmentSize bounds accepted attachment bodies, bytes.
	MaxAttachmentSize int64
}

// DefaultMaxAttachmentSize is 25 MiB, the common transport ceiling.
const DefaultMaxAttachmentSize = 25 << 20

// Env carries every collaborator a handler may need. Constructed once at
// startup and shared; handlers hold it by pointer and must not mutate it.
type Env struct {
	Docs      DocumentStore
	Blobs     BlobStore
	Mail      MailTransport
	Notifier  NotificationGateway
	Scheduler *queue.Scheduler
	Indexer   *search.Indexer
	Locks     *lock.Manager
	Store     kv.Store
	Settings  Settings

	// mailBreaker trips after repeated transport failures so a dead
	// provider does not burn every retry budget at once.
	mailBreaker *gobreaker.CircuitBreaker

	now func() time.Time
}

// NewEnv wires an Env, installing the mail circuit breaker.
func NewEnv(docs DocumentStore, blobs BlobStore, mail MailTransport, notifier NotificationGateway,
	scheduler *queue.Scheduler, indexer *search.Indexer, locks *lock.Manager, store kv.Store,
	settings Settings) *Env {
	if settings.MaxAttachmentSize <= 0 {
		settings.MaxAttachmentSize = DefaultMaxAttachmentSize
	}
	return &Env{
		Docs:      docs,
		Blobs:     blobs,
		Mail:      mail,
		Notifier:  notifier,
		Scheduler: scheduler,
		Indexer:   indexer,
		Locks:     locks,
		Store:     store,
		Settings:  settings,
		mailBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mail-transport",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		now: time.Now,
	}
}

// WithClock substitutes the time source (tests).
func (e *Env) WithClock(now func() time.Time) *Env {
	e.now = now
	return e
}

// RegisterAll installs every handler into the registry.
func RegisterAll(reg *worker.Registry, env *Env) error {
	all := []worker.Handler{
		&ProcessEmail{env},
		&SendEmail{env},
		&ProcessAttachments{env},
		&GenerateAnalytics{env},
		&CleanupStorage{env},
		&IndexSearch{env},
		&UpdateThread{env},
		&SendNotification{env},
	}
	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
