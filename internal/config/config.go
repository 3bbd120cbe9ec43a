// Package config loads daemon configuration from config.yaml with MW_
// environment-variable overrides, and hot-reloads tunables when the file
// changes on disk.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/mailworks/mailworks/internal/debug"
)

// Backoff configures the retry policy.
type Backoff struct {
	Strategy string        `mapstructure:"strategy"` // exponential, linear
	Initial  time.Duration `mapstructure:"initial"`
	Cap      time.Duration `mapstructure:"cap"`
}

// Thresholds configures the alert monitor.
type Thresholds struct {
	QueueDepth int64 `mapstructure:"queue_depth"`
	DLQDepth   int64 `mapstructure:"dlq_depth"`
}

// Config is the full daemon configuration.
type Config struct {
	RedisURL  string `mapstructure:"redis_url"`
	Namespace string `mapstructure:"namespace"`

	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Backoff      Backoff       `mapstructure:"backoff"`

	FromAddress       string `mapstructure:"from_address"`
	FromName          string `mapstructure:"from_name"`
	EmailDomain       string `mapstructure:"email_domain"`
	MaxAttachmentSize int64  `mapstructure:"max_attachment_size"`
	BlobRoot          string `mapstructure:"blob_root"`
	// SMTPAddr is the outbound relay host:port. Empty logs mail instead.
	SMTPAddr string `mapstructure:"smtp_addr"`

	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	Thresholds      Thresholds    `mapstructure:"thresholds"`

	OTELEnabled bool `mapstructure:"otel_enabled"`
}

// Loader owns the viper instance and hands out consistent snapshots.
type Loader struct {
	mu  sync.RWMutex
	v   *viper.Viper
	cur *Config
}

// Load reads configuration from path (empty = search ./config.yaml and
// /etc/mailworks/config.yaml), applies MW_ env overrides and defaults.
func Load(path string) (*Loader, error) {
	v := viper.New()
	v.SetEnvPrefix("MW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mailworks")
	}
	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine: defaults plus env carry the daemon.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	l := &Loader{v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("namespace", "mw")
	v.SetDefault("workers", 4)
	v.SetDefault("poll_interval", time.Second)
	v.SetDefault("lease_timeout", 10*time.Minute)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("backoff.strategy", "exponential")
	v.SetDefault("backoff.initial", time.Second)
	v.SetDefault("backoff.cap", 30*time.Second)
	v.SetDefault("from_address", "noreply@localhost")
	v.SetDefault("email_domain", "localhost")
	v.SetDefault("max_attachment_size", int64(25<<20))
	v.SetDefault("blob_root", "data/blobs")
	v.SetDefault("monitor_interval", time.Minute)
	v.SetDefault("thresholds.queue_depth", int64(1000))
	v.SetDefault("thresholds.dlq_depth", int64(10))
	v.SetDefault("otel_enabled", false)
}

func (l *Loader) reload() error {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	l.mu.Lock()
	l.cur = &cfg
	l.mu.Unlock()
	return nil
}

// Current returns the latest configuration snapshot.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Watch re-reads the file on change and invokes fn with the new snapshot.
// Decode failures keep the previous snapshot.
func (l *Loader) Watch(fn func(cfg *Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		debug.Logf("config: %s changed (%s), reloading\n", e.Name, e.Op)
		if err := l.reload(); err != nil {
			debug.Logf("config: reload failed, keeping previous: %v\n", err)
			return
		}
		if fn != nil {
			fn(l.Current())
		}
	})
	l.v.WatchConfig()
}
