package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine binaries.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	Governor    GovernorConfig    `yaml:"governor"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Mailer      MailerConfig      `yaml:"mailer"`
	SES         SESConfig         `yaml:"ses"`
	Replies     RepliesConfig     `yaml:"replies"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
	Audit       AuditConfig       `yaml:"audit"`
	Blacklist   BlacklistConfig   `yaml:"blacklist"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig configures the ops HTTP surface.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	JobToken       string   `yaml:"job_token"`
}

// DatabaseConfig configures the PostgreSQL store.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig configures the optional Redis instance used for persisted
// rate windows and job locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SecretsConfig holds the credential encryption key (64 hex chars).
type SecretsConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

// GovernorConfig configures global and per-provider throughput.
type GovernorConfig struct {
	MaxPerMinute     int            `yaml:"max_per_minute"`
	BaseBackoffMS    int            `yaml:"base_backoff_ms"`
	MaxBackoffMS     int            `yaml:"max_backoff_ms"`
	ProviderHourly   map[string]int `yaml:"provider_hourly"`
	PersistWindows   bool           `yaml:"persist_windows"`
	MXLookupTimeoutS int            `yaml:"mx_lookup_timeout_seconds"`
}

// FingerprintConfig configures the duplicate content guard.
type FingerprintConfig struct {
	MaxIdentical  int `yaml:"max_identical"`
	WindowMinutes int `yaml:"window_minutes"`
}

// Window returns the sliding window duration.
func (c FingerprintConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// DispatchConfig configures the dispatcher run.
type DispatchConfig struct {
	BatchSize          int    `yaml:"batch_size"`
	UnsubscribeBaseURL string `yaml:"unsubscribe_base_url"`
	UnsubscribeMailto  string `yaml:"unsubscribe_mailto"`
	SendingIP          string `yaml:"sending_ip"`
	DisablePacing      bool   `yaml:"disable_pacing"`
	MaxRunSeconds      int    `yaml:"max_run_seconds"`
}

// MaxRun returns the dispatcher run deadline.
func (c DispatchConfig) MaxRun() time.Duration {
	return time.Duration(c.MaxRunSeconds) * time.Second
}

// MailerConfig configures the SMTP transport and soft-bounce retries.
type MailerConfig struct {
	Transport            string `yaml:"transport"` // smtp or ses
	HeloName             string `yaml:"helo_name"`
	ConnectTimeoutSec    int    `yaml:"connect_timeout_seconds"`
	CommandTimeoutSec    int    `yaml:"command_timeout_seconds"`
	PoolIdleSec          int    `yaml:"pool_idle_seconds"`
	RetryScheduleMinutes []int  `yaml:"retry_schedule_minutes"`
	MaxRetries           int    `yaml:"max_retries"`
	// AllowPlaintext disables mandatory STARTTLS for trusted local relays.
	AllowPlaintext bool `yaml:"allow_plaintext"`
}

// ConnectTimeout returns the TCP dial and greeting timeout.
func (c MailerConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// CommandTimeout returns the per-command socket timeout.
func (c MailerConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSec) * time.Second
}

// PoolIdle returns how long a pooled connection may sit unused.
func (c MailerConfig) PoolIdle() time.Duration {
	return time.Duration(c.PoolIdleSec) * time.Second
}

// RetrySchedule returns the soft-bounce retry delays in order.
func (c MailerConfig) RetrySchedule() []time.Duration {
	out := make([]time.Duration, len(c.RetryScheduleMinutes))
	for i, m := range c.RetryScheduleMinutes {
		out[i] = time.Duration(m) * time.Minute
	}
	return out
}

// SESConfig configures the SES v2 transport.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// RepliesConfig configures the inbox poller.
type RepliesConfig struct {
	FetchTimeoutSec int `yaml:"fetch_timeout_seconds"`
	MaxMessages     int `yaml:"max_messages"`
}

// FetchTimeout returns the hard bound for one mailbox poll.
func (c RepliesConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// AnalyticsConfig configures trend detection and campaign auto-pause.
type AnalyticsConfig struct {
	TrendDays           int     `yaml:"trend_days"`
	CampaignMinSends    int     `yaml:"campaign_min_sends"`
	MaxBounceRate       float64 `yaml:"max_bounce_rate"`
	MaxUnsubscribeRate  float64 `yaml:"max_unsubscribe_rate"`
	MaxComplaintRate    float64 `yaml:"max_complaint_rate"`
	AutoPauseOnCritical bool    `yaml:"auto_pause_on_critical"`
}

// AuditConfig configures the DNS authentication auditor.
type AuditConfig struct {
	Nameserver   string   `yaml:"nameserver"`
	TimeoutSec   int      `yaml:"timeout_seconds"`
	DKIMSelector []string `yaml:"dkim_selectors"`
}

// Timeout returns the per-query DNS timeout.
func (c AuditConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// BlacklistConfig configures the DNSBL scanner. Nameserver should be a
// local recursive resolver: Spamhaus and others refuse queries arriving
// through public resolvers. Empty falls back to the audit nameserver.
type BlacklistConfig struct {
	IPs         []string `yaml:"ips"`
	Concurrency int      `yaml:"concurrency"`
	Nameserver  string   `yaml:"nameserver"`
}

// ArchiveConfig configures S3 archival of reports. Empty bucket disables it.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// JobsConfig sets the interval of every periodic job, in seconds.
// Zero disables the job in the scheduler; it can still be triggered over HTTP.
type JobsConfig struct {
	DispatchSec       int `yaml:"dispatch_seconds"`
	RepliesSec        int `yaml:"replies_seconds"`
	RetriesSec        int `yaml:"retries_seconds"`
	CampaignHealthSec int `yaml:"campaign_health_seconds"`
	TrendSec          int `yaml:"trend_seconds"`
	DNSAuditSec       int `yaml:"dns_audit_seconds"`
	BlacklistSec      int `yaml:"blacklist_seconds"`
	WarmupSec         int `yaml:"warmup_seconds"`
	HygieneSec        int `yaml:"hygiene_seconds"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on (default true).
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Seconds converts a job interval to a duration.
func Seconds(s int) time.Duration { return time.Duration(s) * time.Second }

// Load reads and parses the configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Governor.MaxPerMinute == 0 {
		cfg.Governor.MaxPerMinute = 300
	}
	if cfg.Governor.BaseBackoffMS == 0 {
		cfg.Governor.BaseBackoffMS = 5000
	}
	if cfg.Governor.MaxBackoffMS == 0 {
		cfg.Governor.MaxBackoffMS = 120000
	}
	if cfg.Governor.MXLookupTimeoutS == 0 {
		cfg.Governor.MXLookupTimeoutS = 3
	}
	if cfg.Fingerprint.MaxIdentical == 0 {
		cfg.Fingerprint.MaxIdentical = 5
	}
	if cfg.Fingerprint.WindowMinutes == 0 {
		cfg.Fingerprint.WindowMinutes = 60
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 50
	}
	if cfg.Dispatch.MaxRunSeconds == 0 {
		cfg.Dispatch.MaxRunSeconds = 280
	}
	if cfg.Mailer.Transport == "" {
		cfg.Mailer.Transport = "smtp"
	}
	if cfg.Mailer.ConnectTimeoutSec == 0 {
		cfg.Mailer.ConnectTimeoutSec = 15
	}
	if cfg.Mailer.CommandTimeoutSec == 0 {
		cfg.Mailer.CommandTimeoutSec = 30
	}
	if cfg.Mailer.PoolIdleSec == 0 {
		cfg.Mailer.PoolIdleSec = 60
	}
	if len(cfg.Mailer.RetryScheduleMinutes) == 0 {
		cfg.Mailer.RetryScheduleMinutes = []int{60, 360, 1440}
	}
	if cfg.Mailer.MaxRetries == 0 {
		cfg.Mailer.MaxRetries = 3
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Replies.FetchTimeoutSec == 0 {
		cfg.Replies.FetchTimeoutSec = 30
	}
	if cfg.Replies.MaxMessages == 0 {
		cfg.Replies.MaxMessages = 50
	}
	if cfg.Analytics.TrendDays == 0 {
		cfg.Analytics.TrendDays = 14
	}
	if cfg.Analytics.CampaignMinSends == 0 {
		cfg.Analytics.CampaignMinSends = 20
	}
	if cfg.Analytics.MaxBounceRate == 0 {
		cfg.Analytics.MaxBounceRate = 5
	}
	if cfg.Analytics.MaxUnsubscribeRate == 0 {
		cfg.Analytics.MaxUnsubscribeRate = 2
	}
	if cfg.Analytics.MaxComplaintRate == 0 {
		cfg.Analytics.MaxComplaintRate = 0.3
	}
	if cfg.Audit.Nameserver == "" {
		cfg.Audit.Nameserver = "1.1.1.1:53"
	}
	if cfg.Audit.TimeoutSec == 0 {
		cfg.Audit.TimeoutSec = 5
	}
	if cfg.Blacklist.Concurrency == 0 {
		cfg.Blacklist.Concurrency = 4
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "deliverability/"
	}
	if cfg.Jobs == (JobsConfig{}) {
		cfg.Jobs = JobsConfig{
			DispatchSec:       300,
			RepliesSec:        300,
			RetriesSec:        900,
			CampaignHealthSec: 1800,
			TrendSec:          86400,
			DNSAuditSec:       86400,
			BlacklistSec:      21600,
			WarmupSec:         3600,
			HygieneSec:        86400,
		}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is loaded first if present, so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CREDENTIAL_ENCRYPTION_KEY"); v != "" {
		cfg.Secrets.EncryptionKey = v
	}
	if v := os.Getenv("SENDING_IP"); v != "" {
		cfg.Dispatch.SendingIP = v
	}
	if v := os.Getenv("UNSUBSCRIBE_BASE_URL"); v != "" {
		cfg.Dispatch.UnsubscribeBaseURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.SES.Region = v
		if cfg.Archive.Region == "" {
			cfg.Archive.Region = v
		}
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("JOB_TOKEN"); v != "" {
		cfg.Server.JobToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	return cfg, nil
}
