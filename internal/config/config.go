// Package config provides YAML-based configuration loading for heraldo.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // quota.timezone must resolve in images without a zone database

	"gopkg.in/yaml.v3"
)

// Config is the top-level heraldo configuration, loaded from heraldo.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Quota     QuotaConfig     `yaml:"quota"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// ServerConfig holds HTTP listener and rate limiting settings.
type ServerConfig struct {
	Port       int     `yaml:"port"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// DatabaseConfig selects and configures the relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite or mysql
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// AuthConfig controls how tenant identity is established.
type AuthConfig struct {
	JWTSecret         string `yaml:"jwt_secret"`
	Issuer            string `yaml:"issuer"`
	AllowTenantHeader bool   `yaml:"allow_tenant_header"`
}

// LogConfig controls log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, console or json
}

// TransportConfig selects the messaging transport driver.
type TransportConfig struct {
	Driver         string        `yaml:"driver"`
	URL            string        `yaml:"url"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DispatchConfig tunes the bulk send loop.
type DispatchConfig struct {
	Probe         *bool            `yaml:"probe"`
	Retry         RetryConfig      `yaml:"retry"`
	Pacing        PacingConfig     `yaml:"pacing"`
	AutoLogout    AutoLogoutConfig `yaml:"auto_logout"`
	Decorations   []string         `yaml:"decorations"`
	MaxImageBytes int              `yaml:"max_image_bytes"`
}

// RetryConfig bounds per-contact send attempts.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Pause    time.Duration `yaml:"pause"`
}

// PacingTier applies Pause after every Every-th contact.
type PacingTier struct {
	Every int           `yaml:"every"`
	Pause time.Duration `yaml:"pause"`
}

// PacingConfig defines inter-contact delays. Tiers are checked from the
// largest Every down; contacts matching no tier wait a random duration in
// [JitterMin, JitterMax).
type PacingConfig struct {
	Tiers     []PacingTier  `yaml:"tiers"`
	JitterMin time.Duration `yaml:"jitter_min"`
	JitterMax time.Duration `yaml:"jitter_max"`
}

// AutoLogoutConfig controls the post-job session teardown.
type AutoLogoutConfig struct {
	Enabled *bool         `yaml:"enabled"`
	Grace   time.Duration `yaml:"grace"`
}

// NormalizeConfig controls how raw phone numbers become transport addresses.
type NormalizeConfig struct {
	Suffix       string         `yaml:"suffix"`
	CountryCodes map[int]string `yaml:"country_codes"`
}

// QuotaConfig controls daily send limits.
type QuotaConfig struct {
	DefaultDailyLimit int    `yaml:"default_daily_limit"`
	CountFailures     *bool  `yaml:"count_failures"`
	Timezone          string `yaml:"timezone"`
}

// SessionsConfig controls session housekeeping.
type SessionsConfig struct {
	IdleTTL              time.Duration `yaml:"idle_ttl"`
	SweepCron            string        `yaml:"sweep_cron"`
	BadSessionPurgeDelay time.Duration `yaml:"bad_session_purge_delay"`
}

// NotifyConfig configures operator notifications. Each platform is enabled
// by filling in its credentials.
type NotifyConfig struct {
	Slack      SlackConfig    `yaml:"slack"`
	Discord    DiscordConfig  `yaml:"discord"`
	Telegram   TelegramConfig `yaml:"telegram"`
	DigestCron string         `yaml:"digest_cron"`
}

// SlackConfig holds the incoming webhook used for notifications.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig holds the bot token and target channel.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// TelegramConfig holds the bot token and target chat.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// DefaultDecorations are prepended at random to outgoing messages.
var DefaultDecorations = []string{"👋", "😊", "✨", "🙌", "📣", "💬", "🌟", "👍"}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated config with every default applied.
func Default() *Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

func boolPtr(b bool) *bool { return &b }

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3001
	}
	if c.Server.RatePerSec == 0 {
		c.Server.RatePerSec = 5
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 10
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "heraldo.db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "heraldo"
		}
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "heraldo"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}

	if c.Transport.Driver == "" {
		c.Transport.Driver = "bridge"
	}
	if c.Transport.URL == "" {
		c.Transport.URL = "ws://127.0.0.1:8090"
	}
	if c.Transport.DialTimeout == 0 {
		c.Transport.DialTimeout = 10 * time.Second
	}
	if c.Transport.RequestTimeout == 0 {
		c.Transport.RequestTimeout = 30 * time.Second
	}

	d := &c.Dispatch
	if d.Probe == nil {
		d.Probe = boolPtr(true)
	}
	if d.Retry.Attempts == 0 {
		d.Retry.Attempts = 3
	}
	if d.Retry.Pause == 0 {
		d.Retry.Pause = 3 * time.Second
	}
	if len(d.Pacing.Tiers) == 0 {
		d.Pacing.Tiers = []PacingTier{
			{Every: 50, Pause: 5 * time.Minute},
			{Every: 25, Pause: 2 * time.Minute},
			{Every: 10, Pause: time.Minute},
		}
	}
	if d.Pacing.JitterMin == 0 {
		d.Pacing.JitterMin = 8 * time.Second
	}
	if d.Pacing.JitterMax == 0 {
		d.Pacing.JitterMax = 15 * time.Second
	}
	if d.AutoLogout.Enabled == nil {
		d.AutoLogout.Enabled = boolPtr(true)
	}
	if d.AutoLogout.Grace == 0 {
		d.AutoLogout.Grace = 5 * time.Second
	}
	if len(d.Decorations) == 0 {
		d.Decorations = append([]string(nil), DefaultDecorations...)
	}
	if d.MaxImageBytes == 0 {
		d.MaxImageBytes = 5 << 20
	}

	if c.Normalize.Suffix == "" {
		c.Normalize.Suffix = "@s.whatsapp.net"
	}
	if c.Normalize.CountryCodes == nil {
		c.Normalize.CountryCodes = map[int]string{9: "51", 10: "52"}
	}

	if c.Quota.DefaultDailyLimit == 0 {
		c.Quota.DefaultDailyLimit = 1000
	}
	if c.Quota.CountFailures == nil {
		c.Quota.CountFailures = boolPtr(true)
	}
	if c.Quota.Timezone == "" {
		c.Quota.Timezone = "Local"
	}

	if c.Sessions.IdleTTL == 0 {
		c.Sessions.IdleTTL = 6 * time.Hour
	}
	if c.Sessions.SweepCron == "" {
		c.Sessions.SweepCron = "*/15 * * * *"
	}
	if c.Sessions.BadSessionPurgeDelay == 0 {
		c.Sessions.BadSessionPurgeDelay = 5 * time.Second
	}
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.RatePerSec < 0 {
		errs = append(errs, "server.rate_per_sec must not be negative")
	}
	if c.Server.Burst < 0 {
		errs = append(errs, "server.burst must not be negative")
	}

	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}

	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported (auto, console, json)", c.Log.Format))
	}

	if c.Transport.Driver != "bridge" {
		errs = append(errs, fmt.Sprintf("transport.driver %q is not supported (bridge)", c.Transport.Driver))
	}
	if !strings.HasPrefix(c.Transport.URL, "ws://") && !strings.HasPrefix(c.Transport.URL, "wss://") {
		errs = append(errs, "transport.url must start with ws:// or wss://")
	}

	d := c.Dispatch
	if d.Retry.Attempts < 1 {
		errs = append(errs, "dispatch.retry.attempts must be at least 1")
	}
	if d.Retry.Pause < 0 {
		errs = append(errs, "dispatch.retry.pause must not be negative")
	}
	for i, tier := range d.Pacing.Tiers {
		if tier.Every < 1 {
			errs = append(errs, fmt.Sprintf("dispatch.pacing.tiers[%d].every must be at least 1", i))
		}
		if tier.Pause < 0 {
			errs = append(errs, fmt.Sprintf("dispatch.pacing.tiers[%d].pause must not be negative", i))
		}
	}
	if d.Pacing.JitterMin < 0 || d.Pacing.JitterMax < d.Pacing.JitterMin {
		errs = append(errs, "dispatch.pacing requires 0 <= jitter_min <= jitter_max")
	}
	if d.AutoLogout.Grace < 0 {
		errs = append(errs, "dispatch.auto_logout.grace must not be negative")
	}
	if d.MaxImageBytes < 0 {
		errs = append(errs, "dispatch.max_image_bytes must not be negative")
	}

	errs = append(errs, validateCountryCodes(c.Normalize.CountryCodes)...)

	if c.Quota.DefaultDailyLimit < 0 {
		errs = append(errs, "quota.default_daily_limit must not be negative")
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("quota.timezone %q: %v", c.Quota.Timezone, err))
	}

	if c.Notify.Discord.BotToken != "" && c.Notify.Discord.ChannelID == "" {
		errs = append(errs, "notify.discord.channel_id is required when bot_token is set")
	}
	if c.Notify.Telegram.Token != "" && c.Notify.Telegram.ChatID == 0 {
		errs = append(errs, "notify.telegram.chat_id is required when token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateCountryCodes keeps normalization idempotent: a completed number
// must never match another table entry and be completed twice.
func validateCountryCodes(codes map[int]string) []string {
	lengths := make([]int, 0, len(codes))
	for n := range codes {
		lengths = append(lengths, n)
	}
	sort.Ints(lengths)

	var errs []string
	for _, n := range lengths {
		code := codes[n]
		if n < 1 {
			errs = append(errs, fmt.Sprintf("normalize.country_codes: length %d must be positive", n))
			continue
		}
		if code == "" || strings.Trim(code, "0123456789") != "" {
			errs = append(errs, fmt.Sprintf("normalize.country_codes[%d]: code %q must be digits", n, code))
			continue
		}
		if _, clash := codes[n+len(code)]; clash {
			errs = append(errs, fmt.Sprintf("normalize.country_codes[%d]: completed length %d is also a key", n, n+len(code)))
		}
	}
	return errs
}

// LoadLocation returns the quota timezone.
func (q QuotaConfig) LoadLocation() *time.Location {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
