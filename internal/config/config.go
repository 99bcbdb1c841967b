package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/herald/internal/dispatch"
	"github.com/foxzi/herald/internal/headers"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/ratelimit"
	"github.com/foxzi/herald/internal/sandbox"
	heraldTLS "github.com/foxzi/herald/internal/tls"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Cache     CacheConfig     `yaml:"cache"`      // Redis template cache
	Events    EventsConfig    `yaml:"events"`     // Kafka dispatch events
	Tracing   TracingConfig   `yaml:"tracing"`    // OpenTelemetry export
	RateLimit RateLimitConfig `yaml:"rate_limit"` // Rate limiting configuration
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`   // Max request body (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 60s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access API (empty = allow all)
	TLS            TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS certificate settings
type TLSConfig struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt ACME settings
type ACMEConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`
}

// DispatchConfig tunes the dispatch coordinator
type DispatchConfig struct {
	Workers        int               `yaml:"workers"`
	SendTimeout    time.Duration     `yaml:"send_timeout"`
	BatchTimeout   time.Duration     `yaml:"batch_timeout"` // 0 = no batch deadline
	DefaultLocale  string            `yaml:"default_locale"`
	DefaultDrivers map[string]string `yaml:"default_drivers"` // channel -> driver
	PushDrivers    map[string]string `yaml:"push_drivers"`    // token shape -> driver
}

// CacheConfig configures the Redis read-through template cache
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// EventsConfig configures the Kafka dispatch event stream
type EventsConfig struct {
	Enabled bool          `yaml:"enabled"`
	Brokers []string      `yaml:"brokers"`
	Topic   string        `yaml:"topic"`
	Timeout time.Duration `yaml:"timeout"`
}

// TracingConfig configures OTLP span export
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// RateLimitConfig contains rate limiting settings
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	Global          *LimitValues            `yaml:"global,omitempty"`
	DefaultAPIKey   *LimitValues            `yaml:"default_api_key,omitempty"`
	DefaultChannel  *LimitValues            `yaml:"default_channel,omitempty"`
	DefaultDriver   *LimitValues            `yaml:"default_driver,omitempty"`
	DefaultTemplate *LimitValues            `yaml:"default_template,omitempty"`
	Channels        map[string]*LimitValues `yaml:"channels,omitempty"`
	Drivers         map[string]*LimitValues `yaml:"drivers,omitempty"`
	FlushInterval   time.Duration           `yaml:"flush_interval"`
}

// LimitValues contains rate limit values
type LimitValues struct {
	MessagesPerHour int `yaml:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day"`
}

// SandboxConfig intercepts sends per channel
type SandboxConfig struct {
	Channels         map[string]SandboxChannelConfig `yaml:"channels"`
	SimulateErrors   bool                            `yaml:"simulate_errors"`
	ErrorProbability float64                         `yaml:"error_probability"`
}

// SandboxChannelConfig is the mode of a single channel
type SandboxChannelConfig struct {
	Mode       string `yaml:"mode"` // production, sandbox, redirect
	RedirectTo string `yaml:"redirect_to"`
}

// ProvidersConfig holds credentials for every driver. A driver is
// registered only when enabled.
type ProvidersConfig struct {
	HTTPTimeout time.Duration  `yaml:"http_timeout"` // Default: 15s
	FCM         FCMConfig      `yaml:"fcm"`
	APNs        APNsConfig     `yaml:"apns"`
	WebPush     WebPushConfig  `yaml:"webpush"`
	Netfun      NetfunConfig   `yaml:"netfun"`
	Twilio      TwilioConfig   `yaml:"twilio"`
	Telegram    TelegramConfig `yaml:"telegram"`
	WhatsApp    WhatsAppConfig `yaml:"whatsapp"`
	SNS         SNSConfig      `yaml:"sns"`
	SES         SESConfig      `yaml:"ses"`
	SMTP        SMTPConfig     `yaml:"smtp"`
}

type FCMConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type APNsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	KeyFile    string `yaml:"key_file"`
	KeyContent string `yaml:"key_content"`
	Production bool   `yaml:"production"`
}

type WebPushConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Subscriber      string `yaml:"subscriber"`
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	TTL             int    `yaml:"ttl"`
}

type NetfunConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIToken string `yaml:"api_token"`
	SenderID string `yaml:"sender_id"`
}

type TwilioConfig struct {
	Enabled             bool   `yaml:"enabled"`
	BaseURL             string `yaml:"base_url"`
	AccountSID          string `yaml:"account_sid"`
	AuthToken           string `yaml:"auth_token"`
	From                string `yaml:"from"`
	MessagingServiceSID string `yaml:"messaging_service_sid"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url"`
	BotToken string `yaml:"bot_token"`
}

type WhatsAppConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BaseURL       string `yaml:"base_url"`
	APIVersion    string `yaml:"api_version"`
	PhoneNumberID string `yaml:"phone_number_id"`
	AccessToken   string `yaml:"access_token"`
}

// AWSConfig is shared by the SNS and SES drivers. Empty keys use the
// default credential chain.
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type SNSConfig struct {
	Enabled  bool      `yaml:"enabled"`
	AWS      AWSConfig `yaml:"aws"`
	SenderID string    `yaml:"sender_id"`
	SMSType  string    `yaml:"sms_type"` // Transactional or Promotional
}

type SESConfig struct {
	Enabled          bool      `yaml:"enabled"`
	AWS              AWSConfig `yaml:"aws"`
	From             string    `yaml:"from"`
	ConfigurationSet string    `yaml:"configuration_set"`
}

// SMTPConfig configures the SMTP relay driver
type SMTPConfig struct {
	Enabled            bool            `yaml:"enabled"`
	Host               string          `yaml:"host"`
	Port               int             `yaml:"port"`
	Username           string          `yaml:"username"`
	Password           string          `yaml:"password"`
	From               string          `yaml:"from"`
	HeloName           string          `yaml:"helo_name"`
	TLSMode            string          `yaml:"tls_mode"` // none, starttls, tls
	InsecureSkipVerify bool            `yaml:"insecure_skip_verify"`
	Timeout            time.Duration   `yaml:"timeout"`
	DKIM               DKIMConfig      `yaml:"dkim"`
	Headers            *headers.Config `yaml:"headers,omitempty"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// Load loads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from raw YAML
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 1 << 20
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 60 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if c.API.TLS.ACME.CacheDir == "" {
		c.API.TLS.ACME.CacheDir = "/var/lib/herald/certs"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/herald/herald.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 10
	}
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = 30 * time.Second
	}
	if c.Dispatch.DefaultLocale == "" {
		c.Dispatch.DefaultLocale = "en"
	}

	if c.Cache.Addr == "" {
		c.Cache.Addr = "localhost:6379"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "herald:"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}

	if c.Events.Topic == "" {
		c.Events.Topic = "notification.dispatched"
	}
	if c.Events.Timeout == 0 {
		c.Events.Timeout = 5 * time.Second
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "herald"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}

	if c.RateLimit.FlushInterval == 0 {
		c.RateLimit.FlushInterval = 10 * time.Second
	}

	if c.Providers.HTTPTimeout == 0 {
		c.Providers.HTTPTimeout = 15 * time.Second
	}
	if c.Providers.SMTP.Port == 0 {
		c.Providers.SMTP.Port = 587
	}
	if c.Providers.SMTP.TLSMode == "" {
		c.Providers.SMTP.TLSMode = "starttls"
	}
	if h := c.Providers.SMTP.Headers; h != nil && len(h.Domains) > 0 {
		domains := make(map[string][]headers.Rule, len(h.Domains))
		for domain, rules := range h.Domains {
			domains[strings.ToLower(domain)] = rules
		}
		h.Domains = domains
	}
	if c.Providers.SMTP.HeloName == "" {
		c.Providers.SMTP.HeloName = c.Server.Hostname
	}
	if c.Providers.SNS.SMSType == "" {
		c.Providers.SNS.SMSType = "Transactional"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers must not be negative")
	}
	if c.Dispatch.SendTimeout < 0 || c.Dispatch.BatchTimeout < 0 {
		return fmt.Errorf("dispatch timeouts must not be negative")
	}
	for channel, driver := range c.Dispatch.DefaultDrivers {
		if _, err := notify.ParseChannel(channel); err != nil {
			return fmt.Errorf("dispatch.default_drivers: %w", err)
		}
		if driver == "" {
			return fmt.Errorf("dispatch.default_drivers.%s must name a driver", channel)
		}
	}

	if err := c.validateTLS(); err != nil {
		return err
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when cache is enabled")
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("events.brokers must not be empty when events are enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	if err := c.validateSandbox(); err != nil {
		return err
	}

	return c.validateProviders()
}

// validateTLS validates API TLS configuration
func (c *Config) validateTLS() error {
	tls := c.API.TLS
	hasCerts := tls.CertFile != "" || tls.KeyFile != ""
	hasACME := tls.ACME.Enabled

	if hasCerts && hasACME {
		return fmt.Errorf("cannot use both manual certificates and ACME")
	}

	if hasCerts {
		if tls.CertFile == "" {
			return fmt.Errorf("api.tls.cert_file is required when using manual certificates")
		}
		if tls.KeyFile == "" {
			return fmt.Errorf("api.tls.key_file is required when using manual certificates")
		}
	}

	if hasACME {
		if tls.ACME.Email == "" {
			return fmt.Errorf("api.tls.acme.email is required when ACME is enabled")
		}
		if len(tls.ACME.Domains) == 0 {
			return fmt.Errorf("api.tls.acme.domains must not be empty when ACME is enabled")
		}
	}

	return nil
}

func (c *Config) validateSandbox() error {
	for channel, cc := range c.Sandbox.Channels {
		if _, err := notify.ParseChannel(channel); err != nil {
			return fmt.Errorf("sandbox.channels: %w", err)
		}
		mode, err := sandbox.ParseMode(cc.Mode)
		if err != nil {
			return fmt.Errorf("sandbox.channels.%s: %w", channel, err)
		}
		if mode == sandbox.ModeRedirect && cc.RedirectTo == "" {
			return fmt.Errorf("sandbox.channels.%s.redirect_to is required when mode is redirect", channel)
		}
	}
	if c.Sandbox.ErrorProbability < 0 || c.Sandbox.ErrorProbability > 1 {
		return fmt.Errorf("sandbox.error_probability must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateProviders() error {
	p := c.Providers
	if p.FCM.Enabled && p.FCM.CredentialsFile == "" && p.FCM.ProjectID == "" {
		return fmt.Errorf("providers.fcm requires credentials_file or project_id")
	}
	if p.APNs.Enabled {
		if p.APNs.KeyID == "" || p.APNs.TeamID == "" || p.APNs.BundleID == "" {
			return fmt.Errorf("providers.apns requires key_id, team_id and bundle_id")
		}
		if p.APNs.KeyFile == "" && p.APNs.KeyContent == "" {
			return fmt.Errorf("providers.apns requires key_file or key_content")
		}
	}
	if p.WebPush.Enabled && (p.WebPush.VAPIDPublicKey == "" || p.WebPush.VAPIDPrivateKey == "") {
		return fmt.Errorf("providers.webpush requires vapid_public_key and vapid_private_key")
	}
	if p.Netfun.Enabled && p.Netfun.APIToken == "" {
		return fmt.Errorf("providers.netfun.api_token is required")
	}
	if p.Twilio.Enabled {
		if p.Twilio.AccountSID == "" || p.Twilio.AuthToken == "" {
			return fmt.Errorf("providers.twilio requires account_sid and auth_token")
		}
		if p.Twilio.From == "" && p.Twilio.MessagingServiceSID == "" {
			return fmt.Errorf("providers.twilio requires from or messaging_service_sid")
		}
	}
	if p.Telegram.Enabled && p.Telegram.BotToken == "" {
		return fmt.Errorf("providers.telegram.bot_token is required")
	}
	if p.WhatsApp.Enabled && (p.WhatsApp.PhoneNumberID == "" || p.WhatsApp.AccessToken == "") {
		return fmt.Errorf("providers.whatsapp requires phone_number_id and access_token")
	}
	if p.SNS.Enabled && p.SNS.AWS.Region == "" {
		return fmt.Errorf("providers.sns.aws.region is required")
	}
	if p.SES.Enabled {
		if p.SES.AWS.Region == "" {
			return fmt.Errorf("providers.ses.aws.region is required")
		}
		if p.SES.From == "" {
			return fmt.Errorf("providers.ses.from is required")
		}
	}
	if p.SMTP.Enabled {
		if p.SMTP.Host == "" {
			return fmt.Errorf("providers.smtp.host is required")
		}
		if p.SMTP.From == "" {
			return fmt.Errorf("providers.smtp.from is required")
		}
		validModes := map[string]bool{"none": true, "starttls": true, "tls": true}
		if !validModes[p.SMTP.TLSMode] {
			return fmt.Errorf("invalid providers.smtp.tls_mode: %s (must be none, starttls, or tls)", p.SMTP.TLSMode)
		}
	}
	if d := p.SMTP.DKIM; d.Enabled {
		if d.Selector == "" {
			return fmt.Errorf("providers.smtp.dkim.selector is required when DKIM is enabled")
		}
		if d.KeyFile == "" {
			return fmt.Errorf("providers.smtp.dkim.key_file is required when DKIM is enabled")
		}
		if d.Domain == "" {
			return fmt.Errorf("providers.smtp.dkim.domain is required when DKIM is enabled")
		}
	}
	if err := p.SMTP.Headers.Validate(); err != nil {
		return fmt.Errorf("providers.smtp.headers.%w", err)
	}
	return nil
}

// HasTLS returns true if API TLS is configured
func (c *Config) HasTLS() bool {
	return c.TLS().Enabled()
}

// TLS converts the API TLS section
func (c *Config) TLS() heraldTLS.Config {
	t := c.API.TLS
	return heraldTLS.Config{
		CertFile: t.CertFile,
		KeyFile:  t.KeyFile,
		ACME: heraldTLS.ACMEConfig{
			Enabled:  t.ACME.Enabled,
			Email:    t.ACME.Email,
			Domains:  t.ACME.Domains,
			CacheDir: t.ACME.CacheDir,
		},
	}
}

// DispatchConfig converts the dispatch section for the coordinator
func (c *Config) DispatchConfig() dispatch.Config {
	defaults := make(map[notify.Channel]string, len(c.Dispatch.DefaultDrivers))
	for channel, driver := range c.Dispatch.DefaultDrivers {
		if ch, err := notify.ParseChannel(channel); err == nil {
			defaults[ch] = driver
		}
	}
	return dispatch.Config{
		Workers:        c.Dispatch.Workers,
		SendTimeout:    c.Dispatch.SendTimeout,
		BatchTimeout:   c.Dispatch.BatchTimeout,
		DefaultDrivers: defaults,
		PushDrivers:    c.Dispatch.PushDrivers,
	}
}

// SandboxConfig converts the sandbox section
func (c *Config) SandboxConfig() *sandbox.Config {
	out := &sandbox.Config{
		Channels:         make(map[notify.Channel]sandbox.ChannelConfig, len(c.Sandbox.Channels)),
		SimulateErrors:   c.Sandbox.SimulateErrors,
		ErrorProbability: c.Sandbox.ErrorProbability,
	}
	for channel, cc := range c.Sandbox.Channels {
		ch, err := notify.ParseChannel(channel)
		if err != nil {
			continue
		}
		mode, _ := sandbox.ParseMode(cc.Mode)
		out.Channels[ch] = sandbox.ChannelConfig{Mode: mode, RedirectTo: cc.RedirectTo}
	}
	return out
}

// RateLimitConfig converts the rate_limit section for the limiter
func (c *Config) RateLimitConfig() *ratelimit.Config {
	rl := c.RateLimit
	return &ratelimit.Config{
		Global:          rl.Global.limit(),
		DefaultAPIKey:   rl.DefaultAPIKey.limit(),
		DefaultChannel:  rl.DefaultChannel.limit(),
		DefaultDriver:   rl.DefaultDriver.limit(),
		DefaultTemplate: rl.DefaultTemplate.limit(),
		Channels:        limits(rl.Channels),
		Drivers:         limits(rl.Drivers),
		FlushInterval:   rl.FlushInterval,
	}
}

func (v *LimitValues) limit() *ratelimit.LimitConfig {
	if v == nil {
		return nil
	}
	return &ratelimit.LimitConfig{MessagesPerHour: v.MessagesPerHour, MessagesPerDay: v.MessagesPerDay}
}

func limits(in map[string]*LimitValues) map[string]*ratelimit.LimitConfig {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]*ratelimit.LimitConfig, len(in))
	for k, v := range in {
		out[k] = v.limit()
	}
	return out
}
