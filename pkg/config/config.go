// Package config loads the service configuration from a YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Email provider names accepted in email.provider.
const (
	ProviderStub = "stub"
	ProviderAPI  = "api"
	ProviderSMTP = "smtp"
)

type Config struct {
	Application Application `yaml:"application"`
	Database    Database    `yaml:"database"`
	Email       Email       `yaml:"email"`
	RateLimit   RateLimit   `yaml:"rate_limit"`
	Log         Log         `yaml:"log"`
}

type Application struct {
	ListenAddress string `yaml:"listen_address"`
	// BaseURL is the public origin used to build confirmation links.
	BaseURL string `yaml:"base_url"`
	// AdminToken guards the newsletter publishing endpoint. Empty disables it.
	AdminToken      string        `yaml:"admin_token"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Database struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type Email struct {
	Provider           string        `yaml:"provider"`
	Sender             string        `yaml:"sender"`
	BaseURL            string        `yaml:"base_url"`
	AuthorizationToken string        `yaml:"authorization_token"`
	Timeout            time.Duration `yaml:"timeout"`
	RetryAttempts      uint          `yaml:"retry_attempts"`
	SMTP               SMTP          `yaml:"smtp"`
}

type SMTP struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	SenderName         string `yaml:"sender_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// RateLimit applies per client IP to the public subscribe endpoint.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	// TrustedProxies are addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (r RateLimit) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(r.TrustedProxies))
	for _, raw := range r.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid rate_limit.trusted_proxies entry %q", raw)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

type Log struct {
	Level string `yaml:"level"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("unmarshal config file %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		"DATABASE_URL":    &c.Database.URL,
		"APP_BASE_URL":    &c.Application.BaseURL,
		"ADMIN_TOKEN":     &c.Application.AdminToken,
		"EMAIL_PROVIDER":  &c.Email.Provider,
		"EMAIL_API_TOKEN": &c.Email.AuthorizationToken,
		"SMTP_PASSWORD":   &c.Email.SMTP.Password,
		"LOG_LEVEL":       &c.Log.Level,
	}
	for key, field := range overrides {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Application.ListenAddress == "" {
		c.Application.ListenAddress = ":8080"
	}
	if c.Application.ShutdownTimeout <= 0 {
		c.Application.ShutdownTimeout = 5 * time.Second
	}
	c.Application.BaseURL = strings.TrimRight(c.Application.BaseURL, "/")

	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns <= 0 {
		c.Database.MinConns = 2
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Database.ConnMaxIdleTime <= 0 {
		c.Database.ConnMaxIdleTime = 5 * time.Minute
	}

	if c.Email.Provider == "" {
		c.Email.Provider = ProviderStub
	}
	if c.Email.Timeout <= 0 {
		c.Email.Timeout = 10 * time.Second
	}
	if c.Email.RetryAttempts == 0 {
		c.Email.RetryAttempts = 3
	}
	if c.Email.SMTP.Port == 0 {
		c.Email.SMTP.Port = 587
	}

	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 1
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url (DATABASE_URL) is required"))
	}
	if u, err := url.Parse(c.Application.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("application.base_url (APP_BASE_URL) must be an absolute URL, got %q", c.Application.BaseURL))
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("database.min_conns (%d) exceeds max_conns (%d)", c.Database.MinConns, c.Database.MaxConns))
	}

	switch c.Email.Provider {
	case ProviderStub:
	case ProviderAPI:
		if c.Email.BaseURL == "" {
			errs = append(errs, errors.New("email.base_url is required for the api provider"))
		}
		if c.Email.AuthorizationToken == "" {
			errs = append(errs, errors.New("email.authorization_token (EMAIL_API_TOKEN) is required for the api provider"))
		}
	case ProviderSMTP:
		if c.Email.SMTP.Host == "" {
			errs = append(errs, errors.New("email.smtp.host is required for the smtp provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown email.provider %q", c.Email.Provider))
	}
	if c.Email.Provider != ProviderStub && c.Email.Sender == "" {
		errs = append(errs, errors.New("email.sender is required"))
	}

	if _, err := c.RateLimit.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses the configured log level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log.level %q: %w", l.Level, err)
	}
	return level, nil
}
