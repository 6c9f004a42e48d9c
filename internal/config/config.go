// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads and validates accountd configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// command-line flags, then secrets from the environment (optionally seeded
// from a .env file).
package config

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/internal/logging"
	"github.com/holomush/accountd/internal/notify"
	"github.com/holomush/accountd/internal/oauth"
	"github.com/holomush/accountd/internal/store"
)

// Config is the full accountd configuration.
type Config struct {
	Log         LogConfig      `koanf:"log" json:"log,omitempty"`
	MetricsAddr string         `koanf:"metrics_addr" json:"metrics_addr,omitempty" jsonschema:"description=Listen address for metrics and health probes; empty disables"`
	Database    DatabaseConfig `koanf:"database" json:"database,omitempty"`
	Tokens      TokensConfig   `koanf:"tokens" json:"tokens,omitempty"`
	Accounts    AccountsConfig `koanf:"accounts" json:"accounts,omitempty"`
	Mail        MailConfig     `koanf:"mail" json:"mail,omitempty"`
	OAuth       OAuthConfig    `koanf:"oauth" json:"oauth,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DatabaseConfig selects and configures storage.
type DatabaseConfig struct {
	Driver         string        `koanf:"driver" json:"driver,omitempty" jsonschema:"enum=postgres,enum=sqlite"`
	URL            string        `koanf:"url" json:"url,omitempty" jsonschema:"description=PostgreSQL connection URL; prefer the DATABASE_URL environment variable"`
	SQLitePath     string        `koanf:"sqlite_path" json:"sqlite_path,omitempty"`
	ConnectRetries uint64        `koanf:"connect_retries" json:"connect_retries,omitempty"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" json:"connect_timeout,omitempty" jsonschema:"type=string,description=Go duration such as 5s"`
	AutoMigrate    bool          `koanf:"auto_migrate" json:"auto_migrate,omitempty" jsonschema:"description=Apply pending migrations when the database is opened"`
}

// TokensConfig configures session tokens.
type TokensConfig struct {
	AccessTTL     time.Duration `koanf:"access_ttl" json:"access_ttl,omitempty" jsonschema:"type=string"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl" json:"refresh_ttl,omitempty" jsonschema:"type=string"`
	Bytes         int           `koanf:"bytes" json:"bytes,omitempty" jsonschema:"minimum=16"`
	RotateRefresh bool          `koanf:"rotate_refresh" json:"rotate_refresh,omitempty"`
	PruneInterval time.Duration `koanf:"prune_interval" json:"prune_interval,omitempty" jsonschema:"type=string"`
}

// AccountsConfig configures account creation.
type AccountsConfig struct {
	AllowedEmailDomains []string `koanf:"allowed_email_domains" json:"allowed_email_domains,omitempty" jsonschema:"description=Glob patterns over the email domain; ** admits every domain"`
	ResendVerified      string   `koanf:"resend_verified" json:"resend_verified,omitempty" jsonschema:"enum=reject,enum=resend"`
}

// MailConfig configures notification delivery.
type MailConfig struct {
	Driver  string     `koanf:"driver" json:"driver,omitempty" jsonschema:"enum=log,enum=smtp"`
	From    string     `koanf:"from" json:"from,omitempty"`
	BaseURL string     `koanf:"base_url" json:"base_url,omitempty" jsonschema:"description=Origin used to build verification and reset links"`
	SMTP    SMTPConfig `koanf:"smtp" json:"smtp,omitempty"`
}

// SMTPConfig is the SMTP relay.
type SMTPConfig struct {
	Host     string        `koanf:"host" json:"host,omitempty"`
	Port     int           `koanf:"port" json:"port,omitempty" jsonschema:"minimum=1,maximum=65535"`
	Username string        `koanf:"username" json:"username,omitempty"`
	Password string        `koanf:"password" json:"password,omitempty" jsonschema:"description=Prefer the SMTP_PASSWORD environment variable"`
	Timeout  time.Duration `koanf:"timeout" json:"timeout,omitempty" jsonschema:"type=string,description=Upper bound on one delivery from dial to QUIT"`
}

// OAuthConfig holds provider registrations. A provider without a client id
// and secret is disabled.
type OAuthConfig struct {
	Google ProviderConfig `koanf:"google" json:"google,omitempty"`
	GitHub ProviderConfig `koanf:"github" json:"github,omitempty"`
}

// ProviderConfig is one OAuth client registration.
type ProviderConfig struct {
	ClientID     string   `koanf:"client_id" json:"client_id,omitempty"`
	ClientSecret string   `koanf:"client_secret" json:"client_secret,omitempty"`
	RedirectURL  string   `koanf:"redirect_url" json:"redirect_url,omitempty"`
	Scopes       []string `koanf:"scopes" json:"scopes,omitempty"`
}

// Default returns the built-in configuration: in-process SQLite under the
// XDG data directory and log-only mail.
func Default() *Config {
	return &Config{
		Log:         LogConfig{Format: "json", Level: "info"},
		MetricsAddr: "127.0.0.1:9101",
		Database: DatabaseConfig{
			Driver:         string(store.DialectSQLite),
			SQLitePath:     DefaultSQLitePath(),
			ConnectRetries: store.DefaultConnectRetries,
			ConnectTimeout: store.DefaultConnectTimeout,
			AutoMigrate:    true,
		},
		Tokens: TokensConfig{
			AccessTTL:     auth.DefaultAccessTTL,
			RefreshTTL:    auth.DefaultRefreshTTL,
			Bytes:         auth.DefaultTokenBytes,
			RotateRefresh: true,
			PruneInterval: auth.DefaultPruneInterval,
		},
		Accounts: AccountsConfig{
			AllowedEmailDomains: []string{auth.AllowAllDomains},
			ResendVerified:      string(auth.ResendReject),
		},
		Mail: MailConfig{
			Driver:  notify.DriverLog,
			From:    "accountd <no-reply@localhost>",
			BaseURL: "http://localhost:8080",
			SMTP:    SMTPConfig{Port: 587, Timeout: notify.DefaultSMTPTimeout},
		},
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, oops.With("field", field).Errorf(format, args...))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "unknown log level %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		add("log.format", "log format must be json or text, got %q", c.Log.Format)
	}

	switch dialect, err := store.ParseDialect(c.Database.Driver); {
	case err != nil:
		add("database.driver", "unknown database driver %q", c.Database.Driver)
	case dialect == store.DialectPostgres && c.Database.URL == "":
		add("database.url", "database url is required for postgres")
	case dialect == store.DialectSQLite && c.Database.SQLitePath == "":
		add("database.sqlite_path", "sqlite path is required for sqlite")
	}
	if c.Database.ConnectTimeout <= 0 {
		add("database.connect_timeout", "connect timeout must be positive")
	}

	if c.Tokens.AccessTTL <= 0 {
		add("tokens.access_ttl", "access ttl must be positive")
	}
	if c.Tokens.RefreshTTL <= 0 {
		add("tokens.refresh_ttl", "refresh ttl must be positive")
	}
	if c.Tokens.AccessTTL >= c.Tokens.RefreshTTL {
		add("tokens.access_ttl", "access ttl %s must be shorter than refresh ttl %s", c.Tokens.AccessTTL, c.Tokens.RefreshTTL)
	}
	if c.Tokens.Bytes < auth.MinTokenBytes {
		add("tokens.bytes", "token bytes must be at least %d", auth.MinTokenBytes)
	}
	if c.Tokens.PruneInterval <= 0 {
		add("tokens.prune_interval", "prune interval must be positive")
	}

	if _, err := auth.NewRegistrationPolicy(c.Accounts.AllowedEmailDomains); err != nil {
		add("accounts.allowed_email_domains", "%v", err)
	}
	if !auth.ResendPolicy(c.Accounts.ResendVerified).Valid() {
		add("accounts.resend_verified", "resend policy must be reject or resend, got %q", c.Accounts.ResendVerified)
	}

	switch strings.ToLower(c.Mail.Driver) {
	case notify.DriverLog:
	case notify.DriverSMTP:
		if err := c.smtp().Validate(); err != nil {
			add("mail.smtp", "%v", err)
		}
	default:
		add("mail.driver", "mail driver must be log or smtp, got %q", c.Mail.Driver)
	}
	if u, err := url.Parse(c.Mail.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("mail.base_url", "base url must be an absolute URL, got %q", c.Mail.BaseURL)
	}

	for provider, p := range c.providers() {
		if (p.ClientID == "") != (p.ClientSecret == "") {
			add("oauth."+string(provider), "client_id and client_secret must be set together")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return oops.Code("CONFIG_INVALID").
		With("problems", len(errs)).
		Wrap(errors.Join(errs...))
}

func (c *Config) providers() map[auth.Provider]ProviderConfig {
	return map[auth.Provider]ProviderConfig{
		auth.ProviderGoogle: c.OAuth.Google,
		auth.ProviderGitHub: c.OAuth.GitHub,
	}
}

func (c *Config) smtp() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.Mail.SMTP.Host,
		Port:     c.Mail.SMTP.Port,
		Username: c.Mail.SMTP.Username,
		Password: c.Mail.SMTP.Password,
		From:     c.Mail.From,
		Timeout:  c.Mail.SMTP.Timeout,
	}
}

// Dialect returns the configured storage backend.
func (c *Config) Dialect() (store.Dialect, error) {
	return store.ParseDialect(c.Database.Driver)
}

// SessionConfig returns the token lifetimes.
func (c *Config) SessionConfig() auth.SessionConfig {
	return auth.SessionConfig{AccessTTL: c.Tokens.AccessTTL, RefreshTTL: c.Tokens.RefreshTTL}
}

// RegistrationPolicy compiles the allowed email domains.
func (c *Config) RegistrationPolicy() (*auth.RegistrationPolicy, error) {
	return auth.NewRegistrationPolicy(c.Accounts.AllowedEmailDomains)
}

// AuthenticatorConfig returns the flow settings with the given exchangers.
func (c *Config) AuthenticatorConfig(exchangers map[auth.Provider]auth.IdentityExchanger) auth.AuthenticatorConfig {
	return auth.AuthenticatorConfig{
		Exchangers:     exchangers,
		RotateRefresh:  c.Tokens.RotateRefresh,
		ResendVerified: auth.ResendPolicy(c.Accounts.ResendVerified),
	}
}

// OAuthConfigs returns the provider registrations keyed by provider.
func (c *Config) OAuthConfigs() map[auth.Provider]oauth.Config {
	out := make(map[auth.Provider]oauth.Config, len(auth.Providers))
	for provider, p := range c.providers() {
		out[provider] = oauth.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       p.Scopes,
		}
	}
	return out
}

// NotifyOptions returns sender options for the configured mail driver.
func (c *Config) NotifyOptions(logger *slog.Logger) notify.Options {
	return notify.Options{
		Driver:  c.Mail.Driver,
		BaseURL: c.Mail.BaseURL,
		SMTP:    c.smtp(),
		Logger:  logger,
	}
}

// LoggingOptions returns the logger settings.
func (c *Config) LoggingOptions() logging.Options {
	level, _ := logging.ParseLevel(c.Log.Level) //nolint:errcheck // Validate rejects unknown levels
	return logging.Options{Format: c.Log.Format, Level: level}
}
