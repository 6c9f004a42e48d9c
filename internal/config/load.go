// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/accountd/internal/xdg"
)

// FileName is the config file looked up in the XDG config directory.
const FileName = "config.yaml"

// DefaultPath returns $XDG_CONFIG_HOME/accountd/config.yaml, or "" when
// no config directory can be determined.
func DefaultPath() string {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, FileName)
}

// DefaultSQLitePath returns the database file under the XDG data
// directory, or a file in the working directory when there is none.
func DefaultSQLitePath() string {
	dir, err := xdg.DataDir()
	if err != nil {
		return "accountd.db"
	}
	return filepath.Join(dir, "accountd.db")
}

// flagKeys maps command-line flags to config keys. Only flags the user set
// explicitly override the file.
var flagKeys = map[string]string{
	"log-format":      "log.format",
	"log-level":       "log.level",
	"metrics-addr":    "metrics_addr",
	"database-driver": "database.driver",
	"database-url":    "database.url",
	"sqlite-path":     "database.sqlite_path",
	"mail-driver":     "mail.driver",
	"base-url":        "mail.base_url",
}

// FlagKey returns the config key bound to a flag name.
func FlagKey(name string) (string, bool) {
	key, ok := flagKeys[name]
	return key, ok
}

// secrets are read from the environment after the file and flags, so they
// never need to be written to disk.
type secrets struct {
	DatabaseURL        string `env:"DATABASE_URL"`
	SMTPPassword       string `env:"SMTP_PASSWORD"`
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
}

// LoadOptions controls where configuration comes from.
type LoadOptions struct {
	// Path is an explicit config file. It must exist. When empty,
	// DefaultPath is used if present.
	Path string
	// Flags supplies command-line overrides.
	Flags *pflag.FlagSet
	// EnvFiles are dotenv files loaded into the process environment when
	// present. Existing variables are not overwritten.
	EnvFiles []string
	// Environment replaces the process environment for secret lookup.
	Environment map[string]string
}

// Load builds the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	cfg, err := load(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(opts LoadOptions) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	path, err := resolvePath(opts.Path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("source", "flags").Wrap(err)
		}
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}
	if err := applySecrets(cfg, opts.Environment); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", oops.Code("CONFIG_READ_FAILED").With("path", explicit).Wrap(err)
		}
		return explicit, nil
	}
	def := DefaultPath()
	if def == "" {
		return "", nil
	}
	if _, err := os.Stat(def); err == nil {
		return def, nil
	}
	return "", nil
}

func loadEnvFiles(paths []string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return oops.Code("CONFIG_ENV_FILE_FAILED").With("path", p).Wrap(err)
		}
	}
	return nil
}

func applySecrets(cfg *Config, environment map[string]string) error {
	var s secrets
	if err := env.ParseWithOptions(&s, env.Options{Environment: environment}); err != nil {
		return oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.URL, s.DatabaseURL)
	override(&cfg.Mail.SMTP.Password, s.SMTPPassword)
	override(&cfg.OAuth.Google.ClientID, s.GoogleClientID)
	override(&cfg.OAuth.Google.ClientSecret, s.GoogleClientSecret)
	override(&cfg.OAuth.GitHub.ClientID, s.GitHubClientID)
	override(&cfg.OAuth.GitHub.ClientSecret, s.GitHubClientSecret)
	return nil
}
