// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/internal/config"
	"github.com/holomush/accountd/internal/notify"
	"github.com/holomush/accountd/internal/oauth"
	"github.com/holomush/accountd/internal/observability"
	"github.com/holomush/accountd/internal/store"
)

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// ConfigLoader builds the configuration.
	// Default: config.Load
	ConfigLoader func(opts config.LoadOptions) (*config.Config, error)

	// BackendFactory opens storage.
	// Default: openBackend
	BackendFactory func(ctx context.Context, cfg *config.Config) (*Backend, error)

	// MigratorFactory creates a schema migrator for the configured database.
	// Default: newMigrator
	MigratorFactory func(cfg *config.Config) (Migrator, error)

	// NotifierFactory creates the notification sender.
	// Default: notify.New
	NotifierFactory func(opts notify.Options) (auth.Notifier, error)

	// ExchangerFactory creates OAuth exchangers for enabled providers.
	// Default: oauth.NewExchangers
	ExchangerFactory func(cfgs map[auth.Provider]oauth.Config) (map[auth.Provider]auth.IdentityExchanger, error)

	// HasherFactory creates the password hasher.
	// Default: auth.NewArgon2idHasher
	HasherFactory func() auth.PasswordHasher

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// PasswordReader prompts for a secret on the terminal.
	// Default: readTerminalPassword
	PasswordReader func(cmd *cobra.Command, prompt string) (string, error)
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.ConfigLoader == nil {
		out.ConfigLoader = config.Load
	}
	if out.BackendFactory == nil {
		out.BackendFactory = openBackend
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = newMigrator
	}
	if out.NotifierFactory == nil {
		out.NotifierFactory = notify.New
	}
	if out.ExchangerFactory == nil {
		out.ExchangerFactory = oauth.NewExchangers
	}
	if out.HasherFactory == nil {
		out.HasherFactory = func() auth.PasswordHasher { return auth.NewArgon2idHasher() }
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if out.PasswordReader == nil {
		out.PasswordReader = readTerminalPassword
	}
	return &out
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// Migrator interface wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
	Dialect() store.Dialect
	Close() error
}

// readTerminalPassword reads a password without echo.
func readTerminalPassword(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // fd fits in int on supported platforms
	if !term.IsTerminal(fd) {
		return "", oops.Code("PASSWORD_INPUT_UNAVAILABLE").
			Errorf("stdin is not a terminal; use --password-stdin")
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", oops.Code("PASSWORD_INPUT_FAILED").Wrap(err)
	}
	return string(raw), nil
}

// secretSource hands out passwords from stdin lines or terminal prompts.
type secretSource struct {
	cmd   *cobra.Command
	read  func(cmd *cobra.Command, prompt string) (string, error)
	stdin *bufio.Scanner
}

func newSecretSource(cmd *cobra.Command, fromStdin bool, read func(*cobra.Command, string) (string, error)) *secretSource {
	s := &secretSource{cmd: cmd, read: read}
	if fromStdin {
		s.stdin = bufio.NewScanner(cmd.InOrStdin())
	}
	return s
}

// next returns the next secret. Lines read from stdin have their trailing
// carriage return removed.
func (s *secretSource) next(prompt string) (string, error) {
	if s.stdin == nil {
		return s.read(s.cmd, prompt)
	}
	if !s.stdin.Scan() {
		if err := s.stdin.Err(); err != nil {
			return "", oops.Code("PASSWORD_INPUT_FAILED").Wrap(err)
		}
		return "", oops.Code("PASSWORD_INPUT_FAILED").Errorf("expected a password line on stdin")
	}
	return strings.TrimRight(s.stdin.Text(), "\r"), nil
}
