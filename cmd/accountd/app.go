// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/internal/config"
	"github.com/holomush/accountd/internal/observability"
)

// App is the wired account engine.
type App struct {
	Backend       *Backend
	Accounts      *auth.AccountService
	Sessions      *auth.SessionService
	Authenticator *auth.Authenticator
	Retention     *auth.RetentionWorker
}

// Close releases storage.
func (a *App) Close() {
	a.Backend.Close()
}

// buildApp wires the services over the configured backend. metrics may be
// nil; notifyOut receives rendered copy when the log mail driver is used.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Deps, metrics *observability.Metrics, notifyOut io.Writer) (*App, error) {
	policy, err := cfg.RegistrationPolicy()
	if err != nil {
		return nil, err
	}

	notifyOpts := cfg.NotifyOptions(logger)
	notifyOpts.Out = notifyOut
	notifier, err := deps.NotifierFactory(notifyOpts)
	if err != nil {
		return nil, err
	}

	exchangers, err := deps.ExchangerFactory(cfg.OAuthConfigs())
	if err != nil {
		return nil, err
	}

	backend, err := deps.BackendFactory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithRegistrationPolicy(policy),
		auth.WithTokenGenerator(auth.NewRandomTokenGenerator(cfg.Tokens.Bytes)),
	}
	var pruned auth.PruneRecorder
	if metrics != nil {
		opts = append(opts, auth.WithRecorder(metrics))
		pruned = metrics
	}

	hasher := deps.HasherFactory()
	accounts, err := auth.NewAccountService(backend.Accounts, hasher, notifier, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	sessions, err := auth.NewSessionService(backend.Tokens, backend.Tx, cfg.SessionConfig(), opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	authenticator, err := auth.NewAuthenticator(accounts, sessions, hasher, cfg.AuthenticatorConfig(exchangers), opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &App{
		Backend:       backend,
		Accounts:      accounts,
		Sessions:      sessions,
		Authenticator: authenticator,
		Retention:     auth.NewRetentionWorker(cfg.Tokens.PruneInterval, sessions, pruned, auth.WithLogger(logger)),
	}, nil
}
