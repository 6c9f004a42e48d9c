// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"log/slog"
	"time"
)

// options holds the optional collaborators shared by the services in this
// package. Each service reads only the fields it needs.
type options struct {
	logger    *slog.Logger
	now       func() time.Time
	recorder  Recorder
	policy    *RegistrationPolicy
	generator TokenGenerator
}

// Option configures a service.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source. Useful for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRecorder sets the metrics recorder. Defaults to a no-op recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithRegistrationPolicy restricts which email domains can create accounts.
func WithRegistrationPolicy(p *RegistrationPolicy) Option {
	return func(o *options) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithTokenGenerator overrides the generator used for signup, reset, and
// session tokens.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.generator = g
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:    slog.Default(),
		now:       time.Now,
		recorder:  nopRecorder{},
		policy:    AllowAll(),
		generator: NewRandomTokenGenerator(DefaultTokenBytes),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
