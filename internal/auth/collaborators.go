// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "context"

// SignupWelcome is the payload of a sign-up welcome notification.
// AlreadyVerified is set when a welcome is re-sent to a verified account;
// Token is empty in that case.
type SignupWelcome struct {
	Email           string
	FirstName       string
	Token           string
	AlreadyVerified bool
}

// PasswordReset is the payload of a password-reset notification.
type PasswordReset struct {
	Email     string
	FirstName string
	Token     string
}

// Notifier delivers account notifications. Delivery is fire-and-forget from
// the caller's perspective: a failure never unwinds the mutation before it.
type Notifier interface {
	SendSignupWelcome(ctx context.Context, msg SignupWelcome) error
	SendPasswordReset(ctx context.Context, msg PasswordReset) error
}

// Identity is the profile asserted by an OAuth identity provider.
type Identity struct {
	Email     string
	FirstName string
	LastName  string
}

// IdentityExchanger turns an OAuth authorization code into an identity.
// It returns (nil, nil) when the code is invalid or expired, or when the
// provider does not vouch for an email address.
type IdentityExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*Identity, error)
}

// Transactor runs fn inside a storage transaction. Repositories called with
// the context passed to fn participate in that transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Recorder receives flow and notification outcomes for metrics.
type Recorder interface {
	RecordFlow(flow, outcome string)
	RecordNotification(kind, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordFlow(string, string)         {}
func (nopRecorder) RecordNotification(string, string) {}

// NopTransactor runs fn directly without a transaction.
type NopTransactor struct{}

// InTransaction calls fn with ctx.
func (NopTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
