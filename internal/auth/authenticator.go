// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/accountd/pkg/errutil"
)

const tracerName = "github.com/holomush/accountd/internal/auth"

// Flow names, used as span names and metric labels.
const (
	FlowSignUp             = "sign_up"
	FlowVerifyEmail        = "verify_email"
	FlowSignIn             = "sign_in"
	FlowSignInOAuth        = "sign_in_oauth"
	FlowForgotPassword     = "forgot_password"
	FlowResetPassword      = "reset_password"
	FlowResendVerification = "resend_verification"
	FlowRefresh            = "refresh"
	FlowLogout             = "logout"
	FlowAuthenticate       = "authenticate"
	FlowUpdateProfile      = "update_profile"
	FlowChangePassword     = "change_password"
)

// ResendPolicy decides what resend-verification does for a verified account.
type ResendPolicy string

// Resend policies.
const (
	ResendReject ResendPolicy = "reject"
	ResendResend ResendPolicy = "resend"
)

// Valid reports whether p is a known policy.
func (p ResendPolicy) Valid() bool {
	return p == ResendReject || p == ResendResend
}

// AccountManager is the account surface the Authenticator drives.
// *AccountService implements it.
type AccountManager interface {
	CreateAccount(ctx context.Context, in NewAccount) (*User, error)
	CreateOAuthAccount(ctx context.Context, identity Identity, provider Provider) (*User, error)
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindBySignupToken(ctx context.Context, token string) (*User, error)
	FindByResetToken(ctx context.Context, token string) (*User, error)
	VerifyEmail(ctx context.Context, id ulid.ULID) error
	RecordActivity(ctx context.Context, id ulid.ULID) error
	BeginPasswordReset(ctx context.Context, id ulid.ULID) (string, error)
	CompletePasswordReset(ctx context.Context, id ulid.ULID, newPassword string) error
	LinkOAuth(ctx context.Context, id ulid.ULID, provider Provider) error
	UpdateProfile(ctx context.Context, id ulid.ULID, profile Profile) (*User, error)
	EnsureSignupToken(ctx context.Context, id ulid.ULID) (string, error)
	ChangePassword(ctx context.Context, id ulid.ULID, current, next string) error
	UpgradePasswordHash(ctx context.Context, id ulid.ULID, password string) error
	DeliverSignupWelcome(ctx context.Context, user *User, token string)
	DeliverPasswordReset(ctx context.Context, user *User, token string)
}

// SessionManager is the token surface the Authenticator drives.
// *SessionService implements it.
type SessionManager interface {
	IssueTokenPair(ctx context.Context, userID ulid.ULID) (*TokenPair, error)
	Lookup(ctx context.Context, value string) (*Token, error)
	ResolveUserID(ctx context.Context, value string) (ulid.ULID, bool, error)
	RevokeAll(ctx context.Context, userID ulid.ULID) (int64, error)
	Rotate(ctx context.Context, refreshValue string) (*Token, *TokenPair, error)
}

// Session is the result of a flow that signs the caller in.
type Session struct {
	User   *User
	Tokens *TokenPair
}

// AuthenticatorConfig configures the Authenticator.
type AuthenticatorConfig struct {
	// Exchangers maps each enabled OAuth provider to its code exchanger.
	Exchangers map[Provider]IdentityExchanger

	// RotateRefresh revokes the presented refresh token when a new pair is
	// issued from it.
	RotateRefresh bool

	// ResendVerified applies to resend-verification on verified accounts.
	ResendVerified ResendPolicy
}

// DefaultAuthenticatorConfig returns rotation on and resend rejection.
func DefaultAuthenticatorConfig() AuthenticatorConfig {
	return AuthenticatorConfig{RotateRefresh: true, ResendVerified: ResendReject}
}

// Authenticator runs the request-scoped authentication flows. It holds no
// mutable state and never retries.
type Authenticator struct {
	accounts  AccountManager
	sessions  SessionManager
	hasher    PasswordHasher
	cfg       AuthenticatorConfig
	dummyHash string
	recorder  Recorder
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(accounts AccountManager, sessions SessionManager, hasher PasswordHasher, cfg AuthenticatorConfig, opts ...Option) (*Authenticator, error) {
	if accounts == nil {
		return nil, oops.Code("AUTHENTICATOR_INVALID").Errorf("account manager is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTHENTICATOR_INVALID").Errorf("session manager is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTHENTICATOR_INVALID").Errorf("password hasher is required")
	}
	if cfg.ResendVerified == "" {
		cfg.ResendVerified = ResendReject
	}
	if !cfg.ResendVerified.Valid() {
		return nil, oops.Code("AUTHENTICATOR_INVALID").
			With("resend_verified", string(cfg.ResendVerified)).
			Wrapf(ErrInvalidInput, "unknown resend policy")
	}

	// Verified against when the account is missing so a miss costs the same
	// as a wrong password.
	dummy, err := hasher.Hash("accountd-timing-equalizer")
	if err != nil {
		return nil, oops.Code("AUTHENTICATOR_INVALID").With("operation", "hash dummy password").Wrap(err)
	}

	o := buildOptions(opts)
	return &Authenticator{
		accounts:  accounts,
		sessions:  sessions,
		hasher:    hasher,
		cfg:       cfg,
		dummyHash: dummy,
		recorder:  o.recorder,
		logger:    o.logger,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// begin opens the span for flow. The returned func ends it and records the
// outcome; call it with a pointer to the flow's named error.
func (a *Authenticator) begin(ctx context.Context, flow string) (context.Context, func(*error)) {
	ctx, span := a.tracer.Start(ctx, "auth."+flow, trace.WithAttributes(attribute.String("auth.flow", flow)))
	return ctx, func(errp *error) {
		outcome := "success"
		if err := *errp; err != nil {
			outcome = string(KindOf(err))
			span.RecordError(err)
			span.SetAttributes(attribute.String("error.kind", outcome))
			span.SetStatus(codes.Error, outcome)
		}
		a.recorder.RecordFlow(flow, outcome)
		span.End()
	}
}

// SignUp creates an unverified password account. The welcome notification
// carries the signup token; no session is issued.
func (a *Authenticator) SignUp(ctx context.Context, in NewAccount) (user *User, err error) {
	ctx, end := a.begin(ctx, FlowSignUp)
	defer end(&err)

	return a.accounts.CreateAccount(ctx, in)
}

// VerifyEmail consumes a signup token, marks the account verified, and
// signs it in.
func (a *Authenticator) VerifyEmail(ctx context.Context, signupToken string) (sess *Session, err error) {
	ctx, end := a.begin(ctx, FlowVerifyEmail)
	defer end(&err)

	user, err := a.accounts.FindBySignupToken(ctx, signupToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SIGNUP_TOKEN_INVALID").Wrapf(ErrNotFound, "unknown signup token")
		}
		return nil, err
	}
	if err := a.accounts.VerifyEmail(ctx, user.ID); err != nil {
		return nil, err
	}
	user.EmailVerified = true
	user.SignupToken = ""

	return a.issue(ctx, user)
}

// SignIn checks email and password. Every rejection returns the same
// error so callers cannot tell which check failed.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (sess *Session, err error) {
	ctx, end := a.begin(ctx, FlowSignIn)
	defer end(&err)

	user, err := a.accounts.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		_, _ = a.hasher.Verify(password, a.dummyHash) //nolint:errcheck // timing only
		return nil, invalidCredentials()
	}
	if !user.HasPassword() {
		_, _ = a.hasher.Verify(password, a.dummyHash) //nolint:errcheck // timing only
		return nil, invalidCredentials()
	}

	ok, err := a.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").With("user_id", user.ID.String()).Wrap(err)
	}
	if !ok || !user.EmailVerified {
		return nil, invalidCredentials()
	}

	if a.hasher.NeedsUpgrade(user.PasswordHash) {
		if err := a.accounts.UpgradePasswordHash(ctx, user.ID, password); err != nil {
			errutil.LogWarn(ctx, a.logger, "password hash upgrade failed", oops.With("user_id", user.ID.String()).Wrap(err))
		}
	}

	return a.issue(ctx, user)
}

// SignInOAuth exchanges an authorization code with provider and signs in
// the account registered under the asserted email, creating or linking it
// as needed.
func (a *Authenticator) SignInOAuth(ctx context.Context, provider Provider, code string) (sess *Session, err error) {
	ctx, end := a.begin(ctx, FlowSignInOAuth)
	defer end(&err)

	provider, err = ParseProvider(string(provider))
	if err != nil {
		return nil, err
	}
	exchanger, ok := a.cfg.Exchangers[provider]
	if !ok || exchanger == nil {
		return nil, oops.Code("OAUTH_PROVIDER_DISABLED").
			With("provider", string(provider)).
			Wrapf(ErrInvalidInput, "provider %s is not enabled", provider)
	}

	identity, err := exchanger.ExchangeCode(ctx, code)
	if err != nil {
		return nil, oops.Code("OAUTH_EXCHANGE_FAILED").
			With("provider", string(provider)).
			Wrapf(errors.Join(ErrUpstream, err), "identity exchange failed")
	}
	if identity == nil || strings.TrimSpace(identity.Email) == "" {
		return nil, oops.Code("OAUTH_NO_IDENTITY").
			With("provider", string(provider)).
			Wrapf(ErrUnauthorized, "provider returned no identity")
	}

	user, err := a.accounts.FindByEmail(ctx, identity.Email)
	switch {
	case errors.Is(err, ErrNotFound):
		user, err = a.accounts.CreateOAuthAccount(ctx, *identity, provider)
		if errors.Is(err, ErrConflict) {
			// Created by a concurrent first sign-in.
			user, err = a.accounts.FindByEmail(ctx, identity.Email)
			if err == nil && !user.OAuth.Has(provider) {
				err = a.link(ctx, user, provider)
			}
		}
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case !user.OAuth.Has(provider):
		if err := a.link(ctx, user, provider); err != nil {
			return nil, err
		}
	}

	return a.issue(ctx, user)
}

func (a *Authenticator) link(ctx context.Context, user *User, provider Provider) error {
	if err := a.accounts.LinkOAuth(ctx, user.ID, provider); err != nil {
		return err
	}
	user.OAuth = user.OAuth.With(provider)
	a.logger.InfoContext(ctx, "oauth provider linked", "user_id", user.ID.String(), "provider", string(provider))
	return nil
}

// ForgotPassword starts a password reset and sends the reset token.
// Repeated calls resend the pending token.
func (a *Authenticator) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, end := a.begin(ctx, FlowForgotPassword)
	defer end(&err)

	user, err := a.accounts.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	token, err := a.accounts.BeginPasswordReset(ctx, user.ID)
	if err != nil {
		return err
	}
	a.accounts.DeliverPasswordReset(ctx, user, token)
	return nil
}

// ResetPassword consumes a reset token, sets the new password, and revokes
// every session of the account.
func (a *Authenticator) ResetPassword(ctx context.Context, resetToken, newPassword string) (err error) {
	ctx, end := a.begin(ctx, FlowResetPassword)
	defer end(&err)

	user, err := a.accounts.FindByResetToken(ctx, resetToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_TOKEN_INVALID").Wrapf(ErrNotFound, "unknown reset token")
		}
		return err
	}
	if err := a.accounts.CompletePasswordReset(ctx, user.ID, newPassword); err != nil {
		return err
	}
	if _, err := a.sessions.RevokeAll(ctx, user.ID); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "password reset completed", "user_id", user.ID.String())
	return nil
}

// ResendVerification resends the signup welcome. Verified accounts are
// handled according to the configured ResendPolicy.
func (a *Authenticator) ResendVerification(ctx context.Context, email string) (err error) {
	ctx, end := a.begin(ctx, FlowResendVerification)
	defer end(&err)

	user, err := a.accounts.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	if user.EmailVerified {
		if a.cfg.ResendVerified == ResendReject {
			return oops.Code("ACCOUNT_ALREADY_VERIFIED").
				With("user_id", user.ID.String()).
				Wrapf(ErrInvalidState, "email is already verified")
		}
		a.accounts.DeliverSignupWelcome(ctx, user, "")
		return nil
	}

	token, err := a.accounts.EnsureSignupToken(ctx, user.ID)
	if err != nil {
		return err
	}
	a.accounts.DeliverSignupWelcome(ctx, user, token)
	return nil
}

// Refresh exchanges a refresh token for a new pair. With rotation enabled
// the presented token is spent.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (sess *Session, err error) {
	ctx, end := a.begin(ctx, FlowRefresh)
	defer end(&err)

	var (
		userID ulid.ULID
		pair   *TokenPair
	)
	if a.cfg.RotateRefresh {
		var spent *Token
		spent, pair, err = a.sessions.Rotate(ctx, refreshToken)
		if err != nil {
			return nil, sessionError(err)
		}
		userID = spent.UserID
	} else {
		tok, lookupErr := a.sessions.Lookup(ctx, refreshToken)
		if lookupErr != nil {
			return nil, sessionError(lookupErr)
		}
		if tok.Type != TokenTypeRefresh {
			return nil, invalidSession()
		}
		userID = tok.UserID
	}

	user, err := a.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, sessionError(err)
	}
	if err := a.accounts.RecordActivity(ctx, user.ID); err != nil {
		return nil, err
	}
	if pair == nil {
		pair, err = a.sessions.IssueTokenPair(ctx, user.ID)
		if err != nil {
			return nil, err
		}
	}
	return &Session{User: user, Tokens: pair}, nil
}

// Logout revokes every token of the caller identified by accessToken.
func (a *Authenticator) Logout(ctx context.Context, accessToken string) (err error) {
	ctx, end := a.begin(ctx, FlowLogout)
	defer end(&err)

	userID, err := a.resolve(ctx, accessToken)
	if err != nil {
		return err
	}
	n, err := a.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "logged out", "user_id", userID.String(), "revoked", n)
	return nil
}

// Authenticate returns the account owning accessToken and records activity.
func (a *Authenticator) Authenticate(ctx context.Context, accessToken string) (user *User, err error) {
	ctx, end := a.begin(ctx, FlowAuthenticate)
	defer end(&err)

	userID, err := a.resolve(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	user, err = a.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, sessionError(err)
	}
	if err := a.accounts.RecordActivity(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateProfile edits the profile of the caller identified by accessToken.
func (a *Authenticator) UpdateProfile(ctx context.Context, accessToken string, profile Profile) (user *User, err error) {
	ctx, end := a.begin(ctx, FlowUpdateProfile)
	defer end(&err)

	userID, err := a.resolve(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return a.accounts.UpdateProfile(ctx, userID, profile)
}

// ChangePassword replaces the caller's password and revokes every session,
// including the one used to make the call.
func (a *Authenticator) ChangePassword(ctx context.Context, accessToken, current, next string) (err error) {
	ctx, end := a.begin(ctx, FlowChangePassword)
	defer end(&err)

	userID, err := a.resolve(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := a.accounts.ChangePassword(ctx, userID, current, next); err != nil {
		return err
	}
	if _, err := a.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}
	return nil
}

func (a *Authenticator) issue(ctx context.Context, user *User) (*Session, error) {
	if err := a.accounts.RecordActivity(ctx, user.ID); err != nil {
		return nil, err
	}
	pair, err := a.sessions.IssueTokenPair(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Tokens: pair}, nil
}

func (a *Authenticator) resolve(ctx context.Context, accessToken string) (ulid.ULID, error) {
	tok, err := a.sessions.Lookup(ctx, accessToken)
	if err != nil {
		return ulid.ULID{}, sessionError(err)
	}
	if tok.Type != TokenTypeAccess {
		return ulid.ULID{}, invalidSession()
	}
	return tok.UserID, nil
}

// sessionError turns a missing token or owner into Unauthorized and passes
// other failures through.
func sessionError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return invalidSession()
	}
	return err
}

func invalidSession() error {
	return oops.Code("SESSION_INVALID").Wrapf(ErrUnauthorized, "invalid or expired session")
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrapf(ErrUnauthorized, "invalid email or password")
}
