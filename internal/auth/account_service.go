// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accountd/pkg/errutil"
)

// Notification kinds, used as metric labels.
const (
	NotificationSignupWelcome = "signup_welcome"
	NotificationPasswordReset = "password_reset"
)

// NewAccount is the input to CreateAccount.
type NewAccount struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Profile is the editable part of an account.
type Profile struct {
	Email     string
	FirstName string
	LastName  string
}

// AccountService owns the account lifecycle.
type AccountService struct {
	accounts  AccountRepository
	hasher    PasswordHasher
	notifier  Notifier
	generator TokenGenerator
	policy    *RegistrationPolicy
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewAccountService creates an AccountService.
func NewAccountService(accounts AccountRepository, hasher PasswordHasher, notifier Notifier, opts ...Option) (*AccountService, error) {
	if accounts == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Code("ACCOUNT_SERVICE_INVALID").Errorf("notifier is required")
	}
	o := buildOptions(opts)
	return &AccountService{
		accounts:  accounts,
		hasher:    hasher,
		notifier:  notifier,
		generator: o.generator,
		policy:    o.policy,
		recorder:  o.recorder,
		logger:    o.logger,
		now:       o.now,
	}, nil
}

// CreateAccount registers a password account, unverified, and sends the
// sign-up welcome carrying the verification token.
func (s *AccountService) CreateAccount(ctx context.Context, in NewAccount) (*User, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, ErrEmptyPassword
	}
	if err := s.policy.Check(email); err != nil {
		return nil, err
	}

	inUse, err := s.IsEmailInUse(ctx, email, ulid.ULID{})
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, emailInUse(email)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").With("operation", "hash password").Wrap(err)
	}

	token, err := s.generator.Generate()
	if err != nil {
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").With("operation", "generate signup token").Wrap(err)
	}

	now := s.now().UTC()
	user := &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         RoleUser,
		SignupToken:  token,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.accounts.Insert(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, emailInUse(email)
		}
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").With("operation", "insert account").Wrap(err)
	}

	s.logger.InfoContext(ctx, "account created", "user_id", user.ID.String())
	s.DeliverSignupWelcome(ctx, user, token)

	return user, nil
}

// CreateOAuthAccount registers an account vouched for by provider. The
// account is verified, has no password, and sends no notification.
func (s *AccountService) CreateOAuthAccount(ctx context.Context, identity Identity, provider Provider) (*User, error) {
	if _, err := ParseProvider(string(provider)); err != nil {
		return nil, err
	}
	email, err := NormalizeEmail(identity.Email)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Check(email); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &User{
		ID:            ulid.Make(),
		Email:         email,
		FirstName:     strings.TrimSpace(identity.FirstName),
		LastName:      strings.TrimSpace(identity.LastName),
		Role:          RoleUser,
		EmailVerified: true,
		OAuth:         OAuthLinks{}.With(provider),
		LastRequestAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.accounts.Insert(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, emailInUse(email)
		}
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert oauth account").
			With("provider", string(provider)).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "oauth account created", "user_id", user.ID.String(), "provider", string(provider))
	return user, nil
}

// FindByID returns the account with the given ID.
func (s *AccountService) FindByID(ctx context.Context, id ulid.ULID) (*User, error) {
	if isZeroULID(id) {
		return nil, accountNotFound("id")
	}
	return s.findOne(ctx, UserFilter{ID: id}, "id")
}

// FindByEmail returns the account registered under email, ignoring case.
func (s *AccountService) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, accountNotFound("email")
	}
	return s.findOne(ctx, UserFilter{Email: email}, "email")
}

// FindBySignupToken returns the account holding the exact signup token.
func (s *AccountService) FindBySignupToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, accountNotFound("signup_token")
	}
	return s.findOne(ctx, UserFilter{SignupToken: token}, "signup_token")
}

// FindByResetToken returns the account holding the exact reset token.
func (s *AccountService) FindByResetToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, accountNotFound("reset_token")
	}
	return s.findOne(ctx, UserFilter{ResetPasswordToken: token}, "reset_token")
}

// IsEmailInUse reports whether an account other than excludeID holds email.
func (s *AccountService) IsEmailInUse(ctx context.Context, email string, excludeID ulid.ULID) (bool, error) {
	_, err := s.accounts.FindOne(ctx, UserFilter{Email: email, ExcludeID: excludeID})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, oops.Code("ACCOUNT_LOOKUP_FAILED").With("by", "email").Wrap(err)
	}
}

// VerifyEmail marks the account verified, clears its signup token, and
// refreshes its last-request time. Verifying twice is not an error.
func (s *AccountService) VerifyEmail(ctx context.Context, id ulid.ULID) error {
	now := s.now().UTC()
	return s.update(ctx, id, UserPatch{
		MarkVerified:  true,
		SignupToken:   stringPtr(""),
		LastRequestAt: &now,
	}, "verify email")
}

// RecordActivity sets the last-request time to now.
func (s *AccountService) RecordActivity(ctx context.Context, id ulid.ULID) error {
	now := s.now().UTC()
	return s.update(ctx, id, UserPatch{LastRequestAt: &now}, "record activity")
}

// BeginPasswordReset returns the pending reset token, issuing one if none
// exists. Repeated requests never replace a pending token. Two concurrent
// first requests may both issue; the later write wins.
func (s *AccountService) BeginPasswordReset(ctx context.Context, id ulid.ULID) (string, error) {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if user.ResetPasswordToken != "" {
		return user.ResetPasswordToken, nil
	}

	token, err := s.generator.Generate()
	if err != nil {
		return "", oops.Code("RESET_BEGIN_FAILED").With("operation", "generate reset token").Wrap(err)
	}
	if err := s.update(ctx, id, UserPatch{ResetPasswordToken: &token}, "store reset token"); err != nil {
		return "", err
	}
	return token, nil
}

// CompletePasswordReset sets a new password and clears the reset token in
// one update.
func (s *AccountService) CompletePasswordReset(ctx context.Context, id ulid.ULID, newPassword string) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return err
		}
		return oops.Code("RESET_COMPLETE_FAILED").With("operation", "hash password").Wrap(err)
	}
	return s.update(ctx, id, UserPatch{
		PasswordHash:       &hash,
		ResetPasswordToken: stringPtr(""),
	}, "complete password reset")
}

// LinkOAuth marks provider as linked to the account.
func (s *AccountService) LinkOAuth(ctx context.Context, id ulid.ULID, provider Provider) error {
	if _, err := ParseProvider(string(provider)); err != nil {
		return err
	}
	return s.update(ctx, id, UserPatch{LinkProvider: provider}, "link oauth provider")
}

// UpdateProfile changes email and names. Fails with ErrConflict when the
// email belongs to another account.
func (s *AccountService) UpdateProfile(ctx context.Context, id ulid.ULID, profile Profile) (*User, error) {
	email, err := NormalizeEmail(profile.Email)
	if err != nil {
		return nil, err
	}
	if err := validateName("first name", profile.FirstName); err != nil {
		return nil, err
	}
	if err := validateName("last name", profile.LastName); err != nil {
		return nil, err
	}

	current, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(current.Email, email) {
		if err := s.policy.Check(email); err != nil {
			return nil, err
		}
	}

	inUse, err := s.IsEmailInUse(ctx, email, id)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, emailInUse(email)
	}

	first := strings.TrimSpace(profile.FirstName)
	last := strings.TrimSpace(profile.LastName)
	patch := UserPatch{Email: &email, FirstName: &first, LastName: &last}
	if err := s.update(ctx, id, patch, "update profile"); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, emailInUse(email)
		}
		return nil, err
	}

	updated := patch.Apply(*current, s.now().UTC())
	return &updated, nil
}

// EnsureSignupToken returns the pending signup token of an unverified
// account, issuing one if it has none.
func (s *AccountService) EnsureSignupToken(ctx context.Context, id ulid.ULID) (string, error) {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if user.EmailVerified {
		return "", oops.Code("ACCOUNT_ALREADY_VERIFIED").
			With("user_id", id.String()).
			Wrapf(ErrInvalidState, "email is already verified")
	}
	if user.SignupToken != "" {
		return user.SignupToken, nil
	}

	token, err := s.generator.Generate()
	if err != nil {
		return "", oops.Code("SIGNUP_TOKEN_FAILED").With("operation", "generate signup token").Wrap(err)
	}
	if err := s.update(ctx, id, UserPatch{SignupToken: &token}, "store signup token"); err != nil {
		return "", err
	}
	return token, nil
}

// ChangePassword replaces the password after checking the current one.
// OAuth-only accounts have no password to change.
func (s *AccountService) ChangePassword(ctx context.Context, id ulid.ULID, current, next string) error {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !user.HasPassword() {
		return oops.Code("ACCOUNT_NO_PASSWORD").
			With("user_id", id.String()).
			Wrapf(ErrInvalidState, "account has no password")
	}

	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return oops.Code("PASSWORD_CHANGE_FAILED").With("operation", "verify password").Wrap(err)
	}
	if !ok {
		return oops.Code("AUTH_INVALID_CREDENTIALS").Wrapf(ErrUnauthorized, "invalid password")
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return err
		}
		return oops.Code("PASSWORD_CHANGE_FAILED").With("operation", "hash password").Wrap(err)
	}
	return s.update(ctx, id, UserPatch{
		PasswordHash:       &hash,
		ResetPasswordToken: stringPtr(""),
	}, "change password")
}

// UpgradePasswordHash re-hashes password with the current algorithm.
func (s *AccountService) UpgradePasswordHash(ctx context.Context, id ulid.ULID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return oops.Code("PASSWORD_UPGRADE_FAILED").With("operation", "hash password").Wrap(err)
	}
	return s.update(ctx, id, UserPatch{PasswordHash: &hash}, "upgrade password hash")
}

// DeliverSignupWelcome sends the welcome notification. An empty token on a
// verified account sends the already-verified variant. Failures are logged.
func (s *AccountService) DeliverSignupWelcome(ctx context.Context, user *User, token string) {
	msg := SignupWelcome{
		Email:           user.Email,
		FirstName:       user.FirstName,
		Token:           token,
		AlreadyVerified: user.EmailVerified && token == "",
	}
	s.deliver(ctx, NotificationSignupWelcome, user.ID, func() error {
		return s.notifier.SendSignupWelcome(ctx, msg)
	})
}

// DeliverPasswordReset sends the reset notification. Failures are logged.
func (s *AccountService) DeliverPasswordReset(ctx context.Context, user *User, token string) {
	msg := PasswordReset{Email: user.Email, FirstName: user.FirstName, Token: token}
	s.deliver(ctx, NotificationPasswordReset, user.ID, func() error {
		return s.notifier.SendPasswordReset(ctx, msg)
	})
}

func (s *AccountService) deliver(ctx context.Context, kind string, userID ulid.ULID, send func() error) {
	if err := send(); err != nil {
		s.recorder.RecordNotification(kind, "failure")
		errutil.LogWarn(ctx, s.logger, "notification delivery failed", oops.
			Code("NOTIFICATION_FAILED").
			With("kind", kind).
			With("user_id", userID.String()).
			Wrapf(errors.Join(ErrUpstream, err), "deliver %s", kind))
		return
	}
	s.recorder.RecordNotification(kind, "success")
}

func (s *AccountService) findOne(ctx context.Context, filter UserFilter, by string) (*User, error) {
	user, err := s.accounts.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, accountNotFound(by)
		}
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").With("by", by).Wrap(err)
	}
	return user, nil
}

func (s *AccountService) update(ctx context.Context, id ulid.ULID, patch UserPatch, operation string) error {
	if isZeroULID(id) {
		return accountNotFound("id")
	}
	if err := s.accounts.UpdateFields(ctx, id, patch); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("ACCOUNT_NOT_FOUND").
				With("user_id", id.String()).
				With("operation", operation).
				Wrapf(ErrNotFound, "account not found")
		}
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("user_id", id.String()).
			With("operation", operation).
			Wrap(err)
	}
	return nil
}

func accountNotFound(by string) error {
	return oops.Code("ACCOUNT_NOT_FOUND").With("by", by).Wrapf(ErrNotFound, "account not found")
}

func emailInUse(email string) error {
	return oops.Code("ACCOUNT_EMAIL_IN_USE").
		With("email", email).
		Wrapf(ErrConflict, "email is already in use")
}
