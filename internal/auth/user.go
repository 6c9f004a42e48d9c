// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinNameLength is the minimum length of first and last names on profile update.
const MinNameLength = 2

// Role is the authorization role of an account.
type Role string

// Roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Provider identifies an external OAuth identity provider.
type Provider string

// Supported providers.
const (
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderGoogle, ProviderGitHub}

// ParseProvider returns the provider named s (case-insensitive).
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", oops.Code("OAUTH_UNSUPPORTED_PROVIDER").
		With("provider", s).
		Wrapf(ErrInvalidInput, "unsupported provider %q", s)
}

// OAuthLinks records which providers are linked to an account.
type OAuthLinks struct {
	Google bool
	GitHub bool
}

// Has reports whether p is linked.
func (l OAuthLinks) Has(p Provider) bool {
	switch p {
	case ProviderGoogle:
		return l.Google
	case ProviderGitHub:
		return l.GitHub
	default:
		return false
	}
}

// With returns a copy of l with p linked.
func (l OAuthLinks) With(p Provider) OAuthLinks {
	switch p {
	case ProviderGoogle:
		l.Google = true
	case ProviderGitHub:
		l.GitHub = true
	}
	return l
}

// Any reports whether at least one provider is linked.
func (l OAuthLinks) Any() bool {
	return l.Google || l.GitHub
}

// User is an account identity record.
type User struct {
	ID                 ulid.ULID
	Email              string
	PasswordHash       string // empty for OAuth-only accounts
	FirstName          string
	LastName           string
	Role               Role
	EmailVerified      bool
	SignupToken        string // empty once verified
	ResetPasswordToken string // empty unless a reset is pending
	OAuth              OAuthLinks
	LastRequestAt      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// UserFilter selects a single account. Email matches case-insensitively;
// tokens match exactly. ExcludeID removes one account from consideration.
type UserFilter struct {
	ID                 ulid.ULID
	Email              string
	SignupToken        string
	ResetPasswordToken string
	ExcludeID          ulid.ULID
}

// IsEmpty reports whether no selecting criteria are set. ExcludeID alone
// does not select anything.
func (f UserFilter) IsEmpty() bool {
	return isZeroULID(f.ID) && f.Email == "" && f.SignupToken == "" && f.ResetPasswordToken == ""
}

// UserPatch is a partial update applied atomically. Nil pointers leave a
// column unchanged; a pointer to "" clears a token column. Verification and
// provider linkage can only be switched on.
type UserPatch struct {
	Email              *string
	FirstName          *string
	LastName           *string
	PasswordHash       *string
	SignupToken        *string
	ResetPasswordToken *string
	MarkVerified       bool
	LinkProvider       Provider
	LastRequestAt      *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p UserPatch) IsEmpty() bool {
	return p.Email == nil && p.FirstName == nil && p.LastName == nil &&
		p.PasswordHash == nil && p.SignupToken == nil && p.ResetPasswordToken == nil &&
		!p.MarkVerified && p.LinkProvider == "" && p.LastRequestAt == nil
}

// Apply returns a copy of u with the patch applied. Repositories that cannot
// express the patch in a single statement use it to compute the new row.
func (p UserPatch) Apply(u User, now time.Time) User {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.SignupToken != nil {
		u.SignupToken = *p.SignupToken
	}
	if p.ResetPasswordToken != nil {
		u.ResetPasswordToken = *p.ResetPasswordToken
	}
	if p.MarkVerified {
		u.EmailVerified = true
	}
	if p.LinkProvider != "" {
		u.OAuth = u.OAuth.With(p.LinkProvider)
	}
	if p.LastRequestAt != nil {
		t := *p.LastRequestAt
		u.LastRequestAt = &t
	}
	u.UpdatedAt = now
	return u
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Insert stores a new account. A duplicate email or token returns an
	// error wrapping ErrConflict.
	Insert(ctx context.Context, user *User) error

	// FindOne returns the account matching filter, or ErrNotFound.
	FindOne(ctx context.Context, filter UserFilter) (*User, error)

	// UpdateFields applies patch to the account with the given ID in one
	// statement. Returns ErrNotFound if no such account exists and
	// ErrConflict on a uniqueness violation.
	UpdateFields(ctx context.Context, id ulid.ULID, patch UserPatch) error
}

// NormalizeEmail trims whitespace and validates the address syntax. Case is
// preserved; comparisons are case-insensitive.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", oops.Code("ACCOUNT_INVALID_EMAIL").Wrapf(ErrInvalidInput, "email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", oops.Code("ACCOUNT_INVALID_EMAIL").
			With("email", trimmed).
			Wrapf(ErrInvalidInput, "invalid email address")
	}
	return trimmed, nil
}

// EmailDomain returns the lower-cased domain part of an address.
func EmailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

func validateName(field, value string) error {
	if utf8.RuneCountInString(strings.TrimSpace(value)) < MinNameLength {
		return oops.Code("ACCOUNT_INVALID_NAME").
			With("field", field).
			Wrapf(ErrInvalidInput, "%s must be at least %d characters", field, MinNameLength)
	}
	return nil
}

func stringPtr(s string) *string {
	return &s
}
